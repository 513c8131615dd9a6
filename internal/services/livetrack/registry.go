package livetrack

import (
	"sync"
	"time"

	"github.com/ayamte/chronogaz-tracking/internal/broker/messages"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleLivreur  Role = "livreur"
)

// Session is one connected subscriber. Send must not block: a slow consumer
// drops events rather than stalling the fan-out loop.
type Session interface {
	ID() string
	Send(ev messages.Event)
}

type subscription struct {
	session Session
	role    Role
}

// Registry maps tracking keys (livraison or planification ids) to the
// sessions subscribed under them. Purely in-process: it resets on restart
// and every client re-identifies. Constructed once and injected, never a
// package global.
type Registry struct {
	mu            sync.Mutex
	byKey         map[string]map[string]subscription
	keysBySession map[string]map[string]struct{}
	expiry        map[string]*time.Timer
	closed        bool
}

func NewRegistry() *Registry {
	return &Registry{
		byKey:         make(map[string]map[string]subscription),
		keysBySession: make(map[string]map[string]struct{}),
		expiry:        make(map[string]*time.Timer),
	}
}

// Subscribe is idempotent: re-identifying under the same key replaces the
// previous entry for that session.
func (r *Registry) Subscribe(trackingKey string, sess Session, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	subs, ok := r.byKey[trackingKey]
	if !ok {
		subs = make(map[string]subscription)
		r.byKey[trackingKey] = subs
	}
	subs[sess.ID()] = subscription{session: sess, role: role}

	keys, ok := r.keysBySession[sess.ID()]
	if !ok {
		keys = make(map[string]struct{})
		r.keysBySession[sess.ID()] = keys
	}
	keys[trackingKey] = struct{}{}
}

// Unsubscribe removes the session from every key it was registered under and
// drops key entries whose subscriber set becomes empty.
func (r *Registry) Unsubscribe(sess Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, ok := r.keysBySession[sess.ID()]
	if !ok {
		return
	}
	delete(r.keysBySession, sess.ID())

	for key := range keys {
		subs, ok := r.byKey[key]
		if !ok {
			continue
		}
		delete(subs, sess.ID())
		if len(subs) == 0 {
			delete(r.byKey, key)
		}
	}
}

// SubscribersOf returns a snapshot of the sessions under a key, so callers
// can iterate without holding the lock and without racing unsubscribes.
func (r *Registry) SubscribersOf(trackingKey string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.byKey[trackingKey]
	if !ok {
		return nil
	}
	out := make([]Session, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.session)
	}
	return out
}

// ExpireAfter drops the key's subscriber set after ttl. Used to bound the
// cost of stale planification-key subscriptions once the livraison reached a
// terminal status; a later Subscribe simply rebuilds the set.
func (r *Registry) ExpireAfter(trackingKey string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if prev, ok := r.expiry[trackingKey]; ok {
		prev.Stop()
	}
	r.expiry[trackingKey] = time.AfterFunc(ttl, func() {
		r.dropKey(trackingKey)
	})
}

func (r *Registry) dropKey(trackingKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.expiry, trackingKey)
	subs, ok := r.byKey[trackingKey]
	if !ok {
		return
	}
	delete(r.byKey, trackingKey)
	for sessID := range subs {
		keys, ok := r.keysBySession[sessID]
		if !ok {
			continue
		}
		delete(keys, trackingKey)
		if len(keys) == 0 {
			delete(r.keysBySession, sessID)
		}
	}
}

type RegistryStats struct {
	Keys     int `json:"keys"`
	Sessions int `json:"sessions"`
}

func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegistryStats{Keys: len(r.byKey), Sessions: len(r.keysBySession)}
}

// Close stops pending expiry timers. Subscriptions left behind are dropped
// with the process.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for key, t := range r.expiry {
		t.Stop()
		delete(r.expiry, key)
	}
}
