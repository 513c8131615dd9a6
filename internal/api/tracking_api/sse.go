package tracking_api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ayamte/chronogaz-tracking/internal/broker/messages"
	"github.com/ayamte/chronogaz-tracking/internal/services/livetrack"
)

const (
	sseBufferSize = 32
	sseHeartbeat  = 15 * time.Second
)

// sseSession adapts one event-stream connection to the registry. Send never
// blocks: a client that cannot keep up loses events and resyncs from the
// snapshot endpoint, which is always authoritative.
type sseSession struct {
	id string
	ch chan messages.Event
}

func newSSESession() *sseSession {
	return &sseSession{id: uuid.NewString(), ch: make(chan messages.Event, sseBufferSize)}
}

func (s *sseSession) ID() string { return s.id }

func (s *sseSession) Send(ev messages.Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

func (a *TrackingAPI) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	key := chi.URLParam(r, "trackingKey")
	role := livetrack.RoleCustomer
	if r.URL.Query().Get("role") == "livreur" {
		role = livetrack.RoleLivreur
	}

	sess := newSSESession()
	a.svc.Registry().Subscribe(key, sess, role)
	defer a.svc.Registry().Unsubscribe(sess)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sess.ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, ev.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
