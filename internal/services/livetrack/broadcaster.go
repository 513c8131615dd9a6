package livetrack

import (
	"log/slog"

	"github.com/ayamte/chronogaz-tracking/internal/broker/messages"
)

// Broadcaster fans one event out to the union of subscriber sets under
// several tracking keys. The union bridges the id hand-off: a customer who
// subscribed with the planification id before the livraison existed keeps
// receiving events keyed by the livraison id without re-subscribing.
type Broadcaster struct {
	reg *Registry
}

func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg}
}

func (b *Broadcaster) BroadcastPosition(upd messages.PositionUpdated) int {
	ev, err := messages.NewEvent(messages.KindPositionUpdated, upd)
	if err != nil {
		slog.Error("encode position event", "err", err)
		return 0
	}
	return b.fanOut(ev, upd.LivraisonID, upd.PlanificationID)
}

func (b *Broadcaster) BroadcastStatus(upd messages.StatusUpdated) int {
	ev, err := messages.NewEvent(messages.KindStatusUpdated, upd)
	if err != nil {
		slog.Error("encode status event", "err", err)
		return 0
	}
	return b.fanOut(ev, upd.CommandeID, upd.PlanificationID, upd.LivraisonID)
}

// fanOut delivers ev exactly once per session even when a session is
// subscribed under several of the keys. The subscriber sets are snapshots,
// so an unsubscribe mid-loop cannot break the iteration.
func (b *Broadcaster) fanOut(ev messages.Event, keys ...string) int {
	seen := make(map[string]struct{})
	n := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		for _, sess := range b.reg.SubscribersOf(key) {
			if _, dup := seen[sess.ID()]; dup {
				continue
			}
			seen[sess.ID()] = struct{}{}
			sess.Send(ev)
			n++
		}
	}
	return n
}
