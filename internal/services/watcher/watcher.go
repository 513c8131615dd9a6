package watcher

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ayamte/chronogaz-tracking/internal/broker/messages"
	"github.com/ayamte/chronogaz-tracking/internal/models"
	"github.com/ayamte/chronogaz-tracking/internal/services/livetrack"
)

const (
	// DefaultMovementThreshold is the per-axis degree delta below which a
	// position change counts as GPS jitter, roughly ten meters.
	DefaultMovementThreshold = 1e-4

	DefaultRouteDebounce = 500 * time.Millisecond
)

// RouteFunc recomputes the route estimate from the driver's position to the
// destination. It runs on the watcher goroutine, so it should hand slow work
// off rather than block.
type RouteFunc func(from models.Position, to models.Adresse)

type Config struct {
	// MovementThreshold is the per-axis degree delta a position must move
	// before it is accepted. Zero means the default.
	MovementThreshold float64
	// RouteDebounce is how long to coalesce movements before recomputing.
	// Zero means the default.
	RouteDebounce time.Duration
	// Recompute is called after debounce with the latest position. Optional.
	Recompute RouteFunc
	// Unsubscribe detaches the event feed. Called once, when the phase
	// turns terminal or the watcher is closed. Optional.
	Unsubscribe func()
}

// State is a point-in-time copy of what a tracking screen should show.
type State struct {
	LivraisonID     string
	PlanificationID string
	Phase           Phase
	Livreur         string
	Destination     models.Adresse
	Position        *models.Position
}

// Watcher reconciles a stream of tracking events into screen state. Events
// and the initial snapshot are applied by one goroutine in arrival order;
// State can be read from any goroutine.
type Watcher struct {
	threshold float64
	debounce  time.Duration
	recompute RouteFunc

	unsubOnce   sync.Once
	unsubscribe func()

	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once
	timer     *time.Timer

	mu                  sync.RWMutex
	livraisonID         string
	planificationID     string
	livreur             string
	destination         models.Adresse
	position            *models.Position
	statutCommande      string
	statutLivraison     string
	statutPlanification string
	phase               Phase

	routePending bool
}

func New(cfg Config) *Watcher {
	w := &Watcher{
		threshold:   cfg.MovementThreshold,
		debounce:    cfg.RouteDebounce,
		recompute:   cfg.Recompute,
		unsubscribe: cfg.Unsubscribe,
		cmds:        make(chan func(), 64),
		done:        make(chan struct{}),
		phase:       PhaseEnAttente,
	}
	if w.threshold <= 0 {
		w.threshold = DefaultMovementThreshold
	}
	if w.debounce <= 0 {
		w.debounce = DefaultRouteDebounce
	}
	w.timer = time.NewTimer(time.Hour)
	if !w.timer.Stop() {
		<-w.timer.C
	}
	go w.run()
	return w
}

func (w *Watcher) run() {
	for {
		select {
		case fn := <-w.cmds:
			fn()
		case <-w.timer.C:
			w.fireRoute()
		case <-w.done:
			w.timer.Stop()
			return
		}
	}
}

// ApplySnapshot seeds the watcher from the initial-load snapshot. Events
// already queued behind it re-apply on top, which is safe: positions are
// absolute and status transitions one-way.
func (w *Watcher) ApplySnapshot(snap *livetrack.TrackingSnapshot) bool {
	return w.enqueue(func() {
		w.mu.Lock()
		w.livraisonID = snap.LivraisonID
		w.planificationID = snap.PlanificationID
		w.livreur = snap.Livreur
		w.destination = snap.Destination
		if snap.DernierePosition != nil {
			p := *snap.DernierePosition
			w.position = &p
		}
		w.statutCommande = snap.StatutCommande
		w.statutLivraison = snap.StatutLivraison
		w.statutPlanification = snap.StatutPlanification
		w.phase = ReducePhase(w.statutCommande, w.statutLivraison, w.statutPlanification)
		finished := w.finished()
		w.mu.Unlock()
		if finished {
			w.detach()
		}
	})
}

// Offer dispatches one push event by kind. Unknown kinds are ignored so the
// feed can grow without breaking older clients.
func (w *Watcher) Offer(ev messages.Event) error {
	switch ev.Kind {
	case messages.KindPositionUpdated:
		var upd messages.PositionUpdated
		if err := json.Unmarshal(ev.Payload, &upd); err != nil {
			return errors.Wrap(err, "decode position event")
		}
		w.OfferPosition(upd)
	case messages.KindStatusUpdated:
		var upd messages.StatusUpdated
		if err := json.Unmarshal(ev.Payload, &upd); err != nil {
			return errors.Wrap(err, "decode status event")
		}
		w.OfferStatus(upd)
	}
	return nil
}

func (w *Watcher) OfferPosition(upd messages.PositionUpdated) bool {
	return w.enqueue(func() { w.applyPosition(upd) })
}

func (w *Watcher) OfferStatus(upd messages.StatusUpdated) bool {
	return w.enqueue(func() { w.applyStatus(upd) })
}

func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := State{
		LivraisonID:     w.livraisonID,
		PlanificationID: w.planificationID,
		Phase:           w.phase,
		Livreur:         w.livreur,
		Destination:     w.destination,
	}
	if w.position != nil {
		p := *w.position
		st.Position = &p
	}
	return st
}

// Close stops the loop and detaches the feed. Safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() { close(w.done) })
	w.detach()
}

func (w *Watcher) enqueue(fn func()) bool {
	select {
	case w.cmds <- fn:
		return true
	case <-w.done:
		return false
	}
}

// finished reports whether tracking is over: the reduced phase is terminal,
// or the livraison itself finished even though the commande has not closed
// yet. Callers hold w.mu.
func (w *Watcher) finished() bool {
	return w.phase.Terminal() || models.IsTerminalDeliveryStatus(w.statutLivraison)
}

func (w *Watcher) applyPosition(upd messages.PositionUpdated) {
	w.mu.Lock()
	if w.finished() {
		w.mu.Unlock()
		return
	}
	if upd.LivraisonID != "" {
		w.livraisonID = upd.LivraisonID
	}

	// GPS jitter below the threshold is dropped entirely: no re-render, no
	// route recomputation. The first fix is always accepted.
	if w.position != nil &&
		math.Abs(upd.Latitude-w.position.Latitude) < w.threshold &&
		math.Abs(upd.Longitude-w.position.Longitude) < w.threshold {
		w.mu.Unlock()
		return
	}

	w.position = &models.Position{
		Latitude:  upd.Latitude,
		Longitude: upd.Longitude,
		Timestamp: upd.Timestamp,
	}
	w.mu.Unlock()

	w.routePending = true
	w.timer.Reset(w.debounce)
}

func (w *Watcher) applyStatus(upd messages.StatusUpdated) {
	w.mu.Lock()
	if upd.LivraisonID != "" {
		w.livraisonID = upd.LivraisonID
	}
	if upd.PlanificationID != "" {
		w.planificationID = upd.PlanificationID
	}
	switch upd.Entite {
	case messages.EntityCommande:
		w.statutCommande = upd.Statut
	case messages.EntityPlanification:
		w.statutPlanification = upd.Statut
	case messages.EntityLivraison:
		w.statutLivraison = upd.Statut
	default:
		w.mu.Unlock()
		return
	}
	w.phase = ReducePhase(w.statutCommande, w.statutLivraison, w.statutPlanification)
	finished := w.finished()
	w.mu.Unlock()

	if finished {
		// No more positions are coming; drop any pending recomputation.
		w.routePending = false
		w.timer.Stop()
		w.detach()
	}
}

func (w *Watcher) fireRoute() {
	if !w.routePending {
		return
	}
	w.routePending = false

	w.mu.RLock()
	finished := w.finished()
	var from *models.Position
	if w.position != nil {
		p := *w.position
		from = &p
	}
	to := w.destination
	w.mu.RUnlock()

	if finished || from == nil || w.recompute == nil {
		return
	}
	w.recompute(*from, to)
}

func (w *Watcher) detach() {
	if w.unsubscribe == nil {
		return
	}
	w.unsubOnce.Do(w.unsubscribe)
}
