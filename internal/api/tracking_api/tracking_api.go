package tracking_api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/ayamte/chronogaz-tracking/internal/broker/messages"
	"github.com/ayamte/chronogaz-tracking/internal/services/livetrack"
)

type TrackingAPI struct {
	svc *livetrack.Service
}

func New(svc *livetrack.Service) *TrackingAPI {
	return &TrackingAPI{svc: svc}
}

// Routes mounts the tracking surface on r. Reads and the event stream are
// meant for customer and back-office screens, the POSTs for driver devices.
func (a *TrackingAPI) Routes(r chi.Router) {
	r.Get("/tracking/{livraisonID}", a.getSnapshot)
	r.Get("/tracking/{trackingKey}/events", a.streamEvents)
	r.Post("/tracking/positions", a.reportPosition)
	r.Post("/tracking/status", a.changeStatus)
	r.Post("/tracking/plannings/{planificationID}/start", a.startDelivery)
}

func (a *TrackingAPI) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.GetSnapshot(r.Context(), chi.URLParam(r, "livraisonID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *TrackingAPI) reportPosition(w http.ResponseWriter, r *http.Request) {
	var rep messages.PositionReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeJSON(w, http.StatusBadRequest, messages.PositionError{Reason: "invalid json"})
		return
	}

	snap, err := a.svc.ReportPosition(r.Context(), rep)
	if errors.Is(err, livetrack.ErrStaleReport) {
		// Out-of-order reports are normal on flaky mobile networks: the
		// device should not retry, so this is not an error status.
		writeJSON(w, http.StatusAccepted, map[string]any{"applied": false, "reason": "stale_report"})
		return
	}
	if err != nil {
		writeError(w, errWithKey{err, rep.TrackingKey})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"applied":          true,
		"livraison_id":     snap.LivraisonID,
		"planification_id": snap.PlanificationID,
		"timestamp":        snap.Timestamp,
	})
}

func (a *TrackingAPI) changeStatus(w http.ResponseWriter, r *http.Request) {
	var ch messages.StatusChange
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		writeJSON(w, http.StatusBadRequest, messages.PositionError{Reason: "invalid json"})
		return
	}

	upd, err := a.svc.ChangeStatus(r.Context(), ch)
	if err != nil {
		writeError(w, errWithKey{err, ch.TrackingKey})
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func (a *TrackingAPI) startDelivery(w http.ResponseWriter, r *http.Request) {
	planificationID := chi.URLParam(r, "planificationID")
	liv, err := a.svc.StartDelivery(r.Context(), planificationID)
	if err != nil {
		writeError(w, errWithKey{err, planificationID})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"livraison_id":     liv.ID,
		"planification_id": liv.PlanificationID,
		"statut_livraison": liv.Statut,
	})
}

// errWithKey carries the tracking key into the error body without losing
// the sentinel for status mapping.
type errWithKey struct {
	err error
	key string
}

func (e errWithKey) Error() string { return e.err.Error() }
func (e errWithKey) Unwrap() error { return e.err }

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, livetrack.ErrNotFound), errors.Is(err, livetrack.ErrIncompleteChain):
		status = http.StatusNotFound
	case errors.Is(err, livetrack.ErrInvalidPosition), errors.Is(err, livetrack.ErrInvalidStatus):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, livetrack.ErrTerminalStatus), errors.Is(err, livetrack.ErrPlanningCancelled):
		status = http.StatusConflict
	case errors.Is(err, livetrack.ErrRateLimited):
		status = http.StatusTooManyRequests
	}

	body := messages.PositionError{Reason: err.Error()}
	var ek errWithKey
	if errors.As(err, &ek) {
		body.TrackingKey = ek.key
		body.Reason = ek.err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
