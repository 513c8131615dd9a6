package livetrack

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/ayamte/chronogaz-tracking/internal/broker/messages"
	"github.com/ayamte/chronogaz-tracking/internal/models"
)

const serviceOrigin = "chrono-tracker"

type Repository interface {
	GetLivraisonByID(ctx context.Context, id string) (*models.Livraison, bool, error)
	GetLivraisonByPlanificationID(ctx context.Context, planificationID string) (*models.Livraison, bool, error)
	CreateLivraison(ctx context.Context, planificationID string) (*models.Livraison, error)
	UpdateLivraisonPosition(ctx context.Context, id string, lat, lng float64, at time.Time, onlyIfNewer bool) (bool, error)
	SetLivraisonStatus(ctx context.Context, id string, statut string) (bool, error)
	GetPlanificationByID(ctx context.Context, id string) (*models.Planification, bool, error)
	GetPlanificationChain(ctx context.Context, planificationID string) (*models.Planification, *models.Commande, *models.Adresse, bool, error)
}

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Producer interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// PositionSnapshot is what ingest resolves out of a report: the livraison
// plus its planification id, both needed for the dual-key broadcast.
type PositionSnapshot struct {
	LivraisonID     string
	PlanificationID string
	Latitude        float64
	Longitude       float64
	Timestamp       time.Time
}

type Service struct {
	repo        Repository
	registry    *Registry
	broadcaster *Broadcaster

	cache       BytesCache
	snapshotTTL time.Duration

	producer      Producer
	positionTopic string
	statusTopic   string

	rl         RateLimiter
	ratePerMin int64

	rejectStale    bool
	terminalKeyTTL time.Duration
}

func New(repo Repository, reg *Registry) *Service {
	return &Service{
		repo:           repo,
		registry:       reg,
		broadcaster:    NewBroadcaster(reg),
		terminalKeyTTL: 5 * time.Minute,
	}
}

func (s *Service) WithCache(c BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.snapshotTTL = ttl
	return s
}

func (s *Service) WithProducer(p Producer, positionTopic, statusTopic string) *Service {
	s.producer = p
	s.positionTopic = positionTopic
	s.statusTopic = statusTopic
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int64) *Service {
	if perMinute > 0 {
		s.rl = rl
		s.ratePerMin = perMinute
	}
	return s
}

func (s *Service) WithStaleGuard(enabled bool) *Service {
	s.rejectStale = enabled
	return s
}

func (s *Service) WithTerminalKeyTTL(d time.Duration) *Service {
	if d > 0 {
		s.terminalKeyTTL = d
	}
	return s
}

func (s *Service) Registry() *Registry       { return s.registry }
func (s *Service) Broadcaster() *Broadcaster { return s.broadcaster }

// ReportPosition validates and persists one driver position report, then
// fans the update out under both tracking keys. An error here concerns only
// the reporting session; concurrent deliveries are unaffected.
func (s *Service) ReportPosition(ctx context.Context, rep messages.PositionReport) (PositionSnapshot, error) {
	if rep.Latitude < -90 || rep.Latitude > 90 || rep.Longitude < -180 || rep.Longitude > 180 {
		return PositionSnapshot{}, ErrInvalidPosition
	}
	if rep.TrackingKey == "" {
		return PositionSnapshot{}, ErrNotFound
	}

	liv, err := s.resolveLivraison(ctx, rep.TrackingKey)
	if err != nil {
		return PositionSnapshot{}, err
	}

	if s.rl != nil {
		// Keyed on the resolved livraison: the planification id and the
		// livraison id must share one budget across the id hand-off.
		allowed, _, err := s.rl.Allow(ctx, "pos:rate:"+liv.ID, s.ratePerMin, time.Minute)
		if err != nil {
			// Rate limiting is advisory; a broken limiter must not stop
			// position flow.
			slog.Warn("position rate limiter unavailable", "err", err)
		} else if !allowed {
			return PositionSnapshot{}, ErrRateLimited
		}
	}

	at := rep.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	applied, err := s.repo.UpdateLivraisonPosition(ctx, liv.ID, rep.Latitude, rep.Longitude, at, s.rejectStale)
	if err != nil {
		return PositionSnapshot{}, err
	}
	if !applied {
		return PositionSnapshot{}, ErrStaleReport
	}

	snap := PositionSnapshot{
		LivraisonID:     liv.ID,
		PlanificationID: liv.PlanificationID,
		Latitude:        rep.Latitude,
		Longitude:       rep.Longitude,
		Timestamp:       at,
	}

	s.refreshSnapshotCache(ctx, liv.ID)

	upd := messages.PositionUpdated{
		LivraisonID:     snap.LivraisonID,
		PlanificationID: snap.PlanificationID,
		Latitude:        snap.Latitude,
		Longitude:       snap.Longitude,
		Timestamp:       snap.Timestamp,
	}
	if s.producer != nil && s.positionTopic != "" {
		if err := s.producer.PublishJSON(ctx, s.positionTopic, snap.LivraisonID, upd); err != nil {
			slog.Warn("publish position update", "livraison_id", snap.LivraisonID, "err", err)
		}
	}
	s.broadcaster.BroadcastPosition(upd)

	return snap, nil
}

// StartDelivery lazily creates the livraison for a planification and tells
// planification-key subscribers about the new id through a status event.
func (s *Service) StartDelivery(ctx context.Context, planificationID string) (*models.Livraison, error) {
	planif, found, err := s.repo.GetPlanificationByID(ctx, planificationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if planif.Statut == models.PlanningStatusAnnule {
		return nil, ErrPlanningCancelled
	}

	liv, err := s.repo.CreateLivraison(ctx, planificationID)
	if err != nil {
		return nil, errors.Wrap(err, "create livraison")
	}

	s.emitStatus(ctx, messages.StatusUpdated{
		CommandeID:      planif.CommandeID,
		PlanificationID: planif.ID,
		LivraisonID:     liv.ID,
		Entite:          messages.EntityLivraison,
		Statut:          liv.Statut,
		Timestamp:       time.Now().UTC(),
	})
	return liv, nil
}

// ChangeStatus moves the livraison behind a tracking key to a new status.
// The transition out of EN_COURS is one-way; a second attempt fails with
// ErrTerminalStatus.
func (s *Service) ChangeStatus(ctx context.Context, ch messages.StatusChange) (messages.StatusUpdated, error) {
	if !models.IsValidDeliveryStatus(ch.Statut) {
		return messages.StatusUpdated{}, ErrInvalidStatus
	}

	liv, err := s.resolveLivraison(ctx, ch.TrackingKey)
	if err != nil {
		return messages.StatusUpdated{}, err
	}

	if ch.Statut != liv.Statut {
		applied, err := s.repo.SetLivraisonStatus(ctx, liv.ID, ch.Statut)
		if err != nil {
			return messages.StatusUpdated{}, err
		}
		if !applied {
			return messages.StatusUpdated{}, ErrTerminalStatus
		}
	}

	planif, found, err := s.repo.GetPlanificationByID(ctx, liv.PlanificationID)
	if err != nil {
		return messages.StatusUpdated{}, err
	}
	if !found {
		slog.Warn("livraison references missing planification", "livraison_id", liv.ID, "planification_id", liv.PlanificationID)
		return messages.StatusUpdated{}, ErrIncompleteChain
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, snapshotKey(liv.ID))
	}

	upd := messages.StatusUpdated{
		CommandeID:      planif.CommandeID,
		PlanificationID: planif.ID,
		LivraisonID:     liv.ID,
		Entite:          messages.EntityLivraison,
		Statut:          ch.Statut,
		Timestamp:       time.Now().UTC(),
	}
	s.emitStatus(ctx, upd)

	if models.IsTerminalDeliveryStatus(ch.Statut) {
		s.registry.ExpireAfter(liv.ID, s.terminalKeyTTL)
		s.registry.ExpireAfter(liv.PlanificationID, s.terminalKeyTTL)
	}
	return upd, nil
}

// ApplyStatusChanged handles a status event from the broker: order and
// planning transitions happen in the CRUD platform, which owns those rows,
// so nothing is persisted here; the event is only fanned out. Messages this
// service published itself are skipped to avoid a double broadcast.
func (s *Service) ApplyStatusChanged(ctx context.Context, msg messages.StatusChanged) error {
	if msg.Origine == serviceOrigin {
		return nil
	}
	if msg.Statut == "" {
		return errors.New("statut is required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if msg.LivraisonID != "" && s.cache != nil {
		_ = s.cache.Delete(ctx, snapshotKey(msg.LivraisonID))
	}

	s.broadcaster.BroadcastStatus(messages.StatusUpdated{
		CommandeID:      msg.CommandeID,
		PlanificationID: msg.PlanificationID,
		LivraisonID:     msg.LivraisonID,
		Entite:          msg.Entite,
		Statut:          msg.Statut,
		Timestamp:       msg.Timestamp,
	})

	if msg.Entite == messages.EntityLivraison && models.IsTerminalDeliveryStatus(msg.Statut) {
		if msg.LivraisonID != "" {
			s.registry.ExpireAfter(msg.LivraisonID, s.terminalKeyTTL)
		}
		if msg.PlanificationID != "" {
			s.registry.ExpireAfter(msg.PlanificationID, s.terminalKeyTTL)
		}
	}
	return nil
}

func (s *Service) emitStatus(ctx context.Context, upd messages.StatusUpdated) {
	if s.producer != nil && s.statusTopic != "" {
		msg := messages.StatusChanged{
			CommandeID:      upd.CommandeID,
			PlanificationID: upd.PlanificationID,
			LivraisonID:     upd.LivraisonID,
			Entite:          messages.EntityLivraison,
			Statut:          upd.Statut,
			Timestamp:       upd.Timestamp,
			Origine:         serviceOrigin,
		}
		if err := s.producer.PublishJSON(ctx, s.statusTopic, upd.LivraisonID, msg); err != nil {
			slog.Warn("publish status change", "livraison_id", upd.LivraisonID, "err", err)
		}
	}
	s.broadcaster.BroadcastStatus(upd)
}

// resolveLivraison accepts either a livraison id or the planification id a
// driver app may still hold before it learns the livraison id.
func (s *Service) resolveLivraison(ctx context.Context, trackingKey string) (*models.Livraison, error) {
	liv, found, err := s.repo.GetLivraisonByID(ctx, trackingKey)
	if err != nil {
		return nil, err
	}
	if found {
		return liv, nil
	}

	liv, found, err = s.repo.GetLivraisonByPlanificationID(ctx, trackingKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return liv, nil
}
