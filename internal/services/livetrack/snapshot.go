package livetrack

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ayamte/chronogaz-tracking/internal/models"
)

// TrackingSnapshot answers "what is the current state of livraison X". It is
// the initial-load payload and the fallback while no live event has arrived.
// DernierePosition is nil until the first position report: "waiting for
// driver", not an error.
type TrackingSnapshot struct {
	LivraisonID         string           `json:"livraison_id"`
	PlanificationID     string           `json:"planification_id"`
	StatutLivraison     string           `json:"statut_livraison"`
	StatutPlanification string           `json:"statut_planification"`
	StatutCommande      string           `json:"statut_commande"`
	Destination         models.Adresse   `json:"destination"`
	Livreur             string           `json:"livreur"`
	DernierePosition    *models.Position `json:"derniere_position"`
}

// GetSnapshot is a pure read: cache first, then the full chain
// livraison -> planification -> commande -> adresse.
func (s *Service) GetSnapshot(ctx context.Context, livraisonID string) (*TrackingSnapshot, error) {
	if s.cache != nil && s.snapshotTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, snapshotKey(livraisonID)); err == nil && ok {
			var snap TrackingSnapshot
			if json.Unmarshal(b, &snap) == nil {
				return &snap, nil
			}
		}
	}

	snap, err := s.loadSnapshot(ctx, livraisonID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.snapshotTTL > 0 {
		if b, err := json.Marshal(snap); err == nil {
			_ = s.cache.Set(ctx, snapshotKey(livraisonID), b, s.snapshotTTL)
		}
	}
	return snap, nil
}

func (s *Service) loadSnapshot(ctx context.Context, livraisonID string) (*TrackingSnapshot, error) {
	liv, found, err := s.repo.GetLivraisonByID(ctx, livraisonID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	planif, cmd, adresse, found, err := s.repo.GetPlanificationChain(ctx, liv.PlanificationID)
	if err != nil {
		return nil, err
	}
	if !found {
		slog.Warn("livraison references missing planification chain", "livraison_id", liv.ID, "planification_id", liv.PlanificationID)
		return nil, ErrIncompleteChain
	}

	return &TrackingSnapshot{
		LivraisonID:         liv.ID,
		PlanificationID:     planif.ID,
		StatutLivraison:     liv.Statut,
		StatutPlanification: planif.Statut,
		StatutCommande:      cmd.Statut,
		Destination:         *adresse,
		Livreur:             planif.LivreurNom,
		DernierePosition:    liv.LastPosition(),
	}, nil
}

// refreshSnapshotCache re-caches the snapshot after a position write.
// Best effort: the cache is never required to be right, only fresh enough.
func (s *Service) refreshSnapshotCache(ctx context.Context, livraisonID string) {
	if s.cache == nil || s.snapshotTTL <= 0 {
		return
	}
	snap, err := s.loadSnapshot(ctx, livraisonID)
	if err != nil {
		_ = s.cache.Delete(ctx, snapshotKey(livraisonID))
		return
	}
	if b, err := json.Marshal(snap); err == nil {
		_ = s.cache.Set(ctx, snapshotKey(livraisonID), b, s.snapshotTTL)
	}
}

func snapshotKey(livraisonID string) string {
	return "livraison:" + livraisonID + ":snapshot"
}
