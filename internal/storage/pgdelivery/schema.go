package pgdelivery

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS adresses (
  id TEXT PRIMARY KEY,
  rue TEXT NOT NULL DEFAULT '',
  ville TEXT NOT NULL DEFAULT '',
  latitude DOUBLE PRECISION NOT NULL,
  longitude DOUBLE PRECISION NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS commandes (
  id TEXT PRIMARY KEY,
  statut TEXT NOT NULL,
  adresse_id TEXT NOT NULL REFERENCES adresses(id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS planifications (
  id TEXT PRIMARY KEY,
  commande_id TEXT NOT NULL REFERENCES commandes(id),
  livreur_nom TEXT NOT NULL DEFAULT '',
  camion_immatriculation TEXT NOT NULL DEFAULT '',
  statut TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS livraisons (
  id TEXT PRIMARY KEY,
  planification_id TEXT NOT NULL REFERENCES planifications(id),
  statut TEXT NOT NULL,
  derniere_latitude DOUBLE PRECISION NULL,
  derniere_longitude DOUBLE PRECISION NULL,
  position_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_livraisons_planification_id ON livraisons(planification_id)`,
		// At most one active livraison per planification.
		`
CREATE UNIQUE INDEX IF NOT EXISTS uq_livraisons_active_per_planification
ON livraisons(planification_id)
WHERE statut = 'EN_COURS'
`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
