package pgdelivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/ayamte/chronogaz-tracking/internal/models"
)

func (s *Storage) GetLivraisonByID(ctx context.Context, id string) (*models.Livraison, bool, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, planification_id, statut, derniere_latitude, derniere_longitude, position_at, created_at, updated_at
FROM livraisons
WHERE id = $1
`, id)

	l, err := scanLivraison(row)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select livraison")
	}
	return l, true, nil
}

// GetLivraisonByPlanificationID follows the planification -> livraison
// reference, preferring the active livraison when a cancelled one exists for
// the same planification.
func (s *Storage) GetLivraisonByPlanificationID(ctx context.Context, planificationID string) (*models.Livraison, bool, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, planification_id, statut, derniere_latitude, derniere_longitude, position_at, created_at, updated_at
FROM livraisons
WHERE planification_id = $1
ORDER BY (statut = 'EN_COURS') DESC, created_at DESC
LIMIT 1
`, planificationID)

	l, err := scanLivraison(row)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select livraison by planification")
	}
	return l, true, nil
}

// CreateLivraison lazily creates the execution record for a planification.
// Returns the existing active livraison when one is already running; the
// partial unique index keeps concurrent starts from creating two.
func (s *Storage) CreateLivraison(ctx context.Context, planificationID string) (*models.Livraison, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
SELECT id, planification_id, statut, derniere_latitude, derniere_longitude, position_at, created_at, updated_at
FROM livraisons
WHERE planification_id = $1 AND statut = 'EN_COURS'
`, planificationID)
	existing, err := scanLivraison(row)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, errors.Wrap(err, "commit tx")
		}
		return existing, nil
	}
	if err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, "select active livraison")
	}

	id := uuid.NewString()
	row = tx.QueryRow(ctx, `
INSERT INTO livraisons (id, planification_id, statut)
VALUES ($1, $2, $3)
RETURNING id, planification_id, statut, derniere_latitude, derniere_longitude, position_at, created_at, updated_at
`, id, planificationID, models.DeliveryStatusEnCours)
	created, err := scanLivraison(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert livraison")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return created, nil
}

// UpdateLivraisonPosition folds a position report into the livraison.
// With onlyIfNewer the write is rejected when a newer report was already
// applied; otherwise it is last-write-wins by arrival.
func (s *Storage) UpdateLivraisonPosition(ctx context.Context, id string, lat, lng float64, at time.Time, onlyIfNewer bool) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE livraisons
SET derniere_latitude = $2, derniere_longitude = $3, position_at = $4, updated_at = now()
WHERE id = $1
  AND ($5 = false OR position_at IS NULL OR position_at <= $4)
`, id, lat, lng, at.UTC(), onlyIfNewer)
	if err != nil {
		return false, errors.Wrap(err, "update livraison position")
	}
	return tag.RowsAffected() == 1, nil
}

// SetLivraisonStatus applies the one-way lifecycle: only an EN_COURS
// livraison can move, so a second terminal transition is a no-op reported as
// not applied.
func (s *Storage) SetLivraisonStatus(ctx context.Context, id string, statut string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE livraisons
SET statut = $2, updated_at = now()
WHERE id = $1 AND statut = $3
`, id, statut, models.DeliveryStatusEnCours)
	if err != nil {
		return false, errors.Wrap(err, "update livraison statut")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) GetPlanificationByID(ctx context.Context, id string) (*models.Planification, bool, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, commande_id, livreur_nom, camion_immatriculation, statut, created_at, updated_at
FROM planifications
WHERE id = $1
`, id)

	var p models.Planification
	err := row.Scan(&p.ID, &p.CommandeID, &p.LivreurNom, &p.CamionImmatriculation, &p.Statut, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select planification")
	}
	return &p, true, nil
}

// GetPlanificationChain loads planification -> commande -> adresse in one
// round trip for the snapshot service.
func (s *Storage) GetPlanificationChain(ctx context.Context, planificationID string) (*models.Planification, *models.Commande, *models.Adresse, bool, error) {
	row := s.db.QueryRow(ctx, `
SELECT
  p.id, p.commande_id, p.livreur_nom, p.camion_immatriculation, p.statut, p.created_at, p.updated_at,
  c.id, c.statut, c.adresse_id, c.created_at, c.updated_at,
  a.id, a.rue, a.ville, a.latitude, a.longitude
FROM planifications p
JOIN commandes c ON c.id = p.commande_id
JOIN adresses a ON a.id = c.adresse_id
WHERE p.id = $1
`, planificationID)

	var p models.Planification
	var c models.Commande
	var a models.Adresse
	err := row.Scan(
		&p.ID, &p.CommandeID, &p.LivreurNom, &p.CamionImmatriculation, &p.Statut, &p.CreatedAt, &p.UpdatedAt,
		&c.ID, &c.Statut, &c.AdresseID, &c.CreatedAt, &c.UpdatedAt,
		&a.ID, &a.Rue, &a.Ville, &a.Latitude, &a.Longitude,
	)
	if err == pgx.ErrNoRows {
		return nil, nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, nil, false, errors.Wrap(err, "select planification chain")
	}
	return &p, &c, &a, true, nil
}

func scanLivraison(row pgx.Row) (*models.Livraison, error) {
	var l models.Livraison
	err := row.Scan(
		&l.ID, &l.PlanificationID, &l.Statut,
		&l.DerniereLatitude, &l.DerniereLongitude, &l.PositionAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
