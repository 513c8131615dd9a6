package pgdelivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ayamte/chronogaz-tracking/internal/models"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "chronogaz_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/chronogaz_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func seedChain(t *testing.T, st *Storage, planificationID string) {
	t.Helper()
	ctx := context.Background()

	_, err := st.db.Exec(ctx, `INSERT INTO adresses (id, rue, ville, latitude, longitude) VALUES ('adr-1', '12 rue des Lilas', 'Casablanca', 33.5731, -7.5898)`)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `INSERT INTO commandes (id, statut, adresse_id) VALUES ('cmd-1', 'CONFIRMEE', 'adr-1')`)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `INSERT INTO planifications (id, commande_id, livreur_nom, camion_immatriculation, statut) VALUES ($1, 'cmd-1', 'Hassan', 'A-1234-56', 'PLANIFIE')`, planificationID)
	require.NoError(t, err)
}

func TestPGDelivery_RepoFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("docker-backed test")
	}
	ctx := context.Background()
	st := startPostgres(t)
	seedChain(t, st, "plan-1")

	// Lazy creation is idempotent while the livraison stays active.
	liv, err := st.CreateLivraison(ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryStatusEnCours, liv.Statut)
	require.Nil(t, liv.LastPosition())

	again, err := st.CreateLivraison(ctx, "plan-1")
	require.NoError(t, err)
	require.Equal(t, liv.ID, again.ID)

	// Resolution by planification id follows the reference.
	byPlan, found, err := st.GetLivraisonByPlanificationID(ctx, "plan-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, liv.ID, byPlan.ID)

	_, found, err = st.GetLivraisonByID(ctx, "does-not-exist")
	require.NoError(t, err)
	require.False(t, found)

	// Position writes: last-write-wins by arrival unless onlyIfNewer.
	now := time.Now().UTC().Truncate(time.Millisecond)
	applied, err := st.UpdateLivraisonPosition(ctx, liv.ID, 33.58, -7.60, now, false)
	require.NoError(t, err)
	require.True(t, applied)

	stale := now.Add(-time.Minute)
	applied, err = st.UpdateLivraisonPosition(ctx, liv.ID, 33.11, -7.11, stale, true)
	require.NoError(t, err)
	require.False(t, applied, "older report must be rejected with the guard on")

	applied, err = st.UpdateLivraisonPosition(ctx, liv.ID, 33.11, -7.11, stale, false)
	require.NoError(t, err)
	require.True(t, applied, "without the guard arrival order wins")

	got, found, err := st.GetLivraisonByID(ctx, liv.ID)
	require.NoError(t, err)
	require.True(t, found)
	pos := got.LastPosition()
	require.NotNil(t, pos)
	require.InDelta(t, 33.11, pos.Latitude, 1e-9)

	// One-way terminal transition.
	applied, err = st.SetLivraisonStatus(ctx, liv.ID, models.DeliveryStatusLivre)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = st.SetLivraisonStatus(ctx, liv.ID, models.DeliveryStatusEchec)
	require.NoError(t, err)
	require.False(t, applied, "a terminal livraison never transitions again")

	// With no active livraison, a new start creates a fresh record.
	second, err := st.CreateLivraison(ctx, "plan-1")
	require.NoError(t, err)
	require.NotEqual(t, liv.ID, second.ID)
}

func TestPGDelivery_PlanificationChain(t *testing.T) {
	if testing.Short() {
		t.Skip("docker-backed test")
	}
	ctx := context.Background()
	st := startPostgres(t)
	seedChain(t, st, "plan-2")

	p, c, a, found, err := st.GetPlanificationChain(ctx, "plan-2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "cmd-1", p.CommandeID)
	require.Equal(t, "CONFIRMEE", c.Statut)
	require.Equal(t, "Casablanca", a.Ville)
	require.Equal(t, "Hassan", p.LivreurNom)

	_, _, _, found, err = st.GetPlanificationChain(ctx, "plan-missing")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = st.GetPlanificationByID(ctx, "plan-2")
	require.NoError(t, err)
	require.True(t, found)
}
