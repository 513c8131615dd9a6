package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ayamte/chronogaz-tracking/internal/models"
	"github.com/ayamte/chronogaz-tracking/internal/services/livetrack"
)

type fakeRepo struct{}

func (r *fakeRepo) GetLivraisonByID(ctx context.Context, id string) (*models.Livraison, bool, error) {
	return nil, false, nil
}
func (r *fakeRepo) GetLivraisonByPlanificationID(ctx context.Context, planificationID string) (*models.Livraison, bool, error) {
	return nil, false, nil
}
func (r *fakeRepo) CreateLivraison(ctx context.Context, planificationID string) (*models.Livraison, error) {
	return &models.Livraison{ID: "liv-1", PlanificationID: planificationID, Statut: models.DeliveryStatusEnCours}, nil
}
func (r *fakeRepo) UpdateLivraisonPosition(ctx context.Context, id string, lat, lng float64, at time.Time, onlyIfNewer bool) (bool, error) {
	return true, nil
}
func (r *fakeRepo) SetLivraisonStatus(ctx context.Context, id string, statut string) (bool, error) {
	return true, nil
}
func (r *fakeRepo) GetPlanificationByID(ctx context.Context, id string) (*models.Planification, bool, error) {
	return nil, false, nil
}
func (r *fakeRepo) GetPlanificationChain(ctx context.Context, planificationID string) (*models.Planification, *models.Commande, *models.Adresse, bool, error) {
	return nil, nil, nil, false, nil
}

type fakeConsumer struct{}

func (c fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunTracker_ServesOperationalEndpoints(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	reg := livetrack.NewRegistry()
	defer reg.Close()
	svc := livetrack.New(&fakeRepo{}, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := trackerOpts{
		httpAddr:          "127.0.0.1:0",
		swaggerPath:       sw,
		statusTopic:       "livraison.status.changed",
		consumerGroup:     "chrono-tracker",
		movementThreshold: 1e-4,
		routeDebounceMs:   500,
		onListen:          func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runTracker(ctx, opts, svc, fakeConsumer{})
	}()

	httpAddr := <-addrCh

	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + httpAddr + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/swagger.json")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"swagger"`)

	code, body = get("/healthz")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"ok"`)

	code, body = get("/stats")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"keys"`)

	code, body = get("/tracking/client-config")
	require.Equal(t, 200, code)
	require.Contains(t, body, `"route_debounce_millis":500`)

	// The tracking surface is mounted on the same server.
	code, _ = get("/tracking/liv-unknown")
	require.Equal(t, 404, code)

	cancel()
	require.Error(t, <-errCh)
}

func TestRunTracker_RequiresSwagger(t *testing.T) {
	reg := livetrack.NewRegistry()
	defer reg.Close()
	svc := livetrack.New(&fakeRepo{}, reg)

	err := runTracker(context.Background(), trackerOpts{httpAddr: "127.0.0.1:0"}, svc, fakeConsumer{})
	require.Error(t, err)

	err = runTracker(context.Background(), trackerOpts{httpAddr: "127.0.0.1:0", swaggerPath: "/does/not/exist.json"}, svc, fakeConsumer{})
	require.Error(t, err)
}
