package container

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Config"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	api_models "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Models/api"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		API:     config.APIConfig{BaseURL: baseURL, Timeout: 2 * time.Second},
		Session: config.SessionConfig{FilePath: filepath.Join(t.TempDir(), "session.json")},
		Poller:  config.PollerConfig{RefreshRateMs: 1000},
		Alerts:  config.AlertsConfig{BatteryCriticalPercent: 20},
	}
}

func TestBuild_RejectsBadRefreshRate(t *testing.T) {
	cfg := testConfig(t, "http://localhost")
	cfg.Poller.RefreshRateMs = 2000
	_, err := Build(cfg, logger.Nop())
	assert.Error(t, err)
}

func TestBuild_OptionalComponentsDisabled(t *testing.T) {
	c, err := Build(testConfig(t, "http://localhost"), logger.Nop())
	require.NoError(t, err)

	assert.Nil(t, c.GetPublisher())
	assert.NotNil(t, c.GetPoller())
	assert.NotNil(t, c.GetHub())
	assert.Equal(t, poller.Rate1s, c.DefaultRefreshRate())
	assert.Equal(t, poller.StateIdle, c.GetPoller().State())
}

func TestContainer_UnauthorizedTelemetryLogsOutAndStopsPoller(t *testing.T) {
	var telemetryHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/telemetry/4" {
			atomic.AddInt32(&telemetryHits, 1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token expired"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := Build(testConfig(t, srv.URL), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Shutdown(context.Background())

	store := c.GetSessionStore()
	require.NoError(t, store.Login("opaque-token", api_models.User{ID: 1, Email: "a@b.c"}))

	require.NoError(t, c.GetPoller().Start(4, poller.Rate1s))

	require.Eventually(t, func() bool {
		_, ok := store.Current()
		return !ok && c.GetPoller().State() == poller.StateStopped
	}, 3*time.Second, 10*time.Millisecond)

	hits := atomic.LoadInt32(&telemetryHits)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, hits, atomic.LoadInt32(&telemetryHits), "no fetch after the forced logout")
}

func TestContainer_ShutdownRunsCleanupsInReverse(t *testing.T) {
	c, err := Build(testConfig(t, "http://localhost"), logger.Nop())
	require.NoError(t, err)
	require.NoError(t, c.Start())

	var order []int
	c.AddCleanupFunc(func(context.Context) error { order = append(order, 1); return nil })
	c.AddCleanupFunc(func(context.Context) error { order = append(order, 2); return errors.New("boom") })

	err = c.Shutdown(context.Background())
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []int{2, 1}, order)

	// second call is a no-op
	assert.NoError(t, c.Shutdown(context.Background()))
	assert.Len(t, order, 2)
}
