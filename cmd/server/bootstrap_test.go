package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deskwise/deskwise/internal/app"
)

func testConfig() *app.Config {
	cfg := &app.Config{}
	cfg.Server.Port = 0
	cfg.Server.LogLevel = "error"
	cfg.Server.LogFormat = "json"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWT.Secret = "bootstrap-test-secret"
	cfg.Auth.JWT.Issuer = "bootstrap-test"
	cfg.Retention.ReadDays = 90
	cfg.Retention.UnreadDays = 180
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Health.Enabled = true
	return cfg
}

func TestBootstrapRuntimeWiresPipeline(t *testing.T) {
	cfg := testConfig()
	log := zap.NewNop()

	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	require.NotNil(t, stack.DB)
	require.NotNil(t, stack.Hub)
	require.NotNil(t, stack.Sender)
	require.NotNil(t, stack.Dispatcher)
	require.NotNil(t, stack.Cleaner)
	require.NotNil(t, stack.RateStore)
	require.NotNil(t, stack.Monitoring)
	require.NotNil(t, stack.Router)

	// Without VAPID keys the push channel degrades instead of failing startup.
	require.False(t, stack.Sender.Enabled())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	stack.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Manual retention runs work outside the cron trigger.
	stats, err := stack.Cleaner.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, stats.Skipped)
}

func TestBootstrapRuntimeRejectsBrokenVAPIDPair(t *testing.T) {
	cfg := testConfig()
	cfg.Push.VAPIDPublicKey = "only-half-a-pair"

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestEnsureSecretsPresent(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, ensureSecretsPresent(cfg))

	cfg.Auth.JWT.Secret = "   "
	require.Error(t, ensureSecretsPresent(cfg))

	require.Error(t, ensureSecretsPresent(nil))
}

func TestConvertDatabaseConfigDefaultsToSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = ""

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "sqlite", dbCfg.Driver)
	require.Equal(t, ":memory:", dbCfg.Path)
}
