package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lclpedro/hyperhook/config"
	"github.com/lclpedro/hyperhook/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func testConfig(t *testing.T) *config.Config {
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "hyperhook.db"))
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestBuild(t *testing.T) {
	c, err := Build(testConfig(t), &mockLogger{})
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Ledger)
	assert.NotNil(t, c.Signals)
	assert.NotNil(t, c.Snapshots)
	assert.NotNil(t, c.Metrics)
	assert.NoError(t, c.Repo.Ping(context.Background()))
}

func TestBuild_MetricsDisabled(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "false")
	c, err := Build(testConfig(t), &mockLogger{})
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Metrics)
}

func TestBuild_RejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.MissingPositionPolicy = "ignore"
	_, err := Build(cfg, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
