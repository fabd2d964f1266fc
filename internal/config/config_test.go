package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relkit/relkit/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	_ = os.Unsetenv("RELKIT_HOST")
	_ = os.Unsetenv("RELKIT_PORT")
	_ = os.Unsetenv("RELKIT_STORAGE_ENGINE")
	_ = os.Unsetenv("RELKIT_RUPTURE_THRESHOLD")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
	assert.Equal(t, 7272, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, 0.6, cfg.Kernel.RuptureThreshold)
	assert.Equal(t, 256, cfg.Kernel.SignalHistoryLimit)
	assert.True(t, cfg.Storage.BreakerEnabled)
	assert.Equal(t, "development", cfg.Security.Mode)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, 60, cfg.Backup.IntervalMinutes)
	assert.Equal(t, 24, cfg.Backup.Keep)
}

func TestLoadConfig_BackupRequiresSqlite(t *testing.T) {
	t.Setenv("RELKIT_STORAGE_ENGINE", "memory")
	t.Setenv("RELKIT_BACKUP_ENABLED", "true")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RELKIT_HOST", "0.0.0.0")
	t.Setenv("RELKIT_PORT", "9000")
	t.Setenv("RELKIT_STORAGE_ENGINE", "memory")
	t.Setenv("RELKIT_RUPTURE_THRESHOLD", "0.75")
	t.Setenv("RELKIT_STORAGE_BREAKER", "false")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Engine)
	assert.Equal(t, 0.75, cfg.Kernel.RuptureThreshold)
	assert.False(t, cfg.Storage.BreakerEnabled)
}

func TestLoadConfig_RejectsUnknownEngine(t *testing.T) {
	t.Setenv("RELKIT_STORAGE_ENGINE", "etcd")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("RELKIT_STORAGE_ENGINE", "postgres")
	_ = os.Unsetenv("RELKIT_POSTGRES_DSN")

	_, err := config.LoadConfig()
	assert.Error(t, err)

	t.Setenv("RELKIT_POSTGRES_DSN", "postgres://relkit@localhost/relkit?sslmode=disable")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Engine)
}

func TestLoadConfig_ProductionRequiresToken(t *testing.T) {
	t.Setenv("RELKIT_SECURITY_MODE", "production")
	_ = os.Unsetenv("RELKIT_API_TOKEN")

	_, err := config.LoadConfig()
	assert.Error(t, err)

	t.Setenv("RELKIT_API_TOKEN", "secret")
	_, err = config.LoadConfig()
	assert.NoError(t, err)
}

func TestLoadConfig_RejectsOutOfRangeThreshold(t *testing.T) {
	t.Setenv("RELKIT_RUPTURE_THRESHOLD", "1.5")

	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigFile_OverlaysEnv(t *testing.T) {
	t.Setenv("RELKIT_PORT", "9000")

	path := filepath.Join(t.TempDir(), "relkit.yaml")
	content := []byte(`
server:
  port: 8111
kernel:
  rupture_threshold: 0.5
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := config.LoadConfigFile(path)
	require.NoError(t, err)

	// File values win over env values.
	assert.Equal(t, 8111, cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Kernel.RuptureThreshold)
	// Fields absent from the file keep their env/default values.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	_, err := config.LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFile_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))

	_, err := config.LoadConfigFile(path)
	assert.Error(t, err)
}
