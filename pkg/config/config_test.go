package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
server:
  port: 9000
custody:
  custody_address: "0xcccccccccccccccccccccccccccccccccccccccc"
  owner: "0x0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e"
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, time.Hour, cfg.Custody.SignatureTimeout)
	assert.Equal(t, "memory", cfg.Custody.StoreBackend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Monitoring.Enabled)
}

func TestLoad_TimeoutOutOfRange(t *testing.T) {
	content := `
custody:
  custody_address: "0xcccccccccccccccccccccccccccccccccccccccc"
  owner: "0x0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e"
  signature_timeout: "10s"
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature_timeout")
}

func TestLoad_MissingCustodyAddress(t *testing.T) {
	content := `
custody:
  owner: "0x0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e"
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custody_address")
}

func TestLoad_BadStoreBackend(t *testing.T) {
	content := validConfig + `
  store_backend: "redis"
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store_backend")
}

func TestDatabaseConfig_GetConnectionString(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "custody",
		Password: "secret",
		Database: "custody",
		SSLMode:  "disable",
	}
	want := "host=db.internal port=5432 user=custody password=secret dbname=custody sslmode=disable"
	assert.Equal(t, want, c.GetConnectionString())
}
