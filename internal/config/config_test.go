package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  driver: memory
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
ledger:
  lock:
    ttl: 5s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ledger.transaction.completed", cfg.Kafka.Topic.TransactionCompleted)
	assert.Equal(t, 5*time.Second, cfg.Ledger.Lock.TTL)
	assert.Equal(t, 50*time.Millisecond, cfg.Ledger.Lock.RetryInterval)
	assert.Equal(t, 10, cfg.Ledger.AccountNumber.Length)
	assert.Equal(t, 16, cfg.Ledger.AccountNumber.MaxLength)
	assert.Equal(t, 5, cfg.Business.MaxRetryCount)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
mysql:
  host: db.local
`)
	t.Setenv("LEDGER_MYSQL_HOST", "db.override")
	t.Setenv("LEDGER_SERVER_PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "db.override", cfg.MySQL.Host)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, StorageDriverMySQL, cfg.Storage.Driver)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, `
storage:
  driver: cassandra
`)
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestMySQLConfig_DSN(t *testing.T) {
	c := MySQLConfig{User: "u", Password: "p", Host: "h", Port: 3307, Database: "d"}
	assert.Equal(t, "u:p@tcp(h:3307)/d?charset=utf8mb4&parseTime=True&loc=Local", c.DSN())
}
