package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"port": 8080, "jwt_secret": "s", "store": {"type": "badger", "badger": {"in_memory": true}}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StoreTypeBadger, cfg.Store.Type)
	require.Equal(t, DefaultMaxBatchSize, cfg.Store.MaxBatchSize)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, int64(100), cfg.Retry.InitialBackoffMs)
	require.Equal(t, 32, cfg.Share.TokenBytes)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.NotEmpty(t, cfg.Schedule.TokenSweepSpec)
}

func TestLoadRejectsInvalidStore(t *testing.T) {
	path := writeConfig(t, `{"port": 8080, "jwt_secret": "s", "store": {"type": "mongo"}}`)
	_, err := Load(path)
	require.Error(t, err)

	path = writeConfig(t, `{"port": 8080, "jwt_secret": "s", "store": {"type": "postgres"}}`)
	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadRejectsShortTokens(t *testing.T) {
	path := writeConfig(t, `{"port": 8080, "jwt_secret": "s", "store": {"type": "badger", "badger": {"in_memory": true}}, "share": {"token_bytes": 8}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestDatabaseConnString(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "notes"}
	require.Equal(t, "host=db port=5432 user=u password=p dbname=notes sslmode=disable", cfg.ConnString())
	require.Equal(t, "postgres://x", DatabaseConfig{DSN: "postgres://x"}.ConnString())
}

func TestLoadBoundsPostgresBatchSize(t *testing.T) {
	path := writeConfig(t, `{"port": 8080, "jwt_secret": "s", "store": {"type": "postgres", "database": {"dsn": "postgres://x"}, "max_batch_size": 20000}}`)
	_, err := Load(path)
	require.Error(t, err)

	path = writeConfig(t, `{"port": 8080, "jwt_secret": "s", "store": {"type": "postgres", "database": {"dsn": "postgres://x"}, "max_batch_size": 13107}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, MaxPostgresBatchSize, cfg.Store.MaxBatchSize)

	path = writeConfig(t, `{"port": 8080, "jwt_secret": "s", "store": {"type": "badger", "badger": {"in_memory": true}, "max_batch_size": 20000}}`)
	_, err = Load(path)
	require.NoError(t, err)
}
