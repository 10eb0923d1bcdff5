package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith("", envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Storage.SignedURLTTL)
	assert.Equal(t, "educhain.documents", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Database.URL, "memory store by default")
	assert.False(t, cfg.IsProduction())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "educhain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
database:
  url: postgres://file/db
storage:
  bucket: docs
  signed_url_ttl: 2m
ledger:
  timeout: 3s
  memory: true
`), 0o600))

	cfg, err := LoadWith(path, envOf(map[string]string{
		"DATABASE_URL":      "postgres://env/db",
		"OUTBOX_BATCH_SIZE": "25",
		"LEDGER_MANDATORY":  "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL, "env wins over file")
	assert.Equal(t, "docs", cfg.Storage.Bucket)
	assert.Equal(t, 2*time.Minute, cfg.Storage.SignedURLTTL)
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 25, cfg.Outbox.BatchSize)
	assert.True(t, cfg.Ledger.Mandatory)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"malformed duration":          {"LEDGER_TIMEOUT": "soon"},
		"malformed bool":              {"LEDGER_MANDATORY": "maybe"},
		"signed url ttl too long":     {"SIGNED_URL_TTL": "1h"},
		"zero ledger timeout":         {"LEDGER_TIMEOUT": "0s"},
		"rpc without key":             {"LEDGER_RPC_URL": "http://node:8545"},
		"mandatory without ledger":    {"LEDGER_MANDATORY": "true"},
		"unknown log level":           {"LOG_LEVEL": "loud"},
		"production without bucket":   {"ENVIRONMENT": "production", "IDENTITY_PEPPER": "pepper", "DATABASE_URL": "postgres://db"},
		"production without database": {"ENVIRONMENT": "production", "IDENTITY_PEPPER": "pepper", "S3_BUCKET": "docs"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadWith("", envOf(env))
			assert.Error(t, err)
		})
	}
}

func TestProductionRefusesMemoryBlobStore(t *testing.T) {
	_, err := LoadWith("", envOf(map[string]string{
		"ENVIRONMENT":     "production",
		"IDENTITY_PEPPER": "pepper",
		"DATABASE_URL":    "postgres://db",
	}))
	assert.ErrorContains(t, err, "production requires an S3 bucket")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWith(filepath.Join(t.TempDir(), "absent.yaml"), envOf(nil))
	assert.Error(t, err)
}

func TestBlankEnvIsIgnored(t *testing.T) {
	cfg, err := LoadWith("", envOf(map[string]string{"EDUCHAIN_ADDR": "  "}))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
}
