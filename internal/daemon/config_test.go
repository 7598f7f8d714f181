package daemon

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
	path := filepath.Join(t.TempDir(), "credexd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/credex/ledger.db
foundation_handle: ops.foundation
rate_endpoint: https://rates.example.com/v1
queue_interval: 30s
queue_lease_ttl: 90s
queue_batch_timeout: 60s
rebase_hour_utc: 2
max_cycle_length: 12
netting_seed: 7
metrics_addr: 127.0.0.1:9310
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/credex/ledger.db", cfg.Database)
	assert.Equal(t, "ops.foundation", cfg.FoundationHandle)
	assert.Equal(t, 30*time.Second, cfg.QueueInterval.Std())
	assert.Equal(t, 90*time.Second, cfg.QueueLeaseTTL.Std())
	assert.Equal(t, 2, cfg.RebaseHourUTC)
	assert.Equal(t, 12, cfg.MaxCycleLength)
	assert.EqualValues(t, 7, cfg.NettingSeed)
	assert.Equal(t, "127.0.0.1:9310", cfg.MetricsAddr)

	// Untouched keys keep their defaults.
	assert.Equal(t, "snapshots", cfg.BackupDir)
	assert.Equal(t, 30*time.Minute, cfg.RebaseLeaseTTL.Std())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "queue_interval: [oops"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "queue_interval: fast"))
	require.Error(t, err, "durations must parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty database", func(c *Config) { c.Database = "" }},
		{"zero queue interval", func(c *Config) { c.QueueInterval = 0 }},
		{"batch timeout not under lease ttl", func(c *Config) {
			c.QueueBatchTimeout = c.QueueLeaseTTL
		}},
		{"rebase hour too large", func(c *Config) { c.RebaseHourUTC = 24 }},
		{"rebase hour negative", func(c *Config) { c.RebaseHourUTC = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
