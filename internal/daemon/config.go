// Package daemon wires the scheduled drivers: the minute queue processor
// and the daily rebase pass, plus the optional metrics listener.
package daemon

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration, loaded from YAML.
type Config struct {
	// Database is the path to the SQLite ledger.
	Database string `yaml:"database"`
	// DefinitionsDir holds CUE denomination/policy definition files
	// (optional).
	DefinitionsDir string `yaml:"definitions_dir"`
	// BackupDir receives daily ledger snapshots.
	BackupDir string `yaml:"backup_dir"`
	// FoundationHandle names the audited foundation account.
	FoundationHandle string `yaml:"foundation_handle"`
	// RateEndpoint is the market rate source URL; empty means static
	// bootstrap rates (useful for development only).
	RateEndpoint string `yaml:"rate_endpoint"`
	// RateTimeout bounds one rate fetch.
	RateTimeout Duration `yaml:"rate_timeout"`
	// QueueInterval is the minute-queue cadence.
	QueueInterval Duration `yaml:"queue_interval"`
	// QueueLeaseTTL and QueueBatchTimeout guard one queue run.
	QueueLeaseTTL     Duration `yaml:"queue_lease_ttl"`
	QueueBatchTimeout Duration `yaml:"queue_batch_timeout"`
	// RebaseHourUTC is the UTC hour after which the daily pass is due.
	RebaseHourUTC int `yaml:"rebase_hour_utc"`
	// RebaseLeaseTTL guards one rebase pass.
	RebaseLeaseTTL Duration `yaml:"rebase_lease_ttl"`
	// MaxCycleLength caps cycle search depth; 0 means unbounded.
	MaxCycleLength int `yaml:"max_cycle_length"`
	// NettingSeed seeds the cycle tie-break RNG; 0 draws a random seed.
	NettingSeed int64 `yaml:"netting_seed"`
	// MetricsAddr exposes Prometheus metrics when non-empty, e.g.
	// "127.0.0.1:9310".
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Database:          "credex.db",
		BackupDir:         "snapshots",
		FoundationHandle:  "credex.foundation",
		RateTimeout:       Duration(30 * time.Second),
		QueueInterval:     Duration(time.Minute),
		QueueLeaseTTL:     Duration(3 * time.Minute),
		QueueBatchTimeout: Duration(2 * time.Minute),
		RebaseHourUTC:     0,
		RebaseLeaseTTL:    Duration(30 * time.Minute),
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.QueueInterval.Std() <= 0 {
		return fmt.Errorf("queue_interval must be positive")
	}
	if c.QueueBatchTimeout.Std() >= c.QueueLeaseTTL.Std() {
		return fmt.Errorf("queue_batch_timeout must be shorter than queue_lease_ttl")
	}
	if c.RebaseHourUTC < 0 || c.RebaseHourUTC > 23 {
		return fmt.Errorf("rebase_hour_utc must be in [0, 23]")
	}
	return nil
}
