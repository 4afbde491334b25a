package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/retry"
	"github.com/roach88/offsync/internal/scheduler"
)

// Config is the top-level configuration loaded from file and environment.
type Config struct {
	BaseRetryDelay             time.Duration `yaml:"baseRetryDelay"`
	MaxRetryDelay              time.Duration `yaml:"maxRetryDelay"`
	MaxAttempts                int           `yaml:"maxAttempts"`
	RetryJitter                float64       `yaml:"retryJitter"`
	SyncIntervalWhileConnected time.Duration `yaml:"syncIntervalWhileConnected"`
	RecordRetentionWindow      time.Duration `yaml:"recordRetentionWindow"`
	ClaimTimeout               time.Duration `yaml:"claimTimeout"`
	ExecuteTimeout             time.Duration `yaml:"executeTimeout"`
	ReplayBatchSize            int           `yaml:"replayBatchSize"`
	PurgeInterval              time.Duration `yaml:"purgeInterval"`
	MirrorOnlineWrites         bool          `yaml:"mirrorOnlineWrites"`

	// QueuePath is the SQLite queue file. Empty means DataDir/queue.db.
	QueuePath string `yaml:"queuePath"`
	// CachePath is the Pebble snapshot directory. Empty means DataDir/snapshots.
	CachePath string `yaml:"cachePath"`
	// SchemaFile overrides the built-in operation schema.
	SchemaFile string `yaml:"schemaFile"`

	Remote Remote `yaml:"remote"`
	Log    Log    `yaml:"log"`
}

// Remote configures the HTTP service and the reachability probe.
type Remote struct {
	BaseURL string `yaml:"baseURL"`
	// ProbeAddress is a host:port dialled to decide connectivity. Empty
	// means derive it from BaseURL.
	ProbeAddress  string        `yaml:"probeAddress"`
	ProbeInterval time.Duration `yaml:"probeInterval"`
	Transport     string        `yaml:"transport"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		BaseRetryDelay:             retry.DefaultBase,
		MaxRetryDelay:              retry.DefaultCap,
		MaxAttempts:                retry.DefaultMaxAttempts,
		SyncIntervalWhileConnected: scheduler.DefaultInterval,
		RecordRetentionWindow:      scheduler.DefaultRetentionWindow,
		ClaimTimeout:               scheduler.DefaultClaimTimeout,
		ExecuteTimeout:             30 * time.Second,
		ReplayBatchSize:            100,
		PurgeInterval:              scheduler.DefaultPurgeInterval,
		Remote: Remote{
			ProbeInterval: 10 * time.Second,
			Transport:     string(connectivity.TransportUnmetered),
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML or JSON file on top of Default.
// If path is empty, returns defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.SyncIntervalWhileConnected <= 0 {
		errs = append(errs, fmt.Errorf("syncIntervalWhileConnected must be positive, got %s", c.SyncIntervalWhileConnected))
	}
	if c.RecordRetentionWindow < 0 {
		errs = append(errs, fmt.Errorf("recordRetentionWindow must not be negative, got %s", c.RecordRetentionWindow))
	}
	if c.ClaimTimeout < 0 {
		errs = append(errs, fmt.Errorf("claimTimeout must not be negative, got %s", c.ClaimTimeout))
	}
	if c.ClaimTimeout > 0 && c.ExecuteTimeout > 0 && c.ClaimTimeout <= c.ExecuteTimeout {
		errs = append(errs, fmt.Errorf("claimTimeout %s must exceed executeTimeout %s", c.ClaimTimeout, c.ExecuteTimeout))
	}
	if c.ExecuteTimeout < 0 {
		errs = append(errs, fmt.Errorf("executeTimeout must not be negative, got %s", c.ExecuteTimeout))
	}
	if c.ReplayBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("replayBatchSize must be positive, got %d", c.ReplayBatchSize))
	}
	if c.PurgeInterval <= 0 {
		errs = append(errs, fmt.Errorf("purgeInterval must be positive, got %s", c.PurgeInterval))
	}
	if c.Remote.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("remote.probeInterval must be positive, got %s", c.Remote.ProbeInterval))
	}
	if _, err := connectivity.ParseTransport(c.Remote.Transport); err != nil {
		errs = append(errs, fmt.Errorf("remote.transport: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RetryPolicy returns the backoff policy described by the config.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Base:        c.BaseRetryDelay,
		Cap:         c.MaxRetryDelay,
		MaxAttempts: c.MaxAttempts,
		Jitter:      c.RetryJitter,
	}
}

// SchedulerConfig returns the background scheduler settings.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:        c.SyncIntervalWhileConnected,
		ClaimTimeout:    c.ClaimTimeout,
		RetentionWindow: c.RecordRetentionWindow,
		PurgeInterval:   c.PurgeInterval,
		RetryBackoff:    c.RetryPolicy(),
	}
}

// ResolvePaths fills empty QueuePath and CachePath under dataDir.
// An empty dataDir uses DefaultDataDir.
func (c *Config) ResolvePaths(dataDir string) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if c.QueuePath == "" {
		c.QueuePath = filepath.Join(dataDir, "queue.db")
	}
	if c.CachePath == "" {
		c.CachePath = filepath.Join(dataDir, "snapshots")
	}
}
