package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// FromEnv overlays OFFSYNC_* environment variables onto cfg.
// Malformed values are reported together; valid ones are still applied.
func FromEnv(cfg *Config) error {
	var errs []error
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	duration("OFFSYNC_BASE_RETRY_DELAY", &cfg.BaseRetryDelay)
	duration("OFFSYNC_MAX_RETRY_DELAY", &cfg.MaxRetryDelay)
	integer("OFFSYNC_MAX_ATTEMPTS", &cfg.MaxAttempts)
	if v := os.Getenv("OFFSYNC_RETRY_JITTER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("OFFSYNC_RETRY_JITTER: %w", err))
		} else {
			cfg.RetryJitter = f
		}
	}
	duration("OFFSYNC_SYNC_INTERVAL", &cfg.SyncIntervalWhileConnected)
	duration("OFFSYNC_RETENTION_WINDOW", &cfg.RecordRetentionWindow)
	duration("OFFSYNC_CLAIM_TIMEOUT", &cfg.ClaimTimeout)
	duration("OFFSYNC_EXECUTE_TIMEOUT", &cfg.ExecuteTimeout)
	integer("OFFSYNC_REPLAY_BATCH_SIZE", &cfg.ReplayBatchSize)
	duration("OFFSYNC_PURGE_INTERVAL", &cfg.PurgeInterval)
	if v := os.Getenv("OFFSYNC_MIRROR_ONLINE_WRITES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("OFFSYNC_MIRROR_ONLINE_WRITES: %w", err))
		} else {
			cfg.MirrorOnlineWrites = b
		}
	}
	str("OFFSYNC_QUEUE_PATH", &cfg.QueuePath)
	str("OFFSYNC_CACHE_PATH", &cfg.CachePath)
	str("OFFSYNC_SCHEMA_FILE", &cfg.SchemaFile)
	str("OFFSYNC_REMOTE_BASE_URL", &cfg.Remote.BaseURL)
	str("OFFSYNC_REMOTE_PROBE_ADDRESS", &cfg.Remote.ProbeAddress)
	duration("OFFSYNC_REMOTE_PROBE_INTERVAL", &cfg.Remote.ProbeInterval)
	str("OFFSYNC_REMOTE_TRANSPORT", &cfg.Remote.Transport)
	str("OFFSYNC_LOG_LEVEL", &cfg.Log.Level)
	str("OFFSYNC_LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}
