// Package config loads offsync configuration.
//
// Precedence, lowest first: Default, a YAML file (JSON is accepted as a
// YAML subset), OFFSYNC_* environment variables, then command-line flags
// applied by the caller.
//
// Example:
//
//	cfg, err := config.Load("/etc/offsync.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.FromEnv(&cfg); err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
