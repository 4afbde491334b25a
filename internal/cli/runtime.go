package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/schema"
	"github.com/roach88/offsync/internal/snapshot"
	"github.com/roach88/offsync/internal/store"
)

// networkMode says whether a command may contact the remote.
type networkMode int

const (
	// localOnly commands never dial; the engine sees a permanently offline view.
	localOnly networkMode = iota
	// withRemote commands probe the configured remote for reachability.
	withRemote
)

// runtime is the wired engine and the resources behind it.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	queue   *store.Store
	snaps   *snapshot.DB
	cache   *snapshot.Cache
	client  *remote.Client
	monitor *connectivity.Monitor
	engine  *engine.Engine
}

// loadConfig applies defaults < file < env < flags and validates the result.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.FromEnv(&cfg); err != nil {
		return config.Config{}, err
	}
	if opts.BaseURL != "" {
		cfg.Remote.BaseURL = opts.BaseURL
	}
	cfg.ResolvePaths(opts.DataDir)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openRuntime loads configuration and wires the engine. Callers must close
// the returned runtime.
func openRuntime(opts *RootOptions, cmd *cobra.Command, mode networkMode) (rt *runtime, err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr(), opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	rt = &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.QueuePath), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}
	logger.Debug("opening queue", "path", cfg.QueuePath)
	rt.queue, err = store.Open(cfg.QueuePath, store.WithMaxAttempts(cfg.MaxAttempts))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}

	logger.Debug("opening snapshot cache", "path", cfg.CachePath)
	rt.snaps, err = snapshot.Open(snapshot.Options{Dir: cfg.CachePath, Fsync: snapshot.FsyncModeInterval})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open snapshot cache", err)
	}
	rt.cache = snapshot.NewCache(rt.snaps)

	registry := schema.Default()
	if cfg.SchemaFile != "" {
		registry, err = schema.LoadFile(cfg.SchemaFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
		}
	}

	var exec engine.Executor = unconfiguredRemote{}
	if cfg.Remote.BaseURL != "" {
		rt.client, err = remote.New(cfg.Remote.BaseURL, remote.WithLogger(logger))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid remote", err)
		}
		exec = rt.client
	}

	src, err := rt.source(opts, mode)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure connectivity", err)
	}
	rt.monitor, err = connectivity.NewMonitor(src, connectivity.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start connectivity monitor", err)
	}

	engineOpts := []engine.Option{
		engine.WithCache(rt.cache),
		engine.WithValidator(registry),
		engine.WithPolicy(cfg.RetryPolicy()),
		engine.WithLogger(logger),
		engine.WithExecuteTimeout(cfg.ExecuteTimeout),
		engine.WithBatchSize(cfg.ReplayBatchSize),
		engine.WithMirrorOnlineWrites(cfg.MirrorOnlineWrites),
	}
	if rt.client != nil {
		engineOpts = append(engineOpts, engine.WithFetcher(rt.client))
	}
	rt.engine, err = engine.New(rt.queue, exec, rt.monitor, engineOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return rt, nil
}

// source picks the connectivity source for mode.
func (rt *runtime) source(opts *RootOptions, mode networkMode) (connectivity.Source, error) {
	if mode == localOnly || rt.client == nil {
		return connectivity.NewManualSource(connectivity.Offline()), nil
	}
	if opts.Source != nil {
		return opts.Source, nil
	}

	addr := rt.cfg.Remote.ProbeAddress
	if addr == "" {
		var err error
		if addr, err = probeAddress(rt.cfg.Remote.BaseURL); err != nil {
			return nil, err
		}
	}
	transport, err := connectivity.ParseTransport(rt.cfg.Remote.Transport)
	if err != nil {
		return nil, err
	}
	return connectivity.NewProbeSource(addr,
		connectivity.WithProbeInterval(rt.cfg.Remote.ProbeInterval),
		connectivity.WithTransport(transport),
		connectivity.WithProbeLogger(rt.logger),
	), nil
}

func (rt *runtime) close() {
	if rt.engine != nil {
		rt.engine.Close()
	}
	if rt.monitor != nil {
		rt.monitor.Close()
	}
	if rt.snaps != nil {
		if err := rt.snaps.Close(); err != nil {
			rt.logger.Error("error closing snapshot cache", "error", err)
		}
	}
	if rt.queue != nil {
		if err := rt.queue.Close(); err != nil {
			rt.logger.Error("error closing queue", "error", err)
		}
	}
}

// requireRemote fails commands that need a configured remote.
func (rt *runtime) requireRemote() error {
	if rt.client == nil {
		return NewExitError(ExitCommandError, "remote.baseURL is not configured (use --base-url, OFFSYNC_REMOTE_BASE_URL or the config file)")
	}
	return nil
}

// probeAddress derives host:port from a base URL, defaulting the port from
// the scheme.
func probeAddress(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Hostname() == "" {
		return "", errors.New("base url has no host")
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// unconfiguredRemote stands in for the executor when no remote is set.
// The engine never calls it because the connectivity view stays offline.
type unconfiguredRemote struct{}

func (unconfiguredRemote) Execute(context.Context, record.Operation) engine.Outcome {
	return engine.Retryable("remote not configured")
}
