// Package scheduler drives replay passes in the background.
//
// A pass runs on a fixed interval while connected, immediately when
// connectivity returns, and when a record backing off becomes eligible.
// Passes are skipped while disconnected. After a
// pass the retention purge runs at most once per purge interval, and the
// recovery sweep runs once on start.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/retry"
)

// Result is the outcome of one scheduled run.
type Result int

const (
	// ResultSuccess: the pass completed. Remote retries absorbed by the
	// engine still count as success.
	ResultSuccess Result = iota + 1
	// ResultRetry: the pass hit a transient local problem (queue storage,
	// connectivity lost mid-pass) and should run again soon.
	ResultRetry
	// ResultFailure: the pass failed in a way another attempt will not fix.
	ResultFailure
	// ResultSkipped: disconnected, or another pass was already running.
	ResultSkipped
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultRetry:
		return "retry"
	case ResultFailure:
		return "failure"
	case ResultSkipped:
		return "skipped"
	}
	return "unknown"
}

// Defaults for Config.
const (
	DefaultInterval        = 15 * time.Minute
	DefaultRetentionWindow = 7 * 24 * time.Hour
	DefaultPurgeInterval   = time.Hour
	DefaultClaimTimeout    = 5 * time.Minute
)

// Engine is the subset of the sync engine the scheduler drives.
type Engine interface {
	Replay(ctx context.Context) (engine.PassResult, error)
	RecoverStale(ctx context.Context, claimTimeout time.Duration) (int, error)
	Purge(ctx context.Context, window time.Duration) (int, error)
	Connected() bool
}

// Config configures a Scheduler.
type Config struct {
	// Interval between passes while connected.
	Interval time.Duration
	// ClaimTimeout is passed to the recovery sweep on start. Zero disables it.
	ClaimTimeout time.Duration
	// RetentionWindow is how long terminal records are kept. Zero disables purging.
	RetentionWindow time.Duration
	// PurgeInterval is the minimum time between purges.
	PurgeInterval time.Duration
	// RetryBackoff spaces follow-up runs after ResultRetry.
	RetryBackoff retry.Policy
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Interval:        DefaultInterval,
		ClaimTimeout:    DefaultClaimTimeout,
		RetentionWindow: DefaultRetentionWindow,
		PurgeInterval:   DefaultPurgeInterval,
		RetryBackoff:    retry.Default(),
	}
}

// Scheduler runs replay passes in the background.
type Scheduler struct {
	eng    Engine
	conn   engine.Connectivity
	cfg    Config
	clock  engine.Clock
	logger *slog.Logger

	mu        sync.Mutex
	lastPurge time.Time
	nextWake  time.Time
	retries   int
	runs      int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for purge spacing.
func WithClock(c engine.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a scheduler. Zero config fields take their defaults.
func New(eng Engine, conn engine.Connectivity, cfg Config, opts ...Option) (*Scheduler, error) {
	if eng == nil {
		return nil, errors.New("scheduler: engine is required")
	}
	if conn == nil {
		return nil, errors.New("scheduler: connectivity is required")
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = def.PurgeInterval
	}
	if cfg.RetryBackoff.Base == 0 && cfg.RetryBackoff.Cap == 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if err := cfg.RetryBackoff.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		eng:    eng,
		conn:   conn,
		cfg:    cfg,
		clock:  engine.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs the recovery sweep and launches the background loop. The
// loop stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.ClaimTimeout > 0 {
		if _, err := s.eng.RecoverStale(ctx, s.cfg.ClaimTimeout); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sub := s.conn.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Cancel()
		s.loop(ctx, sub.C())
	}()

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"retention", s.cfg.RetentionWindow,
		"claim_timeout", s.cfg.ClaimTimeout,
	)
	return nil
}

// Stop cancels the loop and waits for an in-progress run to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Runs reports how many runs have completed, skipped ones included.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) loop(ctx context.Context, states <-chan connectivity.State) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var wakeTimer *time.Timer
	var wakeC <-chan time.Time
	defer func() {
		if wakeTimer != nil {
			wakeTimer.Stop()
		}
	}()

	connected := false
	for {
		var result Result
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			// The first value is the state at subscribe time; a connected
			// start counts as a transition.
			rising := st.Connected && !connected
			connected = st.Connected
			if !rising {
				continue
			}
			s.logger.Debug("connectivity restored, running pass")
			result = s.RunOnce(ctx)
		case <-ticker.C:
			if !connected {
				continue
			}
			result = s.RunOnce(ctx)
		case <-wakeC:
			wakeC = nil
			result = s.RunOnce(ctx)
		}

		delay, ok := s.followUp(result)
		if !ok {
			continue
		}
		if wakeTimer == nil {
			wakeTimer = time.NewTimer(delay)
		} else {
			wakeTimer.Reset(delay)
		}
		wakeC = wakeTimer.C
	}
}

// followUp decides when to run again before the next tick: after a backoff
// for ResultRetry, or when the earliest backing-off record becomes eligible.
// The wait never exceeds the interval.
func (s *Scheduler) followUp(result Result) (time.Duration, bool) {
	switch result {
	case ResultRetry:
		delay := s.retryDelay()
		s.logger.Info("pass will be retried", "delay", delay)
		return delay, true
	case ResultSuccess:
		s.mu.Lock()
		next := s.nextWake
		s.mu.Unlock()
		if next.IsZero() {
			return 0, false
		}
		delay := max(next.Sub(s.clock.Now()), 0)
		delay = min(delay, s.cfg.Interval)
		s.logger.Debug("next pass when records become eligible", "delay", delay)
		return delay, true
	}
	return 0, false
}

// RunOnce executes one pass now and classifies it.
func (s *Scheduler) RunOnce(ctx context.Context) Result {
	result := s.runOnce(ctx)

	s.mu.Lock()
	s.runs++
	switch result {
	case ResultRetry:
		s.retries++
	case ResultSuccess:
		s.retries = 0
	}
	s.mu.Unlock()

	s.logger.Debug("scheduled run finished", "result", result.String())
	return result
}

func (s *Scheduler) runOnce(ctx context.Context) Result {
	if !s.eng.Connected() {
		return ResultSkipped
	}

	res, err := s.eng.Replay(ctx)
	if err != nil {
		if engine.IsQueueStorage(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("pass failed, will retry", "error", err)
			return ResultRetry
		}
		s.logger.Error("pass failed", "error", err)
		return ResultFailure
	}

	switch {
	case res.Skipped, res.AlreadyRunning:
		return ResultSkipped
	case res.Interrupted:
		return ResultRetry
	}

	s.mu.Lock()
	s.nextWake = res.NextWake
	s.mu.Unlock()

	if err := s.maybePurge(ctx); err != nil {
		s.logger.Warn("purge failed", "error", err)
		return ResultRetry
	}
	return ResultSuccess
}

func (s *Scheduler) maybePurge(ctx context.Context) error {
	if s.cfg.RetentionWindow <= 0 {
		return nil
	}
	now := s.clock.Now()

	s.mu.Lock()
	due := s.lastPurge.IsZero() || now.Sub(s.lastPurge) >= s.cfg.PurgeInterval
	s.mu.Unlock()
	if !due {
		return nil
	}

	if _, err := s.eng.Purge(ctx, s.cfg.RetentionWindow); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastPurge = now
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) retryDelay() time.Duration {
	s.mu.Lock()
	n := s.retries
	s.mu.Unlock()
	if n < 1 {
		n = 1
	}
	return s.cfg.RetryBackoff.NextDelay(n - 1)
}
