package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/offsync/internal/fanout"
	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/retry"
)

// Defaults for Engine options.
const (
	DefaultExecuteTimeout = 30 * time.Second
	DefaultBatchSize      = 100
)

// Engine is the sync orchestrator.
//
// Thread-safety model:
//   - Read, Write, Enqueue: safe from any goroutine
//   - Replay: safe from any goroutine; concurrent calls collapse to one pass
//   - Subscribe: safe from any goroutine
type Engine struct {
	queue     Queue
	executor  Executor
	conn      Connectivity
	cache     Cache
	fetcher   Fetcher
	validator Validator
	policy    retry.Policy
	clock     Clock
	ids       record.IDGenerator
	logger    *slog.Logger

	executeTimeout time.Duration
	batchSize      int
	mirrorWrites   bool

	running atomic.Bool

	seq    *Sequence
	emitMu sync.Mutex
	events *fanout.Hub[Event]

	stopWatch func()
	watchDone chan struct{}
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables the cache-first read path.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithFetcher sets the default fetcher used by Read when none is passed.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithValidator sets the operation-type registry used for write validation
// and for recognizing queued records at replay.
func WithValidator(v Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithPolicy sets the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithClock sets the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithIDGenerator sets the record ID generator.
func WithIDGenerator(g record.IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExecuteTimeout bounds each remote attempt. Zero disables the bound.
func WithExecuteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.executeTimeout = d }
}

// WithBatchSize sets how many eligible records one listing fetches.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMirrorOnlineWrites records successful online writes as SUCCEEDED rows.
func WithMirrorOnlineWrites(on bool) Option {
	return func(e *Engine) { e.mirrorWrites = on }
}

// New creates an engine. The queue, executor and connectivity view are
// required. New starts a goroutine that republishes connectivity changes as
// events; call Close to stop it.
func New(q Queue, exec Executor, conn Connectivity, opts ...Option) (*Engine, error) {
	if q == nil {
		return nil, errors.New("engine: queue is required")
	}
	if exec == nil {
		return nil, errors.New("engine: executor is required")
	}
	if conn == nil {
		return nil, errors.New("engine: connectivity is required")
	}

	e := &Engine{
		queue:          q,
		executor:       exec,
		conn:           conn,
		policy:         retry.Default(),
		clock:          SystemClock{},
		ids:            record.UUIDv7Generator{},
		logger:         slog.Default(),
		executeTimeout: DefaultExecuteTimeout,
		batchSize:      DefaultBatchSize,
		seq:            NewSequence(),
		events:         fanout.NewHub[Event](),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}

	e.watchConnectivity()
	return e, nil
}

// Close stops connectivity forwarding and closes all event subscriptions.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.stopWatch()
		<-e.watchDone
		e.events.Close()
	})
}

// Connected reports the current connectivity.
func (e *Engine) Connected() bool {
	return e.conn.Current().Connected
}

// RecoverStale returns IN_FLIGHT records claimed longer than claimTimeout
// ago to PENDING. Used at process start to clear claims left by a crash.
func (e *Engine) RecoverStale(ctx context.Context, claimTimeout time.Duration) (int, error) {
	n, err := e.queue.RecoverStale(ctx, e.clock.Now(), claimTimeout)
	if err != nil {
		return 0, storageError("recover", "", err)
	}
	if n > 0 {
		e.logger.Warn("recovered stale claims", "count", n, "claim_timeout", claimTimeout)
	}
	return n, nil
}

// Purge removes terminal records older than the retention window.
func (e *Engine) Purge(ctx context.Context, window time.Duration) (int, error) {
	n, err := e.queue.PurgeOlderThan(ctx, e.clock.Now(), window)
	if err != nil {
		return 0, storageError("purge", "", err)
	}
	if n > 0 {
		e.logger.Info("purged terminal records", "count", n, "window", window)
	}
	return n, nil
}

// watchConnectivity republishes connectivity changes on the event stream.
// The first value on the subscription is the state at subscribe time and
// is not a change.
func (e *Engine) watchConnectivity() {
	sub := e.conn.Subscribe()
	e.stopWatch = sub.Cancel
	e.watchDone = make(chan struct{})

	go func() {
		defer close(e.watchDone)
		first := true
		for s := range sub.C() {
			if first {
				first = false
				continue
			}
			state := s
			e.emit(Event{Type: EventConnectivityChanged, State: &state})
		}
	}()
}
