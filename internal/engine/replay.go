package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roach88/offsync/internal/record"
	"github.com/roach88/offsync/internal/store"
)

// ReasonUnrecognized is recorded for queued records whose operation type
// this binary does not know.
const ReasonUnrecognized = "unrecognized operation"

// PassResult summarizes one replay pass.
type PassResult struct {
	// AlreadyRunning is set when another pass held the single-flight flag.
	AlreadyRunning bool
	// Skipped is set when the pass did not start because the remote is unreachable.
	Skipped bool
	// Interrupted is set when connectivity dropped before the queue drained.
	Interrupted bool

	Attempted int
	Succeeded int
	Retried   int
	Abandoned int
	Failed    int
	Released  int

	// NextWake is the earliest time a record backing off becomes eligible.
	// Zero when nothing is waiting.
	NextWake time.Time
}

// Replay runs one pass over eligible queued records.
//
// Single-flight: a call made while another pass runs returns immediately
// with AlreadyRunning. While disconnected the pass is skipped. Records are
// processed in per-resource FIFO order; a resource whose head record is
// retried is skipped for the rest of the pass so later intents never
// overtake it. Losing connectivity stops the pass before the next claim.
//
// Remote failures are recorded on the records and reported in the result.
// Only queue storage failures (and ctx cancellation) are returned as errors.
// A retryable outcome caused by ctx cancellation releases the claim without
// counting an attempt.
func (e *Engine) Replay(ctx context.Context) (PassResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("replay already running")
		return PassResult{AlreadyRunning: true}, nil
	}
	defer e.running.Store(false)

	if !e.Connected() {
		e.logger.Debug("replay skipped: offline")
		return PassResult{Skipped: true}, nil
	}

	var lost atomic.Bool
	stopWatch := e.watchForLoss(&lost)
	defer stopWatch()

	e.emit(Event{Type: EventSyncStarted})
	e.logger.Info("replay pass started")

	p := &pass{
		attempted: make(map[string]bool),
		blocked:   make(map[string]bool),
	}
	err := e.runPass(ctx, p, &lost)
	if err == nil {
		next, ok, qerr := e.queue.NextEligibleAfter(ctx, e.clock.Now())
		if qerr != nil {
			err = storageError("next eligible", "", qerr)
		} else if ok {
			p.result.NextWake = next
		}
	}

	e.logger.Info("replay pass finished",
		"attempted", p.result.Attempted,
		"succeeded", p.result.Succeeded,
		"retried", p.result.Retried,
		"abandoned", p.result.Abandoned,
		"failed", p.result.Failed,
		"interrupted", p.result.Interrupted,
	)
	return p.result, err
}

// Running reports whether a replay pass is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

type pass struct {
	result    PassResult
	attempted map[string]bool
	blocked   map[string]bool
}

func (e *Engine) runPass(ctx context.Context, p *pass, lost *atomic.Bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		recs, err := e.queue.ListEligible(ctx, e.clock.Now(), e.batchSize)
		if err != nil {
			e.logger.Error("list eligible failed", "error", err)
			return storageError("replay", "", err)
		}

		progressed := false
		for _, rec := range recs {
			if p.attempted[rec.ID] || p.blocked[rec.ResourceID] {
				continue
			}
			if e.lostConnectivity(lost) {
				p.result.Interrupted = true
				e.logger.Info("replay interrupted: connectivity lost")
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			progressed = true
			p.attempted[rec.ID] = true
			if err := e.replayOne(ctx, p, rec, lost); err != nil {
				return err
			}
			if p.result.Interrupted {
				return nil
			}
		}
		if !progressed {
			return nil
		}
	}
}

// replayOne claims and executes a single record.
func (e *Engine) replayOne(ctx context.Context, p *pass, rec record.Record, lost *atomic.Bool) error {
	if err := e.queue.MarkInFlight(ctx, rec.ID, e.clock.Now()); err != nil {
		if errors.Is(err, store.ErrNotClaimable) || errors.Is(err, store.ErrNotFound) {
			// Claimed elsewhere or gone: later records for this resource must wait.
			e.logger.Debug("record not claimable", "record_id", rec.ID, "error", err)
			p.blocked[rec.ResourceID] = true
			return nil
		}
		return storageError("claim", rec.ID, err)
	}

	// Store calls after a claim must run even if ctx is cancelled, or the
	// record would stay IN_FLIGHT until the recovery sweep.
	settle := context.WithoutCancel(ctx)

	if e.lostConnectivity(lost) || ctx.Err() != nil {
		if err := e.queue.Release(settle, rec.ID); err != nil {
			return storageError("release", rec.ID, err)
		}
		p.result.Released++
		p.result.Interrupted = ctx.Err() == nil
		return ctx.Err()
	}

	if e.validator != nil && !e.validator.Known(rec.Type) {
		return e.settleUnrecognized(settle, p, rec)
	}

	p.result.Attempted++
	e.logger.Debug("replaying record",
		"record_id", rec.ID,
		"resource", rec.ResourceID,
		"operation", string(rec.Type),
		"attempt", rec.AttemptCount+1,
	)
	out := e.execute(ctx, rec.Operation())
	now := e.clock.Now()

	if out.Kind == OutcomeRetryable && ctx.Err() != nil {
		if err := e.queue.Release(settle, rec.ID); err != nil {
			return storageError("release", rec.ID, err)
		}
		p.result.Released++
		e.logger.Info("replay cancelled mid-call, claim released", "record_id", rec.ID)
		return ctx.Err()
	}

	switch out.Kind {
	case OutcomeSuccess:
		if err := e.queue.MarkSucceeded(settle, rec.ID, now); err != nil {
			return storageError("mark succeeded", rec.ID, err)
		}
		p.result.Succeeded++
		e.emit(recordEvent(EventSyncSuccess, rec))
		return nil

	case OutcomeTerminal:
		if err := e.queue.MarkTerminal(settle, rec.ID, now, out.Reason); err != nil {
			return storageError("mark terminal", rec.ID, err)
		}
		p.result.Failed++
		ev := recordEvent(EventSyncFailed, rec)
		ev.Reason = out.Reason
		e.emit(ev)
		e.logger.Warn("record rejected", "record_id", rec.ID, "reason", out.Reason)
		return nil
	}

	// Retryable. The delay before attempt k+1 is NextDelay(k-1).
	delay := e.policy.NextDelay(rec.AttemptCount)
	status, err := e.queue.MarkFailed(settle, rec.ID, now, now.Add(delay), out.Reason)
	if err != nil {
		return storageError("mark failed", rec.ID, err)
	}

	ev := recordEvent(EventSyncRetry, rec)
	ev.Reason = out.Reason
	if status == record.StatusFailed {
		p.result.Abandoned++
		ev.Type = EventSyncAbandoned
		ev.Reason = fmt.Sprintf("gave up after %d attempts: %s", rec.AttemptCount+1, out.Reason)
		e.emit(ev)
		e.logger.Warn("record abandoned",
			"record_id", rec.ID,
			"attempts", rec.AttemptCount+1,
			"reason", out.Reason,
		)
		return nil
	}

	p.result.Retried++
	p.blocked[rec.ResourceID] = true
	ev.Delay = delay
	e.emit(ev)
	e.logger.Warn("record scheduled for retry",
		"record_id", rec.ID,
		"attempt", rec.AttemptCount+1,
		"delay", delay,
		"reason", out.Reason,
	)
	return nil
}

func (e *Engine) settleUnrecognized(ctx context.Context, p *pass, rec record.Record) error {
	if err := e.queue.MarkTerminal(ctx, rec.ID, e.clock.Now(), ReasonUnrecognized); err != nil {
		return storageError("mark terminal", rec.ID, err)
	}
	p.result.Failed++
	ev := recordEvent(EventSyncFailed, rec)
	ev.Reason = ReasonUnrecognized
	e.emit(ev)
	e.logger.Warn("unrecognized operation type", "record_id", rec.ID, "operation", string(rec.Type))
	return nil
}

// lostConnectivity reports whether the pass saw any disconnect, including
// one that has since recovered.
func (e *Engine) lostConnectivity(lost *atomic.Bool) bool {
	if !e.Connected() {
		lost.Store(true)
	}
	return lost.Load()
}

// watchForLoss latches lost on the first disconnected state observed.
// The returned function stops watching and waits for the watcher to exit.
func (e *Engine) watchForLoss(lost *atomic.Bool) func() {
	sub := e.conn.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range sub.C() {
			if !s.Connected {
				lost.Store(true)
			}
		}
	}()
	return func() {
		sub.Cancel()
		<-done
	}
}
