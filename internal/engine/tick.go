// Package engine advances persistent world state: resource ticks,
// experience and levels, the deferred action queue and research unlocks.
// Engine drives them on a fixed interval.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/mini-realm/internal/clock"
	"github.com/talgya/mini-realm/internal/realm"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultStopTimeout = 5 * time.Second
)

// SweepReport summarizes one sweep.
type SweepReport struct {
	ID         string        `json:"id"`
	At         time.Time     `json:"at"`
	Ticked     int           `json:"ticked"`
	TickFailed int           `json:"tick_failed"`
	Queue      SweepStats    `json:"queue"`
	Took       time.Duration `json:"took"`
}

// Engine drives the simulation forward. A single goroutine runs sweeps, so
// sweeps never overlap.
type Engine struct {
	store   Store
	economy *Economy
	queue   *Queue
	clock   clock.Clock

	StopTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	sweeps uint64
	last   SweepReport
}

// NewEngine creates a stopped engine.
func NewEngine(store Store, economy *Economy, queue *Queue, clk clock.Clock) *Engine {
	return &Engine{
		store:       store,
		economy:     economy,
		queue:       queue,
		clock:       clk,
		StopTimeout: DefaultStopTimeout,
	}
}

// ErrSweepInFlight is returned by Start while a sweep from a loop that Stop
// gave up waiting on is still running.
var ErrSweepInFlight = errors.New("tick engine: previous sweep still running")

// Start launches the sweep loop. The first sweep runs immediately. Calling
// Start on a running engine does nothing.
func (e *Engine) Start(interval time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	if e.done != nil {
		select {
		case <-e.done:
		default:
			return ErrSweepInFlight
		}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.run(ctx, interval, e.done)

	slog.Info("tick engine started", "interval", interval)
	return nil
}

// Stop halts the loop and waits up to StopTimeout for an in-flight sweep.
// On timeout the sweep keeps going and Start refuses to run until it ends.
// Calling Stop on a stopped engine does nothing.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		slog.Info("tick engine stopped", "sweeps", e.Sweeps())
		return nil
	case <-time.After(e.StopTimeout):
		return fmt.Errorf("tick engine: sweep still running after %s", e.StopTimeout)
	}
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Sweeps returns how many sweeps have completed.
func (e *Engine) Sweeps() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sweeps
}

// LastSweep returns the report of the most recent sweep.
func (e *Engine) LastSweep() SweepReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Engine) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// An in-flight sweep finishes even when Stop cancels ctx.
		e.safeSweep(context.WithoutCancel(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sweep panicked", "panic", r)
		}
	}()
	if _, err := e.SweepOnce(ctx); err != nil {
		slog.Error("sweep failed", "error", err)
	}
}

// SweepOnce ticks every non-NPC settlement, one transaction each, and then
// completes the due action queue, all against a single clock reading.
func (e *Engine) SweepOnce(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	now := e.clock.Now()
	rep := SweepReport{ID: uuid.NewString(), At: now}

	var errs []error
	ids, err := e.store.TickableSettlementIDs(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list settlements: %w", err))
	}
	for _, id := range ids {
		err := e.store.InTx(ctx, func(tx Tx) error {
			_, err := e.economy.ApplyTick(tx, id, now)
			return err
		})
		switch {
		case err == nil, errors.Is(err, realm.ErrNotFound):
			rep.Ticked++
		default:
			rep.TickFailed++
			slog.Warn("settlement tick failed", "sweep", rep.ID, "settlement", id, "error", err)
		}
	}

	stats, err := e.queue.ProcessDue(ctx, now)
	rep.Queue = stats
	if err != nil {
		errs = append(errs, err)
	}
	rep.Took = time.Since(start)

	e.mu.Lock()
	e.sweeps++
	e.last = rep
	e.mu.Unlock()

	slog.Info("sweep finished", "sweep", rep.ID, "ticked", rep.Ticked, "tick_failed", rep.TickFailed,
		"due", stats.Due, "completed", stats.Completed, "failed", stats.Failed, "took", rep.Took)
	return rep, errors.Join(errs...)
}
