package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/talgya/mini-realm/internal/clock"
	"github.com/talgya/mini-realm/internal/realm"
)

// DefaultDueBatch is how many due entries a sweep loads per page.
const DefaultDueBatch = 500

// Handler applies the effect of one completed action inside the entry's
// transaction. A returned error rolls the whole entry back.
type Handler func(tx Tx, entry realm.ActionEntry, now time.Time) error

// Handlers binds a handler to every action kind.
type Handlers struct {
	Build  Handler
	Train  Handler
	Attack Handler
}

// For returns the handler registered for kind.
func (h Handlers) For(kind realm.ActionKind) (Handler, error) {
	var fn Handler
	switch kind {
	case realm.ActionBuild:
		fn = h.Build
	case realm.ActionTrain:
		fn = h.Train
	case realm.ActionAttack:
		fn = h.Attack
	default:
		return nil, fmt.Errorf("%w: unknown action kind %d", realm.ErrInvalidOrder, kind)
	}
	if fn == nil {
		return nil, fmt.Errorf("no handler for %s", kind)
	}
	return fn, nil
}

// AuditSink records completed actions. Failures never affect the queue.
type AuditSink interface {
	Record(v any) error
}

// CompletedAction is the audit record of a completed entry.
type CompletedAction struct {
	Event       string            `json:"event"`
	Entry       realm.ActionEntry `json:"entry"`
	Tick        TickResult        `json:"tick"`
	CompletedAt time.Time         `json:"completed_at"`
}

// SweepStats summarizes one ProcessDue pass.
type SweepStats struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"` // already completed by a concurrent sweep
	Failed    int `json:"failed"`
}

// Queue accepts deferred actions and applies them once they are due.
type Queue struct {
	store    Store
	economy  *Economy
	handlers Handlers
	clock    clock.Clock

	BatchSize int
	Audit     AuditSink
}

// NewQueue returns a queue dispatching to handlers. Every action kind must
// have a handler.
func NewQueue(store Store, economy *Economy, handlers Handlers, clk clock.Clock) (*Queue, error) {
	for _, k := range realm.ActionKinds {
		if _, err := handlers.For(k); err != nil {
			return nil, err
		}
	}
	return &Queue{
		store:     store,
		economy:   economy,
		handlers:  handlers,
		clock:     clk,
		BatchSize: DefaultDueBatch,
	}, nil
}

// Enqueue validates o and stores it as a pending entry due at now+Duration.
func (q *Queue) Enqueue(ctx context.Context, o realm.Order) (realm.ActionEntry, error) {
	if o.Duration < 0 {
		return realm.ActionEntry{}, fmt.Errorf("%w: negative duration %s", realm.ErrInvalidOrder, o.Duration)
	}
	if _, err := q.handlers.For(o.Kind); err != nil {
		return realm.ActionEntry{}, err
	}
	if err := realm.ValidatePayload(o.Kind, o.Payload); err != nil {
		return realm.ActionEntry{}, err
	}
	if o.Kind != realm.ActionAttack {
		o.TargetID = 0
	}

	now := q.clock.Now()
	entry := realm.ActionEntry{
		PlayerID:     o.PlayerID,
		SettlementID: o.SettlementID,
		TargetID:     o.TargetID,
		Kind:         o.Kind,
		Payload:      o.Payload,
		Start:        now,
		End:          now.Add(o.Duration),
		Status:       realm.StatusPending,
		CreatedAt:    now,
	}

	err := q.store.InTx(ctx, func(tx Tx) error {
		s, err := tx.Settlement(o.SettlementID)
		if err != nil {
			return fmt.Errorf("%w: settlement %d: %w", realm.ErrInvalidOrder, o.SettlementID, err)
		}
		if s.PlayerID != o.PlayerID {
			return fmt.Errorf("%w: settlement %d is not owned by player %d", realm.ErrInvalidOrder, s.ID, o.PlayerID)
		}

		switch o.Kind {
		case realm.ActionAttack:
			if o.TargetID == 0 || o.TargetID == o.SettlementID {
				return fmt.Errorf("%w: attack needs a target other than the source", realm.ErrInvalidOrder)
			}
			if _, err := tx.Settlement(o.TargetID); err != nil {
				return fmt.Errorf("%w: target %d: %w", realm.ErrInvalidOrder, o.TargetID, err)
			}
		case realm.ActionTrain:
			var p realm.TrainPayload
			if err := realm.DecodePayload(o.Kind, o.Payload, &p); err != nil {
				return err
			}
			units, err := tx.UnitTypes()
			if err != nil {
				return err
			}
			if _, ok := units[p.Unit]; !ok {
				return fmt.Errorf("%w: unknown unit %q", realm.ErrInvalidPayload, p.Unit)
			}
		}

		id, err := tx.InsertAction(entry)
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		entry.ID = id
		return nil
	})
	if err != nil {
		return realm.ActionEntry{}, err
	}

	slog.Info("action queued", "id", entry.ID, "kind", entry.Kind, "settlement", entry.SettlementID, "due", entry.End)
	return entry, nil
}

// errNotPending rolls back an entry some other sweep already completed.
var errNotPending = errors.New("action no longer pending")

// ProcessDue completes every pending entry due at or before now, in
// (End, ID) order. Each entry commits or rolls back on its own; a failed
// entry stays pending and is retried on a later sweep. Entries are loaded
// BatchSize at a time and paging moves past failed entries, so they never
// hide the rest of the due set.
func (q *Queue) ProcessDue(ctx context.Context, now time.Time) (SweepStats, error) {
	var (
		stats SweepStats
		after DueCursor
	)
	for {
		due, err := q.store.DueActions(ctx, now, after, q.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("load due actions: %w", err)
		}
		if len(due) == 0 {
			return stats, nil
		}
		sort.SliceStable(due, func(i, j int) bool {
			if !due[i].End.Equal(due[j].End) {
				return due[i].End.Before(due[j].End)
			}
			return due[i].ID < due[j].ID
		})
		stats.Due += len(due)

		for _, entry := range due {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			tick, err := q.complete(ctx, entry, now)
			switch {
			case errors.Is(err, errNotPending):
				stats.Skipped++
			case err != nil:
				stats.Failed++
				slog.Error("action failed", "id", entry.ID, "kind", entry.Kind, "settlement", entry.SettlementID, "error", err)
			default:
				stats.Completed++
				q.record(entry, tick, now)
			}
		}

		if q.BatchSize <= 0 || len(due) < q.BatchSize {
			return stats, nil
		}
		last := due[len(due)-1]
		after = DueCursor{End: last.End, ID: last.ID}
	}
}

func (q *Queue) complete(ctx context.Context, entry realm.ActionEntry, now time.Time) (TickResult, error) {
	handler, err := q.handlers.For(entry.Kind)
	if err != nil {
		return TickResult{}, err
	}

	var tick TickResult
	err = q.store.InTx(ctx, func(tx Tx) error {
		if entry.SettlementID == 0 {
			slog.Warn("action source no longer exists", "id", entry.ID, "kind", entry.Kind)
			return markCompleted(tx, entry.ID, now)
		}
		res, err := q.economy.ApplyTick(tx, entry.SettlementID, now)
		if err != nil && !errors.Is(err, realm.ErrNotFound) {
			return err
		}
		tick = res

		if err := handler(tx, entry, now); err != nil {
			return fmt.Errorf("%s handler: %w", entry.Kind, err)
		}
		return markCompleted(tx, entry.ID, now)
	})
	return tick, err
}

func markCompleted(tx Tx, id int64, now time.Time) error {
	ok, err := tx.CompleteAction(id, now)
	if err != nil {
		return fmt.Errorf("complete action: %w", err)
	}
	if !ok {
		return errNotPending
	}
	return nil
}

func (q *Queue) record(entry realm.ActionEntry, tick TickResult, now time.Time) {
	if q.Audit == nil {
		return
	}
	entry.Status = realm.StatusCompleted
	entry.CompletedAt = now
	rec := CompletedAction{Event: "action_completed", Entry: entry, Tick: tick, CompletedAt: now}
	if err := q.Audit.Record(rec); err != nil {
		slog.Warn("audit write failed", "id", entry.ID, "error", err)
	}
}
