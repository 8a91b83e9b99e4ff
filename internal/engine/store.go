package engine

import (
	"context"
	"time"

	"github.com/talgya/mini-realm/internal/realm"
)

// Store is the persistence capability the engine needs. Every mutation
// happens inside InTx; a non-nil error from fn rolls the transaction back.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// TickableSettlementIDs lists settlements owned by non-NPC players.
	TickableSettlementIDs(ctx context.Context) ([]int64, error)

	// DueActions returns pending entries with End <= now that sort after
	// the cursor, ordered by (End, ID), at most limit of them (limit <= 0
	// means no limit).
	DueActions(ctx context.Context, now time.Time, after DueCursor, limit int) ([]realm.ActionEntry, error)
}

// DueCursor is a position in (End, ID) order. The zero value is the head of
// the queue.
type DueCursor struct {
	End time.Time
	ID  int64
}

// Tx is a unit of work against the store. Lookups of missing rows
// return an error wrapping realm.ErrNotFound.
type Tx interface {
	Settlement(id int64) (realm.Settlement, error)
	PlayerSettlements(playerID int64) ([]realm.Settlement, error)
	// SaveTick writes balances, carry and last tick in one statement.
	SaveTick(s realm.Settlement) error
	AdjustBalances(settlementID int64, delta realm.Amounts) error

	Player(id int64) (realm.Player, error)
	SaveProgress(p realm.Player) error

	ResearchNode(id int64) (realm.ResearchNode, error)
	HasUnlock(playerID, nodeID int64) (bool, error)
	InsertUnlock(u realm.Unlock) error

	UnitTypes() (map[string]realm.UnitType, error)
	Garrison(settlementID int64) (realm.Army, error)
	AdjustGarrison(settlementID int64, unit string, delta int64) error
	AdjustPlayerUnits(playerID int64, unit string, delta int64) error
	UpgradeBuilding(settlementID int64, building string) (int, error)
	InsertBattleReport(r realm.BattleReport) (int64, error)

	InsertAction(e realm.ActionEntry) (int64, error)
	// CompleteAction moves a pending entry to completed and reports
	// whether this call performed the transition.
	CompleteAction(id int64, at time.Time) (bool, error)
}
