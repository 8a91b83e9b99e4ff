package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/mini-realm/internal/clock"
	"github.com/talgya/mini-realm/internal/realm"
)

// Research unlocks catalog nodes for players, paying from their pooled
// settlement balances.
type Research struct {
	store   Store
	economy *Economy
	clock   clock.Clock
}

func NewResearch(store Store, economy *Economy, clk clock.Clock) *Research {
	return &Research{store: store, economy: economy, clock: clk}
}

// Unlock validates and pays for nodeID on behalf of playerID in a single
// transaction. Every rejection wraps realm.ErrRejected and leaves the store
// untouched.
func (r *Research) Unlock(ctx context.Context, playerID, nodeID int64) (realm.Unlock, error) {
	now := r.clock.Now()
	u := realm.Unlock{PlayerID: playerID, NodeID: nodeID, UnlockedAt: now}

	err := r.store.InTx(ctx, func(tx Tx) error {
		node, err := tx.ResearchNode(nodeID)
		if errors.Is(err, realm.ErrNotFound) {
			return fmt.Errorf("%w: node %d", realm.ErrNodeNotFound, nodeID)
		} else if err != nil {
			return err
		}

		has, err := tx.HasUnlock(playerID, nodeID)
		if err != nil {
			return err
		}
		if has {
			return realm.ErrAlreadyUnlocked
		}

		player, err := tx.Player(playerID)
		if errors.Is(err, realm.ErrNotFound) {
			return fmt.Errorf("%w: player %d", realm.ErrPlayerNotFound, playerID)
		} else if err != nil {
			return err
		}
		if player.Level < node.RequiredLevel {
			return fmt.Errorf("%w: requires level %d, player is level %d", realm.ErrLevelTooLow, node.RequiredLevel, player.Level)
		}

		settlements, err := tx.PlayerSettlements(playerID)
		if err != nil {
			return err
		}
		if len(settlements) == 0 {
			return realm.ErrNoSettlements
		}
		for _, s := range settlements {
			if _, err := r.economy.ApplyTick(tx, s.ID, now); err != nil {
				return err
			}
		}
		settlements, err = tx.PlayerSettlements(playerID)
		if err != nil {
			return err
		}

		balances := make([]realm.Amounts, len(settlements))
		var pooled realm.Amounts
		for i, s := range settlements {
			balances[i] = s.Balances
			pooled = pooled.Add(s.Balances)
		}
		if !pooled.Covers(node.Cost) {
			for _, res := range realm.AllResources {
				if pooled[res] < node.Cost[res] {
					return fmt.Errorf("%w: need %d %s, have %d", realm.ErrInsufficientResources, node.Cost[res], res, pooled[res])
				}
			}
		}

		for i, debit := range SplitCost(node.Cost, balances) {
			if debit.IsZero() {
				continue
			}
			if err := tx.AdjustBalances(settlements[i].ID, debit.Neg()); err != nil {
				return fmt.Errorf("debit settlement %d: %w", settlements[i].ID, err)
			}
		}
		return tx.InsertUnlock(u)
	})
	if err != nil {
		return realm.Unlock{}, err
	}

	slog.Info("research unlocked", "player", playerID, "node", nodeID)
	return u, nil
}

// SplitCost spreads cost across settlements with the given balances. Each
// settlement owes cost/len(balances) of every resource (integer division).
// A settlement short of its share pays what it holds and the remainder is
// taken from the others, richest first. The caller guarantees the pooled
// balances cover cost.
func SplitCost(cost realm.Amounts, balances []realm.Amounts) []realm.Amounts {
	n := len(balances)
	debits := make([]realm.Amounts, n)
	if n == 0 {
		return debits
	}
	share := cost.DivInt(int64(n))

	for _, res := range realm.AllResources {
		var shortfall int64
		for i := range balances {
			d := share[res]
			if have := max(balances[i][res], 0); have < d {
				shortfall += d - have
				d = have
			}
			debits[i][res] = d
		}
		if shortfall == 0 {
			continue
		}

		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		left := func(i int) int64 { return balances[i][res] - debits[i][res] }
		sort.SliceStable(order, func(a, b int) bool { return left(order[a]) > left(order[b]) })
		for _, i := range order {
			if shortfall == 0 {
				break
			}
			take := min(max(left(i), 0), shortfall)
			debits[i][res] += take
			shortfall -= take
		}
	}
	return debits
}
