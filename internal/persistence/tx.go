package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/realm"
)

// repoTx implements engine.Tx over one SQL transaction.
type repoTx struct {
	tx *sqlx.Tx
}

var _ engine.Tx = (*repoTx)(nil)

func (t *repoTx) Settlement(id int64) (realm.Settlement, error) {
	ss, err := loadSettlements(t.tx, "WHERE s.id = ?", id)
	if err != nil {
		return realm.Settlement{}, err
	}
	if len(ss) == 0 {
		return realm.Settlement{}, fmt.Errorf("settlement %d: %w", id, realm.ErrNotFound)
	}
	return ss[0], nil
}

func (t *repoTx) PlayerSettlements(playerID int64) ([]realm.Settlement, error) {
	return loadSettlements(t.tx, "WHERE s.player_id = ? ORDER BY s.id", playerID)
}

func (t *repoTx) SaveTick(s realm.Settlement) error {
	b, c := s.Balances, s.Carry
	res, err := t.tx.Exec(`UPDATE settlements SET
		food = ?, wood = ?, stone = ?, silver = ?, gold = ?,
		food_carry = ?, wood_carry = ?, stone_carry = ?, silver_carry = ?, gold_carry = ?,
		last_tick = ?
		WHERE id = ?`,
		b[realm.Food], b[realm.Wood], b[realm.Stone], b[realm.Silver], b[realm.Gold],
		c[realm.Food], c[realm.Wood], c[realm.Stone], c[realm.Silver], c[realm.Gold],
		nullNanos(s.LastTick), s.ID,
	)
	return affectedOne(res, err, "settlement", s.ID)
}

func (t *repoTx) AdjustBalances(settlementID int64, d realm.Amounts) error {
	res, err := t.tx.Exec(`UPDATE settlements SET
		food = food + ?, wood = wood + ?, stone = stone + ?, silver = silver + ?, gold = gold + ?
		WHERE id = ?`,
		d[realm.Food], d[realm.Wood], d[realm.Stone], d[realm.Silver], d[realm.Gold], settlementID,
	)
	return affectedOne(res, err, "settlement", settlementID)
}

func (t *repoTx) Player(id int64) (realm.Player, error) {
	var row playerRow
	if err := t.tx.Get(&row, playerSelect+"WHERE id = ?", id); err != nil {
		return realm.Player{}, fmt.Errorf("player %d: %w", id, notFound(err))
	}
	return row.player(), nil
}

func (t *repoTx) SaveProgress(p realm.Player) error {
	res, err := t.tx.Exec("UPDATE players SET level = ?, experience = ? WHERE id = ?", p.Level, p.Experience, p.ID)
	return affectedOne(res, err, "player", p.ID)
}

func (t *repoTx) ResearchNode(id int64) (realm.ResearchNode, error) {
	nodes, err := loadNodes(t.tx, "WHERE id = ?", id)
	if err != nil {
		return realm.ResearchNode{}, err
	}
	if len(nodes) == 0 {
		return realm.ResearchNode{}, fmt.Errorf("research node %d: %w", id, realm.ErrNotFound)
	}
	return nodes[0], nil
}

func (t *repoTx) HasUnlock(playerID, nodeID int64) (bool, error) {
	var n int
	err := t.tx.Get(&n, "SELECT COUNT(*) FROM player_research WHERE player_id = ? AND node_id = ?", playerID, nodeID)
	return n > 0, err
}

func (t *repoTx) InsertUnlock(u realm.Unlock) error {
	_, err := t.tx.Exec("INSERT INTO player_research (player_id, node_id, unlocked_at) VALUES (?, ?, ?)",
		u.PlayerID, u.NodeID, toNanos(u.UnlockedAt))
	return err
}

func (t *repoTx) UnitTypes() (map[string]realm.UnitType, error) {
	list, err := loadUnitTypes(t.tx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]realm.UnitType, len(list))
	for _, u := range list {
		m[u.Name] = u
	}
	return m, nil
}

func (t *repoTx) Garrison(settlementID int64) (realm.Army, error) {
	var rows []armyRow
	err := t.tx.Select(&rows, "SELECT unit_type, quantity FROM settlement_garrisons WHERE settlement_id = ? AND quantity > 0", settlementID)
	return toArmy(rows), err
}

func (t *repoTx) AdjustGarrison(settlementID int64, unit string, delta int64) error {
	_, err := t.tx.Exec(`INSERT INTO settlement_garrisons (settlement_id, unit_type, quantity) VALUES (?, ?, MAX(?, 0))
		ON CONFLICT (settlement_id, unit_type) DO UPDATE SET quantity = MAX(quantity + ?, 0)`,
		settlementID, unit, delta, delta)
	if err != nil {
		return fmt.Errorf("adjust garrison %d %s: %w", settlementID, unit, err)
	}
	return nil
}

func (t *repoTx) AdjustPlayerUnits(playerID int64, unit string, delta int64) error {
	_, err := t.tx.Exec(`INSERT INTO player_units (player_id, unit_type, quantity) VALUES (?, ?, MAX(?, 0))
		ON CONFLICT (player_id, unit_type) DO UPDATE SET quantity = MAX(quantity + ?, 0)`,
		playerID, unit, delta, delta)
	if err != nil {
		return fmt.Errorf("adjust units %d %s: %w", playerID, unit, err)
	}
	return nil
}

func (t *repoTx) UpgradeBuilding(settlementID int64, building string) (int, error) {
	var level int
	err := t.tx.Get(&level, `INSERT INTO settlement_buildings (settlement_id, building, level) VALUES (?, ?, 1)
		ON CONFLICT (settlement_id, building) DO UPDATE SET level = level + 1
		RETURNING level`,
		settlementID, building)
	return level, err
}

func (t *repoTx) InsertBattleReport(r realm.BattleReport) (int64, error) {
	res, err := t.tx.Exec(`INSERT INTO battle_reports
		(uuid, action_id, attacker_settlement_id, defender_settlement_id, result_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.UUID, r.ActionID, r.AttackerID, r.DefenderID, string(r.Result), toNanos(r.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *repoTx) InsertAction(e realm.ActionEntry) (int64, error) {
	target := sql.NullInt64{Int64: e.TargetID, Valid: e.TargetID != 0}
	res, err := t.tx.Exec(`INSERT INTO action_queue
		(player_id, settlement_id, target_settlement_id, action_type, payload, start_time, end_time, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PlayerID, e.SettlementID, target, e.Kind.String(), string(e.Payload),
		toNanos(e.Start), toNanos(e.End), string(realm.StatusPending), toNanos(e.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *repoTx) CompleteAction(id int64, at time.Time) (bool, error) {
	res, err := t.tx.Exec("UPDATE action_queue SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
		string(realm.StatusCompleted), toNanos(at), id, string(realm.StatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func affectedOne(res sql.Result, err error, what string, id int64) error {
	if err != nil {
		return fmt.Errorf("update %s %d: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, realm.ErrNotFound)
	}
	return nil
}
