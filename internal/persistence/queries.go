package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/realm"
	"github.com/talgya/mini-realm/internal/world"
)

// TickableSettlementIDs lists settlements of non-NPC players.
func (db *DB) TickableSettlementIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := db.conn.SelectContext(ctx, &ids, `
		SELECT s.id FROM settlements s
		JOIN players p ON p.id = s.player_id
		WHERE p.is_npc = 0
		ORDER BY s.id`)
	return ids, err
}

// DueActions returns pending entries due at or before now that sort after
// the cursor, in (end_time, id) order. limit <= 0 returns all of them.
func (db *DB) DueActions(ctx context.Context, now time.Time, after engine.DueCursor, limit int) ([]realm.ActionEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	query := actionSelect + "WHERE status = ? AND end_time <= ?"
	args := []any{string(realm.StatusPending), toNanos(now)}
	if after.ID != 0 {
		query += " AND (end_time, id) > (?, ?)"
		args = append(args, toNanos(after.End), after.ID)
	}
	query += " ORDER BY end_time, id LIMIT ?"
	args = append(args, limit)

	var rows []actionRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toEntries(rows)
}

// Action returns one queue entry.
func (db *DB) Action(id int64) (realm.ActionEntry, error) {
	var row actionRow
	if err := db.conn.Get(&row, actionSelect+"WHERE id = ?", id); err != nil {
		return realm.ActionEntry{}, notFound(err)
	}
	return row.entry()
}

// PlayerActions returns a player's queue entries, newest first.
func (db *DB) PlayerActions(playerID int64, limit int) ([]realm.ActionEntry, error) {
	var rows []actionRow
	if err := db.conn.Select(&rows, actionSelect+"WHERE player_id = ? ORDER BY id DESC LIMIT ?", playerID, limit); err != nil {
		return nil, err
	}
	return toEntries(rows)
}

// Player returns one player.
func (db *DB) Player(id int64) (realm.Player, error) {
	var row playerRow
	if err := db.conn.Get(&row, playerSelect+"WHERE id = ?", id); err != nil {
		return realm.Player{}, notFound(err)
	}
	return row.player(), nil
}

// PlayerByName returns the player with the given username.
func (db *DB) PlayerByName(username string) (realm.Player, error) {
	var row playerRow
	if err := db.conn.Get(&row, playerSelect+"WHERE username = ?", username); err != nil {
		return realm.Player{}, notFound(err)
	}
	return row.player(), nil
}

// Players returns every player ordered by id.
func (db *DB) Players() ([]realm.Player, error) {
	var rows []playerRow
	if err := db.conn.Select(&rows, playerSelect+"ORDER BY id"); err != nil {
		return nil, err
	}
	out := make([]realm.Player, len(rows))
	for i, r := range rows {
		out[i] = r.player()
	}
	return out, nil
}

// Settlement returns one settlement with its effective rates.
func (db *DB) Settlement(id int64) (realm.Settlement, error) {
	ss, err := loadSettlements(db.conn, "WHERE s.id = ?", id)
	if err != nil {
		return realm.Settlement{}, err
	}
	if len(ss) == 0 {
		return realm.Settlement{}, realm.ErrNotFound
	}
	return ss[0], nil
}

// PlayerSettlements returns a player's settlements ordered by id.
func (db *DB) PlayerSettlements(playerID int64) ([]realm.Settlement, error) {
	return loadSettlements(db.conn, "WHERE s.player_id = ? ORDER BY s.id", playerID)
}

// Settlements returns every settlement ordered by id.
func (db *DB) Settlements() ([]realm.Settlement, error) {
	return loadSettlements(db.conn, "ORDER BY s.id")
}

// NPCSettlements returns the settlements of NPC players, oldest first.
// They are the attack targets offered to players.
func (db *DB) NPCSettlements() ([]realm.Settlement, error) {
	return loadSettlements(db.conn, `JOIN players p ON p.id = s.player_id
		WHERE p.is_npc = 1 ORDER BY s.created_at, s.id`)
}

// SettlementPositions returns the coordinates of every settlement.
func (db *DB) SettlementPositions() ([]world.Pos, error) {
	var pos []world.Pos
	err := db.conn.Select(&pos, "SELECT x, y FROM settlements")
	return pos, err
}

// PlayerArmy returns a player's unit totals.
func (db *DB) PlayerArmy(playerID int64) (realm.Army, error) {
	var rows []armyRow
	err := db.conn.Select(&rows, "SELECT unit_type, quantity FROM player_units WHERE player_id = ? AND quantity > 0", playerID)
	return toArmy(rows), err
}

// Garrison returns the units stationed at a settlement.
func (db *DB) Garrison(settlementID int64) (realm.Army, error) {
	var rows []armyRow
	err := db.conn.Select(&rows, "SELECT unit_type, quantity FROM settlement_garrisons WHERE settlement_id = ? AND quantity > 0", settlementID)
	return toArmy(rows), err
}

// Buildings returns a settlement's building levels.
func (db *DB) Buildings(settlementID int64) (map[string]int, error) {
	var rows []struct {
		Building string `db:"building"`
		Level    int    `db:"level"`
	}
	if err := db.conn.Select(&rows, "SELECT building, level FROM settlement_buildings WHERE settlement_id = ?", settlementID); err != nil {
		return nil, err
	}
	m := make(map[string]int, len(rows))
	for _, r := range rows {
		m[r.Building] = r.Level
	}
	return m, nil
}

// PlayerResearch returns a player's unlocks in unlock order.
func (db *DB) PlayerResearch(playerID int64) ([]realm.Unlock, error) {
	var rows []struct {
		PlayerID   int64 `db:"player_id"`
		NodeID     int64 `db:"node_id"`
		UnlockedAt int64 `db:"unlocked_at"`
	}
	err := db.conn.Select(&rows, "SELECT player_id, node_id, unlocked_at FROM player_research WHERE player_id = ? ORDER BY unlocked_at, node_id", playerID)
	if err != nil {
		return nil, err
	}
	out := make([]realm.Unlock, len(rows))
	for i, r := range rows {
		out[i] = realm.Unlock{PlayerID: r.PlayerID, NodeID: r.NodeID, UnlockedAt: fromNanos(r.UnlockedAt)}
	}
	return out, nil
}

// ResearchNodes returns the research catalog ordered by sector and level.
func (db *DB) ResearchNodes() ([]realm.ResearchNode, error) {
	return loadNodes(db.conn, "ORDER BY sector, required_player_level, id")
}

// ResearchNodeByName returns the catalog node with the given name.
func (db *DB) ResearchNodeByName(name string) (realm.ResearchNode, error) {
	nodes, err := loadNodes(db.conn, "WHERE name = ?", name)
	if err != nil {
		return realm.ResearchNode{}, err
	}
	if len(nodes) == 0 {
		return realm.ResearchNode{}, realm.ErrNotFound
	}
	return nodes[0], nil
}

// UnitTypes returns the unit catalog.
func (db *DB) UnitTypes() ([]realm.UnitType, error) {
	return loadUnitTypes(db.conn)
}

// BattleReport returns the report with the given public id.
func (db *DB) BattleReport(uuid string) (realm.BattleReport, error) {
	var row reportRow
	err := db.conn.Get(&row, `SELECT id, uuid, action_id, attacker_settlement_id, defender_settlement_id, result_json, created_at
		FROM battle_reports WHERE uuid = ?`, uuid)
	if err != nil {
		return realm.BattleReport{}, notFound(err)
	}
	return row.report(), nil
}

// BattleReports returns the most recent reports involving a settlement.
func (db *DB) BattleReports(settlementID int64, limit int) ([]realm.BattleReport, error) {
	var rows []reportRow
	err := db.conn.Select(&rows, `SELECT id, uuid, action_id, attacker_settlement_id, defender_settlement_id, result_json, created_at
		FROM battle_reports WHERE attacker_settlement_id = ? OR defender_settlement_id = ?
		ORDER BY id DESC LIMIT ?`, settlementID, settlementID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]realm.BattleReport, len(rows))
	for i, r := range rows {
		out[i] = r.report()
	}
	return out, nil
}

// Stats summarizes the stored world.
type Stats struct {
	Players        int `db:"players" json:"players"`
	Settlements    int `db:"settlements" json:"settlements"`
	PendingActions int `db:"pending" json:"pending_actions"`
	DoneActions    int `db:"completed" json:"completed_actions"`
	BattleReports  int `db:"reports" json:"battle_reports"`
	Snapshots      int `db:"snapshots" json:"snapshots"`
}

// Stats counts rows across the main tables.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.conn.Get(&s, `SELECT
		(SELECT COUNT(*) FROM players) AS players,
		(SELECT COUNT(*) FROM settlements) AS settlements,
		(SELECT COUNT(*) FROM action_queue WHERE status = 'pending') AS pending,
		(SELECT COUNT(*) FROM action_queue WHERE status = 'completed') AS completed,
		(SELECT COUNT(*) FROM battle_reports) AS reports,
		(SELECT COUNT(*) FROM snapshots) AS snapshots`)
	if err != nil {
		return s, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}
