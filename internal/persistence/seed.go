package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/mini-realm/internal/realm"
)

// SettlementType is a row of the settlement type catalog. Caps of
// realm.NoLimit are stored as NULL.
type SettlementType struct {
	Name          string
	Rates         realm.Rates
	Caps          realm.Limits
	MaxPopulation int
	Description   string
}

func caps(food, wood, stone, silver int64) realm.Limits {
	return realm.Limits{food, wood, stone, silver, realm.NoLimit}
}

// DefaultSettlementTypes are the base hourly rates and storage caps.
var DefaultSettlementTypes = []SettlementType{
	{"village", realm.Rates{60, 36, 24, 12, 0}, caps(10000, 10000, 10000, 5000), 100, "A small village"},
	{"town", realm.Rates{120, 72, 48, 30, 0}, caps(25000, 25000, 25000, 12000), 500, "A bustling town"},
	{"city", realm.Rates{240, 150, 90, 60, 0}, caps(60000, 60000, 60000, 30000), 2000, "A great city"},
	{"castle", realm.Rates{180, 90, 120, 90, 0}, caps(40000, 40000, 40000, 20000), 2000, "A fortified castle"},
	{"outpost", realm.Rates{30, 90, 12, 6, 0}, caps(4000, 4000, 4000, 2000), 50, "A remote outpost"},
}

// DefaultUnitTypes is the trainable unit catalog.
var DefaultUnitTypes = []realm.UnitType{
	{Name: "infantry", Attack: 10, Defense: 5, Health: 1, CostWood: 10, CostSilver: 5},
	{Name: "archer", Attack: 7, Defense: 3, Health: 1, CostWood: 15, CostSilver: 0},
	{Name: "cavalry", Attack: 15, Defense: 10, Health: 2, CostWood: 20, CostSilver: 10},
}

func production(r realm.Resource, v float64) []realm.ResearchEffect {
	return []realm.ResearchEffect{{Type: realm.EffectProduction, Target: r, Value: v}}
}

// DefaultResearchNodes is the research catalog. IDs are assigned on insert.
var DefaultResearchNodes = []realm.ResearchNode{
	{Sector: "agriculture", Name: "Crop Rotation", Description: "Fields rest in turn and yield more.",
		RequiredLevel: 1, Cost: realm.Amounts{200, 100, 0, 0, 0}, Duration: time.Hour,
		Effects: production(realm.Food, 0.10)},
	{Sector: "agriculture", Name: "Irrigation", Description: "Canals carry water to dry fields.",
		RequiredLevel: 3, Cost: realm.Amounts{600, 300, 200, 0, 0}, Duration: 4 * time.Hour,
		Effects: production(realm.Food, 0.15)},
	{Sector: "industry", Name: "Lumber Mills", Description: "Water-driven saws speed up timber work.",
		RequiredLevel: 2, Cost: realm.Amounts{0, 300, 100, 0, 0}, Duration: 2 * time.Hour,
		Effects: production(realm.Wood, 0.10)},
	{Sector: "industry", Name: "Masonry", Description: "Trained masons cut stone faster.",
		RequiredLevel: 3, Cost: realm.Amounts{0, 200, 400, 0, 0}, Duration: 3 * time.Hour,
		Effects: production(realm.Stone, 0.10)},
	{Sector: "commerce", Name: "Coinage", Description: "Minted coin makes silver trade easier.",
		RequiredLevel: 5, Cost: realm.Amounts{0, 0, 300, 300, 0}, Duration: 6 * time.Hour,
		Effects: production(realm.Silver, 0.15)},
	{Sector: "military", Name: "Drill Yards", Description: "Open ground for training soldiers.",
		RequiredLevel: 2, Cost: realm.Amounts{300, 200, 0, 100, 0}, Duration: 2 * time.Hour},
}

// StartingBalances is what a newly founded settlement holds.
var StartingBalances = realm.Amounts{500, 500, 200, 100, 0}

// NPCUsername is the seeded non-player opponent.
const NPCUsername = "npc_enemy"

// Seed inserts the static catalogs and the NPC opponent. It is idempotent.
func (db *DB) Seed(now time.Time) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, st := range DefaultSettlementTypes {
		var c [realm.NumResources]sql.NullInt64
		for i, v := range st.Caps {
			c[i] = sql.NullInt64{Int64: v, Valid: v != realm.NoLimit}
		}
		_, err := tx.Exec(`INSERT OR IGNORE INTO settlement_types
			(name, food_rate, wood_rate, stone_rate, silver_rate, gold_rate,
			 food_cap, wood_cap, stone_cap, silver_cap, gold_cap, max_population, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.Name, st.Rates[0], st.Rates[1], st.Rates[2], st.Rates[3], st.Rates[4],
			c[0], c[1], c[2], c[3], c[4], st.MaxPopulation, st.Description)
		if err != nil {
			return fmt.Errorf("insert settlement type %s: %w", st.Name, err)
		}
	}

	for _, u := range DefaultUnitTypes {
		_, err := tx.Exec(`INSERT OR IGNORE INTO unit_types
			(unit_type, attack, defense, health, cost_wood, cost_silver) VALUES (?, ?, ?, ?, ?, ?)`,
			u.Name, u.Attack, u.Defense, u.Health, u.CostWood, u.CostSilver)
		if err != nil {
			return fmt.Errorf("insert unit type %s: %w", u.Name, err)
		}
	}

	for _, n := range DefaultResearchNodes {
		res, err := tx.Exec(`INSERT OR IGNORE INTO research_nodes
			(sector, name, description, required_player_level,
			 cost_food, cost_wood, cost_stone, cost_silver, cost_gold, research_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.Sector, n.Name, n.Description, n.RequiredLevel,
			n.Cost[0], n.Cost[1], n.Cost[2], n.Cost[3], n.Cost[4], int64(n.Duration/time.Second))
		if err != nil {
			return fmt.Errorf("insert research node %s: %w", n.Name, err)
		}
		if added, _ := res.RowsAffected(); added == 0 {
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, e := range n.Effects {
			_, err := tx.Exec("INSERT INTO research_effects (node_id, effect_type, target, value) VALUES (?, ?, ?, ?)",
				id, e.Type, e.Target.String(), e.Value)
			if err != nil {
				return fmt.Errorf("insert effect for %s: %w", n.Name, err)
			}
		}
	}

	var npcID int64
	err = tx.Get(&npcID, "SELECT id FROM players WHERE username = ?", NPCUsername)
	if errors.Is(err, sql.ErrNoRows) {
		if err := seedNPC(tx.Tx, now); err != nil {
			return fmt.Errorf("seed npc: %w", err)
		}
	} else if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("catalog seeded", "settlement_types", len(DefaultSettlementTypes),
		"unit_types", len(DefaultUnitTypes), "research_nodes", len(DefaultResearchNodes))
	return nil
}

func seedNPC(tx *sql.Tx, now time.Time) error {
	res, err := tx.Exec("INSERT INTO players (username, is_npc, created_at) VALUES (?, 1, ?)", NPCUsername, toNanos(now))
	if err != nil {
		return err
	}
	npcID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	res, err = tx.Exec(`INSERT INTO settlements
		(player_id, name, x, y, settlement_type, food, wood, stone, silver, gold, last_tick, created_at)
		VALUES (?, 'Northumbria', 400, 150, 'castle', 1000, 500, 200, 100, 10, ?, ?)`,
		npcID, toNanos(now), toNanos(now))
	if err != nil {
		return err
	}
	castleID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, u := range []struct {
		unit            string
		total, garrison int64
	}{
		{"infantry", 100, 40},
		{"archer", 50, 15},
		{"cavalry", 30, 10},
	} {
		if _, err := tx.Exec("INSERT INTO player_units (player_id, unit_type, quantity) VALUES (?, ?, ?)", npcID, u.unit, u.total); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO settlement_garrisons (settlement_id, unit_type, quantity) VALUES (?, ?, ?)", castleID, u.unit, u.garrison); err != nil {
			return err
		}
	}
	return nil
}

// NewSettlement describes a settlement to found.
type NewSettlement struct {
	Name string
	Type string
	X, Y int
}

// CreatePlayer registers a player together with their first settlement,
// which starts with StartingBalances and begins producing at now. A first
// settlement without a name registers the player alone.
func (db *DB) CreatePlayer(username string, first NewSettlement, now time.Time) (realm.Player, realm.Settlement, error) {
	var p realm.Player
	var s realm.Settlement
	err := retryOp(defaultRetryConfig, func() error {
		tx, err := db.conn.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		res, err := tx.Exec("INSERT INTO players (username, created_at) VALUES (?, ?)", username, toNanos(now))
		if err != nil {
			return fmt.Errorf("insert player %s: %w", username, err)
		}
		pid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if first.Name != "" {
			if s.ID, err = insertSettlement(tx.Tx, pid, first, StartingBalances, now); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		p = realm.Player{ID: pid, Username: username, Level: 1}
		return nil
	})
	if err != nil || s.ID == 0 {
		return p, s, err
	}
	s, err = db.Settlement(s.ID)
	return p, s, err
}

// AddSettlement founds another settlement for an existing player.
func (db *DB) AddSettlement(playerID int64, ns NewSettlement, balances realm.Amounts, now time.Time) (realm.Settlement, error) {
	var id int64
	err := retryOp(defaultRetryConfig, func() error {
		tx, err := db.conn.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if id, err = insertSettlement(tx.Tx, playerID, ns, balances, now); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return realm.Settlement{}, err
	}
	return db.Settlement(id)
}

func insertSettlement(tx *sql.Tx, playerID int64, ns NewSettlement, b realm.Amounts, now time.Time) (int64, error) {
	if ns.Type == "" {
		ns.Type = "village"
	}
	res, err := tx.Exec(`INSERT INTO settlements
		(player_id, name, x, y, settlement_type, food, wood, stone, silver, gold, last_tick, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		playerID, ns.Name, ns.X, ns.Y, ns.Type,
		b[realm.Food], b[realm.Wood], b[realm.Stone], b[realm.Silver], b[realm.Gold],
		toNanos(now), toNanos(now))
	if err != nil {
		return 0, fmt.Errorf("insert settlement %s: %w", ns.Name, err)
	}
	return res.LastInsertId()
}

// RemoveSettlement razes a settlement. Its buildings and garrison go with
// it. Queue entries and battle reports stay, with the settlement reference
// cleared; pending orders from it complete as no-ops.
func (db *DB) RemoveSettlement(id int64) error {
	return retryOp(defaultRetryConfig, func() error {
		res, err := db.conn.Exec("DELETE FROM settlements WHERE id = ?", id)
		if err := affectedOne(res, err, "settlement", id); err != nil {
			return err
		}
		slog.Info("settlement removed", "id", id)
		return nil
	})
}
