package persistence

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/mini-realm/internal/realm"
)

// Times are stored as UTC unix nanoseconds.
func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return fromNanos(n.Int64)
}

const settlementSelect = `SELECT
	s.id, s.player_id, s.name, s.settlement_type, s.x, s.y,
	s.food, s.wood, s.stone, s.silver, s.gold,
	s.food_carry, s.wood_carry, s.stone_carry, s.silver_carry, s.gold_carry,
	t.food_rate, t.wood_rate, t.stone_rate, t.silver_rate, t.gold_rate,
	t.food_cap, t.wood_cap, t.stone_cap, t.silver_cap, t.gold_cap,
	s.last_tick
FROM settlements s JOIN settlement_types t ON t.name = s.settlement_type `

type settlementRow struct {
	ID       int64  `db:"id"`
	PlayerID int64  `db:"player_id"`
	Name     string `db:"name"`
	Type     string `db:"settlement_type"`
	X        int    `db:"x"`
	Y        int    `db:"y"`

	Food   int64 `db:"food"`
	Wood   int64 `db:"wood"`
	Stone  int64 `db:"stone"`
	Silver int64 `db:"silver"`
	Gold   int64 `db:"gold"`

	FoodCarry   float64 `db:"food_carry"`
	WoodCarry   float64 `db:"wood_carry"`
	StoneCarry  float64 `db:"stone_carry"`
	SilverCarry float64 `db:"silver_carry"`
	GoldCarry   float64 `db:"gold_carry"`

	FoodRate   float64 `db:"food_rate"`
	WoodRate   float64 `db:"wood_rate"`
	StoneRate  float64 `db:"stone_rate"`
	SilverRate float64 `db:"silver_rate"`
	GoldRate   float64 `db:"gold_rate"`

	FoodCap   sql.NullInt64 `db:"food_cap"`
	WoodCap   sql.NullInt64 `db:"wood_cap"`
	StoneCap  sql.NullInt64 `db:"stone_cap"`
	SilverCap sql.NullInt64 `db:"silver_cap"`
	GoldCap   sql.NullInt64 `db:"gold_cap"`

	LastTick sql.NullInt64 `db:"last_tick"`
}

func (r settlementRow) settlement(multipliers realm.Rates) realm.Settlement {
	s := realm.Settlement{
		ID:       r.ID,
		PlayerID: r.PlayerID,
		Name:     r.Name,
		Type:     r.Type,
		X:        r.X,
		Y:        r.Y,
		Balances: realm.Amounts{r.Food, r.Wood, r.Stone, r.Silver, r.Gold},
		Carry:    realm.Rates{r.FoodCarry, r.WoodCarry, r.StoneCarry, r.SilverCarry, r.GoldCarry},
		Rates:    realm.Rates{r.FoodRate, r.WoodRate, r.StoneRate, r.SilverRate, r.GoldRate}.Scale(multipliers),
		LastTick: fromNullNanos(r.LastTick),
	}
	for i, c := range [realm.NumResources]sql.NullInt64{r.FoodCap, r.WoodCap, r.StoneCap, r.SilverCap, r.GoldCap} {
		s.Capacity[i] = realm.NoLimit
		if c.Valid {
			s.Capacity[i] = c.Int64
		}
	}
	return s
}

// loadSettlements runs settlementSelect with the given clause and applies
// each owner's research production multipliers to the base rates.
func loadSettlements(q sqlx.Queryer, clause string, args ...any) ([]realm.Settlement, error) {
	var rows []settlementRow
	if err := sqlx.Select(q, &rows, settlementSelect+clause, args...); err != nil {
		return nil, err
	}

	out := make([]realm.Settlement, 0, len(rows))
	multipliers := make(map[int64]realm.Rates)
	for _, r := range rows {
		m, ok := multipliers[r.PlayerID]
		if !ok {
			var err error
			if m, err = productionMultipliers(q, r.PlayerID); err != nil {
				return nil, err
			}
			multipliers[r.PlayerID] = m
		}
		out = append(out, r.settlement(m))
	}
	return out, nil
}

// productionMultipliers returns 1 plus the summed production effects the
// player has unlocked, per resource.
func productionMultipliers(q sqlx.Queryer, playerID int64) (realm.Rates, error) {
	var sums []struct {
		Target string  `db:"target"`
		Total  float64 `db:"total"`
	}
	err := sqlx.Select(q, &sums, `
		SELECT e.target, SUM(e.value) AS total
		FROM research_effects e
		JOIN player_research pr ON pr.node_id = e.node_id
		WHERE pr.player_id = ? AND e.effect_type = ?
		GROUP BY e.target`,
		playerID, realm.EffectProduction,
	)
	if err != nil {
		return realm.Rates{}, err
	}

	m := realm.Rates{1, 1, 1, 1, 1}
	for _, s := range sums {
		if r, ok := realm.ParseResource(s.Target); ok {
			m[r] += s.Total
		}
	}
	return m, nil
}

type playerRow struct {
	ID         int64  `db:"id"`
	Username   string `db:"username"`
	NPC        bool   `db:"is_npc"`
	Level      int    `db:"level"`
	Experience int64  `db:"experience"`
}

func (r playerRow) player() realm.Player {
	return realm.Player{ID: r.ID, Username: r.Username, Level: r.Level, Experience: r.Experience, NPC: r.NPC}
}

const playerSelect = `SELECT id, username, is_npc, level, experience FROM players `

type nodeRow struct {
	ID            int64  `db:"id"`
	Sector        string `db:"sector"`
	Name          string `db:"name"`
	Description   string `db:"description"`
	RequiredLevel int    `db:"required_player_level"`
	CostFood      int64  `db:"cost_food"`
	CostWood      int64  `db:"cost_wood"`
	CostStone     int64  `db:"cost_stone"`
	CostSilver    int64  `db:"cost_silver"`
	CostGold      int64  `db:"cost_gold"`
	Seconds       int64  `db:"research_seconds"`
}

func (r nodeRow) node() realm.ResearchNode {
	return realm.ResearchNode{
		ID:            r.ID,
		Sector:        r.Sector,
		Name:          r.Name,
		Description:   r.Description,
		RequiredLevel: r.RequiredLevel,
		Cost:          realm.Amounts{r.CostFood, r.CostWood, r.CostStone, r.CostSilver, r.CostGold},
		Duration:      time.Duration(r.Seconds) * time.Second,
	}
}

const nodeSelect = `SELECT id, sector, name, description, required_player_level,
	cost_food, cost_wood, cost_stone, cost_silver, cost_gold, research_seconds
FROM research_nodes `

type effectRow struct {
	NodeID int64   `db:"node_id"`
	Type   string  `db:"effect_type"`
	Target string  `db:"target"`
	Value  float64 `db:"value"`
}

// loadNodes runs nodeSelect with the given clause and attaches effects.
func loadNodes(q sqlx.Queryer, clause string, args ...any) ([]realm.ResearchNode, error) {
	var rows []nodeRow
	if err := sqlx.Select(q, &rows, nodeSelect+clause, args...); err != nil {
		return nil, err
	}
	var effects []effectRow
	if err := sqlx.Select(q, &effects, "SELECT node_id, effect_type, target, value FROM research_effects ORDER BY id"); err != nil {
		return nil, err
	}
	byNode := make(map[int64][]realm.ResearchEffect)
	for _, e := range effects {
		r, ok := realm.ParseResource(e.Target)
		if !ok {
			continue
		}
		byNode[e.NodeID] = append(byNode[e.NodeID], realm.ResearchEffect{Type: e.Type, Target: r, Value: e.Value})
	}

	out := make([]realm.ResearchNode, 0, len(rows))
	for _, r := range rows {
		n := r.node()
		n.Effects = byNode[n.ID]
		out = append(out, n)
	}
	return out, nil
}

type unitRow struct {
	Name       string `db:"unit_type"`
	Attack     int64  `db:"attack"`
	Defense    int64  `db:"defense"`
	Health     int64  `db:"health"`
	CostWood   int64  `db:"cost_wood"`
	CostSilver int64  `db:"cost_silver"`
}

func loadUnitTypes(q sqlx.Queryer) ([]realm.UnitType, error) {
	var rows []unitRow
	if err := sqlx.Select(q, &rows, "SELECT unit_type, attack, defense, health, cost_wood, cost_silver FROM unit_types ORDER BY unit_type"); err != nil {
		return nil, err
	}
	out := make([]realm.UnitType, len(rows))
	for i, r := range rows {
		out[i] = realm.UnitType(r)
	}
	return out, nil
}

type armyRow struct {
	Unit     string `db:"unit_type"`
	Quantity int64  `db:"quantity"`
}

func toArmy(rows []armyRow) realm.Army {
	a := make(realm.Army, len(rows))
	for _, r := range rows {
		a[r.Unit] = r.Quantity
	}
	return a
}

type actionRow struct {
	ID           int64         `db:"id"`
	PlayerID     int64         `db:"player_id"`
	SettlementID sql.NullInt64 `db:"settlement_id"`
	TargetID     sql.NullInt64 `db:"target_settlement_id"`
	Kind         string        `db:"action_type"`
	Payload      string        `db:"payload"`
	Start        int64         `db:"start_time"`
	End          int64         `db:"end_time"`
	Status       string        `db:"status"`
	CreatedAt    int64         `db:"created_at"`
	CompletedAt  sql.NullInt64 `db:"completed_at"`
}

const actionSelect = `SELECT id, player_id, settlement_id, target_settlement_id, action_type, payload,
	start_time, end_time, status, created_at, completed_at
FROM action_queue `

func (r actionRow) entry() (realm.ActionEntry, error) {
	kind, err := realm.ParseActionKind(r.Kind)
	if err != nil {
		return realm.ActionEntry{}, err
	}
	return realm.ActionEntry{
		ID:           r.ID,
		PlayerID:     r.PlayerID,
		SettlementID: r.SettlementID.Int64,
		TargetID:     r.TargetID.Int64,
		Kind:         kind,
		Payload:      json.RawMessage(r.Payload),
		Start:        fromNanos(r.Start),
		End:          fromNanos(r.End),
		Status:       realm.ActionStatus(r.Status),
		CreatedAt:    fromNanos(r.CreatedAt),
		CompletedAt:  fromNullNanos(r.CompletedAt),
	}, nil
}

func toEntries(rows []actionRow) ([]realm.ActionEntry, error) {
	out := make([]realm.ActionEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

type reportRow struct {
	ID         int64         `db:"id"`
	UUID       string        `db:"uuid"`
	ActionID   int64         `db:"action_id"`
	AttackerID sql.NullInt64 `db:"attacker_settlement_id"`
	DefenderID sql.NullInt64 `db:"defender_settlement_id"`
	Result     string        `db:"result_json"`
	CreatedAt  int64         `db:"created_at"`
}

func (r reportRow) report() realm.BattleReport {
	return realm.BattleReport{
		ID:         r.ID,
		UUID:       r.UUID,
		ActionID:   r.ActionID,
		AttackerID: r.AttackerID.Int64,
		DefenderID: r.DefenderID.Int64,
		Result:     json.RawMessage(r.Result),
		CreatedAt:  fromNanos(r.CreatedAt),
	}
}
