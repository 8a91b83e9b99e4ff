package realm

import (
	"encoding/json"
	"fmt"
	"time"
)

// Settlement is a player-owned population center that produces resources.
type Settlement struct {
	ID       int64  `json:"id"`
	PlayerID int64  `json:"player_id"`
	Name     string `json:"name"`
	Type     string `json:"settlement_type"`
	X        int    `json:"x"`
	Y        int    `json:"y"`

	Balances Amounts `json:"balances"`
	Capacity Limits  `json:"capacity"`
	Rates    Rates   `json:"rates"` // effective hourly rates, research applied

	// Carry is fractional production not yet credited to Balances.
	Carry Rates `json:"-"`

	// LastTick is the last time production was credited. Zero means unset.
	LastTick time.Time `json:"last_tick"`
}

// Player owns settlements and accumulates experience from their production.
type Player struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Level      int    `json:"level"`
	Experience int64  `json:"experience"`
	NPC        bool   `json:"is_npc"`
}

// ActionKind is the closed set of deferred player actions.
type ActionKind uint8

const (
	ActionBuild ActionKind = iota + 1
	ActionTrain
	ActionAttack
)

// ActionKinds lists every kind, in declaration order.
var ActionKinds = []ActionKind{ActionBuild, ActionTrain, ActionAttack}

func (k ActionKind) String() string {
	switch k {
	case ActionBuild:
		return "build"
	case ActionTrain:
		return "train"
	case ActionAttack:
		return "attack"
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// ParseActionKind maps a stored kind name back to its ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	for _, k := range ActionKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action kind %q", ErrInvalidOrder, s)
}

func (k ActionKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ActionKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseActionKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ActionStatus is the lifecycle state of a queue entry.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusCompleted ActionStatus = "completed"
)

// ActionEntry is one deferred action in the queue. Entries move from
// pending to completed exactly once and are never deleted.
type ActionEntry struct {
	ID           int64           `json:"id"`
	PlayerID     int64           `json:"player_id"`
	SettlementID int64           `json:"settlement_id"`
	TargetID     int64           `json:"target_settlement_id,omitempty"` // 0 when the kind has no target
	Kind         ActionKind      `json:"action_type"`
	Payload      json.RawMessage `json:"payload"`
	Start        time.Time       `json:"start_time"`
	End          time.Time       `json:"end_time"`
	Status       ActionStatus    `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  time.Time       `json:"completed_at,omitempty"`
}

// Order is a player's request to queue an action.
type Order struct {
	PlayerID     int64           `json:"player_id"`
	SettlementID int64           `json:"settlement_id"`
	TargetID     int64           `json:"target_settlement_id,omitempty"`
	Kind         ActionKind      `json:"action_type"`
	Payload      json.RawMessage `json:"payload"`
	Duration     time.Duration   `json:"duration"`
}

// BuildPayload finalizes one level of a building.
type BuildPayload struct {
	Building string `json:"building"`
}

// TrainPayload adds trained units to a settlement's garrison.
type TrainPayload struct {
	Unit     string `json:"unit"`
	Quantity int64  `json:"quantity"`
}

// AttackPayload sends units from the source garrison against the target.
type AttackPayload struct {
	Units Army `json:"units"`
}

// EffectProduction scales a resource's production rate.
const EffectProduction = "production"

// ResearchEffect is a lasting modifier granted by an unlocked node.
type ResearchEffect struct {
	Type   string   `json:"effect_type"`
	Target Resource `json:"target"`
	Value  float64  `json:"value"`
}

// ResearchNode is an entry of the static research catalog.
type ResearchNode struct {
	ID            int64            `json:"id"`
	Sector        string           `json:"sector"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	RequiredLevel int              `json:"required_player_level"`
	Cost          Amounts          `json:"cost"`
	Duration      time.Duration    `json:"research_time"`
	Effects       []ResearchEffect `json:"effects,omitempty"`
}

// Unlock records that a player has unlocked a research node.
type Unlock struct {
	PlayerID   int64     `json:"player_id"`
	NodeID     int64     `json:"node_id"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// UnitType is a trainable unit from the static unit catalog.
type UnitType struct {
	Name       string `json:"unit_type"`
	Attack     int64  `json:"attack"`
	Defense    int64  `json:"defense"`
	Health     int64  `json:"health"`
	CostWood   int64  `json:"cost_wood"`
	CostSilver int64  `json:"cost_silver"`
}

// Army maps unit type names to quantities.
type Army map[string]int64

// Total returns the number of units in the army.
func (a Army) Total() int64 {
	var n int64
	for _, q := range a {
		n += q
	}
	return n
}

// BattleReport records the outcome of a resolved attack.
type BattleReport struct {
	ID         int64           `json:"id"`
	UUID       string          `json:"uuid"`
	ActionID   int64           `json:"action_id"`
	AttackerID int64           `json:"attacker_settlement_id"` // 0 once the settlement is razed
	DefenderID int64           `json:"defender_settlement_id"`
	Result     json.RawMessage `json:"result"`
	CreatedAt  time.Time       `json:"created_at"`
}
