package engine

import (
	"math"

	"github.com/talgya/mini-realm/internal/realm"
)

// LootShare is the fraction of each lootable resource a victorious
// attacker carries off.
const LootShare = 0.25

// lootable excludes gold.
var lootable = []realm.Resource{realm.Food, realm.Wood, realm.Stone, realm.Silver}

// BattleOutcome is the resolved result of one attack. It is stored
// verbatim as the battle report body.
type BattleOutcome struct {
	AttackPower    float64       `json:"attack_power"`
	DefensePower   float64       `json:"defense_power"`
	TerrainBonus   float64       `json:"terrain_bonus"`
	AttackerWon    bool          `json:"attacker_won"`
	Attackers      realm.Army    `json:"attackers"`
	Defenders      realm.Army    `json:"defenders"`
	AttackerLosses realm.Army    `json:"attacker_losses"`
	DefenderLosses realm.Army    `json:"defender_losses"`
	Loot           realm.Amounts `json:"loot"`
}

// ResolveBattle pits attackers against defenders. Defense is scaled by
// 1+terrainBonus. Ties go to the defender. The losing side loses every
// unit; the winner loses half its units in proportion to the loser's
// share of power.
func ResolveBattle(attackers, defenders realm.Army, units map[string]realm.UnitType, terrainBonus float64) BattleOutcome {
	out := BattleOutcome{
		TerrainBonus: terrainBonus,
		Attackers:    attackers,
		Defenders:    defenders,
	}
	out.AttackPower = armyPower(attackers, units, func(u realm.UnitType) int64 { return u.Attack })
	out.DefensePower = armyPower(defenders, units, func(u realm.UnitType) int64 { return u.Defense }) * (1 + terrainBonus)
	out.AttackerWon = out.AttackPower > out.DefensePower

	if out.AttackerWon {
		out.DefenderLosses = casualties(defenders, 1)
		out.AttackerLosses = casualties(attackers, out.DefensePower/out.AttackPower/2)
	} else {
		out.AttackerLosses = casualties(attackers, 1)
		ratio := 0.0
		if out.DefensePower > 0 {
			ratio = out.AttackPower / out.DefensePower / 2
		}
		out.DefenderLosses = casualties(defenders, ratio)
	}
	return out
}

// Plunder returns LootShare of the defender's lootable balances.
func Plunder(balances realm.Amounts) realm.Amounts {
	var loot realm.Amounts
	for _, r := range lootable {
		loot[r] = int64(math.Floor(float64(balances[r]) * LootShare))
	}
	return loot
}

func armyPower(army realm.Army, units map[string]realm.UnitType, stat func(realm.UnitType) int64) float64 {
	var p float64
	for name, qty := range army {
		if u, ok := units[name]; ok {
			p += float64(qty * stat(u))
		}
	}
	return p
}

func casualties(army realm.Army, ratio float64) realm.Army {
	lost := realm.Army{}
	for name, qty := range army {
		n := int64(math.Floor(float64(qty) * ratio))
		if n > qty {
			n = qty
		}
		if n > 0 {
			lost[name] = n
		}
	}
	return lost
}
