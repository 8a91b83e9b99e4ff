package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/mini-realm/internal/realm"
)

// DefenseField yields the terrain defense bonus at a map position.
type DefenseField interface {
	DefenseBonus(x, y int) float64
}

// DefaultHandlers returns the standard build, train and attack handlers.
// terrain may be nil, in which case no defender gets a terrain bonus.
func DefaultHandlers(economy *Economy, terrain DefenseField) Handlers {
	a := &attackHandler{economy: economy, terrain: terrain}
	return Handlers{
		Build:  FinishBuild,
		Train:  FinishTraining,
		Attack: a.handle,
	}
}

// FinishBuild raises the payload's building by one level.
func FinishBuild(tx Tx, entry realm.ActionEntry, now time.Time) error {
	var p realm.BuildPayload
	if err := realm.DecodePayload(realm.ActionBuild, entry.Payload, &p); err != nil {
		return err
	}
	level, err := tx.UpgradeBuilding(entry.SettlementID, p.Building)
	if err != nil {
		return fmt.Errorf("upgrade %s: %w", p.Building, err)
	}
	slog.Info("construction finished", "settlement", entry.SettlementID, "building", p.Building, "level", level)
	return nil
}

// FinishTraining adds the trained units to the player and the garrison.
func FinishTraining(tx Tx, entry realm.ActionEntry, now time.Time) error {
	var p realm.TrainPayload
	if err := realm.DecodePayload(realm.ActionTrain, entry.Payload, &p); err != nil {
		return err
	}
	units, err := tx.UnitTypes()
	if err != nil {
		return err
	}
	if _, ok := units[p.Unit]; !ok {
		return fmt.Errorf("%w: unknown unit %q", realm.ErrInvalidPayload, p.Unit)
	}
	if err := tx.AdjustPlayerUnits(entry.PlayerID, p.Unit, p.Quantity); err != nil {
		return err
	}
	if err := tx.AdjustGarrison(entry.SettlementID, p.Unit, p.Quantity); err != nil {
		return err
	}
	slog.Info("training finished", "settlement", entry.SettlementID, "unit", p.Unit, "quantity", p.Quantity)
	return nil
}

type attackHandler struct {
	economy *Economy
	terrain DefenseField
}

func (a *attackHandler) handle(tx Tx, entry realm.ActionEntry, now time.Time) error {
	var p realm.AttackPayload
	if err := realm.DecodePayload(realm.ActionAttack, entry.Payload, &p); err != nil {
		return err
	}

	if _, err := a.economy.ApplyTick(tx, entry.TargetID, now); err != nil {
		if errors.Is(err, realm.ErrNotFound) {
			slog.Warn("attack target no longer exists", "action", entry.ID, "target", entry.TargetID)
			return nil
		}
		return err
	}
	source, err := tx.Settlement(entry.SettlementID)
	if err != nil {
		return err
	}
	target, err := tx.Settlement(entry.TargetID)
	if err != nil {
		return err
	}
	units, err := tx.UnitTypes()
	if err != nil {
		return err
	}

	garrison, err := tx.Garrison(source.ID)
	if err != nil {
		return err
	}
	attackers := realm.Army{}
	for name, want := range p.Units {
		if n := min(want, garrison[name]); n > 0 {
			attackers[name] = n
		}
	}
	defenders, err := tx.Garrison(target.ID)
	if err != nil {
		return err
	}

	var bonus float64
	if a.terrain != nil {
		bonus = a.terrain.DefenseBonus(target.X, target.Y)
	}
	out := ResolveBattle(attackers, defenders, units, bonus)

	if out.AttackerWon {
		loot := Plunder(target.Balances)
		kept := source.Capacity.Clamp(source.Balances.Add(loot)).Sub(source.Balances)
		for i := range kept {
			kept[i] = max(kept[i], 0)
		}
		if err := tx.AdjustBalances(target.ID, loot.Neg()); err != nil {
			return fmt.Errorf("take loot: %w", err)
		}
		if err := tx.AdjustBalances(source.ID, kept); err != nil {
			return fmt.Errorf("store loot: %w", err)
		}
		out.Loot = kept
	}

	if err := applyLosses(tx, source.ID, source.PlayerID, out.AttackerLosses); err != nil {
		return err
	}
	if err := applyLosses(tx, target.ID, target.PlayerID, out.DefenderLosses); err != nil {
		return err
	}

	body, err := json.Marshal(out)
	if err != nil {
		return err
	}
	report := realm.BattleReport{
		UUID:       uuid.NewString(),
		ActionID:   entry.ID,
		AttackerID: source.ID,
		DefenderID: target.ID,
		Result:     body,
		CreatedAt:  now,
	}
	if _, err := tx.InsertBattleReport(report); err != nil {
		return fmt.Errorf("insert battle report: %w", err)
	}

	slog.Info("battle resolved", "report", report.UUID, "attacker", source.ID, "defender", target.ID,
		"attacker_won", out.AttackerWon, "attack", out.AttackPower, "defense", out.DefensePower)
	return nil
}

func applyLosses(tx Tx, settlementID, playerID int64, lost realm.Army) error {
	for name, n := range lost {
		if err := tx.AdjustGarrison(settlementID, name, -n); err != nil {
			return err
		}
		if err := tx.AdjustPlayerUnits(playerID, name, -n); err != nil {
			return err
		}
	}
	return nil
}
