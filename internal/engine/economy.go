package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/talgya/mini-realm/internal/realm"
)

// DefaultMaxCatchup bounds how much offline time a single tick credits.
const DefaultMaxCatchup = 7 * 24 * time.Hour

// minTickElapsed is the smallest interval worth crediting.
const minTickElapsed = time.Second

// ExperienceWeights is the experience awarded per unit of actual gain.
var ExperienceWeights = realm.Rates{
	realm.Food:   1.0,
	realm.Wood:   1.0,
	realm.Stone:  1.5,
	realm.Silver: 2.0,
	realm.Gold:   0,
}

// TickResult describes what one tick credited to a settlement.
type TickResult struct {
	SettlementID int64         `json:"settlement_id"`
	PlayerID     int64         `json:"player_id"`
	Elapsed      time.Duration `json:"elapsed"`
	Gains        realm.Amounts `json:"gains"`
	Experience   int64         `json:"experience"`
	Level        int           `json:"level,omitempty"` // player level after crediting, 0 if untouched
}

// ComputeTick advances s to now without touching the store. write reports
// whether the returned settlement differs from s and must be saved.
func ComputeTick(s realm.Settlement, now time.Time, maxCatchup time.Duration) (next realm.Settlement, res TickResult, write bool) {
	res = TickResult{SettlementID: s.ID, PlayerID: s.PlayerID}
	if s.LastTick.IsZero() {
		s.LastTick = now
		return s, res, true
	}

	elapsed := now.Sub(s.LastTick)
	if elapsed < minTickElapsed {
		return s, res, false
	}
	if maxCatchup > 0 && elapsed > maxCatchup {
		elapsed = maxCatchup
	}
	hours := elapsed.Hours()

	var xp float64
	for _, r := range realm.AllResources {
		total := hours*s.Rates[r] + s.Carry[r]
		if total < 0 {
			total = 0
		}
		whole := math.Floor(total)
		carry := total - whole
		gain := int64(whole)

		if c, ok := s.Capacity.Cap(r); ok {
			room := max(c-s.Balances[r], 0)
			if gain >= room {
				gain = room
				carry = 0
			}
		}

		s.Balances[r] += gain
		s.Carry[r] = carry
		res.Gains[r] = gain
		xp += float64(gain) * ExperienceWeights[r]
	}

	s.LastTick = now
	res.Elapsed = elapsed
	res.Experience = int64(xp)
	return s, res, true
}

// Economy credits settlement production and the experience it earns.
type Economy struct {
	MaxCatchup time.Duration
}

// NewEconomy returns an Economy bounded by maxCatchup, or by
// DefaultMaxCatchup when maxCatchup is not positive.
func NewEconomy(maxCatchup time.Duration) *Economy {
	if maxCatchup <= 0 {
		maxCatchup = DefaultMaxCatchup
	}
	return &Economy{MaxCatchup: maxCatchup}
}

// ApplyTick brings one settlement up to now inside tx. A missing settlement
// yields an error wrapping realm.ErrNotFound.
func (e *Economy) ApplyTick(tx Tx, settlementID int64, now time.Time) (TickResult, error) {
	s, err := tx.Settlement(settlementID)
	if err != nil {
		return TickResult{}, fmt.Errorf("load settlement %d: %w", settlementID, err)
	}

	next, res, write := ComputeTick(s, now, e.MaxCatchup)
	if !write {
		return res, nil
	}
	if err := tx.SaveTick(next); err != nil {
		return res, fmt.Errorf("save tick %d: %w", settlementID, err)
	}

	if res.Experience > 0 {
		p, err := CreditExperience(tx, s.PlayerID, res.Experience)
		if err != nil {
			return res, err
		}
		res.Level = p.Level
	}
	return res, nil
}
