package engine

import (
	"fmt"
	"math"

	"github.com/talgya/mini-realm/internal/realm"
)

// XPForLevel returns the cumulative experience needed to reach level,
// floor(100 * 1.5^(level-1)), saturating at math.MaxInt64.
func XPForLevel(level int) int64 {
	v := math.Floor(100 * math.Pow(1.5, float64(level-1)))
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// LevelFor applies every level-up warranted by xp, starting from level.
func LevelFor(level int, xp int64) int {
	if level < 1 {
		level = 1
	}
	for {
		need := XPForLevel(level + 1)
		if need == math.MaxInt64 || xp < need {
			return level
		}
		level++
	}
}

// CreditExperience adds xp to the player and levels them up inside tx.
func CreditExperience(tx Tx, playerID int64, xp int64) (realm.Player, error) {
	p, err := tx.Player(playerID)
	if err != nil {
		return p, fmt.Errorf("load player %d: %w", playerID, err)
	}
	if xp <= 0 {
		return p, nil
	}

	if p.Experience > math.MaxInt64-xp {
		p.Experience = math.MaxInt64
	} else {
		p.Experience += xp
	}
	p.Level = LevelFor(p.Level, p.Experience)

	if err := tx.SaveProgress(p); err != nil {
		return p, fmt.Errorf("save player %d: %w", playerID, err)
	}
	return p, nil
}
