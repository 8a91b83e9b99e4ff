package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/talgya/mini-realm/internal/realm"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testSettlement(rates realm.Rates) realm.Settlement {
	return realm.Settlement{
		ID:       1,
		PlayerID: 1,
		Rates:    rates,
		Capacity: realm.Unlimited(),
		LastTick: t0,
	}
}

func TestComputeTickUnsetLastTick(t *testing.T) {
	s := testSettlement(realm.Rates{60})
	s.LastTick = time.Time{}

	next, res, write := ComputeTick(s, t0, DefaultMaxCatchup)
	if !write {
		t.Fatal("unset last tick must be initialized")
	}
	if !next.LastTick.Equal(t0) {
		t.Errorf("LastTick = %v, want %v", next.LastTick, t0)
	}
	if !res.Gains.IsZero() || res.Experience != 0 {
		t.Errorf("initializing tick credited %v / %d xp", res.Gains, res.Experience)
	}
}

func TestComputeTickSubSecond(t *testing.T) {
	s := testSettlement(realm.Rates{3600})
	next, _, write := ComputeTick(s, t0.Add(999*time.Millisecond), DefaultMaxCatchup)
	if write {
		t.Error("elapsed under a second must be a no-op")
	}
	if next.Balances != s.Balances || !next.LastTick.Equal(t0) {
		t.Errorf("settlement changed: %+v", next)
	}

	if _, _, write := ComputeTick(s, t0.Add(-time.Hour), DefaultMaxCatchup); write {
		t.Error("a clock behind last tick must be a no-op")
	}
}

func TestComputeTickGainsAndExperience(t *testing.T) {
	s := testSettlement(realm.Rates{10, 10, 10, 10, 10})
	next, res, write := ComputeTick(s, t0.Add(time.Hour), DefaultMaxCatchup)
	if !write {
		t.Fatal("expected write")
	}
	want := realm.Amounts{10, 10, 10, 10, 10}
	if next.Balances != want || res.Gains != want {
		t.Errorf("balances = %v, gains = %v, want %v", next.Balances, res.Gains, want)
	}
	// 10*1 + 10*1 + 10*1.5 + 10*2 + 10*0
	if res.Experience != 55 {
		t.Errorf("experience = %d, want 55", res.Experience)
	}
	if !next.LastTick.Equal(t0.Add(time.Hour)) {
		t.Errorf("LastTick = %v", next.LastTick)
	}
}

func TestComputeTickMaxCatchup(t *testing.T) {
	s := testSettlement(realm.Rates{60})
	now := t0.Add(30 * 24 * time.Hour)

	next, res, _ := ComputeTick(s, now, 24*time.Hour)
	if next.Balances[realm.Food] != 60*24 {
		t.Errorf("food = %d, want %d", next.Balances[realm.Food], 60*24)
	}
	if res.Elapsed != 24*time.Hour {
		t.Errorf("elapsed = %v, want clamp to 24h", res.Elapsed)
	}
	if !next.LastTick.Equal(now) {
		t.Errorf("LastTick = %v, want %v", next.LastTick, now)
	}
}

func TestComputeTickCapacity(t *testing.T) {
	s := testSettlement(realm.Rates{60, 60})
	s.Capacity[realm.Food] = 1000
	s.Capacity[realm.Wood] = 1000
	s.Balances[realm.Food] = 990
	s.Balances[realm.Wood] = 1500
	s.Carry[realm.Food] = 0.5

	next, res, _ := ComputeTick(s, t0.Add(time.Hour), DefaultMaxCatchup)
	if next.Balances[realm.Food] != 1000 || res.Gains[realm.Food] != 10 {
		t.Errorf("food = %d (+%d), want clamp to 1000 (+10)", next.Balances[realm.Food], res.Gains[realm.Food])
	}
	if next.Carry[realm.Food] != 0 {
		t.Errorf("carry = %v, want reset after clamp", next.Carry[realm.Food])
	}
	if next.Balances[realm.Wood] != 1500 || res.Gains[realm.Wood] != 0 {
		t.Errorf("wood = %d, an over-capacity balance must not shrink", next.Balances[realm.Wood])
	}
	if res.Experience != 10 {
		t.Errorf("experience = %d, want 10 from the clamped gain", res.Experience)
	}
}

func TestComputeTickCarry(t *testing.T) {
	s := testSettlement(realm.Rates{2})
	var got []int64
	for i := 1; i <= 4; i++ {
		var res TickResult
		s, res, _ = ComputeTick(s, t0.Add(time.Duration(i)*15*time.Minute), DefaultMaxCatchup)
		got = append(got, res.Gains[realm.Food])
	}
	want := []int64{0, 1, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("gains = %v, want %v", got, want)
		}
	}
	if s.Balances[realm.Food] != 2 {
		t.Errorf("food after one hour = %d, want 2", s.Balances[realm.Food])
	}
}

func TestXPForLevel(t *testing.T) {
	for _, tt := range []struct {
		level int
		want  int64
	}{
		{1, 100},
		{2, 150},
		{3, 225},
		{4, 337},
		{5, 506},
	} {
		if got := XPForLevel(tt.level); got != tt.want {
			t.Errorf("XPForLevel(%d) = %d, want %d", tt.level, got, tt.want)
		}
	}
	if got := XPForLevel(500); got != math.MaxInt64 {
		t.Errorf("XPForLevel(500) = %d, want saturation", got)
	}
}

func TestLevelFor(t *testing.T) {
	for _, tt := range []struct {
		level int
		xp    int64
		want  int
	}{
		{1, 0, 1},
		{1, 149, 1},
		{1, 150, 2},
		{1, 400, 4},
		{3, 150, 3},
		{0, 0, 1},
	} {
		if got := LevelFor(tt.level, tt.xp); got != tt.want {
			t.Errorf("LevelFor(%d, %d) = %d, want %d", tt.level, tt.xp, got, tt.want)
		}
	}

	top := LevelFor(1, math.MaxInt64)
	if top < 90 || XPForLevel(top+1) != math.MaxInt64 {
		t.Errorf("LevelFor(1, MaxInt64) = %d", top)
	}
}

var testUnits = map[string]realm.UnitType{
	"infantry": {Name: "infantry", Attack: 10, Defense: 5},
	"knight":   {Name: "knight", Attack: 10, Defense: 10},
}

func TestResolveBattleAttackerWins(t *testing.T) {
	out := ResolveBattle(realm.Army{"infantry": 10}, realm.Army{"infantry": 5}, testUnits, 0)
	if !out.AttackerWon {
		t.Fatalf("100 attack vs 25 defense should win: %+v", out)
	}
	if out.DefenderLosses["infantry"] != 5 {
		t.Errorf("defender losses = %v, want all", out.DefenderLosses)
	}
	// floor(10 * 25 / 100 / 2)
	if out.AttackerLosses["infantry"] != 1 {
		t.Errorf("attacker losses = %v, want 1", out.AttackerLosses)
	}
}

func TestResolveBattleTieGoesToDefender(t *testing.T) {
	out := ResolveBattle(realm.Army{"knight": 1}, realm.Army{"knight": 1}, testUnits, 0)
	if out.AttackerWon {
		t.Fatal("equal power must favor the defender")
	}
	if out.AttackerLosses["knight"] != 1 || len(out.DefenderLosses) != 0 {
		t.Errorf("losses = %v / %v", out.AttackerLosses, out.DefenderLosses)
	}
}

func TestResolveBattleTerrain(t *testing.T) {
	attackers := realm.Army{"infantry": 11}
	defenders := realm.Army{"knight": 10}
	if !ResolveBattle(attackers, defenders, testUnits, 0).AttackerWon {
		t.Error("110 vs 100 on open ground should win")
	}
	out := ResolveBattle(attackers, defenders, testUnits, 0.2)
	if out.AttackerWon || math.Abs(out.DefensePower-120) > 1e-9 {
		t.Errorf("terrain should lift defense to 120: %+v", out)
	}
}

func TestResolveBattleEmptyDefense(t *testing.T) {
	out := ResolveBattle(realm.Army{"infantry": 1}, realm.Army{}, testUnits, 0.1)
	if !out.AttackerWon || len(out.AttackerLosses) != 0 {
		t.Errorf("undefended settlement: %+v", out)
	}
}

func TestPlunder(t *testing.T) {
	got := Plunder(realm.Amounts{1000, 500, 200, 101, 10})
	want := realm.Amounts{250, 125, 50, 25, 0}
	if got != want {
		t.Errorf("Plunder = %v, want %v", got, want)
	}
}

func TestSplitCost(t *testing.T) {
	cost := realm.Amounts{realm.Food: 300, realm.Wood: 100}
	balances := []realm.Amounts{
		{realm.Food: 500, realm.Wood: 100},
		{realm.Food: 50, realm.Wood: 100},
		{realm.Food: 500, realm.Wood: 100},
	}
	debits := SplitCost(cost, balances)

	var total realm.Amounts
	for i, d := range debits {
		total = total.Add(d)
		if !balances[i].Covers(d) {
			t.Errorf("settlement %d debited %v beyond %v", i, d, balances[i])
		}
	}
	if total[realm.Food] != 300 {
		t.Errorf("food debited = %d, want 300", total[realm.Food])
	}
	// 100/3 = 33 per settlement; the remainder is not charged.
	if total[realm.Wood] != 99 {
		t.Errorf("wood debited = %d, want 99", total[realm.Wood])
	}
	if debits[1][realm.Food] != 50 {
		t.Errorf("short settlement paid %d, want all it had", debits[1][realm.Food])
	}
	if debits[0][realm.Food] != 150 || debits[2][realm.Food] != 100 {
		t.Errorf("shortfall spread = %v, want richest first with ties by order", debits)
	}
}

func TestHandlersFor(t *testing.T) {
	noop := func(Tx, realm.ActionEntry, time.Time) error { return nil }
	h := Handlers{Build: noop, Train: noop}

	if _, err := h.For(realm.ActionBuild); err != nil {
		t.Errorf("build: %v", err)
	}
	if _, err := h.For(realm.ActionAttack); err == nil {
		t.Error("missing attack handler should error")
	}
	if _, err := h.For(realm.ActionKind(42)); !errors.Is(err, realm.ErrInvalidOrder) {
		t.Errorf("unknown kind: %v", err)
	}
	if _, err := NewQueue(nil, nil, h, nil); err == nil {
		t.Error("NewQueue should reject incomplete handlers")
	}
}

// missingTx reports every settlement as missing.
type missingTx struct{ Tx }

func (missingTx) Settlement(id int64) (realm.Settlement, error) {
	return realm.Settlement{}, realm.ErrNotFound
}

func TestAttackMissingTargetIsNoop(t *testing.T) {
	h := DefaultHandlers(NewEconomy(0), nil)
	entry := realm.ActionEntry{
		ID:           7,
		SettlementID: 1,
		TargetID:     2,
		Kind:         realm.ActionAttack,
		Payload:      []byte(`{"units":{"infantry":5}}`),
	}
	if err := h.Attack(missingTx{}, entry, t0); err != nil {
		t.Errorf("attack on a vanished target should complete quietly, got %v", err)
	}
}
