package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/realm"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Seed(t0); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return db
}

func createPlayer(t *testing.T, db *DB, name string) (realm.Player, realm.Settlement) {
	t.Helper()
	p, s, err := db.CreatePlayer(name, NewSettlement{Name: name + "-home", Type: "village", X: 1, Y: 1}, t0)
	if err != nil {
		t.Fatalf("CreatePlayer(%s): %v", name, err)
	}
	return p, s
}

func inTx(t *testing.T, db *DB, fn func(tx engine.Tx) error) {
	t.Helper()
	if err := db.InTx(context.Background(), fn); err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestSeedIdempotent(t *testing.T) {
	db := newTestStore(t)
	if err := db.Seed(t0.Add(time.Hour)); err != nil {
		t.Fatalf("second Seed: %v", err)
	}

	units, err := db.UnitTypes()
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != len(DefaultUnitTypes) {
		t.Errorf("unit types = %d, want %d", len(units), len(DefaultUnitTypes))
	}
	nodes, err := db.ResearchNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != len(DefaultResearchNodes) {
		t.Errorf("research nodes = %d, want %d", len(nodes), len(DefaultResearchNodes))
	}
	node, err := db.ResearchNodeByName("Crop Rotation")
	if err != nil {
		t.Fatal(err)
	}
	if len(node.Effects) != 1 || node.Effects[0].Target != realm.Food {
		t.Errorf("Crop Rotation effects = %+v, effects must not be duplicated", node.Effects)
	}

	players, err := db.Players()
	if err != nil {
		t.Fatal(err)
	}
	if len(players) != 1 || !players[0].NPC || players[0].Username != NPCUsername {
		t.Fatalf("players = %+v, want the single NPC", players)
	}
	npcSettlements, err := db.PlayerSettlements(players[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(npcSettlements) != 1 {
		t.Fatalf("npc settlements = %d, want 1", len(npcSettlements))
	}
	garrison, err := db.Garrison(npcSettlements[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if garrison["infantry"] != 40 || garrison["archer"] != 15 || garrison["cavalry"] != 10 {
		t.Errorf("npc garrison = %v", garrison)
	}
}

func TestCreatePlayer(t *testing.T) {
	db := newTestStore(t)
	p, s := createPlayer(t, db, "alice")

	if p.Level != 1 || p.Experience != 0 {
		t.Errorf("new player = %+v", p)
	}
	if s.PlayerID != p.ID || s.Type != "village" {
		t.Errorf("settlement = %+v", s)
	}
	if s.Balances != StartingBalances {
		t.Errorf("balances = %v, want %v", s.Balances, StartingBalances)
	}
	if s.Rates != DefaultSettlementTypes[0].Rates {
		t.Errorf("rates = %v, want village rates", s.Rates)
	}
	if c, ok := s.Capacity.Cap(realm.Food); !ok || c != 10000 {
		t.Errorf("food cap = %d, %v", c, ok)
	}
	if _, ok := s.Capacity.Cap(realm.Gold); ok {
		t.Error("gold should be uncapped")
	}
	if !s.LastTick.Equal(t0) {
		t.Errorf("last tick = %v, want %v", s.LastTick, t0)
	}

	if _, _, err := db.CreatePlayer("alice", NewSettlement{Name: "again"}, t0); err == nil {
		t.Error("duplicate username should fail")
	}
	got, err := db.PlayerByName("alice")
	if err != nil || got.ID != p.ID {
		t.Errorf("PlayerByName = %+v, %v", got, err)
	}
}

func TestProductionMultiplier(t *testing.T) {
	db := newTestStore(t)
	p, s := createPlayer(t, db, "alice")
	node, err := db.ResearchNodeByName("Crop Rotation")
	if err != nil {
		t.Fatal(err)
	}

	inTx(t, db, func(tx engine.Tx) error {
		return tx.InsertUnlock(realm.Unlock{PlayerID: p.ID, NodeID: node.ID, UnlockedAt: t0})
	})

	got, err := db.Settlement(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if want := 60 * 1.10; got.Rates[realm.Food] < want-1e-9 || got.Rates[realm.Food] > want+1e-9 {
		t.Errorf("food rate = %v, want %v", got.Rates[realm.Food], want)
	}
	if got.Rates[realm.Wood] != 36 {
		t.Errorf("wood rate = %v, want unchanged 36", got.Rates[realm.Wood])
	}

	unlocks, err := db.PlayerResearch(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(unlocks) != 1 || unlocks[0].NodeID != node.ID || !unlocks[0].UnlockedAt.Equal(t0) {
		t.Errorf("unlocks = %+v", unlocks)
	}
}

func TestTxNotFound(t *testing.T) {
	db := newTestStore(t)
	err := db.InTx(context.Background(), func(tx engine.Tx) error {
		if _, err := tx.Settlement(999); !errors.Is(err, realm.ErrNotFound) {
			t.Errorf("Settlement: %v", err)
		}
		if _, err := tx.Player(999); !errors.Is(err, realm.ErrNotFound) {
			t.Errorf("Player: %v", err)
		}
		if _, err := tx.ResearchNode(999); !errors.Is(err, realm.ErrNotFound) {
			t.Errorf("ResearchNode: %v", err)
		}
		if err := tx.AdjustBalances(999, realm.Amounts{1}); !errors.Is(err, realm.ErrNotFound) {
			t.Errorf("AdjustBalances: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.BattleReport("missing"); !errors.Is(err, realm.ErrNotFound) {
		t.Errorf("BattleReport: %v", err)
	}
}

func TestBalancesNeverNegative(t *testing.T) {
	db := newTestStore(t)
	_, s := createPlayer(t, db, "alice")

	err := db.InTx(context.Background(), func(tx engine.Tx) error {
		if err := tx.AdjustBalances(s.ID, realm.Amounts{realm.Wood: -100}); err != nil {
			return err
		}
		return tx.AdjustBalances(s.ID, realm.Amounts{realm.Food: -(StartingBalances[realm.Food] + 1)})
	})
	if err == nil {
		t.Fatal("overdraft should violate the balance check")
	}

	got, err := db.Settlement(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balances != StartingBalances {
		t.Errorf("balances = %v, want rolled back to %v", got.Balances, StartingBalances)
	}
}

func TestSaveTickRoundTrip(t *testing.T) {
	db := newTestStore(t)
	_, s := createPlayer(t, db, "alice")

	s.Balances[realm.Stone] = 777
	s.Carry[realm.Stone] = 0.25
	s.LastTick = t0.Add(90 * time.Minute)
	inTx(t, db, func(tx engine.Tx) error { return tx.SaveTick(s) })

	inTx(t, db, func(tx engine.Tx) error {
		got, err := tx.Settlement(s.ID)
		if err != nil {
			return err
		}
		if got.Balances[realm.Stone] != 777 || got.Carry[realm.Stone] != 0.25 || !got.LastTick.Equal(s.LastTick) {
			t.Errorf("reloaded = %+v", got)
		}
		return nil
	})
}

func insertAction(t *testing.T, db *DB, s realm.Settlement, end time.Time) int64 {
	t.Helper()
	var id int64
	inTx(t, db, func(tx engine.Tx) error {
		var err error
		id, err = tx.InsertAction(realm.ActionEntry{
			PlayerID:     s.PlayerID,
			SettlementID: s.ID,
			Kind:         realm.ActionBuild,
			Payload:      json.RawMessage(`{"building":"farm"}`),
			Start:        t0,
			End:          end,
			CreatedAt:    t0,
		})
		return err
	})
	return id
}

func TestDueActionsOrder(t *testing.T) {
	db := newTestStore(t)
	_, s := createPlayer(t, db, "alice")

	late := insertAction(t, db, s, t0.Add(2*time.Minute))
	first := insertAction(t, db, s, t0.Add(time.Minute))
	second := insertAction(t, db, s, t0.Add(time.Minute))
	insertAction(t, db, s, t0.Add(time.Hour))

	due, err := db.DueActions(context.Background(), t0.Add(2*time.Minute), engine.DueCursor{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for _, e := range due {
		ids = append(ids, e.ID)
	}
	want := []int64{first, second, late}
	if len(ids) != len(want) {
		t.Fatalf("due = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("due = %v, want %v", ids, want)
		}
	}

	limited, err := db.DueActions(context.Background(), t0.Add(2*time.Minute), engine.DueCursor{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != first {
		t.Errorf("limited = %+v", limited)
	}

	next, err := db.DueActions(context.Background(), t0.Add(2*time.Minute),
		engine.DueCursor{End: limited[0].End, ID: limited[0].ID}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 2 || next[0].ID != second || next[1].ID != late {
		t.Errorf("after cursor = %+v", next)
	}
}

func TestNPCSettlements(t *testing.T) {
	db := newTestStore(t)
	createPlayer(t, db, "alice")
	npc, err := db.PlayerByName(NPCUsername)
	if err != nil {
		t.Fatal(err)
	}
	ss, err := db.NPCSettlements()
	if err != nil {
		t.Fatal(err)
	}
	if len(ss) != 1 || ss[0].PlayerID != npc.ID {
		t.Errorf("npc settlements = %+v", ss)
	}
}

func TestCompleteActionOnce(t *testing.T) {
	db := newTestStore(t)
	_, s := createPlayer(t, db, "alice")
	id := insertAction(t, db, s, t0)

	for i, want := range []bool{true, false} {
		inTx(t, db, func(tx engine.Tx) error {
			ok, err := tx.CompleteAction(id, t0.Add(time.Minute))
			if ok != want {
				t.Errorf("call %d: CompleteAction = %v, want %v", i, ok, want)
			}
			return err
		})
	}

	e, err := db.Action(id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != realm.StatusCompleted || !e.CompletedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("entry = %+v", e)
	}
	due, err := db.DueActions(context.Background(), t0.Add(time.Hour), engine.DueCursor{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("completed entry still due: %+v", due)
	}
}

func TestArmyAdjustments(t *testing.T) {
	db := newTestStore(t)
	p, s := createPlayer(t, db, "alice")

	inTx(t, db, func(tx engine.Tx) error {
		if err := tx.AdjustGarrison(s.ID, "infantry", 10); err != nil {
			return err
		}
		if err := tx.AdjustGarrison(s.ID, "infantry", -4); err != nil {
			return err
		}
		if err := tx.AdjustGarrison(s.ID, "archer", -3); err != nil {
			return err
		}
		return tx.AdjustPlayerUnits(p.ID, "infantry", 6)
	})

	g, err := db.Garrison(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if g["infantry"] != 6 || g["archer"] != 0 {
		t.Errorf("garrison = %v", g)
	}
	army, err := db.PlayerArmy(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if army.Total() != 6 {
		t.Errorf("army = %v", army)
	}

	err = db.InTx(context.Background(), func(tx engine.Tx) error {
		return tx.AdjustGarrison(s.ID, "dragon", 1)
	})
	if err == nil {
		t.Error("unknown unit type should violate the foreign key")
	}
}

func TestUpgradeBuilding(t *testing.T) {
	db := newTestStore(t)
	_, s := createPlayer(t, db, "alice")

	for want := 1; want <= 2; want++ {
		inTx(t, db, func(tx engine.Tx) error {
			level, err := tx.UpgradeBuilding(s.ID, "farm")
			if level != want {
				t.Errorf("level = %d, want %d", level, want)
			}
			return err
		})
	}
	b, err := db.Buildings(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b["farm"] != 2 {
		t.Errorf("buildings = %v", b)
	}
}

func TestWorldSeedPersisted(t *testing.T) {
	db := newTestStore(t)
	seed, err := db.WorldSeed(42)
	if err != nil || seed != 42 {
		t.Fatalf("WorldSeed = %d, %v", seed, err)
	}
	seed, err = db.WorldSeed(7)
	if err != nil || seed != 42 {
		t.Fatalf("WorldSeed after restart = %d, %v, want 42", seed, err)
	}
}

func TestStats(t *testing.T) {
	db := newTestStore(t)
	_, s := createPlayer(t, db, "alice")
	insertAction(t, db, s, t0)

	st, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Players != 2 || st.Settlements != 2 || st.PendingActions != 1 {
		t.Errorf("stats = %+v", st)
	}
}
