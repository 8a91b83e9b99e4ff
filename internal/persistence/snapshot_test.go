package persistence

import (
	"errors"
	"testing"
	"time"
)

func TestSnapshotChain(t *testing.T) {
	db := newTestStore(t)
	createPlayer(t, db, "alice")

	first, err := db.TakeSnapshot(t0)
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	if first.PrevHash != "" || first.Hash == "" || first.Settlements != 2 {
		t.Errorf("first snapshot = %+v", first)
	}
	second, err := db.TakeSnapshot(t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if second.PrevHash != first.Hash {
		t.Errorf("second.PrevHash = %q, want %q", second.PrevHash, first.Hash)
	}
	if second.Hash == first.Hash {
		t.Error("chained hashes of identical state must differ")
	}

	n, err := db.VerifySnapshots()
	if err != nil || n != 2 {
		t.Fatalf("VerifySnapshots = %d, %v", n, err)
	}

	list, err := db.Snapshots()
	if err != nil || len(list) != 2 {
		t.Fatalf("Snapshots = %+v, %v", list, err)
	}

	settlements, err := db.LoadSnapshot(first.Seq)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(settlements) != 2 || settlements[1].Name != "alice-home" {
		t.Errorf("restored = %+v", settlements)
	}
	if settlements[1].Balances != StartingBalances {
		t.Errorf("restored balances = %v", settlements[1].Balances)
	}
}

func TestSnapshotTamperDetected(t *testing.T) {
	db := newTestStore(t)
	if _, err := db.TakeSnapshot(t0); err != nil {
		t.Fatal(err)
	}
	second, err := db.TakeSnapshot(t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.conn.Exec("UPDATE snapshots SET blob = X'00' || blob WHERE seq = ?", second.Seq); err != nil {
		t.Fatal(err)
	}
	n, err := db.VerifySnapshots()
	if !errors.Is(err, ErrChainBroken) {
		t.Fatalf("VerifySnapshots error = %v, want ErrChainBroken", err)
	}
	if n != 1 {
		t.Errorf("verified %d before the break, want 1", n)
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	src := []byte(`{"food":1000,"wood":500,"stone":200,"silver":100,"gold":10}`)
	blob, err := compressLZ4(src)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decompressLZ4(blob)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(src) {
		t.Errorf("round trip = %q", got)
	}
}
