package auditlog

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/talgya/mini-realm/internal/clock"
)

type rec struct {
	Event string `json:"event"`
	N     int    `json:"n"`
}

func readAll(t *testing.T, dir string) map[string][]rec {
	t.Helper()
	files, err := Files(dir, "audit")
	if err != nil {
		t.Fatal(err)
	}
	out := map[string][]rec{}
	for _, f := range files {
		err := ReadFile(f, func(line json.RawMessage) error {
			var r rec
			if err := json.Unmarshal(line, &r); err != nil {
				return err
			}
			out[filepath.Base(f)] = append(out[filepath.Base(f)], r)
			return nil
		})
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", f, err)
		}
	}
	return out
}

func TestRecordRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC))
	w := New(dir, "audit", clk)

	for i := 0; i < 3; i++ {
		if err := w.Record(rec{Event: "action_completed", N: i}); err != nil {
			t.Fatal(err)
		}
	}
	clk.Advance(time.Hour)
	if err := w.Record(rec{Event: "action_completed", N: 3}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got := readAll(t, dir)
	if len(got) != 2 {
		t.Fatalf("files = %v, want two hours", got)
	}
	first := got["audit-2025-03-01-12.jsonl.zst"]
	if len(first) != 3 || first[2].N != 2 {
		t.Errorf("first hour = %+v", first)
	}
	if second := got["audit-2025-03-01-13.jsonl.zst"]; len(second) != 1 || second[0].N != 3 {
		t.Errorf("second hour = %+v", second)
	}
}

func TestReopenAppends(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 2; i++ {
		w := New(dir, "audit", clk)
		if err := w.Record(rec{N: i}); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}

	got := readAll(t, dir)["audit-2025-03-01-12.jsonl.zst"]
	if len(got) != 2 || got[0].N != 0 || got[1].N != 1 {
		t.Errorf("records = %+v, want both sessions", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "audit", clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if err := w.Record(rec{N: i*100 + j}); err != nil {
					t.Error(err)
				}
			}
		}(i)
	}
	wg.Wait()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	total := 0
	for _, rs := range readAll(t, dir) {
		total += len(rs)
	}
	if total != 200 {
		t.Errorf("read %d records, want 200", total)
	}
}

func TestRecordRejectsUnmarshalable(t *testing.T) {
	w := New(t.TempDir(), "audit", nil)
	defer w.Close()
	if err := w.Record(func() {}); err == nil {
		t.Error("expected marshal error")
	}
}
