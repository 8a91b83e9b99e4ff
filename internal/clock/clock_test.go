package clock

import (
	"testing"
	"time"
)

func TestSystemIsUTC(t *testing.T) {
	now := System{}.Now()
	if now.Location() != time.UTC {
		t.Fatalf("System.Now location = %v, want UTC", now.Location())
	}
}

func TestManualSetAndAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManual(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("Now = %v, want %v", got, start)
	}

	got := m.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !got.Equal(want) || !m.Now().Equal(want) {
		t.Fatalf("after Advance: got %v, want %v", got, want)
	}

	later := start.Add(24 * time.Hour)
	m.Set(later)
	if !m.Now().Equal(later) {
		t.Fatalf("after Set: got %v, want %v", m.Now(), later)
	}
}

func TestManualNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	m := NewManual(time.Date(2025, 1, 1, 14, 0, 0, 0, loc))
	if m.Now().Location() != time.UTC {
		t.Fatalf("location = %v, want UTC", m.Now().Location())
	}
	if m.Now().Hour() != 12 {
		t.Fatalf("hour = %d, want 12", m.Now().Hour())
	}
}
