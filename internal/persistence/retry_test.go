package persistence

import (
	"errors"
	"testing"
	"time"
)

func TestIsTransientSQLiteErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"constraint", errors.New("CHECK constraint failed: food >= 0 (275)"), false},
		{"busy", errors.New("SQLITE_BUSY"), true},
		{"locked", errors.New("database is locked"), true},
		{"short read", errors.New("sqlite: (522) short read"), true},
		{"wrapped", errors.New("begin: database table is locked"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientSQLiteErr(tt.err); got != tt.want {
				t.Errorf("isTransientSQLiteErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOp(t *testing.T) {
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}

	calls := 0
	err := retryOp(cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("transient: err=%v calls=%d, want nil after 3", err, calls)
	}

	calls = 0
	permanent := errors.New("no such table")
	err = retryOp(cfg, func() error {
		calls++
		return permanent
	})
	if err != permanent || calls != 1 {
		t.Errorf("permanent: err=%v calls=%d, want no retry", err, calls)
	}

	calls = 0
	err = retryOp(cfg, func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil || calls != cfg.maxRetries+1 {
		t.Errorf("exhausted: err=%v calls=%d, want %d calls", err, calls, cfg.maxRetries+1)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := retryConfig{maxRetries: 10, baseDelay: 10 * time.Millisecond, maxDelay: 40 * time.Millisecond}
	for attempt := 0; attempt < 8; attempt++ {
		d := backoffDelay(cfg, attempt)
		if d < cfg.baseDelay || d >= cfg.maxDelay+cfg.baseDelay {
			t.Errorf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}
