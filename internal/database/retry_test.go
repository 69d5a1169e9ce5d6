package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relayq/relayq/internal/config"
)

func testRetrier(maxRetries int) *Retrier {
	return NewRetrier(config.StorageRetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		Multiplier: 2.0,
	})
}

func TestRetrier_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := testRetrier(3).Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetrier_RetriesTransient(t *testing.T) {
	calls := 0
	err := testRetrier(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetrier_PermanentNotRetried(t *testing.T) {
	permanent := errors.New("UNIQUE constraint failed: test.name")
	calls := 0
	err := testRetrier(3).Do(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetrier_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := testRetrier(2).Do(context.Background(), func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"table locked", errors.New("database table is locked"), true},
		{"unique", errors.New("UNIQUE constraint failed: webhooks.id"), false},
		{"other", errors.New("no such table: nope"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}
