package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy BackoffStrategy
		attempt  int
		expected time.Duration
	}{
		{"constant", NewConstantBackoff(50 * time.Millisecond), 7, 50 * time.Millisecond},
		{"linear first", NewLinearBackoff(100*time.Millisecond, time.Second), 0, 100 * time.Millisecond},
		{"linear third", NewLinearBackoff(100*time.Millisecond, time.Second), 2, 300 * time.Millisecond},
		{"linear capped", NewLinearBackoff(100*time.Millisecond, time.Second), 20, time.Second},
		{"exponential", NewExponentialBackoff(10*time.Millisecond, time.Second, 2, false), 3, 80 * time.Millisecond},
		{"exponential capped", NewExponentialBackoff(10*time.Millisecond, time.Second, 2, false), 30, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.strategy.NextDelay(tt.attempt); got != tt.expected {
				t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
			}
		})
	}
}

func TestExponentialBackoffJitter(t *testing.T) {
	backoff := NewExponentialBackoff(100*time.Millisecond, time.Second, 2, true)
	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestBackoffFromConfig(t *testing.T) {
	if _, ok := BackoffFromConfig("constant", time.Millisecond, 0).(*ConstantBackoff); !ok {
		t.Error("expected constant backoff")
	}
	if _, ok := BackoffFromConfig("linear", time.Millisecond, 0).(*LinearBackoff); !ok {
		t.Error("expected linear backoff")
	}
	if eb, ok := BackoffFromConfig("unknown", time.Millisecond, 0).(*ExponentialBackoff); !ok || eb.Jitter {
		t.Error("expected exponential backoff without jitter")
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), 5, NewConstantBackoff(time.Millisecond), func(int) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetryExhausts(t *testing.T) {
	boom := errors.New("boom")
	attempts, err := Retry(context.Background(), 4, NewConstantBackoff(time.Millisecond), func(int) error {
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts, err := Retry(ctx, 10, NewConstantBackoff(time.Hour), func(int) error {
		cancel()
		return errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}
