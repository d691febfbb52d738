package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func always(error) bool { return true }

type retryAfterErr struct{ wait time.Duration }

func (e retryAfterErr) Error() string             { return "too many requests" }
func (e retryAfterErr) RetryAfter() time.Duration { return e.wait }

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return nil
	}, always)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	var notified []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		notified = append(notified, attempt)
	}

	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, always)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(notified) != 2 || notified[0] != 1 || notified[1] != 2 {
		t.Errorf("expected OnRetry for attempts 1 and 2, got %v", notified)
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	testErr := errors.New("non-retryable")
	attempts := 0

	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return testErr
	}, func(error) bool { return false })

	if !errors.Is(err, testErr) {
		t.Errorf("expected %v, got %v", testErr, err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(4), func() error {
		attempts++
		return errors.New("still failing")
	}, always)

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_ = Do(context.Background(), Config{}, func() error {
		attempts++
		return errors.New("fail")
	}, always)

	if attempts != 1 {
		t.Errorf("expected a single attempt, got %d", attempts)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 1}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	}, always)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	link, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("flaky")
		}
		return "https://t.me/c/1/2", nil
	}, always)

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if link != "https://t.me/c/1/2" {
		t.Errorf("unexpected result %q", link)
	}
}

func TestDo_HonoursRetryAfterCappedByMaxBackoff(t *testing.T) {
	var waits []time.Duration
	cfg := fastConfig(2)
	cfg.OnRetry = func(_ int, _ error, wait time.Duration) {
		waits = append(waits, wait)
	}

	_ = Do(context.Background(), cfg, func() error {
		return retryAfterErr{wait: time.Minute}
	}, always)

	if len(waits) != 1 {
		t.Fatalf("expected one retry, got %d", len(waits))
	}
	if waits[0] != cfg.MaxBackoff {
		t.Errorf("expected wait capped at %v, got %v", cfg.MaxBackoff, waits[0])
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, cfg); got != tt.expected {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	cfg := Config{InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 2, JitterFraction: 0.1}

	for i := 0; i < 100; i++ {
		got := Backoff(1, cfg)
		if got < 900*time.Millisecond || got > 1100*time.Millisecond {
			t.Fatalf("jittered backoff %v out of bounds", got)
		}
	}
}
