package shutdown

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	timeout := 5 * time.Second
	h := New(timeout)

	if h.timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, h.timeout)
	}
	if h.IsShuttingDown() {
		t.Error("expected isShuttingDown to be false")
	}
	if len(h.hooks) != 0 {
		t.Errorf("expected 0 hooks, got %d", len(h.hooks))
	}
}

func TestShutdown_ReverseSequentialOrder(t *testing.T) {
	h := New(5 * time.Second)

	var order []string
	for _, name := range []string{"database", "scheduler", "api"} {
		name := name
		h.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := h.Shutdown(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "api,scheduler,database"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected order %s, got %s", want, got)
	}
}

func TestShutdown_ContinuesAfterError(t *testing.T) {
	h := New(5 * time.Second)
	errAPI := errors.New("listener already closed")

	var closed bool
	h.Register("database", func(ctx context.Context) error {
		closed = true
		return nil
	})
	h.Register("api", func(ctx context.Context) error {
		return errAPI
	})

	err := h.Shutdown()
	if !errors.Is(err, errAPI) {
		t.Errorf("expected joined error to contain %v, got %v", errAPI, err)
	}
	if !strings.Contains(err.Error(), "api:") {
		t.Errorf("expected error to name the hook, got %v", err)
	}
	if !closed {
		t.Error("expected later hooks to still run")
	}
}

func TestShutdown_TimeoutSkipsRemainingHooks(t *testing.T) {
	h := New(20 * time.Millisecond)

	var ranDatabase bool
	h.Register("database", func(ctx context.Context) error {
		ranDatabase = true
		return nil
	})
	h.Register("scheduler", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := h.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if ranDatabase {
		t.Error("expected hooks after the deadline to be skipped")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	h := New(5 * time.Second)

	calls := 0
	h.Register("api", func(ctx context.Context) error {
		calls++
		return nil
	})

	_ = h.Shutdown()
	_ = h.Shutdown()

	if calls != 1 {
		t.Errorf("expected hook to run once, got %d", calls)
	}
	if !h.IsShuttingDown() {
		t.Error("expected IsShuttingDown after Shutdown")
	}
}

func TestShutdownChan(t *testing.T) {
	h := New(time.Second)

	select {
	case <-h.ShutdownChan():
		t.Fatal("channel closed before shutdown")
	default:
	}

	_ = h.Shutdown()

	select {
	case <-h.ShutdownChan():
	case <-time.After(100 * time.Millisecond):
		t.Error("expected channel to be closed after shutdown")
	}
}

func TestTriggerShutdown(t *testing.T) {
	h := New(time.Second)

	ran := make(chan struct{})
	h.Register("api", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	h.TriggerShutdown()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after TriggerShutdown")
	}
	<-ran
}
