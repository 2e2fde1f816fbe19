package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orderlink/orderlink/internal/envelope"
)

func TestDoRetriesTransientFailures(t *testing.T) {
	p := Policy{MaxRetries: 3, Interval: time.Millisecond}

	attempts := 0
	err := p.Do(context.Background(), "flaky", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsAfterMaxRetries(t *testing.T) {
	p := Policy{MaxRetries: 2, Interval: time.Millisecond}

	attempts := 0
	err := p.Do(context.Background(), "dead", func(context.Context) error {
		attempts++
		return errors.New("still broken")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	// One initial attempt plus two retries.
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoDoesNotRetryFaults(t *testing.T) {
	p := Policy{MaxRetries: 5, Interval: time.Millisecond}

	attempts := 0
	fault := envelope.NewFault(envelope.FaultCodeInsufficient, "no stock")
	err := p.Do(context.Background(), "definitive", func(context.Context) error {
		attempts++
		return fault
	})
	if envelope.AsFault(err) == nil {
		t.Fatalf("expected the fault back, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("faults are definitive, expected 1 attempt, got %d", attempts)
	}
}

func TestDoHonoursContextCancellation(t *testing.T) {
	p := Policy{MaxRetries: 100, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, "cancelled", func(context.Context) error {
		attempts++
		return errors.New("keep going")
	})
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if attempts > 10 {
		t.Fatalf("cancellation should have stopped the loop early, got %d attempts", attempts)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxRetries != 2 {
		t.Fatalf("unexpected default retries %d", p.MaxRetries)
	}
	if p.Interval != 500*time.Millisecond {
		t.Fatalf("unexpected default interval %s", p.Interval)
	}
}
