// Package resilience wraps outbound calls with bounded retry and fixed
// backoff. Backend-reported faults are terminal and never retried.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/orderlink/orderlink/internal/envelope"
	"github.com/orderlink/orderlink/internal/logging"
)

// Policy holds the retry tuning applied by Do.
type Policy struct {
	// MaxRetries bounds the number of re-attempts after the first call.
	MaxRetries uint64
	// Interval is the fixed pause between attempts.
	Interval time.Duration
	// Logger receives a line per retried attempt. Nil disables logging.
	Logger logging.ServiceLogger
}

// DefaultPolicy retries twice with a half-second pause.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, Interval: 500 * time.Millisecond}
}

// Do runs fn, retrying transient failures according to the policy. A
// *envelope.Fault aborts immediately: the backend made a definitive decision
// and repeating the call cannot change it. Context cancellation also stops
// the loop.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if fault := envelope.AsFault(err); fault != nil {
			return backoff.Permanent(err)
		}
		if p.Logger != nil {
			p.Logger.Debug("retrying operation", logging.LogFields{
				"operation": name,
				"attempt":   attempt,
				"error":     err.Error(),
			})
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), p.MaxRetries),
		ctx,
	)
	return backoff.Retry(operation, b)
}
