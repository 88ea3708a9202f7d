package chainrpc

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"governanceagg/observability"
)

// maxAttempts bounds the retry budget for a single façade call on 429/5xx
// (or any transport error, since go-ethereum does not expose HTTP status
// codes through its JSON-RPC client).
const maxAttempts = 5

// baseBackoff and maxBackoff bound the exponential backoff-with-jitter
// delay between retries.
const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 10 * time.Second
)

// withRetry runs fn with exponential backoff and jitter, recording each
// attempt's outcome and latency on the adapter metrics registry.
func withRetry(ctx context.Context, chain string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		err := fn()
		observability.Adapter().Observe("chainrpc:"+chain, time.Since(start), err)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		observability.Adapter().RecordThrottle("chainrpc:"+chain, "retry")
		delay := backoffDelay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << attempt
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}
