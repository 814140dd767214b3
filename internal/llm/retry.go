// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// COMPLETION RETRY
// =============================================================================

// RetryPolicy bounds how often a one-shot completion is attempted.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the wait before the second try; it doubles after that.
	Delay time.Duration
}

// DefaultRetry tries twice with a one second pause.
var DefaultRetry = RetryPolicy{Attempts: 2, Delay: time.Second}

// backoff returns the wait before attempt n (n >= 1).
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.Delay
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

// CompleteWithRetry calls c.Complete, retrying transient failures (network
// errors, rate limiting) per policy. Auth, model-unavailable, protocol and
// cancellation errors return immediately. The wait between tries stops early
// if ctx is cancelled.
func CompleteWithRetry(ctx context.Context, c Completer, req Request, policy RetryPolicy) (string, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.backoff(attempt)
			zap.L().Debug("retrying completion",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", Transport("", ctx.Err())
			case <-time.After(delay):
			}
		}

		text, err := c.Complete(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !Retryable(err) {
			return "", err
		}
	}
	return "", lastErr
}
