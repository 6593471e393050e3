package protoengine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoerr"
)

// Execute drives one user-visible code execution through the engine
// (§6 Exposed operations). It acquires the single-writer lock for the
// entire call, attempts raw-paste first when enabled, falls back to raw
// mode on RawPasteUnsupported, and retries retryable failures with
// exponential backoff (§4.B.7).
func (e *Engine) Execute(ctx context.Context, code string) (Response, error) {
	release, err := e.acquire()
	if err != nil {
		return Response{}, err
	}
	defer release()

	start := time.Now()
	resp, retries, err := e.executeWithRetry(ctx, code)
	e.recordMetrics(err == nil && resp.Success, time.Since(start), retries)

	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// executeWithRetry implements §4.B.7: up to MaxRetryAttempts, exponential
// backoff between attempts, no recovery replay between attempts (only the
// selected execution path is re-driven). DeviceExecutionError and
// InvalidArgument/ObjectDisposed are never retried (§7).
func (e *Engine) executeWithRetry(ctx context.Context, code string) (Response, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset() // start the interval sequence from RetryDelay

	retries := 0
	for attempt := 1; ; attempt++ {
		if err := e.ensureRawMode(ctx); err != nil {
			return Response{}, retries, err
		}

		resp, err := e.runOneAttempt(ctx, code)
		if err == nil {
			return resp, retries, nil
		}

		if !protoerr.Retryable(err) {
			return Response{}, retries, err
		}
		if attempt >= e.cfg.MaxRetryAttempts {
			return Response{}, retries, err
		}

		retries++
		e.logger.Info("execute: retrying after retryable error",
			logging.Field{Key: "attempt", Value: attempt},
			logging.Field{Key: "err", Value: err})

		if sleepErr := e.sleep(ctx, bo.NextBackOff()); sleepErr != nil {
			return Response{}, retries, sleepErr
		}
	}
}

// ensureRawMode re-establishes Raw mode if a previous failed wire
// interaction left the engine elsewhere (§3 Invariant 3).
func (e *Engine) ensureRawMode(ctx context.Context) error {
	if e.mode == ModeNormal {
		return e.EnterRaw(ctx)
	}
	return nil
}

// runOneAttempt tries raw-paste first (if enabled), falling back to raw
// mode without counting the fallback itself as a retry (§4.B.7).
func (e *Engine) runOneAttempt(ctx context.Context, code string) (Response, error) {
	if e.rawPasteEnabled {
		resp, fallback, err := e.execRawPaste(ctx, code)
		if err != nil {
			return Response{}, err
		}
		if !fallback {
			return resp, nil
		}
		// RawPasteUnsupported: disabled for the session, retried in raw
		// mode without charging a retry attempt.
	}

	resp, err := e.execRaw(ctx, code)
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}
