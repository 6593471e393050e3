package protoengine

import (
	"bytes"
	"context"
	"time"

	"github.com/rjboer/belaygo/internal/protoerr"
)

// writeCtrl writes a single control byte and flushes, as every control-byte
// write must (§4.A).
func (e *Engine) writeCtrl(ctx context.Context, b byte) error {
	if err := e.ch.WriteAll(ctx, []byte{b}); err != nil {
		return err
	}
	return e.ch.Flush()
}

func (e *Engine) writeAndFlush(ctx context.Context, b []byte) error {
	if err := e.ch.WriteAll(ctx, b); err != nil {
		return err
	}
	return e.ch.Flush()
}

// readUntilContains accumulates bytes via ReadAvailable until any of
// needles is observed in the accumulated buffer or deadline elapses.
func (e *Engine) readUntilContains(ctx context.Context, deadline time.Time, needles ...[]byte) ([]byte, bool) {
	var acc []byte
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		wait := 100 * time.Millisecond
		if remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			break
		}
		n, err := e.ch.ReadAvailable(ctx, buf, wait)
		if err != nil {
			return acc, false
		}
		if n > 0 {
			acc = append(acc, buf[:n]...)
			for _, needle := range needles {
				if bytes.Contains(acc, needle) {
					return acc, true
				}
			}
		}
	}
	return acc, false
}

// readUntilByte accumulates bytes until target is seen among them.
func (e *Engine) readUntilByte(ctx context.Context, deadline time.Time, target byte) ([]byte, bool) {
	return e.readUntilContains(ctx, deadline, []byte{target})
}

// sleep honors cancellation, per §5 ("every sleep is a suspension point").
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return protoerr.Wrap(protoerr.KindTimeout, ctx.Err(), "sleep cancelled")
	}
}
