package protoengine

import (
	"context"
	"time"

	"github.com/rjboer/belaygo/internal/logging"
)

// recover implements §4.B.1: tolerate a device left in any mode by a
// previous session. Best-effort — failures in steps 1-4 are logged and
// ignored, matching the teacher's recovery-style helpers that never let a
// best-effort step abort the caller.
func (e *Engine) recover(ctx context.Context) {
	e.logger.Debug("recovery: starting")

	if err := e.writeAndFlush(ctx, []byte{ctrlInterrupt, ctrlEndOfData}); err != nil {
		e.logger.Debug("recovery: step1 interrupt+eod failed", logging.Field{Key: "err", Value: err})
	}
	_ = e.sleep(ctx, 100*time.Millisecond)

	if err := e.writeCtrl(ctx, ctrlExitRaw); err != nil {
		e.logger.Debug("recovery: step2 exit_raw failed", logging.Field{Key: "err", Value: err})
	}
	_ = e.sleep(ctx, 100*time.Millisecond)

	if err := e.writeCtrl(ctx, ctrlInterrupt); err != nil {
		e.logger.Debug("recovery: step3 interrupt failed", logging.Field{Key: "err", Value: err})
	}
	_ = e.sleep(ctx, 100*time.Millisecond)

	if err := e.writeAndFlush(ctx, []byte{'\r', '\n'}); err != nil {
		e.logger.Debug("recovery: step4 crlf failed", logging.Field{Key: "err", Value: err})
	}

	drainCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	e.ch.Drain(drainCtx, 10, e.quietWindow())

	e.mode = ModeNormal
	e.atPrompt = false
	e.logger.Debug("recovery: complete")
}

func (e *Engine) quietWindow() time.Duration {
	if e.caps.RequiresExtendedStartup {
		return 100 * time.Millisecond
	}
	return 60 * time.Millisecond
}
