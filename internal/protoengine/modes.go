package protoengine

import (
	"context"
	"time"

	"github.com/rjboer/belaygo/internal/protoerr"
)

var rawBanner = []byte("raw REPL")

// EnterRaw implements §4.B.3 entry: if already in Raw, no-op. Otherwise
// write ENTER_RAW and verify the "raw REPL" banner, mutating mode only
// after the banner is independently confirmed (§9: mode is advisory and
// every mode-entry operation must verify the real prompt/banner).
func (e *Engine) EnterRaw(ctx context.Context) error {
	if e.mode == ModeRaw {
		return nil
	}

	if err := e.writeCtrl(ctx, ctrlEnterRaw); err != nil {
		return protoerr.Wrap(protoerr.KindTransportError, err, "enter_raw: write ENTER_RAW")
	}

	if _, ok := e.readUntilContains(ctx, e.deadline(1.0), rawBanner); !ok {
		_ = e.sleep(ctx, e.adaptiveInterruptDelay)
		if _, ok2 := e.readUntilContains(ctx, time.Now().Add(1*time.Second), rawBanner); !ok2 {
			return protoerr.New(protoerr.KindModeTransitionFailed, "enter_raw: %q banner not observed", string(rawBanner))
		}
	}

	e.mode = ModeRaw
	e.atPrompt = true
	return nil
}

// ExitRaw implements §4.B.3 exit: if already Normal, no-op. Otherwise write
// EXIT_RAW and wait for the friendly '>' prompt byte.
func (e *Engine) ExitRaw(ctx context.Context) error {
	if e.mode == ModeNormal {
		return nil
	}

	if err := e.writeCtrl(ctx, ctrlExitRaw); err != nil {
		return protoerr.Wrap(protoerr.KindTransportError, err, "exit_raw: write EXIT_RAW")
	}

	if _, ok := e.readUntilByte(ctx, e.deadline(1.0), '>'); !ok {
		return protoerr.New(protoerr.KindModeTransitionFailed, "exit_raw: '>' prompt not observed")
	}

	e.mode = ModeNormal
	e.atPrompt = false
	return nil
}
