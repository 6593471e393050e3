package protoengine

import (
	"context"
	"strings"
	"time"

	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoerr"
)

// initializeLocked implements §4.B.2: up to 3 startup attempts, then
// one-pass capability detection. Called with the engine lock already held
// (from Initialize).
func (e *Engine) initializeLocked(ctx context.Context) error {
	const maxAttempts = 3
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.startupAttempt(ctx); err != nil {
			lastErr = err
			e.logger.Debug("initialize: startup attempt failed", logging.Field{Key: "attempt", Value: attempt}, logging.Field{Key: "err", Value: err})

			e.adaptiveStartupDelay = capDuration(time.Duration(float64(e.adaptiveStartupDelay)*1.5), e.cfg.MaxStartupDelay)
			e.adaptiveInterruptDelay = capDuration(time.Duration(float64(e.adaptiveInterruptDelay)*1.5), 1*time.Second)
			e.caps.RequiresExtendedStartup = true
			e.caps.RequiresExtendedInterrupt = true
			continue
		}
		e.mode = ModeNormal
		lastErr = nil
		break
	}

	if lastErr != nil {
		return protoerr.Wrap(protoerr.KindInitializationFailed, lastErr, "initialize: all %d startup attempts failed", maxAttempts)
	}

	e.detectCapabilities(ctx)
	e.capsSet = true
	return nil
}

func capDuration(d, cap time.Duration) time.Duration {
	if d > cap {
		return cap
	}
	return d
}

// startupAttempt performs one startup round: wait, drain, interrupt, drain.
func (e *Engine) startupAttempt(ctx context.Context) error {
	_ = e.sleep(ctx, e.adaptiveStartupDelay)
	e.ch.Drain(ctx, 10, e.quietWindow())

	if err := e.writeAndFlush(ctx, []byte{'\r', ctrlInterrupt}); err != nil {
		return protoerr.Wrap(protoerr.KindTransportError, err, "startup: write CR+INTERRUPT")
	}
	_ = e.sleep(ctx, e.adaptiveInterruptDelay)
	e.ch.Drain(ctx, 10, e.quietWindow())
	return nil
}

// detectCapabilities implements §4.B.2's capability-detection pass. All
// failures here are soft (recorded as unset/false) except where noted.
func (e *Engine) detectCapabilities(ctx context.Context) {
	if err := e.EnterRaw(ctx); err != nil {
		e.logger.Debug("detectCapabilities: enter_raw failed, capabilities left mostly unset", logging.Field{Key: "err", Value: err})
		return
	}

	e.caps.Platform, e.caps.HasPlatform = e.detectStringExpr(ctx, "import sys\nprint(sys.platform)")
	versionLine, ok := e.detectStringExpr(ctx, "import sys\nprint(sys.version.split('\\n')[0])")
	e.caps.Version, e.caps.HasVersion = versionLine, ok

	if e.cfg.EnableRawPasteAutodetect {
		e.probeRawPaste(ctx)
	}

	avg, ok := e.timeSimpleExecutions(ctx, 3)
	if ok {
		e.caps.AverageResponseTime = avg
		if float64(avg)*5 > float64(e.adaptiveResponseTimeout) {
			e.adaptiveResponseTimeout = capDuration(time.Duration(float64(avg)*5), e.cfg.MaxResponseTimeout)
		}
	}

	if e.caps.SupportsRawPaste {
		e.flowControlSmokeTest(ctx)
	}

	if e.caps.AverageResponseTime > 0 {
		e.adaptiveResponseTimeout = capDuration(maxDuration(e.adaptiveResponseTimeout, 3*e.caps.AverageResponseTime), e.cfg.MaxResponseTimeout)
	}
	if !e.caps.SupportsRawPaste || !e.caps.HasReliableFlowControl {
		e.rawPasteEnabled = false
	} else {
		e.rawPasteEnabled = e.cfg.EnableRawPasteAutodetect
	}
	e.caps.SupportsLargeCodeTransfer = e.caps.HasReliableFlowControl

	if e.caps.MaxWindowSize == 0 {
		e.caps.MaxWindowSize = e.caps.PreferredWindowSize
	}
	if e.caps.MaxWindowSize < e.cfg.MaximumWindowSize {
		e.caps.MaxWindowSize = e.cfg.MaximumWindowSize
	}

	if err := e.ExitRaw(ctx); err != nil {
		e.logger.Debug("detectCapabilities: exit_raw failed", logging.Field{Key: "err", Value: err})
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// detectStringExpr runs a raw-mode execution and returns its trimmed
// result, or ("", false) on any failure.
func (e *Engine) detectStringExpr(ctx context.Context, code string) (string, bool) {
	resp, err := e.execRaw(ctx, code)
	if err != nil || !resp.Success {
		return "", false
	}
	return strings.TrimSpace(resp.Result), true
}

// probeRawPaste performs the §4.B.2 step 2 raw-paste test handshake: enter,
// read the advertised window if accepted, then exit cleanly.
func (e *Engine) probeRawPaste(ctx context.Context) {
	outcome, increment, err := e.enterRawPaste(ctx)
	if err != nil || outcome != rawPasteAccepted {
		e.caps.SupportsRawPaste = false
		return
	}

	e.caps.SupportsRawPaste = true
	e.caps.PreferredWindowSize = increment

	if err := e.writeCtrl(ctx, ctrlEndOfData); err != nil {
		e.caps.SupportsRawPaste = false
		e.mode = ModeRaw
		return
	}
	e.readUntilByte(ctx, e.deadline(1.0), '>')
	e.mode = ModeRaw
}

// timeSimpleExecutions runs "1+1" n times and returns the mean wall-clock
// duration (§4.B.2 step 3).
func (e *Engine) timeSimpleExecutions(ctx context.Context, n int) (time.Duration, bool) {
	var total time.Duration
	ran := 0
	for i := 0; i < n; i++ {
		start := time.Now()
		resp, err := e.execRaw(ctx, "1+1")
		if err != nil || !resp.Success {
			continue
		}
		total += time.Since(start)
		ran++
	}
	if ran == 0 {
		return 0, false
	}
	return total / time.Duration(ran), true
}

// flowControlSmokeTest runs a small multi-line script with a sentinel
// through raw-paste and checks the sentinel made it back (§4.B.2 step 4).
func (e *Engine) flowControlSmokeTest(ctx context.Context) {
	const sentinel = "__BELAY_FLOWCTL_OK__"
	script := "s = '" + sentinel + "'\nprint(s)\n"

	resp, fallback, err := e.execRawPaste(ctx, script)
	if err != nil || fallback || !resp.Success {
		e.caps.HasReliableFlowControl = false
		return
	}
	e.caps.HasReliableFlowControl = strings.Contains(resp.Stdout, sentinel)
}
