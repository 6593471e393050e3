package protoengine

import (
	"context"
	"sync"
	"time"

	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoerr"
	"github.com/rjboer/belaygo/internal/transport"
)

// Engine is one Raw REPL protocol session bound to one transport Channel.
// All mutable session state is owned by this struct and mutated only under
// mu, matching §3 Invariant 1: the single-writer lock is always held across
// any wire interaction. Many Engine instances may exist in a process, each
// bound to its own channel (§5); there is no process-wide state here.
type Engine struct {
	ch     transport.Channel
	cfg    Config
	logger logging.Logger

	mu sync.Mutex

	mode            Mode
	atPrompt        bool
	rawPasteEnabled bool

	caps    Capabilities
	capsSet bool

	adaptiveResponseTimeout time.Duration
	adaptiveStartupDelay    time.Duration
	adaptiveInterruptDelay  time.Duration

	metrics Metrics

	operationInProgress bool
	disposed            bool
}

// New constructs an Engine bound to ch. Initialize must be called once
// before Execute/PutFile/GetFile are used.
func New(ch transport.Channel, cfg Config, logger logging.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		ch:                      ch,
		cfg:                     cfg,
		logger:                  logger,
		mode:                    ModeNormal,
		adaptiveResponseTimeout: cfg.BaseResponseTimeout,
		adaptiveStartupDelay:    cfg.StartupDelay,
		adaptiveInterruptDelay:  cfg.InterruptDelay,
		rawPasteEnabled:         cfg.EnableRawPasteAutodetect,
	}
}

// acquire enforces §3 Invariant 1 (at most one operation in progress) and
// §5 (the Nth call fully completes before the N+1th may acquire the lock).
// It returns a release function that must be deferred.
func (e *Engine) acquire() (func(), error) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil, protoerr.New(protoerr.KindObjectDisposed, "engine has been disposed")
	}
	if e.operationInProgress {
		e.mu.Unlock()
		return nil, protoerr.New(protoerr.KindInvalidArgument, "operation already in progress (re-entrant call rejected)")
	}
	e.operationInProgress = true
	return func() {
		e.operationInProgress = false
		e.mu.Unlock()
	}, nil
}

// Initialize runs recovery (§4.B.1) followed by initialization and
// capability detection (§4.B.2). It must be called exactly once, before
// any call to Execute.
func (e *Engine) Initialize(ctx context.Context) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	e.recover(ctx)
	return e.initializeLocked(ctx)
}

// Capabilities returns a read-only snapshot, safe to call at any time after
// Initialize (§3 Invariant 4: capabilities never mutate after being set).
func (e *Engine) Capabilities() Capabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}

// MetricsSnapshot returns a read-only snapshot of accumulated metrics.
func (e *Engine) MetricsSnapshot() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// Dispose releases the transport. Idempotent; attempts a best-effort exit
// from raw mode within a bounded 2s budget first (§5 Resource policy).
func (e *Engine) Dispose(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true

	if e.mode != ModeNormal {
		disposeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := e.ExitRaw(disposeCtx); err != nil {
			e.logger.Warn("dispose: best-effort exit_raw failed", logging.Field{Key: "err", Value: err})
		}
	}

	return e.ch.Close()
}

func (e *Engine) recordMetrics(success bool, duration time.Duration, retries int) {
	if success {
		e.metrics.Successes++
	} else {
		e.metrics.Failures++
	}
	e.metrics.Retries += uint64(retries)
	e.metrics.LastOpAt = time.Now()

	const alpha = 0.3
	if e.metrics.Successes+e.metrics.Failures == 1 {
		e.metrics.EMAExecDuration = duration
	} else {
		e.metrics.EMAExecDuration = time.Duration(alpha*float64(duration) + (1-alpha)*float64(e.metrics.EMAExecDuration))
	}
}

// deadline computes an absolute deadline from the engine's adaptive
// response timeout, or a scale factor of it.
func (e *Engine) deadline(scale float64) time.Time {
	return time.Now().Add(time.Duration(float64(e.adaptiveResponseTimeout) * scale))
}
