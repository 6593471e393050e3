// Package transport implements the Framed Byte Channel: a duplex byte
// stream abstraction uniform over serial ports and spawned-interpreter
// stdio, exposing non-blocking "read available" and blocking "read exact"
// primitives plus a drain operation. It introduces no framing of its own.
package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoerr"
)

// Channel is the capability set every transport variant implements: serial
// port and subprocess stdio are the two concrete kinds (see serial_linux.go
// and subprocess.go). Modeled as an interface with two implementations, the way
// the teacher models sdr.SDR over PlutoSDR and MockSDR.
type Channel interface {
	// ReadExact blocks until exactly len(buf) bytes have arrived or ctx is
	// done, returning protoerr.Timeout if the deadline elapses first.
	ReadExact(ctx context.Context, buf []byte, deadline time.Time) error

	// ReadAvailable returns whatever bytes are available within a short
	// bounded wait, or 0 with a nil error on timeout.
	ReadAvailable(ctx context.Context, buf []byte, shortTimeout time.Duration) (int, error)

	// WriteAll writes the full buffer, returning only once every byte has
	// been accepted by the underlying stream.
	WriteAll(ctx context.Context, b []byte) error

	// Flush is mandatory after every control-byte write (§4.A).
	Flush() error

	// Drain discards pending input until a quiet window is observed or
	// maxAttempts is exhausted.
	Drain(ctx context.Context, maxAttempts int, quietWindow time.Duration)

	// Close releases the underlying transport. Idempotent.
	Close() error
}

// readAvailableChunk is the bounded wait granularity used by ReadAvailable
// implementations (§4.A: "≈100 ms").
const readAvailableChunk = 100 * time.Millisecond

// DefaultQuietWindow and ExtendedQuietWindow are the two drain quiet-window
// values named in §4.A: 50-100ms normally, extended to 100ms when
// capabilities report a slow-starting device.
const (
	DefaultQuietWindow  = 60 * time.Millisecond
	ExtendedQuietWindow = 100 * time.Millisecond
)

// drainLoop is a transport-agnostic implementation of Drain built only on
// top of ReadAvailable, shared by both concrete channels so the quiet-window
// bookkeeping lives in one place.
func drainLoop(ctx context.Context, ch Channel, maxAttempts int, quietWindow time.Duration, logger logging.Logger) {
	scratch := make([]byte, 4096)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		n, err := ch.ReadAvailable(ctx, scratch, quietWindow)
		if err != nil {
			logger.Debug("drain: read-available error, ignoring", logging.Field{Key: "err", Value: err})
			return
		}
		if n == 0 {
			return
		}
		logger.Debug("drain: discarded bytes", logging.Field{Key: "n", Value: n})
	}
}

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = fmt.Errorf("transport: channel closed")

func wrapIOErr(err error) error {
	if err == nil {
		return nil
	}
	if err == io.EOF {
		return protoerr.Wrap(protoerr.KindTransportError, err, "channel closed by peer")
	}
	return protoerr.Wrap(protoerr.KindTransportError, err, "transport I/O error")
}
