package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoerr"
)

// errTimeoutSignal is an internal marker distinguishing "the bounded wait
// elapsed" from "the underlying stream failed" or "the caller cancelled".
// It never escapes this file.
var errTimeoutSignal = errors.New("transport: bounded wait elapsed")

// streamChannel is the shared Channel implementation for both the serial
// and subprocess variants: once each is reduced to an io.ReadWriteCloser,
// the framing, deadline, and drain logic are identical. A background pump
// goroutine turns the blocking io.Reader into chunks delivered over a
// channel so reads can be cancelled or time out without leaving a stray
// blocked Read call behind for the caller to clean up.
type streamChannel struct {
	rwc    io.ReadWriteCloser
	logger logging.Logger

	data    chan []byte
	errCh   chan error
	closeCh chan struct{}
	closeMu sync.Mutex
	closed  bool

	leftover []byte
}

func newStreamChannel(rwc io.ReadWriteCloser, logger logging.Logger) *streamChannel {
	if logger == nil {
		logger = logging.Default()
	}
	sc := &streamChannel{
		rwc:     rwc,
		logger:  logger,
		data:    make(chan []byte, 64),
		errCh:   make(chan error, 1),
		closeCh: make(chan struct{}),
	}
	go sc.pump()
	return sc
}

func (sc *streamChannel) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := sc.rwc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case sc.data <- chunk:
			case <-sc.closeCh:
				return
			}
		}
		if err != nil {
			select {
			case sc.errCh <- err:
			case <-sc.closeCh:
			}
			return
		}
	}
}

// nextChunk returns the next available chunk of bytes, consuming any
// leftover first, else waiting on the pump, ctx cancellation, or timeoutC.
func (sc *streamChannel) nextChunk(ctx context.Context, timeoutC <-chan time.Time) ([]byte, error) {
	if len(sc.leftover) > 0 {
		c := sc.leftover
		sc.leftover = nil
		return c, nil
	}
	select {
	case chunk := <-sc.data:
		return chunk, nil
	case err := <-sc.errCh:
		return nil, wrapIOErr(err)
	case <-ctx.Done():
		return nil, protoerr.Wrap(protoerr.KindTimeout, ctx.Err(), "read cancelled")
	case <-timeoutC:
		return nil, errTimeoutSignal
	}
}

func (sc *streamChannel) ReadExact(ctx context.Context, buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protoerr.New(protoerr.KindTimeout, "read_exact: deadline exceeded with %d/%d bytes", got, len(buf))
		}
		timer := time.NewTimer(remaining)
		chunk, err := sc.nextChunk(ctx, timer.C)
		timer.Stop()
		if err == errTimeoutSignal {
			return protoerr.New(protoerr.KindTimeout, "read_exact: deadline exceeded with %d/%d bytes", got, len(buf))
		}
		if err != nil {
			return err
		}
		n := copy(buf[got:], chunk)
		got += n
		if n < len(chunk) {
			sc.leftover = chunk[n:]
		}
	}
	return nil
}

func (sc *streamChannel) ReadAvailable(ctx context.Context, buf []byte, shortTimeout time.Duration) (int, error) {
	if shortTimeout <= 0 {
		shortTimeout = readAvailableChunk
	}
	timer := time.NewTimer(shortTimeout)
	chunk, err := sc.nextChunk(ctx, timer.C)
	timer.Stop()
	if err == errTimeoutSignal {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := copy(buf, chunk)
	if n < len(chunk) {
		sc.leftover = chunk[n:]
	}
	return n, nil
}

func (sc *streamChannel) WriteAll(ctx context.Context, b []byte) error {
	for len(b) > 0 {
		select {
		case <-ctx.Done():
			return protoerr.Wrap(protoerr.KindTimeout, ctx.Err(), "write cancelled")
		default:
		}
		n, err := sc.rwc.Write(b)
		if err != nil {
			return wrapIOErr(err)
		}
		b = b[n:]
	}
	return nil
}

func (sc *streamChannel) Flush() error {
	if f, ok := sc.rwc.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	if s, ok := sc.rwc.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (sc *streamChannel) Drain(ctx context.Context, maxAttempts int, quietWindow time.Duration) {
	drainLoop(ctx, sc, maxAttempts, quietWindow, sc.logger)
}

func (sc *streamChannel) Close() error {
	sc.closeMu.Lock()
	defer sc.closeMu.Unlock()
	if sc.closed {
		return nil
	}
	sc.closed = true
	close(sc.closeCh)
	return sc.rwc.Close()
}
