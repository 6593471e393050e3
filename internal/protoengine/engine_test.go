package protoengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rjboer/belaygo/internal/protoerr"
)

// pipeChannel is a transport.Channel built directly on a net.Pipe half, so
// protocol-engine tests can drive a scripted goroutine playing the device
// side and assert on the exact bytes the engine writes, without depending
// on the transport package's own implementation.
type pipeChannel struct {
	conn net.Conn
}

func (p *pipeChannel) ReadExact(ctx context.Context, buf []byte, deadline time.Time) error {
	_ = p.conn.SetReadDeadline(deadline)
	_, err := io.ReadFull(p.conn, buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return protoerr.New(protoerr.KindTimeout, "read_exact timed out")
		}
		return protoerr.Wrap(protoerr.KindTransportError, err, "read_exact")
	}
	return nil
}

func (p *pipeChannel) ReadAvailable(ctx context.Context, buf []byte, shortTimeout time.Duration) (int, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(shortTimeout))
	n, err := p.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return 0, protoerr.Wrap(protoerr.KindTransportError, err, "read_available")
	}
	return n, nil
}

func (p *pipeChannel) WriteAll(ctx context.Context, b []byte) error {
	_ = p.conn.SetWriteDeadline(time.Time{})
	for len(b) > 0 {
		n, err := p.conn.Write(b)
		if err != nil {
			return protoerr.Wrap(protoerr.KindTransportError, err, "write_all")
		}
		b = b[n:]
	}
	return nil
}

func (p *pipeChannel) Flush() error { return nil }

func (p *pipeChannel) Drain(ctx context.Context, maxAttempts int, quietWindow time.Duration) {
	buf := make([]byte, 256)
	for i := 0; i < maxAttempts; i++ {
		n, err := p.ReadAvailable(ctx, buf, quietWindow)
		if err != nil || n == 0 {
			return
		}
	}
}

func (p *pipeChannel) Close() error { return p.conn.Close() }

// readUntil blocks the device side until needle has been observed in
// what's been read from conn, returning everything read so far.
func readUntil(t *testing.T, conn net.Conn, needle []byte) []byte {
	t.Helper()
	var acc []byte
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for !bytes.Contains(acc, needle) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("device read failed waiting for %q: %v (have %q)", needle, err, acc)
		}
		acc = append(acc, buf[:n]...)
	}
	return acc
}

func newEnginePipe(cfg Config) (*Engine, net.Conn) {
	hostSide, deviceSide := net.Pipe()
	eng := New(&pipeChannel{conn: hostSide}, cfg, nil)
	return eng, deviceSide
}

// TestExecuteSimpleExpressionInRawMode exercises the S1 scenario: raw-paste
// disabled, the engine enters raw mode, sends a one-line expression, and the
// device answers with a plain OK<result>\x04\x04> frame.
func TestExecuteSimpleExpressionInRawMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRawPasteAutodetect = false
	cfg.BaseResponseTimeout = 200 * time.Millisecond
	eng, device := newEnginePipe(cfg)
	defer device.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readUntil(t, device, []byte{0x01}) // ENTER_RAW
		if _, err := device.Write([]byte("raw REPL; CTRL-B to exit\n>")); err != nil {
			t.Errorf("device write banner: %v", err)
			return
		}

		readUntil(t, device, []byte{0x04}) // END_OF_DATA after the code
		if _, err := device.Write([]byte("OK4\x04\x04>")); err != nil {
			t.Errorf("device write response: %v", err)
		}
	}()

	resp, err := eng.Execute(context.Background(), "2+2")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !resp.Success || resp.Result != "4" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	<-done
}

// TestExecuteRawPasteWithWindow32 exercises S2: the device accepts raw
// paste advertising a 32-byte window, forcing the engine through at least
// one flow-control replenishment while streaming a payload longer than the
// window.
func TestExecuteRawPasteWithWindow32(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseResponseTimeout = 200 * time.Millisecond
	eng, device := newEnginePipe(cfg)
	defer device.Close()

	code := "print('" + strings.Repeat("a", 50) + "')" // 59 bytes, longer than the 32-byte window
	done := make(chan struct{})
	go func() {
		defer close(done)

		readUntil(t, device, []byte{0x01}) // plain ENTER_RAW before raw-paste is attempted
		if _, err := device.Write([]byte("raw REPL; CTRL-B to exit\n>")); err != nil {
			t.Errorf("device write banner: %v", err)
			return
		}

		readUntil(t, device, []byte{ctrlRawPastePrefix, 'A', ctrlEnterRaw})
		winBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(winBuf, 32)
		if _, err := device.Write([]byte{'R', 0x01, '\n'}); err != nil {
			t.Errorf("device write raw-paste ack: %v", err)
			return
		}
		if _, err := device.Write(winBuf); err != nil {
			t.Errorf("device write window increment: %v", err)
			return
		}

		received := make([]byte, 0, len(code))
		buf := make([]byte, 256)
		_ = device.SetReadDeadline(time.Now().Add(3 * time.Second))
		for len(received) < 32 {
			n, err := device.Read(buf)
			if err != nil {
				t.Errorf("device read first window: %v", err)
				return
			}
			received = append(received, buf[:n]...)
		}
		if _, err := device.Write([]byte{0x01}); err != nil { // replenish window
			t.Errorf("device write window increment: %v", err)
			return
		}

		for !bytes.Contains(received, []byte{0x04}) {
			n, err := device.Read(buf)
			if err != nil {
				t.Errorf("device read remainder: %v", err)
				return
			}
			received = append(received, buf[:n]...)
		}

		if !bytes.HasPrefix(received, []byte(code)) {
			t.Errorf("device received %q, want prefix %q", received, code)
		}

		if _, err := device.Write([]byte("OKhello\x04\x04>")); err != nil {
			t.Errorf("device write response: %v", err)
			return
		}
		readUntil(t, device, []byte{0x02}) // EXIT_RAW after success
		if _, err := device.Write([]byte(">")); err != nil {
			t.Errorf("device write exit-raw prompt: %v", err)
		}
	}()

	resp, err := eng.Execute(context.Background(), code)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !resp.Success || resp.Result != "hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	<-done
}

// TestExecuteDeviceTracebackNotRetried exercises S3: a device-reported
// traceback must surface as a failed Response without being retried, since
// DeviceExecutionError is not in the retryable set.
func TestExecuteDeviceTracebackNotRetried(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRawPasteAutodetect = false
	cfg.BaseResponseTimeout = 200 * time.Millisecond
	eng, device := newEnginePipe(cfg)
	defer device.Close()

	attempts := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		readUntil(t, device, []byte{0x01})
		if _, err := device.Write([]byte("raw REPL; CTRL-B to exit\n>")); err != nil {
			t.Errorf("device write banner: %v", err)
			return
		}

		readUntil(t, device, []byte{0x04})
		attempts++
		if _, err := device.Write([]byte("OK\x04Traceback (most recent call last):\n ZeroDivisionError: divide by zero\n\x04>")); err != nil {
			t.Errorf("device write traceback: %v", err)
		}
	}()

	resp, err := eng.Execute(context.Background(), "1/0")
	if err != nil {
		t.Fatalf("expected a failed response for a device traceback, got error %v", err)
	}
	if resp.Success {
		t.Fatalf("expected a failed response for a device traceback, got resp=%+v", resp)
	}
	if protoerr.KindOf(resp.Err) != protoerr.KindDeviceExecutionError {
		t.Fatalf("expected KindDeviceExecutionError, got %v", protoerr.KindOf(resp.Err))
	}
	<-done
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt (no retry on device error), got %d", attempts)
	}
}

// TestExecuteRawPasteAbortIsNotRetried exercises S6: the device demands an
// abort mid-transfer by sending END_OF_DATA as a flow-control byte; this
// must come back as a failed, non-retried response rather than a
// transport-level error.
func TestExecuteRawPasteAbortIsNotRetried(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseResponseTimeout = 200 * time.Millisecond
	eng, device := newEnginePipe(cfg)
	defer device.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readUntil(t, device, []byte{0x01}) // plain ENTER_RAW before raw-paste is attempted
		if _, err := device.Write([]byte("raw REPL; CTRL-B to exit\n>")); err != nil {
			t.Errorf("device write banner: %v", err)
			return
		}

		readUntil(t, device, []byte{ctrlRawPastePrefix, 'A', ctrlEnterRaw})
		winBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(winBuf, 8)
		if _, err := device.Write([]byte{'R', 0x01, '\n'}); err != nil {
			t.Errorf("device write raw-paste ack: %v", err)
			return
		}
		if _, err := device.Write(winBuf); err != nil {
			t.Errorf("device write window increment: %v", err)
			return
		}

		buf := make([]byte, 64)
		_ = device.SetReadDeadline(time.Now().Add(3 * time.Second))
		if _, err := device.Read(buf); err != nil {
			t.Errorf("device read first window: %v", err)
			return
		}
		if _, err := device.Write([]byte{0x04}); err != nil { // abort
			t.Errorf("device write abort: %v", err)
			return
		}
		// the engine echoes END_OF_DATA back before giving up; drain it so
		// the host's write doesn't block forever on this end of the pipe.
		if _, err := device.Read(buf); err != nil {
			t.Errorf("device read echoed END_OF_DATA: %v", err)
		}
	}()

	resp, err := eng.Execute(context.Background(), "print('this is longer than the window')")
	if err != nil {
		t.Fatalf("Execute returned a transport error instead of a failed response: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected a failed response after device abort, got %+v", resp)
	}
	<-done
}
