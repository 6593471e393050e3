package transport

import (
	"context"
	"io"
	"testing"
	"time"
)

// pipeRWC adapts a pair of io.Pipe halves into a single io.ReadWriteCloser
// for exercising streamChannel without a real serial device or subprocess.
type pipeRWC struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeRWC) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeRWC) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

func newTestChannel() (*streamChannel, *io.PipeWriter, *io.PipeReader) {
	deviceReads, hostWrites := io.Pipe()
	hostReads, deviceWrites := io.Pipe()
	ch := newStreamChannel(&pipeRWC{r: hostReads, w: hostWrites}, nil)
	return ch, deviceWrites, deviceReads
}

func TestReadExactAssemblesAcrossWrites(t *testing.T) {
	ch, deviceWrites, _ := newTestChannel()
	defer ch.Close()

	go func() {
		_, _ = deviceWrites.Write([]byte("ab"))
		_, _ = deviceWrites.Write([]byte("cde"))
	}()

	buf := make([]byte, 5)
	if err := ch.ReadExact(context.Background(), buf, time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("ReadExact failed: %v", err)
	}
	if string(buf) != "abcde" {
		t.Fatalf("ReadExact = %q, want %q", buf, "abcde")
	}
}

func TestReadExactTimesOut(t *testing.T) {
	ch, _, _ := newTestChannel()
	defer ch.Close()

	buf := make([]byte, 5)
	err := ch.ReadExact(context.Background(), buf, time.Now().Add(50*time.Millisecond))
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestReadAvailableReturnsZeroOnTimeout(t *testing.T) {
	ch, _, _ := newTestChannel()
	defer ch.Close()

	buf := make([]byte, 16)
	n, err := ch.ReadAvailable(context.Background(), buf, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes, got %d", n)
	}
}

func TestReadAvailableLeavesLeftoverForNextRead(t *testing.T) {
	ch, deviceWrites, _ := newTestChannel()
	defer ch.Close()

	go func() { _, _ = deviceWrites.Write([]byte("hello")) }()

	small := make([]byte, 2)
	n, err := ch.ReadAvailable(context.Background(), small, 2*time.Second)
	if err != nil || n != 2 {
		t.Fatalf("first ReadAvailable: n=%d err=%v", n, err)
	}

	rest := make([]byte, 10)
	n, err = ch.ReadAvailable(context.Background(), rest, 2*time.Second)
	if err != nil {
		t.Fatalf("second ReadAvailable: %v", err)
	}
	if string(rest[:n]) != "llo" {
		t.Fatalf("leftover mismatch: got %q, want %q", rest[:n], "llo")
	}
}

func TestDrainDiscardsUntilQuiet(t *testing.T) {
	ch, deviceWrites, _ := newTestChannel()
	defer ch.Close()

	go func() {
		_, _ = deviceWrites.Write([]byte("junk"))
	}()
	time.Sleep(20 * time.Millisecond)

	ch.Drain(context.Background(), 10, 30*time.Millisecond)

	buf := make([]byte, 16)
	n, _ := ch.ReadAvailable(context.Background(), buf, 30*time.Millisecond)
	if n != 0 {
		t.Fatalf("expected drain to have discarded pending bytes, got %d leftover", n)
	}
}

func TestWriteAllDeliversBytes(t *testing.T) {
	ch, _, deviceReads := newTestChannel()
	defer ch.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 3)
		_, _ = io.ReadFull(deviceReads, buf)
		done <- buf
	}()

	if err := ch.WriteAll(context.Background(), []byte("xyz")); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}

	select {
	case got := <-done:
		if string(got) != "xyz" {
			t.Fatalf("device received %q, want %q", got, "xyz")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for device to receive bytes")
	}
}
