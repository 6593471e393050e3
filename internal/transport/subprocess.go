package transport

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoerr"
)

// subprocessPipe combines a spawned process's stdout and stdin into a
// single duplex stream, the way the teacher's Manager combines a net.Conn's
// read and write halves — here the halves are two separate os.Pipe ends
// instead of one socket.
type subprocessPipe struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stdin  io.WriteCloser
}

func (p *subprocessPipe) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *subprocessPipe) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *subprocessPipe) Close() error {
	errIn := p.stdin.Close()
	errOut := p.stdout.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
	if errIn != nil {
		return errIn
	}
	return errOut
}

// OpenSubprocess spawns interpreterPath with unbuffered stdio
// (PYTHONUNBUFFERED=1) and wraps its combined stdin/stdout in a Channel.
// The initial banner is drained up to and including the first ">>>" or a
// 1s budget, matching §6's subprocess transport contract.
func OpenSubprocess(ctx context.Context, interpreterPath string, logger logging.Logger) (Channel, error) {
	if interpreterPath == "" {
		return nil, protoerr.New(protoerr.KindInvalidArgument, "subprocess interpreter path is empty")
	}

	// The interpreter process must outlive this constructor call, so it is
	// not tied to ctx's lifetime; ctx only bounds the banner drain below.
	cmd := exec.Command(interpreterPath)
	cmd.Env = append(cmd.Environ(), "PYTHONUNBUFFERED=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindTransportError, err, "open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindTransportError, err, "open stdout pipe")
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, protoerr.Wrap(protoerr.KindTransportError, err, "start interpreter %q", interpreterPath)
	}

	ch := newStreamChannel(&subprocessPipe{cmd: cmd, stdout: stdout, stdin: stdin}, logger)

	drainBanner(ctx, ch, logger)

	return ch, nil
}

// drainBanner discards the interpreter's startup banner up to and
// including the first friendly prompt, or gives up after 1s.
func drainBanner(ctx context.Context, ch Channel, logger logging.Logger) {
	deadline := time.Now().Add(1 * time.Second)
	buf := make([]byte, 256)
	var seen []byte
	for time.Now().Before(deadline) {
		n, err := ch.ReadAvailable(ctx, buf, 100*time.Millisecond)
		if err != nil {
			logger.Debug("drainBanner: read error, giving up", logging.Field{Key: "err", Value: err})
			return
		}
		if n == 0 {
			continue
		}
		seen = append(seen, buf[:n]...)
		if containsPrompt(seen) {
			return
		}
	}
}

func containsPrompt(b []byte) bool {
	return bytes.Contains(b, []byte(">>>"))
}
