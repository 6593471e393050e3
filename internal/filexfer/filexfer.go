// Package filexfer implements chunked device file read/write (§4.C) as a
// thin layer above the protocol engine: every operation is a generated
// Python fragment executed through Engine.Execute, carrying payload bytes
// as base64 text. No new wire-level framing is introduced.
package filexfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rjboer/belaygo/internal/optimizer"
	"github.com/rjboer/belaygo/internal/protoengine"
	"github.com/rjboer/belaygo/internal/protoerr"
)

// Executor is the subset of Engine that file transfer depends on, kept
// narrow so tests can substitute a fake without constructing a real
// protocol engine.
type Executor interface {
	Execute(ctx context.Context, code string) (protoengine.Response, error)
}

const closeTimeout = 2 * time.Second

// escapePath escapes a remote path for embedding in a single-quoted Python
// string literal (§4.C step 1): backslash, apostrophe, CR, LF, TAB.
func escapePath(path string) (string, error) {
	if path == "" {
		return "", protoerr.New(protoerr.KindInvalidArgument, "remote_path must not be empty")
	}
	var b strings.Builder
	for _, r := range path {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func closeGuarded(ctx context.Context, exec Executor, handle string) {
	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	_, _ = exec.Execute(closeCtx, fmt.Sprintf("try: %s.close()\nexcept: pass", handle))
}

// PutFile implements §4.C put_file: open for write, stream chunks sized by
// a fresh optimizer seeded at initialChunkSize, base64-encode each, and
// always attempt a guarded close. The optimizer is per-transfer state
// (§4.D): it is never shared with another PutFile/GetFile call.
func PutFile(ctx context.Context, exec Executor, initialChunkSize int, remotePath string, data []byte) error {
	opt := optimizer.New(initialChunkSize)

	escaped, err := escapePath(remotePath)
	if err != nil {
		return err
	}

	openResp, err := exec.Execute(ctx, fmt.Sprintf("f=open('%s','wb')\nw=f.write", escaped))
	if err != nil || !openResp.Success {
		return openFailure(err, openResp)
	}
	defer closeGuarded(ctx, exec, "f")

	remaining := data
	for len(remaining) > 0 {
		size := opt.NextSize()
		if size > len(remaining) {
			size = len(remaining)
		}
		chunk := remaining[:size]
		remaining = remaining[size:]

		b64 := base64.StdEncoding.EncodeToString(chunk)
		code := fmt.Sprintf("w(__import__('binascii').a2b_base64('%s'))", b64)

		start := time.Now()
		resp, err := exec.Execute(ctx, code)
		elapsed := time.Since(start)
		if err != nil || !resp.Success {
			return openFailure(err, resp)
		}
		opt.Record(size, elapsed.Seconds())
	}
	return nil
}

// GetFile implements §4.C get_file: open for read, pull chunks sized by a
// fresh optimizer seeded at initialChunkSize, base64-decode, stop on the
// EOF sentinel, and always attempt a guarded close. The optimizer is
// per-transfer state (§4.D): it is never shared with another
// PutFile/GetFile call.
func GetFile(ctx context.Context, exec Executor, initialChunkSize int, remotePath string) ([]byte, error) {
	opt := optimizer.New(initialChunkSize)

	escaped, err := escapePath(remotePath)
	if err != nil {
		return nil, err
	}

	openResp, err := exec.Execute(ctx, fmt.Sprintf("f=open('%s','rb')\nr=f.read", escaped))
	if err != nil || !openResp.Success {
		return nil, openFailure(err, openResp)
	}
	defer closeGuarded(ctx, exec, "f")

	var out []byte
	for {
		n := opt.NextSize()
		code := fmt.Sprintf(
			"data=r(%d)\nprint(__import__('binascii').b2a_base64(data).decode().strip()) if data else print('EOF')",
			n,
		)

		start := time.Now()
		resp, err := exec.Execute(ctx, code)
		elapsed := time.Since(start)
		if err != nil || !resp.Success {
			return nil, openFailure(err, resp)
		}

		stripped := strings.TrimSpace(resp.Result)
		if stripped == "" || stripped == "EOF" {
			break
		}

		decoded, decErr := base64.StdEncoding.DecodeString(stripped)
		if decErr != nil {
			return nil, protoerr.Wrap(protoerr.KindProtocolViolation, decErr, "get_file: malformed base64 chunk")
		}
		out = append(out, decoded...)
		opt.Record(len(decoded), elapsed.Seconds())
	}
	return out, nil
}

func openFailure(err error, resp protoengine.Response) error {
	if err != nil {
		return err
	}
	if resp.Err != nil {
		return resp.Err
	}
	return protoerr.New(protoerr.KindDeviceExecutionError, "file operation failed: %s", resp.Stderr)
}
