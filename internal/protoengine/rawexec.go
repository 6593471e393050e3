package protoengine

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/rjboer/belaygo/internal/protoerr"
)

// preprocessCode strips trailing whitespace and normalizes line endings to
// "\n" (§4.B.4 step 1).
func preprocessCode(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.ReplaceAll(code, "\r", "\n")
	return strings.TrimRight(code, " \t\n\r")
}

// execRaw implements §4.B.4: raw-mode execution. Precondition: mode==Raw.
func (e *Engine) execRaw(ctx context.Context, code string) (Response, error) {
	if e.mode != ModeRaw {
		return Response{}, protoerr.New(protoerr.KindModeTransitionFailed, "exec_raw: not in raw mode")
	}

	clean := preprocessCode(code)

	if err := e.ch.WriteAll(ctx, []byte(clean)); err != nil {
		return Response{}, protoerr.Wrap(protoerr.KindTransportError, err, "exec_raw: write code")
	}
	if err := e.ch.Flush(); err != nil {
		return Response{}, protoerr.Wrap(protoerr.KindTransportError, err, "exec_raw: flush code")
	}

	if err := e.writeCtrl(ctx, ctrlEndOfData); err != nil {
		return Response{}, protoerr.Wrap(protoerr.KindTransportError, err, "exec_raw: write END_OF_DATA")
	}
	e.atPrompt = false

	ackDeadline := time.Now().Add(time.Duration(float64(e.adaptiveResponseTimeout) * 0.5))
	ackBuf, ok := e.readUntilContains(ctx, ackDeadline, []byte("OK"))
	if !ok {
		return Response{}, protoerr.New(protoerr.KindAcknowledgmentMissing, "exec_raw: OK not observed")
	}

	// readUntilContains returns as soon as "OK" appears anywhere in the
	// accumulated buffer, which for a fast device is often the whole frame
	// already (stdout, both 0x04 terminators, and the trailing '>'). Only
	// block on a further read when that frame is genuinely incomplete.
	trimmed := trimLeadingOK(ackBuf)
	raw := trimmed
	if !frameComplete(trimmed) {
		tailDeadline := e.deadline(1.0)
		rest, _ := e.readUntilByte(ctx, tailDeadline, '>')
		raw = append(trimmed, rest...)
	}

	resp := parseResponse(raw)
	if !resp.Success {
		resp.Err = protoerr.New(protoerr.KindDeviceExecutionError, "%s", firstTracebackLine(resp.Stderr))
	}
	return resp, nil
}

// trimLeadingOK drops any bytes before the first "OK" marker, keeping the
// marker itself, so the framing parser sees the "OK"-prefixed stdout region
// onward (classifyAndExtract strips the "OK").
func trimLeadingOK(buf []byte) []byte {
	idx := bytes.Index(buf, []byte("OK"))
	if idx < 0 {
		return buf
	}
	return buf[idx:]
}
