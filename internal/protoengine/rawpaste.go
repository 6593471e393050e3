package protoengine

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/rjboer/belaygo/internal/protoerr"
)

// rawPasteOutcome is the typed result of the raw-paste entry handshake,
// kept as an internal sum type rather than a user-visible error (§9 Design
// Notes: "the raw-paste-not-supported case is control flow, not an error
// surface").
type rawPasteOutcome int

const (
	rawPasteAccepted rawPasteOutcome = iota
	rawPasteRefused
	rawPasteBadHandshake
)

// enterRawPaste performs the §4.B.5 step 1 entry handshake. Precondition:
// mode==Raw, rawPasteEnabled.
func (e *Engine) enterRawPaste(ctx context.Context) (rawPasteOutcome, uint16, error) {
	if err := e.writeAndFlush(ctx, []byte{ctrlRawPastePrefix, 'A', ctrlEnterRaw}); err != nil {
		return rawPasteBadHandshake, 0, protoerr.Wrap(protoerr.KindTransportError, err, "raw_paste: write entry sequence")
	}

	line, ok := e.readUntilByte(ctx, e.deadline(1.0), '\n')
	if !ok || len(line) == 0 {
		return rawPasteBadHandshake, 0, nil
	}
	line = trimCR(line)

	if len(line) < 2 || line[0] != 'R' {
		return rawPasteBadHandshake, 0, nil
	}

	switch line[1] {
	case 0x01:
		var winBuf [2]byte
		if err := e.ch.ReadExact(ctx, winBuf[:], e.deadline(1.0)); err != nil {
			return rawPasteBadHandshake, 0, protoerr.Wrap(protoerr.KindTransportError, err, "raw_paste: read window increment")
		}
		increment := binary.LittleEndian.Uint16(winBuf[:])
		e.mode = ModeRawPaste
		e.atPrompt = false
		return rawPasteAccepted, increment, nil
	case 0x00:
		return rawPasteRefused, 0, nil
	default:
		return rawPasteBadHandshake, 0, nil
	}
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}
	return b
}

// execRawPaste implements §4.B.5: raw-paste-mode execution with
// window-based flow control. Precondition: mode==Raw, rawPasteEnabled.
func (e *Engine) execRawPaste(ctx context.Context, code string) (Response, bool, error) {
	outcome, advertised, err := e.enterRawPaste(ctx)
	if err != nil {
		return Response{}, false, err
	}
	if outcome != rawPasteAccepted {
		e.rawPasteEnabled = false
		return Response{}, true, nil // caller falls back to raw mode
	}

	windowIncrement := advertised
	if e.cfg.PreferredWindowSize > 0 {
		windowIncrement = e.cfg.PreferredWindowSize
	}
	if windowIncrement == 0 {
		windowIncrement = e.cfg.MaximumWindowSize
	}

	payload := []byte(preprocessCode(code))
	remaining := windowIncrement

	for len(payload) > 0 {
		if remaining == 0 {
			var b [1]byte
			if err := e.ch.ReadExact(ctx, b[:], e.deadline(1.0)); err != nil {
				e.mode = ModeRaw
				return Response{}, false, protoerr.Wrap(protoerr.KindTransportError, err, "raw_paste: flow-control read")
			}
			switch b[0] {
			case 0x01:
				remaining += windowIncrement
			case ctrlEndOfData:
				_ = e.writeCtrl(ctx, ctrlEndOfData)
				e.mode = ModeRaw
				return Response{Success: false, Err: protoerr.New(protoerr.KindProtocolViolation, "raw_paste: device demanded abort")}, false, nil
			default:
				e.mode = ModeRaw
				return Response{}, false, protoerr.New(protoerr.KindProtocolViolation, "raw_paste: unexpected flow-control byte 0x%02x", b[0])
			}
		}

		send := int(remaining)
		if send > len(payload) {
			send = len(payload)
		}
		chunk := payload[:send]
		if err := e.ch.WriteAll(ctx, chunk); err != nil {
			e.mode = ModeRaw
			return Response{}, false, protoerr.Wrap(protoerr.KindTransportError, err, "raw_paste: send chunk")
		}
		if err := e.ch.Flush(); err != nil {
			e.mode = ModeRaw
			return Response{}, false, protoerr.Wrap(protoerr.KindTransportError, err, "raw_paste: flush chunk")
		}
		payload = payload[send:]
		remaining -= uint16(send)

		if e.caps.RequiresExtendedInterrupt && send > 64 {
			_ = e.sleep(ctx, 10*time.Millisecond)
		}
	}

	if err := e.writeCtrl(ctx, ctrlEndOfData); err != nil {
		e.mode = ModeRaw
		return Response{}, false, protoerr.Wrap(protoerr.KindTransportError, err, "raw_paste: write END_OF_DATA")
	}

	raw, _ := e.readUntilByte(ctx, e.deadline(1.0), '>')

	e.mode = ModeRaw
	if exitErr := e.ExitRaw(ctx); exitErr != nil {
		return Response{}, false, exitErr
	}

	resp := parseResponse(trimLeadingOK(raw))
	if !resp.Success {
		resp.Err = protoerr.New(protoerr.KindDeviceExecutionError, "%s", firstTracebackLine(resp.Stderr))
	}
	return resp, false, nil
}
