package protoengine

import (
	"bytes"
	"strings"
)

// framingResult is the outcome of classifyAndExtract (§4.B.6): the device
// delivers "OK <stdout> 0x04 <stderr> 0x04 >", parseResponse splits that on
// the 0x04 delimiters, and classifyAndExtract turns the "OK"-prefixed
// stdout segment into a result, or recognizes a device traceback.
type framingResult struct {
	isError bool
	result  string
}

// errorMarkers are the substrings (§4.B.6) that classify a response as a
// device-side traceback rather than a successful result.
var errorMarkers = []string{"Traceback", "Error", "Exception"}

func classifyAndExtract(stdoutSegment string) framingResult {
	for _, marker := range errorMarkers {
		if strings.Contains(stdoutSegment, marker) {
			return framingResult{isError: true}
		}
	}

	trimmed := stdoutSegment
	trimmed = strings.TrimPrefix(trimmed, "OK")
	trimmed = strings.Trim(trimmed, " \t\r\n")
	return framingResult{result: trimmed}
}

// splitOnEOD splits raw device output on the first 0x04 byte, returning the
// segment before it and the remainder after it (§4.B.6 framing: stdout,
// 0x04, stderr, 0x04, >).
func splitOnEOD(raw []byte) (before, after []byte, found bool) {
	for i, b := range raw {
		if b == ctrlEndOfData {
			return raw[:i], raw[i+1:], true
		}
	}
	return raw, nil, false
}

// frameComplete reports whether buf already holds a full response frame:
// two 0x04 delimiters followed by the closing '>'. execRaw uses this to
// avoid a second blocking read when the ack read already captured the
// whole frame in one shot.
func frameComplete(buf []byte) bool {
	first := indexEOD(buf, 0)
	if first < 0 {
		return false
	}
	second := indexEOD(buf, first+1)
	if second < 0 {
		return false
	}
	return bytes.IndexByte(buf[second+1:], '>') >= 0
}

func indexEOD(buf []byte, from int) int {
	for i := from; i < len(buf); i++ {
		if buf[i] == ctrlEndOfData {
			return i
		}
	}
	return -1
}

// parseResponse implements the full §4.B.6 framing over the raw bytes
// starting at the "OK" acknowledgment: stdout, 0x04, stderr, 0x04, >.
func parseResponse(raw []byte) Response {
	stdoutPart, rest, ok := splitOnEOD(raw)
	stdout := string(stdoutPart)
	if !ok {
		// No terminator observed; treat everything as stdout with no result.
		return Response{Success: false, Stdout: stdout}
	}

	stderrPart, _, _ := splitOnEOD(rest)
	stderr := strings.TrimRight(string(stderrPart), ">\r\n\t ")

	classified := classifyAndExtract(stdout)
	if classified.isError || strings.TrimSpace(stderr) != "" {
		return Response{
			Success: false,
			Stdout:  stdout,
			Stderr:  strings.TrimSpace(stderr),
		}
	}

	return Response{
		Success:   true,
		Stdout:    stdout,
		Result:    classified.result,
		HasResult: true,
	}
}

// firstTracebackLine extracts a short diagnostic summary from stderr, used
// when surfacing a DeviceExecutionError (§7 propagation policy).
func firstTracebackLine(stderr string) string {
	lines := strings.Split(stderr, "\n")
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
