// Package belaygo is the public entry point of the MicroPython Raw REPL
// host client: dial a device over serial or a spawned interpreter's stdio,
// execute Python fragments, and push/pull files, without ever touching the
// interactive prompt.
package belaygo

import (
	"context"
	"strings"

	"github.com/rjboer/belaygo/internal/filexfer"
	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoengine"
	"github.com/rjboer/belaygo/internal/protoerr"
	"github.com/rjboer/belaygo/internal/transport"
)

// defaultInitialChunkSize seeds each file transfer's chunk optimizer
// (§4.D); it is not shared state, just the starting point every
// PutFile/GetFile call adapts from independently.
const defaultInitialChunkSize = 1024

// Re-exported types so callers depend only on the top-level package.
type (
	Response     = protoengine.Response
	Capabilities = protoengine.Capabilities
	Metrics      = protoengine.Metrics
	Config       = protoengine.Config
)

// DefaultConfig returns the configuration defaults of §3.
func DefaultConfig() Config { return protoengine.DefaultConfig() }

// Device is one connected MicroPython Raw REPL session (§6 Exposed
// operations: execute, put_file, get_file, capabilities, metrics, dispose).
type Device struct {
	engine *protoengine.Engine
}

// Dial parses a "<type>:<parameter>" connection string (§6), where type is
// "serial" or "subprocess" (case-insensitive), opens the matching
// transport, and runs recovery + initialization before returning.
func Dial(ctx context.Context, connectionString string, cfg Config, logger logging.Logger) (*Device, error) {
	ch, err := openTransport(ctx, connectionString, logger)
	if err != nil {
		return nil, err
	}

	engine := protoengine.New(ch, cfg, logger)
	if err := engine.Initialize(ctx); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return &Device{engine: engine}, nil
}

func openTransport(ctx context.Context, connectionString string, logger logging.Logger) (transport.Channel, error) {
	typ, param, ok := strings.Cut(connectionString, ":")
	if !ok {
		return nil, protoerr.New(protoerr.KindInvalidArgument, "malformed connection string %q, expected \"<type>:<parameter>\"", connectionString)
	}

	switch strings.ToLower(typ) {
	case "serial":
		return transport.OpenSerial(param, logger)
	case "subprocess":
		return transport.OpenSubprocess(ctx, param, logger)
	default:
		return nil, protoerr.New(protoerr.KindInvalidArgument, "unknown connection type %q", typ)
	}
}

// Execute makes the device run code and returns its framed response
// (§6: execute(code) -> Response).
func (d *Device) Execute(ctx context.Context, code string) (Response, error) {
	return d.engine.Execute(ctx, code)
}

// PutFile writes data to remotePath on the device filesystem.
func (d *Device) PutFile(ctx context.Context, remotePath string, data []byte) error {
	return filexfer.PutFile(ctx, d.engine, defaultInitialChunkSize, remotePath, data)
}

// GetFile reads remotePath from the device filesystem.
func (d *Device) GetFile(ctx context.Context, remotePath string) ([]byte, error) {
	return filexfer.GetFile(ctx, d.engine, defaultInitialChunkSize, remotePath)
}

// Capabilities returns a read-only snapshot of detected device
// capabilities (§6).
func (d *Device) Capabilities() Capabilities {
	return d.engine.Capabilities()
}

// Metrics returns a read-only snapshot of accumulated call metrics (§6).
func (d *Device) Metrics() Metrics {
	return d.engine.MetricsSnapshot()
}

// Dispose releases the underlying transport. Idempotent (§6).
func (d *Device) Dispose(ctx context.Context) error {
	return d.engine.Dispose(ctx)
}

// ErrorKind re-exports the engine's error taxonomy (§7) so callers can
// classify a returned error without importing an internal package.
type ErrorKind = protoerr.Kind

// Sentinel errors for errors.Is comparisons.
var (
	ErrTransportError        = protoerr.TransportError
	ErrTimeout               = protoerr.Timeout
	ErrInitializationFailed  = protoerr.InitializationFailed
	ErrModeTransitionFailed  = protoerr.ModeTransitionFailed
	ErrAcknowledgmentMissing = protoerr.AcknowledgmentMissing
	ErrProtocolViolation     = protoerr.ProtocolViolation
	ErrDeviceExecutionError  = protoerr.DeviceExecutionError
	ErrInvalidArgument       = protoerr.InvalidArgument
	ErrObjectDisposed        = protoerr.ObjectDisposed
)
