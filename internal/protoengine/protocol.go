// Package protoengine implements the MicroPython Raw REPL protocol engine:
// the state machine that drives a device between its normal, raw, and
// raw-paste prompts, transports code and binary payloads, and classifies
// the device's framed responses (spec §4.B).
package protoengine

import "time"

// Control bytes (§3 Data Model).
const (
	ctrlEnterRaw       byte = 0x01
	ctrlExitRaw        byte = 0x02
	ctrlInterrupt      byte = 0x03
	ctrlEndOfData      byte = 0x04
	ctrlRawPastePrefix byte = 0x05
)

// Mode is the device mode as the engine believes it (§3).
type Mode int

const (
	ModeNormal Mode = iota
	ModeRaw
	ModeRawPaste
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "Normal"
	case ModeRaw:
		return "Raw"
	case ModeRawPaste:
		return "RawPaste"
	default:
		return "Unknown"
	}
}

// Capabilities are detected once, after recovery and before the first
// user-visible execution, and never mutated thereafter (§3, §4.B.2).
type Capabilities struct {
	Platform                  string
	HasPlatform               bool
	Version                   string
	HasVersion                bool
	SupportsRawPaste          bool
	PreferredWindowSize       uint16
	MaxWindowSize             uint16
	AverageResponseTime       time.Duration
	RequiresExtendedStartup   bool
	RequiresExtendedInterrupt bool
	HasReliableFlowControl    bool
	SupportsLargeCodeTransfer bool
}

// Metrics accumulate across the lifetime of one Engine instance (§3).
type Metrics struct {
	Successes       uint64
	Failures        uint64
	Retries         uint64
	EMAExecDuration time.Duration
	LastOpAt        time.Time
}

// Response is returned from Execute (§3).
type Response struct {
	Success bool
	Stdout  string
	Stderr  string
	Result  string
	HasResult bool
	Err     error
}

// Config holds the tunables of §3's Configuration table.
type Config struct {
	BaseResponseTimeout       time.Duration
	MaxResponseTimeout        time.Duration
	StartupDelay              time.Duration
	MaxStartupDelay           time.Duration
	InterruptDelay            time.Duration
	RetryDelay                time.Duration
	MaxRetryAttempts          int
	MaximumWindowSize         uint16
	PreferredWindowSize       uint16 // 0 means "none configured"
	EnableRawPasteAutodetect  bool
	VerboseLogging            bool
}

// DefaultConfig returns the defaults named in §3.
func DefaultConfig() Config {
	return Config{
		BaseResponseTimeout:      5 * time.Second,
		MaxResponseTimeout:       30 * time.Second,
		StartupDelay:             200 * time.Millisecond,
		MaxStartupDelay:          2 * time.Second,
		InterruptDelay:           100 * time.Millisecond,
		RetryDelay:               500 * time.Millisecond,
		MaxRetryAttempts:         3,
		MaximumWindowSize:        2048,
		PreferredWindowSize:      0,
		EnableRawPasteAutodetect: true,
		VerboseLogging:           false,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaseResponseTimeout <= 0 {
		c.BaseResponseTimeout = d.BaseResponseTimeout
	}
	if c.MaxResponseTimeout <= 0 {
		c.MaxResponseTimeout = d.MaxResponseTimeout
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = d.StartupDelay
	}
	if c.MaxStartupDelay <= 0 {
		c.MaxStartupDelay = d.MaxStartupDelay
	}
	if c.InterruptDelay <= 0 {
		c.InterruptDelay = d.InterruptDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if c.MaximumWindowSize == 0 {
		c.MaximumWindowSize = d.MaximumWindowSize
	}
}
