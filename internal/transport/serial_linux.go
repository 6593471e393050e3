//go:build linux

package transport

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoerr"
)

// OpenSerial opens a serial device at 115200-8N1, raw mode, no echo, no
// hardware flow control, and wraps it in a Channel (§6 External Interfaces).
// path must begin with "/dev/" on Unix-like systems.
func OpenSerial(path string, logger logging.Logger) (Channel, error) {
	if !strings.HasPrefix(path, "/dev/") {
		return nil, protoerr.New(protoerr.KindInvalidArgument, "serial device path %q must begin with /dev/", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, protoerr.Wrap(protoerr.KindTransportError, err, "open serial device %q", path)
	}

	if err := configureRaw115200(f); err != nil {
		_ = f.Close()
		return nil, protoerr.Wrap(protoerr.KindTransportError, err, "configure serial device %q", path)
	}

	return newStreamChannel(f, logger), nil
}

// configureRaw115200 puts the line discipline into raw mode: no echo, no
// canonical processing, no signal generation, 8 data bits, no parity, one
// stop bit, no hardware flow control, 115200 baud — grounded on the
// ioctl(TCGETS/TCSETS) sequence used by Daedaluz/goserial's port_linux.go,
// trimmed to the one profile this module needs instead of a generic
// multi-baud, multi-arch Termios2 abstraction.
func configureRaw115200(f *os.File) error {
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("TCGETS: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("TCSETS (flags): %w", err)
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, withBaud(t, unix.B115200)); err != nil {
		return fmt.Errorf("TCSETS (baud): %w", err)
	}

	return nil
}

// withBaud selects rate through the classic CBAUD bitmask in Cflag, which
// is what TCGETS/TCSETS honor; Ispeed/Ospeed are set too but only take
// effect under the termios2 (TCGETS2/TCSETS2) ioctls this module doesn't
// use.
func withBaud(t *unix.Termios, rate uint32) *unix.Termios {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= rate & unix.CBAUD
	t.Ispeed = rate
	t.Ospeed = rate
	return t
}
