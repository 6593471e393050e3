//go:build !linux

package transport

import (
	"github.com/rjboer/belaygo/internal/logging"
	"github.com/rjboer/belaygo/internal/protoerr"
)

// OpenSerial is only implemented for Linux, matching the ioctl(TCGETS)
// configuration path; other platforms report InvalidArgument rather than
// silently falling back to an unconfigured stream.
func OpenSerial(path string, logger logging.Logger) (Channel, error) {
	return nil, protoerr.New(protoerr.KindInvalidArgument, "serial transport is only implemented for linux")
}
