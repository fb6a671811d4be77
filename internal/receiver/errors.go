package receiver

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

// isPermissionErr reports whether err is the kernel forbidding a raw
// socket (EPERM/EACCES).
func isPermissionErr(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES)
}

// classifySendErr maps a kernel transmit error onto the non-fatal
// hop-error taxonomy: unreachable/no-route errors get their sentinel,
// anything else passes through unchanged.
func classifySendErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EHOSTUNREACH):
		return core.ErrHostUnreachable
	case errors.Is(err, unix.ENETUNREACH):
		return core.ErrNoRoute
	default:
		return err
	}
}
