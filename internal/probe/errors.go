package probe

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/dnaeon/go-pathtrace/internal/core"
)

func errUnknownKind(kind core.Kind) error {
	return fmt.Errorf("pathtrace/probe: unknown probe kind %s", kind)
}

// classifySocketErr maps a kernel error from opening or using a probe's own
// send-socket onto the boundary error set.
func classifySocketErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrPermission), errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return core.ErrPermissionDenied
	case errors.Is(err, unix.ENETUNREACH):
		return core.ErrNoRoute
	case errors.Is(err, unix.EHOSTUNREACH):
		return core.ErrHostUnreachable
	default:
		return err
	}
}
