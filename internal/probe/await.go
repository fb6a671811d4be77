package probe

import (
	"context"
	"time"

	"github.com/dnaeon/go-pathtrace/internal/receiver"
)

// awaitOutcome tags how an await ended.
type awaitOutcome int

const (
	awaitDelivered awaitOutcome = iota
	awaitTimedOut
	awaitCancelled
)

// awaitDelivery blocks until either a message is routed to waiter, the
// timeout elapses, or ctx is cancelled.
func awaitDelivery(ctx context.Context, waiter <-chan receiver.Delivery, timeout time.Duration) (receiver.Delivery, awaitOutcome) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-waiter:
		return d, awaitDelivered
	case <-timer.C:
		return receiver.Delivery{}, awaitTimedOut
	case <-ctx.Done():
		return receiver.Delivery{}, awaitCancelled
	}
}
