// Package timeout bounds a single agent invocation to a deadline, the
// third middleware layer composed around an Executor alongside retry and
// circuit (§4.3, §5: "every blocking call ... accepts a deadline").
package timeout

import (
	"context"
	"time"
)

// WithDeadline derives a child context bounded by d and returns it along
// with its cancel function. Callers must always call cancel to release
// the timer, even when the call completes before the deadline.
func WithDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
