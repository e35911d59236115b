package cli

import (
	"context"
	"time"
)

// timeoutContext wraps ctx with a deadline when timeout is positive.
func timeoutContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
