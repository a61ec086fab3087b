package patterns

import (
	"context"
	"time"
)

// WithTimeout derives a context with timeout from parent for fail-fast behavior.
// A non-positive duration only adds cancellation.
func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, duration)
}

// DefaultTimeout is the default timeout for HTTP requests
const DefaultTimeout = 3 * time.Second

// SlowServiceTimeout is a longer timeout for services that might be slow
const SlowServiceTimeout = 10 * time.Second
