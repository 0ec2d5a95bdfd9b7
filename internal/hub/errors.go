package hub

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCredentialNotFound is returned by Attach when no token record
	// exists for the requested id.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialInactive is returned by Attach when the token record
	// exists but is deactivated.
	ErrCredentialInactive = errors.New("credential inactive")

	// ErrConflict means another getUpdates poller is active on this token
	// upstream. Recovered inside the poll loop via backoff.
	ErrConflict = errors.New("upstream poller conflict")

	// ErrClosed is returned by Subscription.Read after the subscription has
	// been detached or its poller stopped.
	ErrClosed = errors.New("subscription closed")

	// ErrShutdown is returned by Attach after the hub has been shut down.
	ErrShutdown = errors.New("hub is shut down")
)

// RateLimitedError carries the server-indicated wait from a 429 response.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("upstream rate limited, retry after %s", e.RetryAfter)
}
