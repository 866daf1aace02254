package auth

import (
	"context"
	"time"
)

// Authenticator performs the authentication round trip for a display name and
// its encoded avatar. Implementations may call out to a real service.
type Authenticator interface {
	Authenticate(ctx context.Context, displayName, avatar string) error
}

// SimulatedAuthenticator accepts everyone after a fixed delay.
type SimulatedAuthenticator struct {
	Delay time.Duration
}

// Authenticate waits for the configured delay or until ctx is done.
func (a SimulatedAuthenticator) Authenticate(ctx context.Context, _, _ string) error {
	return Sleep(ctx, a.Delay)
}

// Sleep blocks for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
