// Package platform abstracts the external orchestration platform behind a
// small capability interface so the release flow can be tested without a
// real cluster.
package platform

import "context"

// Client is the boundary to the orchestration platform. Implementations
// report failure through typed errors, never through raw process exit codes.
type Client interface {
	// Deploy rolls the versioned artifact out into the named environment.
	Deploy(ctx context.Context, env, imageTag string, timeoutSeconds int) error

	// WaitReady blocks until the environment's instances report ready,
	// or the timeout elapses.
	WaitReady(ctx context.Context, env string, timeoutSeconds int) error

	// CurrentTarget returns the environment currently receiving live traffic.
	CurrentTarget(ctx context.Context) (string, error)

	// SetTarget atomically repoints live traffic to the given environment.
	SetTarget(ctx context.Context, env string) error

	// Cleanup tears down a half-deployed candidate that never received
	// traffic. Implementations without a cleanup command treat this as a
	// no-op.
	Cleanup(ctx context.Context, env string) error
}
