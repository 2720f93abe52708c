// Package lock provides the optional distributed guard around dispatch. The
// database claim on next_run is the primary idempotency mechanism; this lock
// adds a second fence for deployments running several dispatcher replicas.
package lock

import "context"

// Locker acquires short-lived named locks
type Locker interface {
	// Acquire takes the lock, returning false when another holder owns it
	Acquire(ctx context.Context, key string) (bool, error)

	// Release drops the lock; releasing an expired lock is a no-op
	Release(ctx context.Context, key string) error
}
