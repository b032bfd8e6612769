package teamtest

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable reports that the lease backend cannot be reached.
var ErrStoreUnavailable = errors.New("teamtest: lease store unavailable")

// Owner identifies who holds a lease: the authenticated user and the HTTP
// session the lease was acquired from.
type Owner struct {
	UserID    int64  `json:"userId"`
	SessionID string `json:"sessionId"`
}

// Lease is a granted lock.
type Lease struct {
	Key       string
	Owner     Owner
	ExpiresAt time.Time
}

// Remaining returns the ttl left at now, rounded up to whole seconds.
func (l Lease) Remaining(now time.Time) int64 {
	d := l.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// Store keeps leases keyed by lock key. Implementations must make every
// operation atomic with respect to the owner check.
type Store interface {
	// Acquire grants key to owner for ttl. When owner already holds key the
	// lease is extended. When somebody else holds it the current lease is
	// returned with ok false.
	Acquire(ctx context.Context, key string, owner Owner, ttl time.Duration) (lease Lease, ok bool, err error)
	// Refresh extends key only if owner holds it.
	Refresh(ctx context.Context, key string, owner Owner, ttl time.Duration) (Lease, bool, error)
	// Release deletes key only if owner holds it.
	Release(ctx context.Context, key string, owner Owner) (bool, error)
	// Get returns the current lease of key.
	Get(ctx context.Context, key string) (Lease, bool, error)
}
