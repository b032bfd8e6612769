package teamtest

import (
	"context"
	"sync"
	"time"
)

type leaseState struct {
	lease Lease
	timer *time.Timer
}

// MemoryStore implements Store in local memory. Leases expire through timers.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]*leaseState
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[string]*leaseState), now: time.Now}
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(ctx context.Context, key string, owner Owner, ttl time.Duration) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return Lease{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.leases[key]; ok && st.lease.Owner != owner {
		return st.lease, false, nil
	}
	return s.grantLocked(key, owner, ttl), true, nil
}

// Refresh implements Store.
func (s *MemoryStore) Refresh(ctx context.Context, key string, owner Owner, ttl time.Duration) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return Lease{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.leases[key]
	if !ok || st.lease.Owner != owner {
		return Lease{}, false, nil
	}
	return s.grantLocked(key, owner, ttl), true, nil
}

// Release implements Store.
func (s *MemoryStore) Release(ctx context.Context, key string, owner Owner) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.leases[key]
	if !ok || st.lease.Owner != owner {
		return false, nil
	}
	st.timer.Stop()
	delete(s.leases, key)
	return true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return Lease{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.leases[key]
	if !ok {
		return Lease{}, false, nil
	}
	return st.lease, true, nil
}

// Expire drops key immediately, as if its ttl elapsed.
func (s *MemoryStore) Expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.leases[key]; ok {
		st.timer.Stop()
		delete(s.leases, key)
	}
}

func (s *MemoryStore) grantLocked(key string, owner Owner, ttl time.Duration) Lease {
	if st, ok := s.leases[key]; ok {
		st.timer.Stop()
	}
	st := &leaseState{lease: Lease{Key: key, Owner: owner, ExpiresAt: s.now().Add(ttl)}}
	st.timer = time.AfterFunc(ttl, func() {
		s.mu.Lock()
		if cur, ok := s.leases[key]; ok && cur == st {
			delete(s.leases, key)
		}
		s.mu.Unlock()
	})
	s.leases[key] = st
	return st.lease
}
