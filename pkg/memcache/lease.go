// pkg/memcache/lease.go
package mem

import (
	"context"
	"sync"
	"time"
)

type LeaseStore interface {
	// Acquire takes key for owner until ttl elapses. It returns false while
	// another owner holds an unexpired lease.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release drops the lease if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

type entry struct {
	owner     string
	expiresAt time.Time
}

// Leases is the in-process LeaseStore used when no Redis is configured.
type Leases struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

func NewLeases() *Leases {
	return &Leases{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

func (s *Leases) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.data[key]; ok && now.Before(e.expiresAt) && e.owner != owner {
		return false, nil
	}
	s.data[key] = entry{
		owner:     owner,
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

func (s *Leases) Release(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.data[key]; ok && e.owner == owner {
		delete(s.data, key)
	}
	return nil
}

// Sweep removes expired entries.
func (s *Leases) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.data {
		if !now.Before(e.expiresAt) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}
