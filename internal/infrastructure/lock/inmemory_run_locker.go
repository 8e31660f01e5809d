package lock

import (
	"context"
	"sync"
	"time"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// lease represents a held lock with expiration
type lease struct {
	expiresAt time.Time
}

// InMemoryRunLocker implements RunLocker using an in-memory map
// This is suitable for single-instance deployments and testing
type InMemoryRunLocker struct {
	mu     sync.Mutex
	leases map[string]lease
}

// NewInMemoryRunLocker creates a new in-memory run locker
func NewInMemoryRunLocker() *InMemoryRunLocker {
	return &InMemoryRunLocker{
		leases: make(map[string]lease),
	}
}

// TryLock acquires the key if free. Expired leases are treated as free so
// a crashed run never blocks its tenant forever.
func (l *InMemoryRunLocker) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, exists := l.leases[key]; exists && now.Before(held.expiresAt) {
		return false, nil
	}
	l.leases[key] = lease{expiresAt: now.Add(ttl)}
	return true, nil
}

// Unlock releases the key. Releasing a key that is not held is a no-op.
func (l *InMemoryRunLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leases, key)
	return nil
}

// Ensure InMemoryRunLocker implements RunLocker
var _ ledger.RunLocker = (*InMemoryRunLocker)(nil)
