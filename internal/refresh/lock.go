package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockNotAcquired is returned when the bounded wait for a per-identity
// lock elapses while another holder is refreshing.
var ErrLockNotAcquired = errors.New("per-identity lock not acquired")

// How often Acquire re-attempts while waiting for a contended lock.
const acquirePollInterval = 50 * time.Millisecond

// Lease is a held per-identity lock. Release is safe to call on every exit
// path; releasing an already-expired lease is a no-op. If the holder crashes
// without releasing, the lease expiry makes the lock reclaimable.
type Lease interface {
	Release()
}

// Locker hands out lease-style exclusive locks keyed by credential identity.
// Acquire waits at most until ctx is done, then fails with
// ErrLockNotAcquired. Locks for different keys never block one another.
type Locker interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (Lease, error)
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is the single-instance Locker. Expired entries are reclaimed
// lazily on the next Acquire, so a crashed goroutine cannot wedge an
// identity past its lease.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryEntry
}

// NewMemoryLocker creates a new in-memory lease locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryEntry)}
}

// Acquire takes the lock for key, polling until ctx expires.
func (l *MemoryLocker) Acquire(
	ctx context.Context,
	key string,
	lease time.Duration,
) (Lease, error) {
	token := uuid.New().String()

	for {
		if l.tryAcquire(key, token, lease) {
			return &memoryLease{locker: l, key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrLockNotAcquired
		case <-time.After(acquirePollInterval):
		}
	}
}

func (l *MemoryLocker) tryAcquire(key, token string, lease time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, exists := l.held[key]; exists && now.Before(entry.expiresAt) {
		return false
	}
	l.held[key] = memoryEntry{token: token, expiresAt: now.Add(lease)}
	return true
}

func (l *MemoryLocker) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Only the current holder may release; an expired lease may already
	// belong to someone else.
	if entry, exists := l.held[key]; exists && entry.token == token {
		delete(l.held, key)
	}
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (m *memoryLease) Release() {
	m.locker.release(m.key, m.token)
}
