package lock

import (
	"context"
	"sync"
	"time"
)

// Locker grants exclusive, expiring ownership of a key.
type Locker interface {
	// Acquire takes key for ttl. It returns ErrLockHeld when another owner
	// holds it. The returned release is safe to call more than once and never
	// releases a lock that has since been taken by someone else.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]memoryLock
	seq   uint64
}

type memoryLock struct {
	owner   uint64
	expires time.Time
}

// NewMemory returns an in-process Locker.
func NewMemory() *Memory {
	return &Memory{
		now:   time.Now,
		locks: make(map[string]memoryLock),
	}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.locks[key]; ok && now.Before(l.expires) {
		return nil, ErrLockHeld
	}
	m.seq++
	owner := m.seq
	m.locks[key] = memoryLock{owner: owner, expires: now.Add(ttl)}

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.locks[key]; ok && l.owner == owner {
			delete(m.locks, key)
		}
		return nil
	}, nil
}
