package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/httpx"
)

// Locker is a cross-process lease (redis SET NX PX in production).
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// keyedMutex serializes activations per field key inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*refMutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// acquire takes the in-process lock and, when configured, the distributed
// lease for key. It polls the lease until wait elapses.
func (r *Registry) acquire(ctx context.Context, key string) (func(), error) {
	unlock := r.keyed.lock(key)
	if r.locker == nil {
		return unlock, nil
	}
	deadline := time.Now().Add(r.cfg.LockWait)
	for {
		release, ok, err := r.locker.TryLock(ctx, key, r.cfg.LockTTL)
		if err != nil {
			unlock()
			return nil, fmt.Errorf("acquire activation lock: %w", err)
		}
		if ok {
			return func() {
				release()
				unlock()
			}, nil
		}
		if time.Now().After(deadline) {
			unlock()
			return nil, fmt.Errorf("activation lock %s busy: %w", key, drifterr.ErrRegistryConflict)
		}
		if err := httpx.SleepContext(ctx, httpx.JitterSleep(25*time.Millisecond)); err != nil {
			unlock()
			return nil, err
		}
	}
}
