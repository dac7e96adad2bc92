package signer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
)

// DistributedLocker serializes work across processes
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Queue runs nonce-consuming work one at a time per signer address. A submission and the wait
// for its confirmation happen inside one slot so the next submission sees the updated nonce.
type Queue struct {
	mu      sync.Mutex
	slots   map[persist.Address]*sync.Mutex
	dist    DistributedLocker
	lockTTL time.Duration
}

// NewQueue creates a queue. dist may be nil to serialize within this process only.
func NewQueue(dist DistributedLocker, lockTTL time.Duration) *Queue {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Queue{slots: make(map[persist.Address]*sync.Mutex), dist: dist, lockTTL: lockTTL}
}

func (q *Queue) slot(addr persist.Address) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.slots[addr]
	if !ok {
		m = &sync.Mutex{}
		q.slots[addr] = m
	}
	return m
}

// Do runs fn while holding the slot of address
func (q *Queue) Do(ctx context.Context, address persist.Address, fn func(context.Context) error) error {
	key := persist.NewAddress(string(address))
	m := q.slot(key)
	m.Lock()
	defer m.Unlock()

	if q.dist != nil {
		release, err := q.dist.Lock(ctx, string(key), q.lockTTL)
		if err != nil {
			return err
		}
		defer func() {
			// Use a fresh context so a cancelled caller still frees the lock
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				logger.For(ctx).WithError(err).WithFields(logrus.Fields{"signer": address}).Warn("failed to release signer lock")
			}
		}()
	}

	return fn(ctx)
}
