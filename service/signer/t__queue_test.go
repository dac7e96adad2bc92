package signer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SplitFi/go-barter/service/persist"
)

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return func(context.Context) error { return nil }, nil
}

func TestQueue(t *testing.T) {
	a := setupTest(t)
	ctx := context.Background()
	upper := persist.Address("0x00000000000000000000000000000000000000AB")
	lower := persist.Address("0x00000000000000000000000000000000000000ab")

	t.Run("it locks one normalized key for every spelling of an address", func(t *testing.T) {
		locker := &recordingLocker{}
		q := NewQueue(locker, time.Minute)

		for _, addr := range []persist.Address{upper, lower} {
			a.NoError(q.Do(ctx, addr, func(context.Context) error { return nil }))
		}

		a.Equal([]string{string(lower), string(lower)}, locker.keys)
		a.Len(q.slots, 1)
	})

	t.Run("it never overlaps work for the same signer", func(t *testing.T) {
		q := NewQueue(nil, 0)

		var mu sync.Mutex
		inFlight, maxFlight := 0, 0
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			addr := upper
			if i%2 == 0 {
				addr = lower
			}
			wg.Add(1)
			go func(addr persist.Address) {
				defer wg.Done()
				_ = q.Do(ctx, addr, func(context.Context) error {
					mu.Lock()
					inFlight++
					if inFlight > maxFlight {
						maxFlight = inFlight
					}
					mu.Unlock()
					time.Sleep(5 * time.Millisecond)
					mu.Lock()
					inFlight--
					mu.Unlock()
					return nil
				})
			}(addr)
		}
		wg.Wait()
		a.Equal(1, maxFlight)
	})
}

func setupTest(t *testing.T) *assert.Assertions {
	return assert.New(t)
}
