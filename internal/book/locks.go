package book

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/holdwatch/holdwatch/internal/domain"
)

// assetLocks hands out one lock per asset symbol so operations on
// different assets never block each other. Waits are bounded: an
// acquire that cannot get the lock in time fails with ErrContention
// instead of blocking indefinitely.
type assetLocks struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	maxWait time.Duration
}

func newAssetLocks(maxWait time.Duration) *assetLocks {
	return &assetLocks{
		locks:   make(map[string]chan struct{}),
		maxWait: maxWait,
	}
}

func (a *assetLocks) lockFor(asset string) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, ok := a.locks[asset]
	if !ok {
		ch = make(chan struct{}, 1)
		a.locks[asset] = ch
	}
	return ch
}

// acquire takes the asset's lock and returns its release func.
func (a *assetLocks) acquire(ctx context.Context, asset string) (func(), error) {
	ch := a.lockFor(asset)

	timer := time.NewTimer(a.maxWait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(domain.ErrContention, "lock wait for %s canceled: %v", asset, ctx.Err())
	case <-timer.C:
		return nil, errors.Wrapf(domain.ErrContention, "lock wait for %s exceeded %s", asset, a.maxWait)
	}
}
