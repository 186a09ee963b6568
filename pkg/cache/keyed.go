// Package cache provides a session-lifetime key/value store whose values are
// fetched at most once per key.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the value for key.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// Keyed caches successful fetch results per key. Concurrent Get calls for a
// key that is being fetched wait for the same in-flight fetch. Errors are not
// cached.
type Keyed[V any] struct {
	fetch   FetchFunc[V]
	timeout time.Duration

	mu     sync.RWMutex
	values map[string]V
	group  singleflight.Group
}

// NewKeyed returns an empty cache backed by fetch.
func NewKeyed[V any](fetch FetchFunc[V]) *Keyed[V] {
	return &Keyed[V]{
		fetch:   fetch,
		timeout: time.Minute,
		values:  make(map[string]V),
	}
}

// WithTimeout bounds a single fetch. Fetches are detached from the caller's
// cancellation, so this is what stops a hung source.
func (k *Keyed[V]) WithTimeout(d time.Duration) *Keyed[V] {
	if d > 0 {
		k.timeout = d
	}
	return k
}

// Get returns the cached value for key, fetching it on first use.
func (k *Keyed[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := k.Peek(key); ok {
		return v, nil
	}

	ch := k.group.DoChan(key, func() (any, error) {
		// Another caller may have stored the value between Peek and DoChan.
		if v, ok := k.Peek(key); ok {
			return v, nil
		}
		// Waiters share this fetch; one of them leaving must not cancel it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
		defer cancel()
		v, err := k.fetch(fetchCtx, key)
		if err != nil {
			return v, err
		}
		k.mu.Lock()
		k.values[key] = v
		k.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Peek returns the cached value without fetching.
func (k *Keyed[V]) Peek(key string) (V, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.values[key]
	return v, ok
}

// Len reports the number of cached keys.
func (k *Keyed[V]) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.values)
}
