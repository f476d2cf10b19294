// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package cache provides the process wide read-through cache used for
// lookups that change rarely, such as organization name keys.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize = 256
	DefaultTTL  = 5 * time.Minute
)

var ErrInvalidParameter = errors.New("invalid parameter")

// LoadFunc fetches the value for a key on a cache miss.
type LoadFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// ReadThrough caches loaded values for a bounded time.  It is safe for
// concurrent use.  Concurrent misses for the same key share one load, and
// failed loads are not cached.
type ReadThrough[K comparable, V any] struct {
	lru   *expirable.LRU[K, V]
	group singleflight.Group
}

// New creates a ReadThrough holding at most size entries for ttl.  A
// non-positive size or ttl uses the defaults.
func New[K comparable, V any](size int, ttl time.Duration) *ReadThrough[K, V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ReadThrough[K, V]{
		lru: expirable.NewLRU[K, V](size, nil, ttl),
	}
}

// Get returns the cached value for key, calling load on a miss.  The load
// shared by concurrent misses is not canceled with any one caller's ctx.  A
// caller whose ctx ends stops waiting for it.
func (c *ReadThrough[K, V]) Get(ctx context.Context, key K, load LoadFunc[K, V]) (V, error) {
	const op = "cache.(ReadThrough).Get"
	var zero V
	if load == nil {
		return zero, fmt.Errorf("%s: load func is nil: %w", op, ErrInvalidParameter)
	}
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fmt.Sprint(key), func() (interface{}, error) {
		v, err := load(loadCtx, key)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("%s: %w", op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, fmt.Errorf("%s: %w", op, res.Err)
		}
		return res.Val.(V), nil
	}
}

// Peek returns the cached value without loading it.
func (c *ReadThrough[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(key)
}

// Remove evicts key.
func (c *ReadThrough[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

// Len returns the number of cached entries, including ones that have expired
// but not yet been purged.
func (c *ReadThrough[K, V]) Len() int {
	return c.lru.Len()
}
