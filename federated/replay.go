// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package federated

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultReplayCapacity is the number of unexpired results remembered before
// new results are rejected.
const DefaultReplayCapacity = 100_000

var (
	errReplayed    = errors.New("result has already been used")
	errReplaysFull = errors.New("too many unexpired results")
)

// replayGuard remembers the jti of each accepted result until the result can
// no longer validate.  Live entries are never evicted: when the guard is full
// of them, new results are rejected.
type replayGuard struct {
	clock    clockwork.Clock
	capacity int

	mu   sync.Mutex
	seen map[string]time.Time
}

func newReplayGuard(capacity int, clock clockwork.Clock) *replayGuard {
	return &replayGuard{
		clock:    clock,
		capacity: capacity,
		seen:     make(map[string]time.Time),
	}
}

// accept records jti until the given time.  It fails if jti is already
// recorded or if the guard is full.
func (g *replayGuard) accept(jti string, until time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if exp, ok := g.seen[jti]; ok && now.Before(exp) {
		return errReplayed
	}
	if len(g.seen) >= g.capacity {
		g.purge(now)
		if len(g.seen) >= g.capacity {
			return errReplaysFull
		}
	}
	g.seen[jti] = until
	return nil
}

// purge drops entries that have expired.  g.mu must be held.
func (g *replayGuard) purge(now time.Time) {
	for jti, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, jti)
		}
	}
}

func (g *replayGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
