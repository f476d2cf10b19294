// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package expand

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name      string
		resources []Resource
		want      string
		wantErr   bool
	}{
		{name: "empty", want: ""},
		{name: "sorted", resources: []Resource{Groups, CustomData}, want: "customData,groups"},
		{name: "dupes", resources: []Resource{Groups, Groups}, want: "groups"},
		{name: "unknown", resources: []Resource{"apiKeys"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewRequest(tt.resources...)
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got.String())
			assert.Equal(tt.want == "", got.Empty())
		})
	}
}

func TestParse(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	req, err := Parse(" groups, customData ,,")
	require.NoError(err)
	assert.True(req.Has(Groups))
	assert.True(req.Has(CustomData))
	assert.False(req.Has(Tenant))

	_, err = Parse("groups,nope")
	require.Error(err)
}

func TestJoin(t *testing.T) {
	ctx := context.Background()
	all, err := NewRequest(CustomData, Groups, Directory, Tenant, ProviderData)
	require.NoError(t, err)

	t.Run("all-fetched", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var mu sync.Mutex
		seen := map[Resource]bool{}
		err := Join(ctx, all, func(_ context.Context, r Resource) error {
			mu.Lock()
			defer mu.Unlock()
			seen[r] = true
			return nil
		})
		require.NoError(err)
		assert.Len(seen, 5)
	})
	t.Run("concurrent", func(t *testing.T) {
		require := require.New(t)
		var inflight, peak int32
		err := Join(ctx, all, func(_ context.Context, _ Resource) error {
			n := atomic.AddInt32(&inflight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
			return nil
		})
		require.NoError(err)
		require.Greater(atomic.LoadInt32(&peak), int32(1))
	})
	t.Run("fail-fast", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		boom := errors.New("boom")
		err := Join(ctx, all, func(ctx context.Context, r Resource) error {
			if r == Groups {
				return boom
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		})
		require.Error(err)
		assert.ErrorIs(err, boom)
	})
	t.Run("empty-request", func(t *testing.T) {
		called := false
		err := Join(ctx, Request{}, func(context.Context, Resource) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, called)
	})
	t.Run("nil-func", func(t *testing.T) {
		require.Error(t, Join(ctx, all, nil))
	})
}
