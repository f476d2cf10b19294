// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package expand describes which optional account sub-resources should be
// fetched alongside an account, and joins the concurrent fetches.
package expand

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Resource names an expandable account sub-resource.
type Resource string

const (
	CustomData   Resource = "customData"
	Groups       Resource = "groups"
	Directory    Resource = "directory"
	Tenant       Resource = "tenant"
	ProviderData Resource = "providerData"
)

var knownResources = map[Resource]struct{}{
	CustomData:   {},
	Groups:       {},
	Directory:    {},
	Tenant:       {},
	ProviderData: {},
}

// Request is a set of resources to expand.  The zero value expands nothing.
type Request struct {
	set map[Resource]struct{}
}

// NewRequest returns a Request for the given resources.  Unknown resources
// are an error.
func NewRequest(r ...Resource) (Request, error) {
	const op = "expand.NewRequest"
	req := Request{set: make(map[Resource]struct{}, len(r))}
	for _, res := range r {
		if _, ok := knownResources[res]; !ok {
			return Request{}, fmt.Errorf("%s: unknown resource %q", op, res)
		}
		req.set[res] = struct{}{}
	}
	return req, nil
}

// Parse builds a Request from a comma separated list, ie: "customData,groups"
func Parse(s string) (Request, error) {
	var rs []Resource
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			rs = append(rs, Resource(p))
		}
	}
	return NewRequest(rs...)
}

// Has reports whether r is part of the request.
func (req Request) Has(r Resource) bool {
	_, ok := req.set[r]
	return ok
}

// Empty reports whether nothing is requested.
func (req Request) Empty() bool {
	return len(req.set) == 0
}

// Resources returns the requested resources in a stable order.
func (req Request) Resources() []Resource {
	rs := make([]Resource, 0, len(req.set))
	for r := range req.set {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
	return rs
}

// String returns the request in the provider's "expand" query form.
func (req Request) String() string {
	rs := req.Resources()
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

// FetchFunc fetches a single resource.  Implementations must be safe to call
// concurrently with other resources of the same request.
type FetchFunc func(ctx context.Context, r Resource) error

// Join calls fn for every requested resource concurrently and waits for all
// of them.  The first failure cancels the context handed to the others and is
// returned.
func Join(ctx context.Context, req Request, fn FetchFunc) error {
	const op = "expand.Join"
	if fn == nil {
		return fmt.Errorf("%s: fetch func is nil", op)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range req.Resources() {
		r := r
		g.Go(func() error {
			if err := fn(gctx, r); err != nil {
				return fmt.Errorf("%s: unable to expand %s: %w", op, r, err)
			}
			return nil
		})
	}
	return g.Wait()
}
