// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package principal holds the per-request record of who the caller is.
//
// A Context is attached to the request once, by pointer, so later stages of
// the same request (the resolver, a login handler, a session refresh) all
// update the same record.
package principal

import (
	"context"
	"net/http"

	"github.com/hashicorp/capsession/identity"
)

// Source records which mechanism established the principal.
type Source string

const (
	SourceNone      Source = ""
	SourceBearer    Source = "bearer"
	SourceCookie    Source = "cookie"
	SourceRefresh   Source = "refresh"
	SourceAPIKey    Source = "api_key"
	SourceLogin     Source = "login"
	SourceAssertion Source = "assertion"
)

// Context is the resolved principal for a single request.  It is not safe
// for concurrent use.
type Context struct {
	// Account is the caller, or nil when the request is unauthenticated.
	Account *identity.Account

	// AuthenticationResult is the credential check that produced Account.
	AuthenticationResult *identity.AuthenticationResult

	// Permissions are the scopes granted to the caller's token.
	Permissions []string

	// AuthenticationError is the last error seen while resolving.  It is
	// diagnostic only.
	AuthenticationError error

	Source Source
}

type contextKey struct{}

// Attach returns a request carrying a Context.  If r already carries one it
// is returned unchanged with the existing Context.
func Attach(r *http.Request) (*http.Request, *Context) {
	if pc, ok := FromRequest(r); ok {
		return r, pc
	}
	pc := &Context{}
	return r.WithContext(NewContext(r.Context(), pc)), pc
}

// NewContext returns a copy of ctx carrying pc.
func NewContext(ctx context.Context, pc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, pc)
}

// FromContext returns the Context carried by ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	pc, ok := ctx.Value(contextKey{}).(*Context)
	return pc, ok && pc != nil
}

// FromRequest returns the Context carried by r.
func FromRequest(r *http.Request) (*Context, bool) {
	if r == nil {
		return nil, false
	}
	return FromContext(r.Context())
}

// User returns the authenticated account, or nil.
func User(r *http.Request) *identity.Account {
	pc, ok := FromRequest(r)
	if !ok {
		return nil
	}
	return pc.Account
}

// Authenticated reports whether an account has been resolved.
func (c *Context) Authenticated() bool {
	return c != nil && c.Account != nil
}

// SetUser records a successful authentication.  Permissions are taken from
// the result's granted scopes, and any earlier error is cleared.
func (c *Context) SetUser(a *identity.Account, result *identity.AuthenticationResult, src Source) {
	c.Account = a
	c.AuthenticationResult = result
	c.Source = src
	c.AuthenticationError = nil
	c.Permissions = nil
	if result != nil && len(result.GrantedScopes) > 0 {
		c.Permissions = append([]string(nil), result.GrantedScopes...)
	}
}

// Clear drops any resolved account while keeping the recorded error.
func (c *Context) Clear() {
	c.Account = nil
	c.AuthenticationResult = nil
	c.Permissions = nil
	c.Source = SourceNone
}

// RecordError stores err as the diagnostic error.
func (c *Context) RecordError(err error) {
	if err != nil {
		c.AuthenticationError = err
	}
}

// HasPermission reports whether scope was granted.
func (c *Context) HasPermission(scope string) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Permissions {
		if p == scope {
			return true
		}
	}
	return false
}
