// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package resolver establishes who is calling on every request.
//
// Credentials are tried in a fixed order and the first that yields an
// enabled account wins:
//
//  1. a principal already resolved earlier in the same request
//  2. an access token from the "Authorization: Bearer" header, or else the
//     access token cookie
//  3. the refresh token cookie, when step 2 found nothing usable; success
//     rotates the session cookies
//  4. an API key in the "Authorization: Basic" header, only when no token
//     header or session cookie was sent; API key sessions are stateless
//
// An unauthenticated request is not an error.  Failures are recorded on the
// principal.Context for diagnostics and the request continues without a
// principal.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/capsession/cookie"
	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/metrics"
	"github.com/hashicorp/capsession/principal"
	"github.com/hashicorp/capsession/session"
)

// Resolver resolves the principal of a request.  It is safe for concurrent
// use.
type Resolver struct {
	svc      identity.Service
	sessions *session.Manager
	cookies  *cookie.Store
	strategy identity.ValidationStrategy
	expand   expand.Request
	logger   hclog.Logger
	metrics  *metrics.Metrics
}

// New creates a Resolver.  Refreshed sessions are written with sessions.
//
// Supported options: WithValidationStrategy, WithExpand, WithLogger,
// WithMetrics
func New(svc identity.Service, sessions *session.Manager, opt ...Option) (*Resolver, error) {
	const op = "resolver.New"
	switch {
	case svc == nil:
		return nil, fmt.Errorf("%s: identity service is nil: %w", op, identity.ErrNilParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, identity.ErrNilParameter)
	}
	opts := getResolverOpts(opt...)
	switch opts.withValidationStrategy {
	case identity.ValidateLocal, identity.ValidateRemote:
	default:
		return nil, fmt.Errorf("%s: unknown validation strategy %d: %w", op, opts.withValidationStrategy, identity.ErrInvalidParameter)
	}
	return &Resolver{
		svc:      svc,
		sessions: sessions,
		cookies:  sessions.Cookies(),
		strategy: opts.withValidationStrategy,
		expand:   opts.withExpand,
		logger:   opts.withLogger.Named("resolver"),
		metrics:  opts.withMetrics,
	}, nil
}

// Middleware resolves the principal before calling next.
func (rs *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, rs.Resolve(w, r))
	})
}

// Resolve returns a request carrying the resolved principal.Context.  The
// context carries no account when no credential succeeded.  Cookies are only
// written when a refresh token re-established the session.
func (rs *Resolver) Resolve(w http.ResponseWriter, r *http.Request) *http.Request {
	r, pc := principal.Attach(r)
	if pc.Authenticated() {
		return r
	}
	ctx := r.Context()

	token, src := bearerToken(r), principal.SourceBearer
	cookieToken, hasAccessCookie := rs.cookies.AccessToken(r)
	if token == "" && hasAccessCookie {
		token, src = cookieToken, principal.SourceCookie
	}
	refresh, hasRefresh := rs.cookies.RefreshToken(r)

	if token != "" {
		if rs.fromAccessToken(ctx, pc, token, src) {
			return r
		}
		if !hasRefresh {
			return r
		}
		rs.logger.Trace("falling back to refresh token", "source", src)
	}
	if hasRefresh {
		return rs.fromRefreshToken(w, r, pc, refresh)
	}
	if token == "" && !hasAccessCookie && hasBasicAuth(r) {
		rs.fromAPIKey(ctx, pc, r)
		return r
	}
	rs.metrics.Resolution(string(principal.SourceNone), metrics.OutcomeNone)
	return r
}

func (rs *Resolver) fromAccessToken(ctx context.Context, pc *principal.Context, token identity.AccessToken, src principal.Source) bool {
	result, err := rs.svc.VerifyAccessToken(ctx, token, rs.strategy)
	if err != nil {
		rs.fail(pc, src, metrics.OutcomeInvalidToken, err)
		return false
	}
	return rs.establish(ctx, pc, result, src)
}

func (rs *Resolver) fromRefreshToken(w http.ResponseWriter, r *http.Request, pc *principal.Context, token identity.RefreshToken) *http.Request {
	ctx := r.Context()
	result, err := rs.svc.AuthenticateByRefreshToken(ctx, token)
	if err != nil {
		rs.fail(pc, principal.SourceRefresh, metrics.OutcomeInvalidToken, err)
		return r
	}
	account, ok := rs.account(ctx, pc, result, principal.SourceRefresh)
	if !ok {
		return r
	}
	rs.metrics.Resolution(string(principal.SourceRefresh), metrics.OutcomeSuccess)
	rs.logger.Debug("session refreshed", "account", account.Href)
	return rs.sessions.RefreshSession(w, r, result, account)
}

func (rs *Resolver) fromAPIKey(ctx context.Context, pc *principal.Context, r *http.Request) {
	result, err := rs.svc.AuthenticateAPIRequest(ctx, r)
	if err != nil {
		rs.fail(pc, principal.SourceAPIKey, metrics.OutcomeFailure, err)
		return
	}
	rs.establish(ctx, pc, result, principal.SourceAPIKey)
}

// establish fetches the account and makes it the principal when enabled.
func (rs *Resolver) establish(ctx context.Context, pc *principal.Context, result *identity.AuthenticationResult, src principal.Source) bool {
	account, ok := rs.account(ctx, pc, result, src)
	if !ok {
		return false
	}
	pc.SetUser(account, result, src)
	rs.metrics.Resolution(string(src), metrics.OutcomeSuccess)
	rs.logger.Trace("principal resolved", "source", src, "account", account.Href)
	return true
}

func (rs *Resolver) account(ctx context.Context, pc *principal.Context, result *identity.AuthenticationResult, src principal.Source) (*identity.Account, bool) {
	account, err := result.Account(ctx, rs.svc, rs.expand)
	if err != nil {
		rs.fail(pc, src, metrics.OutcomeProviderError, err)
		return nil, false
	}
	if !account.Enabled() {
		err := fmt.Errorf("account %s has status %s: %w", account.Href, account.Status, identity.ErrAccountDisabled)
		rs.fail(pc, src, metrics.OutcomeDisabled, err)
		return nil, false
	}
	return account, true
}

func (rs *Resolver) fail(pc *principal.Context, src principal.Source, outcome string, err error) {
	pc.RecordError(err)
	rs.metrics.Resolution(string(src), outcome)
	rs.logger.Debug("credential rejected", "source", src, "outcome", outcome, "error", err)
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) identity.AccessToken {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return identity.AccessToken(strings.TrimSpace(token))
}

func hasBasicAuth(r *http.Request) bool {
	_, _, ok := r.BasicAuth()
	return ok
}
