// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package federated completes logins performed away from the application,
// such as on a hosted login site or through a social provider.  The signed
// result returned to the application is turned into a local session by
// exchanging an assertion for tokens.
package federated

import (
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/jwt"
	"github.com/hashicorp/capsession/session"
)

// Status claims of a federated result.
const (
	StatusAuthenticated = "AUTHENTICATED"
	StatusRegistered    = "REGISTERED"
	StatusLogout        = "LOGOUT"
)

// ResultParameter is the query parameter carrying the signed result.
const ResultParameter = "jwtResponse"

// Callback creates a handler for the redirect back from a federated login.
// The result in the jwtResponse parameter is validated with v against
// expected.  An expiry is always required.  A jti may only be used once: it
// is remembered until the result's expiry plus leeway, or for the replay
// window if that is longer.
//
// An AUTHENTICATED or REGISTERED result for an enabled account is exchanged
// for a session.  A LOGOUT result destroys the current session.
//
// Supported options: WithSuccess, WithError, WithRedirect, WithExpand,
// WithReplayWindow, WithReplayCapacity, WithClock, WithLogger
func Callback(v *jwt.Validator, expected jwt.Expected, svc identity.Service, sessions *session.Manager, opt ...Option) http.HandlerFunc {
	opts := getCallbackOpts(opt...)
	sFn, eFn := opts.withSuccess, opts.withError
	if sFn == nil {
		sFn = Redirect(opts.withRedirect)
	}
	if eFn == nil {
		eFn = JSONError
	}
	expected.RequireExpiry = true
	clock := opts.withClock
	if clock == nil {
		clock = clockwork.NewRealClock()
		if v != nil {
			clock = v.Clock()
		}
	}
	seen := newReplayGuard(opts.withReplayCapacity, clock)
	logger := opts.withLogger.Named("federated")

	return func(w http.ResponseWriter, req *http.Request) {
		const op = "federated.Callback"
		switch {
		case v == nil:
			eFn(fmt.Errorf("%s: validator is nil: %w", op, identity.ErrNilParameter), w, req)
			return
		case svc == nil:
			eFn(fmt.Errorf("%s: identity service is nil: %w", op, identity.ErrNilParameter), w, req)
			return
		case sessions == nil:
			eFn(fmt.Errorf("%s: session manager is nil: %w", op, identity.ErrNilParameter), w, req)
			return
		}
		ctx := req.Context()

		token := req.FormValue(ResultParameter)
		if token == "" {
			eFn(fmt.Errorf("%s: missing %s: %w", op, ResultParameter, identity.ErrInvalidParameter), w, req)
			return
		}
		claims, err := v.Validate(ctx, token, expected)
		if err != nil {
			eFn(fmt.Errorf("%s: %w: %w", op, identity.ErrAuthenticationFailed, err), w, req)
			return
		}
		jti := jwt.StringClaim(claims, "jti")
		if jti == "" {
			eFn(fmt.Errorf("%s: result has no jti: %w", op, identity.ErrInvalidParameter), w, req)
			return
		}
		exp, _ := jwt.TimeClaim(claims, "exp")
		until := exp.Add(expected.ExpiryLeeway())
		if floor := clock.Now().Add(opts.withReplayWindow); floor.After(until) {
			until = floor
		}
		if err := seen.accept(jti, until); err != nil {
			logger.Warn("rejected federated result", "error", err)
			eFn(fmt.Errorf("%s: %w: %w: %w", op, err, identity.ErrAuthenticationFailed, identity.ErrInvalidToken), w, req)
			return
		}

		status := jwt.StringClaim(claims, "status")
		switch status {
		case StatusLogout:
			if err := sessions.DestroySession(w, req); err != nil {
				logger.Warn("unable to revoke session tokens", "error", err)
			}
			sFn(status, nil, w, req)
			return
		case StatusAuthenticated, StatusRegistered:
		default:
			eFn(fmt.Errorf("%s: unknown result status %q: %w", op, status, identity.ErrInvalidParameter), w, req)
			return
		}

		href := jwt.StringClaim(claims, "sub")
		if href == "" {
			eFn(fmt.Errorf("%s: result has no subject: %w", op, identity.ErrInvalidParameter), w, req)
			return
		}
		account, err := svc.GetAccount(ctx, href, opts.withExpand)
		if err != nil {
			eFn(fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		if !account.Enabled() {
			eFn(fmt.Errorf("%s: account has status %s: %w: %w", op, account.Status, identity.ErrAuthenticationFailed, identity.ErrAccountDisabled), w, req)
			return
		}
		req, _, err = sessions.ExchangeForSession(w, req, account)
		if err != nil {
			eFn(fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		logger.Debug("federated login completed", "account", account.Href, "status", status)
		sFn(status, account, w, req)
	}
}
