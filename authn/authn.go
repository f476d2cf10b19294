// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package authn logs accounts in with a username and password.
package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/metrics"
	"github.com/hashicorp/capsession/principal"
	"github.com/hashicorp/capsession/session"
)

// PreLoginHook runs before the password grant.  It may modify creds.  A
// returned error aborts the login.
type PreLoginHook func(ctx context.Context, creds *identity.PasswordCredentials, w http.ResponseWriter, r *http.Request) error

// PostLoginHook runs after the session has been created and before its
// cookies are written to w.  A returned error fails the login and revokes
// the session's tokens.
type PostLoginHook func(ctx context.Context, account *identity.Account, w http.ResponseWriter, r *http.Request) error

// Result is a successful login.
type Result struct {
	Account              *identity.Account
	AuthenticationResult *identity.AuthenticationResult

	// Request carries the logged in principal.
	Request *http.Request
}

// Authenticator performs password logins.  It is safe for concurrent use.
type Authenticator struct {
	svc      identity.Service
	sessions *session.Manager
	pre      PreLoginHook
	post     PostLoginHook
	expand   expand.Request
	logger   hclog.Logger
	metrics  *metrics.Metrics
}

// New creates an Authenticator.
//
// Supported options: WithPreLoginHook, WithPostLoginHook, WithExpand,
// WithLogger, WithMetrics
func New(svc identity.Service, sessions *session.Manager, opt ...Option) (*Authenticator, error) {
	const op = "authn.New"
	switch {
	case svc == nil:
		return nil, fmt.Errorf("%s: identity service is nil: %w", op, identity.ErrNilParameter)
	case sessions == nil:
		return nil, fmt.Errorf("%s: session manager is nil: %w", op, identity.ErrNilParameter)
	}
	opts := getAuthenticatorOpts(opt...)
	return &Authenticator{
		svc:      svc,
		sessions: sessions,
		pre:      opts.withPreLoginHook,
		post:     opts.withPostLoginHook,
		expand:   opts.withExpand,
		logger:   opts.withLogger.Named("authn"),
		metrics:  opts.withMetrics,
	}, nil
}

// Authenticate logs in with creds and writes the session cookies to w.
//
// Missing credentials fail with identity.ErrInvalidCredentials before any
// provider call.  Hook failures wrap identity.ErrHook.  A provider rejection
// is returned with its *identity.ProviderError intact; see RemapError.  No
// cookies are written unless the login succeeds.
func (a *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request, creds identity.PasswordCredentials) (*Result, error) {
	const op = "authn.(Authenticator).Authenticate"
	ctx := r.Context()
	if creds.Username == "" || creds.Password == "" {
		a.metrics.Login(metrics.OutcomeInvalidInput)
		return nil, fmt.Errorf("%s: username and password are required: %w", op, identity.ErrInvalidCredentials)
	}
	if a.pre != nil {
		if err := a.pre(ctx, &creds, w, r); err != nil {
			a.metrics.Login(metrics.OutcomeHookRejected)
			return nil, fmt.Errorf("%s: pre login hook: %w: %w", op, identity.ErrHook, err)
		}
	}

	result, err := a.svc.AuthenticateByPassword(ctx, creds)
	if err != nil {
		a.metrics.Login(metrics.OutcomeFailure)
		a.logger.Debug("password grant rejected", "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	account, err := result.Account(ctx, a.svc, a.expand)
	if err != nil {
		a.metrics.Login(metrics.OutcomeProviderError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !account.Enabled() {
		a.metrics.Login(metrics.OutcomeDisabled)
		return nil, fmt.Errorf("%s: account has status %s: %w: %w", op, account.Status, identity.ErrAuthenticationFailed, identity.ErrAccountDisabled)
	}

	pending := &cookieBuffer{ResponseWriter: w, header: make(http.Header)}
	r = a.sessions.CreateSession(pending, r, result, account)
	if a.post != nil {
		if err := a.post(r.Context(), account, w, r); err != nil {
			if rerr := a.abandon(r, account, result); rerr != nil {
				a.logger.Warn("unable to revoke tokens after post login hook failure", "error", rerr)
			}
			a.metrics.Login(metrics.OutcomeHookRejected)
			return nil, fmt.Errorf("%s: post login hook: %w: %w", op, identity.ErrHook, err)
		}
	}
	pending.flush(w)
	a.metrics.Login(metrics.OutcomeSuccess)
	a.logger.Debug("login succeeded", "account", account.Href)
	return &Result{Account: account, AuthenticationResult: result, Request: r}, nil
}

// abandon revokes the tokens minted for a login the post login hook rejected
// and clears the request's principal.
func (a *Authenticator) abandon(r *http.Request, account *identity.Account, result *identity.AuthenticationResult) error {
	const op = "authn.(Authenticator).abandon"
	if pc, ok := principal.FromRequest(r); ok {
		pc.Clear()
	}
	ctx := context.WithoutCancel(r.Context())
	rv := a.sessions.Revoker()
	var errs *multierror.Error
	if result.AccessToken != "" {
		if err := rv.RevokeToken(ctx, account.Href, string(result.AccessToken)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if result.RefreshToken != "" {
		if err := rv.RevokeToken(ctx, account.Href, string(result.RefreshToken)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// cookieBuffer holds the session cookies of a pending login.  Only Header is
// buffered.
type cookieBuffer struct {
	http.ResponseWriter
	header http.Header
}

func (b *cookieBuffer) Header() http.Header { return b.header }

// flush adds the buffered cookies to w.
func (b *cookieBuffer) flush(w http.ResponseWriter) {
	for _, c := range b.header.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", c)
	}
}

// GenericLoginFailure is the message RemapError substitutes for provider
// messages that would reveal which part of a login was wrong.
const GenericLoginFailure = "Invalid username, password, or organization."

// Provider error codes remapped by RemapError.
const (
	CodeInvalidLogin        = 7100
	CodeAccountDisabled     = 7101
	CodeNotInAccountStore   = 7104
	CodeInvalidAccountStore = 2014
)

// RemapError replaces the message of provider errors that distinguish an
// unknown username, a wrong password, a disabled account or a wrong
// organization with GenericLoginFailure.  Other errors are returned as is.
func RemapError(err error) error {
	var pe *identity.ProviderError
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Code {
	case CodeInvalidLogin, CodeAccountDisabled, CodeNotInAccountStore, CodeInvalidAccountStore:
		return &identity.ProviderError{
			Status:  pe.Status,
			Code:    pe.Code,
			Message: GenericLoginFailure,
		}
	default:
		return err
	}
}
