// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package session turns authentication results into session cookies and
// tears sessions down again.
//
// A session is nothing more than the access and refresh token cookies held
// by the browser.  CreateSession writes them, DestroySession revokes the
// tokens with the identity provider and deletes them, and ExchangeForSession
// mints a session for an account that authenticated by some other means.
package session

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hashicorp/capsession/cookie"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/jwt"
	"github.com/hashicorp/capsession/principal"
	"github.com/hashicorp/capsession/revoke"
)

// Manager creates and destroys sessions.  It is safe for concurrent use.
type Manager struct {
	svc     identity.Service
	cookies *cookie.Store
	revoker *revoke.Revoker
	cfg     Config
	clock   clockwork.Clock
	logger  hclog.Logger
}

// NewManager creates a Manager.
//
// Supported options: WithLogger, WithMetrics, WithClock
func NewManager(svc identity.Service, cookies *cookie.Store, cfg *Config, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	switch {
	case svc == nil:
		return nil, fmt.Errorf("%s: identity service is nil: %w", op, identity.ErrNilParameter)
	case cookies == nil:
		return nil, fmt.Errorf("%s: cookie store is nil: %w", op, identity.ErrNilParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c := *cfg
	if c.AssertionTTL == 0 {
		c.AssertionTTL = MaxAssertionTTL
	}
	if c.TokenKeySet == nil {
		ks, err := jwt.NewHMACKeySet(string(c.AssertionSecret))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.TokenKeySet = ks
	}

	opts := getManagerOpts(opt...)
	logger := opts.withLogger.Named("session")
	rv, err := revoke.NewRevoker(svc, cookies, c.TokenKeySet, revoke.WithLogger(logger), revoke.WithMetrics(opts.withMetrics))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Manager{
		svc:     svc,
		cookies: cookies,
		revoker: rv,
		cfg:     c,
		clock:   opts.withClock,
		logger:  logger,
	}, nil
}

// Cookies returns the store the Manager writes session cookies to.
func (m *Manager) Cookies() *cookie.Store { return m.cookies }

// Revoker returns the Manager's token revoker.
func (m *Manager) Revoker() *revoke.Revoker { return m.revoker }

// CreateSession records account as the request's principal and writes a
// cookie for each token present in result.  It returns the request carrying
// the principal.  Calling it again overwrites the cookies.
func (m *Manager) CreateSession(w http.ResponseWriter, r *http.Request, result *identity.AuthenticationResult, account *identity.Account) *http.Request {
	return m.createSession(w, r, result, account, principal.SourceLogin)
}

func (m *Manager) createSession(w http.ResponseWriter, r *http.Request, result *identity.AuthenticationResult, account *identity.Account, src principal.Source) *http.Request {
	r, pc := principal.Attach(r)
	if account != nil {
		pc.SetUser(account, result, src)
	}
	if result == nil {
		return r
	}
	if result.AccessToken != "" {
		m.cookies.SetAccessToken(w, r, result.AccessToken, result.ExpiresIn)
	}
	if result.RefreshToken != "" {
		m.cookies.SetRefreshToken(w, r, result.RefreshToken)
	}
	m.logger.Trace("session created", "source", src, "refresh", result.RefreshToken != "")
	return r
}

// RefreshSession is CreateSession for a session re-established from its
// refresh token.
func (m *Manager) RefreshSession(w http.ResponseWriter, r *http.Request, result *identity.AuthenticationResult, account *identity.Account) *http.Request {
	return m.createSession(w, r, result, account, principal.SourceRefresh)
}

// DestroySession revokes the session's tokens, deletes both session cookies
// and clears the request's principal.  The cookies are always deleted.  The
// returned error reports revocation failures for diagnostics only.
func (m *Manager) DestroySession(w http.ResponseWriter, r *http.Request) error {
	const op = "session.(Manager).DestroySession"
	err := m.revoker.Revoke(w, r)
	if pc, ok := principal.FromRequest(r); ok {
		pc.Clear()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ExchangeForSession mints a session for an account established without
// tokens, such as by a federated login.  A short lived assertion is
// exchanged for tokens which are then written as cookies.  Failures wrap
// identity.ErrTokenExchange.
func (m *Manager) ExchangeForSession(w http.ResponseWriter, r *http.Request, account *identity.Account) (*http.Request, *identity.AuthenticationResult, error) {
	const op = "session.(Manager).ExchangeForSession"
	assertion, err := m.NewAssertion(account)
	if err != nil {
		return r, nil, fmt.Errorf("%s: %w: %w", op, identity.ErrTokenExchange, err)
	}
	result, err := m.svc.AuthenticateByAssertion(r.Context(), assertion)
	if err != nil {
		return r, nil, fmt.Errorf("%s: %w: %w", op, identity.ErrTokenExchange, err)
	}
	return m.createSession(w, r, result, account, principal.SourceAssertion), result, nil
}
