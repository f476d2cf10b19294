// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/capsession/authn"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/resolver"
	"github.com/hashicorp/capsession/session"
)

// Default route paths.
const (
	LoginPath    = "/login"
	LogoutPath   = "/logout"
	MePath       = "/me"
	RevokePath   = "/oauth/revoke"
	CallbackPath = "/idSiteResult"
)

// Config assembles the routes mounted by Router.
type Config struct {
	Authenticator *authn.Authenticator
	Sessions      *session.Manager
	Resolver      *resolver.Resolver

	// LogoutRedirect is where Logout sends the browser.  Empty responds 204.
	LogoutRedirect string

	// Callback handles federated login results at CallbackPath when set.
	Callback http.Handler

	// Middleware runs before the resolver.
	Middleware []func(http.Handler) http.Handler

	// Routes adds application routes.  They run behind the resolver; use
	// Resolver.Required or Resolver.GroupsRequired to protect them.
	Routes func(chi.Router)

	Logger hclog.Logger
}

// Validate checks that the required components are set.
func (c *Config) Validate() error {
	const op = "handlers.(Config).Validate"
	switch {
	case c == nil:
		return fmt.Errorf("%s: config is nil: %w", op, identity.ErrNilParameter)
	case c.Authenticator == nil:
		return fmt.Errorf("%s: authenticator is nil: %w", op, identity.ErrNilParameter)
	case c.Sessions == nil:
		return fmt.Errorf("%s: session manager is nil: %w", op, identity.ErrNilParameter)
	case c.Resolver == nil:
		return fmt.Errorf("%s: resolver is nil: %w", op, identity.ErrNilParameter)
	}
	return nil
}

// Router returns a chi router serving the login, logout, me and revoke
// endpoints.  Every request passes through the resolver, so handlers
// downstream can read the principal.
func Router(cfg *Config) (chi.Router, error) {
	const op = "handlers.Router"
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Use(cfg.Resolver.Middleware)

	r.Post(LoginPath, Login(cfg.Authenticator, WithLogger(logger)))
	r.Post(LogoutPath, Logout(cfg.Sessions, cfg.LogoutRedirect, WithLogger(logger)))
	r.Get(MePath, Me())
	r.Post(RevokePath, Revoke(cfg.Sessions.Revoker()))
	if cfg.Callback != nil {
		r.Method(http.MethodGet, CallbackPath, cfg.Callback)
	}
	if cfg.Routes != nil {
		cfg.Routes(r)
	}
	return r, nil
}
