// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identitytest

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type providerOptions struct {
	withClock           clockwork.Clock
	withAccessTokenTTL  time.Duration
	withRefreshTokenTTL time.Duration
	withScopes          []string
	withServer          bool
}

func providerDefaults() providerOptions {
	return providerOptions{
		withClock:           clockwork.NewRealClock(),
		withAccessTokenTTL:  DefaultAccessTokenTTL,
		withRefreshTokenTTL: DefaultRefreshTokenTTL,
	}
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithClock provides the clock used to mint and validate tokens.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok && c != nil {
			v.withClock = c
		}
	}
}

// WithAccessTokenTTL sets the lifetime of issued access tokens.
func WithAccessTokenTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withAccessTokenTTL = d
		}
	}
}

// WithRefreshTokenTTL sets the lifetime of issued refresh tokens.
func WithRefreshTokenTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withRefreshTokenTTL = d
		}
	}
}

// WithScopes sets the scopes granted to every access token.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withScopes = scopes
		}
	}
}

// WithServer starts an httptest TLS server speaking the provider's REST
// protocol.  Every href the provider issues is rooted at the server's URL.
func WithServer() Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withServer = true
		}
	}
}
