// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package authn

import (
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/metrics"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

type authenticatorOptions struct {
	withPreLoginHook  PreLoginHook
	withPostLoginHook PostLoginHook
	withExpand        expand.Request
	withLogger        hclog.Logger
	withMetrics       *metrics.Metrics
}

func authenticatorDefaults() authenticatorOptions {
	return authenticatorOptions{withLogger: hclog.NewNullLogger()}
}

func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPreLoginHook provides a hook run before credentials are sent to the
// identity provider.
func WithPreLoginHook(h PreLoginHook) Option {
	return func(o interface{}) {
		if v, ok := o.(*authenticatorOptions); ok {
			v.withPreLoginHook = h
		}
	}
}

// WithPostLoginHook provides a hook run after the session is created.
func WithPostLoginHook(h PostLoginHook) Option {
	return func(o interface{}) {
		if v, ok := o.(*authenticatorOptions); ok {
			v.withPostLoginHook = h
		}
	}
}

// WithExpand requests sub-resources to expand on the logged in account.
func WithExpand(req expand.Request) Option {
	return func(o interface{}) {
		if v, ok := o.(*authenticatorOptions); ok {
			v.withExpand = req
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*authenticatorOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithMetrics provides optional metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if v, ok := o.(*authenticatorOptions); ok {
			v.withMetrics = m
		}
	}
}
