// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/identity"
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

type resolverOptions struct {
	withValidationStrategy identity.ValidationStrategy
	withExpand             expand.Request
	withLogger             hclog.Logger
	withMetrics            *metrics.Metrics
}

func resolverDefaults() resolverOptions {
	return resolverOptions{
		withValidationStrategy: identity.ValidateLocal,
		withLogger:             hclog.NewNullLogger(),
	}
}

func getResolverOpts(opt ...Option) resolverOptions {
	opts := resolverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithValidationStrategy selects how access tokens are verified.  The
// default is identity.ValidateLocal.
func WithValidationStrategy(s identity.ValidationStrategy) Option {
	return func(o interface{}) {
		if v, ok := o.(*resolverOptions); ok {
			v.withValidationStrategy = s
		}
	}
}

// WithExpand requests sub-resources to expand on every resolved account.
func WithExpand(req expand.Request) Option {
	return func(o interface{}) {
		if v, ok := o.(*resolverOptions); ok {
			v.withExpand = req
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*resolverOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithMetrics provides optional metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if v, ok := o.(*resolverOptions); ok {
			v.withMetrics = m
		}
	}
}
