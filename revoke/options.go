// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package revoke

import (
	"github.com/hashicorp/go-hclog"

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

type revokerOptions struct {
	withLogger  hclog.Logger
	withMetrics *metrics.Metrics
}

func revokerDefaults() revokerOptions {
	return revokerOptions{withLogger: hclog.NewNullLogger()}
}

func getRevokerOpts(opt ...Option) revokerOptions {
	opts := revokerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.  Revocation failures are logged at
// Warn.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*revokerOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithMetrics provides optional metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if v, ok := o.(*revokerOptions); ok {
			v.withMetrics = m
		}
	}
}
