// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hashicorp/capsession/metrics"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type clientOptions struct {
	withLogger  hclog.Logger
	withMetrics *metrics.Metrics
	withClock   clockwork.Clock
}

func clientDefaults() clientOptions {
	return clientOptions{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithMetrics provides optional instrumentation of provider requests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withMetrics = m
		}
	}
}

// WithClock provides an optional clock used for local token validation and
// token lifetimes.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok && c != nil {
			v.withClock = c
		}
	}
}
