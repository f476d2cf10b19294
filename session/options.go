// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

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

type managerOptions struct {
	withLogger  hclog.Logger
	withMetrics *metrics.Metrics
	withClock   clockwork.Clock
}

func managerDefaults() managerOptions {
	return managerOptions{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithMetrics provides optional metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok {
			v.withMetrics = m
		}
	}
}

// WithClock provides an optional clock used to stamp assertions.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok && c != nil {
			v.withClock = c
		}
	}
}
