// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package federated

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hashicorp/capsession/expand"
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

type callbackOptions struct {
	withSuccess        SuccessResponseFunc
	withError          ErrorResponseFunc
	withRedirect       string
	withExpand         expand.Request
	withReplayWindow   time.Duration
	withReplayCapacity int
	withClock          clockwork.Clock
	withLogger         hclog.Logger
}

func callbackDefaults() callbackOptions {
	return callbackOptions{
		withRedirect:       "/",
		withReplayCapacity: DefaultReplayCapacity,
		withLogger:         hclog.NewNullLogger(),
	}
}

func getCallbackOpts(opt ...Option) callbackOptions {
	opts := callbackDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSuccess provides the response for a completed callback.  The default
// redirects to the WithRedirect location.
func WithSuccess(fn SuccessResponseFunc) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok {
			v.withSuccess = fn
		}
	}
}

// WithError provides the response for a failed callback.  The default is
// JSONError.
func WithError(fn ErrorResponseFunc) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok {
			v.withError = fn
		}
	}
}

// WithRedirect sets where the default success response redirects to.  The
// default is "/".
func WithRedirect(location string) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok && location != "" {
			v.withRedirect = location
		}
	}
}

// WithExpand requests sub-resources to expand on the logged in account.
func WithExpand(req expand.Request) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok {
			v.withExpand = req
		}
	}
}

// WithReplayWindow sets the minimum time a result's jti is remembered.  A
// jti is always remembered until the result expires, plus leeway.
func WithReplayWindow(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok && d > 0 {
			v.withReplayWindow = d
		}
	}
}

// WithReplayCapacity sets how many unexpired results are remembered.  Once
// that many are held, further results are rejected until some expire.  The
// default is DefaultReplayCapacity.
func WithReplayCapacity(n int) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok && n > 0 {
			v.withReplayCapacity = n
		}
	}
}

// WithClock provides an optional clock for expiring remembered results.  The
// default is the validator's clock.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok && c != nil {
			v.withClock = c
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}
