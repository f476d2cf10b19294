// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cookie

import "github.com/jonboulle/clockwork"

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

type storeOptions struct {
	withClock clockwork.Clock
}

func storeDefaults() storeOptions {
	return storeOptions{withClock: clockwork.NewRealClock()}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClock provides an optional clock used to compute cookie expiry.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if v, ok := o.(*storeOptions); ok && c != nil {
			v.withClock = c
		}
	}
}
