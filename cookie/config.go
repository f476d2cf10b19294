// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cookie

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultAccessTokenName is the default name of the access token cookie.
	DefaultAccessTokenName = "access_token"

	// DefaultRefreshTokenName is the default name of the refresh token cookie.
	DefaultRefreshTokenName = "refresh_token"

	// DefaultPath is the default cookie path.
	DefaultPath = "/"
)

// Config describes the pair of session cookies.
type Config struct {
	// AccessTokenName and RefreshTokenName are the cookie names.  They must
	// differ.
	AccessTokenName  string
	RefreshTokenName string

	// Path defaults to "/".
	Path string

	// Domain is optional.  Deleted cookies are written with the same Domain
	// and Path or browsers will keep the original.
	Domain string

	// Secure overrides the secure flag.  When nil the flag mirrors whether
	// the request arrived over TLS.
	Secure *bool

	// TrustForwardedProto lets X-Forwarded-Proto decide the transport when
	// Secure is nil.  Only enable this behind a proxy you control.
	TrustForwardedProto bool

	// SameSite is applied to both cookies.  Zero means the attribute is
	// omitted.
	SameSite http.SameSite

	// RefreshMaxAge is the refresh cookie lifetime.  Zero makes it a session
	// cookie.
	RefreshMaxAge time.Duration
}

// DefaultConfig returns a Config with the default cookie names and path.
func DefaultConfig() *Config {
	return &Config{
		AccessTokenName:  DefaultAccessTokenName,
		RefreshTokenName: DefaultRefreshTokenName,
		Path:             DefaultPath,
	}
}

// Validate the Config.  Every problem found is reported.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.AccessTokenName == "" {
		result = multierror.Append(result, fmt.Errorf("%s: access token cookie name is empty: %w", op, ErrInvalidParameter))
	}
	if c.RefreshTokenName == "" {
		result = multierror.Append(result, fmt.Errorf("%s: refresh token cookie name is empty: %w", op, ErrInvalidParameter))
	}
	if c.AccessTokenName != "" && c.AccessTokenName == c.RefreshTokenName {
		result = multierror.Append(result, fmt.Errorf("%s: access and refresh token cookies share the name %q: %w", op, c.AccessTokenName, ErrInvalidParameter))
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		result = multierror.Append(result, fmt.Errorf("%s: path %q must begin with /: %w", op, c.Path, ErrInvalidParameter))
	}
	if c.RefreshMaxAge < 0 {
		result = multierror.Append(result, fmt.Errorf("%s: refresh max age is negative: %w", op, ErrInvalidParameter))
	}
	return result.ErrorOrNil()
}
