// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/internal/httpclient"
	"github.com/hashicorp/capsession/jwt"
)

// Config is the configuration for a Client.
type Config struct {
	// ApplicationHref is the href of the application registered with the
	// identity provider, ie: https://api.example.com/v1/applications/abc
	ApplicationHref string

	// APIKeyID and APIKeySecret authenticate every request.  The secret also
	// signs the tokens the provider issues for the application.
	APIKeyID     string
	APIKeySecret identity.ClientSecret

	// ProviderCA is an optional PEM encoded CA used to verify the provider's
	// TLS certificate.  The system roots are used when empty.
	ProviderCA string

	// Timeout bounds each request.  Zero uses httpclient.DefaultTimeout.
	Timeout time.Duration

	// KeySet verifies access tokens under identity.ValidateLocal.  It
	// defaults to an HMAC key set over APIKeySecret.
	KeySet jwt.KeySet

	// SigningAlgorithms restricts locally validated tokens.  Defaults to HS256.
	SigningAlgorithms []jwt.Alg

	// OrganizationCacheTTL bounds how long organization name keys stay
	// cached.  Zero uses cache.DefaultTTL.
	OrganizationCacheTTL time.Duration
}

// Validate the Config.  Every problem found is reported.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, identity.ErrNilParameter)
	}
	var result *multierror.Error
	u, err := url.Parse(c.ApplicationHref)
	switch {
	case c.ApplicationHref == "":
		result = multierror.Append(result, fmt.Errorf("%s: application href is empty: %w", op, identity.ErrInvalidParameter))
	case err != nil:
		result = multierror.Append(result, fmt.Errorf("%s: application href is invalid: %w", op, err))
	case (u.Scheme != "https" && u.Scheme != "http") || u.Host == "":
		result = multierror.Append(result, fmt.Errorf("%s: application href %q must be an absolute http(s) URL: %w", op, c.ApplicationHref, identity.ErrInvalidParameter))
	}
	if c.APIKeyID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: api key id is empty: %w", op, identity.ErrInvalidParameter))
	}
	if c.APIKeySecret == "" {
		result = multierror.Append(result, fmt.Errorf("%s: api key secret is empty: %w", op, identity.ErrInvalidParameter))
	}
	if c.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("%s: timeout is negative: %w", op, identity.ErrInvalidParameter))
	}
	if len(c.SigningAlgorithms) > 0 {
		if err := jwt.SupportedSigningAlgorithm(c.SigningAlgorithms...); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", op, err))
		}
	}
	if c.ProviderCA != "" {
		if _, err := httpclient.New(c.ProviderCA, 0); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: provider CA: %w", op, err))
		}
	}
	return result.ErrorOrNil()
}
