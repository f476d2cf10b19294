// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/jwt"
)

const (
	// MaxAssertionTTL is the longest an assertion may live.
	MaxAssertionTTL = 60 * time.Second

	// minSecretLength is the shortest secret accepted for HS256.
	minSecretLength = 32
)

// Config configures a Manager.
type Config struct {
	// ApplicationHref identifies the application to the identity provider.
	// It is the issuer of every assertion.
	ApplicationHref string

	// ClientID is the application's API key id and the audience of every
	// assertion.
	ClientID string

	// AssertionSecret is the application's API key secret.  Assertions are
	// signed with it.
	AssertionSecret identity.ClientSecret

	// AssertionTTL is the lifetime of an assertion.  Zero means
	// MaxAssertionTTL.
	AssertionTTL time.Duration

	// TokenKeySet verifies the signatures of session tokens when they are
	// revoked.  Defaults to an HMAC key set over AssertionSecret.
	TokenKeySet jwt.KeySet
}

// Validate the Config.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, identity.ErrNilParameter)
	}
	var result *multierror.Error
	if c.ApplicationHref == "" {
		result = multierror.Append(result, fmt.Errorf("%s: application href is empty: %w", op, identity.ErrInvalidParameter))
	}
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client id is empty: %w", op, identity.ErrInvalidParameter))
	}
	if len(c.AssertionSecret) < minSecretLength {
		result = multierror.Append(result, fmt.Errorf("%s: assertion secret must be at least %d bytes: %w", op, minSecretLength, identity.ErrInvalidParameter))
	}
	if c.AssertionTTL < 0 || c.AssertionTTL > MaxAssertionTTL {
		result = multierror.Append(result, fmt.Errorf("%s: assertion ttl %s is not within (0, %s]: %w", op, c.AssertionTTL, MaxAssertionTTL, identity.ErrInvalidParameter))
	}
	return result.ErrorOrNil()
}
