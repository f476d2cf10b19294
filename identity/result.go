// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/capsession/expand"
)

// AuthenticationResult is the outcome of a successful credential check.  It is
// never persisted; callers turn it into cookies and discard it.
type AuthenticationResult struct {
	AccessToken  AccessToken  `json:"access_token,omitempty"`
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in,omitempty"`

	GrantedScopes []string `json:"scope,omitempty"`

	// AccountHref references the authenticated account.  Use Account to fetch
	// it.
	AccountHref string `json:"account_href"`
}

// Expiry returns the access token's expiration relative to now.  The zero time
// is returned when the lifetime is unknown.
func (r *AuthenticationResult) Expiry(now time.Time) time.Time {
	if r == nil || r.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(r.ExpiresIn) * time.Second)
}

// Account fetches the account the result refers to.
func (r *AuthenticationResult) Account(ctx context.Context, svc Service, req expand.Request) (*Account, error) {
	const op = "AuthenticationResult.Account"
	if r == nil {
		return nil, fmt.Errorf("%s: result is nil: %w", op, ErrNilParameter)
	}
	if svc == nil {
		return nil, fmt.Errorf("%s: service is nil: %w", op, ErrNilParameter)
	}
	if r.AccountHref == "" {
		return nil, fmt.Errorf("%s: result has no account: %w", op, ErrInvalidParameter)
	}
	a, err := svc.GetAccount(ctx, r.AccountHref, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// HasScope reports whether scope was granted.
func (r *AuthenticationResult) HasScope(scope string) bool {
	if r == nil {
		return false
	}
	for _, s := range r.GrantedScopes {
		if s == scope {
			return true
		}
	}
	return false
}
