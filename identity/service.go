// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package identity defines the contract between this module and the remote
// identity provider, together with the account and token types that flow
// across it.
package identity

import (
	"context"
	"net/http"

	"github.com/hashicorp/capsession/expand"
)

// ValidationStrategy selects how access tokens are verified.
//
// ValidateLocal checks the signature and expiry with a locally held key and
// never leaves the process; it cannot observe a revocation until the token
// expires.  ValidateRemote asks the identity provider on every request, which
// sees revocations immediately at the cost of a network round trip.
type ValidationStrategy int

const (
	ValidateLocal ValidationStrategy = iota
	ValidateRemote
)

func (s ValidationStrategy) String() string {
	switch s {
	case ValidateLocal:
		return "local"
	case ValidateRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// PasswordCredentials are the inputs to a password grant.  AccountStore and
// OrganizationNameKey are optional and narrow the lookup to a single store.
type PasswordCredentials struct {
	Username            string
	Password            string
	AccountStore        string
	OrganizationNameKey string
}

// Service is the remote identity provider.  Every method may block on a
// network round trip.
type Service interface {
	// AuthenticateByPassword performs a password grant.
	AuthenticateByPassword(ctx context.Context, c PasswordCredentials) (*AuthenticationResult, error)

	// AuthenticateByRefreshToken performs a refresh grant.
	AuthenticateByRefreshToken(ctx context.Context, t RefreshToken) (*AuthenticationResult, error)

	// VerifyAccessToken verifies t with the given strategy.
	VerifyAccessToken(ctx context.Context, t AccessToken, s ValidationStrategy) (*AuthenticationResult, error)

	// AuthenticateAPIRequest authenticates the API key presented in the
	// request's Basic authorization header.
	AuthenticateAPIRequest(ctx context.Context, r *http.Request) (*AuthenticationResult, error)

	// AuthenticateByAssertion exchanges a signed assertion for tokens.
	AuthenticateByAssertion(ctx context.Context, assertion string) (*AuthenticationResult, error)

	// GetAccount fetches an account and the requested sub-resources.
	GetAccount(ctx context.Context, href string, req expand.Request) (*Account, error)

	// ListTokens returns the account's tokens of type t whose jti matches.
	ListTokens(ctx context.Context, accountHref string, t TokenType, jti string) ([]TokenResource, error)

	// DeleteToken deletes a token resource.  Deleting a missing token is not
	// an error.
	DeleteToken(ctx context.Context, href string) error
}
