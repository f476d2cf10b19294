// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identity

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrNotFound         = errors.New("not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrAccountDisabled  = errors.New("account is not enabled")

	// ErrInvalidCredentials is returned when a username or password is missing.
	// It is raised before any request is made to the identity provider.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAuthenticationFailed is returned when the identity provider rejected
	// the presented credentials or token.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTokenExchange is returned when an assertion could not be exchanged
	// for a session.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrRevocation is only ever logged or attached as a diagnostic; logout
	// never fails because of it.
	ErrRevocation = errors.New("token revocation failed")

	// ErrHook is returned when a pre or post login hook aborted the flow.
	ErrHook = errors.New("hook rejected request")
)

// ProviderError is the error document returned by the identity provider.
type ProviderError struct {
	Status           int    `json:"status"`
	Code             int    `json:"code"`
	Message          string `json:"message"`
	DeveloperMessage string `json:"developerMessage,omitempty"`
	MoreInfo         string `json:"moreInfo,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.DeveloperMessage != "" && e.DeveloperMessage != e.Message {
		return fmt.Sprintf("identity provider error %d (status %d): %s: %s", e.Code, e.Status, e.Message, e.DeveloperMessage)
	}
	return fmt.Sprintf("identity provider error %d (status %d): %s", e.Code, e.Status, e.Message)
}

// Unwrap classifies the provider error so callers can use errors.Is.
func (e *ProviderError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthenticationFailed
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}
