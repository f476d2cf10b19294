// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidAlgorithm  = errors.New("invalid signing algorithm")
	ErrMissingClaims     = errors.New("missing time based claims")
	ErrExpired           = errors.New("token is expired")
	ErrNotYetValid       = errors.New("token is not yet valid")
	ErrIssuedInTheFuture = errors.New("token issued in the future")
	ErrInvalidIssuer     = errors.New("invalid issuer")
	ErrInvalidSubject    = errors.New("invalid subject")
	ErrInvalidID         = errors.New("invalid jwt id")
	ErrInvalidAudience   = errors.New("invalid audience")
)
