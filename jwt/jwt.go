// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package jwt verifies the signatures and registered claims of compact JWTs
// using local or remote key sets.
package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/jonboulle/clockwork"
)

// DefaultLeeway is used for any leeway left unset in Expected.
const DefaultLeeway = jwt.DefaultLeeway

// Validator validates JSON Web Tokens (JWT) by providing signature
// verification and claims set validation.
type Validator struct {
	keySet              KeySet
	clock               clockwork.Clock
	normalizedAudiences bool
}

// NewValidator returns a Validator that uses the given KeySet to verify JWT signatures.
//
// Supported options:
//   - WithClock
//   - WithNormalizedAudiences
func NewValidator(keySet KeySet, opt ...Option) (*Validator, error) {
	const op = "jwt.NewValidator"
	if keySet == nil {
		return nil, fmt.Errorf("%s: keySet must not be nil: %w", op, ErrInvalidParameter)
	}
	opts := getConfigOpts(opt...)
	return &Validator{
		keySet:              keySet,
		clock:               opts.withClock,
		normalizedAudiences: opts.withNormalizedAudiences,
	}, nil
}

// Clock returns the clock Validate checks time based claims against.
func (v *Validator) Clock() clockwork.Clock {
	return v.clock
}

// Expected defines the expected claims values to assert when validating a JWT.
// For claims that have an empty value, the assertion will be skipped.
type Expected struct {
	// Issuer matches the "iss" claim exactly.
	Issuer string

	// Subject matches the "sub" claim exactly.
	Subject string

	// ID matches the "jti" claim exactly.
	ID string

	// Audiences must contain at least one value of the "aud" claim.
	Audiences []string

	// SigningAlgorithms restricts the "alg" header parameter.
	SigningAlgorithms []Alg

	// RequireExpiry rejects tokens without an "exp" claim.
	RequireExpiry bool

	// NotBeforeLeeway, ExpirationLeeway and ClockSkewLeeway default to
	// DefaultLeeway when zero.  Use a negative value to disable a leeway.
	NotBeforeLeeway  time.Duration
	ExpirationLeeway time.Duration
	ClockSkewLeeway  time.Duration

	// Now overrides the validator's clock for a single validation.
	Now func() time.Time
}

// Validate validates JSON Web Tokens (JWT) by providing signature
// verification and claims set validation.  The claims are returned only when
// every assertion in expected succeeds.
func (v *Validator) Validate(ctx context.Context, token string, expected Expected) (map[string]interface{}, error) {
	const op = "jwt.(Validator).Validate"
	if token == "" {
		return nil, fmt.Errorf("%s: token must not be empty: %w", op, ErrInvalidParameter)
	}

	// Verify the signature first so every subsequent check runs on verified claims
	allClaims, err := v.keySet.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(expected.SigningAlgorithms) > 0 {
		if err := validateSigningAlgorithm(token, expected.SigningAlgorithms); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	now := v.clock.Now()
	if expected.Now != nil {
		now = expected.Now()
	}
	if err := validateTimes(allClaims, now, expected); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if expected.Issuer != "" && stringClaim(allClaims, "iss") != expected.Issuer {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidIssuer)
	}
	if expected.Subject != "" && stringClaim(allClaims, "sub") != expected.Subject {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidSubject)
	}
	if expected.ID != "" && stringClaim(allClaims, "jti") != expected.ID {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidID)
	}
	if len(expected.Audiences) > 0 {
		if err := v.validateAudience(expected.Audiences, audienceClaim(allClaims)); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return allClaims, nil
}

func validateTimes(claims map[string]interface{}, now time.Time, expected Expected) error {
	exp, hasExp := numericClaim(claims, "exp")
	nbf, hasNbf := numericClaim(claims, "nbf")
	iat, hasIat := numericClaim(claims, "iat")

	if !hasExp && !hasNbf && !hasIat {
		return ErrMissingClaims
	}
	if !hasExp && expected.RequireExpiry {
		return fmt.Errorf("%w: exp is required", ErrMissingClaims)
	}

	expLeeway := leeway(expected.ExpirationLeeway)
	nbfLeeway := leeway(expected.NotBeforeLeeway)
	skewLeeway := leeway(expected.ClockSkewLeeway)

	if hasExp && now.Add(-expLeeway).After(exp) {
		return ErrExpired
	}
	if hasNbf && now.Add(nbfLeeway).Before(nbf) {
		return ErrNotYetValid
	}
	if hasIat && now.Add(skewLeeway).Before(iat) {
		return ErrIssuedInTheFuture
	}
	return nil
}

// ExpiryLeeway returns the leeway Validate allows past the "exp" claim.
func (e Expected) ExpiryLeeway() time.Duration {
	return leeway(e.ExpirationLeeway)
}

func leeway(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultLeeway
	case d < 0:
		return 0
	default:
		return d
	}
}

func (v *Validator) validateAudience(expected, actual []string) error {
	if v.normalizedAudiences {
		normalized := make([]string, 0, len(expected))
		for _, e := range expected {
			normalized = append(normalized, strings.TrimSuffix(e, "/"))
		}
		expected = normalized
	}
	for _, a := range actual {
		if v.normalizedAudiences {
			a = strings.TrimSuffix(a, "/")
		}
		if slices.Contains(expected, a) {
			return nil
		}
	}
	return ErrInvalidAudience
}

func validateSigningAlgorithm(token string, expectedAlgorithms []Alg) error {
	if err := SupportedSigningAlgorithm(expectedAlgorithms...); err != nil {
		return err
	}
	h, err := ParseHeaders(token)
	if err != nil {
		return err
	}
	for _, a := range expectedAlgorithms {
		if string(a) == h.Algorithm {
			return nil
		}
	}
	return fmt.Errorf("%w: token signed with %q", ErrInvalidAlgorithm, h.Algorithm)
}

// Headers are the JOSE header parameters of a compact JWT.
type Headers struct {
	Algorithm string
	KeyID     string
	Extra     map[string]interface{}
}

// ExtraString returns the named non-registered header when it is a string.
func (h *Headers) ExtraString(name string) string {
	if h == nil {
		return ""
	}
	s, _ := h.Extra[name].(string)
	return s
}

// ParseHeaders returns the JOSE headers of a token WITHOUT verifying its
// signature.  Callers must not make trust decisions based on the result.
func ParseHeaders(token string) (*Headers, error) {
	const op = "jwt.ParseHeaders"
	parsed, err := jwt.ParseSigned(token, joseAlgorithms(allAlgorithms))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidParameter, err)
	}
	if len(parsed.Headers) == 0 {
		return nil, fmt.Errorf("%s: token has no headers: %w", op, ErrInvalidParameter)
	}
	h := parsed.Headers[0]
	out := &Headers{
		Algorithm: h.Algorithm,
		KeyID:     h.KeyID,
		Extra:     make(map[string]interface{}, len(h.ExtraHeaders)),
	}
	for k, v := range h.ExtraHeaders {
		out.Extra[string(k)] = v
	}
	return out, nil
}

// UnverifiedClaims returns the claims of a token WITHOUT verifying its
// signature.  It is only suitable for tokens received directly from a
// trusted party over TLS.
func UnverifiedClaims(token string) (map[string]interface{}, error) {
	const op = "jwt.UnverifiedClaims"
	parsed, err := jwt.ParseSigned(token, joseAlgorithms(allAlgorithms))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrInvalidParameter, err)
	}
	claims := map[string]interface{}{}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

func stringClaim(claims map[string]interface{}, name string) string {
	s, _ := claims[name].(string)
	return s
}

// StringClaim returns the named claim when it is a string.
func StringClaim(claims map[string]interface{}, name string) string {
	return stringClaim(claims, name)
}

// TimeClaim returns the named NumericDate claim, ie: "exp" or "iat".
func TimeClaim(claims map[string]interface{}, name string) (time.Time, bool) {
	return numericClaim(claims, name)
}

func numericClaim(claims map[string]interface{}, name string) (time.Time, bool) {
	var secs float64
	switch v := claims[name].(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

func audienceClaim(claims map[string]interface{}) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}
