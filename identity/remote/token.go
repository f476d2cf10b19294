// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/internal/httpclient"
	"github.com/hashicorp/capsession/jwt"
)

const (
	grantPassword          = "password"
	grantRefreshToken      = "refresh_token"
	grantAssertion         = "stormpath_token"
	grantClientCredentials = "client_credentials"

	// codeInvalidAccountStore is the provider's code for an unknown account
	// store or organization.
	codeInvalidAccountStore = 2014
)

func (c *Client) tokenURL() string {
	return c.cfg.ApplicationHref + "/oauth/token"
}

// AuthenticateByPassword performs a password grant.  An OrganizationNameKey
// is resolved to an account store href through a TTL cache.
func (c *Client) AuthenticateByPassword(ctx context.Context, creds identity.PasswordCredentials) (*identity.AuthenticationResult, error) {
	const op = "remote.(Client).AuthenticateByPassword"
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("%s: username and password are required: %w", op, identity.ErrInvalidCredentials)
	}
	params := url.Values{
		"grant_type": {grantPassword},
		"username":   {creds.Username},
		"password":   {creds.Password},
	}
	store := creds.AccountStore
	if store == "" && creds.OrganizationNameKey != "" {
		href, err := c.organizationHref(ctx, creds.OrganizationNameKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		store = href
	}
	if store != "" {
		params.Set("accountStore", store)
	}
	res, err := c.grant(ctx, "password_grant", c.cfg.APIKeyID, string(c.cfg.APIKeySecret), params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// AuthenticateByRefreshToken performs a refresh grant.
func (c *Client) AuthenticateByRefreshToken(ctx context.Context, t identity.RefreshToken) (res *identity.AuthenticationResult, retErr error) {
	const op = "remote.(Client).AuthenticateByRefreshToken"
	if t == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, identity.ErrInvalidParameter)
	}
	start := time.Now()
	defer func() { c.metrics.ProviderRequest("refresh_grant", start, retErr) }()

	cfg := &oauth2.Config{
		ClientID:     c.cfg.APIKeyID,
		ClientSecret: string(c.cfg.APIKeySecret),
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL(),
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	tok, err := cfg.TokenSource(httpclient.Context(ctx, c.httpClient), &oauth2.Token{RefreshToken: string(t)}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, convertError(err))
	}
	res, err = c.result(tok)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// AuthenticateByAssertion exchanges a signed assertion for tokens.
func (c *Client) AuthenticateByAssertion(ctx context.Context, assertion string) (*identity.AuthenticationResult, error) {
	const op = "remote.(Client).AuthenticateByAssertion"
	if assertion == "" {
		return nil, fmt.Errorf("%s: assertion is empty: %w", op, identity.ErrInvalidParameter)
	}
	params := url.Values{
		"grant_type": {grantAssertion},
		"token":      {assertion},
	}
	res, err := c.grant(ctx, "assertion_grant", c.cfg.APIKeyID, string(c.cfg.APIKeySecret), params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// AuthenticateAPIRequest exchanges the API key in the request's Basic
// authorization header for an access token with a client credentials grant.
func (c *Client) AuthenticateAPIRequest(ctx context.Context, r *http.Request) (*identity.AuthenticationResult, error) {
	const op = "remote.(Client).AuthenticateAPIRequest"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, identity.ErrNilParameter)
	}
	id, secret, ok := r.BasicAuth()
	if !ok || id == "" || secret == "" {
		return nil, fmt.Errorf("%s: missing api key: %w", op, identity.ErrInvalidCredentials)
	}
	res, err := c.grant(ctx, "client_credentials_grant", id, secret, url.Values{"grant_type": {grantClientCredentials}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// VerifyAccessToken verifies an access token.  ValidateLocal checks the
// signature, issuer, expiry and token type with the configured KeySet.
// ValidateRemote asks the provider, which also rejects revoked tokens.
func (c *Client) VerifyAccessToken(ctx context.Context, t identity.AccessToken, s identity.ValidationStrategy) (*identity.AuthenticationResult, error) {
	const op = "remote.(Client).VerifyAccessToken"
	if t == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, identity.ErrInvalidParameter)
	}
	switch s {
	case identity.ValidateLocal:
		res, err := c.verifyLocal(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return res, nil
	case identity.ValidateRemote:
		res, err := c.verifyRemote(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return res, nil
	default:
		return nil, fmt.Errorf("%s: unknown validation strategy %d: %w", op, s, identity.ErrInvalidParameter)
	}
}

func (c *Client) verifyLocal(ctx context.Context, t identity.AccessToken) (*identity.AuthenticationResult, error) {
	claims, err := c.validator.Validate(ctx, string(t), jwt.Expected{
		Issuer:            c.cfg.ApplicationHref,
		SigningAlgorithms: c.cfg.SigningAlgorithms,
		RequireExpiry:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrInvalidToken, err)
	}
	h, err := jwt.ParseHeaders(string(t))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrInvalidToken, err)
	}
	if typ := h.ExtraString("stt"); typ != string(identity.TokenTypeAccess) {
		return nil, fmt.Errorf("token type %q is not an access token: %w", typ, identity.ErrInvalidToken)
	}
	return c.claimsResult(t, claims)
}

func (c *Client) verifyRemote(ctx context.Context, t identity.AccessToken) (*identity.AuthenticationResult, error) {
	var out struct {
		Account struct {
			Href string `json:"href"`
		} `json:"account"`
		ExpandedJWT struct {
			Claims map[string]interface{} `json:"claims"`
		} `json:"expandedJwt"`
	}
	href := c.cfg.ApplicationHref + "/authTokens/" + url.PathEscape(string(t))
	if err := c.do(ctx, "verify_access_token", http.MethodGet, href, nil, &out); err != nil {
		return nil, err
	}
	claims := out.ExpandedJWT.Claims
	if claims == nil {
		claims = map[string]interface{}{}
	}
	if out.Account.Href != "" {
		claims["sub"] = out.Account.Href
	}
	return c.claimsResult(t, claims)
}

func (c *Client) claimsResult(t identity.AccessToken, claims map[string]interface{}) (*identity.AuthenticationResult, error) {
	res := &identity.AuthenticationResult{
		AccessToken:   t,
		TokenType:     "Bearer",
		AccountHref:   jwt.StringClaim(claims, "sub"),
		GrantedScopes: scopes(claims["scope"]),
	}
	if res.AccountHref == "" {
		return nil, fmt.Errorf("token has no subject: %w", identity.ErrInvalidToken)
	}
	res.ExpiresIn = c.secondsUntilExpiry(claims)
	return res, nil
}

// secondsUntilExpiry returns the whole seconds left before the "exp" claim,
// or zero when the claim is missing or past.
func (c *Client) secondsUntilExpiry(claims map[string]interface{}) int {
	exp, ok := jwt.TimeClaim(claims, "exp")
	if !ok {
		return 0
	}
	if secs := int(exp.Sub(c.clock.Now()).Seconds()); secs > 0 {
		return secs
	}
	return 0
}

// grant posts params to the token endpoint authenticated as id and secret.
// The client credentials config is used for every grant type since it lets
// the grant_type parameter be overridden.
func (c *Client) grant(ctx context.Context, opName, id, secret string, params url.Values) (res *identity.AuthenticationResult, retErr error) {
	start := time.Now()
	defer func() { c.metrics.ProviderRequest(opName, start, retErr) }()

	cfg := &clientcredentials.Config{
		ClientID:       id,
		ClientSecret:   secret,
		TokenURL:       c.tokenURL(),
		EndpointParams: params,
		AuthStyle:      oauth2.AuthStyleInHeader,
	}
	c.logger.Trace("token grant", "op", opName, "grant_type", params.Get("grant_type"))
	tok, err := cfg.Token(httpclient.Context(ctx, c.httpClient))
	if err != nil {
		return nil, convertError(err)
	}
	return c.result(tok)
}

// result converts a token response.  The tokens were received directly from
// the provider over TLS, so the account href is read from the access token's
// subject without verifying its signature.
func (c *Client) result(tok *oauth2.Token) (*identity.AuthenticationResult, error) {
	res := &identity.AuthenticationResult{
		AccessToken:   identity.AccessToken(tok.AccessToken),
		RefreshToken:  identity.RefreshToken(tok.RefreshToken),
		TokenType:     tok.TokenType,
		GrantedScopes: scopes(tok.Extra("scope")),
	}
	claims, err := jwt.UnverifiedClaims(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("unable to read access token: %w: %w", identity.ErrInvalidToken, err)
	}
	if res.AccountHref = jwt.StringClaim(claims, "sub"); res.AccountHref == "" {
		return nil, fmt.Errorf("access token has no subject: %w", identity.ErrInvalidToken)
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		res.ExpiresIn = int(v)
	case string:
		if secs, err := strconv.Atoi(v); err == nil {
			res.ExpiresIn = secs
		}
	}
	if res.ExpiresIn <= 0 {
		res.ExpiresIn = c.secondsUntilExpiry(claims)
	}
	return res, nil
}

// convertError turns an oauth2 token endpoint failure into the provider's
// error document.
func convertError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("unable to reach identity provider: %w", err)
	}
	status := http.StatusBadRequest
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	return decodeProviderError(status, re.Body)
}
