// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package identitytest provides an in-memory identity provider for tests.
//
// Provider implements identity.Service directly, and can also serve the
// provider's REST protocol from an httptest TLS server (see WithServer) so
// HTTP clients can be exercised end to end.  Both views share one store.
package identitytest

import (
	"bytes"
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/internal/strutils"
	"github.com/hashicorp/capsession/jwt"
)

const (
	// DefaultOrigin roots every href when no server is running.
	DefaultOrigin = "https://api.idp.test"

	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 24 * time.Hour

	applicationPath = "/v1/applications/testapp"
)

// Operation names accepted by SetError and Calls.
const (
	OpAuthenticateByPassword     = "AuthenticateByPassword"
	OpAuthenticateByRefreshToken = "AuthenticateByRefreshToken"
	OpVerifyAccessToken          = "VerifyAccessToken"
	OpAuthenticateAPIRequest     = "AuthenticateAPIRequest"
	OpAuthenticateByAssertion    = "AuthenticateByAssertion"
	OpGetAccount                 = "GetAccount"
	OpListTokens                 = "ListTokens"
	OpDeleteToken                = "DeleteToken"
)

// Provider error codes.
const (
	CodeInvalidLogin      = 7100
	CodeAccountDisabled   = 7101
	CodeAccountUnverified = 7102
	CodeNotInAccountStore = 7104
	CodeInvalidStore      = 2014
	CodeInvalidToken      = 10017
	CodeExpiredToken      = 10011
	CodeInvalidAPIKey     = 401
	CodeNotFound          = 404
)

type accountRecord struct {
	account  identity.Account
	password string
	stores   map[string]struct{}
}

type tokenRecord struct {
	href        string
	jti         string
	typ         identity.TokenType
	accountHref string
}

type apiKeyRecord struct {
	secret      string
	accountHref string
}

// Provider is an in-memory identity provider.
type Provider struct {
	t testing.TB

	httpServer *httptest.Server
	caCert     string

	clientID  string
	secret    string
	validator *jwt.Validator
	keySet    jwt.KeySet

	clock      clockwork.Clock
	accessTTL  time.Duration
	refreshTTL time.Duration
	scopes     []string

	mu       sync.Mutex
	origin   string
	accounts map[string]*accountRecord
	logins   map[string]string
	tokens   map[string]*tokenRecord
	apiKeys  map[string]*apiKeyRecord
	orgs     map[string]string
	errs     map[string]error
	calls    map[string]int
}

var _ identity.Service = (*Provider)(nil)

// New creates a Provider.  Supported options: WithClock, WithAccessTokenTTL,
// WithRefreshTokenTTL, WithScopes, WithServer
func New(t testing.TB, opt ...Option) *Provider {
	t.Helper()
	require := require.New(t)
	opts := getProviderOpts(opt...)

	id, err := uuid.GenerateUUID()
	require.NoError(err)
	secret, err := uuid.GenerateUUID()
	require.NoError(err)

	p := &Provider{
		t:          t,
		clientID:   strings.ToUpper(strings.ReplaceAll(id, "-", ""))[:20],
		secret:     secret + secret,
		clock:      opts.withClock,
		accessTTL:  opts.withAccessTokenTTL,
		refreshTTL: opts.withRefreshTokenTTL,
		scopes:     opts.withScopes,
		origin:     DefaultOrigin,
		accounts:   map[string]*accountRecord{},
		logins:     map[string]string{},
		tokens:     map[string]*tokenRecord{},
		apiKeys:    map[string]*apiKeyRecord{},
		orgs:       map[string]string{},
		errs:       map[string]error{},
		calls:      map[string]int{},
	}
	p.keySet, err = jwt.NewHMACKeySet(p.secret)
	require.NoError(err)
	p.validator, err = jwt.NewValidator(p.keySet, jwt.WithClock(p.clock))
	require.NoError(err)

	if opts.withServer {
		p.httpServer = httptest.NewUnstartedServer(p.handler())
		p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
		p.httpServer.StartTLS()
		t.Cleanup(p.httpServer.Close)

		var buf bytes.Buffer
		require.NoError(pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw}))
		p.caCert = buf.String()
		p.origin = p.httpServer.URL
	}
	return p
}

// Origin is the scheme and host every href is rooted at.
func (p *Provider) Origin() string { return p.origin }

// CACert returns the PEM encoded certificate of the TLS server, if one is
// running.
func (p *Provider) CACert() string { return p.caCert }

// ApplicationHref is the href of the application tokens are issued for.
func (p *Provider) ApplicationHref() string { return p.origin + applicationPath }

// ClientID is the application's API key id.
func (p *Provider) ClientID() string { return p.clientID }

// Secret is the application's API key secret.  Tokens are signed with it.
func (p *Provider) Secret() identity.ClientSecret { return identity.ClientSecret(p.secret) }

// KeySet verifies tokens issued by the provider.
func (p *Provider) KeySet() jwt.KeySet { return p.keySet }

// AddAccount stores a copy of a with the given password and returns the
// stored account.  Href, Status, Directory and Tenant are defaulted when
// empty.
func (p *Provider) AddAccount(a identity.Account, password string) *identity.Account {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	if a.Href == "" {
		a.Href = p.origin + "/v1/accounts/" + p.newID()
	}
	if a.Status == "" {
		a.Status = identity.StatusEnabled
	}
	if a.Directory == nil {
		a.Directory = &identity.Directory{Href: p.origin + "/v1/directories/default", Name: "default"}
	}
	if a.Tenant == nil {
		a.Tenant = &identity.Tenant{Href: p.origin + "/v1/tenants/test", Key: "test"}
	}
	groups := make([]identity.Group, 0, len(a.Groups))
	for _, g := range a.Groups {
		if g.Href == "" {
			g.Href = p.origin + "/v1/groups/" + g.Name
		}
		if g.Status == "" {
			g.Status = string(identity.StatusEnabled)
		}
		groups = append(groups, g)
	}
	a.Groups = groups

	rec := &accountRecord{
		account:  a,
		password: password,
		stores:   map[string]struct{}{a.Directory.Href: {}},
	}
	p.accounts[a.Href] = rec
	for _, login := range []string{a.Username, a.Email} {
		if login != "" {
			p.logins[strings.ToLower(login)] = a.Href
		}
	}
	return copyAccount(&rec.account, fullExpansion())
}

// SetAccountStatus changes the status of a stored account.
func (p *Provider) SetAccountStatus(href string, s identity.AccountStatus) {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.accounts[href]
	require.True(p.t, ok, "unknown account %s", href)
	rec.account.Status = s
}

// AddOrganization creates an organization account store containing the given
// accounts and returns its href.
func (p *Provider) AddOrganization(nameKey string, accountHrefs ...string) string {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	href := p.origin + "/v1/organizations/" + p.newID()
	p.orgs[nameKey] = href
	for _, a := range accountHrefs {
		rec, ok := p.accounts[a]
		require.True(p.t, ok, "unknown account %s", a)
		rec.stores[href] = struct{}{}
	}
	return href
}

// AddAPIKey creates an API key for an account.
func (p *Provider) AddAPIKey(accountHref string) (id, secret string) {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.accounts[accountHref]
	require.True(p.t, ok, "unknown account %s", accountHref)
	id = strings.ToUpper(p.newID()[:12])
	secret = p.newID()
	p.apiKeys[id] = &apiKeyRecord{secret: secret, accountHref: accountHref}
	return id, secret
}

// IssueTokens mints an access and refresh token pair for an account without
// checking its status.
func (p *Provider) IssueTokens(accountHref string) *identity.AuthenticationResult {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := p.issueLocked(accountHref, true)
	require.NoError(p.t, err)
	return res
}

// SignToken signs claims with the provider's secret and the given token type
// header.  It allows tests to craft tokens the provider would never issue.
func (p *Provider) SignToken(typ identity.TokenType, claims map[string]interface{}) string {
	p.t.Helper()
	tok, err := p.sign(typ, claims)
	require.NoError(p.t, err)
	return tok
}

// SetError makes every subsequent call of op fail with err.  A nil err
// clears it.
func (p *Provider) SetError(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// TokenCount returns how many live tokens of type typ an account has.
func (p *Provider) TokenCount(accountHref string, typ identity.TokenType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, tr := range p.tokens {
		if tr.accountHref == accountHref && tr.typ == typ {
			n++
		}
	}
	return n
}

// AuthenticateByPassword performs a password grant.
func (p *Provider) AuthenticateByPassword(_ context.Context, c identity.PasswordCredentials) (*identity.AuthenticationResult, error) {
	if err := p.enter(OpAuthenticateByPassword); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	href, ok := p.logins[strings.ToLower(c.Username)]
	if !ok {
		return nil, invalidLogin()
	}
	rec := p.accounts[href]
	if rec.password != c.Password {
		return nil, invalidLogin()
	}

	store := c.AccountStore
	if store == "" && c.OrganizationNameKey != "" {
		if store, ok = p.orgs[c.OrganizationNameKey]; !ok {
			return nil, &identity.ProviderError{Status: http.StatusBadRequest, Code: CodeInvalidStore, Message: "Invalid account store."}
		}
	}
	if store != "" {
		if _, ok := rec.stores[store]; !ok {
			return nil, &identity.ProviderError{
				Status:  http.StatusBadRequest,
				Code:    CodeNotInAccountStore,
				Message: "Login attempt failed because there is no Account in the Application's associated Account Stores with the specified username or email.",
			}
		}
	}
	if err := statusError(rec.account.Status); err != nil {
		return nil, err
	}
	return p.issueLocked(href, true)
}

// AuthenticateByRefreshToken performs a refresh grant.  The refresh token is
// returned unchanged alongside a new access token.
func (p *Provider) AuthenticateByRefreshToken(ctx context.Context, t identity.RefreshToken) (*identity.AuthenticationResult, error) {
	if err := p.enter(OpAuthenticateByRefreshToken); err != nil {
		return nil, err
	}
	claims, err := p.verify(ctx, string(t), identity.TokenTypeRefresh, true)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	href := jwt.StringClaim(claims, "sub")
	rec, ok := p.accounts[href]
	if !ok {
		return nil, invalidToken()
	}
	if err := statusError(rec.account.Status); err != nil {
		return nil, err
	}
	res, err := p.issueLocked(href, false)
	if err != nil {
		return nil, err
	}
	res.RefreshToken = t
	return res, nil
}

// VerifyAccessToken verifies an access token.  ValidateLocal only checks the
// signature and expiry; ValidateRemote also rejects revoked tokens.
func (p *Provider) VerifyAccessToken(ctx context.Context, t identity.AccessToken, s identity.ValidationStrategy) (*identity.AuthenticationResult, error) {
	if err := p.enter(OpVerifyAccessToken); err != nil {
		return nil, err
	}
	claims, err := p.verify(ctx, string(t), identity.TokenTypeAccess, s == identity.ValidateRemote)
	if err != nil {
		return nil, err
	}
	res := &identity.AuthenticationResult{
		AccessToken:   t,
		TokenType:     "Bearer",
		AccountHref:   jwt.StringClaim(claims, "sub"),
		GrantedScopes: strutils.SplitScope(jwt.StringClaim(claims, "scope")),
	}
	if exp, ok := jwt.TimeClaim(claims, "exp"); ok {
		res.ExpiresIn = int(exp.Sub(p.clock.Now()).Seconds())
	}
	return res, nil
}

// AuthenticateAPIRequest authenticates the API key in r's Basic
// authorization header.
func (p *Provider) AuthenticateAPIRequest(_ context.Context, r *http.Request) (*identity.AuthenticationResult, error) {
	if err := p.enter(OpAuthenticateAPIRequest); err != nil {
		return nil, err
	}
	href, err := p.apiKeyAccount(r)
	if err != nil {
		return nil, err
	}
	return &identity.AuthenticationResult{TokenType: "Basic", AccountHref: href}, nil
}

// AuthenticateByAssertion exchanges a signed assertion for tokens.  The
// assertion must be signed with the application secret, issued by the
// application and addressed to the application's API key id.
func (p *Provider) AuthenticateByAssertion(ctx context.Context, assertion string) (*identity.AuthenticationResult, error) {
	if err := p.enter(OpAuthenticateByAssertion); err != nil {
		return nil, err
	}
	claims, err := p.validator.Validate(ctx, assertion, jwt.Expected{
		Issuer:            p.ApplicationHref(),
		Audiences:         []string{p.clientID},
		SigningAlgorithms: []jwt.Alg{jwt.HS256},
		RequireExpiry:     true,
	})
	if err != nil {
		return nil, tokenError(err)
	}
	switch jwt.StringClaim(claims, "status") {
	case "AUTHENTICATED", "REGISTERED":
	default:
		return nil, invalidToken()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	href := jwt.StringClaim(claims, "sub")
	rec, ok := p.accounts[href]
	if !ok {
		return nil, invalidToken()
	}
	if err := statusError(rec.account.Status); err != nil {
		return nil, err
	}
	return p.issueLocked(href, true)
}

// GetAccount returns a copy of the account with the requested expansions.
func (p *Provider) GetAccount(_ context.Context, href string, req expand.Request) (*identity.Account, error) {
	if err := p.enter(OpGetAccount); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.accounts[href]
	if !ok {
		return nil, notFound()
	}
	return copyAccount(&rec.account, req), nil
}

// ListTokens returns the account's live tokens of type typ whose id is jti.
// An empty jti matches every token.
func (p *Provider) ListTokens(_ context.Context, accountHref string, typ identity.TokenType, jti string) ([]identity.TokenResource, error) {
	if err := p.enter(OpListTokens); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[accountHref]; !ok {
		return nil, notFound()
	}
	var out []identity.TokenResource
	for _, tr := range p.tokens {
		if tr.accountHref != accountHref || tr.typ != typ {
			continue
		}
		if jti != "" && tr.jti != jti {
			continue
		}
		out = append(out, identity.TokenResource{Href: tr.href, ID: tr.jti, Type: tr.typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Href < out[j].Href })
	return out, nil
}

// DeleteToken deletes a token resource.  Unknown tokens are ignored.
func (p *Provider) DeleteToken(_ context.Context, href string) error {
	if err := p.enter(OpDeleteToken); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, href)
	return nil
}

func (p *Provider) enter(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	return p.errs[op]
}

// newID returns a random hex id.
func (p *Provider) newID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		panic(fmt.Sprintf("identitytest: unable to generate id: %s", err))
	}
	return strings.ReplaceAll(id, "-", "")
}

func (p *Provider) apiKeyAccount(r *http.Request) (string, error) {
	id, secret, ok := r.BasicAuth()
	if !ok {
		return "", &identity.ProviderError{Status: http.StatusUnauthorized, Code: CodeInvalidAPIKey, Message: "Authentication required."}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.apiKeys[id]
	if !ok || key.secret != secret {
		return "", &identity.ProviderError{Status: http.StatusUnauthorized, Code: CodeInvalidAPIKey, Message: "Invalid API key."}
	}
	rec := p.accounts[key.accountHref]
	if err := statusError(rec.account.Status); err != nil {
		return "", err
	}
	return key.accountHref, nil
}

// issueLocked mints tokens for an account.  mu must be held.
func (p *Provider) issueLocked(accountHref string, withRefresh bool) (*identity.AuthenticationResult, error) {
	now := p.clock.Now()
	res := &identity.AuthenticationResult{
		TokenType:     "Bearer",
		ExpiresIn:     int(p.accessTTL.Seconds()),
		GrantedScopes: append([]string(nil), p.scopes...),
		AccountHref:   accountHref,
	}

	access := map[string]interface{}{
		"jti": p.newID(),
		"iat": now.Unix(),
		"iss": p.ApplicationHref(),
		"sub": accountHref,
		"exp": now.Add(p.accessTTL).Unix(),
	}
	if len(p.scopes) > 0 {
		access["scope"] = strings.Join(p.scopes, " ")
	}

	if withRefresh {
		rjti := p.newID()
		rt, err := p.sign(identity.TokenTypeRefresh, map[string]interface{}{
			"jti": rjti,
			"iat": now.Unix(),
			"iss": p.ApplicationHref(),
			"sub": accountHref,
			"exp": now.Add(p.refreshTTL).Unix(),
		})
		if err != nil {
			return nil, err
		}
		p.storeLocked(identity.TokenTypeRefresh, rjti, accountHref)
		res.RefreshToken = identity.RefreshToken(rt)
		access["rti"] = rjti
	}

	at, err := p.sign(identity.TokenTypeAccess, access)
	if err != nil {
		return nil, err
	}
	p.storeLocked(identity.TokenTypeAccess, access["jti"].(string), accountHref)
	res.AccessToken = identity.AccessToken(at)
	return res, nil
}

func (p *Provider) storeLocked(typ identity.TokenType, jti, accountHref string) {
	href := p.tokenHref(typ, jti)
	p.tokens[href] = &tokenRecord{href: href, jti: jti, typ: typ, accountHref: accountHref}
}

func (p *Provider) tokenHref(typ identity.TokenType, jti string) string {
	if typ == identity.TokenTypeRefresh {
		return p.origin + "/v1/refreshTokens/" + jti
	}
	return p.origin + "/v1/accessTokens/" + jti
}

func (p *Provider) sign(typ identity.TokenType, claims map[string]interface{}) (string, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT").
		WithHeader(jose.HeaderKey("kid"), p.clientID).
		WithHeader(jose.HeaderKey("stt"), string(typ))
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(p.secret)}, opts)
	if err != nil {
		return "", err
	}
	return gojwt.Signed(sig).Claims(claims).Serialize()
}

// verify validates a token the provider issued.  When live is set the token
// must not have been revoked.
func (p *Provider) verify(ctx context.Context, token string, typ identity.TokenType, live bool) (map[string]interface{}, error) {
	claims, err := p.validator.Validate(ctx, token, jwt.Expected{
		Issuer:            p.ApplicationHref(),
		SigningAlgorithms: []jwt.Alg{jwt.HS256},
		RequireExpiry:     true,
	})
	if err != nil {
		return nil, tokenError(err)
	}
	h, err := jwt.ParseHeaders(token)
	if err != nil || h.ExtraString("stt") != string(typ) {
		return nil, invalidToken()
	}
	if live {
		p.mu.Lock()
		_, ok := p.tokens[p.tokenHref(typ, jwt.StringClaim(claims, "jti"))]
		p.mu.Unlock()
		if !ok {
			return nil, invalidToken()
		}
	}
	return claims, nil
}

func fullExpansion() expand.Request {
	req, _ := expand.NewRequest(expand.CustomData, expand.Groups, expand.Directory, expand.Tenant, expand.ProviderData)
	return req
}

// copyAccount returns a deep enough copy of a carrying only the requested
// sub-resources.
func copyAccount(a *identity.Account, req expand.Request) *identity.Account {
	out := *a
	out.CustomData, out.Groups, out.Directory, out.Tenant, out.ProviderData = nil, nil, nil, nil, nil
	if req.Has(expand.CustomData) {
		out.CustomData = copyMap(a.CustomData)
	}
	if req.Has(expand.Groups) {
		out.Groups = append([]identity.Group{}, a.Groups...)
	}
	if req.Has(expand.Directory) && a.Directory != nil {
		d := *a.Directory
		out.Directory = &d
	}
	if req.Has(expand.Tenant) && a.Tenant != nil {
		t := *a.Tenant
		out.Tenant = &t
	}
	if req.Has(expand.ProviderData) {
		out.ProviderData = copyMap(a.ProviderData)
	}
	return &out
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func statusError(s identity.AccountStatus) error {
	switch s {
	case identity.StatusEnabled:
		return nil
	case identity.StatusUnverified:
		return &identity.ProviderError{Status: http.StatusBadRequest, Code: CodeAccountUnverified, Message: "Login attempt failed because the Account is not verified."}
	default:
		return &identity.ProviderError{Status: http.StatusBadRequest, Code: CodeAccountDisabled, Message: "Login attempt failed because the Account is disabled."}
	}
}

func invalidLogin() error {
	return &identity.ProviderError{Status: http.StatusBadRequest, Code: CodeInvalidLogin, Message: "Invalid username or password."}
}

func invalidToken() error {
	return &identity.ProviderError{Status: http.StatusBadRequest, Code: CodeInvalidToken, Message: "Token is invalid."}
}

func notFound() error {
	return &identity.ProviderError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "The requested resource does not exist."}
}

func tokenError(err error) error {
	pe := &identity.ProviderError{Status: http.StatusBadRequest, Code: CodeInvalidToken, Message: "Token is invalid.", DeveloperMessage: err.Error()}
	if errors.Is(err, jwt.ErrExpired) {
		pe.Code = CodeExpiredToken
		pe.Message = "Token is no longer valid because it has expired."
	}
	return pe
}
