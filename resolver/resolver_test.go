// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capsession/cookie"
	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/identity/identitytest"
	"github.com/hashicorp/capsession/jwt"
	"github.com/hashicorp/capsession/metrics"
	"github.com/hashicorp/capsession/principal"
	"github.com/hashicorp/capsession/session"
)

type fixture struct {
	clock    *clockwork.FakeClock
	p        *identitytest.Provider
	sessions *session.Manager
	reg      *prometheus.Registry
	metrics  *metrics.Metrics
	alice    *identity.Account
	bob      *identity.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock: clockwork.NewFakeClockAt(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)),
		reg:   prometheus.NewRegistry(),
	}
	f.metrics = metrics.New(f.reg)
	f.p = identitytest.New(t, identitytest.WithClock(f.clock), identitytest.WithScopes("read", "write"))
	f.alice = f.p.AddAccount(identity.Account{Email: "alice@example.com", Groups: []identity.Group{{Name: "admins"}, {Name: "users"}}}, "pa55word")
	f.bob = f.p.AddAccount(identity.Account{Email: "bob@example.com", Groups: []identity.Group{{Name: "users"}}}, "pa55word")
	cookies, err := cookie.NewStore(nil, cookie.WithClock(f.clock))
	require.NoError(t, err)
	f.sessions, err = session.NewManager(f.p, cookies, &session.Config{
		ApplicationHref: f.p.ApplicationHref(),
		ClientID:        f.p.ClientID(),
		AssertionSecret: f.p.Secret(),
	}, session.WithClock(f.clock))
	require.NoError(t, err)
	return f
}

func (f *fixture) resolver(t *testing.T, opt ...Option) *Resolver {
	t.Helper()
	opt = append([]Option{WithMetrics(f.metrics)}, opt...)
	rs, err := New(f.p, f.sessions, opt...)
	require.NoError(t, err)
	return rs
}

// expireAccessTokens moves the clock past the access token lifetime but not
// the refresh token lifetime.
func (f *fixture) expireAccessTokens() {
	f.clock.Advance(identitytest.DefaultAccessTokenTTL + jwt.DefaultLeeway + time.Second)
}

type credentials struct {
	bearer  identity.AccessToken
	access  identity.AccessToken
	refresh identity.RefreshToken
	basicID string
	basicPW string
}

func (c credentials) request() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "https://app.example.com/", nil)
	if c.bearer != "" {
		r.Header.Set("Authorization", "Bearer "+string(c.bearer))
	}
	if c.basicID != "" {
		r.SetBasicAuth(c.basicID, c.basicPW)
	}
	if c.access != "" {
		r.AddCookie(&http.Cookie{Name: cookie.DefaultAccessTokenName, Value: string(c.access)})
	}
	if c.refresh != "" {
		r.AddCookie(&http.Cookie{Name: cookie.DefaultRefreshTokenName, Value: string(c.refresh)})
	}
	return r
}

func resolve(rs *Resolver, r *http.Request) (*principal.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	var pc *principal.Context
	rs.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		pc, _ = principal.FromRequest(r)
	})).ServeHTTP(rec, r)
	return pc, rec
}

func TestNew(t *testing.T) {
	f := newFixture(t)
	_, err := New(nil, f.sessions)
	assert.ErrorIs(t, err, identity.ErrNilParameter)
	_, err = New(f.p, nil)
	assert.ErrorIs(t, err, identity.ErrNilParameter)
	_, err = New(f.p, f.sessions, WithValidationStrategy(identity.ValidationStrategy(7)))
	assert.ErrorIs(t, err, identity.ErrInvalidParameter)
	rs, err := New(f.p, f.sessions, nil)
	require.NoError(t, err)
	assert.Equal(t, identity.ValidateLocal, rs.strategy)
}

func TestResolver_Precedence(t *testing.T) {
	f := newFixture(t)
	rs := f.resolver(t)
	aliceTokens := f.p.IssueTokens(f.alice.Href)
	bobTokens := f.p.IssueTokens(f.bob.Href)
	apiID, apiSecret := f.p.AddAPIKey(f.bob.Href)

	tests := []struct {
		name        string
		creds       credentials
		wantAccount *identity.Account
		wantSource  principal.Source
		wantCalls   map[string]int
	}{
		{
			name:      "nothing",
			wantCalls: map[string]int{identitytest.OpVerifyAccessToken: 0, identitytest.OpAuthenticateByRefreshToken: 0, identitytest.OpAuthenticateAPIRequest: 0},
		},
		{
			name:        "access-cookie-short-circuits",
			creds:       credentials{access: aliceTokens.AccessToken, refresh: aliceTokens.RefreshToken},
			wantAccount: f.alice,
			wantSource:  principal.SourceCookie,
			wantCalls:   map[string]int{identitytest.OpVerifyAccessToken: 1, identitytest.OpAuthenticateByRefreshToken: 0, identitytest.OpAuthenticateAPIRequest: 0},
		},
		{
			name:        "bearer-before-cookie",
			creds:       credentials{bearer: bobTokens.AccessToken, access: aliceTokens.AccessToken},
			wantAccount: f.bob,
			wantSource:  principal.SourceBearer,
			wantCalls:   map[string]int{identitytest.OpVerifyAccessToken: 1},
		},
		{
			name:        "invalid-bearer-falls-back-to-refresh",
			creds:       credentials{bearer: "garbage", refresh: aliceTokens.RefreshToken},
			wantAccount: f.alice,
			wantSource:  principal.SourceRefresh,
			wantCalls:   map[string]int{identitytest.OpVerifyAccessToken: 1, identitytest.OpAuthenticateByRefreshToken: 1},
		},
		{
			name:        "refresh-only",
			creds:       credentials{refresh: bobTokens.RefreshToken},
			wantAccount: f.bob,
			wantSource:  principal.SourceRefresh,
			wantCalls:   map[string]int{identitytest.OpVerifyAccessToken: 0, identitytest.OpAuthenticateByRefreshToken: 1},
		},
		{
			name:        "api-key",
			creds:       credentials{basicID: apiID, basicPW: apiSecret},
			wantAccount: f.bob,
			wantSource:  principal.SourceAPIKey,
			wantCalls:   map[string]int{identitytest.OpAuthenticateAPIRequest: 1},
		},
		{
			name:      "api-key-ignored-with-cookies",
			creds:     credentials{basicID: apiID, basicPW: apiSecret, access: "garbage"},
			wantCalls: map[string]int{identitytest.OpVerifyAccessToken: 1, identitytest.OpAuthenticateAPIRequest: 0},
		},
		{
			name:      "bad-api-key",
			creds:     credentials{basicID: apiID, basicPW: "wrong"},
			wantCalls: map[string]int{identitytest.OpAuthenticateAPIRequest: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			before := map[string]int{}
			for op := range tt.wantCalls {
				before[op] = f.p.Calls(op)
			}
			pc, rec := resolve(rs, tt.creds.request())
			require.NotNil(pc)
			for op, n := range tt.wantCalls {
				assert.Equal(n, f.p.Calls(op)-before[op], op)
			}
			if tt.wantAccount == nil {
				assert.False(pc.Authenticated())
				assert.Empty(rec.Result().Cookies())
				return
			}
			require.True(pc.Authenticated())
			assert.Equal(tt.wantAccount.Href, pc.Account.Href)
			assert.Equal(tt.wantSource, pc.Source)
			if tt.wantSource != principal.SourceAPIKey {
				assert.Equal([]string{"read", "write"}, pc.Permissions)
			}
			if tt.wantSource != principal.SourceRefresh {
				assert.Empty(rec.Result().Cookies(), "only a refresh writes cookies")
			}
		})
	}
}

func TestResolver_AlreadyResolved(t *testing.T) {
	f := newFixture(t)
	rs := f.resolver(t)
	tokens := f.p.IssueTokens(f.alice.Href)

	r := credentials{access: tokens.AccessToken}.request()
	r, pc := principal.Attach(r)
	pc.SetUser(f.bob, nil, principal.SourceLogin)

	got, _ := resolve(rs, r)
	assert.Same(t, pc, got)
	assert.Equal(t, f.bob.Href, got.Account.Href)
	assert.Equal(t, 0, f.p.Calls(identitytest.OpVerifyAccessToken))

	r = rs.Resolve(httptest.NewRecorder(), credentials{access: tokens.AccessToken}.request())
	rs.Resolve(httptest.NewRecorder(), r)
	assert.Equal(t, 1, f.p.Calls(identitytest.OpVerifyAccessToken))
}

func TestResolver_DisabledAccount(t *testing.T) {
	for _, status := range []identity.AccountStatus{identity.StatusDisabled, identity.StatusUnverified} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			rs := f.resolver(t)
			tokens := f.p.IssueTokens(f.alice.Href)
			apiID, apiSecret := f.p.AddAPIKey(f.alice.Href)
			f.p.SetAccountStatus(f.alice.Href, status)

			for name, creds := range map[string]credentials{
				"access-cookie":      {access: tokens.AccessToken},
				"bearer":             {bearer: tokens.AccessToken},
				"access-and-refresh": {access: tokens.AccessToken, refresh: tokens.RefreshToken},
				"refresh":            {refresh: tokens.RefreshToken},
				"api-key":            {basicID: apiID, basicPW: apiSecret},
			} {
				pc, rec := resolve(rs, creds.request())
				assert.False(t, pc.Authenticated(), name)
				assert.Nil(t, pc.Account, name)
				assert.Error(t, pc.AuthenticationError, name)
				assert.Empty(t, rec.Result().Cookies(), name)
			}

			pc, _ := resolve(rs, credentials{access: tokens.AccessToken}.request())
			assert.ErrorIs(t, pc.AuthenticationError, identity.ErrAccountDisabled)
		})
	}
}

func TestResolver_Refresh(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	f := newFixture(t)
	rs := f.resolver(t)
	tokens := f.p.IssueTokens(f.alice.Href)
	f.expireAccessTokens()

	creds := credentials{access: tokens.AccessToken, refresh: tokens.RefreshToken}
	for i := 0; i < 2; i++ {
		pc, rec := resolve(rs, creds.request())
		require.True(pc.Authenticated(), "attempt %d", i)
		assert.Equal(f.alice.Href, pc.Account.Href)
		assert.Equal(principal.SourceRefresh, pc.Source)
		assert.NoError(pc.AuthenticationError)

		var access *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == cookie.DefaultAccessTokenName {
				access = c
			}
		}
		require.NotNil(access, "access cookie re-issued on attempt %d", i)
		assert.NotEqual(string(tokens.AccessToken), access.Value)
		assert.Equal(int(identitytest.DefaultAccessTokenTTL.Seconds()), access.MaxAge)

		got, _ := resolve(rs, credentials{access: identity.AccessToken(access.Value)}.request())
		assert.True(got.Authenticated())
		assert.Equal(principal.SourceCookie, got.Source)
	}
	assert.Equal(2, f.p.Calls(identitytest.OpAuthenticateByRefreshToken))
}

func TestResolver_InvalidTokens(t *testing.T) {
	f := newFixture(t)
	rs := f.resolver(t)
	tokens := f.p.IssueTokens(f.alice.Href)
	other := identitytest.New(t)
	forged := other.SignToken(identity.TokenTypeAccess, map[string]interface{}{
		"sub": f.alice.Href,
		"iss": f.p.ApplicationHref(),
		"exp": f.clock.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name  string
		creds credentials
	}{
		{name: "garbage-access", creds: credentials{access: "garbage"}},
		{name: "forged-access", creds: credentials{access: identity.AccessToken(forged)}},
		{name: "refresh-as-access", creds: credentials{access: identity.AccessToken(tokens.RefreshToken)}},
		{name: "garbage-refresh", creds: credentials{access: "garbage", refresh: "garbage"}},
		{name: "access-as-refresh", creds: credentials{refresh: identity.RefreshToken(tokens.AccessToken)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pc *principal.Context
			var rec *httptest.ResponseRecorder
			require.NotPanics(t, func() { pc, rec = resolve(rs, tt.creds.request()) })
			assert.False(t, pc.Authenticated())
			assert.Error(t, pc.AuthenticationError)
			assert.Empty(t, rec.Result().Cookies(), "resolver leaves cookies untouched")
		})
	}
}

func TestResolver_RemoteValidation(t *testing.T) {
	f := newFixture(t)
	local := f.resolver(t)
	remote := f.resolver(t, WithValidationStrategy(identity.ValidateRemote))
	tokens := f.p.IssueTokens(f.alice.Href)
	creds := credentials{access: tokens.AccessToken}

	pc, _ := resolve(remote, creds.request())
	assert.True(t, pc.Authenticated())

	claims, err := jwt.UnverifiedClaims(string(tokens.AccessToken))
	require.NoError(t, err)
	require.NoError(t, f.p.DeleteToken(context.Background(), f.p.Origin()+"/v1/accessTokens/"+jwt.StringClaim(claims, "jti")))

	pc, _ = resolve(local, creds.request())
	assert.True(t, pc.Authenticated(), "local validation cannot see revocation")
	pc, _ = resolve(remote, creds.request())
	assert.False(t, pc.Authenticated())
}

func TestResolver_Expand(t *testing.T) {
	f := newFixture(t)
	req, err := expand.NewRequest(expand.Groups, expand.CustomData)
	require.NoError(t, err)
	rs := f.resolver(t, WithExpand(req))
	tokens := f.p.IssueTokens(f.alice.Href)

	pc, _ := resolve(rs, credentials{access: tokens.AccessToken}.request())
	require.True(t, pc.Authenticated())
	assert.True(t, pc.Account.InGroup("admins"))
	assert.NotNil(t, pc.Account.CustomData)
	assert.Nil(t, pc.Account.Directory)
}

func TestResolver_ProviderError(t *testing.T) {
	f := newFixture(t)
	rs := f.resolver(t)
	tokens := f.p.IssueTokens(f.alice.Href)
	f.p.SetError(identitytest.OpGetAccount, &identity.ProviderError{Status: http.StatusServiceUnavailable, Code: 503, Message: "unavailable"})

	pc, _ := resolve(rs, credentials{access: tokens.AccessToken}.request())
	assert.False(t, pc.Authenticated())
	var pe *identity.ProviderError
	assert.ErrorAs(t, pc.AuthenticationError, &pe)
}

func TestResolver_Metrics(t *testing.T) {
	f := newFixture(t)
	rs := f.resolver(t)
	tokens := f.p.IssueTokens(f.alice.Href)

	resolve(rs, credentials{}.request())
	resolve(rs, credentials{access: tokens.AccessToken}.request())
	resolve(rs, credentials{access: "garbage"}.request())

	n, err := testutil.GatherAndCount(f.reg, "capsession_resolutions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestResolver_SharedMetrics(t *testing.T) {
	f := newFixture(t)
	var local, remote *Resolver
	require.NotPanics(t, func() {
		local = f.resolver(t)
		remote = f.resolver(t, WithValidationStrategy(identity.ValidateRemote))
	})
	tokens := f.p.IssueTokens(f.alice.Href)

	resolve(local, credentials{}.request())
	pc, _ := resolve(remote, credentials{access: tokens.AccessToken}.request())
	require.True(t, pc.Authenticated())

	n, err := testutil.GatherAndCount(f.reg, "capsession_resolutions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "both resolvers record to the same collectors")
}
