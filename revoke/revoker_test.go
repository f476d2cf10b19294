// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package revoke

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capsession/cookie"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/identity/identitytest"
	"github.com/hashicorp/capsession/jwt"
	"github.com/hashicorp/capsession/metrics"
	"github.com/hashicorp/capsession/principal"
)

type fixture struct {
	p       *identitytest.Provider
	clock   *clockwork.FakeClock
	cookies *cookie.Store
	rv      *Revoker
	account *identity.Account
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: clockwork.NewFakeClockAt(time.Now()), reg: prometheus.NewRegistry()}
	f.p = identitytest.New(t, identitytest.WithClock(f.clock))
	f.account = f.p.AddAccount(identity.Account{Email: "alice@example.com"}, "pa55word")
	var err error
	f.cookies, err = cookie.NewStore(nil)
	require.NoError(t, err)
	f.rv, err = NewRevoker(f.p, f.cookies, f.p.KeySet(), WithMetrics(metrics.New(f.reg)))
	require.NoError(t, err)
	return f
}

func (f *fixture) sessionRequest(res *identity.AuthenticationResult) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/logout", nil)
	if res.AccessToken != "" {
		r.AddCookie(&http.Cookie{Name: cookie.DefaultAccessTokenName, Value: string(res.AccessToken)})
	}
	if res.RefreshToken != "" {
		r.AddCookie(&http.Cookie{Name: cookie.DefaultRefreshTokenName, Value: string(res.RefreshToken)})
	}
	return r
}

func assertCookiesDeleted(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	got := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		got[c.Name] = c
	}
	for _, name := range []string{cookie.DefaultAccessTokenName, cookie.DefaultRefreshTokenName} {
		c, ok := got[name]
		require.True(t, ok, "cookie %s was not deleted", name)
		assert.Empty(t, c.Value)
		assert.True(t, c.MaxAge < 0)
	}
}

func TestNewRevoker(t *testing.T) {
	p := identitytest.New(t)
	cookies, err := cookie.NewStore(nil)
	require.NoError(t, err)
	tests := []struct {
		name    string
		svc     identity.Service
		cookies *cookie.Store
		keySet  jwt.KeySet
		wantErr bool
	}{
		{name: "valid", svc: p, cookies: cookies, keySet: p.KeySet()},
		{name: "nil-svc", cookies: cookies, keySet: p.KeySet(), wantErr: true},
		{name: "nil-cookies", svc: p, keySet: p.KeySet(), wantErr: true},
		{name: "nil-keyset", svc: p, cookies: cookies, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rv, err := NewRevoker(tt.svc, tt.cookies, tt.keySet)
			if tt.wantErr {
				assert.ErrorIs(t, err, identity.ErrNilParameter)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, rv)
		})
	}
}

func TestRevoker_Identify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.p.IssueTokens(f.account.Href)
	other := identitytest.New(t)

	tests := []struct {
		name     string
		token    func() string
		wantType identity.TokenType
		wantErr  error
	}{
		{name: "access", token: func() string { return string(res.AccessToken) }, wantType: identity.TokenTypeAccess},
		{name: "refresh", token: func() string { return string(res.RefreshToken) }, wantType: identity.TokenTypeRefresh},
		{name: "empty", token: func() string { return "" }, wantErr: identity.ErrInvalidParameter},
		{name: "garbage", token: func() string { return "not.a.jwt" }, wantErr: identity.ErrInvalidToken},
		{
			name: "foreign-key",
			token: func() string {
				return other.SignToken(identity.TokenTypeAccess, map[string]interface{}{"jti": "abc", "sub": f.account.Href})
			},
			wantErr: identity.ErrInvalidToken,
		},
		{
			name: "no-type",
			token: func() string {
				return f.p.SignToken("", map[string]interface{}{"jti": "abc", "sub": f.account.Href})
			},
			wantErr: identity.ErrInvalidToken,
		},
		{
			name: "no-jti",
			token: func() string {
				return f.p.SignToken(identity.TokenTypeAccess, map[string]interface{}{"sub": f.account.Href})
			},
			wantErr: identity.ErrInvalidToken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.rv.Identify(ctx, tt.token())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, id.Type)
			assert.Equal(t, f.account.Href, id.Subject)
			assert.NotEmpty(t, id.ID)
		})
	}

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(48 * time.Hour)
		id, err := f.rv.Identify(ctx, string(res.AccessToken))
		require.NoError(t, err)
		assert.Equal(t, identity.TokenTypeAccess, id.Type)
	})
}

func TestRevoker_RevokeToken(t *testing.T) {
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	f := newFixture(t)
	bob := f.p.AddAccount(identity.Account{Email: "bob@example.com"}, "pa55word")
	res := f.p.IssueTokens(f.account.Href)

	require.NoError(f.rv.RevokeToken(ctx, bob.Href, string(res.AccessToken)))
	assert.Equal(1, f.p.TokenCount(f.account.Href, identity.TokenTypeAccess), "another account's token must not be revoked")

	require.NoError(f.rv.RevokeToken(ctx, f.account.Href, string(res.AccessToken)))
	assert.Equal(0, f.p.TokenCount(f.account.Href, identity.TokenTypeAccess))
	assert.Equal(1, f.p.TokenCount(f.account.Href, identity.TokenTypeRefresh))

	require.NoError(f.rv.RevokeToken(ctx, f.account.Href, string(res.AccessToken)), "revoke is idempotent")

	require.NoError(f.rv.RevokeToken(ctx, "", string(res.RefreshToken)))
	assert.Equal(0, f.p.TokenCount(f.account.Href, identity.TokenTypeRefresh))

	err := f.rv.RevokeToken(ctx, f.account.Href, "garbage")
	assert.ErrorIs(err, identity.ErrRevocation)
	assert.ErrorIs(err, identity.ErrInvalidToken)

	res = f.p.IssueTokens(f.account.Href)
	f.p.SetError(identitytest.OpListTokens, errors.New("provider unavailable"))
	err = f.rv.RevokeToken(ctx, f.account.Href, string(res.AccessToken))
	assert.ErrorIs(err, identity.ErrRevocation)
}

func TestRevoker_Revoke(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture) *identity.AuthenticationResult
		failOp    string
		wantErr   bool
		wantCount int
	}{
		{
			name:  "both-tokens",
			setup: func(f *fixture) *identity.AuthenticationResult { return f.p.IssueTokens(f.account.Href) },
		},
		{
			name:  "no-cookies",
			setup: func(*fixture) *identity.AuthenticationResult { return &identity.AuthenticationResult{} },
		},
		{
			name: "garbage-cookies",
			setup: func(*fixture) *identity.AuthenticationResult {
				return &identity.AuthenticationResult{AccessToken: "garbage", RefreshToken: "more-garbage"}
			},
		},
		{
			name:      "delete-fails",
			setup:     func(f *fixture) *identity.AuthenticationResult { return f.p.IssueTokens(f.account.Href) },
			failOp:    identitytest.OpDeleteToken,
			wantErr:   true,
			wantCount: 1,
		},
		{
			name:      "list-fails",
			setup:     func(f *fixture) *identity.AuthenticationResult { return f.p.IssueTokens(f.account.Href) },
			failOp:    identitytest.OpListTokens,
			wantErr:   true,
			wantCount: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := tt.setup(f)
			if tt.failOp != "" {
				f.p.SetError(tt.failOp, errors.New("provider unavailable"))
			}
			rec := httptest.NewRecorder()
			err := f.rv.Revoke(rec, f.sessionRequest(res))
			if tt.wantErr {
				assert.ErrorIs(t, err, identity.ErrRevocation)
			} else {
				assert.NoError(t, err)
			}
			assertCookiesDeleted(t, rec)
			assert.Equal(t, tt.wantCount, f.p.TokenCount(f.account.Href, identity.TokenTypeAccess))
			assert.Equal(t, tt.wantCount, f.p.TokenCount(f.account.Href, identity.TokenTypeRefresh))
		})
	}
}

func TestRevoker_Revoke_Metrics(t *testing.T) {
	f := newFixture(t)
	res := f.p.IssueTokens(f.account.Href)
	res.RefreshToken = "garbage"
	require.NoError(t, f.rv.Revoke(httptest.NewRecorder(), f.sessionRequest(res)))

	n, err := testutil.GatherAndCount(f.reg, "capsession_revocations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRevoker_Handler(t *testing.T) {
	f := newFixture(t)
	h := f.rv.Handler()

	authenticated := func(r *http.Request) *http.Request {
		r, pc := principal.Attach(r)
		pc.SetUser(f.account, nil, principal.SourceBearer)
		return r
	}
	form := func(v url.Values) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(v.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r
	}
	jsonBody := func(token string) *http.Request {
		b, _ := json.Marshal(map[string]string{"token": token})
		r := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(string(b)))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		return r
	}

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
		wantError  string
		wantCount  int
	}{
		{
			name:       "wrong-method",
			req:        func() *http.Request { return authenticated(httptest.NewRequest(http.MethodGet, "/oauth/revoke", nil)) },
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "invalid_request",
			wantCount:  1,
		},
		{
			name: "unauthenticated",
			req: func() *http.Request {
				return form(url.Values{"token": {"anything"}})
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_client",
			wantCount:  1,
		},
		{
			name:       "missing-token",
			req:        func() *http.Request { return authenticated(form(url.Values{})) },
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
			wantCount:  1,
		},
		{
			name:       "unknown-token",
			req:        func() *http.Request { return authenticated(form(url.Values{"token": {"garbage"}})) },
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name: "form",
			req: func() *http.Request {
				res := f.p.IssueTokens(f.account.Href)
				return authenticated(form(url.Values{"token": {string(res.AccessToken)}}))
			},
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name: "json",
			req: func() *http.Request {
				res := f.p.IssueTokens(f.account.Href)
				return authenticated(jsonBody(string(res.AccessToken)))
			},
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
	}
	f.p.IssueTokens(f.account.Href)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h(rec, tt.req())
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.wantError, body["error"])
			}
			assert.Equal(t, tt.wantCount, f.p.TokenCount(f.account.Href, identity.TokenTypeAccess))
		})
	}
}
