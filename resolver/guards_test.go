// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capsession/cookie"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/identity/identitytest"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*called = true
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestResolver_Required(t *testing.T) {
	f := newFixture(t)
	rs := f.resolver(t)
	tokens := f.p.IssueTokens(f.alice.Href)

	tests := []struct {
		name          string
		creds         credentials
		wantStatus    int
		wantDestroyed bool
	}{
		{name: "authenticated", creds: credentials{access: tokens.AccessToken}, wantStatus: http.StatusNoContent},
		{name: "anonymous", wantStatus: http.StatusUnauthorized},
		{name: "bad-cookies", creds: credentials{access: "garbage", refresh: "garbage"}, wantStatus: http.StatusUnauthorized, wantDestroyed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			var called bool
			rec := httptest.NewRecorder()
			rs.Required(nil)(okHandler(&called)).ServeHTTP(rec, tt.creds.request())

			assert.Equal(tt.wantStatus, rec.Code)
			assert.Equal(tt.wantStatus == http.StatusNoContent, called)
			if tt.wantStatus == http.StatusUnauthorized {
				var body struct {
					Status  int    `json:"status"`
					Message string `json:"message"`
				}
				require.NoError(json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(http.StatusUnauthorized, body.Status)
			}
			deleted := 0
			for _, c := range rec.Result().Cookies() {
				if c.MaxAge < 0 && (c.Name == cookie.DefaultAccessTokenName || c.Name == cookie.DefaultRefreshTokenName) {
					deleted++
				}
			}
			if tt.wantDestroyed {
				assert.Equal(2, deleted)
			} else {
				assert.Zero(deleted)
			}
		})
	}

	t.Run("custom-failure", func(t *testing.T) {
		var gotStatus int
		onFail := func(w http.ResponseWriter, r *http.Request, status int) {
			gotStatus = status
			http.Redirect(w, r, "/login", http.StatusFound)
		}
		var called bool
		rec := httptest.NewRecorder()
		rs.Required(onFail)(okHandler(&called)).ServeHTTP(rec, credentials{}.request())
		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, gotStatus)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})
}

func TestResolver_GroupsRequired(t *testing.T) {
	f := newFixture(t)
	rs := f.resolver(t)
	alice := f.p.IssueTokens(f.alice.Href)
	bob := f.p.IssueTokens(f.bob.Href)

	tests := []struct {
		name       string
		token      identity.AccessToken
		groups     []string
		all        bool
		wantStatus int
	}{
		{name: "member", token: alice.AccessToken, groups: []string{"admins"}, wantStatus: http.StatusNoContent},
		{name: "not-member", token: bob.AccessToken, groups: []string{"admins"}, wantStatus: http.StatusForbidden},
		{name: "any-of", token: bob.AccessToken, groups: []string{"admins", "users"}, wantStatus: http.StatusNoContent},
		{name: "all-of", token: alice.AccessToken, groups: []string{"admins", "users"}, all: true, wantStatus: http.StatusNoContent},
		{name: "not-all-of", token: bob.AccessToken, groups: []string{"admins", "users"}, all: true, wantStatus: http.StatusForbidden},
		{name: "anonymous", groups: []string{"users"}, wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			rec := httptest.NewRecorder()
			rs.GroupsRequired(tt.groups, tt.all, nil)(okHandler(&called)).ServeHTTP(rec, credentials{access: tt.token}.request())
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusNoContent, called)
		})
	}

	t.Run("account-fetch-fails", func(t *testing.T) {
		f.p.SetError(identitytest.OpGetAccount, &identity.ProviderError{Status: http.StatusServiceUnavailable, Code: 503, Message: "unavailable"})
		defer f.p.SetError(identitytest.OpGetAccount, nil)
		var called bool
		rec := httptest.NewRecorder()
		r := credentials{access: alice.AccessToken}.request()
		rs.GroupsRequired([]string{"admins"}, false, nil)(okHandler(&called)).ServeHTTP(rec, r)
		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestInGroups(t *testing.T) {
	a := &identity.Account{Groups: []identity.Group{{Name: "a"}, {Name: "b"}}}
	tests := []struct {
		name   string
		groups []string
		all    bool
		want   bool
	}{
		{name: "none-required", want: true},
		{name: "any-hit", groups: []string{"x", "b"}, want: true},
		{name: "any-miss", groups: []string{"x", "y"}},
		{name: "all-hit", groups: []string{"a", "b"}, all: true, want: true},
		{name: "all-miss", groups: []string{"a", "x"}, all: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inGroups(a, tt.groups, tt.all))
		})
	}
}
