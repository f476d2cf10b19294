// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/capsession/expand"
)

func TestTokens_Redacted(t *testing.T) {
	assert, require := assert.New(t), require.New(t)

	res := AuthenticationResult{
		AccessToken:  AccessToken("secret-access"),
		RefreshToken: RefreshToken("secret-refresh"),
		AccountHref:  "https://idp.example.com/accounts/1",
	}
	b, err := json.Marshal(res)
	require.NoError(err)
	assert.NotContains(string(b), "secret-access")
	assert.NotContains(string(b), "secret-refresh")
	assert.Contains(string(b), RedactedAccessToken)
	assert.Contains(string(b), RedactedRefreshToken)

	assert.Equal(RedactedAccessToken, fmt.Sprintf("%s", res.AccessToken))
	assert.Equal(RedactedRefreshToken, fmt.Sprintf("%v", res.RefreshToken))
	assert.Equal(RedactedClientSecret, ClientSecret("shh").String())
	b, err = json.Marshal(ClientSecret("shh"))
	require.NoError(err)
	assert.Equal(`"`+RedactedClientSecret+`"`, string(b))
}

func TestProviderError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ProviderError
		wantIs  error
		wantMsg string
	}{
		{
			name:    "bad-request",
			err:     &ProviderError{Status: http.StatusBadRequest, Code: 7100, Message: "Invalid username or password."},
			wantIs:  ErrAuthenticationFailed,
			wantMsg: "identity provider error 7100 (status 400): Invalid username or password.",
		},
		{
			name:    "unauthorized",
			err:     &ProviderError{Status: http.StatusUnauthorized, Code: 401, Message: "nope", DeveloperMessage: "bad key"},
			wantIs:  ErrAuthenticationFailed,
			wantMsg: "identity provider error 401 (status 401): nope: bad key",
		},
		{
			name:    "not-found",
			err:     &ProviderError{Status: http.StatusNotFound, Code: 404, Message: "missing"},
			wantIs:  ErrNotFound,
			wantMsg: "identity provider error 404 (status 404): missing",
		},
		{
			name:    "server-error",
			err:     &ProviderError{Status: http.StatusInternalServerError, Code: 500, Message: "oops", DeveloperMessage: "oops"},
			wantMsg: "identity provider error 500 (status 500): oops",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			wrapped := fmt.Errorf("op: %w", tt.err)
			assert.Equal(tt.wantMsg, tt.err.Error())
			if tt.wantIs != nil {
				assert.ErrorIs(wrapped, tt.wantIs)
			} else {
				assert.False(errors.Is(wrapped, ErrAuthenticationFailed))
				assert.False(errors.Is(wrapped, ErrNotFound))
			}
			var pe *ProviderError
			assert.True(errors.As(wrapped, &pe))
			assert.Equal(tt.err.Code, pe.Code)
		})
	}
}

func TestAccount(t *testing.T) {
	assert := assert.New(t)
	var nilAccount *Account
	assert.False(nilAccount.Enabled())
	assert.False(nilAccount.InGroup("admins"))

	a := &Account{Status: StatusEnabled, Groups: []Group{{Name: "admins"}}}
	assert.True(a.Enabled())
	assert.True(a.InGroup("admins"))
	assert.False(a.InGroup("users"))

	for _, s := range []AccountStatus{StatusDisabled, StatusUnverified, AccountStatus("LOCKED"), ""} {
		assert.False((&Account{Status: s}).Enabled(), s)
	}
}

type stubService struct {
	Service
	href string
	req  expand.Request
	err  error
}

func (s *stubService) GetAccount(_ context.Context, href string, req expand.Request) (*Account, error) {
	s.href, s.req = href, req
	if s.err != nil {
		return nil, s.err
	}
	return &Account{Href: href, Status: StatusEnabled}, nil
}

func TestAuthenticationResult(t *testing.T) {
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	res := &AuthenticationResult{ExpiresIn: 3600, GrantedScopes: []string{"read"}, AccountHref: "https://idp.example.com/accounts/1"}
	assert.Equal(now.Add(time.Hour), res.Expiry(now))
	assert.True((&AuthenticationResult{}).Expiry(now).IsZero())
	var nilResult *AuthenticationResult
	assert.True(nilResult.Expiry(now).IsZero())
	assert.True(res.HasScope("read"))
	assert.False(res.HasScope("write"))
	assert.False(nilResult.HasScope("read"))

	req, err := expand.NewRequest(expand.Groups)
	require.NoError(err)
	svc := &stubService{}
	a, err := res.Account(ctx, svc, req)
	require.NoError(err)
	assert.Equal(res.AccountHref, a.Href)
	assert.Equal(res.AccountHref, svc.href)
	assert.True(svc.req.Has(expand.Groups))

	svc.err = &ProviderError{Status: http.StatusNotFound}
	_, err = res.Account(ctx, svc, req)
	assert.ErrorIs(err, ErrNotFound)

	_, err = nilResult.Account(ctx, svc, req)
	assert.ErrorIs(err, ErrNilParameter)
	_, err = res.Account(ctx, nil, req)
	assert.ErrorIs(err, ErrNilParameter)
	_, err = (&AuthenticationResult{}).Account(ctx, svc, req)
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestValidationStrategy_String(t *testing.T) {
	assert.Equal(t, "local", ValidateLocal.String())
	assert.Equal(t, "remote", ValidateRemote.String())
	assert.Equal(t, "unknown", ValidationStrategy(42).String())
}
