// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package remote implements identity.Service against the identity provider's
// REST API.
//
// Token grants go through golang.org/x/oauth2 against the application's
// /oauth/token endpoint.  Accounts, their sub-resources and token resources
// are plain JSON resources addressed by href, authenticated with the
// application's API key.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"

	"github.com/hashicorp/capsession/cache"
	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/internal/httpclient"
	"github.com/hashicorp/capsession/internal/strutils"
	"github.com/hashicorp/capsession/jwt"
	"github.com/hashicorp/capsession/metrics"
)

const userAgent = "capsession"

// Client is an identity.Service backed by the identity provider's REST API.
// It is safe for concurrent use.
type Client struct {
	cfg        Config
	origin     string
	httpClient *http.Client
	validator  *jwt.Validator
	orgs       *cache.ReadThrough[string, string]
	clock      clockwork.Clock
	logger     hclog.Logger
	metrics    *metrics.Metrics
}

var _ identity.Service = (*Client)(nil)

// New creates a Client.  Supported options: WithLogger, WithMetrics, WithClock
func New(cfg *Config, opt ...Option) (*Client, error) {
	const op = "remote.New"
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	opts := getClientOpts(opt...)
	c := *cfg
	c.ApplicationHref = strings.TrimSuffix(c.ApplicationHref, "/")
	if len(c.SigningAlgorithms) == 0 {
		c.SigningAlgorithms = []jwt.Alg{jwt.HS256}
	}

	hc, err := httpclient.New(c.ProviderCA, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	if c.KeySet == nil {
		if c.KeySet, err = jwt.NewHMACKeySet(string(c.APIKeySecret)); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	v, err := jwt.NewValidator(c.KeySet, jwt.WithClock(opts.withClock))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	u, _ := url.Parse(c.ApplicationHref)
	return &Client{
		cfg:        c,
		origin:     u.Scheme + "://" + u.Host,
		httpClient: hc,
		validator:  v,
		orgs:       cache.New[string, string](cache.DefaultSize, c.OrganizationCacheTTL),
		clock:      opts.withClock,
		logger:     opts.withLogger.Named("remote"),
		metrics:    opts.withMetrics,
	}, nil
}

// HTTPClient returns the client used to reach the provider.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// GetAccount fetches an account, then fetches the requested sub-resources
// concurrently.  Any failed sub-resource fails the call.
func (c *Client) GetAccount(ctx context.Context, href string, req expand.Request) (*identity.Account, error) {
	const op = "remote.(Client).GetAccount"
	var a identity.Account
	if err := c.do(ctx, "get_account", http.MethodGet, href, nil, &a); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.CustomData, a.Groups, a.Directory, a.Tenant, a.ProviderData = nil, nil, nil, nil, nil
	if a.Href == "" {
		a.Href = href
	}

	var mu sync.Mutex
	err := expand.Join(ctx, req, func(ctx context.Context, r expand.Resource) error {
		sub := href + "/" + string(r)
		opName := "get_account_" + string(r)
		switch r {
		case expand.CustomData, expand.ProviderData:
			m := map[string]interface{}{}
			if err := c.do(ctx, opName, http.MethodGet, sub, nil, &m); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if r == expand.CustomData {
				a.CustomData = m
			} else {
				a.ProviderData = m
			}
		case expand.Groups:
			var groups struct {
				Items []identity.Group `json:"items"`
			}
			if err := c.do(ctx, opName, http.MethodGet, sub, nil, &groups); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			a.Groups = append([]identity.Group{}, groups.Items...)
		case expand.Directory:
			var d identity.Directory
			if err := c.do(ctx, opName, http.MethodGet, sub, nil, &d); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			a.Directory = &d
		case expand.Tenant:
			var t identity.Tenant
			if err := c.do(ctx, opName, http.MethodGet, sub, nil, &t); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			a.Tenant = &t
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

// ListTokens lists an account's tokens of type t with the given id.
func (c *Client) ListTokens(ctx context.Context, accountHref string, t identity.TokenType, jti string) ([]identity.TokenResource, error) {
	const op = "remote.(Client).ListTokens"
	var collection string
	switch t {
	case identity.TokenTypeAccess:
		collection = "accessTokens"
	case identity.TokenTypeRefresh:
		collection = "refreshTokens"
	default:
		return nil, fmt.Errorf("%s: unknown token type %q: %w", op, t, identity.ErrInvalidParameter)
	}
	q := url.Values{}
	if jti != "" {
		q.Set("jti", jti)
	}
	var out struct {
		Items []identity.TokenResource `json:"items"`
	}
	if err := c.do(ctx, "list_tokens", http.MethodGet, accountHref+"/"+collection, q, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for i := range out.Items {
		out.Items[i].Type = t
	}
	return out.Items, nil
}

// DeleteToken deletes a token resource.  A token that no longer exists is
// not an error.
func (c *Client) DeleteToken(ctx context.Context, href string) error {
	const op = "remote.(Client).DeleteToken"
	err := c.do(ctx, "delete_token", http.MethodDelete, href, nil, nil)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) organizationHref(ctx context.Context, nameKey string) (string, error) {
	const op = "remote.(Client).organizationHref"
	href, err := c.orgs.Get(ctx, nameKey, func(ctx context.Context, nameKey string) (string, error) {
		var out struct {
			Items []struct {
				Href string `json:"href"`
			} `json:"items"`
		}
		q := url.Values{"nameKey": {nameKey}}
		if err := c.do(ctx, "get_organization", http.MethodGet, c.cfg.ApplicationHref+"/organizations", q, &out); err != nil {
			return "", err
		}
		if len(out.Items) == 0 || out.Items[0].Href == "" {
			return "", &identity.ProviderError{
				Status:  http.StatusBadRequest,
				Code:    codeInvalidAccountStore,
				Message: fmt.Sprintf("No organization with name key %q.", nameKey),
			}
		}
		return out.Items[0].Href, nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return href, nil
}

// do performs an authenticated request against href, which must belong to
// the provider.  A non 2xx response is returned as an *identity.ProviderError.
func (c *Client) do(ctx context.Context, opName, method, href string, query url.Values, out interface{}) (retErr error) {
	start := time.Now()
	defer func() { c.metrics.ProviderRequest(opName, start, retErr) }()

	if !strings.HasPrefix(href, c.origin+"/") {
		return fmt.Errorf("href %q is not served by the identity provider: %w", href, identity.ErrInvalidParameter)
	}
	if len(query) > 0 {
		href += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, href, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.APIKeyID, string(c.cfg.APIKeySecret))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.logger.Trace("provider request", "op", opName, "method", method)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach identity provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return decodeProviderError(resp.StatusCode, body)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to decode provider response: %w", err)
	}
	return nil
}

func decodeProviderError(status int, body []byte) error {
	pe := &identity.ProviderError{}
	if err := json.Unmarshal(body, pe); err != nil || (pe.Message == "" && pe.Code == 0) {
		pe = &identity.ProviderError{Code: status, Message: http.StatusText(status)}
		var oauthErr struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
			pe.Message = oauthErr.Error
			if oauthErr.Description != "" {
				pe.Message = oauthErr.Description
			}
		}
	}
	pe.Status = status
	return pe
}

func scopes(v interface{}) []string {
	s, _ := v.(string)
	return strutils.SplitScope(s)
}
