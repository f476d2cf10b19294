// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package identitytest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/jwt"
)

type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope,omitempty"`
	AccessTokenHref string `json:"stormpath_access_token_href,omitempty"`
}

type hrefRef struct {
	Href string `json:"href"`
}

type collection struct {
	Href  string        `json:"href,omitempty"`
	Items []interface{} `json:"items"`
}

// handler serves the provider's REST protocol.
func (p *Provider) handler() http.Handler {
	r := chi.NewRouter()
	r.Route(applicationPath, func(r chi.Router) {
		r.Post("/oauth/token", p.serveToken)
		r.With(p.requireClient).Get("/authTokens/{token}", p.serveAuthToken)
		r.With(p.requireClient).Get("/organizations", p.serveOrganizations)
	})
	r.Group(func(r chi.Router) {
		r.Use(p.requireClient)
		r.Get("/v1/accounts/{id}", p.serveAccount)
		r.Get("/v1/accounts/{id}/{resource}", p.serveAccountResource)
		r.Delete("/v1/accessTokens/{id}", p.serveDeleteToken)
		r.Delete("/v1/refreshTokens/{id}", p.serveDeleteToken)
	})
	return r
}

func (p *Provider) requireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, secret, ok := req.BasicAuth()
		if !ok || id != p.clientID || secret != p.secret {
			p.writeError(w, &identity.ProviderError{Status: http.StatusUnauthorized, Code: CodeInvalidAPIKey, Message: "Authentication required."})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (p *Provider) writeJSON(w http.ResponseWriter, status int, out interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(out)
}

func (p *Provider) writeError(w http.ResponseWriter, err error) {
	var pe *identity.ProviderError
	if !errors.As(err, &pe) {
		pe = &identity.ProviderError{Status: http.StatusInternalServerError, Code: http.StatusInternalServerError, Message: err.Error()}
	}
	p.writeJSON(w, pe.Status, pe)
}

func (p *Provider) serveToken(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		p.writeError(w, &identity.ProviderError{Status: http.StatusBadRequest, Code: http.StatusBadRequest, Message: err.Error()})
		return
	}
	grant := req.PostForm.Get("grant_type")
	if grant != "client_credentials" {
		if id, secret, ok := req.BasicAuth(); !ok || id != p.clientID || secret != p.secret {
			p.writeError(w, &identity.ProviderError{Status: http.StatusUnauthorized, Code: CodeInvalidAPIKey, Message: "Authentication required."})
			return
		}
	}

	var (
		res *identity.AuthenticationResult
		err error
	)
	ctx := req.Context()
	switch grant {
	case "password":
		res, err = p.AuthenticateByPassword(ctx, identity.PasswordCredentials{
			Username:     req.PostForm.Get("username"),
			Password:     req.PostForm.Get("password"),
			AccountStore: req.PostForm.Get("accountStore"),
		})
	case "refresh_token":
		res, err = p.AuthenticateByRefreshToken(ctx, identity.RefreshToken(req.PostForm.Get("refresh_token")))
	case "stormpath_token":
		res, err = p.AuthenticateByAssertion(ctx, req.PostForm.Get("token"))
	case "client_credentials":
		res, err = p.AuthenticateAPIRequest(ctx, req)
		if err == nil {
			p.mu.Lock()
			res, err = p.issueLocked(res.AccountHref, false)
			p.mu.Unlock()
		}
	default:
		p.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if err != nil {
		p.writeError(w, err)
		return
	}

	out := tokenResponse{
		AccessToken:  string(res.AccessToken),
		RefreshToken: string(res.RefreshToken),
		TokenType:    res.TokenType,
		ExpiresIn:    res.ExpiresIn,
		Scope:        strings.Join(res.GrantedScopes, " "),
	}
	if claims, err := jwt.UnverifiedClaims(out.AccessToken); err == nil {
		out.AccessTokenHref = p.tokenHref(identity.TokenTypeAccess, jwt.StringClaim(claims, "jti"))
	}
	w.Header().Set("Cache-Control", "no-store")
	p.writeJSON(w, http.StatusOK, out)
}

func (p *Provider) serveAuthToken(w http.ResponseWriter, req *http.Request) {
	token := chi.URLParam(req, "token")
	res, err := p.VerifyAccessToken(req.Context(), identity.AccessToken(token), identity.ValidateRemote)
	if err != nil {
		p.writeError(w, err)
		return
	}
	claims, _ := jwt.UnverifiedClaims(token)
	p.writeJSON(w, http.StatusOK, map[string]interface{}{
		"href":        p.ApplicationHref() + "/authTokens/" + token,
		"account":     hrefRef{Href: res.AccountHref},
		"application": hrefRef{Href: p.ApplicationHref()},
		"jwt":         token,
		"expandedJwt": map[string]interface{}{"claims": claims},
	})
}

func (p *Provider) serveOrganizations(w http.ResponseWriter, req *http.Request) {
	nameKey := req.URL.Query().Get("nameKey")
	out := collection{Href: p.ApplicationHref() + "/organizations", Items: []interface{}{}}
	p.mu.Lock()
	if href, ok := p.orgs[nameKey]; ok {
		out.Items = append(out.Items, map[string]string{"href": href, "nameKey": nameKey})
	}
	p.mu.Unlock()
	p.writeJSON(w, http.StatusOK, out)
}

func (p *Provider) serveAccount(w http.ResponseWriter, req *http.Request) {
	a, err := p.GetAccount(req.Context(), p.origin+req.URL.Path, expand.Request{})
	if err != nil {
		p.writeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusOK, a)
}

func (p *Provider) serveAccountResource(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	accountHref := p.origin + "/v1/accounts/" + chi.URLParam(req, "id")
	resource := chi.URLParam(req, "resource")

	switch resource {
	case "accessTokens", "refreshTokens":
		typ := identity.TokenTypeAccess
		if resource == "refreshTokens" {
			typ = identity.TokenTypeRefresh
		}
		tokens, err := p.ListTokens(ctx, accountHref, typ, req.URL.Query().Get("jti"))
		if err != nil {
			p.writeError(w, err)
			return
		}
		out := collection{Href: accountHref + "/" + resource, Items: []interface{}{}}
		for _, t := range tokens {
			out.Items = append(out.Items, t)
		}
		p.writeJSON(w, http.StatusOK, out)
		return
	}

	r := expand.Resource(resource)
	er, err := expand.NewRequest(r)
	if err != nil {
		p.writeError(w, notFound())
		return
	}
	a, err := p.GetAccount(ctx, accountHref, er)
	if err != nil {
		p.writeError(w, err)
		return
	}
	var out interface{}
	switch r {
	case expand.CustomData:
		out = a.CustomData
	case expand.Groups:
		c := collection{Href: accountHref + "/groups", Items: []interface{}{}}
		for _, g := range a.Groups {
			c.Items = append(c.Items, g)
		}
		out = c
	case expand.Directory:
		out = a.Directory
	case expand.Tenant:
		out = a.Tenant
	case expand.ProviderData:
		out = a.ProviderData
	}
	p.writeJSON(w, http.StatusOK, out)
}

func (p *Provider) serveDeleteToken(w http.ResponseWriter, req *http.Request) {
	href := p.origin + req.URL.Path
	p.mu.Lock()
	_, ok := p.tokens[href]
	p.mu.Unlock()
	if !ok {
		p.writeError(w, notFound())
		return
	}
	if err := p.DeleteToken(req.Context(), href); err != nil {
		p.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
