// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package handlers provides the HTTP endpoints of an application using
// capsession: password login, logout, the current account and token
// revocation.  Router mounts them on a chi router behind the credential
// resolver.
package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/hashicorp/capsession/authn"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/principal"
	"github.com/hashicorp/capsession/revoke"
	"github.com/hashicorp/capsession/session"
)

const maxBodyBytes = 1 << 16

// errorBody is the JSON error response of Login and Me.
type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type loginRequest struct {
	Username            string `json:"username"`
	Login               string `json:"login"`
	Password            string `json:"password"`
	AccountStore        string `json:"accountStore"`
	OrganizationNameKey string `json:"organizationNameKey"`
}

// Login handles a password login posted as JSON or as a form.  The login name
// is read from username, or from login when username is empty.  On success
// the session cookies are written and the account is returned as JSON.
// Failures are 400 {"status", "message"} with messages that do not reveal
// whether the account exists.
//
// Supported options: WithLogger
func Login(authr *authn.Authenticator, opt ...Option) http.HandlerFunc {
	opts := getHandlerOpts(opt...)
	logger := opts.withLogger.Named("login")
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed)})
			return
		}
		body, err := decodeLogin(w, req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{http.StatusBadRequest, "Malformed login request."})
			return
		}
		creds := identity.PasswordCredentials{
			Username:            body.Username,
			Password:            body.Password,
			AccountStore:        body.AccountStore,
			OrganizationNameKey: body.OrganizationNameKey,
		}
		if creds.Username == "" {
			creds.Username = body.Login
		}

		res, err := authr.Authenticate(w, req, creds)
		if err != nil {
			status, msg := loginFailure(err)
			if status >= http.StatusInternalServerError {
				logger.Error("login failed", "error", err)
			}
			writeJSON(w, status, errorBody{status, msg})
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, res.Account)
	}
}

func decodeLogin(w http.ResponseWriter, req *http.Request) (loginRequest, error) {
	var body loginRequest
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if mt, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type")); mt == "application/json" {
		err := json.NewDecoder(req.Body).Decode(&body)
		return body, err
	}
	if err := req.ParseForm(); err != nil {
		return body, err
	}
	body.Username = req.PostForm.Get("username")
	body.Login = req.PostForm.Get("login")
	body.Password = req.PostForm.Get("password")
	body.AccountStore = req.PostForm.Get("accountStore")
	body.OrganizationNameKey = req.PostForm.Get("organizationNameKey")
	return body, nil
}

// loginFailure maps an Authenticate error to a response status and message.
func loginFailure(err error) (int, string) {
	var pe *identity.ProviderError
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusBadRequest, "Missing username or password."
	case errors.Is(err, identity.ErrAccountDisabled), errors.Is(err, identity.ErrHook):
		return http.StatusBadRequest, authn.GenericLoginFailure
	case errors.As(authn.RemapError(err), &pe) && pe.Status < http.StatusInternalServerError:
		return http.StatusBadRequest, pe.Message
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// Logout destroys the current session.  It redirects to redirect, or
// responds 204 when redirect is empty.  Revocation failures are logged and
// do not change the response; the cookies are always deleted.
//
// Supported options: WithLogger
func Logout(sessions *session.Manager, redirect string, opt ...Option) http.HandlerFunc {
	opts := getHandlerOpts(opt...)
	logger := opts.withLogger.Named("logout")
	return func(w http.ResponseWriter, req *http.Request) {
		if err := sessions.DestroySession(w, req); err != nil {
			logger.Warn("unable to revoke session tokens", "error", err)
		}
		w.Header().Set("Cache-Control", "no-store")
		if redirect == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Redirect(w, req, redirect, http.StatusFound)
	}
}

// Me returns the resolved account as JSON, or 401 when the request is not
// authenticated.
func Me() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		a := principal.User(req)
		if a == nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized)})
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, a)
	}
}

// Revoke is the token revocation endpoint of rv.
func Revoke(rv *revoke.Revoker) http.HandlerFunc {
	return rv.Handler()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
