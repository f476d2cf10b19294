// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package federated

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/capsession/identity"
)

// SuccessResponseFunc is used by Callback to create a response when the
// callback completes.
//
// status is the result's status claim.  account is the logged in account, or
// nil for StatusLogout.  req carries the new principal.
type SuccessResponseFunc func(status string, account *identity.Account, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callback to create a response when the
// callback fails.  No session cookies have been written when it is called.
type ErrorResponseFunc func(err error, w http.ResponseWriter, req *http.Request)

// Redirect returns a SuccessResponseFunc redirecting to location.
func Redirect(location string) SuccessResponseFunc {
	return func(_ string, _ *identity.Account, w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, location, http.StatusFound)
	}
}

// JSONError writes {"status": code, "message": text}.  Malformed results are
// 400, failed token exchanges 502 and everything else 401.
func JSONError(err error, w http.ResponseWriter, _ *http.Request) {
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, identity.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, identity.ErrTokenExchange):
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	}{status, http.StatusText(status)})
}
