// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"encoding/json"
	"net/http"

	"github.com/hashicorp/capsession/expand"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/principal"
)

// FailureFunc writes the response for a request a guard turned away.
// status is http.StatusUnauthorized or http.StatusForbidden.
type FailureFunc func(w http.ResponseWriter, r *http.Request, status int)

// JSONFailure writes {"status": status, "message": text} with status.
func JSONFailure(w http.ResponseWriter, _ *http.Request, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	}{status, http.StatusText(status)})
}

// Required returns middleware that only admits authenticated requests.  A
// rejected request that carried session cookies has its session destroyed
// so the browser stops sending them.  A nil onFail uses JSONFailure.
func (rs *Resolver) Required(onFail FailureFunc) func(http.Handler) http.Handler {
	if onFail == nil {
		onFail = JSONFailure
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := rs.require(w, r)
			if !ok {
				onFail(w, r, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GroupsRequired returns middleware that only admits authenticated accounts
// in the named groups: every group when all is set, otherwise at least one.
// Groups are fetched when the resolved account was not expanded with them.
// A nil onFail uses JSONFailure.
func (rs *Resolver) GroupsRequired(groups []string, all bool, onFail FailureFunc) func(http.Handler) http.Handler {
	if onFail == nil {
		onFail = JSONFailure
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := rs.require(w, r)
			if !ok {
				onFail(w, r, http.StatusUnauthorized)
				return
			}
			pc, _ := principal.FromRequest(r)
			if err := rs.loadGroups(r, pc); err != nil {
				pc.RecordError(err)
				rs.logger.Error("unable to fetch account groups", "account", pc.Account.Href, "error", err)
				onFail(w, r, http.StatusForbidden)
				return
			}
			if !inGroups(pc.Account, groups, all) {
				rs.logger.Debug("account not in required groups", "account", pc.Account.Href, "groups", groups, "all", all)
				onFail(w, r, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rs *Resolver) require(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	r = rs.Resolve(w, r)
	if pc, _ := principal.FromRequest(r); pc.Authenticated() {
		return r, true
	}
	if rs.cookies.HasSession(r) {
		if err := rs.sessions.DestroySession(w, r); err != nil {
			rs.logger.Warn("unable to destroy rejected session", "error", err)
		}
	}
	return r, false
}

func (rs *Resolver) loadGroups(r *http.Request, pc *principal.Context) error {
	if pc.Account.Groups != nil {
		return nil
	}
	req, err := expand.NewRequest(expand.Groups)
	if err != nil {
		return err
	}
	a, err := rs.svc.GetAccount(r.Context(), pc.Account.Href, req)
	if err != nil {
		return err
	}
	pc.Account.Groups = a.Groups
	if pc.Account.Groups == nil {
		pc.Account.Groups = []identity.Group{}
	}
	return nil
}

func inGroups(a *identity.Account, groups []string, all bool) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		in := a.InGroup(g)
		switch {
		case all && !in:
			return false
		case !all && in:
			return true
		}
	}
	return all
}
