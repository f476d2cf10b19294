// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package revoke

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/hashicorp/capsession/principal"
)

// maxBodyBytes bounds a revoke request body.
const maxBodyBytes = 1 << 16

// Handler serves POST requests revoking the token in the "token" body
// parameter, sent as a form or a JSON object.  The caller must already be
// authenticated; the token is looked up among the caller's own tokens.
//
// The response is 401 for an unauthenticated caller and 400 with
// {"error":"invalid_request"} when token is missing.  Otherwise it is 200,
// including when the token is unknown or could not be revoked.
func (rv *Revoker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "invalid_request")
			return
		}
		pc, _ := principal.FromRequest(req)
		if !pc.Authenticated() {
			writeError(w, http.StatusUnauthorized, "invalid_client")
			return
		}
		token := tokenParam(w, req)
		if token == "" {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		if err := rv.RevokeToken(req.Context(), pc.Account.Href, token); err != nil {
			rv.logger.Warn("revoke request failed", "error", err)
		}
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	}
}

func tokenParam(w http.ResponseWriter, req *http.Request) string {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if mt, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type")); mt == "application/json" {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return ""
		}
		return body.Token
	}
	return req.PostFormValue("token")
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
