// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package revoke deletes the identity provider's record of issued tokens so
// they can no longer be refreshed or validated remotely.
package revoke

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/capsession/cookie"
	"github.com/hashicorp/capsession/identity"
	"github.com/hashicorp/capsession/jwt"
	"github.com/hashicorp/capsession/metrics"
	"github.com/hashicorp/capsession/principal"
)

// TokenIdentifier locates the provider's resource for a compact token.
type TokenIdentifier struct {
	// ID is the token's jti.
	ID string

	// Type is the token's declared type, read from its stt header.
	Type identity.TokenType

	// Subject is the href of the account the token was issued to.
	Subject string
}

// Revoker revokes tokens.  It is safe for concurrent use.
type Revoker struct {
	svc     identity.Service
	cookies *cookie.Store
	keySet  jwt.KeySet
	logger  hclog.Logger
	metrics *metrics.Metrics
}

// NewRevoker creates a Revoker.  keySet must verify the signatures of tokens
// issued by svc.
//
// Supported options: WithLogger, WithMetrics
func NewRevoker(svc identity.Service, cookies *cookie.Store, keySet jwt.KeySet, opt ...Option) (*Revoker, error) {
	const op = "revoke.NewRevoker"
	switch {
	case svc == nil:
		return nil, fmt.Errorf("%s: identity service is nil: %w", op, identity.ErrNilParameter)
	case cookies == nil:
		return nil, fmt.Errorf("%s: cookie store is nil: %w", op, identity.ErrNilParameter)
	case keySet == nil:
		return nil, fmt.Errorf("%s: key set is nil: %w", op, identity.ErrNilParameter)
	}
	opts := getRevokerOpts(opt...)
	return &Revoker{
		svc:     svc,
		cookies: cookies,
		keySet:  keySet,
		logger:  opts.withLogger.Named("revoke"),
		metrics: opts.withMetrics,
	}, nil
}

// Identify verifies the token's signature and returns its identifier.
// Expiry is not checked: an expired token may still be revoked.
func (rv *Revoker) Identify(ctx context.Context, token string) (*TokenIdentifier, error) {
	const op = "revoke.(Revoker).Identify"
	if token == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, identity.ErrInvalidParameter)
	}
	claims, err := rv.keySet.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, identity.ErrInvalidToken, err)
	}
	h, err := jwt.ParseHeaders(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, identity.ErrInvalidToken, err)
	}
	id := &TokenIdentifier{
		ID:      jwt.StringClaim(claims, "jti"),
		Type:    identity.TokenType(h.ExtraString("stt")),
		Subject: jwt.StringClaim(claims, "sub"),
	}
	if id.Type != identity.TokenTypeAccess && id.Type != identity.TokenTypeRefresh {
		return nil, fmt.Errorf("%s: unknown token type %q: %w", op, id.Type, identity.ErrInvalidToken)
	}
	if id.ID == "" {
		return nil, fmt.Errorf("%s: token has no jti: %w", op, identity.ErrInvalidToken)
	}
	return id, nil
}

// RevokeToken deletes the provider's resource for token.  The resource is
// looked up in accountHref's token collection; when accountHref is empty the
// token's own subject is used.  Revoking a token that is already gone is not
// an error.
func (rv *Revoker) RevokeToken(ctx context.Context, accountHref, token string) error {
	const op = "revoke.(Revoker).RevokeToken"
	id, err := rv.Identify(ctx, token)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, identity.ErrRevocation, err)
	}
	if err := rv.revoke(ctx, accountHref, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (rv *Revoker) revoke(ctx context.Context, accountHref string, id *TokenIdentifier) (retErr error) {
	defer func() {
		outcome := metrics.OutcomeSuccess
		if retErr != nil {
			outcome = metrics.OutcomeFailure
		}
		rv.metrics.Revocation(string(id.Type), outcome)
	}()
	if accountHref == "" {
		accountHref = id.Subject
	}
	if accountHref == "" {
		return fmt.Errorf("no account to revoke %s token from: %w", id.Type, identity.ErrRevocation)
	}
	resources, err := rv.svc.ListTokens(ctx, accountHref, id.Type, id.ID)
	if err != nil {
		return fmt.Errorf("unable to list %s tokens: %w: %w", id.Type, identity.ErrRevocation, err)
	}
	var result *multierror.Error
	for _, tr := range resources {
		if tr.ID != "" && tr.ID != id.ID {
			continue
		}
		if err := rv.svc.DeleteToken(ctx, tr.Href); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to delete %s token: %w: %w", id.Type, identity.ErrRevocation, err))
		}
	}
	return result.ErrorOrNil()
}

// Revoke revokes the tokens held in the request's session cookies and
// deletes both cookies.  The cookies are deleted whatever the outcome.
// Cookies that do not hold a verifiable token are skipped.  The returned
// error is diagnostic; it has already been logged and callers should not
// fail a logout because of it.
func (rv *Revoker) Revoke(w http.ResponseWriter, r *http.Request) error {
	const op = "revoke.(Revoker).Revoke"
	defer rv.cookies.DeleteAll(w, r)

	ctx := r.Context()
	var accountHref string
	if a := principal.User(r); a != nil {
		accountHref = a.Href
	}

	var tokens []string
	if t, ok := rv.cookies.AccessToken(r); ok {
		tokens = append(tokens, string(t))
	}
	if t, ok := rv.cookies.RefreshToken(r); ok {
		tokens = append(tokens, string(t))
	}

	var result *multierror.Error
	for _, t := range tokens {
		id, err := rv.Identify(ctx, t)
		if err != nil {
			rv.logger.Debug("skipping unverifiable session cookie", "error", err)
			rv.metrics.Revocation("unknown", metrics.OutcomeSkipped)
			continue
		}
		if err := rv.revoke(ctx, accountHref, id); err != nil {
			rv.logger.Warn("unable to revoke token", "type", id.Type, "error", err)
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
