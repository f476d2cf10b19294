// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"

	"github.com/hashicorp/capsession/identity"
)

// AssertionStatus is the status claim of an assertion minted for an account
// that has already proven its identity.
const AssertionStatus = "AUTHENTICATED"

type assertionClaims struct {
	Status string `json:"status"`
}

// NewAssertion returns a compact HS256 JWT asserting that account has
// authenticated.  The identity provider exchanges it for session tokens.
func (m *Manager) NewAssertion(account *identity.Account) (string, error) {
	const op = "session.(Manager).NewAssertion"
	if account == nil {
		return "", fmt.Errorf("%s: account is nil: %w", op, identity.ErrNilParameter)
	}
	if account.Href == "" {
		return "", fmt.Errorf("%s: account has no href: %w", op, identity.ErrInvalidParameter)
	}
	sig, err := m.signer()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: failed to generate token id: %w", op, err)
	}
	now := m.clock.Now().UTC()
	claims := gojwt.Claims{
		Subject:  account.Href,
		Issuer:   m.cfg.ApplicationHref,
		Audience: gojwt.Audience{m.cfg.ClientID},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(m.cfg.AssertionTTL)),
		ID:       id,
	}
	token, err := gojwt.Signed(sig).Claims(claims).Claims(assertionClaims{Status: AssertionStatus}).Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: failed to serialize assertion: %w", op, err)
	}
	return token, nil
}

func (m *Manager) signer() (jose.Signer, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader(jose.HeaderKey("kid"), m.cfg.ClientID)
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(m.cfg.AssertionSecret)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return sig, nil
}
