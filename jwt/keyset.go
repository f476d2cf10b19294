// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/hashicorp/capsession/internal/httpclient"
)

// KeySet verifies the signature of a compact serialized JWT and returns its
// claims.  No claim is validated.
type KeySet interface {
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// HMACKeySet verifies tokens signed with a shared secret.  The identity
// provider signs the tokens it issues with the secret of the API key that
// requested them, so this is the key set local validation normally uses.
// Several secrets may be given while a key is being rotated.
type HMACKeySet struct {
	secrets []interface{}
}

// NewHMACKeySet returns a KeySet accepting HS256, HS384 and HS512 signatures
// made with any of secrets.
func NewHMACKeySet(secrets ...string) (KeySet, error) {
	const op = "jwt.NewHMACKeySet"
	if len(secrets) == 0 {
		return nil, fmt.Errorf("%s: at least one secret is required: %w", op, ErrInvalidParameter)
	}
	ks := &HMACKeySet{secrets: make([]interface{}, 0, len(secrets))}
	for i, s := range secrets {
		if s == "" {
			return nil, fmt.Errorf("%s: secret %d is empty: %w", op, i, ErrInvalidParameter)
		}
		ks.secrets = append(ks.secrets, []byte(s))
	}
	return ks, nil
}

// VerifySignature implements KeySet.
func (ks *HMACKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	return verifyWithKeys(token, hmacAlgorithms, ks.secrets)
}

// StaticKeySet verifies tokens signed with one of a fixed set of RSA, ECDSA
// or Ed25519 public keys.
type StaticKeySet struct {
	publicKeys []interface{}
}

// NewStaticKeySet returns a KeySet for PEM encoded PKIX public keys or x509
// certificates.
func NewStaticKeySet(publicKeys ...string) (KeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: at least one public key is required: %w", op, ErrInvalidParameter)
	}
	ks := &StaticKeySet{publicKeys: make([]interface{}, 0, len(publicKeys))}
	for i, p := range publicKeys {
		k, err := parsePublicKey(p)
		if err != nil {
			return nil, fmt.Errorf("%s: public key %d: %w", op, i, err)
		}
		ks.publicKeys = append(ks.publicKeys, k)
	}
	return ks, nil
}

// VerifySignature implements KeySet.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	return verifyWithKeys(token, asymmetricAlgorithms, ks.publicKeys)
}

// RemoteKeySet verifies tokens with the keys published at a JWKS URL.  Keys
// are fetched on first use and again whenever a token names an unknown key.
type RemoteKeySet struct {
	keys oidc.KeySet
}

// NewRemoteKeySet returns a KeySet for the JWKS at jwksURL.  caPEM optionally
// replaces the system roots when fetching it.
func NewRemoteKeySet(ctx context.Context, jwksURL, caPEM string) (KeySet, error) {
	const op = "jwt.NewRemoteKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks url is empty: %w", op, ErrInvalidParameter)
	}
	ctx, err := clientContext(ctx, caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &RemoteKeySet{keys: oidc.NewRemoteKeySet(ctx, jwksURL)}, nil
}

// DiscoverKeySet reads the jwks_uri of issuer's OpenID discovery document
// and returns a RemoteKeySet for it.
func DiscoverKeySet(ctx context.Context, issuer, caPEM string) (KeySet, error) {
	const op = "jwt.DiscoverKeySet"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	cctx, err := clientContext(ctx, caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p, err := oidc.NewProvider(cctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var doc struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := p.Claims(&doc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if doc.JWKSURL == "" {
		return nil, fmt.Errorf("%s: discovery document for %s has no jwks_uri: %w", op, issuer, ErrInvalidParameter)
	}
	return &RemoteKeySet{keys: oidc.NewRemoteKeySet(cctx, doc.JWKSURL)}, nil
}

// VerifySignature implements KeySet.
func (ks *RemoteKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	payload, err := ks.keys.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	claims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: payload is not a claims set: %s", ErrInvalidParameter, err)
	}
	return claims, nil
}

// verifyWithKeys returns the claims of token once any of keys verifies it.
func verifyWithKeys(token string, algs []Alg, keys []interface{}) (map[string]interface{}, error) {
	parsed, err := jwt.ParseSigned(token, joseAlgorithms(algs))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	for _, k := range keys {
		claims := map[string]interface{}{}
		if parsed.Claims(k, &claims) == nil {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("%w: no key verified the token", ErrInvalidSignature)
}

func parsePublicKey(p string) (interface{}, error) {
	block, _ := pem.Decode([]byte(p))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found: %w", ErrInvalidParameter)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, cerr := x509.ParseCertificate(block.Bytes)
		if cerr != nil {
			return nil, fmt.Errorf("neither a public key nor a certificate: %w: %w", ErrInvalidParameter, err)
		}
		key = cert.PublicKey
	}
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T: %w", key, ErrInvalidParameter)
	}
}

// clientContext carries an HTTP client trusting caPEM for go-oidc.  The
// context is returned unchanged when caPEM is empty.
func clientContext(ctx context.Context, caPEM string) (context.Context, error) {
	if caPEM == "" {
		return ctx, nil
	}
	c, err := httpclient.New(caPEM, 0)
	if err != nil {
		return nil, fmt.Errorf("provider CA: %w", err)
	}
	return httpclient.Context(ctx, c), nil
}
