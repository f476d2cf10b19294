// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestSignJWT will bundle the provided claims into a signed JWT.  Extra JOSE
// headers (ie: "kid" or "stt") may be supplied via headers.
func TestSignJWT(t testing.TB, key interface{}, alg Alg, claims interface{}, headers map[string]interface{}) string {
	t.Helper()
	require := require.New(t)

	opts := (&jose.SignerOptions{}).WithType("JWT")
	for k, v := range headers {
		opts = opts.WithHeader(jose.HeaderKey(k), v)
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key}, opts)
	require.NoError(err)

	raw, err := jwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(err)
	return raw
}

// TestGenerateKeys will generate a test ECDSA P-256 key pair and return the
// private key along with the PEM encoded public key.
func TestGenerateKeys(t testing.TB) (*ecdsa.PrivateKey, string) {
	t.Helper()
	require := require.New(t)
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	derBytes, err := x509.MarshalPKIXPublicKey(priv.Public())
	require.NoError(err)
	pub := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes}))
	return priv, pub
}
