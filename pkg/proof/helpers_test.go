// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyproof.
//
// go-keyproof is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package proof

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jeremyhahn/go-keyproof/pkg/replay"
	"github.com/stretchr/testify/require"
)

func generateTestKey(t *testing.T, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return key
}

func publicKeyPEM(t *testing.T, pub any) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func nonceClaims(nonce any) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		NonceClaim: nonce,
		"iat":      now.Unix(),
		"exp":      now.Add(5 * time.Minute).Unix(),
	}
}

func newTestEngine(t *testing.T) (*Engine, *replay.MemoryGuard) {
	t.Helper()
	guard := replay.NewMemoryGuard()
	engine, err := NewEngine(&Config{Guard: guard})
	require.NoError(t, err)
	return engine, guard
}

func guardCount(t *testing.T, guard replay.Guard) int {
	t.Helper()
	n, err := guard.Count()
	require.NoError(t, err)
	return n
}
