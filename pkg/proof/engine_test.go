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
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jeremyhahn/go-keyproof/pkg/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrGuardRequired)

	_, err = NewEngine(&Config{})
	assert.ErrorIs(t, err, ErrGuardRequired)

	engine, err := NewEngine(&Config{Guard: replay.NewMemoryGuard()})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokenSize, engine.maxTokenSize)
}

func TestVerify_EndToEnd(t *testing.T) {
	engine, guard := newTestEngine(t)
	key := generateTestKey(t, elliptic.P256())
	pubPEM := publicKeyPEM(t, &key.PublicKey)

	token := signToken(t, jwt.SigningMethodES256, key, jwt.MapClaims{NonceClaim: "n1"})

	out, err := engine.Verify(token, pubPEM)
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, ReasonVerified, out.Reason)
	assert.Equal(t, CodeVerified, out.Code)
	assert.Equal(t, "n1", out.Nonce)

	out, err = engine.Verify(token, pubPEM)
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.Equal(t, ReasonNonceReused, out.Reason)
	assert.Equal(t, CodeNonceReused, out.Code)

	assert.Equal(t, 1, guardCount(t, guard))
}

func TestVerify_JWKKeyMaterial(t *testing.T) {
	engine, _ := newTestEngine(t)
	key := generateTestKey(t, elliptic.P256())

	jwk, err := jose.JSONWebKey{Key: &key.PublicKey, Algorithm: PinnedAlgorithm}.MarshalJSON()
	require.NoError(t, err)

	out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, nonceClaims("jwk-nonce")), string(jwk))
	require.NoError(t, err)
	assert.True(t, out.Verified, out.Reason)
}

func TestVerify_SingleUseAcrossDistinctProofs(t *testing.T) {
	engine, _ := newTestEngine(t)

	first := generateTestKey(t, elliptic.P256())
	second := generateTestKey(t, elliptic.P256())

	tokenA := signToken(t, jwt.SigningMethodES256, first, nonceClaims("shared"))
	tokenB := signToken(t, jwt.SigningMethodES256, second, nonceClaims("shared"))

	out, err := engine.Verify(tokenB, publicKeyPEM(t, &second.PublicKey))
	require.NoError(t, err)
	assert.True(t, out.Verified)

	out, err = engine.Verify(tokenA, publicKeyPEM(t, &first.PublicKey))
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.Equal(t, ReasonNonceReused, out.Reason)
}

func TestVerify_SingleUseConcurrent(t *testing.T) {
	const submitters = 64

	engine, guard := newTestEngine(t)

	type submission struct{ token, key string }
	subs := make([]submission, submitters)
	for i := range subs {
		key := generateTestKey(t, elliptic.P256())
		subs[i] = submission{
			token: signToken(t, jwt.SigningMethodES256, key, nonceClaims("contended")),
			key:   publicKeyPEM(t, &key.PublicKey),
		}
	}

	outcomes := make([]Outcome, submitters)
	var start, done sync.WaitGroup
	start.Add(1)
	for i := range subs {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			start.Wait()
			out, err := engine.Verify(subs[i].token, subs[i].key)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			outcomes[i] = out
		}(i)
	}
	start.Done()
	done.Wait()

	verified := 0
	for _, out := range outcomes {
		if out.Verified {
			verified++
			continue
		}
		assert.Equal(t, CodeNonceReused, out.Code)
	}
	assert.Equal(t, 1, verified, "exactly one concurrent submission may verify")
	assert.Equal(t, 1, guardCount(t, guard))
}

func TestVerify_NonceIsTrimmedBeforeConsumption(t *testing.T) {
	engine, guard := newTestEngine(t)
	key := generateTestKey(t, elliptic.P256())
	pubPEM := publicKeyPEM(t, &key.PublicKey)

	out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, nonceClaims("  padded\t")), pubPEM)
	require.NoError(t, err)
	require.True(t, out.Verified)
	assert.Equal(t, "padded", out.Nonce)

	out, err = engine.Verify(signToken(t, jwt.SigningMethodES256, key, nonceClaims("padded")), pubPEM)
	require.NoError(t, err)
	assert.Equal(t, CodeNonceReused, out.Code)

	nonces, err := guard.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"padded"}, nonces)
}

func TestVerify_UnissuedNonceStillVerifies(t *testing.T) {
	// Issuance is stateless, so any well-formed nonce is accepted once.
	engine, _ := newTestEngine(t)
	key := generateTestKey(t, elliptic.P256())

	out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, nonceClaims("never-issued")), publicKeyPEM(t, &key.PublicKey))
	require.NoError(t, err)
	assert.True(t, out.Verified)
}

func TestVerify_InvalidNonceClaim(t *testing.T) {
	key := generateTestKey(t, elliptic.P256())
	pubPEM := publicKeyPEM(t, &key.PublicKey)

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{name: "empty", claims: nonceClaims("")},
		{name: "spaces", claims: nonceClaims("    ")},
		{name: "mixed whitespace", claims: nonceClaims(" \t\r\n ")},
		{name: "missing", claims: jwt.MapClaims{"sub": "holder"}},
		{name: "number", claims: nonceClaims(42)},
		{name: "object", claims: nonceClaims(map[string]any{"value": "n1"})},
		{name: "null", claims: nonceClaims(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, guard := newTestEngine(t)

			out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, tt.claims), pubPEM)
			require.NoError(t, err)
			assert.False(t, out.Verified)
			assert.Equal(t, CodeInvalidNonce, out.Code)
			assert.Equal(t, ReasonInvalidNonce, out.Reason)
			assert.Zero(t, guardCount(t, guard), "guard must not be touched")
		})
	}
}

func TestVerify_InvalidPublicKey(t *testing.T) {
	engine, guard := newTestEngine(t)
	key := generateTestKey(t, elliptic.P256())
	token := signToken(t, jwt.SigningMethodES256, key, nonceClaims("n1"))

	for _, material := range []string{"", "garbage", "-----BEGIN PUBLIC KEY-----\n-----END PUBLIC KEY-----\n"} {
		out, err := engine.Verify(token, material)
		require.NoError(t, err)
		assert.False(t, out.Verified)
		assert.Equal(t, ReasonInvalidPublicKey, out.Reason)
		assert.Equal(t, CodeInvalidPublicKey, out.Code)
	}
	assert.Zero(t, guardCount(t, guard))
}

func TestVerify_WrongKey(t *testing.T) {
	engine, guard := newTestEngine(t)
	signer := generateTestKey(t, elliptic.P256())
	other := generateTestKey(t, elliptic.P256())

	out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, signer, nonceClaims("n1")), publicKeyPEM(t, &other.PublicKey))
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.Equal(t, CodeInvalidSignature, out.Code)
	assert.True(t, strings.HasPrefix(out.Reason, "signature verification failed: "), out.Reason)
	assert.Zero(t, guardCount(t, guard))
}

func TestVerify_TamperedSignature(t *testing.T) {
	key := generateTestKey(t, elliptic.P256())
	pubPEM := publicKeyPEM(t, &key.PublicKey)
	token := signToken(t, jwt.SigningMethodES256, key, nonceClaims("tamper"))

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	require.Len(t, sig, 64)

	for _, bit := range []int{0, 1, 7, 63, 255, 256, 300, 511} {
		t.Run(fmt.Sprintf("bit_%d", bit), func(t *testing.T) {
			engine, guard := newTestEngine(t)

			flipped := append([]byte(nil), sig...)
			flipped[bit/8] ^= 1 << (bit % 8)
			tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)

			out, err := engine.Verify(tampered, pubPEM)
			require.NoError(t, err)
			assert.False(t, out.Verified)
			assert.Equal(t, CodeInvalidSignature, out.Code)
			assert.Zero(t, guardCount(t, guard))
		})
	}

	engine, _ := newTestEngine(t)
	out, err := engine.Verify(token, pubPEM)
	require.NoError(t, err)
	assert.True(t, out.Verified, "untampered token must still verify")
}

func TestVerify_TamperedPayload(t *testing.T) {
	engine, guard := newTestEngine(t)
	key := generateTestKey(t, elliptic.P256())
	token := signToken(t, jwt.SigningMethodES256, key, nonceClaims("original"))

	parts := strings.Split(token, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(`{"nonce":"forged"}`))

	out, err := engine.Verify(parts[0]+"."+forged+"."+parts[2], publicKeyPEM(t, &key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidSignature, out.Code)
	assert.Zero(t, guardCount(t, guard))
}

func TestVerify_AlgorithmPinning(t *testing.T) {
	p256 := generateTestKey(t, elliptic.P256())
	p256PEM := publicKeyPEM(t, &p256.PublicKey)
	p384 := generateTestKey(t, elliptic.P384())

	_, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	headerES256 := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"ES256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"nonce":"forged-alg"}`))
	mac := hmac.New(sha256.New, []byte(p256PEM))
	mac.Write([]byte(headerES256 + "." + payload))
	hmacUnderES256Header := headerES256 + "." + payload + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name     string
		token    string
		key      string
		wantCode Code
	}{
		{
			// Classic confusion: the public key is used as an HMAC secret.
			name:     "HS256 keyed with public PEM",
			token:    signToken(t, jwt.SigningMethodHS256, []byte(p256PEM), nonceClaims("forged-alg")),
			key:      p256PEM,
			wantCode: CodeInvalidSignature,
		},
		{
			name:     "HS256 signature under ES256 header",
			token:    hmacUnderES256Header,
			key:      p256PEM,
			wantCode: CodeInvalidSignature,
		},
		{
			name:     "alg none",
			token:    signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, nonceClaims("forged-alg")),
			key:      p256PEM,
			wantCode: CodeInvalidSignature,
		},
		{
			name:     "ES384 against P-256 key",
			token:    signToken(t, jwt.SigningMethodES384, p384, nonceClaims("forged-alg")),
			key:      p256PEM,
			wantCode: CodeInvalidSignature,
		},
		{
			// Self-consistent under its own algorithm but outside the pinned scheme.
			name:     "ES384 with matching P-384 key",
			token:    signToken(t, jwt.SigningMethodES384, p384, nonceClaims("forged-alg")),
			key:      publicKeyPEM(t, &p384.PublicKey),
			wantCode: CodeInvalidPublicKey,
		},
		{
			name:     "EdDSA",
			token:    signToken(t, jwt.SigningMethodEdDSA, edPriv, nonceClaims("forged-alg")),
			key:      p256PEM,
			wantCode: CodeInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, guard := newTestEngine(t)

			out, err := engine.Verify(tt.token, tt.key)
			require.NoError(t, err)
			assert.False(t, out.Verified)
			assert.Equal(t, tt.wantCode, out.Code, out.Reason)
			assert.Zero(t, guardCount(t, guard))
		})
	}
}

func TestVerify_TimeClaims(t *testing.T) {
	key := generateTestKey(t, elliptic.P256())
	pubPEM := publicKeyPEM(t, &key.PublicKey)
	now := time.Now()

	t.Run("expired", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		claims := jwt.MapClaims{NonceClaim: "n1", "exp": now.Add(-time.Hour).Unix()}

		out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, claims), pubPEM)
		require.NoError(t, err)
		assert.Equal(t, CodeInvalidSignature, out.Code)
		assert.Contains(t, out.Reason, "expired")
	})

	t.Run("expired within leeway", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		claims := jwt.MapClaims{NonceClaim: "n1", "exp": now.Add(-10 * time.Second).Unix()}

		out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, claims), pubPEM)
		require.NoError(t, err)
		assert.True(t, out.Verified, out.Reason)
	})

	t.Run("not yet valid", func(t *testing.T) {
		engine, _ := newTestEngine(t)
		claims := jwt.MapClaims{NonceClaim: "n1", "nbf": now.Add(time.Hour).Unix()}

		out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, claims), pubPEM)
		require.NoError(t, err)
		assert.Equal(t, CodeInvalidSignature, out.Code)
	})

	t.Run("expiration required", func(t *testing.T) {
		engine, err := NewEngine(&Config{Guard: replay.NewMemoryGuard(), RequireExpiration: true})
		require.NoError(t, err)

		out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, jwt.MapClaims{NonceClaim: "n1"}), pubPEM)
		require.NoError(t, err)
		assert.Equal(t, CodeInvalidSignature, out.Code)

		out, err = engine.Verify(signToken(t, jwt.SigningMethodES256, key, nonceClaims("n2")), pubPEM)
		require.NoError(t, err)
		assert.True(t, out.Verified, out.Reason)
	})
}

func TestVerify_StructurallyInvalidToken(t *testing.T) {
	key := generateTestKey(t, elliptic.P256())
	pubPEM := publicKeyPEM(t, &key.PublicKey)

	for _, token := range []string{"", "abc", "a.b", "a.b.c", "..", "a.b.c.d"} {
		engine, guard := newTestEngine(t)

		out, err := engine.Verify(token, pubPEM)
		require.NoError(t, err)
		assert.Equal(t, CodeInvalidSignature, out.Code, "token %q", token)
		assert.Zero(t, guardCount(t, guard))
	}
}

func TestVerify_OversizedToken(t *testing.T) {
	guard := replay.NewMemoryGuard()
	engine, err := NewEngine(&Config{Guard: guard, MaxTokenSize: 256})
	require.NoError(t, err)

	key := generateTestKey(t, elliptic.P256())
	claims := nonceClaims("n1")
	claims["padding"] = strings.Repeat("x", 512)

	out, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, claims), publicKeyPEM(t, &key.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidSignature, out.Code)
	assert.Contains(t, out.Reason, ErrTokenTooLarge.Error())
}

func TestVerify_ClosedGuardIsAnError(t *testing.T) {
	engine, guard := newTestEngine(t)
	require.NoError(t, guard.Close())

	key := generateTestKey(t, elliptic.P256())
	_, err := engine.Verify(signToken(t, jwt.SigningMethodES256, key, nonceClaims("n1")), publicKeyPEM(t, &key.PublicKey))
	assert.ErrorIs(t, err, replay.ErrClosed)
}
