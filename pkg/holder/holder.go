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

// Package holder is the client side of the proof-of-possession flow: it owns
// an ES256 key pair, exports the public half and signs verifier nonces.
package holder

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of a signed proof.
const DefaultTTL = 300 * time.Second

var (
	ErrInvalidPrivateKey = errors.New("holder: invalid private key")
	ErrEmptyNonce        = errors.New("holder: nonce is empty")
)

// Holder signs proofs with a P-256 private key.
type Holder struct {
	key *ecdsa.PrivateKey
	ttl time.Duration
	now func() time.Time
}

// Option configures a Holder.
type Option func(*Holder)

// WithTTL sets the proof lifetime. A non-positive ttl leaves exp unset.
func WithTTL(ttl time.Duration) Option {
	return func(h *Holder) { h.ttl = ttl }
}

// WithClock overrides the time source used for iat and exp.
func WithClock(now func() time.Time) Option {
	return func(h *Holder) { h.now = now }
}

// Generate creates a Holder with a new P-256 key.
func Generate(opts ...Option) (*Holder, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("holder: generate key: %w", err)
	}
	return newHolder(key, opts), nil
}

// FromPrivateKey wraps an existing key, which must be on P-256.
func FromPrivateKey(key *ecdsa.PrivateKey, opts ...Option) (*Holder, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, ErrInvalidPrivateKey
	}
	return newHolder(key, opts), nil
}

// FromPEM loads a PKCS#8 "PRIVATE KEY" or SEC 1 "EC PRIVATE KEY" block.
func FromPEM(data []byte, opts ...Option) (*Holder, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPrivateKey)
	}

	var (
		parsed any
		err    error
	)
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		parsed, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPrivateKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ECDSA key", ErrInvalidPrivateKey)
	}
	return FromPrivateKey(key, opts...)
}

func newHolder(key *ecdsa.PrivateKey, opts []Option) *Holder {
	h := &Holder{key: key, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PublicKey returns the public half of the key pair.
func (h *Holder) PublicKey() *ecdsa.PublicKey {
	return &h.key.PublicKey
}

// PrivateKeyPEM encodes the private key as a PKCS#8 PEM block.
func (h *Holder) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(h.key)
	if err != nil {
		return nil, fmt.Errorf("holder: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyPEM encodes the public key as an SPKI "PUBLIC KEY" PEM block, the
// format verifiers accept in public_key_pem.
func (h *Holder) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&h.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("holder: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// KeyID is the RFC 7638 SHA-256 thumbprint of the public key, base64url encoded.
func (h *Holder) KeyID() (string, error) {
	jwk := jose.JSONWebKey{Key: &h.key.PublicKey}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("holder: thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// PublicJWK encodes the public key as a JSON Web Key with its thumbprint as kid.
func (h *Holder) PublicJWK() (string, error) {
	kid, err := h.KeyID()
	if err != nil {
		return "", err
	}
	jwk := jose.JSONWebKey{
		Key:       &h.key.PublicKey,
		KeyID:     kid,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}
	data, err := json.Marshal(jwk)
	if err != nil {
		return "", fmt.Errorf("holder: marshal jwk: %w", err)
	}
	return string(data), nil
}

// Sign returns an ES256 compact JWT carrying nonce, iat and exp.
func (h *Holder) Sign(nonce string) (string, error) {
	if nonce == "" {
		return "", ErrEmptyNonce
	}

	now := h.now()
	claims := jwt.MapClaims{
		"nonce": nonce,
		"iat":   now.Unix(),
	}
	if h.ttl > 0 {
		claims["exp"] = now.Add(h.ttl).Unix()
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(h.key)
	if err != nil {
		return "", fmt.Errorf("holder: sign: %w", err)
	}
	return token, nil
}
