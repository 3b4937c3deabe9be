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

// Package proof verifies proof-of-possession tokens: a JWT signed with the
// holder's private key whose claims carry a verifier-issued nonce.
//
// The signature algorithm is pinned to ES256. The algorithm named in a token
// header is only ever compared against the pinned value, never used to choose
// how the signature is checked.
package proof

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jeremyhahn/go-keyproof/pkg/replay"
)

const (
	// PinnedAlgorithm is the only accepted JWS algorithm.
	PinnedAlgorithm = "ES256"

	// NonceClaim is the claim holding the verifier-issued nonce.
	NonceClaim = "nonce"

	// DefaultLeeway is the clock skew tolerated on exp, nbf and iat.
	DefaultLeeway = 60 * time.Second

	// DefaultMaxTokenSize bounds the compact token length in bytes.
	DefaultMaxTokenSize = 8 * 1024
)

var (
	ErrGuardRequired       = errors.New("proof: replay guard is required")
	ErrUnexpectedAlgorithm = errors.New("unexpected signing algorithm")
	ErrTokenTooLarge       = errors.New("token exceeds maximum size")
)

// Config configures an Engine.
type Config struct {
	// Guard records consumed nonces (required)
	Guard replay.Guard

	// Leeway is the tolerated clock skew for time based claims (default: 60s)
	Leeway time.Duration

	// RequireExpiration rejects tokens without an exp claim
	RequireExpiration bool

	// MaxTokenSize is the largest accepted token in bytes (default: 8 KiB)
	MaxTokenSize int
}

// Engine verifies proof submissions. It is safe for concurrent use; the only
// shared state is the replay guard.
type Engine struct {
	guard        replay.Guard
	parser       *jwt.Parser
	maxTokenSize int
}

// NewEngine creates a verification engine.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil || config.Guard == nil {
		return nil, ErrGuardRequired
	}

	leeway := config.Leeway
	if leeway == 0 {
		leeway = DefaultLeeway
	}
	maxTokenSize := config.MaxTokenSize
	if maxTokenSize <= 0 {
		maxTokenSize = DefaultMaxTokenSize
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{PinnedAlgorithm}),
		jwt.WithStrictDecoding(),
		jwt.WithLeeway(leeway),
		jwt.WithIssuedAt(),
	}
	if config.RequireExpiration {
		opts = append(opts, jwt.WithExpirationRequired())
	}

	return &Engine{
		guard:        config.Guard,
		parser:       jwt.NewParser(opts...),
		maxTokenSize: maxTokenSize,
	}, nil
}

// Verify checks token against the public key encoded in keyMaterial and, if
// the token is authentic and carries a usable nonce, consumes that nonce.
//
// Every rejection is reported through the returned Outcome. A non-nil error
// means the replay guard itself failed and the submission was neither
// accepted nor rejected.
func (e *Engine) Verify(token, keyMaterial string) (Outcome, error) {
	pub, err := ParsePublicKey(keyMaterial)
	if err != nil {
		return rejected(CodeInvalidPublicKey, ReasonInvalidPublicKey), nil
	}

	if len(token) > e.maxTokenSize {
		return signatureFailure(ErrTokenTooLarge), nil
	}

	claims := jwt.MapClaims{}
	_, err = e.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		// WithValidMethods already filters on the header; the method
		// resolved from it must also be exactly the pinned one.
		if t.Method != jwt.SigningMethodES256 {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedAlgorithm, t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return signatureFailure(err), nil
	}

	raw, _ := claims[NonceClaim].(string)
	nonce := strings.TrimSpace(raw)
	if nonce == "" {
		return rejected(CodeInvalidNonce, ReasonInvalidNonce), nil
	}

	fresh, err := e.guard.TryConsume(nonce)
	if err != nil {
		return Outcome{}, fmt.Errorf("proof: consume nonce: %w", err)
	}
	if !fresh {
		out := rejected(CodeNonceReused, ReasonNonceReused)
		out.Nonce = nonce
		return out, nil
	}
	return accepted(nonce), nil
}

func signatureFailure(cause error) Outcome {
	return rejected(CodeInvalidSignature, fmt.Sprintf(ReasonSignatureFailedFmt, cause))
}
