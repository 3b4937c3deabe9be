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
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

var (
	ErrEmptyKey        = errors.New("proof: empty public key")
	ErrUnsupportedKey  = errors.New("proof: public key is not an ECDSA P-256 key")
	ErrPrivateKeyGiven = errors.New("proof: private key material supplied")
	ErrMalformedKey    = errors.New("proof: malformed public key")
)

const pemPublicKeyType = "PUBLIC KEY"

// ParsePublicKey decodes holder key material into a P-256 public key.
//
// Two encodings are accepted: a PEM "PUBLIC KEY" block (PKIX
// SubjectPublicKeyInfo) and a JSON Web Key with kty EC and crv P-256.
func ParsePublicKey(material string) (*ecdsa.PublicKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, ErrEmptyKey
	}

	var (
		pub *ecdsa.PublicKey
		err error
	)
	if strings.HasPrefix(material, "{") {
		pub, err = parseJWK(material)
	} else {
		pub, err = parsePEM(material)
	}
	if err != nil {
		return nil, err
	}

	if pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, pub.Curve.Params().Name)
	}
	return pub, nil
}

func parsePEM(material string) (*ecdsa.PublicKey, error) {
	block, rest := pem.Decode([]byte(material))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrMalformedKey)
	}
	if len(strings.TrimSpace(string(rest))) > 0 {
		return nil, fmt.Errorf("%w: trailing data after PEM block", ErrMalformedKey)
	}
	if block.Type != pemPublicKeyType {
		if strings.Contains(block.Type, "PRIVATE") {
			return nil, ErrPrivateKeyGiven
		}
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrMalformedKey, block.Type)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, key)
	}
	return pub, nil
}

func parseJWK(material string) (*ecdsa.PublicKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON([]byte(material)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	switch key := jwk.Key.(type) {
	case *ecdsa.PublicKey:
		return key, nil
	case *ecdsa.PrivateKey:
		return nil, ErrPrivateKeyGiven
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, jwk.Key)
	}
}
