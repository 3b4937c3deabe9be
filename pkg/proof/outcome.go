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

// Code is a stable, machine-readable label for a verification outcome.
type Code string

const (
	CodeVerified         Code = "verified"
	CodeInvalidPublicKey Code = "invalid_public_key"
	CodeInvalidSignature Code = "invalid_signature"
	CodeInvalidNonce     Code = "invalid_nonce"
	CodeNonceReused      Code = "nonce_reused"
)

// Human-readable reasons returned to callers.
const (
	ReasonVerified           = "attestation verified successfully"
	ReasonInvalidPublicKey   = "invalid public key format"
	ReasonSignatureFailedFmt = "signature verification failed: %s"
	ReasonInvalidNonce       = "invalid nonce extracted"
	ReasonNonceReused        = "nonce has already been used"
)

// Outcome is the result of verifying one proof submission. A rejection is an
// Outcome with Verified set to false, never an error.
type Outcome struct {
	Verified bool
	Reason   string
	Code     Code

	// Nonce is the trimmed nonce claim, set once the token has been
	// authenticated.
	Nonce string
}

func accepted(nonce string) Outcome {
	return Outcome{Verified: true, Reason: ReasonVerified, Code: CodeVerified, Nonce: nonce}
}

func rejected(code Code, reason string) Outcome {
	return Outcome{Verified: false, Reason: reason, Code: code}
}
