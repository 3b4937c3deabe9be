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

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/client"
	"github.com/jeremyhahn/go-keyproof/pkg/holder"
	"github.com/spf13/cobra"
)

// ErrNotVerified is returned when the verifier rejects a proof.
var ErrNotVerified = errors.New("proof not verified")

func (a *app) newNonceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce",
		Short: "Request a single-use challenge from the verifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			n, err := cl.RequestNonce(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer(cmd).PrintNonce(n)
		},
	}
}

func (a *app) newProveCmd() *cobra.Command {
	var (
		keyPath string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Prove key possession: request a nonce, sign it and submit the proof",
		Long: `Run the holder flow against the verifier. Without --key a fresh
ephemeral key is generated for this proof.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := loadHolder(keyPath, ttl)
			if err != nil {
				return err
			}
			km, err := describeKey(h, false)
			if err != nil {
				return err
			}

			cl, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			n, err := cl.RequestNonce(cmd.Context())
			if err != nil {
				return err
			}
			a.printVerbose(cmd, "received nonce %s", n)

			token, err := h.Sign(n)
			if err != nil {
				return err
			}
			resp, err := cl.Verify(cmd.Context(), &client.VerifyRequest{JWT: token, PublicKeyPEM: km.PublicKeyPEM})
			if err != nil {
				return err
			}

			if err := a.printer(cmd).PrintProofResult(&ProofResult{
				KeyID:    km.KeyID,
				Nonce:    n,
				Verified: resp.Verified,
				Message:  resp.Message,
			}); err != nil {
				return err
			}
			if !resp.Verified {
				return fmt.Errorf("%w: %s", ErrNotVerified, resp.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "PEM private key file (default: ephemeral key)")
	cmd.Flags().DurationVar(&ttl, "ttl", holder.DefaultTTL, "token lifetime (0 omits exp)")
	return cmd
}

func (a *app) newVerifyCmd() *cobra.Command {
	var (
		token     string
		tokenFile string
		keyPath   string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit an existing proof token to the verifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (token == "") == (tokenFile == "") {
				return errors.New("exactly one of --jwt or --jwt-file is required")
			}
			if tokenFile != "" {
				data, err := os.ReadFile(tokenFile)
				if err != nil {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = strings.TrimSpace(string(data))
			}
			pub, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("failed to read public key: %w", err)
			}

			cl, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			resp, err := cl.Verify(cmd.Context(), &client.VerifyRequest{JWT: token, PublicKeyPEM: string(pub)})
			if err != nil {
				return err
			}
			if err := a.printer(cmd).PrintVerifyResult(resp); err != nil {
				return err
			}
			if !resp.Verified {
				return fmt.Errorf("%w: %s", ErrNotVerified, resp.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "jwt", "", "compact ES256 proof token")
	cmd.Flags().StringVar(&tokenFile, "jwt-file", "", "file containing the proof token")
	cmd.Flags().StringVar(&keyPath, "public-key", "", "public key file (SPKI PEM or JWK)")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}
