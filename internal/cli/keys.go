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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/holder"
	"github.com/spf13/cobra"
)

// loadHolder reads a PEM private key, or generates a fresh key when path
// is empty.
func loadHolder(path string, ttl time.Duration) (*holder.Holder, error) {
	opts := []holder.Option{holder.WithTTL(ttl)}
	if path == "" {
		return holder.Generate(opts...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return holder.FromPEM(data, opts...)
}

func describeKey(h *holder.Holder, withJWK bool) (*KeyMaterial, error) {
	kid, err := h.KeyID()
	if err != nil {
		return nil, err
	}
	pub, err := h.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	km := &KeyMaterial{KeyID: kid, PublicKeyPEM: pub}
	if withJWK {
		jwk, err := h.PublicJWK()
		if err != nil {
			return nil, err
		}
		km.JWK = json.RawMessage(jwk)
	}
	return km, nil
}

func (a *app) newKeygenCmd() *cobra.Command {
	var (
		privatePath string
		publicPath  string
		withJWK     bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ES256 (ECDSA P-256) holder key pair",
		Long: `Generate an ES256 holder key pair. The private key is written as
PKCS#8 PEM and the public key as SPKI PEM, the format the verifier
expects in public_key_pem. Without --private-key both keys are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := holder.Generate()
			if err != nil {
				return err
			}
			km, err := describeKey(h, withJWK)
			if err != nil {
				return err
			}

			priv, err := h.PrivateKeyPEM()
			if err != nil {
				return err
			}
			if privatePath != "" {
				if err := writeNewFile(privatePath, priv, 0600); err != nil {
					return err
				}
				a.printVerbose(cmd, "wrote private key to %s", privatePath)
			} else {
				km.PrivateKeyPEM = string(priv)
			}
			if publicPath != "" {
				if err := writeNewFile(publicPath, []byte(km.PublicKeyPEM), 0644); err != nil {
					return err
				}
				a.printVerbose(cmd, "wrote public key to %s", publicPath)
			}

			return a.printer(cmd).PrintKeyMaterial(km)
		},
	}

	cmd.Flags().StringVar(&privatePath, "private-key", "", "write the private key to this file")
	cmd.Flags().StringVar(&publicPath, "public-key", "", "write the public key to this file")
	cmd.Flags().BoolVar(&withJWK, "jwk", false, "also print the public key as a JWK")
	return cmd
}

// writeNewFile refuses to overwrite existing key files.
func writeNewFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("refusing to overwrite %s", path)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func (a *app) newSignCmd() *cobra.Command {
	var (
		keyPath string
		nonce   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a nonce offline and print the proof token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := loadHolder(keyPath, ttl)
			if err != nil {
				return err
			}
			token, err := h.Sign(nonce)
			if err != nil {
				return err
			}
			return a.printer(cmd).PrintToken(token)
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "PEM private key file")
	cmd.Flags().StringVar(&nonce, "nonce", "", "nonce issued by the verifier")
	cmd.Flags().DurationVar(&ttl, "ttl", holder.DefaultTTL, "token lifetime (0 omits exp)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}
