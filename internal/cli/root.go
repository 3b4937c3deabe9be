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

// Package cli implements the keyproof command line holder and admin tool.
package cli

import (
	"fmt"
	"os"

	"github.com/jeremyhahn/go-keyproof/pkg/client"
	"github.com/spf13/cobra"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	config *Config
}

// NewRootCmd builds the command tree. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	a := &app{config: NewConfig()}

	rootCmd := &cobra.Command{
		Use:   "keyproof",
		Short: "keyproof CLI - proof of key possession against a keyproof verifier",
		Long: `keyproof requests single-use challenges from a verifier, signs them
with an ES256 (ECDSA P-256) key and submits the signed proof.

It also generates holder keys and administers the verifier's consumed
nonce set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.printer(cmd).Validate()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.config.Server, "server", "s", DefaultServer,
		"verifier URL (http://, https://, quic:// or unix:///path/to.sock)")
	flags.StringVar(&a.config.Protocol, "protocol", "",
		"override the protocol implied by --server (rest, quic, unix)")
	flags.StringVar(&a.config.APIKey, "api-key", os.Getenv("KEYPROOF_API_KEY"),
		"API key for the admin commands")
	flags.StringVarP(&a.config.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	flags.BoolVar(&a.config.TLSInsecure, "insecure", false,
		"skip TLS certificate verification")
	flags.StringVar(&a.config.TLSCACert, "ca-file", "",
		"CA certificate used to verify the server")
	flags.DurationVar(&a.config.Timeout, "timeout", client.DefaultTimeout,
		"per request timeout")
	flags.BoolVarP(&a.config.Verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(
		a.newVersionCmd(),
		a.newKeygenCmd(),
		a.newSignCmd(),
		a.newNonceCmd(),
		a.newProveCmd(),
		a.newVerifyCmd(),
		a.newNoncesCmd(),
		a.newHealthCmd(),
		a.newAuditCmd(),
	)
	return rootCmd
}

// Execute runs the CLI with os.Args and reports errors on stderr.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		format, _ := cmd.PersistentFlags().GetString("output")
		_ = NewPrinter(format, os.Stderr).PrintError(err)
	}
	return err
}

func (a *app) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(a.config.OutputFormat, cmd.OutOrStdout())
}

// connect creates and connects a verifier client. The caller closes it.
func (a *app) connect(cmd *cobra.Command) (client.Client, error) {
	cl, err := a.config.CreateClient()
	if err != nil {
		return nil, err
	}
	a.printVerbose(cmd, "connecting to %s", a.config.Server)
	if err := cl.Connect(cmd.Context()); err != nil {
		return nil, err
	}
	return cl, nil
}

// printVerbose prints a message if verbose mode is enabled
func (a *app) printVerbose(cmd *cobra.Command, format string, args ...interface{}) {
	if a.config.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}
