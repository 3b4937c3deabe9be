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
	"fmt"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/client"
	"github.com/spf13/cobra"
)

func (a *app) newNoncesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nonces",
		Short: "Administer the verifier's consumed nonce set",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List consumed nonces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			resp, err := cl.ListNonces(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer(cmd).PrintNonceList(resp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every consumed nonce",
		Long: `Reset the replay guard. Every previously consumed nonce becomes
acceptable again, so only use this in development.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			resp, err := cl.ClearNonces(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer(cmd).PrintCleared(resp)
		},
	})

	return cmd
}

func (a *app) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the verifier's readiness report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			resp, err := cl.Health(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.printer(cmd).PrintHealth(resp); err != nil {
				return err
			}
			if resp.Status == "unhealthy" {
				return fmt.Errorf("verifier is unhealthy")
			}
			return nil
		},
	}
}

func (a *app) newAuditCmd() *cobra.Command {
	query := &client.AuditQuery{}
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent proof and admin events",
		Long: `Query the verifier's audit trail, newest first. The server must run
with the memory audit sink.`,
		Example: `  keyproof audit --type proof.rejected --since 1h
  keyproof audit --outcome failure,error --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				query.Since = time.Now().Add(-since)
			}

			cl, err := a.connect(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			resp, err := cl.AuditEvents(cmd.Context(), query)
			if err != nil {
				return err
			}
			return a.printer(cmd).PrintAuditEvents(resp)
		},
	}

	cmd.Flags().IntVar(&query.Limit, "limit", 0, "maximum number of events (server default 100)")
	cmd.Flags().StringSliceVar(&query.Types, "type", nil, "event types, e.g. proof.verified,proof.rejected")
	cmd.Flags().StringSliceVar(&query.Outcomes, "outcome", nil, "outcomes: success, failure, error")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this age, e.g. 30m")
	cmd.Flags().StringVar(&query.RequestID, "request-id", "", "only events for this correlation ID")
	return cmd
}
