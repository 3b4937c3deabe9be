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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keyproof/pkg/client"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// KeyMaterial describes a holder key pair for display.
type KeyMaterial struct {
	KeyID         string          `json:"kid"`
	PublicKeyPEM  string          `json:"public_key_pem"`
	PrivateKeyPEM string          `json:"private_key_pem,omitempty"`
	JWK           json.RawMessage `json:"jwk,omitempty"`
}

// ProofResult is the outcome of the prove command.
type ProofResult struct {
	KeyID    string `json:"kid"`
	Nonce    string `json:"nonce"`
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(strings.ToLower(format)),
		writer: writer,
	}
}

// Validate rejects unknown output formats before any request is made.
func (p *Printer) Validate() error {
	switch p.format {
	case OutputFormatText, OutputFormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintNonce prints an issued challenge
func (p *Printer) PrintNonce(nonce string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(client.NonceResponse{Nonce: nonce})
	case OutputFormatText:
		fmt.Fprintln(p.writer, nonce)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintToken prints a signed proof token
func (p *Printer) PrintToken(token string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]string{"jwt": token})
	case OutputFormatText:
		fmt.Fprintln(p.writer, token)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintVerifyResult prints the verifier's decision
func (p *Printer) PrintVerifyResult(resp *client.VerifyResponse) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(resp)
	case OutputFormatText:
		if resp.Verified {
			fmt.Fprintf(p.writer, "Verified: %s\n", resp.Message)
		} else {
			fmt.Fprintf(p.writer, "Rejected: %s\n", resp.Message)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintProofResult prints the outcome of a full prove round trip
func (p *Printer) PrintProofResult(res *ProofResult) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(res)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Key ID:   %s\n", res.KeyID)
		fmt.Fprintf(p.writer, "Nonce:    %s\n", res.Nonce)
		fmt.Fprintf(p.writer, "Verified: %t\n", res.Verified)
		fmt.Fprintf(p.writer, "Message:  %s\n", res.Message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintNonceList prints the consumed nonce set
func (p *Printer) PrintNonceList(resp *client.ListNoncesResponse) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(resp)
	case OutputFormatText:
		if resp.NonceCount == 0 {
			fmt.Fprintln(p.writer, "No consumed nonces")
			return nil
		}
		fmt.Fprintf(p.writer, "Consumed nonces (%d):\n", resp.NonceCount)
		for _, n := range resp.Nonces {
			fmt.Fprintf(p.writer, "  - %s\n", n)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAuditEvents prints audit events newest first
func (p *Printer) PrintAuditEvents(resp *client.AuditEventsResponse) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(resp)
	case OutputFormatText:
		if resp.Count == 0 {
			fmt.Fprintln(p.writer, "No audit events")
			return nil
		}
		fmt.Fprintf(p.writer, "Audit events (%d):\n", resp.Count)
		for _, e := range resp.Events {
			detail := e.Message
			switch {
			case e.Code != "" && detail != "":
				detail = e.Code + ": " + detail
			case e.Code != "":
				detail = e.Code
			case e.EventType == audit.EventNoncesList || e.EventType == audit.EventNoncesClear:
				detail = fmt.Sprintf("%d nonces", e.Count)
			}
			fmt.Fprintf(p.writer, "  %s  %-20s %-8s %s\n",
				e.Timestamp.Format(time.RFC3339), e.EventType, e.Outcome, detail)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCleared prints the result of a reset
func (p *Printer) PrintCleared(resp *client.ClearNoncesResponse) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(resp)
	case OutputFormatText:
		fmt.Fprintln(p.writer, resp.Message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintKeyMaterial prints a generated or loaded key pair
func (p *Printer) PrintKeyMaterial(km *KeyMaterial) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(km)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Key ID: %s\n", km.KeyID)
		fmt.Fprint(p.writer, km.PublicKeyPEM)
		if km.PrivateKeyPEM != "" {
			fmt.Fprint(p.writer, km.PrivateKeyPEM)
		}
		if len(km.JWK) > 0 {
			fmt.Fprintf(p.writer, "%s\n", km.JWK)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintHealth prints the verifier's readiness report
func (p *Printer) PrintHealth(resp *client.HealthResponse) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(resp)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Status: %s\n", resp.Status)
		if resp.Uptime != "" {
			fmt.Fprintf(p.writer, "Uptime: %s\n", resp.Uptime)
		}
		for _, c := range resp.Checks {
			fmt.Fprintf(p.writer, "  %-15s %-10s %s\n", c.Name, c.Status, c.Message)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message. Unknown formats fall back to text.
func (p *Printer) PrintError(err error) error {
	if p.format == OutputFormatJSON {
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	}
	fmt.Fprintf(p.writer, "Error: %v\n", err)
	return nil
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
