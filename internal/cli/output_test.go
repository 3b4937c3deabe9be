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
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-keyproof/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinterText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter("text", &buf)

	require.NoError(t, p.PrintVerifyResult(&client.VerifyResponse{Verified: false, Message: "invalid nonce extracted"}))
	require.NoError(t, p.PrintNonceList(&client.ListNoncesResponse{NonceCount: 2, Nonces: []string{"a", "b"}}))
	require.NoError(t, p.PrintError(errors.New("boom")))

	assert.Equal(t, "Rejected: invalid nonce extracted\nConsumed nonces (2):\n  - a\n  - b\nError: boom\n", buf.String())
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter("JSON", &buf)
	require.NoError(t, p.Validate())

	require.NoError(t, p.PrintNonce("abc"))
	var resp client.NonceResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "abc", resp.Nonce)

	buf.Reset()
	require.NoError(t, p.PrintError(errors.New("boom")))
	assert.JSONEq(t, `{"status":"error","error":"boom"}`, buf.String())
}

func TestPrinterUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter("table", &buf)
	assert.Error(t, p.Validate())
	assert.Error(t, p.PrintNonce("abc"))
	assert.Error(t, p.PrintHealth(&client.HealthResponse{Status: "healthy"}))

	require.NoError(t, p.PrintError(errors.New("boom")))
	assert.Equal(t, "Error: boom\n", buf.String())
}
