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

// Package rest serves the verifier over HTTP.
//
// # API Endpoints
//
// Challenge-response:
//   - GET  /api/nonce          - issue a nonce: {"nonce": "..."}
//   - POST /api/verify         - submit {"jwt": "...", "public_key_pem": "..."}
//
// A verified proof answers 200 and a rejected one 400, both with
// {"verified": bool, "message": "..."}. A replay guard failure answers 503.
//
// Administration (optionally protected by API key, X-API-Key or Bearer):
//   - GET  /api/list-nonces    - {"nonce_count": n, "nonces": [...]}
//   - POST /api/clear-nonces   - {"message": "Cleared N used nonces", "cleared": N}
//   - GET  /api/audit          - {"count": n, "events": [...]} when an audit reader is set
//
// The audit endpoint accepts limit (1-1000, default 100), type and outcome
// (comma separated), since (RFC3339) and request_id query parameters.
//
// Probes:
//   - GET /health, /health/live, /health/ready, /health/startup
//   - GET /metrics when metrics are enabled
//
// # Server Setup
//
//	svc, _ := verifier.New(&verifier.Config{Guard: replay.NewMemoryGuard()})
//	server, _ := rest.NewServer(&rest.Config{Addr: ":8080", Service: svc})
//	go server.Start()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	server.Stop(ctx)
package rest
