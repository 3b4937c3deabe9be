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

package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-keyproof/pkg/adapters/audit"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditReader exposes the audit trail.
type AuditReader interface {
	AuditEvents(ctx context.Context, query *audit.EventQuery) ([]*audit.AuditEvent, error)
}

// AuditHandler handles GET /api/audit. Query parameters: limit, type and
// outcome (both comma separated), since (RFC 3339) and request_id.
func (h *HandlerContext) AuditHandler(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		handleError(w, ErrNotImplemented)
		return
	}

	query, err := parseAuditQuery(r)
	if err != nil {
		handleError(w, err)
		return
	}

	events, err := h.Audit.AuditEvents(r.Context(), query)
	if err != nil {
		handleError(w, err)
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}
	writeJSON(w, AuditEventsResponse{Count: len(events), Events: events}, http.StatusOK)
}

func parseAuditQuery(r *http.Request) (*audit.EventQuery, error) {
	values := r.URL.Query()
	query := &audit.EventQuery{Limit: defaultAuditLimit}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxAuditLimit {
			return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, maxAuditLimit)
		}
		query.Limit = limit
	}
	for _, t := range splitList(values.Get("type")) {
		query.EventTypes = append(query.EventTypes, audit.EventType(t))
	}
	for _, o := range splitList(values.Get("outcome")) {
		query.Outcomes = append(query.Outcomes, audit.EventOutcome(o))
	}
	if raw := values.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: since must be RFC 3339", ErrInvalidRequest)
		}
		query.Since = since
	}
	query.RequestID = values.Get("request_id")
	return query, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
