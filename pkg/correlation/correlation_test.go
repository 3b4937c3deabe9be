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

package correlation

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWithCorrelationID(t *testing.T) {
	tests := []struct {
		name          string
		ctx           context.Context
		correlationID string
		want          string
	}{
		{
			name:          "Add correlation ID to context",
			ctx:           context.Background(),
			correlationID: "test-correlation-id",
			want:          "test-correlation-id",
		},
		{
			name:          "Add correlation ID to nil context",
			ctx:           nil,
			correlationID: "test-correlation-id-2",
			want:          "test-correlation-id-2",
		},
		{
			name:          "Add empty correlation ID",
			ctx:           context.Background(),
			correlationID: "",
			want:          "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			//nolint:staticcheck // nil context is part of the contract
			ctx := WithCorrelationID(tt.ctx, tt.correlationID)
			if got := GetCorrelationID(ctx); got != tt.want {
				t.Errorf("GetCorrelationID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCorrelationID_Missing(t *testing.T) {
	if got := GetCorrelationID(context.Background()); got != "" {
		t.Errorf("expected empty ID, got %q", got)
	}
	//nolint:staticcheck // nil context is part of the contract
	if got := GetCorrelationID(nil); got != "" {
		t.Errorf("expected empty ID for nil context, got %q", got)
	}
}

func TestNewID(t *testing.T) {
	id := NewID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("NewID() returned invalid UUID %q: %v", id, err)
	}
	if NewID() == id {
		t.Error("NewID() returned the same ID twice")
	}
}

func TestFromRequest(t *testing.T) {
	t.Run("prefers correlation header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(CorrelationIDHeader, "corr")
		r.Header.Set(RequestIDHeader, "req")
		if got := FromRequest(r); got != "corr" {
			t.Errorf("got %q, want corr", got)
		}
	})

	t.Run("falls back to request header", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set(RequestIDHeader, "req")
		if got := FromRequest(r); got != "req" {
			t.Errorf("got %q, want req", got)
		}
	})

	t.Run("generates when absent", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		if _, err := uuid.Parse(FromRequest(r)); err != nil {
			t.Errorf("expected generated UUID: %v", err)
		}
	})

	t.Run("discards unsafe values", func(t *testing.T) {
		for _, bad := range []string{strings.Repeat("a", MaxIDLength+1), "has space", "line\x01break"} {
			r := httptest.NewRequest("GET", "/", nil)
			r.Header.Set(CorrelationIDHeader, bad)
			got := FromRequest(r)
			if got == bad {
				t.Errorf("unsafe ID %q was accepted", bad)
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("expected generated UUID, got %q", got)
			}
		}
	})
}
