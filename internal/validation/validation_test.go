package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperengineering/tether/internal/types"
)

func TestValidateEnqueueActionRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       types.EnqueueActionRequest
		wantField string
	}{
		{
			name: "valid post",
			req:  types.EnqueueActionRequest{Method: "POST", Target: "/tickets", Body: json.RawMessage(`{"title":"x"}`)},
		},
		{
			name: "valid delete without body",
			req:  types.EnqueueActionRequest{Method: "DELETE", Target: "/tickets/1"},
		},
		{
			name: "lowercase method accepted",
			req:  types.EnqueueActionRequest{Method: "put", Target: "/tickets/1"},
		},
		{
			name:      "missing method",
			req:       types.EnqueueActionRequest{Target: "/tickets"},
			wantField: "method",
		},
		{
			name:      "get not queueable",
			req:       types.EnqueueActionRequest{Method: "GET", Target: "/tickets"},
			wantField: "method",
		},
		{
			name:      "missing target",
			req:       types.EnqueueActionRequest{Method: "POST"},
			wantField: "target",
		},
		{
			name:      "relative target",
			req:       types.EnqueueActionRequest{Method: "POST", Target: "tickets"},
			wantField: "target",
		},
		{
			name:      "target too long",
			req:       types.EnqueueActionRequest{Method: "POST", Target: "/" + strings.Repeat("a", maxTargetLength)},
			wantField: "target",
		},
		{
			name:      "target with null byte",
			req:       types.EnqueueActionRequest{Method: "POST", Target: "/tickets\x00"},
			wantField: "target",
		},
		{
			name:      "malformed body",
			req:       types.EnqueueActionRequest{Method: "POST", Target: "/tickets", Body: json.RawMessage(`{broken`)},
			wantField: "body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateEnqueueActionRequest(tt.req)
			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatalf("expected error on field %q, got none", tt.wantField)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidateUTF8(t *testing.T) {
	if err := ValidateUTF8("target", "/tickets/\xff"); err == nil {
		t.Error("invalid UTF-8 accepted")
	}
	if err := ValidateUTF8("target", "/tickets/ünïcode"); err != nil {
		t.Errorf("valid UTF-8 rejected: %v", err)
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	c.Add(nil)
	if c.HasErrors() {
		t.Error("nil error recorded")
	}
	c.Add(&ValidationError{Field: "a", Message: "bad"})
	c.Add(&ValidationError{Field: "b", Message: "worse"})
	if len(c.Errors()) != 2 {
		t.Errorf("errors = %d, want 2", len(c.Errors()))
	}
}
