package models

import (
	"encoding/json"
	"testing"
)

func TestRefID(t *testing.T) {
	tests := []struct {
		name   string
		ref    string
		expect string
	}{
		{"absolute url", "https://api.cloudtruth.io/api/v1/environments/9f1c/", "9f1c"},
		{"no trailing slash", "https://api.cloudtruth.io/api/v1/projects/42", "42"},
		{"relative path", "/api/v1/projects/abc/", "abc"},
		{"bare id", "abc-123", "abc-123"},
		{"with query", "https://h/api/v1/projects/7/?x=1", "7"},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := RefID(tc.ref); got != tc.expect {
				t.Errorf("RefID(%q) = %q, want %q", tc.ref, got, tc.expect)
			}
		})
	}
}

func TestResourceID(t *testing.T) {
	tests := []struct {
		name   string
		input  interface{}
		expect string
	}{
		{"string", "uuid-1", "uuid-1"},
		{"float64", float64(42), "42"},
		{"int", 7, "7"},
		{"json.Number", json.Number("99"), "99"},
		{"nil", nil, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := Resource{"id": tc.input}
			if got := r.ID(); got != tc.expect {
				t.Errorf("ID() = %q, want %q", got, tc.expect)
			}
		})
	}
}

func TestResourceFields(t *testing.T) {
	r := Resource{"name": "prod", "parent": nil, "count": float64(3)}
	if got := r.Name(); got != "prod" {
		t.Errorf("Name() = %q, want prod", got)
	}
	if got := r.String("parent"); got != "" {
		t.Errorf("String(parent) = %q, want empty", got)
	}
	if got := r.String("count"); got != "" {
		t.Errorf("String(count) = %q, want empty (wrong type)", got)
	}
}
