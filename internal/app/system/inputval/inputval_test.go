package inputval

import (
	"strings"
	"testing"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{"plain", "owner@example.com", true},
		{"plus tag", "owner+family@example.com", true},
		{"subdomain", "owner@mail.example.org", true},
		{"single label domain", "owner@localhost", true},
		{"surrounding space trimmed", "  owner@example.com  ", true},
		{"empty", "", false},
		{"blank", "   ", false},
		{"no at", "owner.example.com", false},
		{"no domain", "owner@", false},
		{"no local part", "@example.com", false},
		{"double dot", "own..er@example.com", false},
		{"display name", "Family Owner <owner@example.com>", false},
		{"inner space", "own er@example.com", false},
		{"too long", strings.Repeat("a", 250) + "@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidEmail(tt.email); got != tt.want {
				t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestIsValidObjectID(t *testing.T) {
	if !IsValidObjectID(" 5f1d7f3b2c8e4a0012345678 ") {
		t.Error("expected padded hex id to be valid")
	}
	for _, s := range []string{"", "5f1d7f3b2c8e4a001234567", "zz1d7f3b2c8e4a0012345678"} {
		if IsValidObjectID(s) {
			t.Errorf("IsValidObjectID(%q) = true, want false", s)
		}
	}
}
