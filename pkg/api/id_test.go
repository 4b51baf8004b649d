package api

import (
	"strings"
	"testing"
)

func TestNewExecutionID(t *testing.T) {
	id := NewExecutionID()
	if !strings.HasPrefix(id, "exec_") {
		t.Errorf("id %q missing prefix", id)
	}
	if len(id) != len("exec_")+24 {
		t.Errorf("id %q has length %d", id, len(id))
	}
	if !ValidateExecutionID(id) {
		t.Errorf("generated id %q does not validate", id)
	}
}

func TestExecutionIDUniqueness(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for range 1000 {
		id := NewExecutionID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"s1", true},
		{"analysis-2024_q1", true},
		{NewSessionID(), true},
		{"", false},
		{"../etc", false},
		{"a/b", false},
		{"-leading", false},
		{"has space", false},
		{strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		if got := ValidateSessionID(tt.id); got != tt.want {
			t.Errorf("ValidateSessionID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
