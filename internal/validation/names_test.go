package validation

import (
	"strings"
	"testing"
)

func TestValidCapability_Valid(t *testing.T) {
	valids := []string{
		"a",
		"staff",
		"maintenance.bypass",
		"event:halloween",
		"a_b-c.d:scope2",
		"a" + strings.Repeat("x", 62) + "b", // 64
	}
	for _, v := range valids {
		if !ValidCapability(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
}

func TestValidCapability_Invalid(t *testing.T) {
	invalids := []string{
		"",
		":lead",
		"trail:",
		"UPPER",
		"bad space",
		"semicolon;hack",
		strings.Repeat("a", 65),
	}
	for _, v := range invalids {
		if ValidCapability(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestValidDestination(t *testing.T) {
	for _, v := range []string{"lobby", "survival-1", "lobby.eu"} {
		if !ValidDestination(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
	for _, v := range []string{"", "Lobby", "lobby/1", "-lobby"} {
		if ValidDestination(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}
