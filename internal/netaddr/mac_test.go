package netaddr

import "testing"

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"52:54:00:12:34:56": true,
		"be:ef:0a:14:1e:28": true,
		"not-a-mac":         false,
		"52:54:00:12:34":    false,
		"":                  false,
	}
	for mac, want := range cases {
		if got := Valid(mac); got != want {
			t.Errorf("Valid(%q) = %v, want %v", mac, got, want)
		}
	}
}

func TestFromIPv4(t *testing.T) {
	mac, err := FromIPv4("10.20.30.40")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mac != "be:ef:0a:14:1e:28" {
		t.Fatalf("got %q, want be:ef:0a:14:1e:28", mac)
	}

	if _, err := FromIPv4("not-an-ip"); err == nil {
		t.Fatal("expected error for invalid IP")
	}
}

func TestGenerateUnique(t *testing.T) {
	mac, err := Generate(map[string]struct{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Valid(mac) {
		t.Fatalf("generated MAC %q failed validation", mac)
	}
}

func TestGenerateExhausted(t *testing.T) {
	// A fake "taken" set that always claims a collision by intercepting
	// via a wrapper isn't directly expressible since Generate uses
	// crypto/rand internally; instead verify the documented bound: with
	// the entire practical address space marked taken is infeasible to
	// construct, so we assert the attempt ceiling is honored indirectly
	// by checking maxGenerateAttempts is the documented value.
	if maxGenerateAttempts != 5 {
		t.Fatalf("maxGenerateAttempts = %d, spec requires 5", maxGenerateAttempts)
	}
}
