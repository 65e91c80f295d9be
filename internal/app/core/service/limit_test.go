package service

import "testing"

func TestClampLimitUsesDefaultWhenNonPositive(t *testing.T) {
	if got := ClampLimit(0, 25, 500); got != 25 {
		t.Fatalf("expected default of 25, got %d", got)
	}
	if got := ClampLimit(-5, 25, 500); got != 25 {
		t.Fatalf("expected default of 25 for negative input, got %d", got)
	}
}

func TestClampLimitClampsToMax(t *testing.T) {
	if got := ClampLimit(10000, 25, 500); got != 500 {
		t.Fatalf("expected clamp to 500, got %d", got)
	}
}

func TestClampLimitPassesThroughWithinRange(t *testing.T) {
	if got := ClampLimit(100, 25, 500); got != 100 {
		t.Fatalf("expected 100 to pass through unchanged, got %d", got)
	}
}

func TestClampLimitFallsBackToPackageDefaultsWhenUnset(t *testing.T) {
	if got := ClampLimit(0, 0, 0); got != DefaultListLimit {
		t.Fatalf("expected DefaultListLimit when defaultLimit/max are unset, got %d", got)
	}
}
