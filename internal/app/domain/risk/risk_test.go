package risk

import "testing"

func TestLevelFor(t *testing.T) {
	cases := []struct {
		value float64
		want  Level
	}{
		{0, LevelLow},
		{0.29, LevelLow},
		{0.3, LevelMedium},
		{0.59, LevelMedium},
		{0.6, LevelHigh},
		{0.79, LevelHigh},
		{0.8, LevelCritical},
		{1, LevelCritical},
	}

	for _, tt := range cases {
		if got := LevelFor(tt.value); got != tt.want {
			t.Errorf("LevelFor(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestViolationResolved(t *testing.T) {
	var v Violation
	if v.Resolved() {
		t.Error("zero-value violation reported as resolved")
	}
}
