package app

import "testing"

func TestNewLimiter(t *testing.T) {
	if got := newLimiter(0); got != nil {
		t.Error("zero rate should disable limiting")
	}
	if got := newLimiter(-1); got != nil {
		t.Error("negative rate should disable limiting")
	}

	l := newLimiter(0.5)
	if l == nil {
		t.Fatal("limiter not created")
	}
	if l.Burst() != 1 {
		t.Errorf("burst = %d, want 1 for sub-1 rps", l.Burst())
	}

	if got := newLimiter(5).Burst(); got != 5 {
		t.Errorf("burst = %d, want 5", got)
	}
}
