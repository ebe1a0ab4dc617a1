package jobqueue

import (
	"testing"
	"time"
)

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	b := Backoff{Type: "exponential", Delay: 5 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDelay(b, tt.attempt); got != tt.want {
			t.Errorf("BackoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayClampsAttempt(t *testing.T) {
	b := Backoff{Type: "exponential", Delay: time.Second}
	if got := BackoffDelay(b, 0); got != time.Second {
		t.Errorf("attempt 0 = %v, want the base delay", got)
	}
	if got := BackoffDelay(b, -3); got != time.Second {
		t.Errorf("negative attempt = %v, want the base delay", got)
	}
}

func TestBackoffDelayZeroBase(t *testing.T) {
	if got := BackoffDelay(Backoff{}, 5); got != 0 {
		t.Errorf("zero base = %v, want 0", got)
	}
}

func TestNormalizePriority(t *testing.T) {
	for _, known := range []string{"critical", "high", "normal", "low"} {
		if got := normalizePriority(known); got != known {
			t.Errorf("normalizePriority(%q) = %q", known, got)
		}
	}
	if got := normalizePriority("urgent"); got != "normal" {
		t.Errorf("unknown priority = %q, want normal", got)
	}
}
