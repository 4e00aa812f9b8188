package download

import (
	"testing"
	"time"
)

func TestBackoffDoublesAndClamps(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 24 * time.Hour},
		{2, 48 * time.Hour},
		{3, 96 * time.Hour},
		{4, 96 * time.Hour},
		{9, 96 * time.Hour},
	}
	for _, tt := range tests {
		if got := Backoff(24, 96, tt.attempt); got != tt.want {
			t.Errorf("Backoff(24, 96, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffMonotonicNonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		got := Backoff(6, 72, attempt)
		if got < prev {
			t.Fatalf("backoff decreased at attempt %d: %v < %v", attempt, got, prev)
		}
		prev = got
	}
}

func TestBackoffDefendsDegenerateInputs(t *testing.T) {
	if got := Backoff(0, 0, 0); got != 24*time.Hour {
		t.Fatalf("degenerate inputs = %v, want 24h", got)
	}
	if got := Backoff(48, 24, 2); got != 48*time.Hour {
		t.Fatalf("cap below base = %v, want base", got)
	}
}
