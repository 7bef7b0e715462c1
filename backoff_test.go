package outbox

import (
	"testing"
	"time"
)

func TestExponentialBackoffDelay(t *testing.T) {
	b := ExponentialBackoff{Base: time.Second, Max: 10 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 10 * time.Second},
		{attempt: 60, want: 10 * time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestExponentialBackoffDefaults(t *testing.T) {
	var b ExponentialBackoff
	if got := b.Delay(1); got != defaultBaseDelay {
		t.Fatalf("expected default base %v, got %v", defaultBaseDelay, got)
	}
	if got := b.Delay(1000); got != defaultMaxDelay {
		t.Fatalf("expected default max %v, got %v", defaultMaxDelay, got)
	}

	flat := ExponentialBackoff{Base: time.Minute, Max: time.Second}
	if got := flat.Delay(3); got != time.Second {
		t.Fatalf("expected base above max to clamp, got %v", got)
	}
}

func TestNextAttemptAtStrictlyAfterNow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, delay := range []time.Duration{-time.Second, 0, time.Nanosecond} {
		if next := nextAttemptAt(now, delay); !next.After(now) {
			t.Fatalf("delay %v: expected schedule after now, got %v", delay, next)
		}
	}
	if next := nextAttemptAt(now, time.Minute); !next.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected delay to be kept, got %v", next)
	}
}

func TestBackoffFunc(t *testing.T) {
	b := BackoffFunc(func(attempt int) time.Duration { return time.Duration(attempt) * time.Millisecond })
	if got := b.Delay(7); got != 7*time.Millisecond {
		t.Fatalf("expected 7ms, got %v", got)
	}
}
