package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 4H ", 4 * time.Hour, true},
		{"", 0, false},
		{"h", 0, false},
		{"0m", 0, false},
		{"-1h", 0, false},
		{"4x", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestFixedDelayRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewFixedDelay(ctx, time.Millisecond, nil)

	runs := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(func() {
			runs++
			if runs == 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, runs, 3)
}

func TestFixedDelaySkipsTaskWhenAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewFixedDelay(ctx, time.Millisecond, nil)

	runs := 0
	s.Start(func() { runs++ })
	assert.Equal(t, 0, runs)
}

func TestFixedDelayRejectsInvalidInterval(t *testing.T) {
	s := NewFixedDelay(context.Background(), 0, nil)
	runs := 0
	// Returns immediately instead of spinning.
	s.Start(func() { runs++ })
	assert.Equal(t, 0, runs)
}
