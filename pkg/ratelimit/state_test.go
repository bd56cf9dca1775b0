package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *State
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    &State{LastUpdate: time.Now()},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    &State{LastUpdate: time.Now().Add(-10 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name:     "just under max age",
			state:    &State{LastUpdate: time.Now().Add(-4 * time.Minute)},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Thresholds(t *testing.T) {
	tests := []struct {
		name           string
		state          State
		expectBlock    bool
		expectThrottle bool
	}{
		{
			name:  "healthy",
			state: State{Max: 100, Remaining: 90, ResetAt: time.Now().Add(10 * time.Second)},
		},
		{
			name:           "warning zone",
			state:          State{Max: 100, Remaining: RemainingWarning - 1, ResetAt: time.Now().Add(10 * time.Second)},
			expectThrottle: true,
		},
		{
			name:        "critical before reset",
			state:       State{Max: 100, Remaining: 0, ResetAt: time.Now().Add(10 * time.Second)},
			expectBlock: true,
		},
		{
			name:           "critical but window already reset",
			state:          State{Max: 100, Remaining: 0, ResetAt: time.Now().Add(-time.Second)},
			expectThrottle: true,
		},
		{
			name:  "unknown max",
			state: State{Remaining: 0, ResetAt: time.Now().Add(10 * time.Second)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.NeedsCriticalBlock(); got != tt.expectBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.expectBlock)
			}
			if got := tt.state.NeedsThrottling(); got != tt.expectThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.expectThrottle)
			}
		})
	}
}

func TestState_DailyExhausted(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"not reported", State{}, false},
		{"budget left", State{DailyMax: 250000, DailyRemaining: 10}, false},
		{"spent", State{DailyMax: 250000, DailyRemaining: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.DailyExhausted(); got != tt.expected {
				t.Errorf("DailyExhausted() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	past := &State{ResetAt: time.Now().Add(-time.Minute)}
	if got := past.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0 for past reset", got)
	}

	future := &State{ResetAt: time.Now().Add(time.Minute)}
	if got := future.TimeUntilReset(); got < 59*time.Second || got > time.Minute {
		t.Errorf("TimeUntilReset() = %v, want about 1m", got)
	}
}
