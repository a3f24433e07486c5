package backoff

import (
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		retryCount int
		want       time.Duration
	}{
		{
			name:       "exponential first retry",
			policy:     Policy{Strategy: StrategyExponential, Initial: 10 * time.Second, Factor: 2, Max: 300 * time.Second},
			retryCount: 0,
			want:       10 * time.Second,
		},
		{
			name:       "exponential third retry",
			policy:     Policy{Strategy: StrategyExponential, Initial: 10 * time.Second, Factor: 2, Max: 300 * time.Second},
			retryCount: 2,
			want:       40 * time.Second,
		},
		{
			name:       "exponential capped at max",
			policy:     Policy{Strategy: StrategyExponential, Initial: 10 * time.Second, Factor: 2, Max: 300 * time.Second},
			retryCount: 10,
			want:       300 * time.Second,
		},
		{
			name:       "exponential fractional factor floors to seconds",
			policy:     Policy{Strategy: StrategyExponential, Initial: 10 * time.Second, Factor: 1.5, Max: 300 * time.Second},
			retryCount: 3,
			want:       33 * time.Second, // 10 * 1.5^3 = 33.75
		},
		{
			name:       "linear growth",
			policy:     Policy{Strategy: StrategyLinear, Initial: 5 * time.Second, Max: 60 * time.Second},
			retryCount: 3,
			want:       20 * time.Second, // 5 * (1+3)
		},
		{
			name:       "linear capped at max",
			policy:     Policy{Strategy: StrategyLinear, Initial: 30 * time.Second, Max: 60 * time.Second},
			retryCount: 5,
			want:       60 * time.Second,
		},
		{
			name:       "fixed ignores retry count",
			policy:     Policy{Strategy: StrategyFixed, Initial: 15 * time.Second, Max: 60 * time.Second},
			retryCount: 9,
			want:       15 * time.Second,
		},
		{
			name:       "unknown strategy falls back to exponential factor 2",
			policy:     Policy{Strategy: "fibonacci", Initial: 10 * time.Second, Factor: 5, Max: 300 * time.Second},
			retryCount: 2,
			want:       40 * time.Second,
		},
		{
			name:       "negative retry count treated as zero",
			policy:     Policy{Strategy: StrategyExponential, Initial: 10 * time.Second, Factor: 2, Max: 300 * time.Second},
			retryCount: -1,
			want:       10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Delay(tt.retryCount)
			if got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.retryCount, got, tt.want)
			}
		})
	}
}

func TestDelayMonotonic(t *testing.T) {
	policies := []Policy{
		{Strategy: StrategyExponential, Initial: 10 * time.Second, Factor: 2, Max: 600 * time.Second},
		{Strategy: StrategyExponential, Initial: 5 * time.Second, Factor: 1.3, Max: 120 * time.Second},
		{Strategy: StrategyLinear, Initial: 7 * time.Second, Max: 90 * time.Second},
	}

	for _, p := range policies {
		prev := time.Duration(0)
		for n := range 20 {
			d := p.Delay(n)
			if d < prev {
				t.Errorf("policy %+v: Delay(%d) = %v < Delay(%d) = %v", p, n, d, n-1, prev)
			}
			if p.Max > 0 && d > p.Max {
				t.Errorf("policy %+v: Delay(%d) = %v exceeds max %v", p, n, d, p.Max)
			}
			prev = d
		}
	}
}

func TestNextRetry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{Strategy: StrategyExponential, Initial: 10 * time.Second, Factor: 2, Max: 300 * time.Second}

	t.Run("unit factor", func(t *testing.T) {
		got := p.NextRetry(now, 0, 1.0)
		if want := now.Add(10 * time.Second); !got.Equal(want) {
			t.Errorf("NextRetry = %v, want %v", got, want)
		}
	})

	t.Run("rate limited destination doubles delay", func(t *testing.T) {
		got := p.NextRetry(now, 0, 2.0)
		if want := now.Add(20 * time.Second); !got.Equal(want) {
			t.Errorf("NextRetry = %v, want %v", got, want)
		}
	})

	t.Run("connection error bumps delay", func(t *testing.T) {
		got := p.NextRetry(now, 0, 1.2)
		if want := now.Add(12 * time.Second); !got.Equal(want) {
			t.Errorf("NextRetry = %v, want %v", got, want)
		}
	})
}
