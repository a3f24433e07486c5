// Package backoff computes retry delays for failed webhook deliveries.
// Policies are pure values; the same policy and retry count always yield the
// same delay, which keeps retry scheduling deterministic and testable.
package backoff

import (
	"math"
	"time"
)

// Strategy selects the delay growth curve.
type Strategy string

const (
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFixed       Strategy = "fixed"
)

// Policy describes how long to wait before the next delivery attempt.
type Policy struct {
	Strategy Strategy
	Initial  time.Duration
	Factor   float64
	Max      time.Duration
}

// Delay returns the wait before the next attempt given the number of already
// finished attempts (0 for the first retry after the initial attempt).
// Results are floored to whole seconds. An unknown strategy falls back to
// exponential with factor 2.0 rather than failing: a message must never get
// stuck because its config carries a strategy this version does not know.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	var delay time.Duration
	switch p.Strategy {
	case StrategyLinear:
		delay = time.Duration(float64(p.Initial) * float64(1+retryCount))
	case StrategyFixed:
		delay = p.Initial
	case StrategyExponential:
		delay = time.Duration(float64(p.Initial) * math.Pow(p.Factor, float64(retryCount)))
	default:
		delay = time.Duration(float64(p.Initial) * math.Pow(2.0, float64(retryCount)))
	}

	if p.Strategy != StrategyFixed && p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	if delay < 0 {
		// float overflow on huge retry counts
		delay = p.Max
	}

	return delay.Truncate(time.Second)
}

// ScaledDelay returns the base delay scaled by an outcome-specific
// multiplier (e.g. 2.0 after a 429).
func (p Policy) ScaledDelay(retryCount int, factor float64) time.Duration {
	delay := p.Delay(retryCount)
	if factor > 0 && factor != 1.0 {
		delay = time.Duration(float64(delay) * factor).Truncate(time.Second)
	}
	return delay
}

// NextRetry returns the absolute timestamp of the next attempt.
func (p Policy) NextRetry(now time.Time, retryCount int, factor float64) time.Time {
	return now.Add(p.ScaledDelay(retryCount, factor))
}
