package resilience

import (
	"fmt"
	"math"
	"sync"
)

// TrustMetric is a non-negative rolling trust score with history and
// variance. Any update that would make the value negative is rejected
// before being applied; the metric is left unchanged.
type TrustMetric struct {
	mu      sync.Mutex
	value   float64
	history []float64
}

const (
	// quantum-path success nudges trust toward 1.0 by this share of the
	// remaining deficit.
	successNudge = 0.1
	// fallback success multiplies trust by this discount.
	fallbackDiscount = 0.85
	// failure decay rate per accumulated retry.
	failureDecayRate = 0.05
)

// NewTrustMetric creates a metric with the given starting value.
func NewTrustMetric(initial float64) (*TrustMetric, error) {
	if initial < 0 {
		return nil, fmt.Errorf("trust: initial value %f is negative", initial)
	}
	return &TrustMetric{value: initial, history: []float64{initial}}, nil
}

// Value returns the current trust value.
func (t *TrustMetric) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Update applies a delta. Deltas that would push the value negative are
// rejected and the metric is left unchanged.
func (t *TrustMetric) Update(delta float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.value + delta
	if next < 0 {
		return fmt.Errorf("trust: update %f would make value negative (current %f)", delta, t.value)
	}
	t.setLocked(next)
	return nil
}

// RecordPrimarySuccess nudges trust toward 1.0 proportionally to the
// current deficit.
func (t *TrustMetric) RecordPrimarySuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(t.value + (1.0-t.value)*successNudge)
}

// RecordFallbackSuccess multiplies trust by the fallback discount.
func (t *TrustMetric) RecordFallbackSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(t.value * fallbackDiscount)
}

// RecordFailure multiplies trust by 1 - rate*(retryCount+1), floored at
// zero. The value can reach zero but never goes below it.
func (t *TrustMetric) RecordFailure(retryCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	factor := 1.0 - failureDecayRate*float64(retryCount+1)
	t.setLocked(t.value * math.Max(factor, 0))
}

func (t *TrustMetric) setLocked(v float64) {
	t.value = v
	t.history = append(t.history, v)
}

// History returns a copy of the rolling value history.
func (t *TrustMetric) History() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, len(t.history))
	copy(out, t.history)
	return out
}

// Variance returns the population variance of the history.
func (t *TrustMetric) Variance() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := float64(len(t.history))
	if n == 0 {
		return 0
	}
	var mean float64
	for _, v := range t.history {
		mean += v
	}
	mean /= n
	var variance float64
	for _, v := range t.history {
		variance += (v - mean) * (v - mean)
	}
	return variance / n
}
