//go:build property
// +build property

package resilience

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: no sequence of metric operations ever leaves trust negative.
func TestTrustNeverNegativeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("trust stays non-negative under any op sequence", prop.ForAll(
		func(initial float64, ops []int8, deltas []float64) bool {
			trust, err := NewTrustMetric(initial)
			if err != nil {
				return false
			}
			for i, op := range ops {
				switch op % 4 {
				case 0:
					trust.RecordPrimarySuccess()
				case 1:
					trust.RecordFallbackSuccess()
				case 2:
					trust.RecordFailure(int(op))
				case 3:
					if i < len(deltas) {
						_ = trust.Update(deltas[i]) // rejection is fine
					}
				}
				if trust.Value() < 0 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 2),
		gen.SliceOf(gen.Int8Range(0, 100)),
		gen.SliceOf(gen.Float64Range(-5, 5)),
	))

	properties.TestingRun(t)
}
