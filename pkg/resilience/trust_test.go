package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrustMetricRejectsNegative(t *testing.T) {
	_, err := NewTrustMetric(-0.1)
	assert.Error(t, err)
}

func TestUpdateRejectsNegativeResult(t *testing.T) {
	trust, err := NewTrustMetric(0.3)
	require.NoError(t, err)

	err = trust.Update(-0.5)
	assert.Error(t, err)
	// Rejected update leaves the metric unchanged.
	assert.InDelta(t, 0.3, trust.Value(), 1e-12)

	require.NoError(t, trust.Update(-0.3))
	assert.InDelta(t, 0.0, trust.Value(), 1e-12)
}

func TestRecordFailureFloorsAtZero(t *testing.T) {
	trust, _ := NewTrustMetric(0.8)
	// rate 0.05, retryCount 30 -> factor 1 - 1.55 < 0, floored to 0.
	trust.RecordFailure(30)
	assert.InDelta(t, 0.0, trust.Value(), 1e-12)
	// Further failures keep it at zero, never negative.
	trust.RecordFailure(3)
	assert.GreaterOrEqual(t, trust.Value(), 0.0)
}

func TestRecordPrimarySuccessApproachesOne(t *testing.T) {
	trust, _ := NewTrustMetric(0.0)
	for i := 0; i < 100; i++ {
		trust.RecordPrimarySuccess()
	}
	assert.Greater(t, trust.Value(), 0.99)
	assert.LessOrEqual(t, trust.Value(), 1.0)
}

func TestHistoryAndVariance(t *testing.T) {
	trust, _ := NewTrustMetric(1.0)
	trust.RecordFallbackSuccess()
	trust.RecordFallbackSuccess()

	h := trust.History()
	require.Len(t, h, 3)
	assert.InDelta(t, 1.0, h[0], 1e-12)
	assert.InDelta(t, 0.85, h[1], 1e-12)
	assert.InDelta(t, 0.7225, h[2], 1e-12)
	assert.Greater(t, trust.Variance(), 0.0)

	// History is a copy.
	h[0] = -99
	assert.InDelta(t, 1.0, trust.History()[0], 1e-12)
}
