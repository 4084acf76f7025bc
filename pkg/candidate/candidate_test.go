package candidate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() SubmitRequest {
	return SubmitRequest{
		Domain:      "biodiscovery",
		Description: "binding affinity update for target BRD4",
		Payload:     map[string]any{"method": "vqe", "shots": 4096},
		Score: Score{
			MutualInformation:     0.75,
			CrossImpact:           0.65,
			Confidence:            0.85,
			Novelty:               0.5,
			EntropyReduction:      0.6,
			CompressionEfficiency: 0.55,
		},
		TargetIDs:        []string{"binding_affinity"},
		SourceWorkflowID: "wf-042",
		ProvenanceHash:   "4a5c8e0f1b2d3a4c5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5",
	}
}

func TestNewCandidateDefaults(t *testing.T) {
	c := New(testRequest())
	assert.Contains(t, c.ID, "cand-")
	assert.Equal(t, StatusPending, c.Status())
	assert.Equal(t, LevelStandard, c.ValidationLevel)
	assert.False(t, c.CreatedAt.IsZero())
}

func TestCompositeScore(t *testing.T) {
	s := testRequest().Score
	expected := 0.75*0.30 + 0.65*0.20 + 0.85*0.20 + 0.5*0.10 + 0.6*0.10 + 0.55*0.10
	assert.InDelta(t, expected, s.Composite(), 1e-9)
	// The default admission floor is 0.6; this score clears it.
	assert.Greater(t, s.Composite(), 0.6)
}

func TestCompositeScoreBounds(t *testing.T) {
	full := Score{
		MutualInformation:     1,
		CrossImpact:           1,
		Confidence:            1,
		Novelty:               1,
		EntropyReduction:      1,
		CompressionEfficiency: 1,
	}
	assert.InDelta(t, 1.0, full.Composite(), 1e-9)
	assert.InDelta(t, 0.0, Score{}.Composite(), 1e-9)
	assert.False(t, math.IsNaN(full.Composite()))
}

func TestStatusTransitions(t *testing.T) {
	c := New(testRequest())
	require.NoError(t, c.Transition(StatusValidated))
	require.NoError(t, c.Transition(StatusSandboxed))
	require.NoError(t, c.Transition(StatusCommitted))
	assert.Equal(t, StatusCommitted, c.Status())

	// Committed is immutable except for rollback.
	assert.Error(t, c.Transition(StatusPending))
	assert.Error(t, c.Transition(StatusRejected))
	require.NoError(t, c.Transition(StatusRolledBack))
	assert.Equal(t, StatusRolledBack, c.Status())

	// Rolled back is terminal.
	assert.Error(t, c.Transition(StatusPending))
}

func TestInvalidTransitionLeavesStatusUnchanged(t *testing.T) {
	c := New(testRequest())
	err := c.Transition(StatusCommitted)
	assert.Error(t, err)
	assert.Equal(t, StatusPending, c.Status())
}

func TestRejectedCandidateMayBeResubmitted(t *testing.T) {
	c := New(testRequest())
	require.NoError(t, c.Transition(StatusRejected))
	require.NoError(t, c.Transition(StatusPending))
	assert.Equal(t, StatusPending, c.Status())
}

func TestLevelOrdering(t *testing.T) {
	assert.True(t, LevelCritical.AtLeast(LevelEnhanced))
	assert.True(t, LevelEnhanced.AtLeast(LevelEnhanced))
	assert.False(t, LevelBasic.AtLeast(LevelStandard))
	assert.True(t, LevelStandard.Valid())
	assert.False(t, Level("EXTREME").Valid())
}
