package checkpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewright/gatewright/pkg/provenance"
)

func TestCreateCheckpointChainsAndIndexes(t *testing.T) {
	m := NewManager(10, nil, nil)

	c1, err := m.CreateCheckpoint(map[string]float64{"a": 1}, "exec-1")
	require.NoError(t, err)
	c2, err := m.CreateCheckpoint(map[string]float64{"a": 2}, "exec-1")
	require.NoError(t, err)

	assert.Empty(t, c1.ParentID)
	assert.Equal(t, c1.ID, c2.ParentID)
	assert.Equal(t, StatusActive, c1.Status)
	assert.Equal(t, []string{c1.ID, c2.ID}, m.ByExecution("exec-1"))
	assert.Equal(t, 2, m.ChainLength())
}

func TestCreateCheckpointDeepCopies(t *testing.T) {
	m := NewManager(10, nil, nil)
	state := map[string]float64{"a": 1}

	ckpt, err := m.CreateCheckpoint(state, "exec-1")
	require.NoError(t, err)

	// Mutating the caller's map must not affect the snapshot.
	state["a"] = 99
	restored, err := m.Rollback(ckpt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, restored["a"], 1e-12)
}

func TestRollbackSupersedesLaterCheckpoints(t *testing.T) {
	m := NewManager(10, nil, nil)

	c1, _ := m.CreateCheckpoint(map[string]float64{"v": 1}, "exec-1")
	c2, _ := m.CreateCheckpoint(map[string]float64{"v": 2}, "exec-1")
	c3, _ := m.CreateCheckpoint(map[string]float64{"v": 3}, "exec-1")

	restored, err := m.Rollback(c1.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, restored["v"], 1e-12)

	assert.Equal(t, StatusRestored, c1.Status)
	assert.Equal(t, StatusSuperseded, c2.Status)
	assert.Equal(t, StatusSuperseded, c3.Status)
	assert.Equal(t, 1, m.ChainLength())

	_, err = m.Get(c2.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRollbackReturnsCallerOwnedCopy(t *testing.T) {
	m := NewManager(10, nil, nil)
	ckpt, _ := m.CreateCheckpoint(map[string]float64{"v": 1}, "exec-1")

	restored, err := m.Rollback(ckpt.ID)
	require.NoError(t, err)
	restored["v"] = 42

	again, err := m.Rollback(ckpt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, again["v"], 1e-12)
}

func TestGetReturnsCallerOwnedCopy(t *testing.T) {
	m := NewManager(10, nil, nil)
	ckpt, _ := m.CreateCheckpoint(map[string]float64{"v": 1}, "exec-1")

	got, err := m.Get(ckpt.ID)
	require.NoError(t, err)
	got.State["v"] = 42

	// The stored snapshot is untouched, so the restore still verifies.
	restored, err := m.Rollback(ckpt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, restored["v"], 1e-12)
}

func TestRollbackIntegrityFailure(t *testing.T) {
	chain := provenance.NewChain()
	m := NewManager(10, chain, nil)
	ckpt, _ := m.CreateCheckpoint(map[string]float64{"v": 1}, "exec-1")

	// Accidental mutation of stored state after creation.
	ckpt.State["v"] = 2

	_, err := m.Rollback(ckpt.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))
	assert.Equal(t, StatusInvalid, ckpt.Status)

	events := chain.Events()
	assert.Equal(t, provenance.EventCheckpointInvalid, events[len(events)-1].Type)
}

func TestRollbackUnknownCheckpoint(t *testing.T) {
	m := NewManager(10, nil, nil)
	_, err := m.Rollback("ckpt-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCapacityEvictsOldest(t *testing.T) {
	m := NewManager(2, nil, nil)

	c1, _ := m.CreateCheckpoint(map[string]float64{"v": 1}, "exec-1")
	c2, _ := m.CreateCheckpoint(map[string]float64{"v": 2}, "exec-2")
	c3, _ := m.CreateCheckpoint(map[string]float64{"v": 3}, "exec-2")

	assert.Equal(t, 2, m.ChainLength())
	_, err := m.Get(c1.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, m.ByExecution("exec-1"))

	// Remaining checkpoints are untouched.
	_, err = m.Get(c2.ID)
	require.NoError(t, err)
	_, err = m.Get(c3.ID)
	require.NoError(t, err)
}

func TestProvenanceEventsOnLifecycle(t *testing.T) {
	chain := provenance.NewChain()
	m := NewManager(10, chain, nil)

	ckpt, _ := m.CreateCheckpoint(map[string]float64{"v": 1}, "exec-1")
	_, err := m.Rollback(ckpt.ID)
	require.NoError(t, err)

	events := chain.Events()
	require.Len(t, events, 2)
	assert.Equal(t, provenance.EventCheckpointCreated, events[0].Type)
	assert.Equal(t, provenance.EventCheckpointRestored, events[1].Type)

	ok, reason := chain.VerifyIntegrity()
	assert.True(t, ok, reason)
}
