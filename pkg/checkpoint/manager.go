// Package checkpoint implements checkpoint capture and deterministic
// restoration of store state. Checkpoints form an append-only chain; a
// restore marks every later checkpoint superseded and truncates the chain at
// the restored point. Stored snapshots are hash-verified before any restore.
package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatewright/gatewright/pkg/canonical"
	"github.com/gatewright/gatewright/pkg/provenance"
)

// Status is a checkpoint's lifecycle state.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusRestored   Status = "RESTORED"
	StatusSuperseded Status = "SUPERSEDED"
	StatusInvalid    Status = "INVALID"
)

// ErrIntegrity is returned when a checkpoint's stored state no longer
// matches its content hash. No partial restoration ever occurs.
var ErrIntegrity = errors.New("checkpoint integrity verification failed")

// ErrNotFound is returned for unknown checkpoint ids.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is an immutable snapshot of store state, hash-verified on
// restore and linked to its predecessor.
type Checkpoint struct {
	ID          string             `json:"id"`
	ExecutionID string             `json:"execution_id"`
	State       map[string]float64 `json:"state"`
	ContentHash string             `json:"content_hash"`
	ParentID    string             `json:"parent_id,omitempty"`
	Status      Status             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

// DefaultCapacity bounds the live checkpoint chain; oldest-first eviction.
const DefaultCapacity = 50

// Manager owns the checkpoint chain. Creation and restoration are guarded by
// a single lock so they appear atomic to other goroutines.
type Manager struct {
	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
	byExecution map[string][]string
	order       []string // chain order, oldest first
	capacity    int
	chain       *provenance.Chain
	clock       func() time.Time
	log         *slog.Logger
}

// NewManager creates a checkpoint manager with the given capacity. A
// capacity of zero or less uses DefaultCapacity. The provenance chain may be
// nil for isolated instances.
func NewManager(capacity int, chain *provenance.Chain, log *slog.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		checkpoints: make(map[string]*Checkpoint),
		byExecution: make(map[string][]string),
		order:       make([]string, 0),
		capacity:    capacity,
		chain:       chain,
		clock:       time.Now,
		log:         log,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// CreateCheckpoint deep-copies state, links it to the previous checkpoint,
// and indexes it by id and owning execution. The oldest checkpoint is
// evicted once capacity is exceeded.
func (m *Manager) CreateCheckpoint(state map[string]float64, executionID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]float64, len(state))
	maps.Copy(snapshot, state)

	hash, err := canonical.Hash(snapshot)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to hash state: %w", err)
	}

	ckpt := &Checkpoint{
		ID:          "ckpt-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		ExecutionID: executionID,
		State:       snapshot,
		ContentHash: hash,
		Status:      StatusActive,
		CreatedAt:   m.clock().UTC(),
	}
	if len(m.order) > 0 {
		ckpt.ParentID = m.order[len(m.order)-1]
	}

	m.checkpoints[ckpt.ID] = ckpt
	m.byExecution[executionID] = append(m.byExecution[executionID], ckpt.ID)
	m.order = append(m.order, ckpt.ID)

	if len(m.order) > m.capacity {
		m.evictOldestLocked()
	}

	if m.chain != nil {
		_, _ = m.chain.Append(provenance.EventCheckpointCreated, map[string]any{
			"checkpoint_id": ckpt.ID,
			"execution_id":  executionID,
			"content_hash":  hash,
		})
	}
	return ckpt, nil
}

// evictOldestLocked removes the oldest checkpoint and keeps the execution
// index consistent with the live set. Caller holds m.mu.
func (m *Manager) evictOldestLocked() {
	oldestID := m.order[0]
	m.order = m.order[1:]

	oldest, ok := m.checkpoints[oldestID]
	if !ok {
		return
	}
	delete(m.checkpoints, oldestID)

	ids := m.byExecution[oldest.ExecutionID]
	for i, id := range ids {
		if id == oldestID {
			m.byExecution[oldest.ExecutionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byExecution[oldest.ExecutionID]) == 0 {
		delete(m.byExecution, oldest.ExecutionID)
	}
	m.log.Debug("evicted oldest checkpoint", "checkpoint_id", oldestID)
}

// Rollback restores the identified checkpoint. The stored content hash must
// still match the snapshot; on mismatch the checkpoint is marked invalid and
// no restoration occurs. On success every later checkpoint is marked
// superseded, the chain is truncated at the restored point, and the caller
// receives its own deep copy of the snapshot.
func (m *Manager) Rollback(checkpointID string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ckpt, ok := m.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("checkpoint %q: %w", checkpointID, ErrNotFound)
	}

	hash, err := canonical.Hash(ckpt.State)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: failed to rehash state: %w", err)
	}
	if hash != ckpt.ContentHash {
		ckpt.Status = StatusInvalid
		if m.chain != nil {
			_, _ = m.chain.Append(provenance.EventCheckpointInvalid, map[string]any{
				"checkpoint_id": ckpt.ID,
			})
		}
		return nil, fmt.Errorf("checkpoint %q: %w", checkpointID, ErrIntegrity)
	}

	// Mark everything after the restore point superseded and truncate.
	idx := -1
	for i, id := range m.order {
		if id == checkpointID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		for _, id := range m.order[idx+1:] {
			later, ok := m.checkpoints[id]
			if !ok {
				continue
			}
			later.Status = StatusSuperseded
			delete(m.checkpoints, id)
			m.removeFromExecutionIndexLocked(later)
		}
		m.order = m.order[:idx+1]
	}

	ckpt.Status = StatusRestored

	if m.chain != nil {
		_, _ = m.chain.Append(provenance.EventCheckpointRestored, map[string]any{
			"checkpoint_id": ckpt.ID,
			"execution_id":  ckpt.ExecutionID,
		})
	}

	restored := make(map[string]float64, len(ckpt.State))
	maps.Copy(restored, ckpt.State)
	return restored, nil
}

func (m *Manager) removeFromExecutionIndexLocked(ckpt *Checkpoint) {
	ids := m.byExecution[ckpt.ExecutionID]
	for i, id := range ids {
		if id == ckpt.ID {
			m.byExecution[ckpt.ExecutionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byExecution[ckpt.ExecutionID]) == 0 {
		delete(m.byExecution, ckpt.ExecutionID)
	}
}

// Get returns a copy of the checkpoint with the given id. The caller owns
// the returned state map; mutating it cannot corrupt the stored snapshot.
func (m *Manager) Get(checkpointID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ckpt, ok := m.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("checkpoint %q: %w", checkpointID, ErrNotFound)
	}
	out := *ckpt
	out.State = make(map[string]float64, len(ckpt.State))
	maps.Copy(out.State, ckpt.State)
	return &out, nil
}

// ByExecution returns the live checkpoint ids owned by an execution.
func (m *Manager) ByExecution(executionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byExecution[executionID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// ChainLength returns the number of live checkpoints in chain order.
func (m *Manager) ChainLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
