// Package provenance implements the append-only, hash-linked event log that
// anchors every pipeline transition. Each event's hash covers the previous
// event's hash, so mutating any past event breaks verification from that
// point forward. Events are never mutated or deleted.
package provenance

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gatewright/gatewright/pkg/canonical"
)

// GenesisHash is the previous-hash value of the first event.
const GenesisHash = "genesis"

// EventType categorizes a provenance event.
type EventType string

const (
	EventCandidateSubmitted   EventType = "CANDIDATE_SUBMITTED"
	EventValidationCompleted  EventType = "VALIDATION_COMPLETED"
	EventMappingApplied       EventType = "MAPPING_APPLIED"
	EventMappingRolledBack    EventType = "MAPPING_ROLLED_BACK"
	EventSandboxCompleted     EventType = "SANDBOX_COMPLETED"
	EventContractCreated      EventType = "CONTRACT_CREATED"
	EventContractTransition   EventType = "CONTRACT_TRANSITION"
	EventApprovalRecorded     EventType = "APPROVAL_RECORDED"
	EventContractCommitted    EventType = "CONTRACT_COMMITTED"
	EventContractRejected     EventType = "CONTRACT_REJECTED"
	EventContractRolledBack   EventType = "CONTRACT_ROLLED_BACK"
	EventCheckpointCreated    EventType = "CHECKPOINT_CREATED"
	EventCheckpointRestored   EventType = "CHECKPOINT_RESTORED"
	EventCheckpointInvalid    EventType = "CHECKPOINT_INVALID"
	EventAuditReportGenerated EventType = "AUDIT_REPORT_GENERATED"
	EventExecutionFailure     EventType = "EXECUTION_FAILURE"
	EventRetryAttempt         EventType = "RETRY_ATTEMPT"
	EventFallbackEngaged      EventType = "FALLBACK_ENGAGED"
	EventEscalationFlagged    EventType = "ESCALATION_FLAGGED"
)

// Event is an immutable, hash-chained provenance record.
type Event struct {
	Sequence  uint64         `json:"sequence"`
	Type      EventType      `json:"type"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// Chain is an append-only, hash-linked event log. Appends take the write
// lock; integrity verification and reads share the read lock.
type Chain struct {
	mu     sync.RWMutex
	events []Event
	head   string
	clock  func() time.Time
}

// NewChain creates an empty chain with the genesis head.
func NewChain() *Chain {
	return &Chain{
		events: make([]Event, 0),
		head:   GenesisHash,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// eventHash computes an event's own hash over {prev, type, details, timestamp}.
func eventHash(prevHash string, eventType EventType, details map[string]any, ts time.Time) (string, error) {
	input := struct {
		Prev      string         `json:"prev"`
		Type      EventType      `json:"type"`
		Details   map[string]any `json:"details"`
		Timestamp string         `json:"timestamp"`
	}{prevHash, eventType, details, ts.UTC().Format(time.RFC3339Nano)}
	return canonical.Hash(input)
}

// Append records a new event linked to the current head and returns it.
func (c *Chain) Append(eventType EventType, details map[string]any) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.clock().UTC()
	hash, err := eventHash(c.head, eventType, details, ts)
	if err != nil {
		return Event{}, fmt.Errorf("provenance: failed to hash event: %w", err)
	}

	event := Event{
		Sequence:  uint64(len(c.events)) + 1,
		Type:      eventType,
		Details:   details,
		Timestamp: ts,
		PrevHash:  c.head,
		Hash:      hash,
	}
	c.events = append(c.events, event)
	c.head = hash
	return event, nil
}

// Proof returns the current head hash, the chain's tamper-evidence anchor.
func (c *Chain) Proof() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Length returns the number of events.
func (c *Chain) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Events returns a copy of all events in order.
func (c *Chain) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// VerifyIntegrity walks the chain, recomputing every link. It returns false
// with a diagnostic if any event's hash or linkage does not match.
func (c *Chain) VerifyIntegrity() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prev := GenesisHash
	for i, event := range c.events {
		if event.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at event %d: expected prev %s, got %s", i+1, prev, event.PrevHash)
		}
		computed, err := eventHash(event.PrevHash, event.Type, event.Details, event.Timestamp)
		if err != nil {
			return false, fmt.Sprintf("failed to rehash event %d: %v", i+1, err)
		}
		if computed != event.Hash {
			return false, fmt.Sprintf("hash mismatch at event %d", i+1)
		}
		prev = event.Hash
	}
	return true, "chain verified"
}

// Export is a serializable snapshot of a chain for the audit sink.
type Export struct {
	ChainLength int       `json:"chain_length"`
	HeadProof   string    `json:"head_proof"`
	ExportedAt  time.Time `json:"exported_at"`
	Events      []Event   `json:"events"`
}

// Export snapshots the chain for serialization.
func (c *Chain) Export() *Export {
	c.mu.RLock()
	defer c.mu.RUnlock()
	events := make([]Event, len(c.events))
	copy(events, c.events)
	return &Export{
		ChainLength: len(events),
		HeadProof:   c.head,
		ExportedAt:  c.clock().UTC(),
		Events:      events,
	}
}

// MarshalJSON renders the export with stable field names.
func (e *Export) ToJSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// VerifyExport re-verifies a serialized chain export offline. It checks both
// the per-event links and that the head proof matches the last event.
func VerifyExport(data []byte) (bool, string) {
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return false, fmt.Sprintf("unreadable export: %v", err)
	}

	prev := GenesisHash
	for i, event := range export.Events {
		if event.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at event %d", i+1)
		}
		computed, err := eventHash(event.PrevHash, event.Type, event.Details, event.Timestamp)
		if err != nil {
			return false, fmt.Sprintf("failed to rehash event %d: %v", i+1, err)
		}
		if computed != event.Hash {
			return false, fmt.Sprintf("hash mismatch at event %d", i+1)
		}
		prev = event.Hash
	}

	if len(export.Events) > 0 && export.HeadProof != export.Events[len(export.Events)-1].Hash {
		return false, "head proof does not match final event"
	}
	if len(export.Events) == 0 && export.HeadProof != GenesisHash {
		return false, "empty export must carry the genesis proof"
	}
	return true, "export verified"
}
