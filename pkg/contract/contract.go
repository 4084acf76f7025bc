// Package contract implements the dual-control approval workflow leading to
// commit. A contract's status is a strict state machine; invalid transitions
// are no-ops that report failure. Every transition lands in the contract's
// private execution log and sub-chain as well as the shared provenance
// chain. The execution log is the sole input to audit-record generation.
package contract

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatewright/gatewright/pkg/provenance"
)

// Status is a contract's lifecycle state.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusSubmitted        Status = "SUBMITTED"
	StatusSandboxPhase     Status = "SANDBOX_PHASE"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusCommitted        Status = "COMMITTED"
	StatusRejected         Status = "REJECTED"
	StatusRolledBack       Status = "ROLLED_BACK"
)

// Decision is an approver's vote.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Approval is one approver's recorded vote.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// LogEntry is one execution-log record.
type LogEntry struct {
	Operation string         `json:"operation"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Contract is the proposal under dual control.
type Contract struct {
	ID          string
	CandidateID string

	mu           sync.Mutex
	status       Status
	required     []string
	approvals    map[string]Approval
	executionLog []LogEntry
	subChain     *provenance.Chain
	shared       *provenance.Chain
	committedAt  time.Time
	rollbackID   string
	clock        func() time.Time
	log          *slog.Logger
}

// New creates a draft contract for a candidate with the given required
// approver set. The shared chain may be nil in isolated tests.
func New(candidateID string, requiredApprovers []string, shared *provenance.Chain, log *slog.Logger) *Contract {
	if log == nil {
		log = slog.Default()
	}
	c := &Contract{
		ID:          "ctr-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		CandidateID: candidateID,
		status:      StatusDraft,
		required:    slices.Clone(requiredApprovers),
		approvals:   make(map[string]Approval),
		subChain:    provenance.NewChain(),
		shared:      shared,
		clock:       time.Now,
		log:         log,
	}
	c.recordLocked("contract_created", "system", map[string]any{
		"candidate_id":       candidateID,
		"required_approvers": len(requiredApprovers),
	})
	if shared != nil {
		_, _ = shared.Append(provenance.EventContractCreated, map[string]any{
			"contract_id":  c.ID,
			"candidate_id": candidateID,
		})
	}
	return c
}

// WithClock overrides the clock for deterministic testing.
func (c *Contract) WithClock(clock func() time.Time) *Contract {
	c.clock = clock
	return c
}

// Status returns the current state.
func (c *Contract) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RequiredApprovers returns a copy of the required approver set.
func (c *Contract) RequiredApprovers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.required)
}

// recordLocked appends to the execution log and the private sub-chain.
// Caller holds c.mu (or is the constructor).
func (c *Contract) recordLocked(operation, actor string, details map[string]any) {
	c.executionLog = append(c.executionLog, LogEntry{
		Operation: operation,
		Actor:     actor,
		Details:   details,
		Timestamp: c.clock().UTC(),
	})
	sub := map[string]any{"operation": operation, "actor": actor}
	for k, v := range details {
		sub[k] = v
	}
	_, _ = c.subChain.Append(provenance.EventContractTransition, sub)
}

// transitionLocked moves the state machine if from matches; otherwise it is
// a no-op that reports failure. Caller holds c.mu.
func (c *Contract) transitionLocked(from, to Status, operation, actor string, details map[string]any) bool {
	if c.status != from {
		c.log.Warn("invalid contract transition",
			"contract_id", c.ID, "status", string(c.status), "requested", string(to))
		return false
	}
	c.status = to
	c.recordLocked(operation, actor, details)
	if c.shared != nil {
		shared := map[string]any{"contract_id": c.ID, "from": string(from), "to": string(to)}
		_, _ = c.shared.Append(provenance.EventContractTransition, shared)
	}
	return true
}

// Submit moves Draft -> Submitted.
func (c *Contract) Submit(actor string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StatusDraft, StatusSubmitted, "submitted", actor, nil)
}

// BeginSandbox moves Submitted -> SandboxPhase.
func (c *Contract) BeginSandbox(actor string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StatusSubmitted, StatusSandboxPhase, "sandbox_started", actor, nil)
}

// CompleteSandbox moves SandboxPhase -> AwaitingApproval, recording the
// sandbox verdict in the execution log.
func (c *Contract) CompleteSandbox(actor string, fidelity float64, sideEffects int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(StatusSandboxPhase, StatusAwaitingApproval, "sandbox_completed", actor, map[string]any{
		"fidelity":     fidelity,
		"side_effects": sideEffects,
	})
}

// AddApproval records a vote. It rejects approvers outside the required set
// and duplicate votes from the same identity. Once every required approver
// has voted, a single rejection drives the contract to Rejected.
func (c *Contract) AddApproval(approverID string, decision Decision, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusAwaitingApproval {
		return fmt.Errorf("contract %s: approvals only accepted while awaiting approval (status=%s)", c.ID, c.status)
	}
	if !slices.Contains(c.required, approverID) {
		return fmt.Errorf("contract %s: %q is not a required approver", c.ID, approverID)
	}
	if _, voted := c.approvals[approverID]; voted {
		return fmt.Errorf("contract %s: approver %q has already voted", c.ID, approverID)
	}

	c.approvals[approverID] = Approval{
		ApproverID: approverID,
		Decision:   decision,
		Reason:     reason,
		Timestamp:  c.clock().UTC(),
	}
	c.recordLocked("approval_recorded", approverID, map[string]any{
		"decision": string(decision),
		"reason":   reason,
	})
	if c.shared != nil {
		_, _ = c.shared.Append(provenance.EventApprovalRecorded, map[string]any{
			"contract_id": c.ID,
			"approver_id": approverID,
			"decision":    string(decision),
		})
	}

	// All votes in and any rejection present: the contract is rejected.
	if len(c.approvals) == len(c.required) && c.anyRejectionLocked() {
		c.transitionLocked(StatusAwaitingApproval, StatusRejected, "rejected", approverID, map[string]any{
			"reason": reason,
		})
		if c.shared != nil {
			_, _ = c.shared.Append(provenance.EventContractRejected, map[string]any{
				"contract_id": c.ID,
			})
		}
	}
	return nil
}

func (c *Contract) anyRejectionLocked() bool {
	for _, a := range c.approvals {
		if a.Decision == DecisionReject {
			return true
		}
	}
	return false
}

// IsApproved reports whether every required approver's decision is approve.
func (c *Contract) IsApproved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isApprovedLocked()
}

func (c *Contract) isApprovedLocked() bool {
	if len(c.approvals) != len(c.required) {
		return false
	}
	for _, id := range c.required {
		a, ok := c.approvals[id]
		if !ok || a.Decision != DecisionApprove {
			return false
		}
	}
	return true
}

// CommitZ2 performs the dual-control commit. It succeeds only while the
// contract awaits approval and every required approver has approved; on
// success it stamps the commit timestamp and derives a rollback identifier.
// On failure the contract is left unchanged, still awaiting approval.
func (c *Contract) CommitZ2() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusAwaitingApproval || !c.isApprovedLocked() {
		return false
	}

	now := c.clock().UTC()
	c.committedAt = now
	c.rollbackID = "rb-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	ok := c.transitionLocked(StatusAwaitingApproval, StatusCommitted, "committed", "system", map[string]any{
		"rollback_id": c.rollbackID,
	})
	if ok && c.shared != nil {
		_, _ = c.shared.Append(provenance.EventContractCommitted, map[string]any{
			"contract_id": c.ID,
			"rollback_id": c.rollbackID,
		})
	}
	return ok
}

// Rollback moves Committed -> RolledBack. Valid only from Committed.
func (c *Contract) Rollback(reason, actorID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.transitionLocked(StatusCommitted, StatusRolledBack, "rolled_back", actorID, map[string]any{
		"reason": reason,
	})
	if ok && c.shared != nil {
		_, _ = c.shared.Append(provenance.EventContractRolledBack, map[string]any{
			"contract_id": c.ID,
			"reason":      reason,
			"actor":       actorID,
		})
	}
	return ok
}

// CommittedAt returns the commit timestamp, zero if uncommitted.
func (c *Contract) CommittedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committedAt
}

// RollbackID returns the identifier derived at commit time.
func (c *Contract) RollbackID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbackID
}

// Approvals returns a copy of the collected votes.
func (c *Contract) Approvals() []Approval {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Approval, 0, len(c.approvals))
	for _, id := range c.required {
		if a, ok := c.approvals[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ExecutionLog returns a copy of the contract's execution log.
func (c *Contract) ExecutionLog() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.executionLog))
	copy(out, c.executionLog)
	return out
}

// SubChainProof returns the head proof of the contract's private sub-chain.
func (c *Contract) SubChainProof() string {
	return c.subChain.Proof()
}

// VerifySubChain verifies the private sub-chain's integrity.
func (c *Contract) VerifySubChain() (bool, string) {
	return c.subChain.VerifyIntegrity()
}
