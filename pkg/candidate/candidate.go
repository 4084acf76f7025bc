// Package candidate defines the typed request object produced by an
// untrusted discovery or execution backend, together with its composite
// quality score and status lifecycle. Status transitions are the only
// permitted mutation of a candidate.
package candidate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a candidate's lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusValidated  Status = "VALIDATED"
	StatusRejected   Status = "REJECTED"
	StatusSandboxed  Status = "SANDBOXED"
	StatusCommitted  Status = "COMMITTED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Level is the validation rigor requested for a candidate.
type Level string

const (
	LevelBasic    Level = "BASIC"
	LevelStandard Level = "STANDARD"
	LevelEnhanced Level = "ENHANCED"
	LevelCritical Level = "CRITICAL"
)

// levelRank orders validation levels by rigor.
var levelRank = map[Level]int{
	LevelBasic:    0,
	LevelStandard: 1,
	LevelEnhanced: 2,
	LevelCritical: 3,
}

// AtLeast reports whether l is at least as rigorous as other.
func (l Level) AtLeast(other Level) bool {
	return levelRank[l] >= levelRank[other]
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Score holds the [0,1] quality signals combined into the composite
// admission score via fixed weights.
type Score struct {
	MutualInformation     float64 `json:"mutual_information" validate:"gte=0,lte=1"`
	CrossImpact           float64 `json:"cross_impact" validate:"gte=0,lte=1"`
	Confidence            float64 `json:"confidence" validate:"gte=0,lte=1"`
	Novelty               float64 `json:"novelty" validate:"gte=0,lte=1"`
	EntropyReduction      float64 `json:"entropy_reduction" validate:"gte=0,lte=1"`
	CompressionEfficiency float64 `json:"compression_efficiency" validate:"gte=0,lte=1"`
}

// Composite score weights. Fixed; they sum to 1.
const (
	weightMutualInformation     = 0.30
	weightCrossImpact           = 0.20
	weightConfidence            = 0.20
	weightNovelty               = 0.10
	weightEntropyReduction      = 0.10
	weightCompressionEfficiency = 0.10
)

// Composite returns the fixed-weight linear combination of the signals.
func (s Score) Composite() float64 {
	return s.MutualInformation*weightMutualInformation +
		s.CrossImpact*weightCrossImpact +
		s.Confidence*weightConfidence +
		s.Novelty*weightNovelty +
		s.EntropyReduction*weightEntropyReduction +
		s.CompressionEfficiency*weightCompressionEfficiency
}

// Candidate is a proposed change submitted by a producer. Immutable once
// committed, except for the explicit rollback transition.
type Candidate struct {
	ID               string         `json:"id" validate:"required"`
	Domain           string         `json:"domain" validate:"required"`
	Description      string         `json:"description" validate:"required"`
	Payload          map[string]any `json:"payload" validate:"required"`
	Score            Score          `json:"score"`
	TargetIDs        []string       `json:"target_ids"`
	SourceWorkflowID string         `json:"source_workflow_id" validate:"required"`
	ProvenanceHash   string         `json:"provenance_hash" validate:"required"`
	ValidationLevel  Level          `json:"validation_level"`
	CreatedAt        time.Time      `json:"created_at"`

	mu     sync.Mutex
	status Status
}

// SubmitRequest carries the producer-facing fields of a new candidate.
type SubmitRequest struct {
	Domain           string         `json:"domain"`
	Description      string         `json:"description"`
	Payload          map[string]any `json:"payload"`
	Score            Score          `json:"score"`
	TargetIDs        []string       `json:"target_ids"`
	SourceWorkflowID string         `json:"source_workflow_id"`
	ProvenanceHash   string         `json:"provenance_hash"`
}

// New constructs a pending candidate from a producer submission.
func New(req SubmitRequest) *Candidate {
	return &Candidate{
		ID:               "cand-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		Domain:           req.Domain,
		Description:      req.Description,
		Payload:          req.Payload,
		Score:            req.Score,
		TargetIDs:        req.TargetIDs,
		SourceWorkflowID: req.SourceWorkflowID,
		ProvenanceHash:   req.ProvenanceHash,
		ValidationLevel:  LevelStandard,
		CreatedAt:        time.Now().UTC(),
		status:           StatusPending,
	}
}

// Status returns the candidate's current lifecycle state.
func (c *Candidate) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// permitted transition table. A committed candidate only moves via rollback.
var transitions = map[Status][]Status{
	StatusPending:    {StatusValidated, StatusRejected},
	StatusValidated:  {StatusSandboxed, StatusRejected},
	StatusSandboxed:  {StatusCommitted, StatusRejected, StatusPending},
	StatusCommitted:  {StatusRolledBack},
	StatusRejected:   {StatusPending},
	StatusRolledBack: {},
}

// Transition moves the candidate to the given status if the transition is
// permitted. Invalid transitions leave the candidate unchanged.
func (c *Candidate) Transition(to Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, allowed := range transitions[c.status] {
		if allowed == to {
			c.status = to
			return nil
		}
	}
	return fmt.Errorf("candidate %s: transition %s -> %s not permitted", c.ID, c.status, to)
}
