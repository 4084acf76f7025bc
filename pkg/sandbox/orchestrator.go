// Package sandbox trial-runs a mapping against an isolated store copy,
// measuring side effects and fidelity and performing a rollback drill before
// anything touches the real store. The isolated instance is discarded at
// session end on every path; only the result survives.
package sandbox

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatewright/gatewright/pkg/candidate"
	"github.com/gatewright/gatewright/pkg/checkpoint"
	"github.com/gatewright/gatewright/pkg/mapping"
	"github.com/gatewright/gatewright/pkg/provenance"
)

// Result is the surviving record of one sandbox session.
type Result struct {
	SessionID        string        `json:"session_id"`
	CandidateID      string        `json:"candidate_id"`
	Success          bool          `json:"success"`
	Fidelity         float64       `json:"fidelity"`
	RollbackTested   bool          `json:"rollback_tested"`
	RollbackVerified bool          `json:"rollback_verified"`
	SideEffects      []string      `json:"side_effects,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

const (
	// relative value change above which an update is a side effect.
	sideEffectChangeCeiling = 0.50
	// cross-domain impact above which an impact is a side effect.
	sideEffectImpactCeiling = 0.80
	// reference confidence delta for fidelity normalization.
	fidelityReferenceDelta = 0.05
	// fidelity penalty per detected side effect.
	sideEffectPenalty = 0.1
	// restored state must match the pre-trial snapshot this closely.
	restoreSimilarityThreshold = 0.99
)

// Orchestrator runs isolated trials. Each session builds a fresh mapper over
// a cloned store so concurrent evaluations never interleave mutations.
type Orchestrator struct {
	tables mapping.Tables
	chain  *provenance.Chain
	clock  func() time.Time
	log    *slog.Logger
}

// NewOrchestrator creates a sandbox orchestrator. The shared chain receives
// one event per completed session.
func NewOrchestrator(tables mapping.Tables, chain *provenance.Chain, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		tables: tables,
		chain:  chain,
		clock:  time.Now,
		log:    log,
	}
}

// WithClock overrides the clock for deterministic testing.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Trial applies the proposed updates to an isolated copy of base, detects
// side effects, measures fidelity, and runs a rollback drill. The rollback
// drill is diagnostic only: its outcome is recorded but never fails the
// session. Success requires a clean application and zero side effects.
func (o *Orchestrator) Trial(c *candidate.Candidate, updates []mapping.Update, impact map[string]float64, base *mapping.MemoryStore) (*Result, error) {
	started := o.clock().UTC()
	result := &Result{
		SessionID:   "sbx-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		CandidateID: c.ID,
		StartedAt:   started,
	}

	// Isolated session state; torn down unconditionally.
	isolated := base.Clone()
	sessionCheckpoints := checkpoint.NewManager(2, nil, o.log)
	sessionMapper := mapping.NewMapper(isolated, o.tables, provenance.NewChain(), o.log)

	// The isolated instance and its private provenance never outlive the
	// session: nothing below retains them, error or not. The deferred block
	// seals the result and records the session on the shared chain.
	defer func() {
		result.Duration = o.clock().UTC().Sub(started)
		if o.chain != nil {
			_, _ = o.chain.Append(provenance.EventSandboxCompleted, map[string]any{
				"session_id":        result.SessionID,
				"candidate_id":      c.ID,
				"success":           result.Success,
				"fidelity":          result.Fidelity,
				"side_effects":      len(result.SideEffects),
				"rollback_verified": result.RollbackVerified,
			})
		}
	}()

	preTrial, err := sessionCheckpoints.CreateCheckpoint(isolated.Snapshot(), result.SessionID)
	if err != nil {
		return result, fmt.Errorf("sandbox: failed to snapshot pre-trial state: %w", err)
	}

	applied := true
	if err := sessionMapper.ApplyMapping(updates); err != nil {
		applied = false
		o.log.Warn("sandbox apply failed", "session_id", result.SessionID, "error", err)
	}

	result.SideEffects = detectSideEffects(updates, impact)
	result.Fidelity = fidelity(updates, len(result.SideEffects))
	result.Success = applied && len(result.SideEffects) == 0

	// Rollback drill: restore every applied update and compare against the
	// pre-trial snapshot.
	if applied {
		result.RollbackTested = true
		if err := sessionMapper.RollbackMapping(updates); err == nil {
			similarity := stateSimilarity(preTrial.State, isolated.Snapshot())
			result.RollbackVerified = similarity > restoreSimilarityThreshold
		}
	}

	return result, nil
}

// detectSideEffects flags any update whose relative change exceeds the
// ceiling and any cross-domain impact beyond the impact ceiling.
func detectSideEffects(updates []mapping.Update, impact map[string]float64) []string {
	var effects []string
	for _, u := range updates {
		if change := u.RelativeChange(); change > sideEffectChangeCeiling {
			effects = append(effects, fmt.Sprintf(
				"target %s relative change %.2f exceeds ceiling %.2f",
				u.TargetID, change, sideEffectChangeCeiling))
		}
	}
	for domain, v := range impact {
		if v > sideEffectImpactCeiling {
			effects = append(effects, fmt.Sprintf(
				"cross-domain impact on %s %.2f exceeds ceiling %.2f",
				domain, v, sideEffectImpactCeiling))
		}
	}
	return effects
}

// fidelity normalizes the mean confidence delta against the reference delta,
// clamps to [0,1], then subtracts a penalty per side effect (floored at 0).
func fidelity(updates []mapping.Update, sideEffects int) float64 {
	if len(updates) == 0 {
		return 0
	}
	var sum float64
	for _, u := range updates {
		sum += u.ConfidenceDelta
	}
	avg := sum / float64(len(updates))
	f := math.Min(math.Max(avg/fidelityReferenceDelta, 0), 1)
	f -= sideEffectPenalty * float64(sideEffects)
	return math.Max(f, 0)
}

// stateSimilarity returns the fraction of targets whose values agree within
// a tight tolerance across both snapshots. Key-set mismatches count against
// similarity.
func stateSimilarity(want, got map[string]float64) float64 {
	if len(want) == 0 && len(got) == 0 {
		return 1
	}
	total := len(want)
	matched := 0
	for k, v := range want {
		g, ok := got[k]
		if ok && math.Abs(g-v) <= 1e-9 {
			matched++
		}
	}
	for k := range got {
		if _, ok := want[k]; !ok {
			total++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(matched) / float64(total)
}
