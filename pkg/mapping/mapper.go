// Package mapping translates a validated candidate into proposed updates
// against the store's current values, and applies or rolls back those
// updates. Mapping is idempotent: re-applying the same mapping produces the
// same store values.
package mapping

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/gatewright/gatewright/pkg/candidate"
	"github.com/gatewright/gatewright/pkg/provenance"
)

// Update is one proposed change to a single target.
type Update struct {
	TargetID        string  `json:"target_id"`
	CurrentValue    float64 `json:"current_value"`
	ProposedValue   float64 `json:"proposed_value"`
	ConfidenceDelta float64 `json:"confidence_delta"`
	Evidence        string  `json:"evidence"`
	Domain          string  `json:"domain"`
}

// RelativeChange returns the update's change relative to its current value.
func (u Update) RelativeChange() float64 {
	return relativeChange(u.CurrentValue, u.ProposedValue)
}

func relativeChange(current, proposed float64) float64 {
	denom := math.Max(math.Abs(current), 1e-9)
	return math.Abs(proposed-current) / denom
}

// Tables is the static domain configuration the mapper consults.
type Tables struct {
	// Targets maps a domain to the target identifiers it may update.
	Targets map[string][]string
	// Adjacency maps domain -> other domain -> static impact weight.
	Adjacency map[string]map[string]float64
}

const (
	// magnitude scale: proposed = current + mi * confidence * k.
	defaultK = 0.1
	// confidence delta scale.
	defaultK2 = 0.05
	// minimum relative change for an update to be kept.
	defaultEpsilon = 0.01
)

// Mapper computes and applies update sets against a Store.
type Mapper struct {
	store  Store
	tables Tables
	chain  *provenance.Chain
	log    *slog.Logger

	k       float64
	k2      float64
	epsilon float64
}

// NewMapper creates a mapper over the given store and domain tables. The
// chain may be nil for isolated (sandbox) instances whose provenance is
// discarded with the session.
func NewMapper(store Store, tables Tables, chain *provenance.Chain, log *slog.Logger) *Mapper {
	if log == nil {
		log = slog.Default()
	}
	return &Mapper{
		store:   store,
		tables:  tables,
		chain:   chain,
		log:     log,
		k:       defaultK,
		k2:      defaultK2,
		epsilon: defaultEpsilon,
	}
}

// MapCandidate computes the proposed updates for a validated candidate. An
// update is kept only if its relative change exceeds epsilon or its target
// was explicitly requested by the candidate.
func (m *Mapper) MapCandidate(c *candidate.Candidate) ([]Update, error) {
	targets, ok := m.tables.Targets[c.Domain]
	if !ok {
		return nil, fmt.Errorf("mapping: no target table for domain %q", c.Domain)
	}

	magnitude := c.Score.MutualInformation * c.Score.Confidence * m.k
	confidenceDelta := c.Score.Confidence * m.k2

	var updates []Update
	for _, targetID := range targets {
		current := m.store.CurrentValue(targetID)
		proposed := current + magnitude

		requested := slices.Contains(c.TargetIDs, targetID)
		if relativeChange(current, proposed) <= m.epsilon && !requested {
			continue
		}
		updates = append(updates, Update{
			TargetID:        targetID,
			CurrentValue:    current,
			ProposedValue:   proposed,
			ConfidenceDelta: confidenceDelta,
			Evidence:        c.SourceWorkflowID,
			Domain:          c.Domain,
		})
	}

	m.log.Debug("mapped candidate",
		"candidate_id", c.ID, "domain", c.Domain, "updates", len(updates))
	return updates, nil
}

// CrossDomainImpact computes the candidate's impact on adjacent domains from
// the static adjacency table.
func (m *Mapper) CrossDomainImpact(c *candidate.Candidate) map[string]float64 {
	impact := make(map[string]float64)
	for other, weight := range m.tables.Adjacency[c.Domain] {
		impact[other] = c.Score.CrossImpact * weight
	}
	return impact
}

// ApplyMapping commits updates into the store, keyed by target id with
// last-write-wins semantics, and records the application in provenance.
func (m *Mapper) ApplyMapping(updates []Update) error {
	for _, u := range updates {
		m.store.SetValue(u.TargetID, u.ProposedValue)
	}
	if m.chain != nil {
		details := map[string]any{"updates": len(updates), "targets": targetIDs(updates)}
		if _, err := m.chain.Append(provenance.EventMappingApplied, details); err != nil {
			return fmt.Errorf("mapping: provenance append failed: %w", err)
		}
	}
	return nil
}

// RollbackMapping restores each target's pre-update value from the original
// update records.
func (m *Mapper) RollbackMapping(updates []Update) error {
	for _, u := range updates {
		m.store.SetValue(u.TargetID, u.CurrentValue)
	}
	if m.chain != nil {
		details := map[string]any{"updates": len(updates), "targets": targetIDs(updates)}
		if _, err := m.chain.Append(provenance.EventMappingRolledBack, details); err != nil {
			return fmt.Errorf("mapping: provenance append failed: %w", err)
		}
	}
	return nil
}

// Store exposes the mapper's backing store.
func (m *Mapper) Store() Store {
	return m.store
}

func targetIDs(updates []Update) []string {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.TargetID
	}
	return ids
}
