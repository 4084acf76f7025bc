//go:build property
// +build property

package mapping

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/gatewright/gatewright/pkg/candidate"
)

// Property: rollbackMapping(applyMapping(M)) restores every affected target
// to its pre-M value, for arbitrary seeds and score signals.
func TestMappingRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	tables := Tables{Targets: map[string][]string{"d": {"t1", "t2", "t3"}}}

	properties.Property("apply then rollback is identity", prop.ForAll(
		func(seed1, seed2, seed3, mi, conf float64) bool {
			seed := map[string]float64{"t1": seed1, "t2": seed2, "t3": seed3}
			store := NewMemoryStore(seed)
			m := NewMapper(store, tables, nil, nil)

			c := candidate.New(candidate.SubmitRequest{
				Domain:           "d",
				Description:      "p",
				Payload:          map[string]any{},
				Score:            candidate.Score{MutualInformation: mi, Confidence: conf},
				TargetIDs:        []string{"t2"},
				SourceWorkflowID: "wf",
				ProvenanceHash:   "h",
			})

			updates, err := m.MapCandidate(c)
			if err != nil {
				return false
			}
			if err := m.ApplyMapping(updates); err != nil {
				return false
			}
			if err := m.RollbackMapping(updates); err != nil {
				return false
			}

			restored := store.Snapshot()
			for k, v := range seed {
				if restored[k] != v {
					return false
				}
			}
			return len(restored) == len(seed)
		},
		gen.Float64Range(-100, 100),
		gen.Float64Range(-100, 100),
		gen.Float64Range(-100, 100),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
