package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusEpochsIncrease(t *testing.T) {
	bus := NewBus(nil)

	var got []TelemetryEvent
	bus.Subscribe(func(e TelemetryEvent) { got = append(got, e) })

	bus.Publish(TelemetryCandidateSubmitted, map[string]any{"candidate_id": "cand-1"}, "")
	bus.Publish(TelemetryCycleCompleted, nil, "sha256:abc")

	assert.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Epoch)
	assert.Equal(t, uint64(2), got[1].Epoch)
	assert.Equal(t, uint64(2), bus.Epoch())
	assert.Equal(t, "sha256:abc", got[1].ChainProof)
}

func TestBusIsolatesPanickingSubscriber(t *testing.T) {
	bus := NewBus(nil)

	bus.Subscribe(func(TelemetryEvent) { panic("subscriber bug") })
	delivered := 0
	bus.Subscribe(func(TelemetryEvent) { delivered++ })

	assert.NotPanics(t, func() {
		bus.Publish(TelemetryPropagationCompleted, nil, "")
	})
	assert.Equal(t, 1, delivered)
}

func TestBusWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	event := bus.Publish(TelemetryRollbackCompleted, nil, "")
	assert.Equal(t, uint64(1), event.Epoch)
	assert.False(t, event.EmittedAt.IsZero())
}
