package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TelemetryType labels a bus notification.
type TelemetryType string

const (
	TelemetryCandidateSubmitted   TelemetryType = "candidate_submitted"
	TelemetryCycleCompleted       TelemetryType = "cycle_completed"
	TelemetryPropagationCompleted TelemetryType = "propagation_completed"
	TelemetryRollbackCompleted    TelemetryType = "rollback_completed"
)

// TelemetryEvent is one bus notification. Epoch is a monotonically increasing
// sequence across all event types.
type TelemetryEvent struct {
	Epoch      uint64         `json:"epoch"`
	Type       TelemetryType  `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	ChainProof string         `json:"chain_proof,omitempty"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// Subscriber receives bus events synchronously. A panicking subscriber is
// isolated; it never disturbs the publisher or other subscribers.
type Subscriber func(TelemetryEvent)

// Bus fans pipeline notifications out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	epoch       atomic.Uint64
	clock       func() time.Time
	log         *slog.Logger
}

// NewBus creates an empty telemetry bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{clock: time.Now, log: log}
}

// Subscribe registers a subscriber for all subsequent events.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

// Publish delivers an event to every subscriber in registration order.
func (b *Bus) Publish(eventType TelemetryType, payload map[string]any, chainProof string) TelemetryEvent {
	event := TelemetryEvent{
		Epoch:      b.epoch.Add(1),
		Type:       eventType,
		Payload:    payload,
		ChainProof: chainProof,
		EmittedAt:  b.clock().UTC(),
	}

	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}
	return event
}

func (b *Bus) deliver(sub Subscriber, event TelemetryEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("telemetry subscriber panicked",
				"type", string(event.Type), "epoch", event.Epoch, "panic", r)
		}
	}()
	sub(event)
}

// Epoch returns the sequence number of the last published event.
func (b *Bus) Epoch() uint64 {
	return b.epoch.Load()
}
