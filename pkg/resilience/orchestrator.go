// Package resilience wraps potentially-failing operations in bounded retry
// with fallback, human escalation, and trust-invariant tracking. The retry
// loop's suspension points sit exactly at attempt boundaries: cancellation
// aborts before the next attempt starts, never mid-attempt.
package resilience

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatewright/gatewright/pkg/contract"
	"github.com/gatewright/gatewright/pkg/provenance"
)

// State is the execution lifecycle of one orchestrated operation.
type State string

const (
	StateExecuting        State = "EXECUTING"
	StateCompleted        State = "COMPLETED"
	StateFallbackActive   State = "FALLBACK_ACTIVE"
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	StateFailed           State = "FAILED"
)

// Operation is a fallible unit of work, e.g. a backend call.
type Operation func(ctx context.Context) (any, error)

// FailureRecord captures one classified attempt failure.
type FailureRecord struct {
	Attempt int         `json:"attempt"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// ExecutionResult carries the outcome of one orchestrated execution. Partial
// progress is preserved: the failure list survives even on eventual success.
type ExecutionResult struct {
	ExecutionID string          `json:"execution_id"`
	State       State           `json:"state"`
	Value       any             `json:"-"`
	Attempts    int             `json:"attempts"`
	Failures    []FailureRecord `json:"failures,omitempty"`
	Escalated   bool            `json:"escalated"`
	Error       string          `json:"error,omitempty"`
	// ReleaseGate is non-nil when dual control is configured: the value is
	// not considered released until the gate commits.
	ReleaseGate *contract.Contract `json:"-"`
}

// Options configures an Orchestrator.
type Options struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// Fallback, if set, runs once after the primary is exhausted.
	Fallback Operation
	// EscalateOnFailure flags terminal failures for human attention.
	EscalateOnFailure bool
	// DualControlApprovers, if non-empty, wraps every successful execution
	// in a two-party release gate.
	DualControlApprovers []string
}

// DefaultMaxRetries is the hard cap of additional attempts.
const DefaultMaxRetries = 3

// Orchestrator executes operations under bounded retry.
type Orchestrator struct {
	opts  Options
	trust *TrustMetric
	chain *provenance.Chain
	log   *slog.Logger
	sleep func(time.Duration)
}

// NewOrchestrator creates an orchestrator. MaxRetries zero is honored as a
// single attempt; only negative values fall back to the default cap. A
// non-positive delay becomes 100ms.
func NewOrchestrator(opts Options, trust *TrustMetric, chain *provenance.Chain, log *slog.Logger) *Orchestrator {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Delay <= 0 {
		opts.Delay = 100 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		opts:  opts,
		trust: trust,
		chain: chain,
		log:   log,
		sleep: time.Sleep,
	}
}

// WithSleep overrides the inter-attempt delay function for testing.
func (o *Orchestrator) WithSleep(sleep func(time.Duration)) *Orchestrator {
	o.sleep = sleep
	return o
}

// Execute runs the primary operation with bounded retry, then the fallback
// if configured. Trust is updated on every terminal outcome. Cancellation is
// honored at attempt boundaries only.
func (o *Orchestrator) Execute(ctx context.Context, primary Operation) *ExecutionResult {
	result := &ExecutionResult{
		ExecutionID: "exec-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		State:       StateExecuting,
	}

	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				return o.fail(result, ctx.Err().Error())
			}
			o.sleep(o.opts.Delay)
		}

		result.Attempts++
		value, err := primary(ctx)
		if err == nil {
			result.Value = value
			result.State = StateCompleted
			if o.trust != nil {
				o.trust.RecordPrimarySuccess()
			}
			return o.release(result)
		}

		record := FailureRecord{Attempt: result.Attempts, Kind: Classify(err), Message: err.Error()}
		result.Failures = append(result.Failures, record)
		o.log.Warn("attempt failed",
			"execution_id", result.ExecutionID, "attempt", result.Attempts, "kind", string(record.Kind))
		if o.chain != nil {
			_, _ = o.chain.Append(provenance.EventRetryAttempt, map[string]any{
				"execution_id": result.ExecutionID,
				"attempt":      result.Attempts,
				"kind":         string(record.Kind),
				"message":      record.Message,
			})
		}
	}

	// Primary exhausted; fallback runs at most once.
	if o.opts.Fallback != nil {
		if ctx.Err() != nil {
			return o.fail(result, ctx.Err().Error())
		}
		if o.chain != nil {
			_, _ = o.chain.Append(provenance.EventFallbackEngaged, map[string]any{
				"execution_id": result.ExecutionID,
			})
		}
		value, err := o.opts.Fallback(ctx)
		if err == nil {
			result.Value = value
			result.State = StateFallbackActive
			if o.trust != nil {
				o.trust.RecordFallbackSuccess()
			}
			return o.release(result)
		}
		result.Failures = append(result.Failures, FailureRecord{
			Attempt: result.Attempts + 1,
			Kind:    Classify(err),
			Message: err.Error(),
		})
	}

	return o.fail(result, "primary exhausted and no fallback succeeded")
}

// release wraps a successful result in a dual-control gate when configured.
func (o *Orchestrator) release(result *ExecutionResult) *ExecutionResult {
	if len(o.opts.DualControlApprovers) > 0 {
		gate := contract.New(result.ExecutionID, o.opts.DualControlApprovers, o.chain, o.log)
		gate.Submit("resilience")
		gate.BeginSandbox("resilience")
		gate.CompleteSandbox("resilience", 1.0, 0)
		result.ReleaseGate = gate
		result.State = StateAwaitingApproval
	}
	return result
}

func (o *Orchestrator) fail(result *ExecutionResult, msg string) *ExecutionResult {
	result.State = StateFailed
	result.Error = msg
	if o.trust != nil {
		o.trust.RecordFailure(result.Attempts - 1)
	}
	if o.opts.EscalateOnFailure {
		result.Escalated = true
		if o.chain != nil {
			_, _ = o.chain.Append(provenance.EventEscalationFlagged, map[string]any{
				"execution_id": result.ExecutionID,
				"failures":     len(result.Failures),
			})
		}
	}
	if o.chain != nil {
		_, _ = o.chain.Append(provenance.EventExecutionFailure, map[string]any{
			"execution_id": result.ExecutionID,
			"attempts":     result.Attempts,
			"error":        msg,
		})
	}
	return result
}
