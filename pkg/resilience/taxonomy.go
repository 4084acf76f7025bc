package resilience

import "strings"

// FailureKind classifies an execution failure into the fixed taxonomy.
type FailureKind string

const (
	FailureDecoherence    FailureKind = "DECOHERENCE"
	FailureNoiseThreshold FailureKind = "NOISE_THRESHOLD"
	FailureVerification   FailureKind = "VERIFICATION"
	FailureTimeout        FailureKind = "TIMEOUT"
	FailureHardware       FailureKind = "HARDWARE"
	FailureTransient      FailureKind = "TRANSIENT"
)

// classifiers are checked in order; the first matching substring wins.
var classifiers = []struct {
	needle string
	kind   FailureKind
}{
	{"decoheren", FailureDecoherence},
	{"noise", FailureNoiseThreshold},
	{"verif", FailureVerification},
	{"timeout", FailureTimeout},
	{"deadline", FailureTimeout},
	{"hardware", FailureHardware},
	{"calibrat", FailureHardware},
}

// Classify inspects a failure's description and assigns it a kind.
// Anything unrecognized is treated as transient.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureTransient
	}
	msg := strings.ToLower(err.Error())
	for _, c := range classifiers {
		if strings.Contains(msg, c.needle) {
			return c.kind
		}
	}
	return FailureTransient
}
