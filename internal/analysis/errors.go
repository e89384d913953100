package analysis

import (
	"fmt"
)

// ErrorKind tags why a host could not be scored.
type ErrorKind string

const (
	KindProbeTimeout        ErrorKind = "ProbeTimeout"
	KindProbeInvocation     ErrorKind = "ProbeInvocationError"
	KindNoLatencyData       ErrorKind = "NoLatencyData"
	KindInsufficientSamples ErrorKind = "InsufficientSamplesForJitter"
	KindNoLossData          ErrorKind = "NoLossData"
	KindUnexpected          ErrorKind = "UnexpectedFailure"
)

// Stage is a step of the per-host state machine.
type Stage string

const (
	StageProbing     Stage = "probing"
	StageParsing     Stage = "parsing"
	StageAggregating Stage = "aggregating"
	StageScoring     Stage = "scoring"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Failure is the terminal state of an analysis that produced no score.
type Failure struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s during %s: %s: %v", f.Kind, f.Stage, f.Message, f.Err)
	}
	return fmt.Sprintf("%s during %s: %s", f.Kind, f.Stage, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(kind ErrorKind, stage Stage, err error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}
