package metrics

import (
	"time"

	"github.com/pingsantohq/mosprobe/pkg/types"
)

// AnalysisRecorder observes the outcome of each host analysis.
type AnalysisRecorder interface {
	ObserveProbe(duration time.Duration)
	ObserveAnalysis(result types.HostAnalysis)
}

type NoopAnalysisRecorder struct{}

func (NoopAnalysisRecorder) ObserveProbe(duration time.Duration)       {}
func (NoopAnalysisRecorder) ObserveAnalysis(result types.HostAnalysis) {}

// ArchiveRecorder observes transcript archival.
type ArchiveRecorder interface {
	IncArchived()
	IncArchiveErrors()
}

type NoopArchiveRecorder struct{}

func (NoopArchiveRecorder) IncArchived()      {}
func (NoopArchiveRecorder) IncArchiveErrors() {}
