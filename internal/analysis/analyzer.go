// Package analysis drives probe, parse, aggregate and score for each host
// and folds every outcome into a types.HostAnalysis.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pingsantohq/mosprobe/internal/logging"
	"github.com/pingsantohq/mosprobe/internal/metrics"
	"github.com/pingsantohq/mosprobe/internal/probe"
	"github.com/pingsantohq/mosprobe/pkg/types"
)

// Target is one host to analyze. Name is a display label.
type Target struct {
	Host string
	Name string
}

// Archiver keeps a copy of probe transcripts.
type Archiver interface {
	Save(t probe.Transcript) (string, error)
}

// Dependencies wires the analyzer. Runner is required; the rest default to
// no-ops.
type Dependencies struct {
	Runner         probe.Runner
	Archiver       Archiver
	Logger         *log.Logger
	Metrics        metrics.AnalysisRecorder
	ArchiveMetrics metrics.ArchiveRecorder
	Now            func() time.Time
}

type Option func(*Analyzer)

// WithArchiveRequired turns archival failures into UnexpectedFailure
// results instead of log lines.
func WithArchiveRequired(required bool) Option {
	return func(a *Analyzer) {
		a.archiveRequired = required
	}
}

type Analyzer struct {
	runner          probe.Runner
	archiver        Archiver
	archiveRequired bool
	logger          *log.Logger
	metrics         metrics.AnalysisRecorder
	archiveMetrics  metrics.ArchiveRecorder
	now             func() time.Time
}

func New(deps Dependencies, opts ...Option) (*Analyzer, error) {
	if deps.Runner == nil {
		return nil, errors.New("analysis: probe runner is required")
	}
	a := &Analyzer{
		runner:         deps.Runner,
		archiver:       deps.Archiver,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		archiveMetrics: deps.ArchiveMetrics,
		now:            deps.Now,
	}
	if a.logger == nil {
		a.logger = logging.Discard()
	}
	if a.metrics == nil {
		a.metrics = metrics.NoopAnalysisRecorder{}
	}
	if a.archiveMetrics == nil {
		a.archiveMetrics = metrics.NoopArchiveRecorder{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze runs one host through the probe → parse → aggregate → score
// pipeline. It never panics and never returns a partially scored result.
func (a *Analyzer) Analyze(ctx context.Context, target Target, attempts int) (result types.HostAnalysis) {
	started := a.now()
	result = types.HostAnalysis{
		Host:      target.Host,
		Name:      displayName(target),
		Attempts:  attempts,
		StartedAt: started.UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			result = failedResult(result, fail(KindUnexpected, StageFailed, nil, "unexpected failure: %v", r))
			a.logger.Printf("analysis panicked host=%s err=%v", target.Host, r)
		}
		result.DurationMs = a.now().Sub(started).Milliseconds()
		a.metrics.ObserveAnalysis(result)
	}()

	t, err := a.runner.Run(ctx, target.Host, attempts)
	a.metrics.ObserveProbe(t.Duration)
	if err != nil {
		f := classifyProbeError(err, attempts)
		a.logger.Printf("probe failed host=%s kind=%s err=%v", target.Host, f.Kind, err)
		return failedResult(result, f)
	}

	if a.archiver != nil {
		path, err := a.archiver.Save(t)
		if err != nil {
			a.archiveMetrics.IncArchiveErrors()
			a.logger.Printf("archive transcript failed host=%s err=%v", target.Host, err)
			if a.archiveRequired {
				return failedResult(result, fail(KindUnexpected, StageProbing, err, "archive transcript"))
			}
		} else {
			a.archiveMetrics.IncArchived()
			result.TranscriptPath = path
		}
	}

	path := result.TranscriptPath
	result = Assess(target, attempts, t.Text())
	result.StartedAt = started.UTC()
	result.TranscriptPath = path
	if result.Failed() {
		a.logger.Printf("analysis failed host=%s kind=%s msg=%s", target.Host, result.Error, result.Message)
		return result
	}
	if result.MOSOutOfRange {
		a.logger.Printf("mos outside 1-5 host=%s mos=%.3f r=%.3f", target.Host, result.MOS, result.RFactor)
	}
	return result
}

func classifyProbeError(err error, attempts int) *Failure {
	var invErr *probe.InvocationError
	switch {
	case errors.Is(err, probe.ErrTimeout):
		return fail(KindProbeTimeout, StageProbing, err, "probe did not finish within its %d-attempt budget", attempts)
	case errors.As(err, &invErr):
		return fail(KindProbeInvocation, StageProbing, err, "could not run probe")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fail(KindUnexpected, StageProbing, err, "analysis cancelled")
	default:
		return fail(KindProbeInvocation, StageProbing, err, "could not run probe")
	}
}

func scoredResult(result types.HostAnalysis, eval Evaluation) types.HostAnalysis {
	result.Status = types.StatusOK
	result.Samples = eval.Summary.Count
	result.LatencyMs = eval.Summary.Mean
	result.JitterMs = eval.Summary.Jitter
	result.MinLatencyMs = eval.Summary.Min
	result.MaxLatencyMs = eval.Summary.Max
	result.LossPct = eval.LossPct
	result.EffectiveLatencyMs = eval.Score.EffectiveLatencyMs
	result.RFactor = eval.Score.RFactor
	result.MOS = eval.Score.MOS
	result.Quality = string(eval.Score.Quality)
	result.MOSOutOfRange = eval.Score.OutOfRange()
	return result
}

// failedResult keeps only identity fields and the transcript path so no
// metric from an earlier stage leaks into a failure.
func failedResult(result types.HostAnalysis, f *Failure) types.HostAnalysis {
	out := types.HostAnalysis{
		Host:           result.Host,
		Name:           result.Name,
		Attempts:       result.Attempts,
		StartedAt:      result.StartedAt,
		TranscriptPath: result.TranscriptPath,
		Status:         types.StatusFailed,
		Error:          string(f.Kind),
		Message:        f.Message,
	}
	if f.Err != nil {
		out.Message = fmt.Sprintf("%s: %v", f.Message, f.Err)
	}
	return out
}
