package analysis

import (
	"errors"

	"github.com/pingsantohq/mosprobe/internal/mos"
	"github.com/pingsantohq/mosprobe/internal/stats"
	"github.com/pingsantohq/mosprobe/internal/transcript"
	"github.com/pingsantohq/mosprobe/pkg/types"
)

// Evaluation is everything derived from one transcript.
type Evaluation struct {
	Summary  stats.Summary
	LossPct  float64
	LossRule string
	Score    mos.Result
}

// Evaluate runs the parsing, aggregating and scoring stages over raw probe
// text. The returned error is always a *Failure.
func Evaluate(text string) (Evaluation, error) {
	parsed := transcript.Parse(text)

	summary, err := stats.Summarize(parsed.Samples)
	switch {
	case errors.Is(err, stats.ErrNoSamples):
		return Evaluation{}, fail(KindNoLatencyData, StageParsing, nil,
			"no latency samples found in probe output")
	case errors.Is(err, stats.ErrInsufficientSamples):
		return Evaluation{Summary: summary}, fail(KindInsufficientSamples, StageAggregating, nil,
			"jitter needs at least 2 latency samples, found %d", summary.Count)
	case err != nil:
		return Evaluation{}, fail(KindUnexpected, StageAggregating, err, "aggregate samples")
	}

	if !parsed.HasLoss {
		return Evaluation{Summary: summary}, fail(KindNoLossData, StageAggregating, nil,
			"no packet loss summary found in probe output")
	}

	return Evaluation{
		Summary:  summary,
		LossPct:  parsed.LossPct,
		LossRule: parsed.LossRule,
		Score:    mos.Score(summary.Mean, summary.Jitter, parsed.LossPct),
	}, nil
}

// Assess scores text captured earlier, such as an archived transcript,
// with the same failure rules Analyze applies to a live probe.
func Assess(target Target, attempts int, text string) types.HostAnalysis {
	result := types.HostAnalysis{Host: target.Host, Name: displayName(target), Attempts: attempts}
	eval, err := Evaluate(text)
	if err != nil {
		var f *Failure
		if !errors.As(err, &f) {
			f = fail(KindUnexpected, StageFailed, err, "evaluate transcript")
		}
		return failedResult(result, f)
	}
	return scoredResult(result, eval)
}
