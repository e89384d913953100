package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pingsantohq/mosprobe/internal/events"
	"github.com/pingsantohq/mosprobe/pkg/types"
)

// Batch analyzes a list of targets and reports them in input order.
type Batch struct {
	analyzer    *Analyzer
	concurrency int
	limiter     *rate.Limiter
	recorder    events.Recorder
	runID       string
	now         func() time.Time
}

type BatchOption func(*Batch)

// WithConcurrency sets how many hosts are probed at once. The default of 1
// analyzes hosts one after another.
func WithConcurrency(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithLaunchRate paces probe launches to perSecond across the batch. Zero
// leaves launches unpaced.
func WithLaunchRate(perSecond float64) BatchOption {
	return func(b *Batch) {
		if perSecond > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithRecorder(rec events.Recorder) BatchOption {
	return func(b *Batch) {
		if rec != nil {
			b.recorder = rec
		}
	}
}

func WithRunID(id string) BatchOption {
	return func(b *Batch) {
		if id != "" {
			b.runID = id
		}
	}
}

func WithBatchNow(now func() time.Time) BatchOption {
	return func(b *Batch) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBatch(analyzer *Analyzer, opts ...BatchOption) *Batch {
	b := &Batch{
		analyzer:    analyzer,
		concurrency: 1,
		recorder:    events.NoopRecorder{},
		runID:       uuid.NewString(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Batch) RunID() string {
	return b.runID
}

// Run analyzes every target. A failing host never stops the others; after
// ctx is cancelled the hosts not yet started are reported as cancelled.
func (b *Batch) Run(ctx context.Context, targets []Target, attempts int) types.BatchReport {
	total := len(targets)
	results := make([]types.HostAnalysis, total)
	b.emit(types.Event{Type: types.EventBatchStarted, Total: total})

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			base := types.Event{Index: i, Total: total, Host: target.Host, Name: target.Name}

			if err := b.waitLaunch(ctx); err != nil {
				res := failedResult(types.HostAnalysis{
					Host:      target.Host,
					Name:      displayName(target),
					Attempts:  attempts,
					StartedAt: b.now().UTC(),
				}, fail(KindUnexpected, StageProbing, err, "analysis cancelled"))
				results[i] = res
				b.complete(base, res)
				return nil
			}

			started := base
			started.Type = types.EventHostStarted
			b.emit(started)

			res := b.analyzer.Analyze(ctx, target, attempts)
			results[i] = res
			b.complete(base, res)
			return nil
		})
	}
	_ = g.Wait()

	b.emit(types.Event{Type: types.EventBatchCompleted, Total: total})
	return types.BatchReport{
		RunID:       b.runID,
		GeneratedAt: b.now().UTC(),
		Attempts:    attempts,
		Results:     results,
	}
}

func (b *Batch) waitLaunch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

func (b *Batch) complete(base types.Event, res types.HostAnalysis) {
	done := base
	done.Type = types.EventHostCompleted
	done.Result = &res
	b.emit(done)
}

func (b *Batch) emit(event types.Event) {
	event.RunID = b.runID
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}
	b.recorder.Record(event)
}

func displayName(t Target) string {
	if t.Name == "" {
		return t.Host
	}
	return t.Name
}
