package events

import "github.com/pingsantohq/mosprobe/pkg/types"

// Recorder receives batch progress events. Implementations must be safe for
// concurrent use when the batch runs hosts in parallel.
type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

// Func adapts a plain function to Recorder.
type Func func(event types.Event)

func (f Func) Record(event types.Event) {
	if f != nil {
		f(event)
	}
}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}
