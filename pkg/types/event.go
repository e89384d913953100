package types

import "time"

type EventType string

const (
	EventBatchStarted   EventType = "BatchStarted"
	EventHostStarted    EventType = "HostStarted"
	EventHostCompleted  EventType = "HostCompleted"
	EventBatchCompleted EventType = "BatchCompleted"
)

// Event is emitted by the analysis orchestrator as a batch progresses.
// Index is zero-based and refers to the host's position in the input list.
type Event struct {
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"ts"`
	RunID     string        `json:"run_id,omitempty"`
	Index     int           `json:"index"`
	Total     int           `json:"total"`
	Host      string        `json:"host,omitempty"`
	Name      string        `json:"name,omitempty"`
	Result    *HostAnalysis `json:"result,omitempty"`
}
