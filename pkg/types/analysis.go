package types

import "time"

// AnalysisStatus tags a HostAnalysis as a populated score or a failure.
type AnalysisStatus string

const (
	StatusOK     AnalysisStatus = "ok"
	StatusFailed AnalysisStatus = "failed"
)

// HostAnalysis is the per-host outcome of one analysis pass. When Status is
// StatusOK the metric fields are populated and always encoded, zeros
// included; when it is StatusFailed only Error and Message carry meaning.
type HostAnalysis struct {
	Host       string         `json:"host" yaml:"host"`
	Name       string         `json:"name" yaml:"name"`
	Attempts   int            `json:"attempts" yaml:"attempts"`
	Status     AnalysisStatus `json:"status" yaml:"status"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	DurationMs int64          `json:"duration_ms" yaml:"duration_ms"`

	Samples            int     `json:"samples" yaml:"samples"`
	LatencyMs          float64 `json:"latency_ms" yaml:"latency_ms"`
	JitterMs           float64 `json:"jitter_ms" yaml:"jitter_ms"`
	MinLatencyMs       float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs       float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	LossPct            float64 `json:"loss_pct" yaml:"loss_pct"`
	EffectiveLatencyMs float64 `json:"effective_latency_ms" yaml:"effective_latency_ms"`
	RFactor            float64 `json:"r_factor" yaml:"r_factor"`
	MOS                float64 `json:"mos" yaml:"mos"`
	Quality            string  `json:"quality" yaml:"quality"`
	MOSOutOfRange      bool    `json:"mos_out_of_range,omitempty" yaml:"mos_out_of_range,omitempty"`
	TranscriptPath     string  `json:"transcript_path,omitempty" yaml:"transcript_path,omitempty"`

	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Failed reports whether the analysis ended without a score.
func (h HostAnalysis) Failed() bool {
	return h.Status != StatusOK
}

// BatchReport groups the analyses of one run in input order.
type BatchReport struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	Attempts    int            `json:"attempts" yaml:"attempts"`
	Results     []HostAnalysis `json:"results" yaml:"results"`
}

// FailureCount returns how many hosts in the report have no score.
func (r BatchReport) FailureCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}
