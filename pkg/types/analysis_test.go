package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHostAnalysisJSONContract(t *testing.T) {
	payload := []byte(`{
        "run_id": "0b7d3a8e-4f0c-4a52-9d8a-3d2f2c9e1f00",
        "generated_at": "2026-03-02T10:15:00Z",
        "attempts": 20,
        "results": [
            {
                "host": "8.8.8.8",
                "name": "Google DNS",
                "attempts": 20,
                "status": "ok",
                "samples": 20,
                "latency_ms": 11.5,
                "jitter_ms": 1.29,
                "loss_pct": 0,
                "effective_latency_ms": 24.08,
                "r_factor": 92.6,
                "mos": 4.39,
                "quality": "Excellent"
            },
            {
                "host": "192.0.2.10",
                "name": "Branch PBX",
                "attempts": 20,
                "status": "failed",
                "error": "NoLatencyData",
                "message": "no latency samples found in probe output"
            }
        ]
    }`)

	var report BatchReport
	if err := json.Unmarshal(payload, &report); err != nil {
		t.Fatalf("unmarshal batch report: %v", err)
	}

	if !report.GeneratedAt.Equal(time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected generated_at: %s", report.GeneratedAt)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected two results, got %d", len(report.Results))
	}

	first := report.Results[0]
	if first.Failed() {
		t.Fatalf("expected first result to be ok: %+v", first)
	}
	if first.Quality != "Excellent" || first.MOS != 4.39 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second := report.Results[1]
	if !second.Failed() || second.Error != "NoLatencyData" {
		t.Fatalf("unexpected second result: %+v", second)
	}
	if report.FailureCount() != 1 {
		t.Fatalf("expected one failure, got %d", report.FailureCount())
	}
}

func TestHostAnalysisKeepsZeroLoss(t *testing.T) {
	payload, err := json.Marshal(HostAnalysis{Host: "1.1.1.1", Status: StatusOK})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["loss_pct"]; !ok {
		t.Fatalf("loss_pct must be present even when zero: %s", payload)
	}
	if _, ok := fields["error"]; ok {
		t.Fatalf("error must be omitted on success: %s", payload)
	}
}

func TestHostAnalysisKeepsZeroMetricsOnSuccess(t *testing.T) {
	payload, err := json.Marshal(HostAnalysis{
		Host:               "192.168.1.1",
		Status:             StatusOK,
		Samples:            3,
		LatencyMs:          1,
		MinLatencyMs:       1,
		MaxLatencyMs:       1,
		EffectiveLatencyMs: 11,
		RFactor:            92.925,
		MOS:                4.4039,
		Quality:            "Excellent",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"samples", "latency_ms", "jitter_ms", "min_latency_ms", "max_latency_ms", "loss_pct", "effective_latency_ms", "r_factor", "mos", "quality"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("%s must be present on an ok result: %s", key, payload)
		}
	}
	if fields["jitter_ms"] != 0.0 {
		t.Fatalf("expected zero jitter, got %v", fields["jitter_ms"])
	}
}
