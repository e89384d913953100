package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/mosprobe/pkg/types"
)

func TestStoreAnalysisRecorder(t *testing.T) {
	store := NewStore()
	rec := store.AnalysisRecorder()

	rec.ObserveProbe(1500 * time.Millisecond)
	rec.ObserveProbe(500 * time.Millisecond)
	rec.ObserveAnalysis(types.HostAnalysis{Host: "8.8.8.8", Status: types.StatusOK, Quality: "Excellent", MOS: 4.4})
	rec.ObserveAnalysis(types.HostAnalysis{Host: "1.1.1.1", Status: types.StatusOK, Quality: "Excellent", MOS: 4.3})
	rec.ObserveAnalysis(types.HostAnalysis{Host: "192.0.2.1", Status: types.StatusFailed, Error: "ProbeTimeout"})

	snap := store.Snapshot()
	if snap.HostsAnalyzed != 3 {
		t.Fatalf("expected 3 hosts got %d", snap.HostsAnalyzed)
	}
	if snap.ProbesTotal != 2 || snap.ProbeSecondsTotal != 2 {
		t.Fatalf("unexpected probe totals %d/%v", snap.ProbesTotal, snap.ProbeSecondsTotal)
	}
	if len(snap.Qualities) != 1 || snap.Qualities[0] != (LabelCount{Label: "Excellent", Count: 2}) {
		t.Fatalf("unexpected quality counts %+v", snap.Qualities)
	}
	if len(snap.Failures) != 1 || snap.Failures[0] != (LabelCount{Label: "ProbeTimeout", Count: 1}) {
		t.Fatalf("unexpected failure counts %+v", snap.Failures)
	}
	if len(snap.Hosts) != 3 || snap.Hosts[0].Host != "1.1.1.1" {
		t.Fatalf("expected hosts sorted by address, got %+v", snap.Hosts)
	}
}

func TestStoreArchiveRecorder(t *testing.T) {
	store := NewStore()
	rec := store.ArchiveRecorder()
	rec.IncArchived()
	rec.IncArchived()
	rec.IncArchiveErrors()

	snap := store.Snapshot()
	if snap.TranscriptsArchived != 2 || snap.ArchiveErrors != 1 {
		t.Fatalf("unexpected archive counters %+v", snap)
	}
}

func TestStoreWritePrometheus(t *testing.T) {
	store := NewStore()
	rec := store.AnalysisRecorder()
	rec.ObserveAnalysis(types.HostAnalysis{Host: "8.8.8.8", Name: "Google DNS", Status: types.StatusOK, Quality: "Good", MOS: 4.1, LossPct: 0, JitterMs: 2.5})
	rec.ObserveAnalysis(types.HostAnalysis{Host: "192.0.2.1", Name: "lab", Status: types.StatusFailed, Error: "NoLossData"})
	store.MarkRun(time.Unix(1760000000, 0))

	var sb strings.Builder
	if err := store.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	output := sb.String()
	expect := []string{
		"mosprobe_hosts_analyzed_total 2",
		`mosprobe_results_total{quality="Good"} 1`,
		`mosprobe_failures_total{kind="NoLossData"} 1`,
		`mosprobe_host_mos{host="8.8.8.8",name="Google DNS"} 4.1`,
		`mosprobe_host_jitter_ms{host="8.8.8.8",name="Google DNS"} 2.5`,
		`mosprobe_host_up{host="192.0.2.1",name="lab"} 0`,
		`mosprobe_host_up{host="8.8.8.8",name="Google DNS"} 1`,
		"mosprobe_last_run_timestamp_seconds 1760000000",
	}
	for _, line := range expect {
		if !strings.Contains(output, line+"\n") {
			t.Fatalf("expected %q in output:\n%s", line, output)
		}
	}
	if strings.Contains(output, `mosprobe_host_mos{host="192.0.2.1"`) {
		t.Fatalf("failed hosts must not export score gauges:\n%s", output)
	}
}

func TestStoreWriteTextfile(t *testing.T) {
	store := NewStore()
	store.AnalysisRecorder().ObserveAnalysis(types.HostAnalysis{Host: "1.1.1.1", Status: types.StatusOK, Quality: "Excellent"})

	path := filepath.Join(t.TempDir(), "textfile", "mosprobe.prom")
	if err := store.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "mosprobe_hosts_analyzed_total 1") {
		t.Fatalf("unexpected textfile content:\n%s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should be gone, stat err=%v", err)
	}
}

func TestStoreKeepsSameHostUnderDistinctNames(t *testing.T) {
	store := NewStore()
	rec := store.AnalysisRecorder()
	rec.ObserveAnalysis(types.HostAnalysis{Host: "10.0.0.5", Name: "pbx-voice", Status: types.StatusOK, Quality: "Good", MOS: 4.1})
	rec.ObserveAnalysis(types.HostAnalysis{Host: "10.0.0.5", Name: "pbx-video", Status: types.StatusOK, Quality: "Poor", MOS: 3.2})
	rec.ObserveAnalysis(types.HostAnalysis{Host: "10.0.0.5", Name: "pbx-voice", Status: types.StatusOK, Quality: "Good", MOS: 4.2})

	snap := store.Snapshot()
	if len(snap.Hosts) != 2 {
		t.Fatalf("expected 2 series, got %+v", snap.Hosts)
	}
	if snap.Hosts[0].Name != "pbx-video" || snap.Hosts[1].Name != "pbx-voice" || snap.Hosts[1].MOS != 4.2 {
		t.Fatalf("unexpected series order or values: %+v", snap.Hosts)
	}

	var sb strings.Builder
	if err := store.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	for _, line := range []string{
		`mosprobe_host_mos{host="10.0.0.5",name="pbx-video"} 3.2`,
		`mosprobe_host_mos{host="10.0.0.5",name="pbx-voice"} 4.2`,
	} {
		if !strings.Contains(sb.String(), line+"\n") {
			t.Fatalf("expected %q in output:\n%s", line, sb.String())
		}
	}
}
