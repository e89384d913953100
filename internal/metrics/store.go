package metrics

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pingsantohq/mosprobe/pkg/types"
)

// Store maintains counters and per-host gauges for one mosprobe run.
type Store struct {
	hostsAnalyzed     atomic.Uint64
	probesTotal       atomic.Uint64
	probeMicrosTotal  atomic.Uint64
	archivedTotal     atomic.Uint64
	archiveErrors     atomic.Uint64
	lastRunUnixMillis atomic.Int64
	qualityTotals     sync.Map // quality -> *atomic.Uint64
	failureTotals     sync.Map // error kind -> *atomic.Uint64

	mu    sync.Mutex
	hosts map[hostKey]types.HostAnalysis
}

// hostKey identifies one gauge series. The same address may be listed
// under several names.
type hostKey struct {
	host string
	name string
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	return &Store{hosts: make(map[hostKey]types.HostAnalysis)}
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	HostsAnalyzed       uint64
	ProbesTotal         uint64
	ProbeSecondsTotal   float64
	TranscriptsArchived uint64
	ArchiveErrors       uint64
	LastRun             time.Time
	Qualities           []LabelCount
	Failures            []LabelCount
	Hosts               []types.HostAnalysis
}

// LabelCount is one labelled counter value.
type LabelCount struct {
	Label string
	Count uint64
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		HostsAnalyzed:       s.hostsAnalyzed.Load(),
		ProbesTotal:         s.probesTotal.Load(),
		ProbeSecondsTotal:   float64(s.probeMicrosTotal.Load()) / 1e6,
		TranscriptsArchived: s.archivedTotal.Load(),
		ArchiveErrors:       s.archiveErrors.Load(),
		Qualities:           collectCounts(&s.qualityTotals),
		Failures:            collectCounts(&s.failureTotals),
	}
	if ms := s.lastRunUnixMillis.Load(); ms > 0 {
		snap.LastRun = time.UnixMilli(ms).UTC()
	}

	s.mu.Lock()
	snap.Hosts = make([]types.HostAnalysis, 0, len(s.hosts))
	for _, h := range s.hosts {
		snap.Hosts = append(snap.Hosts, h)
	}
	s.mu.Unlock()
	sort.Slice(snap.Hosts, func(i, j int) bool {
		if snap.Hosts[i].Host != snap.Hosts[j].Host {
			return snap.Hosts[i].Host < snap.Hosts[j].Host
		}
		return snap.Hosts[i].Name < snap.Hosts[j].Name
	})
	return snap
}

func collectCounts(m *sync.Map) []LabelCount {
	counts := make([]LabelCount, 0)
	m.Range(func(key, value any) bool {
		label, ok := key.(string)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Uint64)
		if !ok || counter == nil {
			return true
		}
		counts = append(counts, LabelCount{Label: label, Count: counter.Load()})
		return true
	})
	sort.Slice(counts, func(i, j int) bool { return counts[i].Label < counts[j].Label })
	return counts
}

func counterFor(m *sync.Map, label string) *atomic.Uint64 {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "unknown"
	}
	if value, ok := m.Load(label); ok {
		if counter, ok := value.(*atomic.Uint64); ok && counter != nil {
			return counter
		}
	}
	counter := &atomic.Uint64{}
	actual, _ := m.LoadOrStore(label, counter)
	if existing, ok := actual.(*atomic.Uint64); ok && existing != nil {
		return existing
	}
	return counter
}

// AnalysisRecorder returns an implementation of AnalysisRecorder backed by the store.
func (s *Store) AnalysisRecorder() AnalysisRecorder {
	return analysisRecorder{store: s}
}

// ArchiveRecorder returns an implementation of ArchiveRecorder backed by the store.
func (s *Store) ArchiveRecorder() ArchiveRecorder {
	return archiveRecorder{store: s}
}

// MarkRun records the completion time of a batch.
func (s *Store) MarkRun(t time.Time) {
	s.lastRunUnixMillis.Store(t.UnixMilli())
}

type analysisRecorder struct {
	store *Store
}

func (r analysisRecorder) ObserveProbe(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	r.store.probesTotal.Add(1)
	r.store.probeMicrosTotal.Add(uint64(duration.Microseconds()))
}

func (r analysisRecorder) ObserveAnalysis(result types.HostAnalysis) {
	r.store.hostsAnalyzed.Add(1)
	if result.Failed() {
		counterFor(&r.store.failureTotals, result.Error).Add(1)
	} else {
		counterFor(&r.store.qualityTotals, result.Quality).Add(1)
	}
	r.store.mu.Lock()
	r.store.hosts[hostKey{host: result.Host, name: result.Name}] = result
	r.store.mu.Unlock()
}

type archiveRecorder struct {
	store *Store
}

func (r archiveRecorder) IncArchived() {
	r.store.archivedTotal.Add(1)
}

func (r archiveRecorder) IncArchiveErrors() {
	r.store.archiveErrors.Add(1)
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	lines := []string{
		"# HELP mosprobe_hosts_analyzed_total Hosts analyzed, successful or not.",
		"# TYPE mosprobe_hosts_analyzed_total counter",
		fmt.Sprintf("mosprobe_hosts_analyzed_total %d", snap.HostsAnalyzed),
		"# HELP mosprobe_probe_duration_seconds Time spent waiting on probe runs.",
		"# TYPE mosprobe_probe_duration_seconds summary",
		fmt.Sprintf("mosprobe_probe_duration_seconds_sum %s", formatFloat(snap.ProbeSecondsTotal)),
		fmt.Sprintf("mosprobe_probe_duration_seconds_count %d", snap.ProbesTotal),
		"# HELP mosprobe_transcripts_archived_total Probe transcripts written to the archive.",
		"# TYPE mosprobe_transcripts_archived_total counter",
		fmt.Sprintf("mosprobe_transcripts_archived_total %d", snap.TranscriptsArchived),
		"# HELP mosprobe_archive_errors_total Probe transcripts that could not be archived.",
		"# TYPE mosprobe_archive_errors_total counter",
		fmt.Sprintf("mosprobe_archive_errors_total %d", snap.ArchiveErrors),
		"# HELP mosprobe_results_total Scored hosts by quality band.",
		"# TYPE mosprobe_results_total counter",
	}
	for _, c := range snap.Qualities {
		lines = append(lines, fmt.Sprintf("mosprobe_results_total{quality=%q} %d", c.Label, c.Count))
	}
	lines = append(lines,
		"# HELP mosprobe_failures_total Hosts that could not be scored, by failure kind.",
		"# TYPE mosprobe_failures_total counter",
	)
	for _, c := range snap.Failures {
		lines = append(lines, fmt.Sprintf("mosprobe_failures_total{kind=%q} %d", c.Label, c.Count))
	}

	hostGauges := []struct {
		name  string
		help  string
		value func(types.HostAnalysis) float64
	}{
		{"mosprobe_host_mos", "Mean Opinion Score of the last analysis.", func(h types.HostAnalysis) float64 { return h.MOS }},
		{"mosprobe_host_r_factor", "R-Factor of the last analysis.", func(h types.HostAnalysis) float64 { return h.RFactor }},
		{"mosprobe_host_latency_ms", "Mean round-trip latency of the last analysis.", func(h types.HostAnalysis) float64 { return h.LatencyMs }},
		{"mosprobe_host_jitter_ms", "Round-trip standard deviation of the last analysis.", func(h types.HostAnalysis) float64 { return h.JitterMs }},
		{"mosprobe_host_loss_percent", "Packet loss of the last analysis.", func(h types.HostAnalysis) float64 { return h.LossPct }},
	}
	for _, g := range hostGauges {
		lines = append(lines,
			fmt.Sprintf("# HELP %s %s", g.name, g.help),
			fmt.Sprintf("# TYPE %s gauge", g.name),
		)
		for _, h := range snap.Hosts {
			if h.Failed() {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s{host=%q,name=%q} %s", g.name, h.Host, h.Name, formatFloat(g.value(h))))
		}
	}
	lines = append(lines,
		"# HELP mosprobe_host_up Whether the last analysis of the host produced a score (1=scored).",
		"# TYPE mosprobe_host_up gauge",
	)
	for _, h := range snap.Hosts {
		up := 1
		if h.Failed() {
			up = 0
		}
		lines = append(lines, fmt.Sprintf("mosprobe_host_up{host=%q,name=%q} %d", h.Host, h.Name, up))
	}
	if !snap.LastRun.IsZero() {
		lines = append(lines,
			"# HELP mosprobe_last_run_timestamp_seconds Completion time of the last batch.",
			"# TYPE mosprobe_last_run_timestamp_seconds gauge",
			fmt.Sprintf("mosprobe_last_run_timestamp_seconds %d", snap.LastRun.Unix()),
		)
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile writes the metrics atomically to path, in the layout the
// node_exporter textfile collector expects.
func (s *Store) WriteTextfile(path string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure metrics dir %q: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp metrics file %q: %w", tmp, err)
	}
	if err := s.WritePrometheus(f); err != nil {
		f.Close()
		return fmt.Errorf("write metrics %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp metrics file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit metrics file %q: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}
