package diag

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/mosprobe/internal/archive"
	"github.com/pingsantohq/mosprobe/internal/config"
	"github.com/pingsantohq/mosprobe/internal/probe"
)

const iputilsFourReplies = `64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=10 ms
64 bytes from 8.8.8.8: icmp_seq=2 ttl=117 time=12 ms
64 bytes from 8.8.8.8: icmp_seq=3 ttl=117 time=11 ms
64 bytes from 8.8.8.8: icmp_seq=4 ttl=117 time=13 ms
4 packets transmitted, 4 received, 0% packet loss, time 3004ms
`

func readBundle(t *testing.T, path string) (map[string]string, bundleInfo) {
	entries, info, _ := readBundleHeaders(t, path)
	return entries, info
}

func readBundleHeaders(t *testing.T, path string) (map[string]string, bundleInfo, map[string]*tar.Header) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	entries := make(map[string]string)
	headers := make(map[string]*tar.Header)
	var info bundleInfo
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read tar: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read %s: %v", hdr.Name, err)
		}
		entries[hdr.Name] = string(data)
		headers[hdr.Name] = hdr
		if hdr.Name == infoFileName {
			if err := json.Unmarshal(data, &info); err != nil {
				t.Fatalf("decode info: %v", err)
			}
		}
	}
	return entries, info, headers
}

func TestRunCreatesDiagnosticsBundle(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()

	configPath := filepath.Join(tmp, "mosprobe.yaml")
	archiveDir := filepath.Join(tmp, "pings")
	cfg := config.Default()
	cfg.Archive.Dir = archiveDir
	if err := config.Write(configPath, cfg); err != nil {
		t.Fatalf("write config: %v", err)
	}

	store := archive.New(archiveDir)
	fresh, err := store.Save(probe.Transcript{Host: "8.8.8.8", Output: iputilsFourReplies, StartedAt: time.Now()})
	if err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	stale, err := store.Save(probe.Transcript{Host: "1.1.1.1", Output: "Request timed out.\n", StartedAt: time.Now()})
	if err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("age transcript: %v", err)
	}

	metricsPath := filepath.Join(tmp, "mosprobe.prom")
	if err := os.WriteFile(metricsPath, []byte("mosprobe_hosts_analyzed_total 2\n"), 0o644); err != nil {
		t.Fatalf("write metrics: %v", err)
	}

	output := filepath.Join(tmp, "out", "diag.tar.gz")
	var stdout bytes.Buffer
	deps := Dependencies{
		LookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil },
		Stdout:   &stdout,
	}
	if err := Run(ctx, []string{
		"--config", configPath,
		"--metrics-file", metricsPath,
		"--output", output,
	}, deps); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, info := readBundle(t, output)
	if _, ok := entries["config/mosprobe.yaml"]; !ok {
		t.Fatal("missing config entry")
	}
	freshName := "transcripts/" + filepath.Base(fresh)
	if _, ok := entries[freshName]; !ok {
		t.Fatalf("missing fresh transcript, entries: %v", keys(entries))
	}
	if _, ok := entries["transcripts/"+filepath.Base(stale)]; ok {
		t.Fatal("stale transcript should be outside the window")
	}
	if !strings.Contains(entries[metricsFileName], "mosprobe_hosts_analyzed_total 2") {
		t.Fatalf("unexpected metrics entry %q", entries[metricsFileName])
	}

	if info.ConfigPath != configPath || info.ArchiveDir != archiveDir || info.Hosts != 2 {
		t.Fatalf("unexpected info header: %+v", info)
	}
	if info.ProbeCommand != "/usr/bin/ping" {
		t.Fatalf("unexpected probe command %q", info.ProbeCommand)
	}
	if len(info.Transcripts) != 1 {
		t.Fatalf("expected 1 transcript summary, got %+v", info.Transcripts)
	}
	if got := info.Transcripts[0]; got.File != freshName || got.Quality != "Excellent" || got.Samples != 4 {
		t.Fatalf("unexpected transcript summary: %+v", got)
	}
	if !strings.Contains(stdout.String(), "1 transcripts") {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
}

func TestRunWarnsWithoutConfig(t *testing.T) {
	tmp := t.TempDir()
	output := filepath.Join(tmp, "diag.tar.gz")
	deps := Dependencies{
		LookPath: func(string) (string, error) { return "", errors.New("not found") },
		Stdout:   io.Discard,
	}
	err := Run(context.Background(), []string{
		"--config", filepath.Join(tmp, "missing.yaml"),
		"--archive-dir", filepath.Join(tmp, "none"),
		"--output", output,
	}, deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, info := readBundle(t, output)
	joined := strings.Join(info.Warnings, "\n")
	for _, want := range []string{"config unavailable", "probe command", "does not exist"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected warning %q in %v", want, info.Warnings)
		}
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestRunStampsInfoWithInjectedClock(t *testing.T) {
	tmp := t.TempDir()
	output := filepath.Join(tmp, "diag.tar.gz")
	fixed := time.Date(2025, 10, 23, 15, 4, 5, 0, time.UTC)
	deps := Dependencies{
		Now:      func() time.Time { return fixed },
		LookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil },
		Stdout:   io.Discard,
	}
	if err := Run(context.Background(), []string{
		"--config", filepath.Join(tmp, "missing.yaml"),
		"--archive-dir", tmp,
		"--output", output,
	}, deps); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, info, headers := readBundleHeaders(t, output)
	hdr, ok := headers[infoFileName]
	if !ok {
		t.Fatal("missing diagnostics info")
	}
	if !hdr.ModTime.Equal(fixed) {
		t.Fatalf("expected info mod time %s, got %s", fixed, hdr.ModTime)
	}
	if info.GeneratedAt != "2025-10-23T15:04:05Z" {
		t.Fatalf("unexpected generated_at %q", info.GeneratedAt)
	}
}
