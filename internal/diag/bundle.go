// Package diag collects what a technician needs to review a questionable
// score into one tar.gz: the config, recent transcripts, the last metrics
// textfile and a summary that re-scores every transcript it ships.
package diag

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/pingsantohq/mosprobe/internal/analysis"
	"github.com/pingsantohq/mosprobe/internal/archive"
	"github.com/pingsantohq/mosprobe/internal/config"
)

const (
	defaultOutputPrefix = "diag_"
	infoFileName        = "diagnostics/info.json"
	configDirName       = "config"
	transcriptsDirName  = "transcripts"
	metricsFileName     = "observability/metrics.prom"
)

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now      func() time.Time
	LookPath func(file string) (string, error)
	Stdout   io.Writer
}

// Run parses args and writes the bundle.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}

	fs := flag.NewFlagSet("diag", flag.ContinueOnError)
	configPath := fs.String("config", config.PathFromEnv(), "Path to configuration file")
	archiveDir := fs.String("archive-dir", "", "Transcript archive directory (default from config)")
	metricsFile := fs.String("metrics-file", "", "Prometheus textfile written by run --metrics-file")
	outputPath := fs.String("output", "", "Path for the bundle (default diag_<ts>.tar.gz)")
	since := fs.Duration("since", 24*time.Hour, "Only include transcripts modified within this window, 0 for all")

	if err := fs.Parse(args); err != nil {
		return err
	}

	now := deps.Now().UTC()
	outPath := *outputPath
	if outPath == "" {
		outPath = fmt.Sprintf("%s%s.tar.gz", defaultOutputPrefix, now.Format("20060102T150405Z"))
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory %q: %w", dir, err)
		}
	}

	info := bundleInfo{
		GeneratedAt: now.Format(time.RFC3339),
		OutputPath:  outPath,
		GoVersion:   runtime.Version(),
		GOOS:        runtime.GOOS,
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		info.warn("config unavailable (%s): %v", *configPath, err)
		cfg = config.Default()
	} else {
		info.ConfigPath = *configPath
		info.Hosts = len(cfg.Hosts)
		info.Backend = cfg.Probe.Backend
	}
	if *archiveDir == "" {
		*archiveDir = cfg.Archive.Dir
	}
	info.ArchiveDir = *archiveDir

	if cfg.Probe.Backend == config.BackendExec {
		if path, err := deps.LookPath(cfg.Probe.Command); err != nil {
			info.warn("probe command %q not found: %v", cfg.Probe.Command, err)
		} else {
			info.ProbeCommand = path
		}
	}

	var cutoff time.Time
	if *since > 0 {
		cutoff = now.Add(-*since)
	}

	if err := writeBundle(outPath, &info, *configPath, *archiveDir, *metricsFile, cutoff, now); err != nil {
		return err
	}
	fmt.Fprintf(deps.Stdout, "wrote diagnostics bundle to %s (%d transcripts, %d warnings)\n",
		outPath, len(info.Transcripts), len(info.Warnings))
	return nil
}

func writeBundle(outPath string, info *bundleInfo, configPath, archiveDir, metricsFile string, cutoff, now time.Time) error {
	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create diagnostics file %q: %w", outPath, err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if info.ConfigPath != "" {
		if err := addFile(tw, configPath, filepath.ToSlash(filepath.Join(configDirName, filepath.Base(configPath)))); err != nil {
			info.warn("failed to include config %q: %v", configPath, err)
		}
	}

	if err := addTranscripts(tw, archiveDir, cutoff, info); err != nil {
		info.warn("failed to include transcripts from %q: %v", archiveDir, err)
	}

	if metricsFile != "" {
		if err := addFile(tw, metricsFile, metricsFileName); err != nil {
			info.warn("failed to include metrics %q: %v", metricsFile, err)
		}
	}

	if err := writeInfo(tw, *info, now); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return outFile.Close()
}

// addTranscripts ships every archived transcript newer than cutoff and
// re-scores it for the summary.
func addTranscripts(tw *tar.Writer, dir string, cutoff time.Time, info *bundleInfo) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		info.warn("archive directory %q does not exist", dir)
		return nil
	}
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			info.warn("stat transcript %q: %v", entry.Name(), err)
			continue
		}
		if !cutoff.IsZero() && fi.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		name := filepath.ToSlash(filepath.Join(transcriptsDirName, entry.Name()))
		if err := addFile(tw, path, name); err != nil {
			info.warn("failed to include transcript %q: %v", path, err)
			continue
		}

		text, err := archive.Load(path)
		if err != nil {
			info.warn("reread transcript %q: %v", path, err)
			continue
		}
		res := analysis.Assess(analysis.Target{Host: entry.Name()}, 0, text)
		summary := transcriptSummary{File: name, Samples: res.Samples, LossPct: res.LossPct, MOS: res.MOS, Quality: res.Quality, Error: res.Error}
		info.Transcripts = append(info.Transcripts, summary)
	}
	return nil
}

func writeInfo(tw *tar.Writer, info bundleInfo, modTime time.Time) error {
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal diagnostics info: %w", err)
	}
	return addBytes(tw, payload, infoFileName, modTime)
}

func addBytes(tw *tar.Writer, data []byte, name string, modTime time.Time) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar content for %q: %w", name, err)
	}
	return nil
}

func addFile(tw *tar.Writer, src, name string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%q is not a regular file", src)
	}
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer file.Close()

	header, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return fmt.Errorf("header for %q: %w", src, err)
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", src, err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("copy %q: %w", src, err)
	}
	return nil
}

type bundleInfo struct {
	GeneratedAt  string              `json:"generated_at"`
	OutputPath   string              `json:"output_path"`
	ConfigPath   string              `json:"config_path,omitempty"`
	Backend      string              `json:"backend,omitempty"`
	ProbeCommand string              `json:"probe_command,omitempty"`
	Hosts        int                 `json:"hosts"`
	ArchiveDir   string              `json:"archive_dir"`
	Transcripts  []transcriptSummary `json:"transcripts,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
	GoVersion    string              `json:"go_version"`
	GOOS         string              `json:"goos"`
}

func (b *bundleInfo) warn(format string, args ...any) {
	b.Warnings = append(b.Warnings, fmt.Sprintf(format, args...))
}

type transcriptSummary struct {
	File    string  `json:"file"`
	Samples int     `json:"samples,omitempty"`
	LossPct float64 `json:"loss_pct"`
	MOS     float64 `json:"mos,omitempty"`
	Quality string  `json:"quality,omitempty"`
	Error   string  `json:"error,omitempty"`
}
