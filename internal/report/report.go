// Package report renders a batch of host analyses for people and for
// machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/pingsantohq/mosprobe/internal/mos"
	"github.com/pingsantohq/mosprobe/pkg/types"
)

const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

type Options struct {
	Color bool
}

var header = []string{"NAME", "HOST", "LATENCY", "JITTER", "LOSS", "EFF.LAT", "R", "MOS", "QUALITY"}

// WriteText prints one row per host in input order. QUALITY is the last
// column so color escapes never skew the alignment.
func WriteText(w io.Writer, report types.BatchReport, opts Options) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	flagged := false
	for _, res := range report.Results {
		fmt.Fprintln(tw, strings.Join(row(res, opts), "\t"))
		if res.MOSOutOfRange && !res.Failed() {
			flagged = true
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if flagged {
		fmt.Fprintln(w, "* MOS outside the 1-5 scale, inputs exceed the model's range")
	}
	_, err := fmt.Fprintf(w, "\n%d hosts, %d failed\n", len(report.Results), report.FailureCount())
	return err
}

func row(res types.HostAnalysis, opts Options) []string {
	if res.Failed() {
		return []string{res.Name, res.Host, "-", "-", "-", "-", "-", "-",
			fmt.Sprintf("FAILED %s: %s", res.Error, res.Message)}
	}
	score := fmt.Sprintf("%.2f", res.MOS)
	if res.MOSOutOfRange {
		score += "*"
	}
	quality := res.Quality
	if opts.Color {
		if code := mos.Quality(res.Quality).Color(); code != "" {
			quality = "\x1b[" + code + "m" + quality + "\x1b[0m"
		}
	}
	return []string{
		res.Name,
		res.Host,
		fmt.Sprintf("%.1f ms", res.LatencyMs),
		fmt.Sprintf("%.2f ms", res.JitterMs),
		fmt.Sprintf("%.1f%%", res.LossPct),
		fmt.Sprintf("%.1f ms", res.EffectiveLatencyMs),
		fmt.Sprintf("%.1f", res.RFactor),
		score,
		quality,
	}
}

func WriteJSON(w io.Writer, report types.BatchReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// ColorEnabled resolves a color mode against the output file. auto colors
// only a terminal and never when NO_COLOR is set.
func ColorEnabled(mode string, f *os.File) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("NO_COLOR") != "" || f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
