package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pingsantohq/mosprobe/internal/analysis"
	"github.com/pingsantohq/mosprobe/internal/archive"
	"github.com/pingsantohq/mosprobe/internal/config"
	"github.com/pingsantohq/mosprobe/internal/diag"
	"github.com/pingsantohq/mosprobe/internal/events"
	"github.com/pingsantohq/mosprobe/internal/logging"
	"github.com/pingsantohq/mosprobe/internal/metrics"
	"github.com/pingsantohq/mosprobe/internal/mos"
	"github.com/pingsantohq/mosprobe/internal/probe"
	"github.com/pingsantohq/mosprobe/internal/report"
	"github.com/pingsantohq/mosprobe/pkg/types"
)

const (
	exitUsage       = 1
	exitHostsFailed = 2
)

// exitError carries a process exit status out of a subcommand.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// env is what a subcommand may touch outside its arguments.
type env struct {
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	stdoutTTY *os.File
	newRunner func(cfg config.ProbeConfig) probe.Runner
	now       func() time.Time
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := env{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		stdoutTTY: os.Stdout,
		newRunner: newRunner,
		now:       time.Now,
	}
	os.Exit(dispatch(ctx, os.Args[1:], e))
}

func dispatch(ctx context.Context, args []string, e env) int {
	if len(args) < 1 {
		printUsage(e.stderr)
		return exitUsage
	}

	cmd := args[0]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, args[1:], e)
	case "score":
		err = score(args[1:], e)
	case "parse":
		err = parse(args[1:], e)
	case "init":
		err = initConfig(args[1:], e)
	case "diag":
		err = diag.Run(ctx, args[1:], diag.Dependencies{Stdout: e.stdout})
	case "-h", "--help", "help":
		printUsage(e.stdout)
		return 0
	default:
		fmt.Fprintf(e.stderr, "unknown command: %s\n", cmd)
		printUsage(e.stderr)
		return exitUsage
	}

	if err == nil {
		return 0
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(e.stderr, "command %s: %v\n", cmd, exitErr.err)
		return exitErr.code
	}
	fmt.Fprintf(e.stderr, "command %s failed: %v\n", cmd, err)
	return exitUsage
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "mosprobe estimates VoIP call quality (MOS) from ICMP echo probes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  mosprobe run [--config mosprobe.yaml] [--attempts N] [--concurrency N] [--backend exec|icmp]")
	fmt.Fprintln(w, "               [--format text|json] [--color auto|always|never] [--archive-dir dir] [--no-archive]")
	fmt.Fprintln(w, "               [--metrics-file path] [--fail-on-error] [host[=name] ...]")
	fmt.Fprintln(w, "  mosprobe score --latency MS --jitter MS --loss PCT [--format text|json]")
	fmt.Fprintln(w, "  mosprobe parse [--format text|json] <file|->")
	fmt.Fprintln(w, "  mosprobe init [--config mosprobe.yaml] [--force]")
	fmt.Fprintln(w, "  mosprobe diag [--config mosprobe.yaml] [--archive-dir dir] [--metrics-file path] [--output file] [--since 24h]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  MOSPROBE_CONFIG   default config path")
	fmt.Fprintln(w, "  NO_COLOR          disable colors with --color auto")
}

func run(ctx context.Context, args []string, e env) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", config.PathFromEnv(), "Path to configuration file")
	attempts := fs.Int("attempts", 0, "Echo requests per host (overrides config)")
	concurrency := fs.Int("concurrency", 0, "Hosts probed at once (overrides config)")
	backend := fs.String("backend", "", "Probe backend: exec or icmp")
	format := fs.String("format", "", "Report format: text or json")
	color := fs.String("color", "", "Color mode: auto, always or never")
	archiveDir := fs.String("archive-dir", "", "Directory for transcript archives")
	noArchive := fs.Bool("no-archive", false, "Do not archive transcripts")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus textfile metrics to path")
	failOnError := fs.Bool("fail-on-error", false, "Exit 2 when any host fails")

	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := logging.New(e.stderr)

	created, err := config.Bootstrap(*configPath)
	if err != nil {
		return err
	}
	if created {
		logger.Printf("no config found, wrote defaults to %s", *configPath)
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	overrides := runOverrides{
		attempts:    *attempts,
		concurrency: *concurrency,
		backend:     *backend,
		format:      *format,
		color:       *color,
		archiveDir:  *archiveDir,
		noArchive:   *noArchive,
	}
	if err := overrides.apply(&cfg, fs.Args()); err != nil {
		return err
	}

	store := metrics.NewStore()
	deps := analysis.Dependencies{
		Runner:         e.newRunner(cfg.Probe),
		Logger:         logger,
		Metrics:        store.AnalysisRecorder(),
		ArchiveMetrics: store.ArchiveRecorder(),
	}
	if cfg.Archive.On() {
		deps.Archiver = archive.New(cfg.Archive.Dir)
	}
	analyzer, err := analysis.New(deps, analysis.WithArchiveRequired(cfg.Archive.Required))
	if err != nil {
		return err
	}

	targets := make([]analysis.Target, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		targets = append(targets, analysis.Target{Host: h.Host, Name: h.Name})
	}

	batch := analysis.NewBatch(analyzer,
		analysis.WithConcurrency(cfg.Probe.Concurrency),
		analysis.WithLaunchRate(cfg.Probe.LaunchRate),
		analysis.WithRecorder(progressLogger(logger)),
	)
	logger.Printf("run %s starting hosts=%d attempts=%d backend=%s concurrency=%d",
		batch.RunID(), len(targets), cfg.Probe.Attempts, cfg.Probe.Backend, cfg.Probe.Concurrency)

	rep := batch.Run(ctx, targets, cfg.Probe.Attempts)
	store.MarkRun(e.now())

	if *metricsFile != "" {
		if err := store.WriteTextfile(*metricsFile); err != nil {
			logger.Printf("write metrics textfile failed: %v", err)
		}
	}

	if err := writeReport(e, cfg.Output, rep); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return &exitError{code: exitUsage, err: fmt.Errorf("run interrupted: %w", err)}
	}
	if *failOnError && rep.FailureCount() > 0 {
		return &exitError{code: exitHostsFailed, err: fmt.Errorf("%d of %d hosts failed", rep.FailureCount(), len(rep.Results))}
	}
	return nil
}

type runOverrides struct {
	attempts    int
	concurrency int
	backend     string
	format      string
	color       string
	archiveDir  string
	noArchive   bool
}

// apply layers flags and positional hosts over cfg and validates the
// result.
func (o runOverrides) apply(cfg *config.Config, hosts []string) error {
	if o.attempts != 0 {
		cfg.Probe.Attempts = o.attempts
	}
	if o.concurrency != 0 {
		cfg.Probe.Concurrency = o.concurrency
	}
	if o.backend != "" {
		cfg.Probe.Backend = o.backend
	}
	if o.format != "" {
		cfg.Output.Format = o.format
	}
	if o.color != "" {
		cfg.Output.Color = o.color
	}
	if o.archiveDir != "" {
		cfg.Archive.Dir = o.archiveDir
	}
	if o.noArchive {
		disabled := false
		cfg.Archive.Enabled = &disabled
	}
	if len(hosts) > 0 {
		cfg.Hosts = parseHostArgs(hosts)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// parseHostArgs reads host or host=name arguments.
func parseHostArgs(args []string) []config.HostEntry {
	hosts := make([]config.HostEntry, 0, len(args))
	for _, arg := range args {
		host, name, _ := strings.Cut(arg, "=")
		hosts = append(hosts, config.HostEntry{Host: host, Name: name})
	}
	return hosts
}

func newRunner(cfg config.ProbeConfig) probe.Runner {
	if cfg.Backend == config.BackendICMP {
		return probe.NewICMPRunner(probe.ICMPConfig{
			Interval:    cfg.Interval,
			Privileged:  cfg.Privileged,
			TimeoutUnit: cfg.TimeoutUnit,
		}, probe.ICMPDependencies{})
	}
	return probe.NewExecRunner(probe.ExecConfig{
		Command:     cfg.Command,
		TimeoutUnit: cfg.TimeoutUnit,
	}, probe.Dependencies{})
}

func progressLogger(logger *log.Logger) events.Recorder {
	return events.Func(func(ev types.Event) {
		switch ev.Type {
		case types.EventHostStarted:
			logger.Printf("[%d/%d] probing %s (%s)", ev.Index+1, ev.Total, ev.Name, ev.Host)
		case types.EventHostCompleted:
			res := ev.Result
			if res == nil {
				return
			}
			if res.Failed() {
				logger.Printf("[%d/%d] %s failed: %s", ev.Index+1, ev.Total, res.Name, res.Error)
				return
			}
			logger.Printf("[%d/%d] %s mos=%.2f quality=%s", ev.Index+1, ev.Total, res.Name, res.MOS, res.Quality)
		case types.EventBatchCompleted:
			logger.Printf("run %s finished hosts=%d", ev.RunID, ev.Total)
		}
	})
}

func writeReport(e env, out config.OutputConfig, rep types.BatchReport) error {
	if out.Format == config.FormatJSON {
		return report.WriteJSON(e.stdout, rep)
	}
	return report.WriteText(e.stdout, rep, report.Options{Color: report.ColorEnabled(out.Color, e.stdoutTTY)})
}

func outputFor(format string) (config.OutputConfig, error) {
	out := config.OutputConfig{Format: strings.ToLower(strings.TrimSpace(format)), Color: config.ColorAuto}
	switch out.Format {
	case config.FormatText, config.FormatJSON:
		return out, nil
	default:
		return out, fmt.Errorf("unknown format %q", format)
	}
}

func score(args []string, e env) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	latency := fs.Float64("latency", -1, "Mean round-trip latency in ms")
	jitter := fs.Float64("jitter", -1, "Round-trip standard deviation in ms")
	loss := fs.Float64("loss", -1, "Packet loss percentage")
	format := fs.String("format", config.FormatText, "Report format: text or json")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *latency < 0 || *jitter < 0 || *loss < 0 {
		return errors.New("--latency, --jitter and --loss are required and must not be negative")
	}
	out, err := outputFor(*format)
	if err != nil {
		return err
	}

	res := mos.Score(*latency, *jitter, *loss)
	result := types.HostAnalysis{
		Host:               "-",
		Name:               "manual",
		Status:             types.StatusOK,
		LatencyMs:          *latency,
		JitterMs:           *jitter,
		LossPct:            *loss,
		EffectiveLatencyMs: res.EffectiveLatencyMs,
		RFactor:            res.RFactor,
		MOS:                res.MOS,
		Quality:            string(res.Quality),
		MOSOutOfRange:      res.OutOfRange(),
	}
	return writeReport(e, out, singleReport(e, result))
}

func parse(args []string, e env) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	format := fs.String("format", config.FormatText, "Report format: text or json")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("parse takes exactly one transcript path, or - for stdin")
	}
	out, err := outputFor(*format)
	if err != nil {
		return err
	}

	src := fs.Arg(0)
	var text string
	if src == "-" {
		data, err := io.ReadAll(e.stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = archive.StripHeader(string(data))
	} else {
		text, err = archive.Load(src)
		if err != nil {
			return err
		}
	}

	result := analysis.Assess(analysis.Target{Host: src}, 0, text)
	result.TranscriptPath = src
	return writeReport(e, out, singleReport(e, result))
}

func singleReport(e env, result types.HostAnalysis) types.BatchReport {
	return types.BatchReport{
		GeneratedAt: e.now().UTC(),
		Results:     []types.HostAnalysis{result},
	}
}

func initConfig(args []string, e env) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	configPath := fs.String("config", config.PathFromEnv(), "Path to write")
	force := fs.Bool("force", false, "Overwrite an existing file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *force {
		if err := config.Write(*configPath, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "wrote default config to %s\n", *configPath)
		return nil
	}

	created, err := config.Bootstrap(*configPath)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("%s already exists, use --force to overwrite", *configPath)
	}
	fmt.Fprintf(e.stdout, "wrote default config to %s\n", *configPath)
	return nil
}
