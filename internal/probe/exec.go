package probe

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const defaultCommand = "ping"

// CommandFunc runs name with args and returns its captured streams.
type CommandFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	RunCommand CommandFunc
	GOOS       string
	Now        func() time.Time
}

// ExecConfig configures the system ping backend.
type ExecConfig struct {
	Command     string
	TimeoutUnit time.Duration
}

// ExecRunner shells out to the platform ping utility.
type ExecRunner struct {
	command     string
	countFlag   string
	timeoutUnit time.Duration
	run         CommandFunc
	now         func() time.Time
}

func NewExecRunner(cfg ExecConfig, deps Dependencies) *ExecRunner {
	if deps.RunCommand == nil {
		deps.RunCommand = runCommand
	}
	if deps.GOOS == "" {
		deps.GOOS = runtime.GOOS
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		command = defaultCommand
	}
	unit := cfg.TimeoutUnit
	if unit <= 0 {
		unit = DefaultTimeoutUnit
	}
	return &ExecRunner{
		command:     command,
		countFlag:   CountFlag(deps.GOOS),
		timeoutUnit: unit,
		run:         deps.RunCommand,
		now:         deps.Now,
	}
}

// CountFlag returns the ping flag that sets the number of echoes on goos.
func CountFlag(goos string) string {
	if goos == "windows" {
		return "-n"
	}
	return "-c"
}

// Run executes ping. A non-zero exit status is not an error: ping exits
// non-zero whenever some echoes went unanswered and the transcript still
// carries everything needed to score the host.
func (r *ExecRunner) Run(ctx context.Context, host string, attempts int) (Transcript, error) {
	host = strings.TrimSpace(host)
	transcript := Transcript{Host: host, Attempts: attempts}
	if err := validateTarget(host, attempts); err != nil {
		return transcript, &InvocationError{Host: host, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, Timeout(attempts, r.timeoutUnit))
	defer cancel()

	transcript.StartedAt = r.now().UTC()
	stdout, stderr, err := r.run(runCtx, r.command, r.countFlag, strconv.Itoa(attempts), host)
	transcript.Duration = r.now().Sub(transcript.StartedAt)
	transcript.Output = string(stdout)
	transcript.ErrOutput = string(stderr)

	if err == nil {
		return transcript, nil
	}
	if ctx.Err() != nil {
		return transcript, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return transcript, ErrTimeout
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return transcript, nil
	}
	return transcript, &InvocationError{Host: host, Err: err}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
