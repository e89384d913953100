// Package probe runs ICMP echo probes against a host and captures the
// resulting transcript.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTimeout is returned when a probe does not finish within 2 × attempts
// time units.
var ErrTimeout = errors.New("probe timed out")

// InvocationError reports that the probe could not be started or could not
// reach the point of sending echoes (missing binary, permissions, name
// resolution).
type InvocationError struct {
	Host string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Host, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Transcript is the raw text produced by one probe run.
type Transcript struct {
	Host      string
	Attempts  int
	Output    string
	ErrOutput string
	StartedAt time.Time
	Duration  time.Duration
}

// Text returns stdout followed by stderr, the form parsers consume.
func (t Transcript) Text() string {
	if t.ErrOutput == "" {
		return t.Output
	}
	if t.Output == "" || strings.HasSuffix(t.Output, "\n") {
		return t.Output + t.ErrOutput
	}
	return t.Output + "\n" + t.ErrOutput
}

// Runner probes a host with the requested number of echo attempts.
type Runner interface {
	Run(ctx context.Context, host string, attempts int) (Transcript, error)
}

// DefaultTimeoutUnit is multiplied by 2 × attempts to bound a probe run.
const DefaultTimeoutUnit = time.Second

// Timeout returns the deadline budget for a run of attempts echoes.
func Timeout(attempts int, unit time.Duration) time.Duration {
	if unit <= 0 {
		unit = DefaultTimeoutUnit
	}
	return time.Duration(2*attempts) * unit
}

func validateTarget(host string, attempts int) error {
	host = strings.TrimSpace(host)
	switch {
	case host == "":
		return errors.New("empty host")
	case strings.HasPrefix(host, "-"):
		return fmt.Errorf("invalid host %q", host)
	case strings.ContainsAny(host, " \t\r\n"):
		return fmt.Errorf("invalid host %q", host)
	case attempts < 1:
		return fmt.Errorf("attempts must be at least 1, got %d", attempts)
	}
	return nil
}
