package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/mosprobe/internal/transcript"
)

func TestICMPTranscriptMatchesParserDialect(t *testing.T) {
	var out strings.Builder
	ip := net.ParseIP("192.0.2.7")
	writeHeader(&out, "pbx.example.net", ip, 56)
	writeReply(&out, 64, ip, 1, 12500*time.Microsecond)
	writeReply(&out, 64, ip, 2, 14*time.Millisecond)
	writeSummary(&out, "pbx.example.net", 3, 2, 2003*time.Millisecond)

	parsed := transcript.Parse(out.String())
	if len(parsed.Samples) != 2 || parsed.Samples[0] != 12.5 || parsed.Samples[1] != 14 {
		t.Fatalf("unexpected samples %v from %q", parsed.Samples, out.String())
	}
	if !parsed.HasLoss {
		t.Fatalf("expected loss in %q", out.String())
	}
	if want := 100.0 / 3.0; parsed.LossPct < want-1e-9 || parsed.LossPct > want+1e-9 {
		t.Fatalf("expected loss %v got %v", want, parsed.LossPct)
	}
	if parsed.LossRule != "transmitted-received" {
		t.Fatalf("expected iputils summary rule, got %s", parsed.LossRule)
	}
}

func TestICMPRunnerResolveFailure(t *testing.T) {
	resolveErr := errors.New("no such host")
	runner := NewICMPRunner(ICMPConfig{}, ICMPDependencies{
		Resolve: func(ctx context.Context, host string) (net.IP, error) {
			return nil, resolveErr
		},
	})
	_, err := runner.Run(context.Background(), "nowhere.invalid", 3)
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if !errors.Is(err, resolveErr) {
		t.Fatalf("expected wrapped resolve error, got %v", err)
	}
}

func TestICMPSocketSelection(t *testing.T) {
	unpriv := NewICMPRunner(ICMPConfig{}, ICMPDependencies{})
	if s := unpriv.socketFor(net.ParseIP("192.0.2.1")); s.network != "udp4" || s.proto != protocolICMP {
		t.Fatalf("unexpected v4 socket %+v", s)
	}
	if s := unpriv.socketFor(net.ParseIP("2001:db8::1")); s.network != "udp6" || s.proto != protocolIPv6ICMP {
		t.Fatalf("unexpected v6 socket %+v", s)
	}
	priv := NewICMPRunner(ICMPConfig{Privileged: true}, ICMPDependencies{})
	if s := priv.socketFor(net.ParseIP("192.0.2.1")); s.network != "ip4:icmp" {
		t.Fatalf("unexpected privileged socket %+v", s)
	}
}

func TestSendScheduleFitsTimeoutBudget(t *testing.T) {
	begin := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	attempts := 5
	interval := 2 * time.Second

	for seq := 1; seq <= attempts; seq++ {
		want := begin.Add(time.Duration(seq-1) * interval)
		if got := sendAt(begin, seq, interval); !got.Equal(want) {
			t.Fatalf("seq %d: expected %s got %s", seq, want, got)
		}
	}
	// The last reply window closes one interval after the last send, so a
	// host that never answers still finishes inside 2 x attempts x unit
	// whenever interval <= 2 x unit.
	lastWindow := sendAt(begin, attempts+1, interval).Sub(begin)
	if budget := Timeout(attempts, time.Second); lastWindow > budget {
		t.Fatalf("silent host needs %s, budget %s", lastWindow, budget)
	}
}

func TestSleepCtxPastDeadlineReturnsImmediately(t *testing.T) {
	start := time.Now()
	if err := sleepCtx(context.Background(), -time.Second); err != nil {
		t.Fatalf("sleepCtx: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected no wait for a send time already passed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
