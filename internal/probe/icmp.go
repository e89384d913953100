package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	defaultEchoInterval = time.Second
	defaultPayloadSize  = 56
	protocolICMP        = 1
	protocolIPv6ICMP    = 58
)

// ICMPConfig configures the native echo backend.
type ICMPConfig struct {
	Interval    time.Duration
	Privileged  bool
	PayloadSize int
	TimeoutUnit time.Duration
}

// ResolveFunc maps a host name to the address to probe.
type ResolveFunc func(ctx context.Context, host string) (net.IP, error)

// ICMPDependencies provides optional overrides for testing.
type ICMPDependencies struct {
	Resolve ResolveFunc
	Now     func() time.Time
}

// ICMPRunner sends echo requests itself instead of shelling out. The
// transcript it produces follows the iputils layout so the same parser
// handles both backends.
type ICMPRunner struct {
	cfg     ICMPConfig
	resolve ResolveFunc
	now     func() time.Time
}

func NewICMPRunner(cfg ICMPConfig, deps ICMPDependencies) *ICMPRunner {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultEchoInterval
	}
	if cfg.PayloadSize <= 0 {
		cfg.PayloadSize = defaultPayloadSize
	}
	if cfg.TimeoutUnit <= 0 {
		cfg.TimeoutUnit = DefaultTimeoutUnit
	}
	if deps.Resolve == nil {
		deps.Resolve = resolveIP
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ICMPRunner{cfg: cfg, resolve: deps.Resolve, now: deps.Now}
}

type echoSocket struct {
	network   string
	proto     int
	echoType  icmp.Type
	replyType icmp.Type
	dst       net.Addr
}

func (r *ICMPRunner) socketFor(ip net.IP) echoSocket {
	s := echoSocket{
		network:   "udp4",
		proto:     protocolICMP,
		echoType:  ipv4.ICMPTypeEcho,
		replyType: ipv4.ICMPTypeEchoReply,
	}
	if ip.To4() == nil {
		s.network = "udp6"
		s.proto = protocolIPv6ICMP
		s.echoType = ipv6.ICMPTypeEchoRequest
		s.replyType = ipv6.ICMPTypeEchoReply
	}
	if r.cfg.Privileged {
		if s.proto == protocolICMP {
			s.network = "ip4:icmp"
		} else {
			s.network = "ip6:ipv6-icmp"
		}
		s.dst = &net.IPAddr{IP: ip}
	} else {
		s.dst = &net.UDPAddr{IP: ip}
	}
	return s
}

func (r *ICMPRunner) Run(ctx context.Context, host string, attempts int) (Transcript, error) {
	host = strings.TrimSpace(host)
	transcript := Transcript{Host: host, Attempts: attempts}
	if err := validateTarget(host, attempts); err != nil {
		return transcript, &InvocationError{Host: host, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, Timeout(attempts, r.cfg.TimeoutUnit))
	defer cancel()

	transcript.StartedAt = r.now().UTC()
	ip, err := r.resolve(runCtx, host)
	if err != nil {
		return transcript, &InvocationError{Host: host, Err: fmt.Errorf("resolve: %w", err)}
	}

	sock := r.socketFor(ip)
	conn, err := icmp.ListenPacket(sock.network, "")
	if err != nil {
		return transcript, &InvocationError{Host: host, Err: fmt.Errorf("listen %s: %w", sock.network, err)}
	}
	defer conn.Close()

	var out strings.Builder
	writeHeader(&out, host, ip, r.cfg.PayloadSize)

	id := os.Getpid() & 0xffff
	payload := make([]byte, r.cfg.PayloadSize)
	received := 0
	var runErr error
	begin := time.Now()
	for seq := 1; seq <= attempts; seq++ {
		// Sends are paced from the first one, so time spent waiting on an
		// unanswered echo is not added on top of the interval.
		if err := sleepCtx(runCtx, time.Until(sendAt(begin, seq, r.cfg.Interval))); err != nil {
			runErr = err
			break
		}
		rtt, ok, err := r.echo(runCtx, conn, sock, ip, id, seq, payload, sendAt(begin, seq+1, r.cfg.Interval))
		if err != nil {
			runErr = err
			break
		}
		if ok {
			received++
			writeReply(&out, len(payload)+8, ip, seq, rtt)
		} else {
			fmt.Fprintf(&out, "no answer yet for icmp_seq=%d\n", seq)
		}
	}
	transcript.Duration = r.now().Sub(transcript.StartedAt)

	if runErr != nil {
		transcript.Output = out.String()
		if ctx.Err() != nil {
			return transcript, ctx.Err()
		}
		if errors.Is(runErr, context.DeadlineExceeded) {
			return transcript, ErrTimeout
		}
		return transcript, &InvocationError{Host: host, Err: runErr}
	}

	writeSummary(&out, host, attempts, received, transcript.Duration)
	transcript.Output = out.String()
	return transcript, nil
}

// echo sends one request and waits until deadline for its reply. ok is
// false when the wait ended without a matching reply; err is set only when
// the run cannot continue.
func (r *ICMPRunner) echo(ctx context.Context, conn *icmp.PacketConn, sock echoSocket, ip net.IP, id, seq int, payload []byte, deadline time.Time) (time.Duration, bool, error) {
	msg := icmp.Message{
		Type: sock.echoType,
		Body: &icmp.Echo{ID: id, Seq: seq & 0xffff, Data: payload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return 0, false, fmt.Errorf("marshal echo: %w", err)
	}

	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	start := time.Now()
	if _, err := conn.WriteTo(wire, sock.dst); err != nil {
		return 0, false, fmt.Errorf("send echo: %w", err)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, false, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctx.Err() != nil {
					return 0, false, ctx.Err()
				}
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("read reply: %w", err)
		}
		if !peerMatches(peer, ip) {
			continue
		}
		parsed, err := icmp.ParseMessage(sock.proto, buf[:n])
		if err != nil || parsed.Type != sock.replyType {
			continue
		}
		reply, ok := parsed.Body.(*icmp.Echo)
		if !ok || reply.Seq != seq&0xffff {
			continue
		}
		// Unprivileged sockets get their identifier rewritten by the kernel.
		if sock.dst.Network() == "ip" && reply.ID != id {
			continue
		}
		return time.Since(start), true, nil
	}
}

func peerMatches(peer net.Addr, ip net.IP) bool {
	switch addr := peer.(type) {
	case *net.IPAddr:
		return addr.IP == nil || addr.IP.Equal(ip)
	case *net.UDPAddr:
		return addr.IP == nil || addr.IP.Equal(ip)
	default:
		return true
	}
}

func writeHeader(w io.Writer, host string, ip net.IP, payloadSize int) {
	fmt.Fprintf(w, "PING %s (%s) %d bytes of data.\n", host, ip, payloadSize)
}

func writeReply(w io.Writer, size int, ip net.IP, seq int, rtt time.Duration) {
	ms := float64(rtt.Microseconds()) / 1000.0
	fmt.Fprintf(w, "%d bytes from %s: icmp_seq=%d time=%s ms\n", size, ip, seq, strconv.FormatFloat(ms, 'f', 3, 64))
}

func writeSummary(w io.Writer, host string, transmitted, received int, elapsed time.Duration) {
	loss := 0.0
	if transmitted > 0 {
		loss = float64(transmitted-received) / float64(transmitted) * 100
	}
	fmt.Fprintf(w, "\n--- %s ping statistics ---\n", host)
	fmt.Fprintf(w, "%d packets transmitted, %d received, %s%% packet loss, time %dms\n",
		transmitted, received, strconv.FormatFloat(loss, 'f', -1, 64), elapsed.Milliseconds())
}

func resolveIP(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0].IP, nil
}

// sendAt is when echo seq (1-based) goes out in a run that began at begin.
func sendAt(begin time.Time, seq int, interval time.Duration) time.Time {
	return begin.Add(time.Duration(seq-1) * interval)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
