// Package prober sends ICMP echo requests to inventory devices. The
// primary path uses unprivileged UDP-based ICMP; when that path cannot
// run (sockets unavailable, permission denied) it falls back to the
// system ping utility so the service still works on locked-down hosts.
package prober

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/model"
)

// Prober probes a single address and reports success plus round-trip time.
type Prober interface {
	Probe(ctx context.Context, address string) (ok bool, rttMs *float64, errMsg string, method string)
}

// ICMPProber probes with one echo request per call.
type ICMPProber struct {
	Timeout time.Duration
	Log     *zap.Logger

	// fallback runs when the unprivileged socket cannot be opened.
	fallback *SystemProber
}

// New returns a prober with the given per-probe deadline.
func New(timeout time.Duration, log *zap.Logger) *ICMPProber {
	return &ICMPProber{
		Timeout:  timeout,
		Log:      log,
		fallback: &SystemProber{Timeout: timeout},
	}
}

// Probe sends one echo request to address. A reply within the deadline
// is success; no reply is a timeout; a socket-level error triggers the
// system ping fallback.
func (p *ICMPProber) Probe(ctx context.Context, address string) (bool, *float64, string, string) {
	pinger, err := probing.NewPinger(address)
	if err != nil {
		return false, nil, "invalid address: " + err.Error(), model.MethodICMP
	}
	pinger.Count = 1
	pinger.Timeout = p.Timeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		// Unprivileged ICMP can be refused by the kernel
		// (net.ipv4.ping_group_range). Fall back to the ping binary.
		if p.fallback != nil {
			ok, rtt, msg, _ := p.fallback.Probe(ctx, address)
			return ok, rtt, msg, model.MethodSystemPing
		}
		return false, nil, "ping failed: " + err.Error(), model.MethodICMP
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return false, nil, "request timed out", model.MethodICMP
	}
	rtt := float64(stats.AvgRtt.Microseconds()) / 1000.0
	return true, &rtt, "", model.MethodICMP
}
