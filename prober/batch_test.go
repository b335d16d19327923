package prober

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ftahirops/pingmon/model"
)

type fakeProber struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	up       map[string]bool
}

func (f *fakeProber) Probe(ctx context.Context, address string) (bool, *float64, string, string) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if cur > f.maxSeen {
		f.maxSeen = cur
	}
	ok := f.up[address]
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	if ok {
		rtt := 1.5
		return true, &rtt, "", model.MethodICMP
	}
	return false, nil, "request timed out", model.MethodICMP
}

func devices(ips ...string) []model.Device {
	out := make([]model.Device, len(ips))
	for i, ip := range ips {
		out[i] = model.Device{ID: int64(i + 1), IP: ip, Hostname: "host-" + ip}
	}
	return out
}

func TestBatchRunOrderAndOutcome(t *testing.T) {
	fp := &fakeProber{up: map[string]bool{"10.0.0.1": true, "10.0.0.3": true}}
	b := &Batch{Prober: fp, Workers: 4, Log: zap.NewNop()}

	devs := devices("10.0.0.1", "10.0.0.2", "10.0.0.3")
	results := b.Run(context.Background(), devs)

	if len(results) != len(devs) {
		t.Fatalf("got %d results, want %d", len(results), len(devs))
	}
	for i, r := range results {
		if r.DeviceID != devs[i].ID || r.IPAddress != devs[i].IP {
			t.Errorf("result %d out of order: got device %d ip %s", i, r.DeviceID, r.IPAddress)
		}
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Errorf("unexpected outcomes: %v %v %v",
			results[0].Success, results[1].Success, results[2].Success)
	}
	if results[0].ResponseTimeMs == nil {
		t.Error("successful probe missing response time")
	}
	if results[1].ResponseTimeMs != nil {
		t.Error("failed probe carries response time")
	}
	if results[1].ErrorMessage == "" {
		t.Error("failed probe missing error message")
	}
}

func TestBatchRunBoundsConcurrency(t *testing.T) {
	fp := &fakeProber{up: map[string]bool{}}
	b := &Batch{Prober: fp, Workers: 2, Log: zap.NewNop()}

	b.Run(context.Background(), devices(
		"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4",
		"10.0.0.5", "10.0.0.6", "10.0.0.7", "10.0.0.8"))

	if fp.maxSeen > 2 {
		t.Errorf("saw %d concurrent probes, want at most 2", fp.maxSeen)
	}
}

func TestBatchRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fp := &fakeProber{up: map[string]bool{}}
	b := &Batch{Prober: fp, Workers: 1, Log: zap.NewNop()}

	results := b.Run(ctx, devices("10.0.0.1", "10.0.0.2"))
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if r.Success {
			t.Errorf("result %d succeeded under cancelled context", i)
		}
	}
}

func TestSystemProberArgs(t *testing.T) {
	p := &SystemProber{Timeout: 3 * time.Second}
	args := p.args("192.168.1.1")
	if len(args) == 0 || args[len(args)-1] != "192.168.1.1" {
		t.Fatalf("address must be last arg, got %v", args)
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{
			name: "linux timeout",
			out:  "PING 10.0.0.9 (10.0.0.9) 56(84) bytes of data.\n\n--- 10.0.0.9 ping statistics ---\n1 packets transmitted, 0 received, 100% packet loss, time 0ms\n",
			want: "request timed out",
		},
		{
			name: "linux unreachable",
			out:  "From 10.0.0.1 icmp_seq=1 Destination Host Unreachable\n\n--- 10.0.0.9 ping statistics ---\n1 packets transmitted, 0 received, +1 errors, 100% packet loss, time 0ms\n",
			want: "host unreachable",
		},
		{
			name: "windows timeout",
			out:  "Pinging 10.0.0.9 with 32 bytes of data:\nRequest timed out.\n",
			want: "request timed out",
		},
		{
			name: "unknown host",
			out:  "ping: no-such-host: Name or service not known\n",
			want: "host unreachable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyFailure([]byte(tt.out)); got != tt.want {
				t.Errorf("classifyFailure = %q, want %q", got, tt.want)
			}
		})
	}
}
