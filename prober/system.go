package prober

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ftahirops/pingmon/model"
)

var rttPattern = regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`)

// SystemProber shells out to the platform ping utility. It exists as a
// fallback for hosts where unprivileged ICMP sockets are disabled.
type SystemProber struct {
	Timeout time.Duration
}

// Probe runs one ping and parses the reported round-trip time.
func (p *SystemProber) Probe(ctx context.Context, address string) (bool, *float64, string, string) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ping", p.args(address)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return false, nil, "request timed out", model.MethodSystemPing
		}
		return false, nil, classifyFailure(out), model.MethodSystemPing
	}

	if m := rttPattern.FindSubmatch(out); m != nil {
		if v, err := strconv.ParseFloat(string(m[1]), 64); err == nil {
			return true, &v, "", model.MethodSystemPing
		}
	}
	// Exit status zero without a parseable time still counts as alive.
	return true, nil, "", model.MethodSystemPing
}

// classifyFailure maps ping's output to an error message. Exit status
// alone cannot tell the cases apart: Linux ping exits 1 on a plain
// timeout as well as on an ICMP unreachable.
func classifyFailure(out []byte) string {
	s := string(out)
	if strings.Contains(s, "nreachable") {
		return "host unreachable"
	}
	if strings.Contains(s, "100% packet loss") || strings.Contains(s, "Request timed out") {
		return "request timed out"
	}
	return "host unreachable"
}

func (p *SystemProber) args(address string) []string {
	secs := int(p.Timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	if runtime.GOOS == "windows" {
		return []string{"-n", "1", "-w", strconv.Itoa(secs * 1000), address}
	}
	return []string{"-c", "1", "-W", fmt.Sprint(secs), address}
}
