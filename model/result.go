package model

import "time"

// Probe methods recorded on each result. The prober prefers unprivileged
// ICMP and falls back to the system ping utility when that path yields an
// ambiguous outcome.
const (
	MethodICMP       = "icmp"
	MethodSystemPing = "system-ping"
)

// ProbeResult is the outcome of one ICMP echo against one device.
//
// Invariant: Success implies ResponseTimeMs is set and ErrorMessage is
// empty; failure implies the reverse.
type ProbeResult struct {
	Timestamp      time.Time `json:"timestamp"`
	DeviceID       int64     `json:"device_id"`
	IPAddress      string    `json:"ip_address"`
	Hostname       string    `json:"hostname"`
	Success        bool      `json:"ping_success"`
	ResponseTimeMs *float64  `json:"response_time_ms"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Merk           string    `json:"merk"`
	OS             string    `json:"os"`
	Kondisi        string    `json:"kondisi"`
	LokasiID       int64     `json:"id_lokasi"`
	Method         string    `json:"method,omitempty"`
}

// ProbeStats aggregates one batch of results for logs and the statistics
// endpoint.
type ProbeStats struct {
	TotalDevices    int      `json:"total_devices"`
	SuccessfulPings int      `json:"successful_pings"`
	FailedPings     int      `json:"failed_pings"`
	SuccessRate     float64  `json:"success_rate"`
	AvgResponseMs   *float64 `json:"average_response_time_ms"`
	MinResponseMs   *float64 `json:"min_response_time_ms"`
	MaxResponseMs   *float64 `json:"max_response_time_ms"`
}

// Stats computes batch statistics over a result set.
func Stats(results []ProbeResult) ProbeStats {
	s := ProbeStats{TotalDevices: len(results)}
	if len(results) == 0 {
		return s
	}

	var sum, min, max float64
	var n int
	for _, r := range results {
		if !r.Success {
			s.FailedPings++
			continue
		}
		s.SuccessfulPings++
		if r.ResponseTimeMs == nil {
			continue
		}
		rt := *r.ResponseTimeMs
		sum += rt
		if n == 0 || rt < min {
			min = rt
		}
		if n == 0 || rt > max {
			max = rt
		}
		n++
	}

	s.SuccessRate = round2(float64(s.SuccessfulPings) / float64(s.TotalDevices) * 100)
	if n > 0 {
		avg := round2(sum / float64(n))
		mn, mx := round2(min), round2(max)
		s.AvgResponseMs = &avg
		s.MinResponseMs = &mn
		s.MaxResponseMs = &mx
	}
	return s
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
