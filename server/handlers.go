package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ftahirops/pingmon/analytics"
	"github.com/ftahirops/pingmon/engine"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"service":        s.engine.Running(),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", maxResultLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxResultLimit {
		limit = maxResultLimit
	}

	results, err := s.snap.Latest(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	days := queryInt(r, "days", 7)
	if days < 1 {
		days = 1
	}
	if days > analytics.MaxRangeDays {
		days = analytics.MaxRangeDays
	}

	results, err := s.snap.Device(id, days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(results) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no results for device %d", id))
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"device_id": id,
		"count":     len(results),
		"results":   results,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("device_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid device id")
			return
		}
		stats, err := s.snap.StatisticsFor(id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeData(w, http.StatusOK, stats)
		return
	}

	stats, err := s.snap.Statistics()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.snap.Statistics()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"statistics": stats,
		"service":    s.engine.Status(),
		"timeouts":   s.trk.Summarize(),
	})
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	down, err := s.snap.Offline()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"count":   len(down),
		"devices": down,
	})
}

func (s *Server) handleTestProbe(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		s.writeError(w, http.StatusBadRequest, "address required")
		return
	}
	s.writeData(w, http.StatusOK, s.engine.TestProbe(r.Context(), address))
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	// The loop must outlive this request.
	if err := s.engine.Start(context.Background()); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"message": "monitoring started"})
}

func (s *Server) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"message": "monitoring stopped"})
}

func (s *Server) handleCSVFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.snap.Files()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"count": len(files),
		"files": files,
	})
}

func (s *Server) handleCSVRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RunCycle(r.Context()); err != nil {
		if errors.Is(err, engine.ErrCycleInProgress) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"message": "snapshot rebuilt"})
}

func (s *Server) handleDBMonitoring(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, s.recon.Status())
}

func (s *Server) handleDBReload(w http.ResponseWriter, r *http.Request) {
	changed, err := s.recon.Refresh(r.Context(), true)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"reloaded": changed,
		"status":   s.recon.Status(),
	})
}

func (s *Server) handleTimeoutSummary(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, s.trk.Summarize())
}

func (s *Server) handleTimeoutDevices(w http.ResponseWriter, r *http.Request) {
	entries := s.trk.Entries()
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"devices": entries,
	})
}

func (s *Server) handleTimeoutCritical(w http.ResponseWriter, r *http.Request) {
	entries := s.trk.Critical()
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"count":     len(entries),
		"threshold": s.trk.Threshold(),
		"devices":   entries,
	})
}

func (s *Server) handleTimeoutReport(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	sum := s.trk.Summarize()
	fmt.Fprintf(&b, "Timeout report\n")
	fmt.Fprintf(&b, "Tracked devices : %d\n", sum.TotalTracked)
	fmt.Fprintf(&b, "Critical (>=%d) : %d\n", sum.AlertThreshold, sum.CriticalCount)
	fmt.Fprintf(&b, "Longest streak  : %d\n", sum.MaxStreak)
	for _, e := range s.trk.Critical() {
		fmt.Fprintf(&b, "- %s (%s): %d consecutive timeouts since %s\n",
			e.Hostname, e.IP, e.Count, e.FirstTimeout)
	}
	s.writeData(w, http.StatusOK, map[string]string{"report": b.String()})
}

func (s *Server) handleTimeoutReset(w http.ResponseWriter, r *http.Request) {
	if err := s.trk.Reset(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"message": "tracking reset"})
}

func (s *Server) handleAnalyticsChart(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	if hours < 1 {
		hours = 1
	}
	if hours > analytics.MaxRangeHours {
		hours = analytics.MaxRangeHours
	}
	interval := queryInt(r, "interval", 0)

	points, err := s.ana.Range(hours)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if interval > 0 {
		buckets := analytics.Bucket(points, interval)
		s.writeData(w, http.StatusOK, map[string]interface{}{
			"hours":    hours,
			"interval": interval,
			"count":    len(buckets),
			"points":   buckets,
		})
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"hours":  hours,
		"count":  len(points),
		"points": points,
	})
}

func (s *Server) handleAnalyticsMultiDay(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < 1 {
		days = 1
	}
	if days > analytics.MaxRangeDays {
		days = analytics.MaxRangeDays
	}
	summaries, err := s.ana.RangeDays(days)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"days":      days,
		"count":     len(summaries),
		"summaries": summaries,
	})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ana.Summarize()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, sum)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	recs := s.inc.Records()
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"count":     len(recs),
		"incidents": recs,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
