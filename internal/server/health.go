package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// handleHealth is the cheap liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     s.cfg.Version,
		"environment": s.cfg.Environment,
		"timestamp":   time.Now().UnixMilli(),
	})
}

// handleHealthDetailed reports per-component status. Degraded components
// flip the overall status and the HTTP code to 503.
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	connections := atomic.LoadInt64(&s.clientCount)
	utilization := float64(connections) / float64(s.cfg.MaxConnections)

	wsStatus := "healthy"
	if utilization >= 0.9 {
		wsStatus = "degraded"
	}
	serverStatus := "healthy"
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		serverStatus = "degraded"
	}

	status := "healthy"
	code := http.StatusOK
	if wsStatus != "healthy" || serverStatus != "healthy" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"components": map[string]any{
			"server": map[string]any{
				"status":     serverStatus,
				"goroutines": runtime.NumGoroutine(),
			},
			"websocket": map[string]any{
				"status":            wsStatus,
				"activeConnections": connections,
				"maxConnections":    s.cfg.MaxConnections,
			},
			"sessions": map[string]any{
				"status": "healthy",
				"active": s.manager.Store().Count(),
			},
		},
		"timestamp": time.Now().UnixMilli(),
	})
}

// handleMetrics serves the operational JSON snapshot: uptime, system
// resources, connection and session gauges, plus the collector's
// counters and latency percentiles.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.collector.Snapshot()
	connections := atomic.LoadInt64(&s.clientCount)
	store := s.manager.Store()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"uptime": map[string]any{
				"seconds":   snap.UptimeSeconds,
				"formatted": formatUptime(snap.UptimeSeconds),
			},
			"system": systemStats(),
			"server": snap,
			"websocket": map[string]any{
				"activeConnections":     connections,
				"maxConnections":        s.cfg.MaxConnections,
				"connectionUtilization": float64(connections) / float64(s.cfg.MaxConnections),
			},
			"conversations": map[string]any{
				"activeSessions": store.Count(),
				"totalMessages":  store.TotalMessages(),
			},
			"timestamp": time.Now().UnixMilli(),
		},
	})
}

// systemStats samples process and host memory. Errors degrade to partial
// output rather than failing the endpoint.
func systemStats() map[string]any {
	out := map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"numCPU":     runtime.NumCPU(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			out["memory"] = map[string]any{
				"rssMB": float64(memInfo.RSS) / 1024 / 1024,
				"vmsMB": float64(memInfo.VMS) / 1024 / 1024,
			}
		}
		if cpuPercent, err := proc.CPUPercent(); err == nil {
			out["cpuPercent"] = cpuPercent
		}
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		out["hostMemory"] = map[string]any{
			"totalMB":     float64(vmem.Total) / 1024 / 1024,
			"usedMB":      float64(vmem.Used) / 1024 / 1024,
			"usedPercent": vmem.UsedPercent,
		}
	}

	return out
}

func formatUptime(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, secs)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
