package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/siegeup/hostagent/pkg/types"
)

const mib = 1024 * 1024

// handleStatus returns the polled snapshot of the host and every desired
// server annotated with its observed runtime state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	report := types.StatusReport{
		Hostname: hostname,
		Platform: normalizePlatform(runtime.GOOS),
		CPUUsage: cpuPercent(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		report.TotalMemMB = vm.Total / mib
		report.UsedMemMB = vm.Used / mib
	}

	for _, srv := range s.state.Servers() {
		status := types.ServerStatus{
			DesiredServer: srv,
			Commit:        s.commit,
			LaunchError:   s.super.LaunchError(srv.Port),
		}
		if child, ok := s.super.Child(srv.Port); ok {
			status.PID = child.PID
			status.Running = true
			status.MemoryMB = processRSSMB(child.PID)
		}
		report.Servers = append(report.Servers, status)
	}
	if report.Servers == nil {
		report.Servers = []types.ServerStatus{}
	}

	archives, err := s.builds.List()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list build versions")
	}
	if archives == nil {
		archives = []string{}
	}
	report.Archives = archives

	writeJSON(w, http.StatusOK, report)
}

// handleHealth is a plain liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// normalizePlatform maps GOOS to the platform names the orchestrator uses.
func normalizePlatform(goos string) string {
	switch goos {
	case "darwin":
		return "macos"
	default:
		return goos
	}
}

// cpuPercent returns the best-effort instantaneous CPU usage.
func cpuPercent() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

// processRSSMB returns a child's resident set size in MiB, 0 when the
// platform cannot report it.
func processRSSMB(pid int) float64 {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / mib
}
