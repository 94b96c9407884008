package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"

	"github.com/jmylchreest/streamrelay/internal/relay"
)

// SessionCounter reports live session counts and source breaker state.
type SessionCounter interface {
	Count() int
	CircuitStats() map[string]relay.CircuitStats
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	sessions  SessionCounter
	db        *gorm.DB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithSessions sets the session manager reported on.
func (h *HealthHandler) WithSessions(sessions SessionCounter) *HealthHandler {
	h.sessions = sessions
	return h
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status          string                 `json:"status" doc:"healthy or degraded"`
	Timestamp       string                 `json:"timestamp"`
	Version         string                 `json:"version"`
	Uptime          string                 `json:"uptime"`
	UptimeSeconds   float64                `json:"uptime_seconds"`
	Sessions        int                    `json:"sessions" doc:"Number of live sessions"`
	CPUInfo         CPUInfo                `json:"cpu_info"`
	Memory          MemoryInfo             `json:"memory"`
	Database        DatabaseHealth         `json:"database"`
	CircuitBreakers []CircuitBreakerStatus `json:"circuit_breakers,omitempty"`
}

// CPUInfo holds host load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds host and process memory usage in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo holds memory of this process and its ffmpeg children.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DatabaseHealth reports the history store connection.
type DatabaseHealth struct {
	Status             string  `json:"status" doc:"ok, error or disabled"`
	ConnectionPoolSize int     `json:"connection_pool_size,omitempty"`
	ActiveConnections  int     `json:"active_connections,omitempty"`
	IdleConnections    int     `json:"idle_connections,omitempty"`
	ResponseTimeMS     float64 `json:"response_time_ms,omitempty"`
}

// CircuitBreakerStatus is the breaker state of one input source.
type CircuitBreakerStatus struct {
	Source   string `json:"source"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       h.getCPUInfo(ctx),
		Memory:        h.getMemoryInfo(ctx),
		Database:      h.getDatabaseHealth(ctx),
	}

	if h.sessions != nil {
		resp.Sessions = h.sessions.Count()
		for source, s := range h.sessions.CircuitStats() {
			resp.CircuitBreakers = append(resp.CircuitBreakers, CircuitBreakerStatus{
				Source:   source,
				State:    s.State,
				Failures: s.Failures,
			})
		}
		sort.Slice(resp.CircuitBreakers, func(i, j int) bool {
			return resp.CircuitBreakers[i].Source < resp.CircuitBreakers[j].Source
		})
	}

	if resp.Database.Status == "error" {
		resp.Status = "degraded"
	}

	return &HealthOutput{Body: resp}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo(ctx context.Context) CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.AvgWithContext(ctx)
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}
	return info
}

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo(ctx context.Context) MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = bytesToMB(vmStat.Total)
		info.UsedMemoryMB = bytesToMB(vmStat.Used)
		info.AvailableMemoryMB = bytesToMB(vmStat.Available)
	}

	info.ProcessMemory = h.getProcessMemoryInfo(ctx, info.TotalMemoryMB)
	return info
}

// getProcessMemoryInfo sums RSS over this process and its children, which
// are the ffmpeg processes of live sessions.
func (h *HealthHandler) getProcessMemoryInfo(ctx context.Context, totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err == nil && memInfo != nil {
		info.MainProcessMB = bytesToMB(memInfo.RSS)
		info.TotalProcessTreeMB = info.MainProcessMB
	}

	children, err := proc.ChildrenWithContext(ctx)
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfoWithContext(ctx)
			if err == nil && childMem != nil {
				childMB := bytesToMB(childMem.RSS)
				info.ChildProcessesMB += childMB
				info.TotalProcessTreeMB += childMB
			}
		}
	}

	if totalSystemMB > 0 {
		info.PercentageOfSystem = (info.TotalProcessTreeMB / totalSystemMB) * 100
	}
	return info
}

// getDatabaseHealth returns database health information.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "disabled"}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "error"}
	}

	stats := sqlDB.Stats()
	health := DatabaseHealth{
		Status:             "ok",
		ConnectionPoolSize: stats.MaxOpenConnections,
		ActiveConnections:  stats.InUse,
		IdleConnections:    stats.Idle,
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}
	return health
}

func bytesToMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
