package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"github.com/jmylchreest/streamrelay/internal/ffmpeg"
)

// FFmpegInfoProvider provides FFmpeg binary information.
type FFmpegInfoProvider interface {
	Detect(ctx context.Context) (*ffmpeg.BinaryInfo, error)
}

// SystemHandler handles system information endpoints.
type SystemHandler struct {
	hls            HLSFiles
	ffmpegProvider FFmpegInfoProvider
	hostname       string

	mu          sync.Mutex
	lastNet     *net.IOCountersStat
	lastNetTime time.Time
}

// NewSystemHandler creates a new system handler. Disk usage is reported
// for the HLS base directory.
func NewSystemHandler(hls HLSFiles) *SystemHandler {
	hostname, _ := os.Hostname()
	return &SystemHandler{
		hls:      hls,
		hostname: hostname,
	}
}

// WithFFmpegProvider sets the FFmpeg binary detector.
func (h *SystemHandler) WithFFmpegProvider(provider FFmpegInfoProvider) *SystemHandler {
	h.ffmpegProvider = provider
	return h
}

// SystemStatsInput is the input for the system stats endpoint.
type SystemStatsInput struct{}

// SystemStatsOutput is the output for the system stats endpoint.
type SystemStatsOutput struct {
	Body SystemStatsResponse
}

// SystemStatsResponse holds host resource usage.
type SystemStatsResponse struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Arch          string    `json:"arch"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	CPUCores      int       `json:"cpu_cores"`
	CPUPercent    float64   `json:"cpu_percent"`
	CPUPerCore    []float64 `json:"cpu_per_core,omitempty"`

	LoadAvg1  float64 `json:"load_avg_1m"`
	LoadAvg5  float64 `json:"load_avg_5m"`
	LoadAvg15 float64 `json:"load_avg_15m"`

	MemoryTotalBytes     uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes      uint64  `json:"memory_used_bytes"`
	MemoryAvailableBytes uint64  `json:"memory_available_bytes"`
	MemoryPercent        float64 `json:"memory_percent"`

	Disk DiskUsage `json:"disk" doc:"Usage of the filesystem holding HLS output"`

	NetworkBytesSent   uint64  `json:"network_bytes_sent"`
	NetworkBytesRecv   uint64  `json:"network_bytes_recv"`
	NetworkSendRateBps float64 `json:"network_send_rate_bps"`
	NetworkRecvRateBps float64 `json:"network_recv_rate_bps"`

	FFmpeg *FFmpegInfo `json:"ffmpeg,omitempty"`
}

// DiskUsage is the usage of one filesystem path.
type DiskUsage struct {
	Path           string  `json:"path"`
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// FFmpegInfo describes the detected ffmpeg installation.
type FFmpegInfo struct {
	Available   bool   `json:"available"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
	FFprobePath string `json:"ffprobe_path,omitempty"`
	Version     string `json:"version,omitempty"`
	HasLibx264  bool   `json:"has_libx264"`
	HasLibx265  bool   `json:"has_libx265"`
	HasAAC      bool   `json:"has_aac"`
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystemStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/system/stats",
		Summary:     "Get system stats",
		Description: "Returns CPU, memory, load, network and HLS disk usage of the host",
		Tags:        []string{"System"},
	}, h.GetStats)
}

// GetStats collects current system statistics.
func (h *SystemHandler) GetStats(ctx context.Context, input *SystemStatsInput) (*SystemStatsOutput, error) {
	stats := SystemStatsResponse{
		Hostname: h.hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		stats.UptimeSeconds = uptime
	}

	if cpuCounts, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats.CPUCores = cpuCounts
	}
	if cpuPercents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercents) > 0 {
		stats.CPUPercent = cpuPercents[0]
	}
	if cpuPerCore, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		stats.CPUPerCore = cpuPerCore
	}

	if loadAvg, err := load.AvgWithContext(ctx); err == nil {
		stats.LoadAvg1 = loadAvg.Load1
		stats.LoadAvg5 = loadAvg.Load5
		stats.LoadAvg15 = loadAvg.Load15
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryTotalBytes = memInfo.Total
		stats.MemoryUsedBytes = memInfo.Used
		stats.MemoryAvailableBytes = memInfo.Available
		stats.MemoryPercent = memInfo.UsedPercent
	}

	stats.Disk = h.diskUsage(ctx)
	h.networkStats(ctx, &stats)

	if h.ffmpegProvider != nil {
		stats.FFmpeg = h.ffmpegInfo(ctx)
	}

	return &SystemStatsOutput{Body: stats}, nil
}

func (h *SystemHandler) diskUsage(ctx context.Context) DiskUsage {
	var path string
	if h.hls != nil {
		path = h.hls.BaseDir()
	}
	if path == "" {
		path, _ = os.Getwd()
	}

	usage := DiskUsage{Path: path}
	if diskInfo, err := disk.UsageWithContext(ctx, path); err == nil {
		usage.TotalBytes = diskInfo.Total
		usage.UsedBytes = diskInfo.Used
		usage.AvailableBytes = diskInfo.Free
		usage.UsedPercent = diskInfo.UsedPercent
	}
	return usage
}

// networkStats fills totals and, from the second call on, rates since the
// previous call.
func (h *SystemHandler) networkStats(ctx context.Context, stats *SystemStatsResponse) {
	netStats, err := net.IOCountersWithContext(ctx, false)
	if err != nil || len(netStats) == 0 {
		return
	}
	current := netStats[0]
	stats.NetworkBytesSent = current.BytesSent
	stats.NetworkBytesRecv = current.BytesRecv

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if h.lastNet != nil {
		elapsed := now.Sub(h.lastNetTime).Seconds()
		if elapsed > 0 && current.BytesSent >= h.lastNet.BytesSent && current.BytesRecv >= h.lastNet.BytesRecv {
			stats.NetworkSendRateBps = float64(current.BytesSent-h.lastNet.BytesSent) / elapsed
			stats.NetworkRecvRateBps = float64(current.BytesRecv-h.lastNet.BytesRecv) / elapsed
		}
	}
	h.lastNet = &current
	h.lastNetTime = now
}

func (h *SystemHandler) ffmpegInfo(ctx context.Context) *FFmpegInfo {
	info, err := h.ffmpegProvider.Detect(ctx)
	if err != nil || info == nil {
		return &FFmpegInfo{Available: false}
	}
	return &FFmpegInfo{
		Available:   true,
		FFmpegPath:  info.FFmpegPath,
		FFprobePath: info.FFprobePath,
		Version:     info.Version,
		HasLibx264:  info.HasEncoder("libx264"),
		HasLibx265:  info.HasEncoder("libx265"),
		HasAAC:      info.HasEncoder("aac"),
	}
}
