package ffmpeg

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage of one ffmpeg process.
type ProcessStats struct {
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSS     uint64  `json:"memory_rss_bytes"`
	MemoryPercent float32 `json:"memory_percent"`
	NumThreads    int32   `json:"num_threads,omitempty"`
}

// StatsForPID samples CPU and memory usage of a process. The CPU figure is
// averaged over the process lifetime.
func StatsForPID(ctx context.Context, pid int) (ProcessStats, error) {
	stats := ProcessStats{PID: pid}
	if pid <= 0 {
		return stats, fmt.Errorf("invalid pid %d", pid)
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return stats, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}
	if pct, err := proc.MemoryPercentWithContext(ctx); err == nil {
		stats.MemoryPercent = pct
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = threads
	}

	return stats, nil
}
