package services

import (
	"context"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type ProcessStats struct {
	RSSBytes          int64   `json:"rssBytes"`
	SystemMemoryTotal int64   `json:"systemMemoryTotalBytes"`
	SystemMemoryUsed  int64   `json:"systemMemoryUsedBytes"`
	DiskTotalBytes    int64   `json:"diskTotalBytes"`
	DiskUsedBytes     int64   `json:"diskUsedBytes"`
	ProcessCpuLoad    float64 `json:"processCpuLoad"`
	SystemCpuLoad     float64 `json:"systemCpuLoad"`
}

type HealthReport struct {
	Service    string       `json:"service"`
	Status     string       `json:"status"`
	Database   string       `json:"database,omitempty"`
	CheckedAt  time.Time    `json:"checkedAt"`
	UptimeSecs int64        `json:"uptimeSeconds"`
	Process    ProcessStats `json:"process"`
}

// CaptureStats samples the current process and host. Samplers that fail leave
// their fields at zero.
func CaptureStats(diskPath string) ProcessStats {
	stats := ProcessStats{}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, _ := proc.MemoryInfo(); info != nil {
			stats.RSSBytes = int64(info.RSS)
		}
		if perc, err := proc.CPUPercent(); err == nil {
			stats.ProcessCpuLoad = perc / 100.0
		}
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		stats.SystemMemoryTotal = int64(memStat.Total)
		stats.SystemMemoryUsed = int64(memStat.Total - memStat.Available)
	}
	if diskPath == "" {
		diskPath = "/"
	}
	diskStat, err := disk.Usage(diskPath)
	if err != nil {
		diskStat, err = disk.Usage("/")
	}
	if err == nil {
		stats.DiskTotalBytes = int64(diskStat.Total)
		stats.DiskUsedBytes = int64(diskStat.Used)
	}
	if sysCPU, err := cpu.Percent(0, false); err == nil && len(sysCPU) > 0 {
		stats.SystemCpuLoad = sysCPU[0] / 100.0
	}
	return stats
}

// CheckHealth reports "ok" when the service's database answers, "degraded"
// otherwise. db may be nil for processes without storage.
func CheckHealth(ctx context.Context, service string, db *sqlx.DB, started time.Time, diskPath string) HealthReport {
	report := HealthReport{
		Service:    service,
		Status:     "ok",
		CheckedAt:  time.Now().UTC(),
		UptimeSecs: int64(time.Since(started).Seconds()),
		Process:    CaptureStats(diskPath),
	}
	if db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			report.Status = "degraded"
			report.Database = "unreachable"
		} else {
			report.Database = "connected"
		}
	}
	return report
}
