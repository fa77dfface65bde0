// Package health watches the resources backups depend on: the staging
// volume, memory and CPU of the server host. It feeds the system health
// endpoint and gates backup admission on staging disk headroom.
package health

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics contains a point-in-time snapshot of host resources.
type Metrics struct {
	CPUUsage          float64 `json:"cpu_usage"`
	MemoryUsage       float64 `json:"memory_usage"`
	StagingDiskUsage  float64 `json:"staging_disk_usage"`
	StagingFreeBytes  int64   `json:"staging_free_bytes"`
	StagingTotalBytes int64   `json:"staging_total_bytes"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
}

// Monitor collects host metrics and answers the executor's staging
// headroom check.
type Monitor struct {
	startTime    time.Time
	stagingDir   string
	minFreeBytes int64
	checker      *Checker
}

// NewMonitor creates a monitor for the given staging directory, creating the
// directory if needed. minFreeBytes is the disk headroom required before
// another backup run is admitted; zero disables the floor.
func NewMonitor(stagingDir string, minFreeBytes int64, checker *Checker) (*Monitor, error) {
	if stagingDir == "" {
		return nil, fmt.Errorf("staging directory is required")
	}
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	if checker == nil {
		checker = NewCheckerWithDefaults()
	}
	return &Monitor{
		startTime:    time.Now(),
		stagingDir:   stagingDir,
		minFreeBytes: minFreeBytes,
		checker:      checker,
	}, nil
}

// Collect gathers host metrics. Collection is best effort: probes that fail
// leave their fields zero.
func (m *Monitor) Collect(ctx context.Context) *Metrics {
	metrics := &Metrics{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
	}

	// CPU usage, averaged over 1 second.
	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err == nil && len(cpuPercent) > 0 {
		metrics.CPUUsage = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		metrics.MemoryUsage = memStat.UsedPercent
	}

	diskStat, err := disk.UsageWithContext(ctx, m.stagingDir)
	if err == nil {
		metrics.StagingDiskUsage = diskStat.UsedPercent
		metrics.StagingFreeBytes = int64(diskStat.Free)
		metrics.StagingTotalBytes = int64(diskStat.Total)
	}

	return metrics
}

// Report collects a snapshot and evaluates it against the thresholds and the
// staging admission floor. It backs the system health endpoint.
func (m *Monitor) Report(ctx context.Context) (*Metrics, *CheckResult) {
	metrics := m.Collect(ctx)
	return metrics, m.checker.EvaluateWithStagingFloor(metrics, m.minFreeBytes)
}

// CheckStaging reports an error when the staging volume lacks the headroom
// for another backup run. The executor calls it before admitting a run.
func (m *Monitor) CheckStaging(ctx context.Context) error {
	usage, err := disk.UsageWithContext(ctx, m.stagingDir)
	if err != nil {
		return fmt.Errorf("stat staging volume: %w", err)
	}
	if m.minFreeBytes > 0 && usage.Free < uint64(m.minFreeBytes) {
		return fmt.Errorf("staging volume has %s free, need %s",
			formatBytes(int64(usage.Free)), formatBytes(m.minFreeBytes))
	}
	if usage.UsedPercent >= m.checker.thresholds.DiskCritical {
		return fmt.Errorf("staging volume %.1f%% full, ceiling is %.1f%%",
			usage.UsedPercent, m.checker.thresholds.DiskCritical)
	}
	return nil
}

// HostInfo returns static facts about the server host for the system
// health endpoint.
func HostInfo() map[string]string {
	hostname, _ := os.Hostname()
	return map[string]string{
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"hostname": hostname,
	}
}

func formatBytes(n int64) string {
	const (
		mib = 1 << 20
		gib = 1 << 30
	)
	if n >= gib {
		return fmt.Sprintf("%.1f GiB", float64(n)/gib)
	}
	return fmt.Sprintf("%.0f MiB", float64(n)/mib)
}
