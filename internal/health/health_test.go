package health

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()

	if th.DiskWarning != 80.0 {
		t.Errorf("expected DiskWarning 80.0, got %f", th.DiskWarning)
	}
	if th.DiskCritical != 90.0 {
		t.Errorf("expected DiskCritical 90.0, got %f", th.DiskCritical)
	}
	if th.MemoryWarning != 85.0 {
		t.Errorf("expected MemoryWarning 85.0, got %f", th.MemoryWarning)
	}
	if th.MemoryCritical != 95.0 {
		t.Errorf("expected MemoryCritical 95.0, got %f", th.MemoryCritical)
	}
	if th.CPUWarning != 80.0 {
		t.Errorf("expected CPUWarning 80.0, got %f", th.CPUWarning)
	}
	if th.CPUCritical != 95.0 {
		t.Errorf("expected CPUCritical 95.0, got %f", th.CPUCritical)
	}
}

func TestNewChecker(t *testing.T) {
	th := Thresholds{DiskWarning: 50.0, DiskCritical: 75.0}
	c := NewChecker(th)

	if c.thresholds.DiskWarning != 50.0 {
		t.Errorf("expected custom DiskWarning 50.0, got %f", c.thresholds.DiskWarning)
	}
}

func TestEvaluateMetrics_NilMetrics(t *testing.T) {
	c := NewCheckerWithDefaults()
	result := c.EvaluateMetrics(nil)

	if result.Status != StatusUnknown {
		t.Errorf("expected StatusUnknown, got %q", result.Status)
	}
	if result.Message != "No metrics available" {
		t.Errorf("expected 'No metrics available', got %q", result.Message)
	}
}

func TestEvaluateMetrics_AllHealthy(t *testing.T) {
	c := NewCheckerWithDefaults()
	m := &Metrics{
		CPUUsage:          30.0,
		MemoryUsage:       50.0,
		StagingDiskUsage:  40.0,
		StagingFreeBytes:  100_000_000_000,
		StagingTotalBytes: 200_000_000_000,
		UptimeSeconds:     3600,
	}

	result := c.EvaluateMetrics(m)

	if result.Status != StatusHealthy {
		t.Errorf("expected StatusHealthy, got %q", result.Status)
	}
	if result.Message != "All systems operational" {
		t.Errorf("expected 'All systems operational', got %q", result.Message)
	}
	if len(result.Issues) != 0 {
		t.Errorf("expected 0 issues, got %d", len(result.Issues))
	}
	if result.CheckedAt.IsZero() {
		t.Error("expected CheckedAt to be set")
	}
}

func TestEvaluateMetrics_StagingWarning(t *testing.T) {
	c := NewCheckerWithDefaults()
	result := c.EvaluateMetrics(&Metrics{StagingDiskUsage: 85.0})

	if result.Status != StatusWarning {
		t.Errorf("expected StatusWarning, got %q", result.Status)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(result.Issues))
	}
	if result.Issues[0].Component != "staging" {
		t.Errorf("expected staging issue, got %q", result.Issues[0].Component)
	}
	if result.Issues[0].Value != 85.0 {
		t.Errorf("expected value 85.0, got %f", result.Issues[0].Value)
	}
	if result.Issues[0].Threshold != 80.0 {
		t.Errorf("expected threshold 80.0, got %f", result.Issues[0].Threshold)
	}
}

func TestEvaluateMetrics_StagingCritical(t *testing.T) {
	c := NewCheckerWithDefaults()
	result := c.EvaluateMetrics(&Metrics{StagingDiskUsage: 95.0})

	if result.Status != StatusCritical {
		t.Errorf("expected StatusCritical, got %q", result.Status)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(result.Issues))
	}
	if result.Issues[0].Severity != StatusCritical {
		t.Errorf("expected critical severity, got %q", result.Issues[0].Severity)
	}
}

func TestEvaluateMetrics_MemoryAndCPU(t *testing.T) {
	c := NewCheckerWithDefaults()
	result := c.EvaluateMetrics(&Metrics{MemoryUsage: 90.0, CPUUsage: 96.0})

	if result.Status != StatusCritical {
		t.Errorf("expected StatusCritical, got %q", result.Status)
	}
	if len(result.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(result.Issues))
	}
	components := map[string]Status{}
	for _, issue := range result.Issues {
		components[issue.Component] = issue.Severity
	}
	if components["memory"] != StatusWarning {
		t.Errorf("expected memory warning, got %q", components["memory"])
	}
	if components["cpu"] != StatusCritical {
		t.Errorf("expected cpu critical, got %q", components["cpu"])
	}
}

func TestEvaluateWithStagingFloor(t *testing.T) {
	c := NewCheckerWithDefaults()
	m := &Metrics{
		StagingDiskUsage: 40.0,
		StagingFreeBytes: 100 << 20,
	}

	result := c.EvaluateWithStagingFloor(m, 512<<20)

	if result.Status != StatusCritical {
		t.Errorf("expected StatusCritical, got %q", result.Status)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(result.Issues))
	}
	if result.Issues[0].Component != "staging" {
		t.Errorf("expected staging issue, got %q", result.Issues[0].Component)
	}
	if result.Issues[0].Threshold != float64(512<<20) {
		t.Errorf("expected threshold %d, got %f", 512<<20, result.Issues[0].Threshold)
	}
}

func TestEvaluateWithStagingFloor_Disabled(t *testing.T) {
	c := NewCheckerWithDefaults()
	m := &Metrics{StagingFreeBytes: 100 << 20}

	result := c.EvaluateWithStagingFloor(m, 0)

	if result.Status != StatusHealthy {
		t.Errorf("expected StatusHealthy with floor disabled, got %q", result.Status)
	}
}

func TestNewMonitor(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	m, err := NewMonitor(dir, 1, nil)
	if err != nil {
		t.Fatalf("NewMonitor() returned error: %v", err)
	}
	if m.startTime.IsZero() {
		t.Error("expected startTime to be set")
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("expected staging dir to be created: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected staging path to be a directory")
	}
}

func TestNewMonitor_EmptyDir(t *testing.T) {
	if _, err := NewMonitor("", 1, nil); err == nil {
		t.Fatal("expected error for empty staging dir")
	}
}

func TestMonitorCollect(t *testing.T) {
	m, err := NewMonitor(t.TempDir(), 1, nil)
	if err != nil {
		t.Fatalf("NewMonitor() returned error: %v", err)
	}

	metrics := m.Collect(context.Background())

	if metrics.UptimeSeconds < 0 {
		t.Errorf("expected non-negative uptime, got %d", metrics.UptimeSeconds)
	}
	if metrics.StagingTotalBytes <= 0 {
		t.Errorf("expected staging volume size, got %d", metrics.StagingTotalBytes)
	}
	if metrics.MemoryUsage <= 0 || metrics.MemoryUsage > 100 {
		t.Errorf("expected memory usage in (0,100], got %f", metrics.MemoryUsage)
	}
}

func TestMonitorCheckStaging(t *testing.T) {
	m, err := NewMonitor(t.TempDir(), 1, nil)
	if err != nil {
		t.Fatalf("NewMonitor() returned error: %v", err)
	}

	if err := m.CheckStaging(context.Background()); err != nil {
		t.Errorf("expected staging check to pass, got %v", err)
	}
}

func TestMonitorCheckStaging_BelowFloor(t *testing.T) {
	m, err := NewMonitor(t.TempDir(), 1<<62, nil)
	if err != nil {
		t.Fatalf("NewMonitor() returned error: %v", err)
	}

	checkErr := m.CheckStaging(context.Background())
	if checkErr == nil {
		t.Fatal("expected staging check to fail below the floor")
	}
	if !strings.Contains(checkErr.Error(), "free, need") {
		t.Errorf("expected headroom message, got %q", checkErr.Error())
	}
}

func TestMonitorCheckStaging_MissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	m, err := NewMonitor(dir, 1, nil)
	if err != nil {
		t.Fatalf("NewMonitor() returned error: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("failed to remove staging dir: %v", err)
	}

	if err := m.CheckStaging(context.Background()); err == nil {
		t.Fatal("expected staging check to fail for a missing directory")
	}
}

func TestMonitorReport(t *testing.T) {
	m, err := NewMonitor(t.TempDir(), 1<<62, nil)
	if err != nil {
		t.Fatalf("NewMonitor() returned error: %v", err)
	}

	metrics, result := m.Report(context.Background())

	if metrics == nil {
		t.Fatal("expected metrics")
	}
	if result.Status != StatusCritical {
		t.Errorf("expected StatusCritical below the floor, got %q", result.Status)
	}
	found := false
	for _, issue := range result.Issues {
		if issue.Component == "staging" && issue.Severity == StatusCritical {
			found = true
		}
	}
	if !found {
		t.Error("expected a critical staging issue")
	}
}

func TestHostInfo(t *testing.T) {
	info := HostInfo()

	if info["os"] == "" {
		t.Error("expected non-empty os")
	}
	if info["arch"] == "" {
		t.Error("expected non-empty arch")
	}
	if _, ok := info["hostname"]; !ok {
		t.Error("expected hostname key")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{512 << 20, "512 MiB"},
		{1 << 30, "1.0 GiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.input); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
