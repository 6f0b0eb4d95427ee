// Package monitor exposes process statistics and Prometheus metrics.
package monitor

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Monitor collects host and process statistics.
type Monitor struct {
	startTime time.Time
	proc      *process.Process
}

// NewMonitor creates a monitor for the current process.
func NewMonitor() *Monitor {
	m := &Monitor{startTime: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	}
	return m
}

// ProcessInfo is the CPU and memory usage of this process.
type ProcessInfo struct {
	PID         int32   `json:"pid"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Memory      string  `json:"memory"`
}

// SystemStats is the payload of GET /api/stats/system.
type SystemStats struct {
	Hostname      string       `json:"hostname"`
	OS            string       `json:"os"`
	UptimeSeconds uint64       `json:"host_uptime_seconds"`
	CPUPercent    float64      `json:"cpu_percent"`
	CPUCores      int          `json:"cpu_cores"`
	MemoryTotal   uint64       `json:"memory_total"`
	MemoryUsed    uint64       `json:"memory_used"`
	MemoryPercent float64      `json:"memory_percent"`
	MemoryHuman   string       `json:"memory_human"`
	Process       *ProcessInfo `json:"process,omitempty"`
	Goroutines    int          `json:"goroutines"`
	GoHeapAlloc   uint64       `json:"go_heap_alloc"`
	ServiceUptime string       `json:"service_uptime"`
}

// GetProcessInfo returns resource usage of this process.
func (m *Monitor) GetProcessInfo() (*ProcessInfo, error) {
	if m.proc == nil {
		return nil, fmt.Errorf("process handle not available")
	}
	cpuPercent, err := m.proc.CPUPercent()
	if err != nil {
		return nil, fmt.Errorf("failed to read process cpu: %w", err)
	}
	memInfo, err := m.proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to read process memory: %w", err)
	}
	return &ProcessInfo{
		PID:         m.proc.Pid,
		CPUPercent:  cpuPercent,
		MemoryBytes: memInfo.RSS,
		Memory:      humanize.Bytes(memInfo.RSS),
	}, nil
}

// GetSystemStats samples host CPU and memory plus Go runtime figures.
func (m *Monitor) GetSystemStats() (*SystemStats, error) {
	stats := &SystemStats{
		OS:            runtime.GOOS,
		CPUCores:      runtime.NumCPU(),
		Goroutines:    runtime.NumGoroutine(),
		ServiceUptime: m.Uptime().Truncate(time.Second).String(),
	}

	if info, err := host.Info(); err == nil {
		stats.Hostname = info.Hostname
		stats.UptimeSeconds = info.Uptime
	}

	percents, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}
	stats.MemoryTotal = vm.Total
	stats.MemoryUsed = vm.Used
	stats.MemoryPercent = vm.UsedPercent
	stats.MemoryHuman = fmt.Sprintf("%s / %s", humanize.Bytes(vm.Used), humanize.Bytes(vm.Total))

	if p, err := m.GetProcessInfo(); err == nil {
		stats.Process = p
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.GoHeapAlloc = ms.HeapAlloc

	return stats, nil
}

// Uptime returns how long the monitor has existed.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}
