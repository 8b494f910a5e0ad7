// Package diagnostics reports read-only host resource usage for
// operational visibility. It never influences scheduling decisions — the
// Manager's concurrency limit is a fixed configuration value, not a
// function of observed load.
package diagnostics

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostHealth is a point-in-time snapshot of host resource usage.
type HostHealth struct {
	CPUPercent   float64 `json:"cpu_percent"`
	CPUCores     int     `json:"cpu_cores"`
	MemoryUsed   uint64  `json:"memory_used_bytes"`
	MemoryTotal  uint64  `json:"memory_total_bytes"`
	MemAvailable uint64  `json:"memory_available_bytes"`
}

// Snapshot gathers current CPU and memory usage. Errors reading either
// metric leave the corresponding fields zeroed rather than failing the
// whole snapshot — diagnostics are best-effort by nature.
func Snapshot() HostHealth {
	health := HostHealth{CPUCores: runtime.NumCPU()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		health.MemoryUsed = vm.Used
		health.MemoryTotal = vm.Total
		health.MemAvailable = vm.Available
	}

	return health
}
