package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"av1-worker/pkg/models"
)

// Busy thresholds used by Health.
const (
	busyCPUPercent = 80.0
	busyRAMPercent = 90.0
)

// SystemMonitor reports host facts used for thread and job sizing.
type SystemMonitor struct {
	specs models.HostSpecs
	once  sync.Once

	sampleWindow time.Duration
}

func NewSystemMonitor() *SystemMonitor {
	return &SystemMonitor{sampleWindow: 500 * time.Millisecond}
}

// Specs runs once to discover static hardware facts.
// Hardware does not change at runtime, so the answer is cached.
func (m *SystemMonitor) Specs(ctx context.Context) models.HostSpecs {
	m.once.Do(func() {
		m.specs = gatherSpecs(ctx)
	})
	return m.specs
}

// Threads returns the logical CPU count, never less than 1.
func (m *SystemMonitor) Threads(ctx context.Context) int {
	if n := m.Specs(ctx).TotalThreads; n > 0 {
		return n
	}
	return 1
}

// Health gathers real-time CPU and RAM usage.
func (m *SystemMonitor) Health(ctx context.Context) (models.SystemHealth, error) {
	health := models.SystemHealth{}

	// 1. Memory
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return health, fmt.Errorf("failed to get mem stats: %w", err)
	}
	health.RAMPercent = v.UsedPercent
	health.RAMFreeBytes = v.Available

	// 2. CPU over a short window; an instant reading is too noisy.
	cpuPct, err := cpu.PercentWithContext(ctx, m.sampleWindow, false)
	if err != nil {
		return health, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		health.CPUPercent = cpuPct[0]
	}

	// 3. Busy when either resource is close to saturation.
	health.IsBusy = health.CPUPercent > busyCPUPercent || health.RAMPercent > busyRAMPercent
	return health, nil
}

func gatherSpecs(ctx context.Context) models.HostSpecs {
	specs := models.HostSpecs{
		CPUModel:     "Unknown CPU",
		TotalThreads: runtime.NumCPU(),
	}

	if info, err := cpu.InfoWithContext(ctx); err == nil && len(info) > 0 && info[0].ModelName != "" {
		specs.CPUModel = info[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		specs.TotalThreads = n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		specs.PhysicalCores = n
	}
	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		specs.TotalRAMBytes = v.Total
	}
	return specs
}
