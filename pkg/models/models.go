package models

import "time"

// --- Detection ---

// DetectionInfo is the encoder discovery snapshot shown by `av1 detect`
// and `av1 info`.
type DetectionInfo struct {
	Encoders     []EncoderStatus `json:"encoders"`
	Best         string          `json:"best,omitempty"`
	BestHardware string          `json:"best_hardware,omitempty"`
	AccelMethods []string        `json:"accel_methods,omitempty"` // ranked, e.g. ["qsv", "cuda"]
}

// EncoderStatus describes one available encoder.
type EncoderStatus struct {
	ID       string `json:"id"`    // e.g. "libsvtav1"
	Label    string `json:"label"` // e.g. "SVT-AV1"
	Hardware bool   `json:"hardware"`
	Rank     int    `json:"rank"` // 1 is preferred
}

// --- Host telemetry ---

// HostSpecs are immutable machine facts gathered once per process.
type HostSpecs struct {
	CPUModel      string `json:"cpu_model"`
	PhysicalCores int    `json:"physical_cores"`
	TotalThreads  int    `json:"total_threads"`
	TotalRAMBytes uint64 `json:"total_ram_bytes"`
}

// SystemHealth captures current CPU and memory load.
type SystemHealth struct {
	CPUPercent   float64 `json:"cpu_percent"`
	RAMPercent   float64 `json:"ram_percent"`
	RAMFreeBytes uint64  `json:"ram_free_bytes"`
	IsBusy       bool    `json:"is_busy"`
}

// --- Export notifications ---

// Export statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// ExportNotification is posted to the configured webhook after a save.
// Used in [POST] notify.url
type ExportNotification struct {
	Status     string    `json:"status"` // COMPLETED, FAILED
	Operation  string    `json:"operation"`
	Source     string    `json:"source"`
	Disk       string    `json:"disk,omitempty"`
	Path       string    `json:"path,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// --- Batch ---

// BatchOutcome summarizes one item of a batch run.
type BatchOutcome struct {
	Input    string        `json:"input"`
	Output   string        `json:"output,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Succeeded reports a clean run.
func (o BatchOutcome) Succeeded() bool {
	return o.Error == "" && o.ExitCode == 0
}
