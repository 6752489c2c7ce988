package domain

import "time"

// MetricSnapshot is one host-wide sample.
type MetricSnapshot struct {
	Timestamp     time.Time       `json:"timestamp"`
	CPUPercent    float64         `json:"cpu_percent"`
	MemoryPercent float64         `json:"memory_percent"`
	DiskPercent   float64         `json:"disk_usage"`
	Network       NetworkCounters `json:"network_io"`
	LoadAverage   [3]float64      `json:"load_average"`
	Uptime        time.Duration   `json:"uptime"`
}

type NetworkCounters struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// PerformanceBaseline is the mean of the most recent samples at ComputedAt.
type PerformanceBaseline struct {
	CPU        float64   `json:"cpu"`
	Memory     float64   `json:"memory"`
	Disk       float64   `json:"disk"`
	Samples    int       `json:"samples"`
	ComputedAt time.Time `json:"computed_at"`
}

// Thresholds are alert limits in percent.
type Thresholds struct {
	CPU    float64 `json:"cpu" yaml:"cpu"`
	Memory float64 `json:"memory" yaml:"memory"`
	Disk   float64 `json:"disk" yaml:"disk"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 80, Memory: 85, Disk: 90}
}
