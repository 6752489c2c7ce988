package domain

import "time"

// ContainerSnapshot is a point-in-time view of a container as reported by the
// engine. A refresh produces a new snapshot; existing ones are never mutated.
type ContainerSnapshot struct {
	ID            string                     `json:"id"`
	ShortID       string                     `json:"short_id"`
	Name          string                     `json:"name"`
	Image         string                     `json:"image"`
	ImageID       string                     `json:"image_id"`
	Status        string                     `json:"status"`
	State         string                     `json:"state"` // running, exited, etc.
	Created       time.Time                  `json:"created"`
	StartedAt     time.Time                  `json:"started_at"`
	FinishedAt    time.Time                  `json:"finished_at"`
	ExitCode      int                        `json:"exit_code"`
	Ports         map[string][]string        `json:"ports"`
	Mounts        []Mount                    `json:"mounts"`
	Networks      map[string]NetworkEndpoint `json:"networks"`
	Labels        map[string]string          `json:"labels"`
	Env           []string                   `json:"env"`
	Cmd           []string                   `json:"cmd"`
	Entrypoint    []string                   `json:"entrypoint"`
	WorkingDir    string                     `json:"working_dir"`
	RestartPolicy string                     `json:"restart_policy"`
	Resources     Resources                  `json:"resources"`
	Health        Health                     `json:"health"`
	LogPath       string                     `json:"log_path"`
	Driver        string                     `json:"driver"`
	Tty           bool                       `json:"tty"`
}

// Running reports whether the engine considers the container running.
func (c ContainerSnapshot) Running() bool {
	return c.State == "running"
}

type Mount struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
	RW          bool   `json:"rw"`
}

type NetworkEndpoint struct {
	NetworkID  string `json:"network_id"`
	IPAddress  string `json:"ip_address"`
	Gateway    string `json:"gateway"`
	MacAddress string `json:"mac_address"`
}

// Resources holds the limits configured on the container's host config.
type Resources struct {
	MemoryLimit      int64  `json:"memory_limit"`
	MemoryLimitHuman string `json:"memory_limit_human,omitempty"`
	CPUShares        int64  `json:"cpu_shares"`
	CPUQuota         int64  `json:"cpu_quota"`
	CPUPeriod        int64  `json:"cpu_period"`
	NanoCPUs         int64  `json:"nano_cpus"`
}

type Health struct {
	Status        string `json:"status"`
	FailingStreak int    `json:"failing_streak"`
}

// RawStats carries the counters of one engine stats read. CPU and memory
// percentages are derived from it by the gateway.
type RawStats struct {
	CPUTotal       uint64
	PreCPUTotal    uint64
	SystemUsage    uint64
	PreSystemUsage uint64
	OnlineCPUs     uint32
	PerCPUCount    int
	MemoryUsage    uint64
	MemoryLimit    uint64
	NetworkRx      uint64
	NetworkTx      uint64
	BlockRead      uint64
	BlockWrite     uint64
	PIDs           uint64
}

// ContainerStats is the computed resource usage of a single container.
type ContainerStats struct {
	ContainerID   string    `json:"container_id"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsage   uint64    `json:"memory_usage"`
	MemoryLimit   uint64    `json:"memory_limit"`
	MemoryPercent float64   `json:"memory_percent"`
	NetworkRx     uint64    `json:"network_rx"`
	NetworkTx     uint64    `json:"network_tx"`
	BlockRead     uint64    `json:"block_read"`
	BlockWrite    uint64    `json:"block_write"`
	PIDs          uint64    `json:"pids"`
	Timestamp     time.Time `json:"timestamp"`
}

// Process is one row of the container's process table.
type Process struct {
	PID     string `json:"pid"`
	User    string `json:"user"`
	Time    string `json:"time"`
	Command string `json:"command"`
	CPU     string `json:"cpu"`
	Memory  string `json:"memory"`
}

// LogOptions narrows a log read. Zero values mean "engine default".
type LogOptions struct {
	Tail       int
	Since      time.Time
	Until      time.Time
	Timestamps bool
}

type LogResult struct {
	ContainerID string `json:"container_id"`
	Logs        string `json:"logs"`
	Lines       int    `json:"lines_count"`
}
