// Package hostinfo samples host-wide resource usage from procfs and statfs.
package hostinfo

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

// cpuReading is cumulative CPU time in seconds.
type cpuReading struct {
	busy float64
	idle float64
}

// Probe implements ports.HostProbe. CPU usage is the busy share between two
// consecutive samples; the first sample reports the average since boot.
type Probe struct {
	fs       procfs.FS
	diskPath string
	clock    clockwork.Clock

	mu   sync.Mutex
	prev cpuReading
}

var _ ports.HostProbe = (*Probe)(nil)

func NewProbe(procPath, diskPath string, clock clockwork.Clock) (*Probe, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", procPath, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Probe{fs: fs, diskPath: diskPath, clock: clock}, nil
}

func (p *Probe) Sample(ctx context.Context) (domain.MetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.MetricSnapshot{}, err
	}
	now := p.clock.Now()
	snap := domain.MetricSnapshot{Timestamp: now}

	stat, err := p.fs.Stat()
	if err != nil {
		return snap, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	snap.CPUPercent = p.cpuPercent(stat.CPUTotal)
	if stat.BootTime > 0 {
		snap.Uptime = now.Sub(time.Unix(int64(stat.BootTime), 0)).Truncate(time.Second)
	}

	mem, err := p.fs.Meminfo()
	if err != nil {
		return snap, fmt.Errorf("failed to read meminfo: %w", err)
	}
	snap.MemoryPercent = memoryPercent(mem)

	load, err := p.fs.LoadAvg()
	if err != nil {
		return snap, fmt.Errorf("failed to read load average: %w", err)
	}
	snap.LoadAverage = [3]float64{load.Load1, load.Load5, load.Load15}

	dev, err := p.fs.NetDev()
	if err != nil {
		return snap, fmt.Errorf("failed to read network counters: %w", err)
	}
	total := dev.Total()
	snap.Network = domain.NetworkCounters{
		BytesSent:   total.TxBytes,
		BytesRecv:   total.RxBytes,
		PacketsSent: total.TxPackets,
		PacketsRecv: total.RxPackets,
	}

	disk, err := diskPercent(p.diskPath)
	if err != nil {
		return snap, err
	}
	snap.DiskPercent = disk
	return snap, nil
}

func (p *Probe) cpuPercent(s procfs.CPUStat) float64 {
	cur := cpuReading{
		busy: s.User + s.Nice + s.System + s.IRQ + s.SoftIRQ + s.Steal,
		idle: s.Idle + s.Iowait,
	}

	p.mu.Lock()
	prev := p.prev
	p.prev = cur
	p.mu.Unlock()

	busy := cur.busy - prev.busy
	total := busy + cur.idle - prev.idle
	if busy < 0 || total <= 0 {
		return 0
	}
	return round2(busy / total * 100)
}

func memoryPercent(m procfs.Meminfo) float64 {
	if m.MemTotal == nil || *m.MemTotal == 0 {
		return 0
	}
	total := float64(*m.MemTotal)
	var available float64
	switch {
	case m.MemAvailable != nil:
		available = float64(*m.MemAvailable)
	case m.MemFree != nil:
		available = float64(*m.MemFree)
	}
	return round2((total - available) / total * 100)
}

// diskPercent reports used space the way df does: reserved blocks count
// neither as used nor as available.
func diskPercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to statfs %s: %w", path, err)
	}
	used := float64(st.Blocks-st.Bfree) * float64(st.Bsize)
	avail := float64(st.Bavail) * float64(st.Bsize)
	if used+avail == 0 {
		return 0, nil
	}
	return round2(used / (used + avail) * 100), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
