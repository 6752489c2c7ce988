package hostinfo

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootTime = 1700000000

func writeProc(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// statFile renders /proc/stat with one CPU and the given jiffies.
func statFile(user, system, idle int) string {
	line := strconv.Itoa(user) + " 0 " + strconv.Itoa(system) + " " + strconv.Itoa(idle) + " 0 0 0 0 0 0\n"
	return "cpu  " + line + "cpu0 " + line + "btime " + strconv.Itoa(bootTime) + "\n"
}

func fakeProc(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeProc(t, dir, "stat", statFile(100, 100, 800))
	writeProc(t, dir, "meminfo", "MemTotal:       16000000 kB\nMemFree:         2000000 kB\nMemAvailable:    4000000 kB\n")
	writeProc(t, dir, "loadavg", "0.50 0.40 0.30 1/100 12345\n")
	writeProc(t, dir, "net/dev",
		"Inter-|   Receive                                                |  Transmit\n"+
			" face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed\n"+
			"  eth0:    1000      10    0    0    0     0          0         0     2000      20    0    0    0     0       0          0\n"+
			"    lo:     500       5    0    0    0     0          0         0      500       5    0    0    0     0       0          0\n")
	return dir
}

func TestProbeSample(t *testing.T) {
	proc := fakeProc(t)
	clock := clockwork.NewFakeClockAt(time.Unix(bootTime+3600, 0))
	probe, err := NewProbe(proc, t.TempDir(), clock)
	require.NoError(t, err)

	snap, err := probe.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, snap.CPUPercent, 0.01, "first sample averages since boot")
	assert.InDelta(t, 75.0, snap.MemoryPercent, 0.01)
	assert.Equal(t, [3]float64{0.5, 0.4, 0.3}, snap.LoadAverage)
	assert.Equal(t, uint64(1500), snap.Network.BytesRecv)
	assert.Equal(t, uint64(2500), snap.Network.BytesSent)
	assert.Equal(t, uint64(25), snap.Network.PacketsSent)
	assert.Equal(t, time.Hour, snap.Uptime)
	assert.Equal(t, clock.Now(), snap.Timestamp)
	assert.GreaterOrEqual(t, snap.DiskPercent, 0.0)
	assert.LessOrEqual(t, snap.DiskPercent, 100.0)

	writeProc(t, proc, "stat", statFile(300, 300, 1000))
	snap, err = probe.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 66.67, snap.CPUPercent, 0.01, "delta between samples")
}

func TestProbeErrors(t *testing.T) {
	_, err := NewProbe(filepath.Join(t.TempDir(), "missing"), "/", nil)
	assert.Error(t, err)

	proc := fakeProc(t)
	probe, err := NewProbe(proc, filepath.Join(t.TempDir(), "no-such-disk"), nil)
	require.NoError(t, err)
	_, err = probe.Sample(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = probe.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
