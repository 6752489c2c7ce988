package docker

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// snapshotFromSummary maps a container list entry.
func snapshotFromSummary(c types.Container) domain.ContainerSnapshot {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	ports := make(map[string][]string)
	for _, p := range c.Ports {
		port, err := nat.NewPort(p.Type, strconv.Itoa(int(p.PrivatePort)))
		if err != nil {
			continue
		}
		key := string(port)
		if p.PublicPort == 0 {
			if _, ok := ports[key]; !ok {
				ports[key] = []string{}
			}
			continue
		}
		ports[key] = append(ports[key], net.JoinHostPort(p.IP, strconv.Itoa(int(p.PublicPort))))
	}

	var networks map[string]domain.NetworkEndpoint
	if c.NetworkSettings != nil {
		networks = make(map[string]domain.NetworkEndpoint, len(c.NetworkSettings.Networks))
		for name, ep := range c.NetworkSettings.Networks {
			if ep == nil {
				continue
			}
			networks[name] = domain.NetworkEndpoint{
				NetworkID:  ep.NetworkID,
				IPAddress:  ep.IPAddress,
				Gateway:    ep.Gateway,
				MacAddress: ep.MacAddress,
			}
		}
	}

	mounts := make([]domain.Mount, 0, len(c.Mounts))
	for _, m := range c.Mounts {
		mounts = append(mounts, mountFrom(m))
	}

	return domain.ContainerSnapshot{
		ID:       c.ID,
		ShortID:  shortID(c.ID),
		Name:     name,
		Image:    c.Image,
		ImageID:  c.ImageID,
		Status:   c.Status,
		State:    c.State,
		Created:  time.Unix(c.Created, 0).UTC(),
		Ports:    ports,
		Mounts:   mounts,
		Networks: networks,
		Labels:   c.Labels,
	}
}

func mountFrom(m types.MountPoint) domain.Mount {
	return domain.Mount{
		Type:        string(m.Type),
		Name:        m.Name,
		Source:      m.Source,
		Destination: m.Destination,
		Mode:        m.Mode,
		RW:          m.RW,
	}
}

// snapshotFromInspect maps a full inspect response. Any of the nested
// sections may be missing on a container that is being removed.
func snapshotFromInspect(info types.ContainerJSON) domain.ContainerSnapshot {
	var s domain.ContainerSnapshot
	if base := info.ContainerJSONBase; base != nil {
		s.ID = base.ID
		s.ShortID = shortID(base.ID)
		s.Name = strings.TrimPrefix(base.Name, "/")
		s.ImageID = base.Image
		s.Created = parseTime(base.Created)
		s.LogPath = base.LogPath
		s.Driver = base.Driver

		if st := base.State; st != nil {
			s.State = st.Status
			s.Status = st.Status
			s.ExitCode = st.ExitCode
			s.StartedAt = parseTime(st.StartedAt)
			s.FinishedAt = parseTime(st.FinishedAt)
			if st.Health != nil {
				s.Health = domain.Health{Status: st.Health.Status, FailingStreak: st.Health.FailingStreak}
			}
		}

		if hc := base.HostConfig; hc != nil {
			s.RestartPolicy = string(hc.RestartPolicy.Name)
			s.Resources = domain.Resources{
				MemoryLimit: hc.Memory,
				CPUShares:   hc.CPUShares,
				CPUQuota:    hc.CPUQuota,
				CPUPeriod:   hc.CPUPeriod,
				NanoCPUs:    hc.NanoCPUs,
			}
			if hc.Memory > 0 {
				s.Resources.MemoryLimitHuman = units.BytesSize(float64(hc.Memory))
			}
		}
	}

	if cfg := info.Config; cfg != nil {
		s.Image = cfg.Image
		s.Labels = cfg.Labels
		s.Env = cfg.Env
		s.Cmd = cfg.Cmd
		s.Entrypoint = cfg.Entrypoint
		s.WorkingDir = cfg.WorkingDir
		s.Tty = cfg.Tty
	}

	s.Mounts = make([]domain.Mount, 0, len(info.Mounts))
	for _, m := range info.Mounts {
		s.Mounts = append(s.Mounts, mountFrom(m))
	}

	s.Ports = map[string][]string{}
	if ns := info.NetworkSettings; ns != nil {
		s.Ports = portBindings(ns.Ports)
		s.Networks = make(map[string]domain.NetworkEndpoint, len(ns.Networks))
		for name, ep := range ns.Networks {
			if ep == nil {
				continue
			}
			s.Networks[name] = domain.NetworkEndpoint{
				NetworkID:  ep.NetworkID,
				IPAddress:  ep.IPAddress,
				Gateway:    ep.Gateway,
				MacAddress: ep.MacAddress,
			}
		}
	}
	return s
}

// portBindings flattens a port map to "port/proto" -> ["host:port", ...].
func portBindings(pm nat.PortMap) map[string][]string {
	out := make(map[string][]string, len(pm))
	keys := make([]nat.Port, 0, len(pm))
	for p := range pm {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Int() != keys[j].Int() {
			return keys[i].Int() < keys[j].Int()
		}
		return keys[i].Proto() < keys[j].Proto()
	})
	for _, p := range keys {
		bindings := make([]string, 0, len(pm[p]))
		for _, b := range pm[p] {
			bindings = append(bindings, net.JoinHostPort(b.HostIP, b.HostPort))
		}
		out[string(p)] = bindings
	}
	return out
}

// rawStats extracts the counters the gateway needs from a stats read.
func rawStats(s types.StatsJSON) domain.RawStats {
	raw := domain.RawStats{
		CPUTotal:       s.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal:    s.PreCPUStats.CPUUsage.TotalUsage,
		SystemUsage:    s.CPUStats.SystemUsage,
		PreSystemUsage: s.PreCPUStats.SystemUsage,
		OnlineCPUs:     s.CPUStats.OnlineCPUs,
		PerCPUCount:    len(s.CPUStats.CPUUsage.PercpuUsage),
		MemoryUsage:    s.MemoryStats.Usage,
		MemoryLimit:    s.MemoryStats.Limit,
		PIDs:           s.PidsStats.Current,
	}
	for _, n := range s.Networks {
		raw.NetworkRx += n.RxBytes
		raw.NetworkTx += n.TxBytes
	}
	for _, e := range s.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(e.Op) {
		case "read":
			raw.BlockRead += e.Value
		case "write":
			raw.BlockWrite += e.Value
		}
	}
	return raw
}

// processesFromTop maps ps output by column title. Both "ps aux" and the
// engine default "ps -ef" layouts are understood.
func processesFromTop(titles []string, rows [][]string) []domain.Process {
	col := make(map[string]int, len(titles))
	for i, t := range titles {
		col[t] = i
	}
	field := func(row []string, names ...string) string {
		for _, n := range names {
			if i, ok := col[n]; ok && i < len(row) {
				return row[i]
			}
		}
		return ""
	}

	out := make([]domain.Process, 0, len(rows))
	for _, row := range rows {
		p := domain.Process{
			PID:     field(row, "PID"),
			User:    field(row, "USER", "UID"),
			Time:    field(row, "TIME"),
			Command: field(row, "COMMAND", "CMD"),
			CPU:     field(row, "%CPU"),
			Memory:  field(row, "%MEM"),
		}
		if p.CPU == "" {
			p.CPU = "0.0"
		}
		if p.Memory == "" {
			p.Memory = "0.0"
		}
		out = append(out, p)
	}
	return out
}
