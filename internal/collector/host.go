package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"hostwatch/internal/clock"
	"hostwatch/internal/models"
)

// HostSource reads raw host counters.
type HostSource interface {
	CPUTimes(ctx context.Context) ([]cpu.TimesStat, error)
	Memory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	Disk(ctx context.Context, path string) (*disk.UsageStat, error)
	NetCounters(ctx context.Context) ([]net.IOCountersStat, error)
	Load(ctx context.Context) (*load.AvgStat, error)
	Uptime(ctx context.Context) (uint64, error)
}

type gopsutilSource struct{}

func SystemSource() HostSource { return gopsutilSource{} }

func (gopsutilSource) CPUTimes(ctx context.Context) ([]cpu.TimesStat, error) {
	return cpu.TimesWithContext(ctx, true)
}

func (gopsutilSource) Memory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (gopsutilSource) Disk(ctx context.Context, path string) (*disk.UsageStat, error) {
	return disk.UsageWithContext(ctx, path)
}

func (gopsutilSource) NetCounters(ctx context.Context) ([]net.IOCountersStat, error) {
	return net.IOCountersWithContext(ctx, true)
}

func (gopsutilSource) Load(ctx context.Context) (*load.AvgStat, error) {
	return load.AvgWithContext(ctx)
}

func (gopsutilSource) Uptime(ctx context.Context) (uint64, error) {
	return host.UptimeWithContext(ctx)
}

// cpuFreshness bounds how old the previous CPU read may be for a delta.
const cpuFreshness = 10 * time.Second

type cpuSample struct {
	at    time.Time
	total float64
	idle  float64
}

type netSample struct {
	at time.Time
	rx uint64
	tx uint64
}

// HostSampler produces MetricsSnapshots. It keeps the previous CPU and
// network counters so usage and rates can be computed from deltas.
type HostSampler struct {
	src      HostSource
	clock    clock.Clock
	diskPath string
	log      *slog.Logger

	mu      sync.Mutex
	prevCPU *cpuSample
	prevNet *netSample
}

func NewHostSampler(src HostSource, diskPath string, c clock.Clock, logger *slog.Logger) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSampler{src: src, clock: c, diskPath: diskPath, log: logger}
}

// Sample never fails: a dimension whose probe errors is reported as zero.
func (h *HostSampler) Sample(ctx context.Context) models.MetricsSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	m := models.MetricsSnapshot{Timestamp: now}

	if times, err := h.src.CPUTimes(ctx); err != nil {
		h.log.Debug("cpu probe failed", "err", err)
	} else {
		m.CPUPercent = h.cpuPercent(now, times)
	}

	if vm, err := h.src.Memory(ctx); err != nil {
		h.log.Debug("memory probe failed", "err", err)
	} else if vm.Total > 0 {
		used := vm.Total - vm.Available
		m.MemoryTotal = int64(vm.Total)
		m.MemoryUsed = int64(used)
		m.MemoryPercent = clampPercent(float64(used) / float64(vm.Total) * 100)
	}

	if du, err := h.src.Disk(ctx, h.diskPath); err != nil {
		h.log.Debug("disk probe failed", "path", h.diskPath, "err", err)
	} else {
		m.DiskTotal = int64(du.Total)
		m.DiskUsed = int64(du.Used)
		m.DiskPercent = clampPercent(du.UsedPercent)
	}

	if counters, err := h.src.NetCounters(ctx); err != nil {
		h.log.Debug("network probe failed", "err", err)
		h.prevNet = nil
	} else {
		m.NetworkRx, m.NetworkTx = h.netRates(now, counters)
	}

	if avg, err := h.src.Load(ctx); err != nil {
		h.log.Debug("load probe failed", "err", err)
	} else {
		m.Load1, m.Load5, m.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	if up, err := h.src.Uptime(ctx); err != nil {
		h.log.Debug("uptime probe failed", "err", err)
	} else {
		m.UptimeSec = int64(up)
	}
	return m
}

// cpuPercent uses the delta against the previous read when that read is
// recent, and otherwise the since-boot busy share averaged over cores.
func (h *HostSampler) cpuPercent(now time.Time, times []cpu.TimesStat) float64 {
	var total, idle, fallback float64
	for _, t := range times {
		ct, ci := cpuTotals(t)
		total += ct
		idle += ci
		if ct > 0 {
			fallback += 1 - ci/ct
		}
	}
	prev := h.prevCPU
	h.prevCPU = &cpuSample{at: now, total: total, idle: idle}

	if prev != nil && now.Sub(prev.at) < cpuFreshness {
		dTotal := total - prev.total
		dIdle := idle - prev.idle
		if dTotal > 0 {
			return clampPercent(100 * (1 - dIdle/dTotal))
		}
	}
	if len(times) == 0 {
		return 0
	}
	return clampPercent(100 * fallback / float64(len(times)))
}

// cpuTotals excludes guest time, which the kernel already counts in user.
func cpuTotals(t cpu.TimesStat) (total, idle float64) {
	idle = t.Idle + t.Iowait
	total = t.User + t.System + t.Nice + t.Irq + t.Softirq + t.Steal + idle
	return total, idle
}

func (h *HostSampler) netRates(now time.Time, counters []net.IOCountersStat) (float64, float64) {
	var rx, tx uint64
	for _, c := range counters {
		if c.Name == "lo" {
			continue
		}
		rx += c.BytesRecv
		tx += c.BytesSent
	}
	prev := h.prevNet
	h.prevNet = &netSample{at: now, rx: rx, tx: tx}
	if prev == nil {
		return 0, 0
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return rate(prev.rx, rx, elapsed), rate(prev.tx, tx, elapsed)
}

// rate is floored at zero so counter resets never produce negative values.
func rate(prev, cur uint64, seconds float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / seconds
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
