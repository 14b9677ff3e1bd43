package docker

// NormalizeStats converts an engine stats document into the same shape the
// CLI runtime produces.
func NormalizeStats(name string, s Stats) StatsRow {
	var cpuPct float64
	sysDelta := float64(s.CPUStats.SystemCPUUsage) - float64(s.PreCPUStats.SystemCPUUsage)
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
		if cpus == 0 {
			cpus = 1
		}
	}
	if sysDelta > 0 && cpuDelta >= 0 {
		cpuPct = (cpuDelta / sysDelta) * cpus * 100
	}

	var rx, tx uint64
	for _, n := range s.Networks {
		rx += n.RxBytes
		tx += n.TxBytes
	}
	return StatsRow{
		Name:        name,
		CPUPercent:  cpuPct,
		MemoryUsed:  int64(s.MemoryStats.Usage),
		MemoryLimit: int64(s.MemoryStats.Limit),
		NetworkRx:   int64(rx),
		NetworkTx:   int64(tx),
	}
}
