package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

// HostCollector reports the health of the device the agent runs on. Values
// are read on every scrape; a source that fails is skipped and logged.
type HostCollector struct {
	diskPath string
	logger   zerolog.Logger

	cpuUsage    *prometheus.Desc
	memoryUsage *prometheus.Desc
	diskUsage   *prometheus.Desc
	agentRSS    *prometheus.Desc
}

// NewHostCollector creates a collector reporting disk usage of diskPath.
func NewHostCollector(diskPath string, logger zerolog.Logger) *HostCollector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostCollector{
		diskPath: diskPath,
		logger:   logger,
		cpuUsage: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "cpu_usage_percent"),
			"CPU usage across all cores since the previous scrape.", nil, nil),
		memoryUsage: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "memory_usage_percent"),
			"Percentage of used virtual memory.", nil, nil),
		diskUsage: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "host", "disk_usage_percent"),
			"Percentage of used space on the agent's data disk.", []string{"path"}, nil),
		agentRSS: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "agent", "resident_memory_bytes"),
			"Resident memory of the agent process.", nil, nil),
	}
}

func (h *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.cpuUsage
	ch <- h.memoryUsage
	ch <- h.diskUsage
	ch <- h.agentRSS
}

func (h *HostCollector) Collect(ch chan<- prometheus.Metric) {
	if percents, err := cpu.Percent(0, false); err != nil || len(percents) == 0 {
		h.logger.Warn().Err(err).Msg("Failed to read CPU usage")
	} else {
		ch <- prometheus.MustNewConstMetric(h.cpuUsage, prometheus.GaugeValue, percents[0])
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read memory statistics")
	} else {
		ch <- prometheus.MustNewConstMetric(h.memoryUsage, prometheus.GaugeValue, vm.UsedPercent)
	}

	if usage, err := disk.Usage(h.diskPath); err != nil {
		h.logger.Warn().Err(err).Str("path", h.diskPath).Msg("Failed to read disk usage")
	} else {
		ch <- prometheus.MustNewConstMetric(h.diskUsage, prometheus.GaugeValue, usage.UsedPercent, h.diskPath)
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		var info *process.MemoryInfoStat
		if info, err = proc.MemoryInfo(); err == nil {
			ch <- prometheus.MustNewConstMetric(h.agentRSS, prometheus.GaugeValue, float64(info.RSS))
		}
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read agent memory")
	}
}
