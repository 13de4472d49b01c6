// Package metrics collects host resource utilization piggy-backed on every
// Heartbeat (spec §3 Node "metrics", §6 external interfaces).
package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/fleetd-io/fleetd/shared/proto"
)

// rootPath is the filesystem mountpoint used for disk usage reporting.
const rootPath = "/"

// Collect returns a snapshot of current host resource usage. Any individual
// collector that fails leaves its fields at zero rather than aborting the
// whole heartbeat — stale or partial metrics are preferable to a dropped
// heartbeat.
func Collect(ctx context.Context) *proto.SystemMetrics {
	m := &proto.SystemMetrics{}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		m.CPUPercent = pcts[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemUsedBytes = vm.Used
		m.MemTotalBytes = vm.Total
	}

	if du, err := disk.UsageWithContext(ctx, rootPath); err == nil {
		m.DiskUsedBytes = du.Used
		m.DiskTotalBytes = du.Total
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		m.LoadAvg1 = avg.Load1
	}

	return m
}

// collectTimeout bounds how long Collect's underlying syscalls may block
// before the heartbeat loop gives up and sends zeros for this tick.
const collectTimeout = 2 * time.Second

// CollectWithTimeout is the convenience entry point used by the heartbeat
// loop: it always returns within collectTimeout.
func CollectWithTimeout() *proto.SystemMetrics {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	return Collect(ctx)
}
