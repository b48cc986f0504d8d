package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MinCPUInterval mirrors the shortest refresh that gives stable per-core
// deltas from /proc/stat and friends.
const MinCPUInterval = 200 * time.Millisecond

// LocalSource reads the local host through gopsutil.
type LocalSource struct{}

func NewLocalSource() *LocalSource {
	return &LocalSource{}
}

// CPU returns per-core utilization since the previous call. The very first
// call compares against the readings gopsutil takes at package init.
func (s *LocalSource) CPU(ctx context.Context) (CPUSnapshot, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return nil, fmt.Errorf("reading cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return nil, fmt.Errorf("reading cpu percent: no cores reported")
	}
	snap := make(CPUSnapshot, len(pct))
	for i, v := range pct {
		snap[i] = clampPercent(v)
	}
	return snap, nil
}

func (s *LocalSource) Memory(ctx context.Context) (MemorySnapshot, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemorySnapshot{}, fmt.Errorf("reading virtual memory: %w", err)
	}
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return MemorySnapshot{}, fmt.Errorf("reading swap: %w", err)
	}
	return NewMemorySnapshot(v.Total, v.Available, v.Used, sw.Total, sw.Used), nil
}

func (s *LocalSource) MinInterval() time.Duration {
	return MinCPUInterval
}
