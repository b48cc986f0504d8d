package stats

import (
	"context"
	"errors"
	"time"
)

// ErrWarmingUp is returned by sources that need two readings before they can
// report utilization. The sampler treats it like any other failed read.
var ErrWarmingUp = errors.New("stats: source is warming up")

// CPUSnapshot holds one utilization percentage (0-100) per logical core,
// indexed by core number. It marshals as a plain JSON array.
type CPUSnapshot []float64

// MemorySnapshot is a point-in-time reading of memory and swap, in bytes.
type MemorySnapshot struct {
	Total        uint64 `json:"total"`
	Available    uint64 `json:"available"`
	Used         uint64 `json:"used"`
	UsedComputed uint64 `json:"used_computed"` // Total - Available
	SwapTotal    uint64 `json:"swap_total"`
	SwapUsed     uint64 `json:"swap_used"`
}

// NewMemorySnapshot builds a MemorySnapshot and derives UsedComputed.
func NewMemorySnapshot(total, available, used, swapTotal, swapUsed uint64) MemorySnapshot {
	var computed uint64
	if total > available {
		computed = total - available
	}
	return MemorySnapshot{
		Total:        total,
		Available:    available,
		Used:         used,
		UsedComputed: computed,
		SwapTotal:    swapTotal,
		SwapUsed:     swapUsed,
	}
}

// Source yields the current host readings on demand.
// Implementations are not required to be safe for concurrent use; the
// sampler is their only caller.
type Source interface {
	CPU(ctx context.Context) (CPUSnapshot, error)
	Memory(ctx context.Context) (MemorySnapshot, error)
	// MinInterval is the shortest polling interval that yields meaningful
	// CPU readings.
	MinInterval() time.Duration
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
