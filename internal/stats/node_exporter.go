package stats

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	nodeCPUSeconds = "node_cpu_seconds_total"
	nodeMemPrefix  = "node_memory_"
)

type cpuTimes struct {
	idle, total float64
}

// NodeExporterSource reads a node_exporter /metrics endpoint instead of the
// local host. CPU utilization is derived from counter deltas, so the first
// CPU call only primes the counters and returns ErrWarmingUp.
type NodeExporterSource struct {
	url    string
	client *http.Client
	prev   map[int]cpuTimes
}

func NewNodeExporterSource(url string) *NodeExporterSource {
	return &NodeExporterSource{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *NodeExporterSource) MinInterval() time.Duration {
	// node_exporter counters move in 10ms steps; anything below a second is noise
	return time.Second
}

func (s *NodeExporterSource) scrape(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying node exporter: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying node exporter: unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing metrics: %w", err)
	}
	return families, nil
}

func (s *NodeExporterSource) CPU(ctx context.Context) (CPUSnapshot, error) {
	families, err := s.scrape(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := parseCPUTimes(families)
	if err != nil {
		return nil, err
	}

	prev := s.prev
	s.prev = cur
	if prev == nil || len(prev) != len(cur) {
		return nil, ErrWarmingUp
	}

	cores := make([]int, 0, len(cur))
	for core := range cur {
		cores = append(cores, core)
	}
	sort.Ints(cores)

	snap := make(CPUSnapshot, len(cores))
	for i, core := range cores {
		before, ok := prev[core]
		if !ok {
			return nil, ErrWarmingUp
		}
		dTotal := cur[core].total - before.total
		dIdle := cur[core].idle - before.idle
		if dTotal <= 0 {
			continue
		}
		snap[i] = clampPercent((1 - dIdle/dTotal) * 100)
	}
	return snap, nil
}

func (s *NodeExporterSource) Memory(ctx context.Context) (MemorySnapshot, error) {
	families, err := s.scrape(ctx)
	if err != nil {
		return MemorySnapshot{}, err
	}
	return parseMemory(families)
}

func parseCPUTimes(families map[string]*dto.MetricFamily) (map[int]cpuTimes, error) {
	fam, ok := families[nodeCPUSeconds]
	if !ok {
		return nil, fmt.Errorf("metric %s not exposed", nodeCPUSeconds)
	}
	times := make(map[int]cpuTimes)
	for _, m := range fam.GetMetric() {
		var coreLabel, mode string
		for _, lp := range m.GetLabel() {
			switch lp.GetName() {
			case "cpu":
				coreLabel = lp.GetValue()
			case "mode":
				mode = lp.GetValue()
			}
		}
		core, err := strconv.Atoi(coreLabel)
		if err != nil {
			continue
		}
		v := metricValue(m)
		t := times[core]
		t.total += v
		if mode == "idle" || mode == "iowait" {
			t.idle += v
		}
		times[core] = t
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("metric %s has no per-cpu series", nodeCPUSeconds)
	}
	return times, nil
}

func parseMemory(families map[string]*dto.MetricFamily) (MemorySnapshot, error) {
	get := func(name string) (uint64, bool) {
		fam, ok := families[nodeMemPrefix+name+"_bytes"]
		if !ok || len(fam.GetMetric()) == 0 {
			return 0, false
		}
		v := metricValue(fam.GetMetric()[0])
		if v < 0 {
			return 0, true
		}
		return uint64(v), true
	}

	total, ok := get("MemTotal")
	if !ok {
		return MemorySnapshot{}, fmt.Errorf("metric %sMemTotal_bytes not exposed", nodeMemPrefix)
	}
	free, _ := get("MemFree")
	available, ok := get("MemAvailable")
	if !ok {
		available = free
	}
	buffers, _ := get("Buffers")
	cached, _ := get("Cached")
	swapTotal, _ := get("SwapTotal")
	swapFree, _ := get("SwapFree")

	var used uint64
	if total > free+buffers+cached {
		used = total - free - buffers - cached
	}
	var swapUsed uint64
	if swapTotal > swapFree {
		swapUsed = swapTotal - swapFree
	}
	return NewMemorySnapshot(total, available, used, swapTotal, swapUsed), nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	case m.Untyped != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}
