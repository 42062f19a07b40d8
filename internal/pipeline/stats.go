package pipeline

import (
	"sort"
	"sync"
	"time"
)

// Stages tracked by LatencyStats.
const (
	StageConvert = "convert"
	StageProject = "project"
	StageStore   = "store"
	StageTotal   = "total"
)

type sample struct {
	at time.Time
	ms int64
}

// StatsSnapshot aggregates one stage's samples in the window.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// LatencyStats keeps recent per-stage latencies within a rolling window.
type LatencyStats struct {
	mu      sync.Mutex
	samples map[string][]sample
	window  time.Duration
	now     func() time.Time
}

func NewLatencyStats(window time.Duration) *LatencyStats {
	if window <= 0 {
		window = time.Hour
	}
	return &LatencyStats{
		samples: make(map[string][]sample),
		window:  window,
		now:     time.Now,
	}
}

// Record adds one observation for stage. Negative durations count as zero.
func (s *LatencyStats) Record(stage string, d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[stage] = append(prune(s.samples[stage], now.Add(-s.window)), sample{at: now, ms: ms})
}

// Snapshot returns aggregates for every stage with samples in the window.
func (s *LatencyStats) Snapshot() map[string]StatsSnapshot {
	cutoff := s.now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]StatsSnapshot, len(s.samples))
	for stage, samples := range s.samples {
		samples = prune(samples, cutoff)
		s.samples[stage] = samples
		if len(samples) == 0 {
			continue
		}
		out[stage] = aggregate(samples)
	}
	return out
}

func aggregate(samples []sample) StatsSnapshot {
	values := make([]int64, 0, len(samples))
	var sum int64
	for _, sm := range samples {
		values = append(values, sm.ms)
		sum += sm.ms
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return StatsSnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

// prune drops samples older than cutoff in place. Samples are in time order.
func prune(samples []sample, cutoff time.Time) []sample {
	i := sort.Search(len(samples), func(i int) bool { return !samples[i].at.Before(cutoff) })
	if i == 0 {
		return samples
	}
	return append(samples[:0], samples[i:]...)
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sorted[0])
	}
	if pct >= 100 {
		return float64(sorted[len(sorted)-1])
	}

	index := (float64(len(sorted)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return float64(sorted[lower])
	}
	weight := index - float64(lower)
	lo := float64(sorted[lower])
	hi := float64(sorted[upper])
	return lo + ((hi - lo) * weight)
}
