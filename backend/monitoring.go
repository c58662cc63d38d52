// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"sync"
	"sync/atomic"
	"time"
)

const LatencyBuckets = 101
const LatencyBucketSize = 50 * time.Millisecond

// Histogram is a fixed-bucket latency histogram.
type Histogram struct {
	Buckets [LatencyBuckets]uint64 `json:"b"`
	Count   uint64                 `json:"c"`
	Sum     float64                `json:"s"` // Sum of durations in milliseconds
}

func (h *Histogram) Add(d time.Duration) {
	ms := float64(d.Milliseconds())
	idx := int(d / LatencyBucketSize)
	if idx >= LatencyBuckets {
		idx = LatencyBuckets - 1
	}
	h.Buckets[idx]++
	h.Count++
	h.Sum += ms
}

func (h *Histogram) Merge(other *Histogram) {
	if other == nil {
		return
	}
	for i := 0; i < LatencyBuckets; i++ {
		h.Buckets[i] += other.Buckets[i]
	}
	h.Count += other.Count
	h.Sum += other.Sum
}

// --- Internal Storage (RRD) ---

// ResolutionConfig defines the policy for a single RRD bucket set.
type ResolutionConfig struct {
	Name       string        `json:"name"`
	Resolution time.Duration `json:"resolution"`
	Retention  time.Duration `json:"retention"`
	Buckets    int           `json:"buckets"`
}

var DefaultResolutions = []ResolutionConfig{
	{"1m", 1 * time.Minute, 2 * time.Hour, 120},
	{"5m", 5 * time.Minute, 6 * time.Hour, 72},
	{"15m", 15 * time.Minute, 24 * time.Hour, 96},
	{"1h", 1 * time.Hour, 31 * 24 * time.Hour, 744},
}

// Point represents a single data point in a time series.
type Point[T any] struct {
	Timestamp int64 `json:"t"`
	Value     T     `json:"v"`
}

// RingBuffer is a fixed-size circular buffer for storing time series data.
type RingBuffer[T any] struct {
	Config ResolutionConfig `json:"config"`
	Data   []Point[T]       `json:"data"`
	Head   int              `json:"head"` // Points to the *next* write position
}

func NewRingBuffer[T any](cfg ResolutionConfig) *RingBuffer[T] {
	return &RingBuffer[T]{
		Config: cfg,
		Data:   make([]Point[T], cfg.Buckets),
	}
}

// Add appends a point to the ring buffer, aligned to the resolution. A point
// for the current bucket overwrites in place.
func (rb *RingBuffer[T]) Add(timestamp int64, value T) {
	resSec := int64(rb.Config.Resolution.Seconds())
	alignedTs := (timestamp / resSec) * resSec

	prevIdx := (rb.Head - 1 + len(rb.Data)) % len(rb.Data)
	if rb.Data[prevIdx].Timestamp == alignedTs {
		rb.Data[prevIdx].Value = value
		return
	}

	rb.Data[rb.Head] = Point[T]{Timestamp: alignedTs, Value: value}
	rb.Head = (rb.Head + 1) % len(rb.Data)
}

// GetPoints returns the data points sorted by time.
func (rb *RingBuffer[T]) GetPoints() []Point[T] {
	points := make([]Point[T], 0, len(rb.Data))
	for i := 0; i < len(rb.Data); i++ {
		idx := (rb.Head + i) % len(rb.Data)
		if rb.Data[idx].Timestamp > 0 {
			points = append(points, rb.Data[idx])
		}
	}
	return points
}

// MetricSeries holds all resolutions for a specific metric.
type MetricSeries struct {
	Name    string                          `json:"name"`
	Buffers map[string]*RingBuffer[float64] `json:"buffers"`
}

func NewMetricSeries(name string) *MetricSeries {
	buffers := make(map[string]*RingBuffer[float64])
	for _, cfg := range DefaultResolutions {
		buffers[cfg.Name] = NewRingBuffer[float64](cfg)
	}
	return &MetricSeries{Name: name, Buffers: buffers}
}

func (ms *MetricSeries) Ingest(timestamp int64, value float64) {
	for _, cfg := range DefaultResolutions {
		buf, ok := ms.Buffers[cfg.Name]
		if !ok {
			continue
		}
		buf.Add(timestamp, value)
	}
}

// Counter is a monotonically increasing engine counter.
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Add(n int64) { c.v.Add(n) }
func (c *Counter) Value() int64 {
	return c.v.Load()
}

// LatencyRecorder is a mutex-guarded Histogram safe for concurrent ticks.
type LatencyRecorder struct {
	mu sync.Mutex
	h  Histogram
}

func (lr *LatencyRecorder) Observe(d time.Duration) {
	lr.mu.Lock()
	lr.h.Add(d)
	lr.mu.Unlock()
}

// Snapshot returns a copy of the histogram.
func (lr *LatencyRecorder) Snapshot() Histogram {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.h
}

// EngineMetrics aggregates what the engine exposes at /api/metrics: raw
// counters, tick/predictor latency histograms and per-minute RRD series of
// the tick rate.
type EngineMetrics struct {
	TicksApplied    Counter
	TickFailures    Counter
	PredictorErrors Counter
	GamesStarted    Counter
	GamesFinished   Counter

	TickLatency      LatencyRecorder
	PredictorLatency LatencyRecorder

	seriesMu   sync.Mutex
	TickRate   *MetricSeries
	lastTicks  int64
	lastSample int64
}

// NewEngineMetrics creates an EngineMetrics.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		TickRate: NewMetricSeries("engine:ticks_per_min"),
	}
}

// Sample ingests the current tick rate into the RRD series. Called on a
// fixed cadence by the server's collector loop.
func (m *EngineMetrics) Sample(now time.Time) {
	m.seriesMu.Lock()
	defer m.seriesMu.Unlock()

	ticks := m.TicksApplied.Value()
	ts := now.Unix()
	if m.lastSample > 0 && ts > m.lastSample {
		perMin := float64(ticks-m.lastTicks) / float64(ts-m.lastSample) * 60
		m.TickRate.Ingest(ts, perMin)
	}
	m.lastTicks = ticks
	m.lastSample = ts
}

// Snapshot returns the JSON shape served by /api/metrics.
func (m *EngineMetrics) Snapshot() map[string]any {
	m.seriesMu.Lock()
	rate := m.TickRate
	m.seriesMu.Unlock()

	return map[string]any{
		"ticksApplied":     m.TicksApplied.Value(),
		"tickFailures":     m.TickFailures.Value(),
		"predictorErrors":  m.PredictorErrors.Value(),
		"gamesStarted":     m.GamesStarted.Value(),
		"gamesFinished":    m.GamesFinished.Value(),
		"tickLatency":      m.TickLatency.Snapshot(),
		"predictorLatency": m.PredictorLatency.Snapshot(),
		"tickRate":         rate,
	}
}
