package models

import (
	"sort"
	"time"
)

// TimeRange bounds a historical window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Span returns End-Start, or 0 for an inverted or empty range.
func (r TimeRange) Span() time.Duration {
	if r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}

// DataPoint is a single sample of a metric.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Event is a discrete occurrence recorded during the window.
type Event struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Impact      float64   `json:"impact"`
}

// Pattern is a recurring behaviour detected upstream.
type Pattern struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// HistoricalData is the caller-supplied history the engine reasons over.
type HistoricalData struct {
	TimeRange TimeRange              `json:"timeRange"`
	Metrics   map[string][]DataPoint `json:"metrics"`
	Events    []Event                `json:"events,omitempty"`
	Patterns  []Pattern              `json:"patterns,omitempty"`
}

// Points returns a chronologically ordered copy of a metric's samples.
func (h *HistoricalData) Points(name string) []DataPoint {
	if h == nil {
		return nil
	}
	src := h.Metrics[name]
	if len(src) == 0 {
		return nil
	}
	points := make([]DataPoint, len(src))
	copy(points, src)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

// Series returns the chronological values of a metric.
func (h *HistoricalData) Series(name string) []float64 {
	points := h.Points(name)
	if points == nil {
		return nil
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}

// MetricNames returns the metric names in sorted order.
func (h *HistoricalData) MetricNames() []string {
	if h == nil {
		return nil
	}
	names := make([]string, 0, len(h.Metrics))
	for name := range h.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
