// Package analytics aggregates agent positions into a fixed grid each
// step, producing density, hotspot, and time-series views, and feeds
// congestion back to the routing graph on a sync interval.
package analytics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Metric names accepted by heat-value, hotspot, and time-series queries.
const (
	MetricPopulation   = "population"
	MetricIncidents    = "incidents"
	MetricDensity      = "density"
	MetricThreat       = "threat"
	MetricResponseTime = "response_time"
)

// Cell is one heatmap grid cell with rolling counters for the current
// step and scalars that persist across steps.
type Cell struct {
	X      int       `json:"x"`
	Y      int       `json:"y"`
	Center geo.Point `json:"center"`

	Population     int `json:"population"`
	IncidentCount  int `json:"incident_count"`
	MedicalEvents  int `json:"medical_events"`
	SecurityEvents int `json:"security_events"`

	Density float64 `json:"crowd_density"`
	Threat  float64 `json:"threat_level"`

	responseTimes []float64
}

// AddResponseTime records one responder arrival latency (seconds).
func (c *Cell) AddResponseTime(seconds float64) {
	c.responseTimes = append(c.responseTimes, seconds)
}

// AvgResponseTime returns the mean recorded response time in seconds,
// or zero when no samples exist.
func (c *Cell) AvgResponseTime() float64 {
	if len(c.responseTimes) == 0 {
		return 0
	}
	return stat.Mean(c.responseTimes, nil)
}

// HeatValue normalizes the requested metric to [0, 1] for rendering.
func (c *Cell) HeatValue(metric string) float64 {
	switch metric {
	case MetricPopulation:
		return clamp01(float64(c.Population) / 50)
	case MetricIncidents:
		return clamp01(float64(c.IncidentCount) / 10)
	case MetricDensity:
		return c.Density
	case MetricThreat:
		return c.Threat
	case MetricResponseTime:
		// Normalized against a ten-minute response.
		return clamp01(c.AvgResponseTime() / 600)
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
