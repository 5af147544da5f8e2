package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
	"github.com/citysafe-sim/citysafe-sim/sim/routing"
)

// Registry is the engine's read-only view of the agent and incident
// collections. The kernel implements it; the engine never mutates
// anything behind it.
type Registry interface {
	// EachPosition visits every placed agent once.
	EachPosition(fn func(agentID int, role string, loc geo.Point))
	// IncidentSites returns the positions of all active incidents.
	IncidentSites() []IncidentSite
}

// IncidentSite is an active incident's analytics-relevant projection.
type IncidentSite struct {
	Type     string
	Location geo.Point
	Medical  bool
}

// TimeSeriesPoint is one per-step analytics record.
type TimeSeriesPoint struct {
	Timestamp  time.Time          `json:"timestamp"`
	Population int                `json:"population"`
	Incidents  int                `json:"active_incidents"`
	Medical    int                `json:"medical_events"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Hotspot is a cell whose metric value exceeded a query threshold.
type Hotspot struct {
	Location geo.Point `json:"location"`
	Value    float64   `json:"value"`
}

// Engine maintains the heatmap grid and per-step time series.
type Engine struct {
	registry Registry
	gridSize int
	cells    []*Cell

	series   []TimeSeriesPoint
	patterns map[string][]geo.Point
}

// NewEngine builds an engine over a gridSize × gridSize heatmap.
func NewEngine(registry Registry, gridSize int) *Engine {
	if gridSize <= 0 {
		gridSize = 20
	}
	e := &Engine{
		registry: registry,
		gridSize: gridSize,
		cells:    make([]*Cell, gridSize*gridSize),
		patterns: make(map[string][]geo.Point),
	}
	cellSize := 1.0 / float64(gridSize)
	for y := 0; y < gridSize; y++ {
		for x := 0; x < gridSize; x++ {
			e.cells[y*gridSize+x] = &Cell{
				X: x,
				Y: y,
				Center: geo.Point{
					X: (float64(x) + 0.5) * cellSize,
					Y: (float64(y) + 0.5) * cellSize,
				},
			}
		}
	}
	return e
}

// CellAt returns the cell containing a unit-space location. Out-of-range
// coordinates clamp to the border cells.
func (e *Engine) CellAt(loc geo.Point) *Cell {
	x := int(loc.X * float64(e.gridSize))
	y := int(loc.Y * float64(e.gridSize))
	x = clampIdx(x, e.gridSize)
	y = clampIdx(y, e.gridSize)
	return e.cells[y*e.gridSize+x]
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// RecordStep takes the per-step snapshot: refreshes the heatmap from
// live positions and incidents, recomputes densities, and appends a
// time-series point. metrics is copied, not retained.
func (e *Engine) RecordStep(now time.Time, metrics map[string]float64) {
	for _, c := range e.cells {
		c.Population = 0
	}

	population := 0
	e.registry.EachPosition(func(_ int, _ string, loc geo.Point) {
		e.CellAt(loc).Population++
		population++
	})

	sites := e.registry.IncidentSites()
	medical := 0
	for _, s := range sites {
		c := e.CellAt(s.Location)
		c.IncidentCount++
		if s.Medical {
			c.MedicalEvents++
			medical++
		} else {
			c.SecurityEvents++
		}
	}

	for _, c := range e.cells {
		if c.Population > 0 {
			d := e.neighborhoodDensity(c)
			if d > c.Density {
				c.Density = d
			}
		}
	}

	copied := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		copied[k] = v
	}
	e.series = append(e.series, TimeSeriesPoint{
		Timestamp:  now,
		Population: population,
		Incidents:  len(sites),
		Medical:    medical,
		Metrics:    copied,
	})
}

// neighborhoodDensity sums population over the 3×3 neighborhood and
// normalizes against a nominal 100-agent saturation.
func (e *Engine) neighborhoodDensity(c *Cell) float64 {
	total := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			x, y := c.X+dx, c.Y+dy
			if x < 0 || x >= e.gridSize || y < 0 || y >= e.gridSize {
				continue
			}
			total += e.cells[y*e.gridSize+x].Population
		}
	}
	return clamp01(float64(total) / 100)
}

// RecordThreat raises the threat scalar of the cell containing loc.
func (e *Engine) RecordThreat(loc geo.Point, level float64) {
	c := e.CellAt(loc)
	if level > c.Threat {
		c.Threat = clamp01(level)
	}
}

// RecordResponseTime attributes a responder arrival latency to the cell
// containing the incident.
func (e *Engine) RecordResponseTime(loc geo.Point, seconds float64) {
	e.CellAt(loc).AddResponseTime(seconds)
}

// RecordPattern logs an incident occurrence for repeat-location
// analysis.
func (e *Engine) RecordPattern(incidentType string, loc geo.Point) {
	e.patterns[incidentType] = append(e.patterns[incidentType], loc)
}

// Hotspots returns cells whose metric value meets the threshold,
// ordered by descending value.
func (e *Engine) Hotspots(metric string, threshold float64) []Hotspot {
	var out []Hotspot
	for _, c := range e.cells {
		if v := c.HeatValue(metric); v >= threshold {
			out = append(out, Hotspot{Location: c.Center, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// Cells returns all grid cells in row-major order.
func (e *Engine) Cells() []*Cell {
	return e.cells
}

// TimeSeries returns the per-step value of one metric. Built-in counter
// names resolve first, then the per-step metrics map.
func (e *Engine) TimeSeries(metric string) []float64 {
	out := make([]float64, 0, len(e.series))
	for _, p := range e.series {
		switch metric {
		case MetricPopulation:
			out = append(out, float64(p.Population))
		case MetricIncidents:
			out = append(out, float64(p.Incidents))
		case "medical_events":
			out = append(out, float64(p.Medical))
		default:
			out = append(out, p.Metrics[metric])
		}
	}
	return out
}

// SyncNodeLoads pushes live population counts onto the routing graph's
// node loads. The kernel calls this on the configured sync interval.
func (e *Engine) SyncNodeLoads(g *routing.Graph, radius float64) {
	for _, node := range g.Nodes() {
		count := 0
		e.registry.EachPosition(func(_ int, _ string, loc geo.Point) {
			if geo.Distance(loc, node.Loc) <= radius {
				count++
			}
		})
		g.UpdateNodeLoad(node.ID, float64(count))
	}
	logrus.Debugf("analytics: synced loads for %d routing nodes", len(g.Nodes()))
}

// Summary aggregates run-level statistics.
type Summary struct {
	Steps             int     `json:"total_steps"`
	CurrentPopulation int     `json:"current_population"`
	CurrentIncidents  int     `json:"current_incidents"`
	HotspotCount      int     `json:"hotspots_identified"`
	MeanResponseTime  float64 `json:"mean_response_time"`
	P90ResponseTime   float64 `json:"p90_response_time"`
}

// Summarize computes summary statistics over the run so far. Response
// times are pooled across all cells.
func (e *Engine) Summarize() Summary {
	s := Summary{Steps: len(e.series)}
	if len(e.series) > 0 {
		last := e.series[len(e.series)-1]
		s.CurrentPopulation = last.Population
		s.CurrentIncidents = last.Incidents
	}
	s.HotspotCount = len(e.Hotspots(MetricPopulation, 0.7))

	var samples []float64
	for _, c := range e.cells {
		samples = append(samples, c.responseTimes...)
	}
	if len(samples) > 0 {
		sort.Float64s(samples)
		s.MeanResponseTime = stat.Mean(samples, nil)
		s.P90ResponseTime = stat.Quantile(0.9, stat.Empirical, samples, nil)
	}
	return s
}

// export is the JSON document written by ExportJSON.
type export struct {
	TimeSeries []TimeSeriesPoint      `json:"time_series"`
	Heatmap    map[string]*Cell       `json:"heatmap"`
	Patterns   map[string][]geo.Point `json:"incident_patterns"`
	Summary    Summary                `json:"summary"`
}

// ExportJSON writes the full analytics dataset to path.
func (e *Engine) ExportJSON(path string) error {
	doc := export{
		TimeSeries: e.series,
		Heatmap:    make(map[string]*Cell, len(e.cells)),
		Patterns:   e.patterns,
		Summary:    e.Summarize(),
	}
	for _, c := range e.cells {
		doc.Heatmap[fmt.Sprintf("%d_%d", c.X, c.Y)] = c
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal analytics export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write analytics export: %w", err)
	}
	return nil
}
