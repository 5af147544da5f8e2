package analytics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
	"github.com/citysafe-sim/citysafe-sim/sim/routing"
)

// fakeRegistry feeds fixed positions and incidents to the engine.
type fakeRegistry struct {
	positions []geo.Point
	sites     []IncidentSite
}

func (r *fakeRegistry) EachPosition(fn func(int, string, geo.Point)) {
	for i, p := range r.positions {
		fn(i, "civilian", p)
	}
}

func (r *fakeRegistry) IncidentSites() []IncidentSite { return r.sites }

func stepTime() time.Time {
	return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
}

func TestCellAt_MappingAndClamping(t *testing.T) {
	e := NewEngine(&fakeRegistry{}, 10)

	assert.Equal(t, [2]int{0, 0}, [2]int{e.CellAt(geo.Point{X: 0.05, Y: 0.05}).X, e.CellAt(geo.Point{X: 0.05, Y: 0.05}).Y})
	c := e.CellAt(geo.Point{X: 0.55, Y: 0.95})
	assert.Equal(t, 5, c.X)
	assert.Equal(t, 9, c.Y)

	// Out-of-range coordinates clamp to border cells.
	edge := e.CellAt(geo.Point{X: 1.5, Y: -0.2})
	assert.Equal(t, 9, edge.X)
	assert.Equal(t, 0, edge.Y)
}

func TestRecordStep_PopulationsResetAndRecount(t *testing.T) {
	// GIVEN three agents clustered in one cell
	reg := &fakeRegistry{positions: []geo.Point{
		{X: 0.11, Y: 0.11}, {X: 0.12, Y: 0.12}, {X: 0.13, Y: 0.13},
	}}
	e := NewEngine(reg, 10)

	e.RecordStep(stepTime(), map[string]float64{"safety_score": 95})
	cell := e.CellAt(geo.Point{X: 0.11, Y: 0.11})
	require.Equal(t, 3, cell.Population)

	// WHEN the cluster moves and a second step records
	reg.positions = []geo.Point{{X: 0.81, Y: 0.81}}
	e.RecordStep(stepTime().Add(10*time.Second), map[string]float64{"safety_score": 90})

	// THEN the old cell's population was reset, not accumulated
	assert.Equal(t, 0, cell.Population)
	assert.Equal(t, 1, e.CellAt(geo.Point{X: 0.81, Y: 0.81}).Population)

	// AND the time series kept both points with their metrics
	series := e.TimeSeries("safety_score")
	assert.Equal(t, []float64{95, 90}, series)
	assert.Equal(t, []float64{3, 1}, e.TimeSeries(MetricPopulation))
}

func TestRecordStep_IncidentSplitAndSeriesCounts(t *testing.T) {
	reg := &fakeRegistry{
		sites: []IncidentSite{
			{Type: "medical_event", Location: geo.Point{X: 0.5, Y: 0.5}, Medical: true},
			{Type: "crowd_surge", Location: geo.Point{X: 0.5, Y: 0.5}},
		},
	}
	e := NewEngine(reg, 10)
	e.RecordStep(stepTime(), nil)

	cell := e.CellAt(geo.Point{X: 0.5, Y: 0.5})
	assert.Equal(t, 2, cell.IncidentCount)
	assert.Equal(t, 1, cell.MedicalEvents)
	assert.Equal(t, 1, cell.SecurityEvents)
	assert.Equal(t, []float64{2}, e.TimeSeries(MetricIncidents))
	assert.Equal(t, []float64{1}, e.TimeSeries("medical_events"))
}

func TestHotspots_ThresholdAndOrdering(t *testing.T) {
	// GIVEN two cells above the population threshold and one below
	positions := make([]geo.Point, 0, 60)
	for i := 0; i < 40; i++ {
		positions = append(positions, geo.Point{X: 0.15, Y: 0.15}) // heat 0.8
	}
	for i := 0; i < 50; i++ {
		positions = append(positions, geo.Point{X: 0.85, Y: 0.85}) // heat 1.0
	}
	positions = append(positions, geo.Point{X: 0.5, Y: 0.5}) // heat 0.02
	e := NewEngine(&fakeRegistry{positions: positions}, 10)
	e.RecordStep(stepTime(), nil)

	// WHEN hotspots are queried at 0.7
	hs := e.Hotspots(MetricPopulation, 0.7)

	// THEN only the crowded cells qualify, densest first
	require.Len(t, hs, 2)
	assert.Equal(t, 1.0, hs[0].Value)
	assert.InDelta(t, 0.8, hs[1].Value, 1e-9)
}

func TestRecordThreat_KeepsMaximum(t *testing.T) {
	e := NewEngine(&fakeRegistry{}, 10)
	loc := geo.Point{X: 0.3, Y: 0.3}
	e.RecordThreat(loc, 0.9)
	e.RecordThreat(loc, 0.4) // lower reading must not erase the peak
	assert.Equal(t, 0.9, e.CellAt(loc).Threat)

	e.RecordThreat(loc, 7.0) // clamped
	assert.Equal(t, 1.0, e.CellAt(loc).Threat)
}

func TestResponseTimes_MeanAndHeat(t *testing.T) {
	e := NewEngine(&fakeRegistry{}, 10)
	loc := geo.Point{X: 0.4, Y: 0.4}
	e.RecordResponseTime(loc, 120)
	e.RecordResponseTime(loc, 240)

	cell := e.CellAt(loc)
	assert.InDelta(t, 180, cell.AvgResponseTime(), 1e-9)
	assert.InDelta(t, 0.3, cell.HeatValue(MetricResponseTime), 1e-9)
}

func TestSyncNodeLoads_PushesCountsToGraph(t *testing.T) {
	// GIVEN five agents around one routing node
	reg := &fakeRegistry{positions: []geo.Point{
		{X: 0.50, Y: 0.50}, {X: 0.51, Y: 0.50}, {X: 0.50, Y: 0.51},
		{X: 0.49, Y: 0.50}, {X: 0.50, Y: 0.49},
		{X: 0.90, Y: 0.90}, // out of radius
	}}
	e := NewEngine(reg, 10)
	g := routing.NewGraph(routing.DefaultConfig())
	g.AddNode("hub", geo.Point{X: 0.5, Y: 0.5}, "venue", true, 100)
	g.AddNode("edge", geo.Point{X: 0.9, Y: 0.9}, "venue", true, 100)
	g.Connect()

	// WHEN loads sync with a 0.02 radius
	e.SyncNodeLoads(g, 0.02)

	// THEN each node carries its local population
	assert.Equal(t, 5.0, g.Node("hub").Load)
	assert.Equal(t, 1.0, g.Node("edge").Load)
}

func TestSummarize_ResponsePercentiles(t *testing.T) {
	e := NewEngine(&fakeRegistry{positions: []geo.Point{{X: 0.5, Y: 0.5}}}, 10)
	e.RecordStep(stepTime(), nil)
	for i := 1; i <= 10; i++ {
		e.RecordResponseTime(geo.Point{X: 0.5, Y: 0.5}, float64(i*60))
	}

	s := e.Summarize()
	assert.Equal(t, 1, s.Steps)
	assert.Equal(t, 1, s.CurrentPopulation)
	assert.InDelta(t, 330, s.MeanResponseTime, 1e-9)
	assert.GreaterOrEqual(t, s.P90ResponseTime, 540.0)
}

func TestExportJSON_RoundTripsDocument(t *testing.T) {
	reg := &fakeRegistry{positions: []geo.Point{{X: 0.2, Y: 0.2}}}
	e := NewEngine(reg, 4)
	e.RecordStep(stepTime(), map[string]float64{"safety_score": 88})
	e.RecordPattern("crowd_surge", geo.Point{X: 0.2, Y: 0.2})

	path := filepath.Join(t.TempDir(), "analytics.json")
	require.NoError(t, e.ExportJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "time_series")
	assert.Contains(t, doc, "heatmap")
	assert.Contains(t, doc, "incident_patterns")
	assert.Contains(t, doc, "summary")
}
