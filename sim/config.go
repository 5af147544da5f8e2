package sim

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/citysafe-sim/citysafe-sim/sim/routing"
)

// Default scenario parameters, applied when the config leaves a field
// unset.
const (
	DefaultStepSeconds   = 10.0
	DefaultDurationHours = 8.0
	DefaultSeed          = int64(42)
	DefaultStartTime     = "2026-06-01 08:00:00"
	DefaultGridSize      = 20
	DefaultBadgePrefix   = "ATH_"

	// Congestion feedback from the analytics heatmap into the routing
	// graph runs every this many steps.
	DefaultLoadSyncInterval = 5
)

const timeLayout = "2006-01-02 15:04:05"

// WeatherConfig sets the ambient conditions for the run. Heat raises
// medical event probability once the temperature passes 35C, and an
// active heat alert scales outdoor alert priorities.
type WeatherConfig struct {
	TempC     float64 `yaml:"temp_c"`
	HeatAlert bool    `yaml:"heat_alert"`
}

// BoundsConfig is the geographic envelope mapped onto the unit square.
type BoundsConfig struct {
	LatMin float64 `yaml:"lat_min"`
	LatMax float64 `yaml:"lat_max"`
	LonMin float64 `yaml:"lon_min"`
	LonMax float64 `yaml:"lon_max"`
}

// VenueConfig describes one fixed site in the scenario.
type VenueConfig struct {
	Lat        float64 `yaml:"lat"`
	Lon        float64 `yaml:"lon"`
	Type       string  `yaml:"type"` // stadium, hotel, hospital, transit_hub, airport
	Capacity   int     `yaml:"capacity"`
	Accessible *bool   `yaml:"accessible"` // nil means accessible
}

// AgentCounts sets the initial population per role. A single command
// node is always created.
type AgentCounts struct {
	Civilians       int `yaml:"civilians"`
	Volunteers      int `yaml:"volunteers"`
	SecurityPatrols int `yaml:"security_patrols"`
	PoliceUnits     int `yaml:"police_units"`
	MedicalUnits    int `yaml:"medical_units"`
	TransitVehicles int `yaml:"transit_vehicles"`
}

// EventConfig is one scripted scenario event, fired when the clock
// first reaches its time (HH:MM on the scenario start date).
type EventConfig struct {
	At       string  `yaml:"at"`
	Type     string  `yaml:"type"` // arrival_batch, event_start, medical_event, suspicious_person
	Venue    string  `yaml:"venue"`
	Count    int     `yaml:"count"`
	Severity int     `yaml:"severity"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
}

// ItineraryEntry is one planned stop applied to every civilian's
// schedule. Times are HH:MM on the scenario start date.
type ItineraryEntry struct {
	At       string `yaml:"at"`
	Venue    string `yaml:"venue"`
	Type     string `yaml:"type"`
	Priority int    `yaml:"priority"`
	Flexible *bool  `yaml:"flexible"` // nil means flexible
}

// AccessControlConfig gates venue entry on badge tokens.
type AccessControlConfig struct {
	BadgeRequired bool   `yaml:"badge_required"`
	BadgePrefix   string `yaml:"badge_prefix"`
}

// RoutingConfig tunes the navigation graph.
type RoutingConfig struct {
	Algorithm     string  `yaml:"algorithm"` // astar or dijkstra
	NearestK      int     `yaml:"nearest_k"`
	SnapThreshold float64 `yaml:"snap_threshold"`
}

// ScenarioConfig is the full description of one simulation run,
// typically loaded from YAML. Zero values are filled in by
// ApplyDefaults.
type ScenarioConfig struct {
	Name                string                 `yaml:"name"`
	StartTime           string                 `yaml:"start_time"`
	StepDurationSeconds float64                `yaml:"step_duration_seconds"`
	DurationHours       float64                `yaml:"duration_hours"`
	Seed                int64                  `yaml:"seed"`
	Weather             WeatherConfig          `yaml:"weather"`
	Bounds              *BoundsConfig          `yaml:"bounds"`
	Venues              map[string]VenueConfig `yaml:"venues"`
	Agents              AgentCounts            `yaml:"agents"`
	Events              []EventConfig          `yaml:"events"`
	Itinerary           []ItineraryEntry       `yaml:"itinerary"`
	AccessControl       AccessControlConfig    `yaml:"access_control"`
	Routing             RoutingConfig          `yaml:"routing"`
	GridSize            int                    `yaml:"grid_size"`
	LoadSyncInterval    int                    `yaml:"load_sync_interval"`
}

// ApplyDefaults fills unset fields with scenario defaults, logging a
// warning for each fallback so a misloaded config is visible.
func (c *ScenarioConfig) ApplyDefaults() {
	if c.StartTime == "" {
		c.StartTime = DefaultStartTime
	}
	if c.StepDurationSeconds <= 0 {
		logrus.Warnf("step_duration_seconds unset, using default %.0fs", DefaultStepSeconds)
		c.StepDurationSeconds = DefaultStepSeconds
	}
	if c.DurationHours <= 0 {
		logrus.Warnf("duration_hours unset, using default %.0fh", DefaultDurationHours)
		c.DurationHours = DefaultDurationHours
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	if c.Weather.TempC == 0 {
		c.Weather.TempC = 25.0
	}
	if c.Bounds == nil {
		c.Bounds = &BoundsConfig{LatMin: 36.0, LatMax: 36.2, LonMin: -115.3, LonMax: -115.1}
	}
	if len(c.Venues) == 0 {
		logrus.Warn("no venues configured, using default venue set")
		c.Venues = defaultVenues()
	}
	if c.Agents == (AgentCounts{}) {
		c.Agents = AgentCounts{
			Civilians:       50,
			Volunteers:      10,
			SecurityPatrols: 8,
			PoliceUnits:     5,
			MedicalUnits:    3,
			TransitVehicles: 4,
		}
	}
	if c.AccessControl.BadgePrefix == "" {
		c.AccessControl.BadgePrefix = DefaultBadgePrefix
	}
	if c.Routing.Algorithm == "" {
		c.Routing.Algorithm = string(routing.AlgorithmAStar)
	}
	if c.Routing.NearestK <= 0 {
		c.Routing.NearestK = routing.DefaultConfig().NearestNeighbors
	}
	if c.Routing.SnapThreshold <= 0 {
		c.Routing.SnapThreshold = routing.DefaultConfig().SnapThreshold
	}
	if c.GridSize <= 0 {
		c.GridSize = DefaultGridSize
	}
	if c.LoadSyncInterval <= 0 {
		c.LoadSyncInterval = DefaultLoadSyncInterval
	}
}

// Validate rejects configs the simulation cannot run with.
func (c *ScenarioConfig) Validate() error {
	if _, err := time.Parse(timeLayout, c.StartTime); err != nil {
		return fmt.Errorf("invalid start_time %q: %w", c.StartTime, err)
	}
	if c.StepDurationSeconds <= 0 {
		return fmt.Errorf("step_duration_seconds must be positive, got %v", c.StepDurationSeconds)
	}
	if c.DurationHours <= 0 {
		return fmt.Errorf("duration_hours must be positive, got %v", c.DurationHours)
	}
	if c.Bounds != nil {
		if c.Bounds.LatMax <= c.Bounds.LatMin || c.Bounds.LonMax <= c.Bounds.LonMin {
			return fmt.Errorf("degenerate bounds: %+v", *c.Bounds)
		}
	}
	for name, v := range c.Venues {
		if v.Capacity < 0 {
			return fmt.Errorf("venue %s: negative capacity %d", name, v.Capacity)
		}
	}
	for i, ev := range c.Events {
		if _, err := c.parseClock(ev.At); err != nil {
			return fmt.Errorf("event %d: invalid time %q: %w", i, ev.At, err)
		}
		switch ev.Type {
		case EventArrivalBatch, EventStart, EventMedicalEvent, EventSuspiciousPerson:
		default:
			return fmt.Errorf("event %d: unknown type %q", i, ev.Type)
		}
	}
	for i, it := range c.Itinerary {
		if _, err := c.parseClock(it.At); err != nil {
			return fmt.Errorf("itinerary entry %d: invalid time %q: %w", i, it.At, err)
		}
	}
	return nil
}

// startTime returns the parsed scenario start. Call after Validate.
func (c *ScenarioConfig) startTime() time.Time {
	t, err := time.Parse(timeLayout, c.StartTime)
	if err != nil {
		t, _ = time.Parse(timeLayout, DefaultStartTime)
	}
	return t
}

// parseClock resolves an HH:MM string onto the scenario start date.
func (c *ScenarioConfig) parseClock(hhmm string) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	start := c.startTime()
	return time.Date(start.Year(), start.Month(), start.Day(),
		clock.Hour(), clock.Minute(), 0, 0, start.Location()), nil
}

func defaultVenues() map[string]VenueConfig {
	return map[string]VenueConfig{
		"main_stadium": {Lat: 36.09, Lon: -115.18, Type: "stadium", Capacity: 2000},
		"arena":        {Lat: 36.12, Lon: -115.17, Type: "stadium", Capacity: 800},
		"hotel_north":  {Lat: 36.13, Lon: -115.20, Type: "hotel", Capacity: 400},
		"hotel_south":  {Lat: 36.06, Lon: -115.17, Type: "hotel", Capacity: 400},
		"hospital":     {Lat: 36.10, Lon: -115.22, Type: "hospital", Capacity: 300},
		"transit_hub":  {Lat: 36.08, Lon: -115.15, Type: "transit_hub", Capacity: 600},
		"airport":      {Lat: 36.08, Lon: -115.15, Type: "airport", Capacity: 1500},
	}
}
