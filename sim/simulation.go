package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/citysafe-sim/citysafe-sim/sim/alerts"
	"github.com/citysafe-sim/citysafe-sim/sim/analytics"
	"github.com/citysafe-sim/citysafe-sim/sim/geo"
	"github.com/citysafe-sim/citysafe-sim/sim/routing"
	"github.com/citysafe-sim/citysafe-sim/sim/schedule"
)

// Simulation is the deterministic discrete-time kernel. One Step
// advances the clock by the configured duration and runs the fixed
// phase sequence; ShouldContinue is a pure query over the result.
//
// Step and GetState may be called from different goroutines: Step
// serializes under a write lock, snapshots read under a read lock.
type Simulation struct {
	mu sync.RWMutex

	cfg          ScenarioConfig
	startTime    time.Time
	currentTime  time.Time
	endTime      time.Time
	stepDuration time.Duration
	stepCount    int64
	done         bool

	rng    *PartitionedRNG
	bounds geo.Bounds

	venues     map[string]*Venue
	venueOrder []string
	hospitals  []geo.Point

	graph       *routing.Graph
	coordinator *alerts.Coordinator
	scheduler   *schedule.Scheduler
	engine      *analytics.Engine

	agents       []Agent
	nextAgentID  int
	civilians    []*Civilian
	volunteers   []*Volunteer
	patrols      []*SecurityPatrol
	police       []*PoliceUnit
	medicalFleet []*MedicalUnit
	transit      []*TransitVehicle
	command      *CommandNode

	incidents        map[string]*Incident
	incidentOrder    []string
	incidentSeq      int64
	medicalIncidents map[int]string // civilian id -> incident id

	pendingEvents []scenarioEvent

	metrics         Metrics
	responseSamples []float64
}

// NewSimulation builds a runnable world from the scenario config.
func NewSimulation(cfg ScenarioConfig) (*Simulation, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario config: %w", err)
	}

	start := cfg.startTime()
	s := &Simulation{
		cfg:          cfg,
		startTime:    start,
		currentTime:  start,
		endTime:      start.Add(time.Duration(cfg.DurationHours * float64(time.Hour))),
		stepDuration: time.Duration(cfg.StepDurationSeconds * float64(time.Second)),
		rng:          NewPartitionedRNG(cfg.Seed),
		bounds: geo.Bounds{
			LatMin: cfg.Bounds.LatMin, LatMax: cfg.Bounds.LatMax,
			LonMin: cfg.Bounds.LonMin, LonMax: cfg.Bounds.LonMax,
		},
		venues:           make(map[string]*Venue),
		incidents:        make(map[string]*Incident),
		medicalIncidents: make(map[int]string),
	}

	s.buildVenues()
	s.buildGraph()

	s.coordinator = alerts.NewCoordinator(s, alerts.DefaultConfig())
	s.scheduler = schedule.NewScheduler(s, s.rng.ForSubsystem(SubsystemDelays))
	s.engine = analytics.NewEngine(s, cfg.GridSize)

	s.spawnAgents()
	s.buildItineraries()
	s.queueScenarioEvents()

	logrus.WithFields(logrus.Fields{
		"scenario": cfg.Name,
		"seed":     cfg.Seed,
		"agents":   len(s.agents),
		"venues":   len(s.venueOrder),
		"duration": s.endTime.Sub(s.startTime),
		"step":     s.stepDuration,
	}).Info("simulation initialized")
	return s, nil
}

func (s *Simulation) buildVenues() {
	names := make([]string, 0, len(s.cfg.Venues))
	for name := range s.cfg.Venues {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		vc := s.cfg.Venues[name]
		accessible := vc.Accessible == nil || *vc.Accessible
		v := &Venue{
			ID:         name,
			Type:       vc.Type,
			Loc:        s.bounds.Normalize(vc.Lat, vc.Lon),
			Lat:        vc.Lat,
			Lon:        vc.Lon,
			Capacity:   vc.Capacity,
			Accessible: accessible,
		}
		s.venues[name] = v
		s.venueOrder = append(s.venueOrder, name)
		if vc.Type == "hospital" {
			s.hospitals = append(s.hospitals, v.Loc)
		}
	}
}

// buildGraph turns the venue set into the navigation graph: one node
// per venue plus synthetic midpoint intersections, connected by
// K-nearest-neighbor edges.
func (s *Simulation) buildGraph() {
	s.graph = routing.NewGraph(routing.Config{
		NearestNeighbors: s.cfg.Routing.NearestK,
		SnapThreshold:    s.cfg.Routing.SnapThreshold,
	})
	for _, name := range s.venueOrder {
		v := s.venues[name]
		s.graph.AddNode(name, v.Loc, v.Type, v.Accessible, float64(v.Capacity))
	}
	// Midpoint intersections densify the network between venue pairs.
	for i, a := range s.venueOrder {
		for _, b := range s.venueOrder[i+1:] {
			va, vb := s.venues[a], s.venues[b]
			if geo.Distance(va.Loc, vb.Loc) > 0.15 {
				continue
			}
			mid := geo.Interpolate(va.Loc, vb.Loc, 0.5)
			id := fmt.Sprintf("x_%s_%s", a, b)
			s.graph.AddNode(id, mid, "intersection", true, 200)
		}
	}
	s.graph.Connect()
}

func (s *Simulation) spawnAgents() {
	rng := s.rng.ForSubsystem(SubsystemSpawn)
	counts := s.cfg.Agents

	spawnAt := s.venueByType("airport")
	if spawnAt == nil {
		spawnAt = s.venueByType("transit_hub")
	}
	origin := geo.Point{X: 0.5, Y: 0.5}
	if spawnAt != nil {
		origin = spawnAt.Loc
	}

	for i := 0; i < counts.Civilians; i++ {
		mobility := MobilityStandard
		switch roll := rng.Float64(); {
		case roll < 0.03:
			mobility = MobilityWheelchair
		case roll < 0.10:
			mobility = MobilityReduced
		}
		badge := ""
		if s.cfg.AccessControl.BadgeRequired {
			if rng.Float64() < 0.95 {
				badge = fmt.Sprintf("%s%04d", s.cfg.AccessControl.BadgePrefix, i)
			} else {
				badge = fmt.Sprintf("GUEST_%04d", i)
			}
		}
		c := newCivilian(
			s.claimID(), jitter(origin, 0.01, rng),
			mobility, badge,
			rng.Float64() < 0.02,     // vip
			0.005+rng.Float64()*0.01, // per-hour medical risk
			0.85+rng.Float64()*0.30,  // speed jitter
		)
		s.civilians = append(s.civilians, c)
		s.agents = append(s.agents, c)
	}

	for i := 0; i < counts.Volunteers; i++ {
		v := newVolunteer(s.claimID(), geo.Point{
			X: 0.3 + rng.Float64()*0.4,
			Y: 0.3 + rng.Float64()*0.4,
		})
		s.volunteers = append(s.volunteers, v)
		s.agents = append(s.agents, v)
	}

	guarded := s.venuesOfTypes("stadium", "hotel")
	if len(guarded) == 0 {
		guarded = s.allVenues()
	}
	for i := 0; i < counts.SecurityPatrols; i++ {
		venue := guarded[i%len(guarded)]
		p := newSecurityPatrol(s.claimID(), fmt.Sprintf("security_%d", i), venue)
		s.patrols = append(s.patrols, p)
		s.agents = append(s.agents, p)
	}

	for i := 0; i < counts.PoliceUnits; i++ {
		u := newPoliceUnit(s.claimID(), fmt.Sprintf("police_%d", i),
			jitter(geo.Point{X: 0.5, Y: 0.5}, 0.05, rng))
		s.police = append(s.police, u)
		s.agents = append(s.agents, u)
	}

	medBase := geo.Point{X: 0.5, Y: 0.5}
	if len(s.hospitals) > 0 {
		medBase = s.hospitals[0]
	}
	for i := 0; i < counts.MedicalUnits; i++ {
		m := newMedicalUnit(s.claimID(), fmt.Sprintf("medical_%d", i), jitter(medBase, 0.01, rng))
		s.medicalFleet = append(s.medicalFleet, m)
		s.agents = append(s.agents, m)
	}

	route := s.transitRoute()
	for i := 0; i < counts.TransitVehicles; i++ {
		t := newTransitVehicle(s.claimID(), rotateRoute(route, i))
		s.transit = append(s.transit, t)
		s.agents = append(s.agents, t)
	}

	s.command = newCommandNode(s.claimID(), geo.Point{X: 0.5, Y: 0.5})
	s.agents = append(s.agents, s.command)
}

// buildItineraries seeds the scheduler. A configured itinerary applies
// to every civilian; otherwise each civilian gets one randomized stop
// so the delay model always has material to work on.
func (s *Simulation) buildItineraries() {
	rng := s.rng.ForSubsystem(SubsystemSpawn)
	stadiums := s.venuesOfTypes("stadium")
	if len(stadiums) == 0 {
		stadiums = s.allVenues()
	}

	for _, c := range s.civilians {
		var events []*schedule.Event
		if len(s.cfg.Itinerary) > 0 {
			for _, entry := range s.cfg.Itinerary {
				at, _ := s.cfg.parseClock(entry.At)
				loc := geo.Point{X: 0.5, Y: 0.5}
				if v, ok := s.venues[entry.Venue]; ok {
					loc = v.Loc
				}
				flexible := entry.Flexible == nil || *entry.Flexible
				eventType := entry.Type
				if eventType == "" {
					eventType = "visit_" + entry.Venue
				}
				events = append(events, schedule.NewEvent(c.id, eventType, loc, at, entry.Priority, flexible))
			}
		} else {
			venue := stadiums[rng.Intn(len(stadiums))]
			at := s.startTime.Add(time.Duration(30+rng.Intn(60)) * time.Minute)
			events = append(events, schedule.NewEvent(c.id, "visit_"+venue.ID, venue.Loc, at, 3+rng.Intn(6), true))
		}
		s.scheduler.SetSchedule(c.id, events)
	}
}

// Step advances the world by one tick through the fixed phase
// sequence. Any single agent's panic is contained and logged; the
// rest of the population still steps.
func (s *Simulation) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}

	s.stepCount++
	s.currentTime = s.currentTime.Add(s.stepDuration)

	s.applyScenarioEvents()
	s.injectDynamicEvents()
	s.dispatchPendingMedicals()
	s.stepAgents()
	s.syncCongestion()

	s.coordinator.SetVIPLocations(s.vipLocations())
	s.coordinator.RefreshAll()
	if expired := s.coordinator.ExpireSweep(); expired > 0 {
		logrus.Debugf("expired %d stale alerts", expired)
	}

	s.engine.RecordStep(s.currentTime, s.metrics.Map())
	s.updateMetrics()

	s.done = !s.currentTime.Before(s.endTime)
}

// ShouldContinue reports whether the scenario clock has not yet
// reached its end. Pure query: it never advances state.
func (s *Simulation) ShouldContinue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.done
}

// Run steps the simulation to completion.
func (s *Simulation) Run() {
	for s.ShouldContinue() {
		s.Step()
	}
	logrus.WithFields(logrus.Fields{
		"steps": s.stepCount,
		"end":   s.currentTime.Format(timeLayout),
	}).Info("simulation complete")
}

// stepAgents activates every agent once, in an order reshuffled each
// step from the activation stream.
func (s *Simulation) stepAgents() {
	order := s.rng.ForSubsystem(SubsystemActivation).Perm(len(s.agents))
	for _, idx := range order {
		s.stepAgent(s.agents[idx])
	}
}

func (s *Simulation) stepAgent(a Agent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("agent %d (%s) panicked during step %d: %v", a.ID(), a.Role(), s.stepCount, r)
		}
	}()
	if err := a.Step(s); err != nil {
		logrus.Warnf("agent %d (%s) step error: %v", a.ID(), a.Role(), err)
	}
}

// syncCongestion feeds heatmap density back into graph node loads on
// the configured cadence.
func (s *Simulation) syncCongestion() {
	if s.stepCount%int64(s.cfg.LoadSyncInterval) != 0 {
		return
	}
	s.engine.SyncNodeLoads(s.graph, venueRadius)
}

// --- World implementation -----------------------------------------------

func (s *Simulation) Now() time.Time          { return s.currentTime }
func (s *Simulation) StepSeconds() float64    { return s.cfg.StepDurationSeconds }
func (s *Simulation) Weather() WeatherConfig  { return s.cfg.Weather }
func (s *Simulation) HeatAlert() bool         { return s.cfg.Weather.HeatAlert }
func (s *Simulation) Scheduler() *schedule.Scheduler { return s.scheduler }

func (s *Simulation) RNG(subsystem string) *rand.Rand {
	return s.rng.ForSubsystem(subsystem)
}

func (s *Simulation) AgentsNear(loc geo.Point, radius float64, role Role) []Agent {
	var out []Agent
	for _, a := range s.agents {
		if role != AnyRole && a.Role() != role {
			continue
		}
		if geo.Distance(loc, a.Location()) <= radius {
			out = append(out, a)
		}
	}
	return out
}

func (s *Simulation) CountNear(loc geo.Point, radius float64, role Role) int {
	n := 0
	for _, a := range s.agents {
		if role != AnyRole && a.Role() != role {
			continue
		}
		if geo.Distance(loc, a.Location()) <= radius {
			n++
		}
	}
	return n
}

// hotspotAvoidFactor scales the temporary load boost, in multiples of
// a node's capacity, applied near active threat hotspots.
const hotspotAvoidFactor = 4.0

// FindPath routes through the navigation graph. Graph nodes near the
// command center's current threat hotspots carry a temporary load
// boost so public routes are steered around them.
func (s *Simulation) FindPath(start, end geo.Point, accessible bool) []geo.Point {
	alg := routing.Algorithm(s.cfg.Routing.Algorithm)
	if boosts := s.hotspotBoosts(); len(boosts) > 0 {
		return s.graph.FindPathAvoiding(start, end, accessible, alg, boosts)
	}
	return s.graph.FindPath(start, end, accessible, alg)
}

func (s *Simulation) hotspotBoosts() map[string]float64 {
	if s.command == nil {
		return nil
	}
	var boosts map[string]float64
	for _, h := range s.command.Hotspots() {
		n := s.graph.NearestNode(h, s.cfg.Routing.SnapThreshold)
		if n == nil || n.Capacity <= 0 {
			continue
		}
		if boosts == nil {
			boosts = make(map[string]float64)
		}
		boosts[n.ID] += hotspotAvoidFactor * n.Capacity
	}
	return boosts
}

func (s *Simulation) NearestHospital(loc geo.Point) (geo.Point, bool) {
	if len(s.hospitals) == 0 {
		return geo.Point{}, false
	}
	best := s.hospitals[0]
	for _, h := range s.hospitals[1:] {
		if geo.Distance(loc, h) < geo.Distance(loc, best) {
			best = h
		}
	}
	return best, true
}

func (s *Simulation) Venues() []*Venue { return s.allVenues() }

func (s *Simulation) ActiveIncidents() []*Incident {
	out := make([]*Incident, 0, len(s.incidents))
	for _, id := range s.incidentOrder {
		if inc, ok := s.incidents[id]; ok {
			out = append(out, inc)
		}
	}
	return out
}

func (s *Simulation) IncidentActive(id string) bool {
	_, ok := s.incidents[id]
	return ok
}

// ClaimIncident grants exclusive responder ownership. The alert
// assignment mirrors the claim when the alert is still live.
func (s *Simulation) ClaimIncident(inc *Incident, unitID string) bool {
	if inc == nil || inc.AssignedUnit != "" {
		return false
	}
	if _, ok := s.incidents[inc.ID]; !ok {
		return false
	}
	inc.AssignedUnit = unitID
	s.coordinator.Assign(inc.ID, unitID)
	return true
}

// ResolveIncident closes an incident and its mirrored alert.
// Idempotent: resolving an unknown or already-closed id is a no-op.
func (s *Simulation) ResolveIncident(id string) {
	inc, ok := s.incidents[id]
	if !ok {
		return
	}
	delete(s.incidents, id)
	s.metrics.ResolvedIncidents++
	s.coordinator.Resolve(id)
	logrus.WithFields(logrus.Fields{
		"incident": id,
		"type":     inc.Type,
		"unit":     inc.AssignedUnit,
		"age":      inc.Age(s.currentTime),
	}).Info("incident resolved")
}

// RaiseAlert ingests an externally sourced alert under the kernel
// lock, so a concurrent Step cannot race the coordinator's environment
// reads. In-simulation alerts go through incident registration instead.
func (s *Simulation) RaiseAlert(alertType string, loc geo.Point) alerts.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinator.Register("", alertType, loc)
}

func (s *Simulation) AlertsNear(loc geo.Point, radius float64) []alerts.Snapshot {
	return s.coordinator.ActiveNear(loc, radius)
}

func (s *Simulation) TopAlerts(n int) []alerts.Snapshot {
	return s.coordinator.TopAlerts(n)
}

func (s *Simulation) ResolveAlert(id string) {
	s.coordinator.Resolve(id)
	// An alert raised for an incident closes the incident too.
	if _, ok := s.incidents[id]; ok {
		s.ResolveIncident(id)
	}
}

func (s *Simulation) RecordResponseTime(loc geo.Point, seconds float64) {
	if seconds < 0 {
		return
	}
	s.responseSamples = append(s.responseSamples, seconds)
	s.engine.RecordResponseTime(loc, seconds)
}

func (s *Simulation) RecordThreat(loc geo.Point, level float64) {
	s.engine.RecordThreat(loc, level)
}

// --- alerts.Environment / schedule.Environment --------------------------

func (s *Simulation) PopulationNear(loc geo.Point, radius float64) int {
	return s.CountNear(loc, radius, RoleCivilian)
}

func (s *Simulation) DelayedTransitNear(loc geo.Point, radius float64) int {
	n := 0
	for _, t := range s.transit {
		if t.Status() == StatusOutOfService && geo.Distance(loc, t.Location()) <= radius {
			n++
		}
	}
	return n
}

func (s *Simulation) IncidentsNear(loc geo.Point, radius float64) int {
	n := 0
	for _, inc := range s.incidents {
		if !inc.Medical() && geo.Distance(loc, inc.Location) <= radius {
			n++
		}
	}
	return n
}

// --- analytics.Registry --------------------------------------------------

func (s *Simulation) EachPosition(fn func(agentID int, role string, loc geo.Point)) {
	for _, a := range s.agents {
		fn(a.ID(), string(a.Role()), a.Location())
	}
}

func (s *Simulation) IncidentSites() []analytics.IncidentSite {
	out := make([]analytics.IncidentSite, 0, len(s.incidents))
	for _, id := range s.incidentOrder {
		inc, ok := s.incidents[id]
		if !ok {
			continue
		}
		out = append(out, analytics.IncidentSite{
			Type:     inc.Type,
			Location: inc.Location,
			Medical:  inc.Medical(),
		})
	}
	return out
}

// --- accessors -----------------------------------------------------------

// Coordinator exposes the alert coordinator for subscriptions,
// queries and statistics. Ingesting alerts from outside the step loop
// goes through RaiseAlert, which holds the kernel lock around the
// coordinator's environment reads.
func (s *Simulation) Coordinator() *alerts.Coordinator { return s.coordinator }

// Analytics exposes the analytics engine for export.
func (s *Simulation) Analytics() *analytics.Engine { return s.engine }

// Metrics returns the last computed rollup.
func (s *Simulation) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// StepCount returns the number of completed steps.
func (s *Simulation) StepCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepCount
}

// CurrentTime returns the scenario clock.
func (s *Simulation) CurrentTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTime
}

// --- helpers -------------------------------------------------------------

func (s *Simulation) vipLocations() []geo.Point {
	var out []geo.Point
	for _, c := range s.civilians {
		if c.vip {
			out = append(out, c.loc)
		}
	}
	return out
}

func (s *Simulation) claimID() int {
	id := s.nextAgentID
	s.nextAgentID++
	return id
}

func (s *Simulation) venueByType(venueType string) *Venue {
	for _, name := range s.venueOrder {
		if s.venues[name].Type == venueType {
			return s.venues[name]
		}
	}
	return nil
}

func (s *Simulation) venuesOfTypes(types ...string) []*Venue {
	var out []*Venue
	for _, name := range s.venueOrder {
		v := s.venues[name]
		for _, t := range types {
			if v.Type == t {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func (s *Simulation) allVenues() []*Venue {
	out := make([]*Venue, 0, len(s.venueOrder))
	for _, name := range s.venueOrder {
		out = append(out, s.venues[name])
	}
	return out
}

// transitRoute visits transit hubs first, then stadiums and hotels,
// forming the shuttle loop.
func (s *Simulation) transitRoute() []geo.Point {
	var route []geo.Point
	for _, v := range s.venuesOfTypes("transit_hub", "airport") {
		route = append(route, v.Loc)
	}
	for _, v := range s.venuesOfTypes("stadium", "hotel") {
		route = append(route, v.Loc)
	}
	if len(route) == 0 {
		for _, v := range s.allVenues() {
			route = append(route, v.Loc)
		}
	}
	return route
}

func rotateRoute(route []geo.Point, offset int) []geo.Point {
	if len(route) == 0 {
		return nil
	}
	offset %= len(route)
	out := make([]geo.Point, 0, len(route))
	out = append(out, route[offset:]...)
	out = append(out, route[:offset]...)
	return out
}

func jitter(p geo.Point, r float64, rng *rand.Rand) geo.Point {
	return geo.Point{
		X: p.X + (rng.Float64()*2-1)*r,
		Y: p.Y + (rng.Float64()*2-1)*r,
	}
}
