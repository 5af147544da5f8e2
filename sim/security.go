package sim

import (
	"math"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Security patrol statuses.
const (
	StatusCrowdManagement = "crowd_management"
	StatusCoordinating    = "coordinating"
)

const (
	patrolSpeed          = 1.2 // m/s
	responseSpeed        = 2.0
	coverageRadius       = 0.02
	defaultThreatLimit   = 0.7
	patrolRouteRadius    = 0.01
	patrolRoutePoints    = 8
	threatRouteInsertion = 0.3
)

// SecurityPatrol guards one venue on a circular beat, continuously
// scoring local threat from alerts, incidents and crowd pressure.
// Crossing the threat threshold breaks the beat and sends the patrol
// to the hottest point.
type SecurityPatrol struct {
	baseAgent

	unitID      string
	venueID     string
	venueLoc    geo.Point
	route       []geo.Point
	baseRoute   []geo.Point
	routeIdx    int
	threatLimit float64
	threatLevel float64

	target        geo.Point
	targetAlertID string
	responseStart float64 // seconds since scenario start, -1 when idle
}

func newSecurityPatrol(id int, unitID string, venue *Venue) *SecurityPatrol {
	route := make([]geo.Point, 0, patrolRoutePoints)
	for i := 0; i < patrolRoutePoints; i++ {
		angle := 2 * math.Pi * float64(i) / patrolRoutePoints
		route = append(route, geo.Point{
			X: venue.Loc.X + patrolRouteRadius*math.Cos(angle),
			Y: venue.Loc.Y + patrolRouteRadius*math.Sin(angle),
		})
	}
	return &SecurityPatrol{
		baseAgent:     baseAgent{id: id, role: RoleSecurity, loc: venue.Loc, status: StatusPatrolling},
		unitID:        unitID,
		venueID:       venue.ID,
		venueLoc:      venue.Loc,
		route:         route,
		baseRoute:     append([]geo.Point(nil), route...),
		threatLimit:   defaultThreatLimit,
		responseStart: -1,
	}
}

// UnitID is the patrol's dispatch identity used in alert assignments.
func (s *SecurityPatrol) UnitID() string { return s.unitID }

// ThreatLevel is the last computed local threat score in [0,1].
func (s *SecurityPatrol) ThreatLevel() float64 { return s.threatLevel }

// PrependWaypoint inserts a command-directed location at the front of
// the patrol beat. The beat reverts to its base circuit afterwards.
func (s *SecurityPatrol) PrependWaypoint(p geo.Point) {
	if s.status != StatusPatrolling {
		return
	}
	s.route = append([]geo.Point{p}, s.baseRoute...)
	s.routeIdx = 0
}

func (s *SecurityPatrol) Step(w World) error {
	s.threatLevel = s.assessThreat(w)
	w.RecordThreat(s.loc, s.threatLevel)

	switch s.status {
	case StatusPatrolling:
		s.patrolBeat(w)
	case StatusResponding:
		s.respond(w)
	case StatusCrowdManagement:
		s.manageCrowd(w)
	case StatusCoordinating:
		s.coordinate(w)
	}
	return nil
}

// assessThreat blends alert proximity, incident count and crowd
// pressure into a [0,1] score.
func (s *SecurityPatrol) assessThreat(w World) float64 {
	score := 0.0

	nearest := math.Inf(1)
	for _, a := range w.AlertsNear(s.loc, coverageRadius) {
		if d := geo.Distance(s.loc, a.Location); d < nearest {
			nearest = d
		}
	}
	if !math.IsInf(nearest, 1) {
		score += 0.6 * (1.0 - nearest/coverageRadius)
	}

	for _, inc := range w.ActiveIncidents() {
		if geo.Distance(s.loc, inc.Location) <= coverageRadius {
			score += 0.3
		}
	}

	if crowd := w.CountNear(s.loc, coverageRadius, RoleCivilian); crowd > 10 {
		score += 0.2 * math.Min(1.0, float64(crowd)/20.0)
	}

	return math.Min(1.0, score)
}

func (s *SecurityPatrol) patrolBeat(w World) {
	// A medical transport moving through the coverage area takes
	// precedence: the patrol holds and escorts it out.
	for _, a := range w.AgentsNear(s.loc, coverageRadius, RoleMedical) {
		if m, ok := a.(*MedicalUnit); ok && m.Status() == StatusTransporting {
			s.status = StatusCoordinating
			return
		}
	}

	// An alert in the coverage area, or threat above threshold, pulls
	// the patrol off its beat.
	for _, a := range w.AlertsNear(s.venueLoc, coverageRadius) {
		s.target = a.Location
		s.targetAlertID = a.ID
		s.startResponse(w)
		return
	}
	if s.threatLevel > s.threatLimit {
		s.target = s.hottestPoint(w)
		s.targetAlertID = ""
		s.startResponse(w)
		return
	}

	// Elevated but sub-threshold threat bends the beat toward the
	// threat location without abandoning the circuit.
	if s.threatLevel > threatRouteInsertion {
		s.PrependWaypoint(s.hottestPoint(w))
	}

	if len(s.route) == 0 {
		return
	}
	next, reached := moveToward(s.loc, s.route[s.routeIdx], patrolSpeed*speedScale, w.StepSeconds())
	s.loc = next
	if reached {
		s.routeIdx++
		if s.routeIdx >= len(s.route) {
			s.route = append([]geo.Point(nil), s.baseRoute...)
			s.routeIdx = 0
		}
	}
}

// hottestPoint picks the nearest incident location, falling back to
// the venue center.
func (s *SecurityPatrol) hottestPoint(w World) geo.Point {
	best := s.venueLoc
	bestDist := math.Inf(1)
	for _, inc := range w.ActiveIncidents() {
		if d := geo.Distance(s.loc, inc.Location); d < bestDist {
			best = inc.Location
			bestDist = d
		}
	}
	return best
}

func (s *SecurityPatrol) startResponse(w World) {
	s.status = StatusResponding
	s.responseStart = float64(s.stepClock(w))
}

func (s *SecurityPatrol) stepClock(w World) int64 {
	return w.Now().Unix()
}

func (s *SecurityPatrol) respond(w World) {
	next, reached := moveToward(s.loc, s.target, responseSpeed*speedScale, w.StepSeconds())
	s.loc = next
	if !reached && geo.Distance(s.loc, s.target) >= arriveTol {
		return
	}

	if s.responseStart >= 0 {
		w.RecordResponseTime(s.loc, float64(s.stepClock(w))-s.responseStart)
		s.responseStart = -1
	}
	if s.targetAlertID != "" {
		w.ResolveAlert(s.targetAlertID)
		s.targetAlertID = ""
	}

	if w.CountNear(s.loc, coverageRadius, RoleCivilian) > 5 {
		s.status = StatusCrowdManagement
	} else {
		s.resumePatrol()
	}
}

func (s *SecurityPatrol) manageCrowd(w World) {
	if w.CountNear(s.loc, coverageRadius, RoleCivilian) < 3 {
		s.resumePatrol()
	}
}

// coordinate holds position while a medical transport passes through
// the patrol's coverage area.
func (s *SecurityPatrol) coordinate(w World) {
	for _, a := range w.AgentsNear(s.loc, coverageRadius, RoleMedical) {
		if m, ok := a.(*MedicalUnit); ok && m.Status() == StatusTransporting {
			return
		}
	}
	s.resumePatrol()
}

func (s *SecurityPatrol) resumePatrol() {
	s.status = StatusPatrolling
	s.route = append([]geo.Point(nil), s.baseRoute...)
	s.routeIdx = 0
}
