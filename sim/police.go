package sim

import (
	"math"
	"time"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Responder unit statuses shared by police and medical.
const (
	StatusAvailable  = "available"
	StatusDispatched = "dispatched"
	StatusOnScene    = "on_scene"
)

const (
	policeSpeed          = 15.0 // m/s, vehicle
	policeResponseRadius = 0.05
	policeDispatchDelay  = 120 * time.Second
	policeCrowdHigh      = 10
	policeCrowdLow       = 5
)

// incidentWeight orders incident types for dispatch selection.
var incidentWeight = map[string]float64{
	IncidentSuspiciousPerson: 0.8,
	IncidentAccessDenied:     0.7,
	IncidentCrowdSurge:       0.6,
	IncidentMedicalEvent:     0.4,
}

func weightFor(incidentType string) float64 {
	if w, ok := incidentWeight[incidentType]; ok {
		return w
	}
	return 0.5
}

// PoliceUnit is a vehicle-based responder that claims security
// incidents exclusively and holds the scene until resolution. A
// dispatch delay models mobilization time before the unit moves.
type PoliceUnit struct {
	baseAgent

	unitID       string
	incident     *Incident
	dispatchedAt time.Time
	arrivedAt    time.Time
}

func newPoliceUnit(id int, unitID string, loc geo.Point) *PoliceUnit {
	return &PoliceUnit{
		baseAgent: baseAgent{id: id, role: RolePolice, loc: loc, status: StatusAvailable},
		unitID:    unitID,
	}
}

// UnitID is the unit's dispatch identity used in claims and alert
// assignments.
func (p *PoliceUnit) UnitID() string { return p.unitID }

// Idle reports whether the unit can accept a new dispatch.
func (p *PoliceUnit) Idle() bool { return p.status == StatusAvailable }

func (p *PoliceUnit) Step(w World) error {
	switch p.status {
	case StatusAvailable:
		p.selectIncident(w)
	case StatusDispatched:
		p.drive(w)
	case StatusOnScene:
		p.holdScene(w)
	case StatusCrowdManagement:
		if w.CountNear(p.loc, venueRadius, RoleCivilian) < policeCrowdLow {
			p.status = StatusOnScene
		}
	}
	return nil
}

// selectIncident scores every unclaimed non-medical incident and
// claims the best. Score favors severe types, then proximity inside
// the response radius, then crowd pressure at the scene.
func (p *PoliceUnit) selectIncident(w World) {
	var best *Incident
	bestScore := 0.0
	for _, inc := range w.ActiveIncidents() {
		if inc.AssignedUnit != "" || inc.Medical() {
			continue
		}
		score := weightFor(inc.Type)
		if d := geo.Distance(p.loc, inc.Location); d < policeResponseRadius {
			score += 0.2 * (1.0 - d/policeResponseRadius)
		}
		if crowd := w.CountNear(inc.Location, venueRadius, RoleCivilian); crowd > 0 {
			score += 0.1 * math.Min(1.0, float64(crowd)/20.0)
		}
		if score > bestScore {
			best = inc
			bestScore = score
		}
	}
	if best == nil {
		return
	}
	p.DispatchTo(best, w)
}

// DispatchTo claims the incident for this unit. The claim is
// exclusive: a false return means another unit won the race and the
// caller keeps its current state.
func (p *PoliceUnit) DispatchTo(inc *Incident, w World) bool {
	if p.status != StatusAvailable {
		return false
	}
	if !w.ClaimIncident(inc, p.unitID) {
		return false
	}
	p.incident = inc
	p.dispatchedAt = w.Now()
	p.status = StatusDispatched
	return true
}

func (p *PoliceUnit) drive(w World) {
	if p.incident == nil || !w.IncidentActive(p.incident.ID) {
		p.release()
		return
	}
	// Mobilization delay before wheels turn.
	if w.Now().Sub(p.dispatchedAt) < policeDispatchDelay {
		return
	}
	next, reached := moveToward(p.loc, p.incident.Location, policeSpeed*speedScale, w.StepSeconds())
	p.loc = next
	if reached || geo.Distance(p.loc, p.incident.Location) < arriveTol {
		p.arrivedAt = w.Now()
		w.RecordResponseTime(p.loc, p.arrivedAt.Sub(p.dispatchedAt).Seconds())
		p.status = StatusOnScene
	}
}

func (p *PoliceUnit) holdScene(w World) {
	if p.incident == nil || !w.IncidentActive(p.incident.ID) {
		p.release()
		return
	}
	if w.CountNear(p.loc, venueRadius, RoleCivilian) > policeCrowdHigh {
		p.status = StatusCrowdManagement
		return
	}
	w.ResolveIncident(p.incident.ID)
	p.release()
}

func (p *PoliceUnit) release() {
	p.incident = nil
	p.status = StatusAvailable
}
