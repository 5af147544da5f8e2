package sim

import (
	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Volunteer statuses.
const (
	StatusPatrolling = "patrolling"
	StatusResponding = "responding"
	StatusHelping    = "assisting"
)

const (
	volunteerSpeed       = 1.5 // m/s
	volunteerSightRadius = 0.02
	maxVolunteersPerSite = 2
)

// Volunteer is a first-aid helper who wanders an assigned area and
// converges on nearby incidents. Volunteers stabilize a scene but
// cannot resolve it; a police or medical unit must still arrive.
type Volunteer struct {
	baseAgent

	patrolCenter geo.Point
	patrolRange  float64
	target       geo.Point
	incidentID   string
}

func newVolunteer(id int, center geo.Point) *Volunteer {
	return &Volunteer{
		baseAgent:    baseAgent{id: id, role: RoleVolunteer, loc: center, status: StatusPatrolling},
		patrolCenter: center,
		patrolRange:  0.03,
	}
}

func (v *Volunteer) Step(w World) error {
	switch v.status {
	case StatusPatrolling:
		v.patrol(w)
	case StatusResponding:
		v.respond(w)
	case StatusHelping:
		v.help(w)
	}
	return nil
}

// patrol wanders the assigned area and picks up unattended incidents
// in sight. High-severity sites accept a second responder.
func (v *Volunteer) patrol(w World) {
	for _, inc := range w.ActiveIncidents() {
		if geo.Distance(v.loc, inc.Location) > volunteerSightRadius {
			continue
		}
		responders := v.respondersAt(w, inc.ID)
		if responders == 0 || (responders < maxVolunteersPerSite && inc.Severity >= 7) {
			v.incidentID = inc.ID
			v.target = inc.Location
			v.status = StatusResponding
			return
		}
	}

	if geo.Distance(v.loc, v.target) < waypointTol || v.target == (geo.Point{}) {
		rng := w.RNG(SubsystemAgents)
		v.target = geo.Point{
			X: v.patrolCenter.X + (rng.Float64()*2-1)*v.patrolRange,
			Y: v.patrolCenter.Y + (rng.Float64()*2-1)*v.patrolRange,
		}
	}
	v.loc, _ = moveToward(v.loc, v.target, volunteerSpeed*speedScale, w.StepSeconds())
}

func (v *Volunteer) respondersAt(w World, incidentID string) int {
	n := 0
	for _, a := range w.AgentsNear(v.patrolCenter, 1.0, RoleVolunteer) {
		if other, ok := a.(*Volunteer); ok && other.id != v.id && other.incidentID == incidentID {
			n++
		}
	}
	return n
}

func (v *Volunteer) respond(w World) {
	if !w.IncidentActive(v.incidentID) {
		v.clear()
		return
	}
	var reached bool
	v.loc, reached = moveToward(v.loc, v.target, volunteerSpeed*speedScale, w.StepSeconds())
	if reached || geo.Distance(v.loc, v.target) < arriveTol {
		v.status = StatusHelping
	}
}

// help holds the scene until the incident is resolved by a responder
// unit.
func (v *Volunteer) help(w World) {
	if !w.IncidentActive(v.incidentID) {
		v.clear()
	}
}

func (v *Volunteer) clear() {
	v.incidentID = ""
	v.status = StatusPatrolling
}
