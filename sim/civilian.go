package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// speedScale converts meters/second into unit-space distance/second.
// The scenario bounds span roughly 20km, so 1 unit is 20km.
const speedScale = 1.0 / 20000.0

// Mobility classes. Wheelchair users require accessible routes.
const (
	MobilityStandard   = "standard"
	MobilityReduced    = "reduced"
	MobilityWheelchair = "wheelchair"
)

// Civilian statuses.
const (
	StatusWaiting     = "waiting"
	StatusTraveling   = "traveling"
	StatusRiding      = "riding"
	StatusAtVenue     = "at_venue"
	StatusEmergency   = "emergency"
	StatusAssisting   = "assisting"
	StatusTransported = "transported"
	StatusRetired     = "retired"
)

const (
	baseWalkSpeed       = 1.4 // m/s
	reducedWalkSpeed    = 1.0
	wheelchairSpeed     = 0.8
	congestionRadius    = 0.005
	congestionThreshold = 5
	assistRadius        = 0.01
	assistProbability   = 0.30
)

// Civilian is a member of the public moving between venues on a
// personal itinerary. Civilians are the population every density and
// crowding computation counts.
type Civilian struct {
	baseAgent

	mobility    string
	badge       string
	vip         bool
	medicalRisk float64 // per-hour event probability at baseline temperature
	speed       float64 // unit-space distance per second

	target      geo.Point
	path        []geo.Point
	pathIdx     int
	assistingID int
	escorted    bool
}

func newCivilian(id int, loc geo.Point, mobility, badge string, vip bool, risk, speedJitter float64) *Civilian {
	base := baseWalkSpeed
	switch mobility {
	case MobilityReduced:
		base = reducedWalkSpeed
	case MobilityWheelchair:
		base = wheelchairSpeed
	}
	return &Civilian{
		baseAgent:   baseAgent{id: id, role: RoleCivilian, loc: loc, status: StatusWaiting},
		mobility:    mobility,
		badge:       badge,
		vip:         vip,
		medicalRisk: risk,
		speed:       base * speedJitter * speedScale,
		assistingID: -1,
	}
}

// Badge returns the civilian's access token, empty when none was
// issued.
func (c *Civilian) Badge() string { return c.badge }

// VIP reports protected-person status, which tightens alert priority
// near the civilian.
func (c *Civilian) VIP() bool { return c.vip }

// InEmergency reports whether the civilian has an unresolved medical
// event.
func (c *Civilian) InEmergency() bool { return c.status == StatusEmergency }

func (c *Civilian) Step(w World) error {
	switch c.status {
	case StatusEmergency, StatusTransported, StatusRetired:
		return nil
	}

	if c.rollMedicalEvent(w) {
		c.status = StatusEmergency
		w.ReportMedicalEmergency(c)
		return nil
	}

	switch c.status {
	case StatusWaiting:
		c.checkItinerary(w)
	case StatusTraveling:
		c.travel(w)
	case StatusRiding:
		// Aboard a shuttle. The vehicle moves the civilian and decides
		// when to release them back to traveling.
	case StatusAtVenue:
		if !c.maybeAssist(w) {
			c.checkItinerary(w)
		}
	case StatusAssisting:
		c.assist(w)
	}
	return nil
}

// rollMedicalEvent draws the per-step medical event probability,
// scaled up in extreme heat.
func (c *Civilian) rollMedicalEvent(w World) bool {
	if c.medicalRisk <= 0 {
		return false
	}
	factor := 1.0
	if t := w.Weather().TempC; t > 35 {
		factor = 1.5 + (t-35)*0.1
	}
	p := c.medicalRisk * factor * w.StepSeconds() / 3600.0
	return w.RNG(SubsystemAgents).Float64() < p
}

// checkItinerary consults the scheduler: delay checks run first, then
// the next event becomes the travel target once its effective time
// arrives.
func (c *Civilian) checkItinerary(w World) {
	sched := w.Scheduler()
	delays := sched.CheckDelays(c.id, c.loc)
	sched.ApplyDelays(c.id, delays)

	ev := sched.DueEvent(c.id)
	if ev == nil {
		return
	}
	c.target = ev.Location
	c.planRoute(w)
	c.status = StatusTraveling
}

// planRoute asks the graph for a path. Wheelchair users request
// accessible routing; when no accessible route exists the graph query
// is retried unconstrained rather than stranding the agent.
func (c *Civilian) planRoute(w World) {
	accessible := c.mobility == MobilityWheelchair
	path := w.FindPath(c.loc, c.target, accessible)
	if path == nil && accessible {
		logrus.Debugf("civilian %d: no accessible route, relaxing constraint", c.id)
		path = w.FindPath(c.loc, c.target, false)
	}
	if path == nil {
		path = []geo.Point{c.loc, c.target}
	}
	c.path = path
	c.pathIdx = 0
}

// travel follows the planned path, slowed by local crowding.
func (c *Civilian) travel(w World) {
	if len(c.path) == 0 {
		c.planRoute(w)
	}

	speed := c.speed
	if n := w.CountNear(c.loc, congestionRadius, RoleCivilian) - 1; n > congestionThreshold {
		slowdown := float64(n) / 20.0
		if slowdown > 0.5 {
			slowdown = 0.5
		}
		speed *= 1.0 - slowdown
	}

	// One distance budget covers the whole step: crossing a waypoint
	// spends part of it, it never resets.
	budget := speed * w.StepSeconds()
	for c.pathIdx < len(c.path) {
		wp := c.path[c.pathIdx]
		hop := geo.Distance(c.loc, wp)
		next, reached := geo.StepToward(c.loc, wp, budget)
		c.loc = next
		if !reached {
			return
		}
		budget -= hop
		c.pathIdx++
		if budget <= 0 && c.pathIdx < len(c.path) {
			return
		}
	}

	c.status = StatusAtVenue
	if ev := w.Scheduler().DueEvent(c.id); ev != nil && geo.Distance(ev.Location, c.loc) < venueRadius {
		w.Scheduler().Complete(c.id, ev.Type)
	}
}

// maybeAssist lets a bystander escort a nearby civilian in medical
// distress. At most one escort attaches per emergency.
func (c *Civilian) maybeAssist(w World) bool {
	for _, a := range w.AgentsNear(c.loc, assistRadius, RoleCivilian) {
		other, ok := a.(*Civilian)
		if !ok || other.id == c.id || !other.InEmergency() || other.escorted {
			continue
		}
		if w.RNG(SubsystemAgents).Float64() < assistProbability {
			other.escorted = true
			c.assistingID = other.id
			c.status = StatusAssisting
			return true
		}
	}
	return false
}

// assist holds position beside the patient until a medical unit takes
// over.
func (c *Civilian) assist(w World) {
	for _, a := range w.AgentsNear(c.loc, 2*assistRadius, RoleCivilian) {
		if other, ok := a.(*Civilian); ok && other.id == c.assistingID {
			if other.InEmergency() {
				c.loc, _ = moveToward(c.loc, other.loc, c.speed, w.StepSeconds())
				return
			}
			break
		}
	}
	c.assistingID = -1
	c.status = StatusAtVenue
}
