package sim

import (
	"math"
	"sort"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

const (
	hotspotThreshold  = 0.6
	commandAlertScore = 0.7
	crowdWatchMin     = 15
	topAlertWindow    = 10
)

// commandIncidentWeight is the command center's own threat weighting,
// slightly different from dispatch weights: medical events matter
// less to area threat than to response priority.
var commandIncidentWeight = map[string]float64{
	IncidentSuspiciousPerson: 0.8,
	IncidentAccessDenied:     0.7,
	IncidentCrowdSurge:       0.6,
	IncidentMedicalEvent:     0.4,
}

// CommandNode is the operations center: a singleton stationary agent
// that fuses incidents, alerts and venue crowding into a threat map,
// redirects patrol beats toward hotspots, and dispatches idle police
// to the worst unclaimed incidents.
type CommandNode struct {
	baseAgent

	threatMap map[geo.Point]float64
	hotspots  []geo.Point
}

func newCommandNode(id int, loc geo.Point) *CommandNode {
	return &CommandNode{
		baseAgent: baseAgent{id: id, role: RoleCommand, loc: loc, status: "operating"},
		threatMap: make(map[geo.Point]float64),
	}
}

// Hotspots returns the locations whose fused threat exceeded the
// hotspot threshold on the last step.
func (c *CommandNode) Hotspots() []geo.Point {
	return append([]geo.Point(nil), c.hotspots...)
}

// ThreatAt returns the fused threat score recorded for a location.
func (c *CommandNode) ThreatAt(p geo.Point) float64 {
	return c.threatMap[p]
}

func (c *CommandNode) Step(w World) error {
	c.buildThreatMap(w)
	c.redirectPatrols(w)
	c.dispatchIdlePolice(w)
	return nil
}

func (c *CommandNode) buildThreatMap(w World) {
	c.threatMap = make(map[geo.Point]float64)

	for _, inc := range w.ActiveIncidents() {
		weight, ok := commandIncidentWeight[inc.Type]
		if !ok {
			weight = 0.5
		}
		c.bump(inc.Location, weight)
	}

	for _, a := range w.TopAlerts(topAlertWindow) {
		c.bump(a.Location, commandAlertScore)
	}

	for _, v := range w.Venues() {
		if crowd := w.CountNear(v.Loc, venueRadius, RoleCivilian); crowd > crowdWatchMin {
			c.bump(v.Loc, math.Min(0.5, float64(crowd)/30.0))
		}
	}

	c.hotspots = c.hotspots[:0]
	for p, level := range c.threatMap {
		w.RecordThreat(p, math.Min(1.0, level))
		if level > hotspotThreshold {
			c.hotspots = append(c.hotspots, p)
		}
	}
	sort.Slice(c.hotspots, func(i, j int) bool {
		if c.threatMap[c.hotspots[i]] != c.threatMap[c.hotspots[j]] {
			return c.threatMap[c.hotspots[i]] > c.threatMap[c.hotspots[j]]
		}
		return lessPoint(c.hotspots[i], c.hotspots[j])
	})
}

func (c *CommandNode) bump(p geo.Point, amount float64) {
	c.threatMap[p] += amount
}

// redirectPatrols points each on-beat patrol at its nearest hotspot.
func (c *CommandNode) redirectPatrols(w World) {
	if len(c.hotspots) == 0 {
		return
	}
	for _, a := range w.AgentsNear(c.loc, 2.0, RoleSecurity) {
		patrol, ok := a.(*SecurityPatrol)
		if !ok || patrol.Status() != StatusPatrolling {
			continue
		}
		best := c.hotspots[0]
		bestDist := geo.Distance(patrol.Location(), best)
		for _, h := range c.hotspots[1:] {
			if d := geo.Distance(patrol.Location(), h); d < bestDist {
				best = h
				bestDist = d
			}
		}
		patrol.PrependWaypoint(best)
	}
}

// dispatchIdlePolice pairs idle units with the worst unclaimed
// incidents, worst first.
func (c *CommandNode) dispatchIdlePolice(w World) {
	var open []*Incident
	for _, inc := range w.ActiveIncidents() {
		if inc.AssignedUnit == "" && !inc.Medical() {
			open = append(open, inc)
		}
	}
	if len(open) == 0 {
		return
	}
	sort.Slice(open, func(i, j int) bool {
		wi, wj := weightFor(open[i].Type), weightFor(open[j].Type)
		if wi != wj {
			return wi > wj
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})

	var idle []*PoliceUnit
	for _, a := range w.AgentsNear(c.loc, 2.0, RolePolice) {
		if unit, ok := a.(*PoliceUnit); ok && unit.Idle() {
			idle = append(idle, unit)
		}
	}

	for _, inc := range open {
		if len(idle) == 0 {
			return
		}
		// Nearest idle unit takes the call.
		bestIdx := 0
		bestDist := geo.Distance(idle[0].Location(), inc.Location)
		for i, unit := range idle[1:] {
			if d := geo.Distance(unit.Location(), inc.Location); d < bestDist {
				bestIdx = i + 1
				bestDist = d
			}
		}
		if idle[bestIdx].DispatchTo(inc, w) {
			idle = append(idle[:bestIdx], idle[bestIdx+1:]...)
		}
	}
}

func lessPoint(a, b geo.Point) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}
