package sim

import (
	"time"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Transit statuses.
const (
	StatusInService    = "in_service"
	StatusOutOfService = "out_of_service"
)

const (
	transitSpeed       = 8.0 // m/s
	transitCapacity    = 40
	transitDropRadius  = 0.01
	breakdownPerHour   = 0.02
	breakdownDowntime  = 10 * time.Minute
)

// TransitVehicle is a shuttle looping a fixed route, boarding waiting
// civilians at stops and releasing them near their travel targets.
// Occasional breakdowns take the vehicle out of service, which feeds
// the scheduler's bus-delay cause.
type TransitVehicle struct {
	baseAgent

	route      []geo.Point
	routeIdx   int
	passengers []*Civilian
	backAt     time.Time
}

func newTransitVehicle(id int, route []geo.Point) *TransitVehicle {
	loc := geo.Point{X: 0.5, Y: 0.5}
	if len(route) > 0 {
		loc = route[0]
	}
	return &TransitVehicle{
		baseAgent: baseAgent{id: id, role: RoleTransit, loc: loc, status: StatusInService},
		route:     route,
	}
}

// PassengerCount is the current onboard load.
func (t *TransitVehicle) PassengerCount() int { return len(t.passengers) }

func (t *TransitVehicle) Step(w World) error {
	if t.status == StatusOutOfService {
		if !w.Now().Before(t.backAt) {
			t.status = StatusInService
		}
		return nil
	}

	if p := breakdownPerHour * w.StepSeconds() / 3600.0; w.RNG(SubsystemAgents).Float64() < p {
		t.status = StatusOutOfService
		t.backAt = w.Now().Add(breakdownDowntime)
		return nil
	}

	if len(t.route) == 0 {
		return nil
	}

	next, reached := moveToward(t.loc, t.route[t.routeIdx], transitSpeed*speedScale, w.StepSeconds())
	t.loc = next
	t.carryPassengers()
	t.board(w)
	if reached {
		t.routeIdx = (t.routeIdx + 1) % len(t.route)
		t.unload(w)
	}
	return nil
}

func (t *TransitVehicle) carryPassengers() {
	for _, p := range t.passengers {
		if p.status == StatusRiding {
			p.loc = t.loc
		}
	}
}

// board picks up waiting civilians at the vehicle's position, up to
// capacity.
func (t *TransitVehicle) board(w World) {
	if len(t.passengers) >= transitCapacity {
		return
	}
	for _, a := range w.AgentsNear(t.loc, boardTol, RoleCivilian) {
		c, ok := a.(*Civilian)
		if !ok || c.status != StatusWaiting {
			continue
		}
		c.status = StatusRiding
		c.path = nil
		t.passengers = append(t.passengers, c)
		if len(t.passengers) >= transitCapacity {
			return
		}
	}
}

// unload releases passengers whose travel target is near the stop.
// Released civilians replan a walking route on their next step.
func (t *TransitVehicle) unload(w World) {
	kept := t.passengers[:0]
	for _, p := range t.passengers {
		// A passenger who fell ill aboard was set down where it
		// happened; drop them from the manifest for the medics.
		if p.status != StatusRiding {
			continue
		}
		target := p.target
		if ev := w.Scheduler().DueEvent(p.id); ev != nil {
			target = ev.Location
		} else if ev := w.Scheduler().NextEvent(p.id); ev != nil {
			target = ev.Location
		}
		if geo.Distance(t.loc, target) < transitDropRadius {
			p.target = target
			p.path = nil
			p.status = StatusTraveling
			continue
		}
		kept = append(kept, p)
	}
	t.passengers = kept
}
