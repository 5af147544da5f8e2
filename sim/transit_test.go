package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

func TestBoardAndRide_PassengerMovesOnlyWithVehicle(t *testing.T) {
	// GIVEN a shuttle and a waiting civilian at its stop
	stopA := geo.Point{X: 0.3, Y: 0.3}
	stopB := geo.Point{X: 0.7, Y: 0.3}
	v := newTransitVehicle(1, []geo.Point{stopA, stopB})
	c := newCivilian(2, stopA, MobilityStandard, "", false, 0, 1.0)
	w := newStubWorld(10)
	w.agents = []Agent{c}

	// WHEN the vehicle boards at the stop
	v.board(w)
	require.Equal(t, 1, v.PassengerCount())
	assert.Equal(t, StatusRiding, c.Status())

	// THEN while the vehicle is out of service the passenger stays
	// aboard at the stop instead of wandering off on foot
	v.status = StatusOutOfService
	v.backAt = w.now.Add(breakdownDowntime)
	require.NoError(t, v.Step(w))
	require.NoError(t, c.Step(w))
	assert.Equal(t, stopA, c.loc)
	assert.Equal(t, StatusRiding, c.Status())

	// AND back in service the vehicle carries the passenger along
	v.status = StatusInService
	v.loc = geo.Point{X: 0.5, Y: 0.3}
	v.carryPassengers()
	assert.Equal(t, v.loc, c.loc)
}

func TestUnload_ReleasesRiderAtItsStop(t *testing.T) {
	stopA := geo.Point{X: 0.3, Y: 0.3}
	stopB := geo.Point{X: 0.7, Y: 0.3}
	v := newTransitVehicle(1, []geo.Point{stopA, stopB})
	c := newCivilian(2, stopA, MobilityStandard, "", false, 0, 1.0)
	c.target = stopB
	w := newStubWorld(10)
	w.agents = []Agent{c}
	v.board(w)
	require.Equal(t, StatusRiding, c.Status())

	// WHEN the vehicle reaches the rider's travel target
	v.loc = stopB
	v.carryPassengers()
	v.unload(w)

	// THEN the rider walks the rest of the way
	assert.Equal(t, 0, v.PassengerCount())
	assert.Equal(t, StatusTraveling, c.Status())
	assert.Equal(t, stopB, c.loc)
}

func TestUnload_SickPassengerSetDownForMedics(t *testing.T) {
	stopA := geo.Point{X: 0.3, Y: 0.3}
	v := newTransitVehicle(1, []geo.Point{stopA})
	c := newCivilian(2, stopA, MobilityStandard, "", false, 0, 1.0)
	w := newStubWorld(10)
	w.agents = []Agent{c}
	v.board(w)
	require.Equal(t, 1, v.PassengerCount())

	// WHEN the passenger falls ill aboard
	c.status = StatusEmergency
	sick := c.loc

	// THEN the vehicle stops carrying them where it happened and drops
	// them from the manifest without touching their status
	v.loc = geo.Point{X: 0.35, Y: 0.3}
	v.carryPassengers()
	assert.Equal(t, sick, c.loc)

	v.unload(w)
	assert.Equal(t, 0, v.PassengerCount())
	assert.Equal(t, StatusEmergency, c.status)
}
