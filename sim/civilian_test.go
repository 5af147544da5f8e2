package sim

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
	"github.com/citysafe-sim/citysafe-sim/sim/schedule"
)

// stubWorld satisfies World for single-agent tests. Methods a test does
// not exercise fall through to the embedded nil interface and panic,
// which is the point: the agent under test must not need more than the
// stub provides.
type stubWorld struct {
	World

	now         time.Time
	stepSeconds float64
	sched       *schedule.Scheduler
	rng         *rand.Rand
	agents      []Agent
}

type stubSchedEnv struct{ now time.Time }

func (e stubSchedEnv) Now() time.Time                            { return e.now }
func (e stubSchedEnv) StepSeconds() float64                      { return 10 }
func (e stubSchedEnv) PopulationNear(geo.Point, float64) int     { return 0 }
func (e stubSchedEnv) DelayedTransitNear(geo.Point, float64) int { return 0 }
func (e stubSchedEnv) IncidentsNear(geo.Point, float64) int      { return 0 }
func (e stubSchedEnv) HeatAlert() bool                           { return false }

func newStubWorld(stepSeconds float64) *stubWorld {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	return &stubWorld{
		now:         now,
		stepSeconds: stepSeconds,
		sched:       schedule.NewScheduler(stubSchedEnv{now: now}, rand.New(rand.NewSource(1))),
		rng:         rand.New(rand.NewSource(1)),
	}
}

func (w *stubWorld) Now() time.Time                 { return w.now }
func (w *stubWorld) StepSeconds() float64           { return w.stepSeconds }
func (w *stubWorld) Weather() WeatherConfig         { return WeatherConfig{TempC: 22} }
func (w *stubWorld) Scheduler() *schedule.Scheduler { return w.sched }
func (w *stubWorld) RNG(string) *rand.Rand          { return w.rng }

func (w *stubWorld) CountNear(loc geo.Point, radius float64, role Role) int {
	return len(w.AgentsNear(loc, radius, role))
}

func (w *stubWorld) AgentsNear(loc geo.Point, radius float64, role Role) []Agent {
	var out []Agent
	for _, a := range w.agents {
		if role != AnyRole && a.Role() != role {
			continue
		}
		if geo.Distance(loc, a.Location()) <= radius {
			out = append(out, a)
		}
	}
	return out
}

func TestTravel_OneSpeedBudgetPerStep(t *testing.T) {
	// GIVEN a standard walker with an hour-long step: the per-step
	// budget is 1.4 m/s x 3600 s, well short of the full path
	c := newCivilian(1, geo.Point{}, MobilityStandard, "", false, 0, 1.0)
	c.status = StatusTraveling
	c.path = []geo.Point{{X: 0.2}, {X: 0.4}, {X: 0.6}, {X: 0.8}}
	c.target = geo.Point{X: 0.8}
	w := newStubWorld(3600)
	budget := c.speed * w.stepSeconds

	// WHEN one step crosses the first waypoint
	c.travel(w)

	// THEN the leftover budget carries into the second hop instead of
	// resetting, and total displacement is exactly one budget
	assert.Equal(t, 1, c.pathIdx)
	assert.InDelta(t, budget, c.loc.X, 1e-12)
	assert.Equal(t, StatusTraveling, c.status)

	// Each further step covers at most one more budget.
	for i := 0; i < 2; i++ {
		before := c.loc
		c.travel(w)
		assert.LessOrEqual(t, geo.Distance(before, c.loc), budget+1e-12)
	}
	assert.InDelta(t, 3*budget, c.loc.X, 1e-9)
}

func TestStep_RidingCivilianStaysPut(t *testing.T) {
	// GIVEN a civilian aboard a shuttle
	c := newCivilian(2, geo.Point{X: 0.4, Y: 0.4}, MobilityStandard, "", false, 0, 1.0)
	c.status = StatusRiding
	w := newStubWorld(10)

	// WHEN the civilian steps on its own
	require.NoError(t, c.Step(w))

	// THEN it neither moves nor plans a route; the vehicle owns it
	assert.Equal(t, geo.Point{X: 0.4, Y: 0.4}, c.loc)
	assert.Nil(t, c.path)
	assert.Equal(t, StatusRiding, c.status)
}
