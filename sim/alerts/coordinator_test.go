package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// fakeEnv is a controllable Environment for coordinator tests.
type fakeEnv struct {
	now  time.Time
	pop  int
	heat bool
}

func (e *fakeEnv) Now() time.Time                                 { return e.now }
func (e *fakeEnv) PopulationNear(loc geo.Point, radius float64) int { return e.pop }
func (e *fakeEnv) HeatAlert() bool                                { return e.heat }

func testEnv() *fakeEnv {
	return &fakeEnv{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func TestTierForType_KnownAndUnknown(t *testing.T) {
	assert.Equal(t, TierCritical, TierForType("suspicious_person"))
	assert.Equal(t, TierHigh, TierForType("crowd_surge"))
	assert.Equal(t, TierMedium, TierForType("traffic_incident"))
	assert.Equal(t, TierMedium, TierForType("something_unmapped"))
	assert.Equal(t, CategoryGeneral, CategoryForType("something_unmapped"))
}

func TestRegister_PriorityScore_HighTierWithCrowd(t *testing.T) {
	// GIVEN 15 people near the alert with a density cap of 30
	// (crowd_density 0.5), no VIP, no heat alert
	env := testEnv()
	env.pop = 15
	c := NewCoordinator(env, DefaultConfig())

	// WHEN a HIGH-tier alert is registered
	snap := c.Register("", "crowd_surge", geo.Point{X: 0.5, Y: 0.5})

	// THEN score = 2 × (1 + 0.3×0.5) × 1.0 × 1.0 / 1.0 = 2.3
	assert.InDelta(t, 2.3, snap.Score, 1e-9)
	assert.Equal(t, "HIGH", snap.Tier)
	assert.NotEmpty(t, snap.ID, "empty id must be minted")
}

func TestEscalate_LowersScoreAndReorders(t *testing.T) {
	// GIVEN two equal-priority alerts
	env := testEnv()
	env.pop = 15
	c := NewCoordinator(env, DefaultConfig())
	first := c.Register("a1", "crowd_surge", geo.Point{X: 0.2, Y: 0.2})
	second := c.Register("a2", "crowd_surge", geo.Point{X: 0.8, Y: 0.8})
	require.Equal(t, first.Score, second.Score)

	// Tie is broken by insertion order.
	top, ok := c.Peek()
	require.True(t, ok)
	require.Equal(t, "a1", top.ID)

	// WHEN the second alert escalates once
	c.Escalate("a2")

	// THEN its score strictly drops by the ×1.2 divisor and it jumps
	// ahead of the previously-equal alert
	top, ok = c.Peek()
	require.True(t, ok)
	assert.Equal(t, "a2", top.ID)
	assert.InDelta(t, 2.3/1.2, top.Score, 1e-9)
	assert.Less(t, top.Score, first.Score)
}

func TestPriorityFactors_VIPAndHeat(t *testing.T) {
	env := testEnv()
	env.heat = true
	c := NewCoordinator(env, DefaultConfig())
	c.SetVIPLocations([]geo.Point{{X: 0.5, Y: 0.5}})

	snap := c.Register("", "crowd_surge", geo.Point{X: 0.5, Y: 0.505})

	// score = 2 × 1.0 × 0.5 × 1.3 = 1.3
	assert.True(t, snap.NearVIP)
	assert.InDelta(t, 1.3, snap.Score, 1e-9)
}

func TestPeek_DiscardsStaleEntriesAfterResolve(t *testing.T) {
	// GIVEN a resolved alert whose heap entry is still present
	env := testEnv()
	c := NewCoordinator(env, DefaultConfig())
	c.Register("urgent", "suspicious_person", geo.Point{X: 0.1, Y: 0.1})
	c.Register("routine", "traffic_incident", geo.Point{X: 0.9, Y: 0.9})
	require.True(t, c.Resolve("urgent"))

	// WHEN the queue is peeked
	snap, ok := c.Peek()

	// THEN the stale entry never leaks; the surviving alert surfaces
	require.True(t, ok)
	assert.Equal(t, "routine", snap.ID)

	// AND resolving again is an idempotent no-op
	assert.False(t, c.Resolve("urgent"))
	assert.Equal(t, 1, c.ActiveCount())
}

func TestTopAlerts_PriorityOrderWithoutDuplicates(t *testing.T) {
	env := testEnv()
	c := NewCoordinator(env, DefaultConfig())
	c.Register("med", "traffic_incident", geo.Point{X: 0.3, Y: 0.3})  // tier 3
	c.Register("crit", "suspicious_person", geo.Point{X: 0.4, Y: 0.4}) // tier 1
	c.Register("high", "crowd_surge", geo.Point{X: 0.5, Y: 0.5})       // tier 2

	// Escalating pushes a second heap entry for the same id; TopAlerts
	// must not emit the alert twice.
	c.Escalate("crit")

	got := c.TopAlerts(10)
	require.Len(t, got, 3)
	assert.Equal(t, "crit", got[0].ID)
	assert.Equal(t, "high", got[1].ID)
	assert.Equal(t, "med", got[2].ID)

	// Repeated queries are stable.
	again := c.TopAlerts(10)
	require.Len(t, again, 3)
	assert.Equal(t, got[0].ID, again[0].ID)
}

func TestAssign_ExclusiveBothWays(t *testing.T) {
	env := testEnv()
	c := NewCoordinator(env, DefaultConfig())
	c.Register("a1", "crowd_surge", geo.Point{})
	c.Register("a2", "crowd_surge", geo.Point{})

	// First claim wins.
	assert.True(t, c.Assign("a1", "police_0"))
	// Same alert cannot gain a second unit.
	assert.False(t, c.Assign("a1", "police_1"))
	// A busy unit cannot take a second alert.
	assert.False(t, c.Assign("a2", "police_0"))
	// Unknown alert ids are silent no-ops.
	assert.False(t, c.Assign("missing", "police_1"))

	unit, ok := c.AssignedUnit("a1")
	require.True(t, ok)
	assert.Equal(t, "police_0", unit)

	// Resolution releases the unit for new work.
	c.Resolve("a1")
	_, busy := c.UnitAssignment("police_0")
	assert.False(t, busy)
	assert.True(t, c.Assign("a2", "police_0"))
}

func TestExpireSweep_TTLElapsed(t *testing.T) {
	// GIVEN a MEDIUM alert with a 30-minute TTL and a CRITICAL alert
	// that never expires
	env := testEnv()
	cfg := DefaultConfig()
	cfg.TTLByTier = map[Tier]time.Duration{TierMedium: 30 * time.Minute}
	c := NewCoordinator(env, cfg)
	c.Register("routine", "traffic_incident", geo.Point{})
	c.Register("crit", "suspicious_person", geo.Point{})

	// WHEN 31 minutes pass
	env.now = env.now.Add(31 * time.Minute)
	expired := c.ExpireSweep()

	// THEN exactly the MEDIUM alert expires
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, c.ActiveCount())
	_, ok := c.Peek()
	require.True(t, ok)

	// AND a second sweep finds nothing
	assert.Equal(t, 0, c.ExpireSweep())
}

func TestRefreshAll_RescoresFromEnvironment(t *testing.T) {
	// GIVEN an alert registered with no crowd
	env := testEnv()
	c := NewCoordinator(env, DefaultConfig())
	before := c.Register("a1", "crowd_surge", geo.Point{X: 0.5, Y: 0.5})
	assert.InDelta(t, 2.0, before.Score, 1e-9)

	// WHEN the crowd grows past the density cap and scores refresh
	env.pop = 60
	c.RefreshAll()

	// THEN the density factor saturates at 1.0
	after, ok := c.Peek()
	require.True(t, ok)
	assert.InDelta(t, 2.0*1.3, after.Score, 1e-9)
}

func TestStatistics_Counts(t *testing.T) {
	env := testEnv()
	c := NewCoordinator(env, DefaultConfig())
	c.Register("a1", "suspicious_person", geo.Point{})
	c.Register("a2", "crowd_surge", geo.Point{})
	c.Register("a3", "medical_event", geo.Point{})
	c.Assign("a1", "police_0")
	c.Resolve("a3")

	s := c.Statistics()
	assert.Equal(t, 2, s.TotalActive)
	assert.Equal(t, 1, s.Assigned)
	assert.Equal(t, 1, s.Unassigned)
	assert.Equal(t, 3, s.HistoricalTotal)
	assert.Equal(t, 1, s.ByTier["CRITICAL"])
	assert.Equal(t, 1, s.ByCategory[string(CategoryCrowdManagement)])
}

func TestByCategoryAndByTier(t *testing.T) {
	env := testEnv()
	c := NewCoordinator(env, DefaultConfig())
	c.Register("a1", "suspicious_person", geo.Point{})
	c.Register("a2", "security_breach", geo.Point{})
	c.Register("a3", "crowd_surge", geo.Point{})

	assert.Len(t, c.ByCategory(CategorySecurityThreat), 2)
	assert.Len(t, c.ByTier(TierCritical), 2)
	assert.Len(t, c.ByTier(TierHigh), 1)
	assert.Empty(t, c.ByTier(TierInfo))
}

func TestActiveNear_RadiusFilter(t *testing.T) {
	env := testEnv()
	c := NewCoordinator(env, DefaultConfig())
	c.Register("near", "crowd_surge", geo.Point{X: 0.50, Y: 0.50})
	c.Register("far", "crowd_surge", geo.Point{X: 0.90, Y: 0.90})

	got := c.ActiveNear(geo.Point{X: 0.51, Y: 0.50}, 0.05)
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("ActiveNear: got %v, want only the near alert", got)
	}
}
