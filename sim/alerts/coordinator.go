package alerts

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Environment is the narrow view of simulation state the coordinator
// needs to score alerts. The kernel implements it without internal
// locking, so every operation that consults the environment (Register,
// Escalate, RefreshAll, ExpireSweep) must run from the kernel's step
// loop or through a kernel method that holds its lock. Queries and
// assignment bookkeeping are safe to call concurrently.
type Environment interface {
	Now() time.Time
	PopulationNear(loc geo.Point, radius float64) int
	HeatAlert() bool
}

// Config holds coordinator tuning parameters.
type Config struct {
	// DensityCap is the nearby-population count at which the crowd
	// multiplier saturates.
	DensityCap float64
	// CrowdRadius is the radius used for the density factor.
	CrowdRadius float64
	// VIPRadius is the proximity radius for the VIP multiplier.
	VIPRadius float64
	// TTLByTier maps each tier to its auto-expiry lifetime.
	// A zero duration means the tier never auto-expires.
	TTLByTier map[Tier]time.Duration
}

// DefaultConfig returns the standard coordinator tuning: informational
// tiers expire within the hour, HIGH and CRITICAL never do.
func DefaultConfig() Config {
	return Config{
		DensityCap:  30,
		CrowdRadius: 0.02,
		VIPRadius:   0.01,
		TTLByTier: map[Tier]time.Duration{
			TierInfo:   30 * time.Minute,
			TierLow:    60 * time.Minute,
			TierMedium: 120 * time.Minute,
		},
	}
}

// heapEntry is a lazily-deleted priority queue entry. Entries become
// stale when their alert is resolved or rescored; Pop filters them out
// rather than trusting heap order blindly.
type heapEntry struct {
	id    string
	score float64
	seq   uint64
}

type alertHeap []heapEntry

func (h alertHeap) Len() int { return len(h) }
func (h alertHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].seq < h[j].seq
}
func (h alertHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *alertHeap) Push(x interface{}) { *h = append(*h, x.(heapEntry)) }
func (h *alertHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Coordinator ingests alert events, scores and ranks them, tracks unit
// assignments, expires stale entries, and notifies subscribers.
//
// Invariants:
//   - an alert id appears in at most one active assignment at a time;
//   - the heap may hold stale entries for resolved or rescored alerts,
//     but stale entries never leak to callers.
type Coordinator struct {
	env Environment
	cfg Config

	mu           sync.Mutex
	active       map[string]*Alert
	pq           alertHeap
	seq          uint64
	assignments  map[string]string // alert id -> unit id
	unitAlerts   map[string]string // unit id -> alert id
	vips         []geo.Point
	historyCount int

	subscribers map[*Subscription]struct{}
}

// NewCoordinator creates a coordinator bound to an environment.
func NewCoordinator(env Environment, cfg Config) *Coordinator {
	if cfg.CrowdRadius == 0 {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		env:         env,
		cfg:         cfg,
		active:      make(map[string]*Alert),
		assignments: make(map[string]string),
		unitAlerts:  make(map[string]string),
		subscribers: make(map[*Subscription]struct{}),
	}
}

// SetVIPLocations replaces the tracked VIP positions used by the
// proximity multiplier.
func (c *Coordinator) SetVIPLocations(locs []geo.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vips = append([]geo.Point(nil), locs...)
}

// Register ingests a new alert of the given type. An empty id mints a
// fresh one. Returns the scored snapshot.
func (c *Coordinator) Register(id, alertType string, loc geo.Point) Snapshot {
	c.mu.Lock()
	if id == "" {
		id = uuid.NewString()
	}
	a := &Alert{
		ID:        id,
		Type:      alertType,
		Category:  CategoryForType(alertType),
		Tier:      TierForType(alertType),
		Location:  loc,
		CreatedAt: c.env.Now(),
	}
	c.refreshFactors(a)
	a.computeScore()
	if ttl := c.cfg.TTLByTier[a.Tier]; ttl > 0 {
		a.expiresAt = a.CreatedAt.Add(ttl)
	}
	c.active[id] = a
	c.push(a)
	c.historyCount++
	snap := a.snapshot()
	c.mu.Unlock()

	logrus.Debugf("alert %s registered: type=%s tier=%s score=%.2f", id, alertType, a.Tier, a.Score)
	c.publish(Notification{Event: EventRegistered, Alert: snap})
	return snap
}

// refreshFactors recomputes the dynamic multipliers from the live
// environment. Caller holds the lock.
func (c *Coordinator) refreshFactors(a *Alert) {
	pop := c.env.PopulationNear(a.Location, c.cfg.CrowdRadius)
	density := float64(pop) / c.cfg.DensityCap
	if density > 1 {
		density = 1
	}
	a.CrowdDensity = density

	a.NearVIP = false
	for _, vip := range c.vips {
		if geo.Distance(a.Location, vip) <= c.cfg.VIPRadius {
			a.NearVIP = true
			break
		}
	}

	if c.env.HeatAlert() {
		a.WeatherFactor = 1.3
	} else {
		a.WeatherFactor = 1.0
	}
}

func (c *Coordinator) push(a *Alert) {
	c.seq++
	heap.Push(&c.pq, heapEntry{id: a.ID, score: a.Score, seq: c.seq})
}

// RefreshAll recomputes dynamic factors and scores for every active
// alert and rebuilds the heap. Called once per simulation step. The
// rebuild walks ids in sorted order so equal-score tie-breaks stay
// reproducible across runs.
func (c *Coordinator) RefreshAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c.pq = c.pq[:0]
	for _, id := range ids {
		a := c.active[id]
		c.refreshFactors(a)
		a.computeScore()
		c.push(a)
	}
	heap.Init(&c.pq)
}

// Peek returns the highest-priority active alert, discarding stale heap
// entries along the way. ok is false when no active alert exists.
func (c *Coordinator) Peek() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pq.Len() > 0 {
		top := c.pq[0]
		a, live := c.active[top.id]
		if live && a.Score == top.score {
			return a.snapshot(), true
		}
		heap.Pop(&c.pq) // stale: resolved, expired, or rescored
	}
	return Snapshot{}, false
}

// TopAlerts returns up to n active alerts in priority order.
func (c *Coordinator) TopAlerts(n int) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Snapshot
	var popped []heapEntry
	seen := make(map[string]bool)
	for c.pq.Len() > 0 && len(out) < n {
		e := heap.Pop(&c.pq).(heapEntry)
		a, live := c.active[e.id]
		if !live || a.Score != e.score || seen[e.id] {
			continue // stale entry, drop silently
		}
		seen[e.id] = true
		out = append(out, a.snapshot())
		popped = append(popped, e)
	}
	for _, e := range popped {
		heap.Push(&c.pq, e)
	}
	return out
}

// ByCategory returns snapshots of all active alerts in a category.
func (c *Coordinator) ByCategory(cat Category) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Snapshot
	for _, a := range c.active {
		if a.Category == cat {
			out = append(out, a.snapshot())
		}
	}
	return out
}

// ByTier returns snapshots of all active alerts at a threat tier.
func (c *Coordinator) ByTier(t Tier) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Snapshot
	for _, a := range c.active {
		if a.Tier == t {
			out = append(out, a.snapshot())
		}
	}
	return out
}

// ActiveNear returns snapshots of active alerts within radius of loc.
func (c *Coordinator) ActiveNear(loc geo.Point, radius float64) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Snapshot
	for _, a := range c.active {
		if geo.Distance(a.Location, loc) <= radius {
			out = append(out, a.snapshot())
		}
	}
	return out
}

// ActiveCount returns the number of active alerts.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Escalate bumps an alert's escalation count, strictly lowering its
// priority score (more urgent) via the ×1.2 escalation multiplier.
// Unknown ids are no-ops.
func (c *Coordinator) Escalate(id string) {
	c.mu.Lock()
	a, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	a.EscalationCount++
	c.refreshFactors(a)
	a.computeScore()
	c.push(a) // old entry goes stale
	snap := a.snapshot()
	c.mu.Unlock()

	c.publish(Notification{Event: EventEscalated, Alert: snap})
}

// Assign binds a unit to an alert. A redundant assignment attempt,
// where the alert already has a unit or the unit is already bound elsewhere,
// is a silent no-op returning false.
func (c *Coordinator) Assign(alertID, unitID string) bool {
	c.mu.Lock()
	a, ok := c.active[alertID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if _, taken := c.assignments[alertID]; taken {
		c.mu.Unlock()
		return false
	}
	if _, busy := c.unitAlerts[unitID]; busy {
		c.mu.Unlock()
		return false
	}
	c.assignments[alertID] = unitID
	c.unitAlerts[unitID] = alertID
	snap := a.snapshot()
	c.mu.Unlock()

	c.publish(Notification{Event: EventAssigned, Alert: snap, UnitID: unitID})
	return true
}

// AssignedUnit returns the unit bound to an alert, if any.
func (c *Coordinator) AssignedUnit(alertID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.assignments[alertID]
	return u, ok
}

// UnitAssignment returns the alert a unit is bound to, if any.
func (c *Coordinator) UnitAssignment(unitID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.unitAlerts[unitID]
	return a, ok
}

// Resolve removes an alert and releases its assignment. Resolving an
// unknown or already-resolved id is a no-op returning false; resolution
// is idempotent. Subscribers are notified before removal.
func (c *Coordinator) Resolve(id string) bool {
	c.mu.Lock()
	a, ok := c.active[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	snap := a.snapshot()
	delete(c.active, id)
	if unit, assigned := c.assignments[id]; assigned {
		delete(c.assignments, id)
		delete(c.unitAlerts, unit)
	}
	c.mu.Unlock()

	// Heap entries for id are now stale and filtered lazily on pop.
	c.publish(Notification{Event: EventResolved, Alert: snap})
	return true
}

// ExpireSweep removes alerts whose TTL has elapsed, notifying
// subscribers once per expired alert before removal.
func (c *Coordinator) ExpireSweep() int {
	now := c.env.Now()

	c.mu.Lock()
	var expired []Snapshot
	for id, a := range c.active {
		if !a.expiresAt.IsZero() && now.After(a.expiresAt) {
			expired = append(expired, a.snapshot())
			delete(c.active, id)
			if unit, assigned := c.assignments[id]; assigned {
				delete(c.assignments, id)
				delete(c.unitAlerts, unit)
			}
		}
	}
	c.mu.Unlock()

	for _, snap := range expired {
		logrus.Debugf("alert %s expired (tier %s)", snap.ID, snap.Tier)
		c.publish(Notification{Event: EventExpired, Alert: snap})
	}
	return len(expired)
}

// Stats summarizes the coordinator's current state.
type Stats struct {
	TotalActive     int            `json:"total_active"`
	ByTier          map[string]int `json:"by_threat_level"`
	ByCategory      map[string]int `json:"by_category"`
	Assigned        int            `json:"assigned"`
	Unassigned      int            `json:"unassigned"`
	HistoricalTotal int            `json:"historical_total"`
}

// Statistics returns aggregate counts over active alerts.
func (c *Coordinator) Statistics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		TotalActive:     len(c.active),
		ByTier:          make(map[string]int),
		ByCategory:      make(map[string]int),
		Assigned:        len(c.assignments),
		HistoricalTotal: c.historyCount,
	}
	for _, a := range c.active {
		s.ByTier[a.Tier.String()]++
		s.ByCategory[string(a.Category)]++
	}
	s.Unassigned = s.TotalActive - s.Assigned
	return s
}
