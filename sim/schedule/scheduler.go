package schedule

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Environment is the scheduler's read-only view of the simulation.
// The kernel implements it.
type Environment interface {
	Now() time.Time
	StepSeconds() float64
	// PopulationNear counts mobile agents within radius of loc.
	PopulationNear(loc geo.Point, radius float64) int
	// DelayedTransitNear counts out-of-service transit vehicles within
	// radius of loc.
	DelayedTransitNear(loc geo.Point, radius float64) int
	// IncidentsNear counts active security incidents within radius.
	IncidentsNear(loc geo.Point, radius float64) int
	HeatAlert() bool
}

// lookahead is the window ahead of the clock inside which an agent's
// events are exposed to delay checks.
const lookahead = time.Hour

// currentWindow is how long after its effective time an event still
// counts as "current".
const currentWindow = 30 * time.Minute

// causeRates are the default per-hour trigger probabilities, evaluated
// each step as rate × (step_seconds / 3600).
var causeRates = map[DelayCause]float64{
	CauseBus:      0.10,
	CauseTraffic:  0.05,
	CauseCrowding: 0.15,
	CauseWeather:  0.10,
	CauseIncident: 0.03,
}

// delayRange is the duration range (in minutes) a triggered cause draws
// from.
var delayRange = map[DelayCause][2]int{
	CauseBus:      {5, 15},
	CauseTraffic:  {2, 10},
	CauseCrowding: {5, 20},
	CauseWeather:  {3, 8},
	CauseIncident: {5, 15},
}

// Proximity and density thresholds for the individual causes.
const (
	busRadius         = 0.01
	densityRadius     = 0.02
	incidentRadius    = 0.01
	trafficThreshold  = 20
	crowdingThreshold = 30
)

// Delay is a triggered, not-yet-applied delay.
type Delay struct {
	Cause    DelayCause
	Duration time.Duration
	Reason   string
}

// Scheduler owns each mobile agent's itinerary and injects
// probabilistic delays from independent causes.
type Scheduler struct {
	env       Environment
	rng       *rand.Rand
	rates     map[DelayCause]float64
	schedules map[int][]*Event
}

// NewScheduler builds a scheduler drawing randomness from rng.
func NewScheduler(env Environment, rng *rand.Rand) *Scheduler {
	rates := make(map[DelayCause]float64, len(causeRates))
	for c, r := range causeRates {
		rates[c] = r
	}
	return &Scheduler{
		env:       env,
		rng:       rng,
		rates:     rates,
		schedules: make(map[int][]*Event),
	}
}

// SetRate overrides the per-hour probability for one cause.
func (s *Scheduler) SetRate(cause DelayCause, perHour float64) {
	s.rates[cause] = perHour
}

// SetSchedule replaces an agent's itinerary, ordered by planned time.
func (s *Scheduler) SetSchedule(agentID int, events []*Event) {
	sorted := append([]*Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PlannedAt.Before(sorted[j].PlannedAt)
	})
	s.schedules[agentID] = sorted
}

// Schedule returns an agent's itinerary, or nil.
func (s *Scheduler) Schedule(agentID int) []*Event {
	return s.schedules[agentID]
}

// NextEvent returns the agent's earliest incomplete event that is still
// in the future, or nil.
func (s *Scheduler) NextEvent(agentID int) *Event {
	now := s.env.Now()
	for _, e := range s.schedules[agentID] {
		if !e.Completed && e.EffectiveAt.After(now) {
			return e
		}
	}
	return nil
}

// DueEvent returns the agent's earliest incomplete event whose
// effective time has arrived, or nil. This is the "leave now" query:
// delays push EffectiveAt forward, so a delayed event stops being due
// until its new time.
func (s *Scheduler) DueEvent(agentID int) *Event {
	now := s.env.Now()
	for _, e := range s.schedules[agentID] {
		if !e.Completed && !e.EffectiveAt.After(now) {
			return e
		}
	}
	return nil
}

// CurrentEvent returns the incomplete event whose effective time is in
// progress (started, within the current window), or nil.
func (s *Scheduler) CurrentEvent(agentID int) *Event {
	now := s.env.Now()
	var cur *Event
	for _, e := range s.schedules[agentID] {
		if e.Completed {
			continue
		}
		if !e.EffectiveAt.After(now) && !now.After(e.EffectiveAt.Add(currentWindow)) {
			cur = e // latest matching wins
		}
	}
	return cur
}

// Complete marks the agent's earliest incomplete event (optionally of a
// specific type) as done.
func (s *Scheduler) Complete(agentID int, eventType string) {
	for _, e := range s.schedules[agentID] {
		if e.Completed {
			continue
		}
		if eventType == "" || e.Type == eventType {
			e.Completed = true
			return
		}
	}
}

// CheckDelays evaluates every delay cause against an agent's position
// and returns the triggered delays. Causes are independent; none fire
// unless the agent has an event due inside the lookahead window.
func (s *Scheduler) CheckDelays(agentID int, loc geo.Point) []Delay {
	events := s.schedules[agentID]
	if len(events) == 0 {
		return nil
	}
	horizon := s.env.Now().Add(lookahead)
	due := false
	for _, e := range events {
		if !e.Completed && !e.EffectiveAt.After(horizon) {
			due = true
			break
		}
	}
	if !due {
		return nil
	}

	var out []Delay
	if n := s.env.DelayedTransitNear(loc, busRadius); n > 0 && s.roll(CauseBus) {
		out = append(out, s.draw(CauseBus, "transit vehicle out of service nearby"))
	}
	pop := s.env.PopulationNear(loc, densityRadius)
	if pop > trafficThreshold && s.roll(CauseTraffic) {
		out = append(out, s.draw(CauseTraffic, "high traffic congestion"))
	}
	if pop > crowdingThreshold && s.roll(CauseCrowding) {
		out = append(out, s.draw(CauseCrowding, "crowd surge at location"))
	}
	if s.env.HeatAlert() && s.roll(CauseWeather) {
		out = append(out, s.draw(CauseWeather, "heat alert, reduced mobility"))
	}
	if n := s.env.IncidentsNear(loc, incidentRadius); n > 0 && s.roll(CauseIncident) {
		out = append(out, s.draw(CauseIncident, "active security incident nearby"))
	}
	return out
}

// ApplyDelays applies each triggered delay to the agent's next
// flexible, incomplete event. Inflexible events are immune.
func (s *Scheduler) ApplyDelays(agentID int, delays []Delay) {
	if len(delays) == 0 {
		return
	}
	now := s.env.Now()
	for _, d := range delays {
		for _, e := range s.schedules[agentID] {
			if e.Completed || !e.Flexible {
				continue
			}
			if e.AddDelay(d.Cause, d.Duration, now, d.Reason) {
				logrus.Debugf("agent %d: %s delay %s (%s)", agentID, d.Cause, d.Duration, d.Reason)
				break
			}
		}
	}
}

// roll evaluates a cause's per-hour probability scaled to one step.
func (s *Scheduler) roll(cause DelayCause) bool {
	p := s.rates[cause] * (s.env.StepSeconds() / 3600.0)
	return s.rng.Float64() < p
}

// draw samples a duration from the cause's range.
func (s *Scheduler) draw(cause DelayCause, reason string) Delay {
	r := delayRange[cause]
	minutes := r[0] + s.rng.Intn(r[1]-r[0]+1)
	return Delay{
		Cause:    cause,
		Duration: time.Duration(minutes) * time.Minute,
		Reason:   reason,
	}
}

// Metrics summarizes one agent's schedule state.
type Metrics struct {
	TotalEvents     int
	CompletedEvents int
	TotalDelays     int
	TotalDelayTime  time.Duration
	ByCause         map[DelayCause]int
}

// AgentMetrics reports delay statistics for one agent's itinerary.
func (s *Scheduler) AgentMetrics(agentID int) Metrics {
	m := Metrics{ByCause: make(map[DelayCause]int)}
	for _, e := range s.schedules[agentID] {
		m.TotalEvents++
		if e.Completed {
			m.CompletedEvents++
		}
		m.TotalDelays += len(e.Delays)
		m.TotalDelayTime += e.TotalDelay
		for _, d := range e.Delays {
			m.ByCause[d.Cause]++
		}
	}
	return m
}

// String implements fmt.Stringer for log lines.
func (m Metrics) String() string {
	return fmt.Sprintf("events=%d completed=%d delays=%d total=%s",
		m.TotalEvents, m.CompletedEvents, m.TotalDelays, m.TotalDelayTime)
}
