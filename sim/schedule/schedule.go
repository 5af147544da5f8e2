// Package schedule owns per-agent itineraries and the stochastic delay
// model: independent per-hour delay causes evaluated each step against
// any event due inside the lookahead window, with triggered delays
// applied to the next flexible, incomplete event.
package schedule

import (
	"time"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// DelayCause identifies why a delay was injected.
type DelayCause string

const (
	CauseBus      DelayCause = "bus_delay"
	CauseTraffic  DelayCause = "traffic"
	CauseCrowding DelayCause = "crowding"
	CauseWeather  DelayCause = "weather"
	CauseIncident DelayCause = "security_incident"
)

// DelayRecord is the causal metadata attached when a delay is applied.
type DelayRecord struct {
	Cause     DelayCause
	Duration  time.Duration
	AppliedAt time.Time
	Reason    string
}

// Event is one entry in an agent's itinerary.
//
// Invariant: delay can only be added while the event is flexible and
// not completed; EffectiveAt only ever moves forward.
type Event struct {
	AgentID     int
	Type        string
	Location    geo.Point
	PlannedAt   time.Time
	EffectiveAt time.Time
	Priority    int // 1-10, higher is more important
	Flexible    bool
	Completed   bool
	TotalDelay  time.Duration
	Delays      []DelayRecord
}

// NewEvent builds an itinerary event with EffectiveAt starting at the
// planned time. Priority outside 1-10 is clamped.
func NewEvent(agentID int, eventType string, loc geo.Point, at time.Time, priority int, flexible bool) *Event {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	return &Event{
		AgentID:     agentID,
		Type:        eventType,
		Location:    loc,
		PlannedAt:   at,
		EffectiveAt: at,
		Priority:    priority,
		Flexible:    flexible,
	}
}

// AddDelay shifts the event's effective time forward and records the
// cause. Inflexible or completed events are immune; returns whether the
// delay was applied.
func (e *Event) AddDelay(cause DelayCause, d time.Duration, now time.Time, reason string) bool {
	if !e.Flexible || e.Completed {
		return false
	}
	e.Delays = append(e.Delays, DelayRecord{
		Cause:     cause,
		Duration:  d,
		AppliedAt: now,
		Reason:    reason,
	})
	e.TotalDelay += d
	e.EffectiveAt = e.EffectiveAt.Add(d)
	return true
}

// Overdue reports whether the event's effective time has passed without
// completion.
func (e *Event) Overdue(now time.Time) bool {
	return now.After(e.EffectiveAt) && !e.Completed
}
