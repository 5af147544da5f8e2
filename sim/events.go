package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
	"github.com/citysafe-sim/citysafe-sim/sim/schedule"
)

// Scenario event types.
const (
	EventArrivalBatch     = "arrival_batch"
	EventStart            = "event_start"
	EventMedicalEvent     = "medical_event"
	EventSuspiciousPerson = "suspicious_person"
)

// Dynamic injection tuning.
const (
	crowdSurgePerMinute = 0.05 // per overcrowded venue
	heatMedicalBaseTemp = 38.0
	heatMedicalPerDegC  = 0.01 // per hour per degree above base
)

type scenarioEvent struct {
	at  time.Time
	cfg EventConfig
}

func (s *Simulation) queueScenarioEvents() {
	for _, ev := range s.cfg.Events {
		at, err := s.cfg.parseClock(ev.At)
		if err != nil {
			continue // rejected by Validate already
		}
		s.pendingEvents = append(s.pendingEvents, scenarioEvent{at: at, cfg: ev})
	}
}

// applyScenarioEvents fires every scripted event whose time the clock
// has reached, in queue order.
func (s *Simulation) applyScenarioEvents() {
	remaining := s.pendingEvents[:0]
	for _, ev := range s.pendingEvents {
		if s.currentTime.Before(ev.at) {
			remaining = append(remaining, ev)
			continue
		}
		s.fireScenarioEvent(ev.cfg)
	}
	s.pendingEvents = remaining
}

func (s *Simulation) fireScenarioEvent(ev EventConfig) {
	loc := s.eventLocation(ev)
	logrus.WithFields(logrus.Fields{
		"event": ev.Type,
		"venue": ev.Venue,
		"time":  s.currentTime.Format("15:04"),
	}).Info("scenario event")

	switch ev.Type {
	case EventArrivalBatch:
		s.spawnArrivalBatch(ev, loc)
	case EventStart:
		s.announceEventStart(ev, loc)
	case EventMedicalEvent:
		s.triggerMedicalNear(loc)
	case EventSuspiciousPerson:
		severity := ev.Severity
		if severity == 0 {
			severity = 8
		}
		s.registerIncident(IncidentSuspiciousPerson, loc, ev.Venue, "scenario", severity)
	default:
		logrus.Warnf("unknown scenario event type %q, skipped", ev.Type)
	}
}

func (s *Simulation) eventLocation(ev EventConfig) geo.Point {
	if v, ok := s.venues[ev.Venue]; ok {
		return v.Loc
	}
	if ev.Lat != 0 || ev.Lon != 0 {
		return s.bounds.Normalize(ev.Lat, ev.Lon)
	}
	return geo.Point{X: 0.5, Y: 0.5}
}

// spawnArrivalBatch adds a wave of new civilians near the event
// location. Agents join mid-run with the same attribute distribution
// as the initial population.
func (s *Simulation) spawnArrivalBatch(ev EventConfig, loc geo.Point) {
	rng := s.rng.ForSubsystem(SubsystemSpawn)
	count := ev.Count
	if count <= 0 {
		count = 10
	}
	for i := 0; i < count; i++ {
		mobility := MobilityStandard
		if rng.Float64() < 0.05 {
			mobility = MobilityReduced
		}
		c := newCivilian(
			s.claimID(), jitter(loc, 0.005, rng),
			mobility, "",
			false,
			0.005+rng.Float64()*0.01,
			0.85+rng.Float64()*0.30,
		)
		s.civilians = append(s.civilians, c)
		s.agents = append(s.agents, c)
	}
}

// announceEventStart schedules roughly half the free population to
// attend the venue, exercising routing and crowd buildup.
func (s *Simulation) announceEventStart(ev EventConfig, loc geo.Point) {
	rng := s.rng.ForSubsystem(SubsystemSpawn)
	priority := ev.Severity
	if priority == 0 {
		priority = 5
	}
	for _, c := range s.civilians {
		if c.status != StatusWaiting && c.status != StatusAtVenue {
			continue
		}
		if rng.Float64() >= 0.5 {
			continue
		}
		events := s.scheduler.Schedule(c.id)
		events = append(events, schedule.NewEvent(c.id, "attend_"+ev.Venue, loc, s.currentTime, priority, true))
		s.scheduler.SetSchedule(c.id, events)
		if c.status == StatusAtVenue {
			c.status = StatusWaiting
		}
	}
}

// triggerMedicalNear forces a medical emergency on the closest healthy
// civilian to the location.
func (s *Simulation) triggerMedicalNear(loc geo.Point) {
	var victim *Civilian
	bestDist := 0.0
	for _, c := range s.civilians {
		if c.status == StatusEmergency || c.status == StatusTransported || c.status == StatusRetired {
			continue
		}
		d := geo.Distance(loc, c.loc)
		if victim == nil || d < bestDist {
			victim = c
			bestDist = d
		}
	}
	if victim == nil {
		return
	}
	victim.status = StatusEmergency
	s.ReportMedicalEmergency(victim)
}

// injectDynamicEvents raises incidents from world conditions:
// overcrowded venues can surge, extreme heat drives medical events.
func (s *Simulation) injectDynamicEvents() {
	rng := s.rng.ForSubsystem(SubsystemIncidents)
	stepMinutes := s.cfg.StepDurationSeconds / 60.0

	for _, name := range s.venueOrder {
		v := s.venues[name]
		pop := s.CountNear(v.Loc, venueRadius, RoleCivilian)
		if !v.overCapacity(pop) || s.activeIncidentAt(IncidentCrowdSurge, name) {
			continue
		}
		if rng.Float64() < crowdSurgePerMinute*stepMinutes {
			s.registerIncident(IncidentCrowdSurge, v.Loc, name, "monitoring", 6)
		}
	}

	if t := s.cfg.Weather.TempC; t > heatMedicalBaseTemp && len(s.civilians) > 0 {
		p := (t - heatMedicalBaseTemp) * heatMedicalPerDegC * s.cfg.StepDurationSeconds / 3600.0
		if rng.Float64() < p {
			c := s.civilians[rng.Intn(len(s.civilians))]
			if c.status != StatusEmergency && c.status != StatusTransported && c.status != StatusRetired {
				c.status = StatusEmergency
				s.ReportMedicalEmergency(c)
			}
		}
	}
}

func (s *Simulation) activeIncidentAt(incidentType, venueID string) bool {
	for _, inc := range s.incidents {
		if inc.Type == incidentType && inc.Venue == venueID {
			return true
		}
	}
	return false
}

// registerIncident creates an incident and its mirrored alert under a
// shared id, then lets the command center's dispatch pass pick it up.
// Ids are sequential rather than random so identically-seeded runs
// stay byte-for-byte reproducible.
func (s *Simulation) registerIncident(incidentType string, loc geo.Point, venue, reportedBy string, severity int) *Incident {
	s.incidentSeq++
	inc := &Incident{
		ID:         fmt.Sprintf("inc_%06d", s.incidentSeq),
		Type:       incidentType,
		Location:   loc,
		Venue:      venue,
		ReportedBy: reportedBy,
		Severity:   severity,
		CreatedAt:  s.currentTime,
	}
	s.incidents[inc.ID] = inc
	s.incidentOrder = append(s.incidentOrder, inc.ID)

	s.coordinator.Register(inc.ID, incidentType, loc)
	s.engine.RecordPattern(incidentType, loc)

	logrus.WithFields(logrus.Fields{
		"incident": inc.ID,
		"type":     incidentType,
		"venue":    venue,
		"severity": severity,
	}).Info("incident reported")
	return inc
}

// ReportMedicalEmergency opens a medical incident for the civilian and
// dispatches the nearest idle ambulance.
func (s *Simulation) ReportMedicalEmergency(c *Civilian) {
	if _, open := s.medicalIncidents[c.id]; open {
		return
	}
	inc := s.registerIncident(IncidentMedicalEvent, c.loc, "", fmt.Sprintf("civilian_%d", c.id), 7)
	s.medicalIncidents[c.id] = inc.ID
	s.metrics.MedicalEvents++

	var best *MedicalUnit
	for _, m := range s.medicalFleet {
		if !m.Idle() {
			continue
		}
		if best == nil || geo.Distance(m.loc, c.loc) < geo.Distance(best.loc, c.loc) {
			best = m
		}
	}
	if best == nil {
		logrus.Warnf("no ambulance available for civilian %d, emergency queued", c.id)
		return
	}
	best.DispatchToPatient(c, float64(s.currentTime.Unix()))
	s.coordinator.Assign(inc.ID, best.unitID)
	inc.AssignedUnit = best.unitID
}

// dispatchPendingMedicals retries ambulance assignment for medical
// incidents reported while the whole fleet was busy. Walks civilians
// in spawn order so retry priority is stable.
func (s *Simulation) dispatchPendingMedicals() {
	for _, c := range s.civilians {
		incID, open := s.medicalIncidents[c.id]
		if !open {
			continue
		}
		inc, ok := s.incidents[incID]
		if !ok || inc.AssignedUnit != "" {
			continue
		}
		var best *MedicalUnit
		for _, m := range s.medicalFleet {
			if !m.Idle() {
				continue
			}
			if best == nil || geo.Distance(m.loc, c.loc) < geo.Distance(best.loc, c.loc) {
				best = m
			}
		}
		if best == nil {
			return
		}
		best.DispatchToPatient(c, float64(s.currentTime.Unix()))
		s.coordinator.Assign(incID, best.unitID)
		inc.AssignedUnit = best.unitID
	}
}

// CompleteTransport closes out a hospital delivery: the medical
// incident resolves and the patient leaves the simulation footprint
// without being destroyed.
func (s *Simulation) CompleteTransport(c *Civilian) {
	if c == nil {
		return
	}
	if incID, ok := s.medicalIncidents[c.id]; ok {
		delete(s.medicalIncidents, c.id)
		s.ResolveIncident(incID)
	}
	c.status = StatusRetired
	c.escorted = false
	s.metrics.CompletedTransports++
}

// ValidateAccessToken checks a badge at a venue checkpoint. A bad
// token raises an access_denied incident at the venue, which pulls
// its security patrol off the beat.
func (s *Simulation) ValidateAccessToken(token, venueID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.AccessControl.BadgeRequired {
		return true
	}
	if strings.HasPrefix(token, s.cfg.AccessControl.BadgePrefix) {
		return true
	}

	loc := geo.Point{X: 0.5, Y: 0.5}
	if v, ok := s.venues[venueID]; ok {
		loc = v.Loc
	}
	s.registerIncident(IncidentAccessDenied, loc, venueID, "checkpoint", 6)
	return false
}
