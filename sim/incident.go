package sim

import (
	"time"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Incident types. Each maps to a command-priority weight and, through
// the alert coordinator, to a threat tier.
const (
	IncidentSuspiciousPerson = "suspicious_person"
	IncidentAccessDenied     = "access_denied"
	IncidentCrowdSurge       = "crowd_surge"
	IncidentMedicalEvent     = "medical_event"
)

// Incident is an active security or medical situation awaiting a
// responder. Each incident mirrors an alert with the same ID in the
// coordinator, so resolving one resolves the other.
type Incident struct {
	ID         string
	Type       string
	Location   geo.Point
	Venue      string
	ReportedBy string
	Severity   int // 1-10
	CreatedAt  time.Time

	// AssignedUnit is the exclusive responder claim ("police_3"),
	// empty while unclaimed.
	AssignedUnit string
}

// Medical reports whether the incident needs a medical responder
// rather than police.
func (i *Incident) Medical() bool {
	return i.Type == IncidentMedicalEvent
}

// Age is the elapsed time since the incident was reported.
func (i *Incident) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}
