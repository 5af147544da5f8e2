package sim

import (
	"math/rand"
	"time"

	"github.com/citysafe-sim/citysafe-sim/sim/alerts"
	"github.com/citysafe-sim/citysafe-sim/sim/geo"
	"github.com/citysafe-sim/citysafe-sim/sim/schedule"
)

// Role identifies an agent's behavioral class.
type Role string

const (
	RoleCivilian  Role = "civilian"
	RoleVolunteer Role = "volunteer"
	RoleSecurity  Role = "security"
	RolePolice    Role = "police"
	RoleMedical   Role = "medical"
	RoleTransit   Role = "transit"
	RoleCommand   Role = "command"
)

// Any matches every role in spatial queries.
const AnyRole Role = ""

// Movement tolerances in unit-space distance.
const (
	arriveTol   = 0.005 // responder arrival at a scene
	waypointTol = 0.001 // route waypoint consumption
	boardTol    = 0.002 // transit boarding pickup
)

// Agent is one autonomous entity driven by the step loop. Step
// receives the world's query surface; agents never hold a back
// pointer to the kernel.
type Agent interface {
	ID() int
	Role() Role
	Location() geo.Point
	Status() string
	Step(w World) error
}

// World is the read/query and reporting surface the kernel exposes to
// agents during their Step. All methods are safe for the single-
// threaded step loop; they are not a concurrent API.
type World interface {
	Now() time.Time
	StepSeconds() float64
	Weather() WeatherConfig
	HeatAlert() bool

	// Spatial queries. AnyRole matches all roles.
	AgentsNear(loc geo.Point, radius float64, role Role) []Agent
	CountNear(loc geo.Point, radius float64, role Role) int

	// FindPath routes through the navigation graph, honoring
	// accessibility when required. A nil result means no route.
	FindPath(start, end geo.Point, accessible bool) []geo.Point
	NearestHospital(loc geo.Point) (geo.Point, bool)
	Venues() []*Venue

	// Incident lifecycle.
	ActiveIncidents() []*Incident
	IncidentActive(id string) bool
	ClaimIncident(inc *Incident, unitID string) bool
	ResolveIncident(id string)

	// Alert queries and resolution.
	AlertsNear(loc geo.Point, radius float64) []alerts.Snapshot
	TopAlerts(n int) []alerts.Snapshot
	ResolveAlert(id string)

	// Medical flow.
	ReportMedicalEmergency(c *Civilian)
	CompleteTransport(c *Civilian)

	// Responder instrumentation.
	RecordResponseTime(loc geo.Point, seconds float64)
	RecordThreat(loc geo.Point, level float64)

	Scheduler() *schedule.Scheduler
	RNG(subsystem string) *rand.Rand
}

// baseAgent carries the identity and position shared by every role.
type baseAgent struct {
	id     int
	role   Role
	loc    geo.Point
	status string
}

func (b *baseAgent) ID() int             { return b.id }
func (b *baseAgent) Role() Role          { return b.role }
func (b *baseAgent) Location() geo.Point { return b.loc }
func (b *baseAgent) Status() string      { return b.status }

// moveToward advances toward target at speed (unit-space distance per
// second) for one step, reporting whether the target was reached.
func moveToward(cur, target geo.Point, speed, stepSeconds float64) (geo.Point, bool) {
	return geo.StepToward(cur, target, speed*stepSeconds)
}
