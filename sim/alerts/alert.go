// Package alerts implements the priority-driven alert and dispatch
// coordinator: threat-tier scoring, a lazily-deleted min-heap of active
// alerts, per-tier TTL expiry, exclusive unit assignments, and
// channel-based subscriber fan-out.
package alerts

import (
	"time"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

// Tier is the coarse severity classification an alert type maps to.
// Lower values are more severe; the tier value seeds the priority score.
type Tier int

const (
	TierCritical Tier = 1
	TierHigh     Tier = 2
	TierMedium   Tier = 3
	TierLow      Tier = 4
	TierInfo     Tier = 5
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "CRITICAL"
	case TierHigh:
		return "HIGH"
	case TierMedium:
		return "MEDIUM"
	case TierLow:
		return "LOW"
	case TierInfo:
		return "INFO"
	}
	return "UNKNOWN"
}

// Category groups alerts by the kind of response they require.
type Category string

const (
	CategorySecurityThreat   Category = "security_threat"
	CategoryMedicalEmergency Category = "medical_emergency"
	CategoryCrowdManagement  Category = "crowd_management"
	CategoryAccessControl    Category = "access_control"
	CategoryTransportation   Category = "transportation"
	CategoryWeather          Category = "weather"
	CategoryGeneral          Category = "general"
)

// tierByType maps each known alert type to its fixed base tier.
// Unknown types default to TierMedium.
var tierByType = map[string]Tier{
	"suspicious_person": TierCritical,
	"access_denied":     TierHigh,
	"crowd_surge":       TierHigh,
	"medical_event":     TierCritical,
	"fire":              TierCritical,
	"security_breach":   TierCritical,
	"traffic_incident":  TierMedium,
	"weather_alert":     TierMedium,
}

var categoryByType = map[string]Category{
	"suspicious_person": CategorySecurityThreat,
	"access_denied":     CategoryAccessControl,
	"crowd_surge":       CategoryCrowdManagement,
	"medical_event":     CategoryMedicalEmergency,
	"fire":              CategorySecurityThreat,
	"security_breach":   CategorySecurityThreat,
	"traffic_incident":  CategoryTransportation,
	"weather_alert":     CategoryWeather,
}

// TierForType returns the base threat tier for an alert type.
func TierForType(alertType string) Tier {
	if t, ok := tierByType[alertType]; ok {
		return t
	}
	return TierMedium
}

// CategoryForType returns the response category for an alert type.
func CategoryForType(alertType string) Category {
	if c, ok := categoryByType[alertType]; ok {
		return c
	}
	return CategoryGeneral
}

// Alert is an active alert with its dynamic priority factors.
// Lower Score means higher urgency.
type Alert struct {
	ID              string
	Type            string
	Category        Category
	Tier            Tier
	Location        geo.Point
	CreatedAt       time.Time
	CrowdDensity    float64 // normalized 0..1
	NearVIP         bool
	WeatherFactor   float64
	EscalationCount int
	Score           float64

	// expiresAt is zero for tiers that never auto-expire.
	expiresAt time.Time
}

// computeScore derives the priority score from the base tier and the
// dynamic multipliers:
//
//	score = tier × (1 + 0.3×density) × vip × weather / (1 + 0.2×escalations)
//
// where vip is 0.5 inside the VIP proximity radius and 1.0 otherwise.
// Lower score means higher urgency, so each escalation grows the
// divisor and strictly moves the alert up the queue.
func (a *Alert) computeScore() {
	crowd := 1.0 + 0.3*a.CrowdDensity
	vip := 1.0
	if a.NearVIP {
		vip = 0.5
	}
	weather := a.WeatherFactor
	if weather == 0 {
		weather = 1.0
	}
	escalation := 1.0 + 0.2*float64(a.EscalationCount)
	a.Score = float64(a.Tier) * crowd * vip * weather / escalation
}

// Snapshot is an immutable copy of an alert's externally visible state,
// used in notifications and state exports.
type Snapshot struct {
	ID              string    `json:"alert_id"`
	Type            string    `json:"alert_type"`
	Category        Category  `json:"category"`
	Tier            string    `json:"threat_level"`
	Location        geo.Point `json:"location"`
	Score           float64   `json:"priority_score"`
	CrowdDensity    float64   `json:"crowd_density"`
	NearVIP         bool      `json:"proximity_to_vip"`
	EscalationCount int       `json:"escalation_count"`
	CreatedAt       time.Time `json:"timestamp"`
}

func (a *Alert) snapshot() Snapshot {
	return Snapshot{
		ID:              a.ID,
		Type:            a.Type,
		Category:        a.Category,
		Tier:            a.Tier.String(),
		Location:        a.Location,
		Score:           a.Score,
		CrowdDensity:    a.CrowdDensity,
		NearVIP:         a.NearVIP,
		EscalationCount: a.EscalationCount,
		CreatedAt:       a.CreatedAt,
	}
}
