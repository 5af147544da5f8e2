package sim

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Metrics is the per-step operational rollup printed at the end of a
// run and attached to every analytics time-series point.
type Metrics struct {
	SafetyScore         float64
	AvgResponseSeconds  float64
	ContainmentRate     float64
	ActiveIncidents     int
	ResolvedIncidents   int
	MedicalEvents       int
	CompletedTransports int
	ActiveAlerts        int
	AvgVenueCrowd       float64
	MaxVenueCrowd       int
	DelayedTransit      int
}

// Map flattens the metrics for analytics recording and state export.
// Non-finite values are coerced to zero so JSON encoding never fails.
func (m Metrics) Map() map[string]float64 {
	out := map[string]float64{
		"safety_score":         m.SafetyScore,
		"avg_response_seconds": m.AvgResponseSeconds,
		"containment_rate":     m.ContainmentRate,
		"active_incidents":     float64(m.ActiveIncidents),
		"resolved_incidents":   float64(m.ResolvedIncidents),
		"medical_events":       float64(m.MedicalEvents),
		"completed_transports": float64(m.CompletedTransports),
		"active_alerts":        float64(m.ActiveAlerts),
		"avg_venue_crowd":      m.AvgVenueCrowd,
		"max_venue_crowd":      float64(m.MaxVenueCrowd),
		"delayed_transit":      float64(m.DelayedTransit),
	}
	for k, v := range out {
		out[k] = finiteOrZero(v)
	}
	return out
}

// Log emits the rollup as one structured log line.
func (m Metrics) Log() {
	logrus.WithFields(logrus.Fields{
		"safety_score":     math.Round(m.SafetyScore*100) / 100,
		"avg_response_s":   math.Round(m.AvgResponseSeconds*10) / 10,
		"containment_rate": math.Round(m.ContainmentRate*1000) / 1000,
		"incidents_open":   m.ActiveIncidents,
		"incidents_closed": m.ResolvedIncidents,
		"medical_events":   m.MedicalEvents,
		"alerts_active":    m.ActiveAlerts,
	}).Info("operational metrics")
}

// updateMetrics recomputes the rollup from current world state.
func (s *Simulation) updateMetrics() {
	m := &s.metrics

	openMedical := 0
	for _, id := range s.incidentOrder {
		if inc, ok := s.incidents[id]; ok && inc.Medical() {
			openMedical++
		}
	}
	m.ActiveIncidents = len(s.incidents)
	m.ActiveAlerts = s.coordinator.ActiveCount()

	// Safety score starts at 100 and degrades with open load.
	score := 100.0 - 5.0*float64(m.ActiveIncidents) - 3.0*float64(openMedical)
	if score < 0 {
		score = 0
	}
	m.SafetyScore = score

	if len(s.responseSamples) > 0 {
		m.AvgResponseSeconds = stat.Mean(s.responseSamples, nil)
	}

	total := m.ResolvedIncidents + m.ActiveIncidents
	if total > 0 {
		m.ContainmentRate = float64(m.ResolvedIncidents) / float64(total)
	}

	crowdSum, crowdMax := 0, 0
	for _, id := range s.venueOrder {
		v := s.venues[id]
		crowd := s.CountNear(v.Loc, venueRadius, RoleCivilian)
		crowdSum += crowd
		if crowd > crowdMax {
			crowdMax = crowd
		}
	}
	if len(s.venueOrder) > 0 {
		m.AvgVenueCrowd = float64(crowdSum) / float64(len(s.venueOrder))
	}
	m.MaxVenueCrowd = crowdMax

	delayed := 0
	for _, t := range s.transit {
		if t.Status() == StatusOutOfService {
			delayed++
		}
	}
	m.DelayedTransit = delayed
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
