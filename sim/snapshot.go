package sim

import (
	"github.com/citysafe-sim/citysafe-sim/sim/alerts"
)

// AgentState is one agent's externally visible snapshot.
type AgentState struct {
	ID       int        `json:"id"`
	Role     string     `json:"role"`
	Location [2]float64 `json:"location"`
	Status   string     `json:"status"`
}

// IncidentState is one active incident's snapshot.
type IncidentState struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Location     [2]float64 `json:"location"`
	Venue        string     `json:"venue,omitempty"`
	Severity     int        `json:"severity"`
	AssignedUnit string     `json:"assigned_unit,omitempty"`
	AgeSeconds   float64    `json:"age_seconds"`
}

// State is a deep, mutation-safe snapshot of the whole simulation,
// suitable for JSON export. Concurrent readers may hold it while the
// simulation keeps stepping.
type State struct {
	Time      string                  `json:"time"`
	Step      int64                   `json:"step"`
	Agents    map[string][]AgentState `json:"agents"`
	Incidents []IncidentState         `json:"incidents"`
	Alerts    []alerts.Snapshot       `json:"alerts"`
	Hotspots  [][2]float64            `json:"hotspots"`
	Metrics   map[string]float64      `json:"metrics"`
}

// GetState builds a copy-on-read snapshot. Nothing in the returned
// value aliases live simulation state.
func (s *Simulation) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		Time:    s.currentTime.Format(timeLayout),
		Step:    s.stepCount,
		Agents:  make(map[string][]AgentState, 7),
		Metrics: s.metrics.Map(),
	}

	for _, a := range s.agents {
		loc := a.Location()
		role := string(a.Role())
		st.Agents[role] = append(st.Agents[role], AgentState{
			ID:       a.ID(),
			Role:     role,
			Location: [2]float64{finiteOrZero(loc.X), finiteOrZero(loc.Y)},
			Status:   a.Status(),
		})
	}

	for _, id := range s.incidentOrder {
		inc, ok := s.incidents[id]
		if !ok {
			continue
		}
		st.Incidents = append(st.Incidents, IncidentState{
			ID:           inc.ID,
			Type:         inc.Type,
			Location:     [2]float64{finiteOrZero(inc.Location.X), finiteOrZero(inc.Location.Y)},
			Venue:        inc.Venue,
			Severity:     inc.Severity,
			AssignedUnit: inc.AssignedUnit,
			AgeSeconds:   inc.Age(s.currentTime).Seconds(),
		})
	}

	st.Alerts = s.coordinator.TopAlerts(s.coordinator.ActiveCount())

	if s.command != nil {
		for _, h := range s.command.Hotspots() {
			st.Hotspots = append(st.Hotspots, [2]float64{h.X, h.Y})
		}
	}

	return st
}
