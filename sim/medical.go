package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/citysafe-sim/citysafe-sim/sim/geo"
)

const StatusTransporting = "transporting"

const medicalSpeed = 12.0 // m/s, ambulance

// MedicalUnit is an ambulance: dispatched to a civilian in medical
// distress, then transporting them to the nearest hospital. The
// patient's position follows the unit during transport.
type MedicalUnit struct {
	baseAgent

	unitID       string
	patient      *Civilian
	hospital     geo.Point
	dispatchedAt float64 // Unix seconds, for response time samples
}

func newMedicalUnit(id int, unitID string, loc geo.Point) *MedicalUnit {
	return &MedicalUnit{
		baseAgent: baseAgent{id: id, role: RoleMedical, loc: loc, status: StatusAvailable},
		unitID:    unitID,
	}
}

// UnitID is the unit's dispatch identity.
func (m *MedicalUnit) UnitID() string { return m.unitID }

// Idle reports whether the unit can take a patient.
func (m *MedicalUnit) Idle() bool { return m.status == StatusAvailable }

// DispatchToPatient sends the unit to a civilian in emergency.
func (m *MedicalUnit) DispatchToPatient(c *Civilian, now float64) bool {
	if m.status != StatusAvailable {
		return false
	}
	m.patient = c
	m.dispatchedAt = now
	m.status = StatusDispatched
	return true
}

func (m *MedicalUnit) Step(w World) error {
	switch m.status {
	case StatusDispatched:
		m.driveToPatient(w)
	case StatusTransporting:
		m.transport(w)
	}
	return nil
}

func (m *MedicalUnit) driveToPatient(w World) {
	if m.patient == nil || !m.patient.InEmergency() {
		m.release()
		return
	}
	next, reached := moveToward(m.loc, m.patient.loc, medicalSpeed*speedScale, w.StepSeconds())
	m.loc = next
	if !reached && geo.Distance(m.loc, m.patient.loc) >= arriveTol {
		return
	}

	w.RecordResponseTime(m.loc, float64(w.Now().Unix())-m.dispatchedAt)
	hospital, ok := w.NearestHospital(m.loc)
	if !ok {
		logrus.Warnf("medical %s: no hospital in scenario, treating on scene", m.unitID)
		w.CompleteTransport(m.patient)
		m.release()
		return
	}
	m.hospital = hospital
	m.patient.status = StatusTransported
	m.status = StatusTransporting
}

func (m *MedicalUnit) transport(w World) {
	next, reached := moveToward(m.loc, m.hospital, medicalSpeed*speedScale, w.StepSeconds())
	m.loc = next
	if m.patient != nil {
		m.patient.loc = m.loc
	}
	if reached || geo.Distance(m.loc, m.hospital) < arriveTol {
		w.CompleteTransport(m.patient)
		m.release()
	}
}

func (m *MedicalUnit) release() {
	m.patient = nil
	m.status = StatusAvailable
}
