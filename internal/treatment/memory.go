package treatment

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemorySource is an in-process Source used by local runs and tests.
type MemorySource struct {
	mu            sync.RWMutex
	appointments  []Appointment
	practitioners map[string]Practitioner
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{practitioners: make(map[string]Practitioner)}
}

// AddAppointment records an appointment.
func (m *MemorySource) AddAppointment(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments = append(m.appointments, a)
}

// AddPractitioner records or replaces a practitioner.
func (m *MemorySource) AddPractitioner(p Practitioner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.practitioners[p.ID] = p
}

func (m *MemorySource) PatientAppointments(_ context.Context, patientID string, statuses []string, since time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.PatientID != patientID || a.End.Before(since) {
			continue
		}
		if !containsFold(statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *MemorySource) Practitioner(_ context.Context, id string) (*Practitioner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.practitioners[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
