package alerts

import (
	"sync"
	"time"

	"loadguard/internal/model"
)

// Store is a bounded in-memory ring of recent alerts backing the dashboard
// views. The durable copy lives in storage; status changes are applied to
// both.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

func (s *Store) List(tenantID string, limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if tenantID != "" && s.buf[i].TenantID != tenantID {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ListByStatus returns the tenant's alerts with the given status, newest
// first.
func (s *Store) ListByStatus(tenantID string, status model.AlertStatus, limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if tenantID != "" && s.buf[i].TenantID != tenantID {
			continue
		}
		if s.buf[i].Status != status {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Store) Since(tenantID string, ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		if !a.OpenedAt.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

// ForAthlete returns the athlete's alerts, newest first.
func (s *Store) ForAthlete(tenantID, athleteID string) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		a := s.buf[i]
		if a.TenantID == tenantID && a.AthleteID == athleteID {
			out = append(out, a)
		}
	}
	return out
}

// SetStatus updates the in-memory copy of one alert. Returns false when the
// alert has already rotated out of the ring.
func (s *Store) SetStatus(id string, status model.AlertStatus, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID != id {
			continue
		}
		s.buf[i].Status = status
		if status == model.AlertClosed {
			t := at.UTC()
			s.buf[i].ClosedAt = &t
		}
		return true
	}
	return false
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
