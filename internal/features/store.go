package features

import (
	"sync"
	"time"

	"loadguard/internal/model"
)

// Store keeps the latest feature row per athlete in memory so the reporting
// API can serve heatmaps without hitting the mart. Persistence of the full
// history lives in storage; this is the hot view.
type Store struct {
	mu        sync.RWMutex
	byAthlete map[string]map[string]model.FeatureRow
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byAthlete: make(map[string]map[string]model.FeatureRow),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(row model.FeatureRow) {
	if row.TenantID == "" || row.AthleteID == "" {
		return
	}
	key := row.TenantID + "|" + row.AthleteID
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byAthlete[row.TenantID]
	if !ok {
		m = make(map[string]model.FeatureRow)
		s.byAthlete[row.TenantID] = m
	}
	if prev, ok := m[row.AthleteID]; !ok || !row.EventDate.Before(prev.EventDate) {
		m[row.AthleteID] = row
	}
	s.updatedAt[key] = time.Now().UTC()
	if s.size() > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(tenantID, athleteID string) (model.FeatureRow, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byAthlete[tenantID]
	if !ok {
		return model.FeatureRow{}, time.Time{}, false
	}
	row, ok := m[athleteID]
	if !ok {
		return model.FeatureRow{}, time.Time{}, false
	}
	return row, s.updatedAt[tenantID+"|"+athleteID], true
}

// Tenant returns the latest row for every tracked athlete of one tenant.
func (s *Store) Tenant(tenantID string) map[string]model.FeatureRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byAthlete[tenantID]
	if !ok {
		return nil
	}
	out := make(map[string]model.FeatureRow, len(m))
	for id, row := range m {
		out[id] = row
	}
	return out
}

func (s *Store) size() int {
	n := 0
	for _, m := range s.byAthlete {
		n += len(m)
	}
	return n
}

func (s *Store) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, ts := range s.updatedAt {
		if oldestKey == "" || ts.Before(oldest) {
			oldestKey = key
			oldest = ts
		}
	}
	if oldestKey == "" {
		return
	}
	for i := 0; i < len(oldestKey); i++ {
		if oldestKey[i] == '|' {
			tenant, athlete := oldestKey[:i], oldestKey[i+1:]
			if m, ok := s.byAthlete[tenant]; ok {
				delete(m, athlete)
				if len(m) == 0 {
					delete(s.byAthlete, tenant)
				}
			}
			break
		}
	}
	delete(s.updatedAt, oldestKey)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAthlete = make(map[string]map[string]model.FeatureRow)
	s.updatedAt = make(map[string]time.Time)
}
