package engine

import (
	"strings"

	"loadguard/internal/config"
)

// RosterSet resolves which athletes a tenant wants evaluated. Exclusions
// cover injured or departed athletes; include-only mode restricts the
// pipeline to an explicit squad list.
type RosterSet struct {
	Enabled     bool
	IncludeOnly bool
	Includes    map[string]map[string]struct{}
	Excludes    map[string]map[string]struct{}
}

func buildRoster(cfg *config.Config) *RosterSet {
	rs := &RosterSet{Enabled: cfg.Roster.Enabled, IncludeOnly: cfg.Roster.IncludeOnly}
	if !rs.Enabled {
		return rs
	}
	rs.Includes = buildAthleteMap(cfg.Roster.Include)
	rs.Excludes = buildAthleteMap(cfg.Roster.Exclude)
	return rs
}

func buildAthleteMap(values map[string][]string) map[string]map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]map[string]struct{}, len(values))
	for tenant, list := range values {
		tenant = strings.TrimSpace(tenant)
		if tenant == "" {
			continue
		}
		set := make(map[string]struct{}, len(list))
		for _, id := range list {
			id = normalizeAthleteID(id)
			if id == "" {
				continue
			}
			set[id] = struct{}{}
		}
		if len(set) == 0 {
			continue
		}
		out[tenant] = set
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Tracked reports whether an athlete should flow through the pipeline.
func (r *RosterSet) Tracked(tenantID, athleteID string) bool {
	if r == nil || !r.Enabled {
		return true
	}
	id := normalizeAthleteID(athleteID)
	if id == "" {
		return false
	}
	if r.Excludes != nil {
		if set, ok := r.Excludes[tenantID]; ok {
			if _, ok := set[id]; ok {
				return false
			}
		}
	}
	if r.IncludeOnly {
		if r.Includes == nil {
			return false
		}
		set, ok := r.Includes[tenantID]
		if !ok {
			return false
		}
		_, ok = set[id]
		return ok
	}
	return true
}

func normalizeAthleteID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
