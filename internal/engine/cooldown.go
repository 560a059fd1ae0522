package engine

import (
	"sync"
	"time"
)

// Cooldown suppresses repeat alerts for the same athlete-policy pair inside
// the policy's cooldown window. Time is passed in by the caller because the
// pipeline is driven by record dates, not the wall clock.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(tenantID, athleteID, policyID string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	return c.AllowKey(tenantID+"|"+athleteID+"|"+policyID, now, cooldown)
}

func (c *Cooldown) AllowKey(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}
