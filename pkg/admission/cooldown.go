package admission

import (
	"sync"
	"time"
)

// CooldownTracker remembers the last granted request per agent so the
// controller can enforce minimum spacing between grants. It is kept in
// memory: cooldown is a pacing concern, not billing truth, so it does
// not need to survive a restart the way the ledger does.
type CooldownTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownTracker creates an empty tracker.
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{last: make(map[string]time.Time)}
}

// Reserve atomically checks the cooldown and, when clear, records a
// tentative grant at now so concurrent callers for the same agent see
// it as cooling down immediately. On success the returned wait is zero
// and cancel undoes the reservation; the controller cancels when a
// later check denies the request. When the agent is still cooling
// down, wait is the time left and cancel is nil.
func (c *CooldownTracker) Reserve(agentID string, cooldown time.Duration, now time.Time) (time.Duration, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, had := c.last[agentID]
	if had {
		if elapsed := now.Sub(prev); elapsed < cooldown {
			return cooldown - elapsed, nil
		}
	}
	c.last[agentID] = now

	return 0, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.last[agentID].Equal(now) {
			return
		}
		if had {
			c.last[agentID] = prev
		} else {
			delete(c.last, agentID)
		}
	}
}

// Remaining returns how much of the cooldown is left for the agent at
// now. Zero means the agent may be granted.
func (c *CooldownTracker) Remaining(agentID string, cooldown time.Duration, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[agentID]
	if !ok {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return 0
	}
	return cooldown - elapsed
}

// MarkGranted records a grant for the agent at now. The controller
// calls this only for grants, so two grants to one agent are never
// recorded closer than the cooldown period.
func (c *CooldownTracker) MarkGranted(agentID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[agentID] = now
}

// LastGranted returns the timestamp of the agent's last grant, or a
// zero time if it has none.
func (c *CooldownTracker) LastGranted(agentID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[agentID]
}
