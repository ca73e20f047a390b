package engine

import "time"

// Gate debounces alert emission with a cooldown and, optionally, a
// consecutive-confirmation requirement. It is not safe for concurrent use;
// the engine owns one gate per alert kind and drives them from its single
// processing goroutine.
type Gate struct {
	cooldown time.Duration
	required int
	lastFire time.Time
	confirms int
}

// NewGate returns a cooldown-only gate when required is zero, otherwise a
// gate that also demands `required` consecutive confirmations.
func NewGate(cooldown time.Duration, required int) *Gate {
	return &Gate{cooldown: cooldown, required: required}
}

// Open reports whether the cooldown window has elapsed. The comparison is
// strict: a condition recurring exactly at the cooldown boundary stays
// suppressed.
func (g *Gate) Open(now time.Time) bool {
	return g.lastFire.IsZero() || now.Sub(g.lastFire) > g.cooldown
}

// Fire attempts to fire a cooldown-only alert. When the gate is open it
// records the fire time and returns true; otherwise the alert is suppressed.
func (g *Gate) Fire(now time.Time) bool {
	if !g.Open(now) {
		return false
	}
	g.lastFire = now
	return true
}

// Confirm registers one positive detection. The gate fires once the
// confirmation counter reaches the requirement and the cooldown is open;
// firing resets the counter. A blocked cooldown keeps the counter so the
// alert fires as soon as the window reopens.
func (g *Gate) Confirm(now time.Time) bool {
	g.confirms++
	if g.confirms >= g.required && g.Open(now) {
		g.lastFire = now
		g.confirms = 0
		return true
	}
	return false
}

// Reset clears the confirmation counter. Called when the triggering
// condition is absent in an evaluated window.
func (g *Gate) Reset() {
	g.confirms = 0
}

// Confirmations exposes the current counter for reporting.
func (g *Gate) Confirmations() int {
	return g.confirms
}
