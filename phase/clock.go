package phase

import "github.com/clintpurser/biped/state"

// timeEpsilon absorbs rounding in tick-count times period.
const timeEpsilon = 1e-9

// Clock measures phase time from the tick counter, so phase lengths are
// reproducible at a constant rate.
type Clock struct {
	start  uint64
	period float64
	ran    int
	// End is the phase duration in seconds.
	End float64
}

// Start marks the current tick as phase time zero.
func (c *Clock) Start(sp *state.Shared) {
	c.start = sp.Tick
	c.period = sp.Period
	c.ran = 0
}

// Time returns the phase time of the current tick.
func (c *Clock) Time(sp *state.Shared) float64 {
	return float64(sp.Tick-c.start) * c.period
}

// Step records one completed tick.
func (c *Clock) Step() { c.ran++ }

// Ran returns the completed ticks of this visit.
func (c *Clock) Ran() int { return c.ran }

// Elapsed returns the phase time covered by the completed ticks.
func (c *Clock) Elapsed() float64 { return float64(c.ran) * c.period }

// Expired reports whether the completed ticks cover End.
func (c *Clock) Expired() bool {
	return c.Elapsed() >= c.End-timeEpsilon
}

// Reached reports whether the phase time of the current tick has crossed t.
func (c *Clock) Reached(sp *state.Shared, t float64) bool {
	return c.Time(sp) >= t-timeEpsilon
}
