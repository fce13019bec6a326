package bnn

// Checkpoint detects plateaus of a validation metric. It implements
// mcmc.Checkpointer.
type Checkpoint struct {
	Patience int // non-improving updates before a reset is due

	best  float64
	seen  bool
	stale int
}

// Update records a new measurement and reports whether it is the best so far.
func (c *Checkpoint) Update(accuracy float64) bool {
	if !c.seen || accuracy > c.best {
		c.best = accuracy
		c.seen = true
		c.stale = 0
		return true
	}
	c.stale++
	return false
}

// NeedReset reports whether Patience updates in a row failed to improve. It
// clears the count when it does.
func (c *Checkpoint) NeedReset() bool {
	if c.stale >= max(c.Patience, 1) {
		c.stale = 0
		return true
	}
	return false
}

// Best returns the best measurement so far.
func (c *Checkpoint) Best() float64 { return c.best }
