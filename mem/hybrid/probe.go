package hybrid

// Probe predicts the outcome of the next store to addr without changing any
// state.
func (c *Controller) Probe(addr uint64) Control {
	c.mustBeValid(addr, 1)

	if c.IsDRAM(addr) && !c.pages.CanStage(addr) {
		return c.saturated()
	}

	if c.IsDRAM(addr) && !c.inEnding {
		return Accept
	}

	if _, found := c.att.Peek(c.att.Tag(addr)); found {
		return Accept
	}

	if !c.att.IsEmpty(StateFree) || !c.att.IsEmpty(StateClean) {
		return Accept
	}

	if !c.inEnding && !c.att.IsEmpty(StateTemp) {
		return Accept
	}

	return c.saturated()
}

func (c *Controller) saturated() Control {
	if c.inEnding {
		return Retry
	}

	return Epoch
}
