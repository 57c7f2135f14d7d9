package hybrid

import (
	"fmt"
	"log"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/blockpool"
)

func (c *Controller) nvmStore(addr uint64, size int) uint64 {
	if c.inEnding {
		return c.nvmStoreInEnding(addr, size)
	}

	partial := c.isPartial(size)
	tag := c.att.Tag(addr)

	i, _, found := c.att.Lookup(tag)
	if found {
		e := c.att.At(i)

		switch {
		case e.State == StateDirty && e.Sub == Regular:
			return c.att.Translate(addr, e.Base)
		case e.State == StateDirty && e.Sub == Cross:
			return c.att.Translate(addr, c.revokePlaceholder(i, partial))
		case e.State == StateClean:
			// The block equals the checkpointed true location, so it can
			// take new writes directly.
			c.att.Transition(i, e.Base, StateDirty, Regular)
			return c.att.Translate(addr, e.Base)
		case e.State == StateTemp:
			c.revokeTemp(i, partial)
		default:
			log.Panicf("entry of 0x%x is %s", addr, e.State)
		}
	}

	if c.att.IsEmpty(StateFree) {
		c.makeRoom()
	}

	base := c.nvmPool.MustAllocate()
	c.setup(addr, base, partial, StateDirty, Regular)

	return c.att.Translate(addr, base)
}

func (c *Controller) nvmStoreInEnding(addr uint64, size int) uint64 {
	partial := c.isPartial(size)
	tag := c.att.Tag(addr)

	i, _, found := c.att.Lookup(tag)
	if found {
		e := c.att.At(i)

		switch e.State {
		case StateDirty, StateTemp:
			return c.att.Translate(addr, e.Base)
		case StateClean:
			return c.att.Translate(addr, c.resetClean(i, partial))
		default:
			log.Panicf("entry of 0x%x is %s", addr, e.State)
		}
	}

	if !c.att.IsEmpty(StateFree) {
		base := c.nvmPool.MustAllocate()
		c.setup(addr, base, partial, StateDirty, Regular)

		return c.att.Translate(addr, base)
	}

	ci, ok := c.att.Front(StateClean)
	if !ok {
		return c.backpressure(addr)
	}

	c.evictClean(ci)

	base := c.dramPool.MustAllocate()
	c.setup(addr, base, partial, StateDirty, Cross)

	return c.att.Translate(addr, base)
}

func (c *Controller) dramStore(addr uint64, size int) uint64 {
	if c.inEnding {
		if c.Probe(addr) != Accept {
			return c.backpressure(addr)
		}
	} else if !c.pages.CanStage(addr) {
		log.Panicf("%s: page table is saturated, begin a new epoch before "+
			"storing to 0x%x", c.name, addr)
	}

	if c.pages.Stage(addr, c.store) {
		c.numPageMoves++
		c.hook(HookPosPageMove, Event{Addr: addr})
	}

	partial := c.isPartial(size)
	tag := c.att.Tag(addr)

	i, _, found := c.att.Lookup(tag)
	if found {
		c.mustBeTemp(i)
	}

	if !c.inEnding {
		if found {
			c.revokeTemp(i, partial)
		}

		return addr
	}

	if found {
		return c.att.Translate(addr, c.att.At(i).Base)
	}

	if c.att.IsEmpty(StateFree) {
		ci, _ := c.att.Front(StateClean)
		c.evictClean(ci)
	}

	base := c.dramPool.MustAllocate()
	c.setup(addr, base, partial, StateTemp, Regular)

	return c.att.Translate(addr, base)
}

// setup binds the block of addr to base. For partial writes, the current
// content of the block is copied first.
func (c *Controller) setup(
	addr, base uint64,
	partial bool,
	state EntryState,
	sub SubState,
) {
	tag := c.att.Tag(addr)
	if partial {
		c.store.MoveData(base, c.att.Addr(tag), int(c.att.BlockSize()))
	}

	i := c.att.Insert(tag, base, state, sub)
	c.hook(HookPosRedirect, c.entryEvent(i))
}

// makeRoom frees a table entry while running. TEMP entries go first, then the
// least recently used CLEAN entry.
func (c *Controller) makeRoom() {
	if i, ok := c.att.Front(StateTemp); ok {
		c.revokeTemp(i, true)
		return
	}

	if i, ok := c.att.Front(StateClean); ok {
		c.evictClean(i)
		return
	}

	log.Panicf("%s: translation table is saturated, begin a new epoch first",
		c.name)
}

// revokeTemp writes a TEMP entry back to its true location and frees it.
func (c *Controller) revokeTemp(i int, moveData bool) {
	e := c.att.At(i)
	c.mustBeTemp(i)

	if moveData {
		c.store.MoveData(c.att.Addr(e.Tag), e.Base, int(c.att.BlockSize()))
	}

	c.hook(HookPosRevoke, c.entryEvent(i))
	c.dramPool.Release(e.Base, blockpool.InUse)
	c.att.Evict(i)
}

// revokePlaceholder gives a DIRTY/CROSS placeholder a durable NVM block. It
// returns the new block.
func (c *Controller) revokePlaceholder(i int, moveData bool) uint64 {
	e := c.att.At(i)
	if e.State != StateDirty || e.Sub != Cross {
		panic(fmt.Sprintf("entry %d is %s/%s, not a placeholder", i, e.State, e.Sub))
	}

	base := c.nvmPool.MustAllocate()
	if moveData {
		c.store.MoveData(base, e.Base, int(c.att.BlockSize()))
	}

	c.hook(HookPosRevoke, c.entryEvent(i))
	c.dramPool.Release(e.Base, blockpool.InUse)
	c.att.Transition(i, base, StateDirty, Regular)

	return base
}

// resetClean redirects a CLEAN entry that is being backed up to a fresh DRAM
// block, keeping the old block until the checkpoint is durable. It returns
// the new block.
func (c *Controller) resetClean(i int, moveData bool) uint64 {
	e := c.att.At(i)

	base := c.dramPool.MustAllocate()
	if moveData {
		c.store.MoveData(base, e.Base, int(c.att.BlockSize()))
	}

	c.nvmPool.Pin(e.Base)
	c.att.Transition(i, base, StateTemp, Cross)
	c.hook(HookPosRedirect, c.entryEvent(i))

	return base
}

// evictClean reclaims a CLEAN entry. Its block is pinned because it may still
// be part of the checkpoint being made.
func (c *Controller) evictClean(i int) {
	e := c.att.At(i)
	if e.State != StateClean {
		panic(fmt.Sprintf("entry %d is %s, not CLEAN", i, e.State))
	}

	phy := c.att.Addr(e.Tag)
	size := int(c.att.BlockSize())

	if c.inEnding {
		c.store.SwapData(phy, e.Base, size)
	} else {
		c.store.MoveData(phy, e.Base, size)
	}

	c.hook(HookPosEvict, c.entryEvent(i))
	c.nvmPool.Pin(e.Base)
	c.att.Evict(i)
}

// writeBack copies a DIRTY/REGULAR entry to its true location and demotes it
// to CLEAN.
func (c *Controller) writeBack(i int) {
	e := c.att.At(i)

	c.store.MoveData(c.att.Addr(e.Tag), e.Base, int(c.att.BlockSize()))
	c.att.Transition(i, e.Base, StateClean, Regular)
	c.hook(HookPosWriteBack, c.entryEvent(i))
}

func (c *Controller) backpressure(addr uint64) uint64 {
	c.store.OnBackpressure()
	c.hook(HookPosBackpressure, Event{Addr: addr})

	return InvalidAddr
}

func (c *Controller) mustBeTemp(i int) {
	e := c.att.At(i)
	if e.State != StateTemp {
		panic(fmt.Sprintf("entry of 0x%x is %s/%s, expected TEMP",
			c.att.Addr(e.Tag), e.State, e.Sub))
	}
}
