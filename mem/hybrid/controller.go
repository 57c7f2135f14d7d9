// Package hybrid implements an address-indirection and checkpointing
// controller for a memory made of a volatile DRAM region followed by a
// non-volatile NVM region.
//
// Writes to NVM are redirected to staging blocks during an epoch and written
// back to their true location when the epoch ends, so that the NVM image
// never holds a partially written epoch. The controller only decides where
// data goes. The MemStore it is built with performs every byte copy.
package hybrid

import (
	"fmt"
	"log"

	"github.com/lpabon/godbc"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/blockpool"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/pagetracker"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/transtable"
)

// A Controller resolves the physical addresses of loads and stores to
// machine addresses and runs the epoch-ending protocol.
//
// The machine address space is laid out as follows, from low to high:
// visible DRAM, visible NVM, the DRAM checkpoint region, the page pool, the
// DRAM staging pool, and the NVM staging pool.
type Controller struct {
	hookableBase

	name     string
	store    MemStore
	dramSize uint64
	nvmSize  uint64

	att      *transtable.Table[EntryState]
	nvmPool  *blockpool.Pool
	dramPool *blockpool.Pool
	pages    *pagetracker.Tracker

	inEnding     bool
	numEpochs    uint64
	numPageMoves int
}

// Name returns the name of the controller.
func (c *Controller) Name() string {
	return c.name
}

// BlockSize returns the size of a cache block in bytes.
func (c *Controller) BlockSize() uint64 {
	return c.att.BlockSize()
}

// PageSize returns the size of a page in bytes.
func (c *Controller) PageSize() uint64 {
	return c.pages.PageSize()
}

// DRAMSize returns the size of the visible DRAM region.
func (c *Controller) DRAMSize() uint64 {
	return c.dramSize
}

// PhyLimit returns the end of the visible physical address space.
func (c *Controller) PhyLimit() uint64 {
	return c.dramSize + c.nvmSize
}

// Size returns the size of the whole machine address space, including all
// staging areas.
func (c *Controller) Size() uint64 {
	return c.nvmPool.Base() + c.nvmPool.Size()
}

// CheckpointBase returns where the checkpoint image of DRAM starts.
func (c *Controller) CheckpointBase() uint64 {
	return c.PhyLimit()
}

// InEnding tells if an epoch ending is in progress.
func (c *Controller) InEnding() bool {
	return c.inEnding
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	if c.inEnding {
		return Ending
	}

	return Running
}

// NumEpochs returns the number of finished epoch endings.
func (c *Controller) NumEpochs() uint64 {
	return c.numEpochs
}

// NumPageMoves returns the number of page snapshots moved home in the
// current epoch.
func (c *Controller) NumPageMoves() int {
	return c.numPageMoves
}

// IsDRAM tells if a physical address belongs to the volatile region.
func (c *Controller) IsDRAM(addr uint64) bool {
	return addr < c.dramSize
}

// IsDRAMBacked tells if a machine address is served by DRAM.
func (c *Controller) IsDRAMBacked(mach uint64) bool {
	return mach < c.dramSize || c.dramPool.Contains(mach)
}

// LoadAddr returns the machine address that holds the current data of addr.
// It never allocates.
func (c *Controller) LoadAddr(addr uint64) uint64 {
	c.mustBeValid(addr, 1)

	_, base, _ := c.att.Lookup(c.att.Tag(addr))
	mach := c.att.Translate(addr, base)

	size := int(c.att.BlockSize())
	if c.IsDRAMBacked(mach) {
		c.store.OnDRAMRead(mach, size)
	} else {
		c.store.OnNVMRead(mach, size)
	}

	return mach
}

// StoreAddr returns the machine address that a store of size bytes at addr
// must write to. It returns InvalidAddr if the store has to be retried after
// the running epoch ending finishes. The access must not cross a block
// boundary.
func (c *Controller) StoreAddr(addr uint64, size int) uint64 {
	c.mustBeValid(addr, size)

	var mach uint64
	if c.IsDRAM(addr) {
		mach = c.dramStore(addr, size)
	} else {
		mach = c.nvmStore(addr, size)
	}

	if mach == InvalidAddr {
		return mach
	}

	if c.IsDRAMBacked(mach) {
		c.store.OnDRAMWrite(mach, size)
	} else {
		c.store.OnNVMWrite(mach, size)
	}

	return mach
}

// BeginEpochEnding drains the redirected writes of the current epoch to
// their true locations and enters the ENDING mode.
func (c *Controller) BeginEpochEnding() {
	if c.inEnding {
		log.Panicf("%s: epoch ending is already in progress", c.name)
	}

	c.store.OnCheckpointBegin()
	c.hook(HookPosEpochBegin, Event{})

	c.att.Visit(StateTemp, func(i int) {
		c.revokeTemp(i, true)
	})

	c.att.Visit(StateDirty, func(i int) {
		if c.att.At(i).Sub == Cross {
			c.revokePlaceholder(i, true)
		}
	})

	c.att.Visit(StateDirty, c.writeBack)

	godbc.Ensure(c.att.LenOf(StateClean, StateFree) == c.att.Length(),
		"only clean and free entries may survive the write back")
	godbc.Ensure(c.dramPool.Len(blockpool.InUse) == 0,
		"the DRAM staging pool must be empty")

	c.pages.WriteBack(c.store)
	c.numPageMoves = 0

	c.inEnding = true
}

// FinishEpochEnding releases the blocks kept for the previous checkpoint and
// returns to the RUNNING mode. The caller must only call it once the
// checkpoint started by BeginEpochEnding is durable.
func (c *Controller) FinishEpochEnding() {
	if !c.inEnding {
		log.Panicf("%s: no epoch ending in progress", c.name)
	}

	c.nvmPool.ReleaseAllBackups()
	c.inEnding = false
	c.numEpochs++

	c.hook(HookPosEpochEnd, Event{})
	c.store.OnEpochEnd()
}

func (c *Controller) mustBeValid(addr uint64, size int) {
	if size <= 0 {
		panic(fmt.Sprintf("invalid access size %d", size))
	}

	last := addr + uint64(size) - 1
	if last >= c.PhyLimit() || last < addr {
		panic(fmt.Sprintf("access 0x%x+%d is beyond the physical limit 0x%x",
			addr, size, c.PhyLimit()))
	}

	if c.att.Tag(addr) != c.att.Tag(last) {
		panic(fmt.Sprintf("access 0x%x+%d crosses a block boundary", addr, size))
	}
}

func (c *Controller) isPartial(size int) bool {
	return uint64(size) != c.att.BlockSize()
}

func (c *Controller) hook(pos *HookPos, item Event) {
	if c.NumHooks() == 0 {
		return
	}

	item.Epoch = c.numEpochs
	item.Mode = c.Mode()

	c.invokeHook(HookCtx{Domain: c, Pos: pos, Item: item})
}

func (c *Controller) entryEvent(i int) Event {
	e := c.att.At(i)

	return Event{
		Addr:  c.att.Addr(e.Tag),
		Base:  e.Base,
		State: e.State,
		Sub:   e.Sub,
	}
}
