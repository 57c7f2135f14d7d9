// Package blockpool manages a fixed range of equal-size staging blocks.
package blockpool

import (
	"fmt"

	"github.com/lpabon/godbc"
)

// SlotState is the ownership state of a block in the pool.
type SlotState uint8

// Slot states.
const (
	InUse SlotState = iota
	Backup
	Free
	numSlotStates
)

func (s SlotState) String() string {
	switch s {
	case InUse:
		return "IN-USE"
	case Backup:
		return "BACKUP"
	case Free:
		return "FREE"
	default:
		return fmt.Sprintf("SlotState(%d)", uint8(s))
	}
}

// A Pool hands out blocks from a contiguous address range. A block is FREE
// when nobody owns it, IN-USE when it holds live data, and BACKUP when it
// holds data that has to survive until the current checkpoint is durable.
type Pool struct {
	base      uint64
	blockBits uint
	states    []SlotState
	counts    [numSlotStates]int

	// No block below lowFree is FREE.
	lowFree int
}

// New creates a pool of length blocks of size 1<<blockBits starting at base.
func New(base uint64, length int, blockBits uint) *Pool {
	godbc.Require(length > 0, "pool length must be positive")
	godbc.Require(base&(1<<blockBits-1) == 0, "pool base must be aligned")

	p := &Pool{
		base:      base,
		blockBits: blockBits,
		states:    make([]SlotState, length),
	}

	for i := range p.states {
		p.states[i] = Free
	}

	p.counts[Free] = length

	return p
}

// Allocate takes the FREE block with the lowest address and marks it
// IN-USE. It returns false if there is no FREE block.
func (p *Pool) Allocate() (uint64, bool) {
	if p.counts[Free] == 0 {
		return 0, false
	}

	i := p.lowFree
	for p.states[i] != Free {
		i++
	}

	p.move(i, Free, InUse)
	p.lowFree = i + 1

	return p.addrOf(i), true
}

// MustAllocate is Allocate that panics if the pool is exhausted.
func (p *Pool) MustAllocate() uint64 {
	addr, ok := p.Allocate()
	if !ok {
		panic(fmt.Sprintf("block pool at 0x%x is exhausted (%d backup, %d in use)",
			p.base, p.counts[Backup], p.counts[InUse]))
	}

	return addr
}

// Release returns the block at addr to FREE. The block must currently be in
// the from state.
func (p *Pool) Release(addr uint64, from SlotState) {
	if from != InUse && from != Backup {
		panic(fmt.Sprintf("cannot release a block from state %s", from))
	}

	i := p.indexOf(addr)
	p.mustBeIn(i, from)
	p.freed(i, from)
}

// Pin marks an IN-USE block as BACKUP so that it survives until the next
// ReleaseAllBackups.
func (p *Pool) Pin(addr uint64) {
	i := p.indexOf(addr)
	p.mustBeIn(i, InUse)
	p.move(i, InUse, Backup)
}

// ReleaseAllBackups frees every BACKUP block. It must only be called once the
// checkpoint that justified the backups is durable.
func (p *Pool) ReleaseAllBackups() {
	for i, s := range p.states {
		if s == Backup {
			p.freed(i, Backup)
		}
	}

	if p.counts[InUse]+p.counts[Free] != len(p.states) {
		panic(fmt.Sprintf(
			"block pool accounting broken: %d in use + %d free != %d",
			p.counts[InUse], p.counts[Free], len(p.states)))
	}
}

// State returns the state of the block at addr.
func (p *Pool) State(addr uint64) SlotState {
	return p.states[p.indexOf(addr)]
}

// Contains tells whether addr falls in the range covered by the pool.
func (p *Pool) Contains(addr uint64) bool {
	return addr >= p.base && addr < p.base+p.Size()
}

// Len returns the number of blocks in the given state.
func (p *Pool) Len(s SlotState) int {
	return p.counts[s]
}

// Length returns the total number of blocks.
func (p *Pool) Length() int {
	return len(p.states)
}

// Base returns the address of the first block.
func (p *Pool) Base() uint64 {
	return p.base
}

// BlockSize returns the size of a block in bytes.
func (p *Pool) BlockSize() uint64 {
	return 1 << p.blockBits
}

// Size returns the number of bytes covered by the pool.
func (p *Pool) Size() uint64 {
	return uint64(len(p.states)) << p.blockBits
}

// Invariant reports whether the slot counters agree with the pool length.
func (p *Pool) Invariant() bool {
	total := 0
	for _, c := range p.counts {
		total += c
	}

	free := 0
	for i, s := range p.states {
		if s == Free {
			free++

			if i < p.lowFree {
				return false
			}
		}
	}

	return total == len(p.states) && free == p.counts[Free]
}

func (p *Pool) addrOf(i int) uint64 {
	return p.base + uint64(i)<<p.blockBits
}

func (p *Pool) indexOf(addr uint64) int {
	if addr < p.base {
		panic(fmt.Sprintf("address 0x%x is below pool base 0x%x", addr, p.base))
	}

	offset := addr - p.base
	if offset&(p.BlockSize()-1) != 0 {
		panic(fmt.Sprintf("address 0x%x is not block aligned", addr))
	}

	i := offset >> p.blockBits
	if i >= uint64(len(p.states)) {
		panic(fmt.Sprintf("address 0x%x is beyond the pool", addr))
	}

	return int(i)
}

func (p *Pool) mustBeIn(i int, s SlotState) {
	if p.states[i] != s {
		panic(fmt.Sprintf("block 0x%x is %s, expected %s",
			p.addrOf(i), p.states[i], s))
	}
}

func (p *Pool) freed(i int, from SlotState) {
	p.move(i, from, Free)

	if i < p.lowFree {
		p.lowFree = i
	}
}

func (p *Pool) move(i int, from, to SlotState) {
	p.states[i] = to
	p.counts[from]--
	p.counts[to]++

	godbc.Ensure(p.counts[from] >= 0)
}
