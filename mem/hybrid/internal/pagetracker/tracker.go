// Package pagetracker records which volatile pages already have their
// once-per-epoch backing copy.
package pagetracker

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/blockpool"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/transtable"
)

// PageState is the state of a page entry.
type PageState uint8

// Page states.
const (
	PageFree PageState = iota
	PageDirty
	PageClean
	numPageStates
)

func (s PageState) String() string {
	switch s {
	case PageFree:
		return "FREE"
	case PageDirty:
		return "DIRTY"
	case PageClean:
		return "CLEAN"
	default:
		return fmt.Sprintf("PageState(%d)", uint8(s))
	}
}

// A Mover copies bytes between two machine addresses.
type Mover interface {
	MoveData(dst, src uint64, size int)
}

// A Tracker keeps one entry per volatile page written in the current epoch.
// Each entry owns a page block that receives the page snapshot when the
// epoch ends.
type Tracker struct {
	table    *transtable.Table[PageState]
	pool     *blockpool.Pool
	homeBase uint64
}

// New creates a tracker with length entries. Page blocks are carved from
// poolBase; homeBase is where the checkpoint image of page 0 lives.
func New(length int, pageBits uint, poolBase, homeBase uint64) *Tracker {
	return &Tracker{
		table:    transtable.New[PageState](length, pageBits, int(numPageStates)),
		pool:     blockpool.New(poolBase, 2*length, pageBits),
		homeBase: homeBase,
	}
}

// CanStage tells if Stage on addr can proceed without a new epoch.
func (t *Tracker) CanStage(addr uint64) bool {
	if _, found := t.table.Peek(t.table.Tag(addr)); found {
		return true
	}

	return !t.table.IsEmpty(PageFree) || !t.table.IsEmpty(PageClean)
}

// IsStaged tells if the page of addr already has its copy in this epoch.
func (t *Tracker) IsStaged(addr uint64) bool {
	i, found := t.table.Peek(t.table.Tag(addr))
	return found && t.table.At(i).State == PageDirty
}

// Stage marks the page of addr as written in the current epoch. It returns
// true if an older page snapshot had to be moved to its home to make room.
func (t *Tracker) Stage(addr uint64, m Mover) (moved bool) {
	tag := t.table.Tag(addr)

	i, _, found := t.table.Lookup(tag)
	if found {
		e := t.table.At(i)
		switch e.State {
		case PageDirty:
			return false
		case PageClean:
			t.pool.Pin(e.Base)
			t.table.Evict(i)
		default:
			panic(fmt.Sprintf("page 0x%x is %s", tag, e.State))
		}
	} else if t.table.IsEmpty(PageFree) {
		moved = t.evictOldestClean(m)
	}

	base := t.pool.MustAllocate()
	t.table.Insert(tag, base, PageDirty, transtable.Regular)

	return moved
}

func (t *Tracker) evictOldestClean(m Mover) bool {
	ci, ok := t.table.Front(PageClean)
	if !ok {
		panic("page table is saturated, a new epoch must begin first")
	}

	e := t.table.At(ci)
	m.MoveData(t.home(e.Tag), e.Base, int(t.table.BlockSize()))
	t.pool.Release(e.Base, blockpool.InUse)
	t.table.Evict(ci)

	return true
}

// WriteBack snapshots every page written in this epoch into its page block,
// marks it CLEAN and drops the snapshots kept from the previous epoch.
func (t *Tracker) WriteBack(m Mover) {
	size := int(t.table.BlockSize())

	t.table.Visit(PageDirty, func(i int) {
		e := t.table.At(i)
		m.MoveData(e.Base, t.table.Addr(e.Tag), size)
		t.table.Transition(i, e.Base, PageClean, transtable.Regular)
	})

	t.pool.ReleaseAllBackups()
}

func (t *Tracker) home(tag uint64) uint64 {
	return t.homeBase + t.table.Addr(tag)
}

// Len returns the number of pages in a state.
func (t *Tracker) Len(s PageState) int {
	return t.table.Len(s)
}

// Length returns the capacity of the tracker.
func (t *Tracker) Length() int {
	return t.table.Length()
}

// PageSize returns the page size in bytes.
func (t *Tracker) PageSize() uint64 {
	return t.table.BlockSize()
}

// PoolLen returns the number of page blocks in a slot state.
func (t *Tracker) PoolLen(s blockpool.SlotState) int {
	return t.pool.Len(s)
}

// CheckIntegrity verifies the table and the page pool accounting.
func (t *Tracker) CheckIntegrity() error {
	if err := t.table.CheckIntegrity(); err != nil {
		return err
	}

	if !t.pool.Invariant() {
		return fmt.Errorf("page pool counters are inconsistent")
	}

	live := t.table.LenOf(PageDirty, PageClean)
	if t.pool.Len(blockpool.InUse) != live {
		return fmt.Errorf("%d live pages but %d page blocks in use",
			live, t.pool.Len(blockpool.InUse))
	}

	return nil
}
