// Package transtable implements a fixed-capacity translation table that maps
// a physical block tag to a staging block. Every entry sits in exactly one
// per-state queue, so the front of a queue is the least recently touched
// entry of that state.
package transtable

import (
	"errors"
	"fmt"

	"github.com/lpabon/godbc"
)

// State is the lifecycle alphabet of a table. The zero value must be the
// FREE state.
type State interface {
	~uint8
	fmt.Stringer
}

// SubState distinguishes ordinary entries from the ones created to resolve a
// cross-epoch hazard.
type SubState uint8

// Sub states.
const (
	Regular SubState = iota
	Cross
)

func (s SubState) String() string {
	if s == Cross {
		return "CROSS"
	}

	return "REGULAR"
}

const nilIndex = -1

// An Entry is a single tag-to-block binding.
type Entry[S State] struct {
	State S
	Sub   SubState
	Tag   uint64
	Base  uint64

	prev, next int
}

type queue struct {
	head, tail int
	length     int
}

// A Table is a translation table at a fixed block granularity.
type Table[S State] struct {
	blockBits uint
	entries   []Entry[S]
	queues    []queue
	tagIndex  map[uint64]int
}

// New creates a table with length entries, all FREE. numStates is the size
// of the state alphabet S.
func New[S State](length int, blockBits uint, numStates int) *Table[S] {
	godbc.Require(length > 0, "table length must be positive")
	godbc.Require(numStates > 1, "a table needs at least two states")

	t := &Table[S]{
		blockBits: blockBits,
		entries:   make([]Entry[S], length),
		queues:    make([]queue, numStates),
		tagIndex:  make(map[uint64]int, length),
	}

	for i := range t.queues {
		t.queues[i] = queue{head: nilIndex, tail: nilIndex}
	}

	var free S
	for i := range t.entries {
		t.entries[i].State = free
		t.entries[i].prev = nilIndex
		t.entries[i].next = nilIndex
		t.pushBack(free, i)
	}

	return t
}

// Lookup finds the entry of a tag. A hit moves the entry to the back of its
// queue. A miss returns the identity mapping of the tag.
func (t *Table[S]) Lookup(tag uint64) (index int, base uint64, found bool) {
	i, ok := t.tagIndex[tag]
	if !ok {
		return nilIndex, t.Addr(tag), false
	}

	e := &t.entries[i]
	if t.isFree(e.State) || e.Tag != tag {
		panic(fmt.Sprintf("tag index of 0x%x points to a stale entry %d", tag, i))
	}

	t.remove(e.State, i)
	t.pushBack(e.State, i)

	return i, e.Base, true
}

// Peek is Lookup without touching the LRU order.
func (t *Table[S]) Peek(tag uint64) (index int, found bool) {
	i, ok := t.tagIndex[tag]
	if !ok {
		return nilIndex, false
	}

	return i, true
}

// Insert binds tag to base with the given state. It takes the front of the
// FREE queue and returns the index of the entry.
func (t *Table[S]) Insert(tag, base uint64, state S, sub SubState) int {
	var free S
	if t.isFree(state) {
		panic("cannot insert an entry as FREE")
	}

	if _, ok := t.tagIndex[tag]; ok {
		panic(fmt.Sprintf("tag 0x%x is already mapped", tag))
	}

	i := t.queues[free].head
	if i == nilIndex {
		panic("no free entry in translation table")
	}

	t.remove(free, i)

	e := &t.entries[i]
	e.State = state
	e.Sub = sub
	e.Tag = tag
	e.Base = base
	t.pushBack(state, i)
	t.tagIndex[tag] = i

	return i
}

// Transition rebinds an entry to a new block and moves it to the back of the
// queue of the new state.
func (t *Table[S]) Transition(index int, base uint64, state S, sub SubState) {
	e := t.mustBeLive(index)
	if t.isFree(state) {
		panic("use Evict to free an entry")
	}

	t.remove(e.State, index)
	e.Base = base
	e.State = state
	e.Sub = sub
	t.pushBack(state, index)
}

// Evict unbinds an entry and returns it to the FREE queue.
func (t *Table[S]) Evict(index int) {
	var free S

	e := t.mustBeLive(index)
	delete(t.tagIndex, e.Tag)
	t.remove(e.State, index)

	*e = Entry[S]{State: free, prev: nilIndex, next: nilIndex}
	t.pushBack(free, index)
}

// Front returns the index of the oldest entry in the queue of a state.
func (t *Table[S]) Front(state S) (int, bool) {
	i := t.queues[state].head
	return i, i != nilIndex
}

// At returns a copy of the entry at index.
func (t *Table[S]) At(index int) Entry[S] {
	if index < 0 || index >= len(t.entries) {
		panic(fmt.Sprintf("entry index %d out of range", index))
	}

	return t.entries[index]
}

// Visit calls fn with the indices queued under state, oldest first. The
// indices are collected before the first call, so fn may move or evict the
// visited entry.
func (t *Table[S]) Visit(state S, fn func(index int)) {
	indices := make([]int, 0, t.queues[state].length)
	for i := t.queues[state].head; i != nilIndex; i = t.entries[i].next {
		indices = append(indices, i)
	}

	for _, i := range indices {
		fn(i)
	}
}

// Len returns the number of entries in a state.
func (t *Table[S]) Len(state S) int {
	return t.queues[state].length
}

// LenOf returns the number of entries in any of the given states.
func (t *Table[S]) LenOf(states ...S) int {
	n := 0
	for _, s := range states {
		n += t.queues[s].length
	}

	return n
}

// IsEmpty tells whether no entry is in a state.
func (t *Table[S]) IsEmpty(state S) bool {
	return t.queues[state].length == 0
}

// Length returns the capacity of the table.
func (t *Table[S]) Length() int {
	return len(t.entries)
}

// BlockBits returns log2 of the block size.
func (t *Table[S]) BlockBits() uint {
	return t.blockBits
}

// BlockSize returns the block size in bytes.
func (t *Table[S]) BlockSize() uint64 {
	return 1 << t.blockBits
}

// Tag returns the tag of an address.
func (t *Table[S]) Tag(addr uint64) uint64 {
	return addr >> t.blockBits
}

// Addr returns the base address of a tag.
func (t *Table[S]) Addr(tag uint64) uint64 {
	return tag << t.blockBits
}

// Translate applies the in-block offset of addr to base.
func (t *Table[S]) Translate(addr, base uint64) uint64 {
	return base + addr&(t.BlockSize()-1)
}

// CheckIntegrity walks every queue and the tag index and reports the first
// inconsistency it finds.
func (t *Table[S]) CheckIntegrity() error {
	seen := make([]bool, len(t.entries))
	total := 0

	for s := range t.queues {
		n := 0
		prev := nilIndex

		for i := t.queues[s].head; i != nilIndex; i = t.entries[i].next {
			if seen[i] {
				return fmt.Errorf("entry %d is queued twice", i)
			}

			e := t.entries[i]
			if int(e.State) != s {
				return fmt.Errorf("entry %d is %s but queued under state %d",
					i, e.State, s)
			}

			if e.prev != prev {
				return fmt.Errorf("entry %d has a broken back link", i)
			}

			seen[i] = true
			prev = i
			n++
		}

		if n != t.queues[s].length || prev != t.queues[s].tail {
			return fmt.Errorf("queue of state %d has a wrong length or tail", s)
		}

		total += n
	}

	if total != len(t.entries) {
		return errors.New("queues do not cover every entry")
	}

	for tag, i := range t.tagIndex {
		if t.isFree(t.entries[i].State) || t.entries[i].Tag != tag {
			return fmt.Errorf("tag 0x%x indexes a mismatching entry %d", tag, i)
		}
	}

	var free S
	if len(t.tagIndex) != len(t.entries)-t.queues[free].length {
		return errors.New("tag index size does not match the live entries")
	}

	return nil
}

func (t *Table[S]) isFree(s S) bool {
	var free S
	return s == free
}

func (t *Table[S]) mustBeLive(index int) *Entry[S] {
	if index < 0 || index >= len(t.entries) {
		panic(fmt.Sprintf("entry index %d out of range", index))
	}

	e := &t.entries[index]
	if t.isFree(e.State) {
		panic(fmt.Sprintf("entry %d is FREE", index))
	}

	return e
}

func (t *Table[S]) pushBack(s S, i int) {
	q := &t.queues[s]
	e := &t.entries[i]

	e.prev = q.tail
	e.next = nilIndex

	if q.tail != nilIndex {
		t.entries[q.tail].next = i
	} else {
		q.head = i
	}

	q.tail = i
	q.length++
}

func (t *Table[S]) remove(s S, i int) {
	q := &t.queues[s]
	e := &t.entries[i]

	if e.prev != nilIndex {
		t.entries[e.prev].next = e.next
	} else {
		q.head = e.next
	}

	if e.next != nilIndex {
		t.entries[e.next].prev = e.prev
	} else {
		q.tail = e.prev
	}

	e.prev = nilIndex
	e.next = nilIndex
	q.length--
}
