package hybrid

import (
	"fmt"
	"math"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/transtable"
)

// InvalidAddr is returned by StoreAddr when the store has to be retried after
// the current epoch ending finishes.
const InvalidAddr uint64 = math.MaxUint64

// Control is the predicted outcome of a store.
type Control int

// Store outcomes.
const (
	// Accept means the store can proceed.
	Accept Control = iota
	// Epoch means a new epoch must begin before the store.
	Epoch
	// Retry means the store must wait until the running epoch ending
	// finishes.
	Retry
)

func (c Control) String() string {
	switch c {
	case Accept:
		return "ACCEPT"
	case Epoch:
		return "EPOCH"
	case Retry:
		return "RETRY"
	default:
		return fmt.Sprintf("Control(%d)", int(c))
	}
}

// EntryState is the lifecycle state of a data table entry.
type EntryState uint8

// Entry states.
const (
	// StateFree entries hold no binding.
	StateFree EntryState = iota
	// StateDirty entries were modified in this epoch and are not yet at
	// their true location.
	StateDirty
	// StateClean entries were written back and are kept until reclaimed.
	StateClean
	// StateTemp entries are short-lived redirections made while an epoch
	// is ending.
	StateTemp
	numEntryStates
)

func (s EntryState) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateDirty:
		return "DIRTY"
	case StateClean:
		return "CLEAN"
	case StateTemp:
		return "TEMP"
	default:
		return fmt.Sprintf("EntryState(%d)", uint8(s))
	}
}

// SubState tells ordinary entries apart from the ones created to resolve a
// hazard while an epoch is ending.
type SubState = transtable.SubState

// Sub states.
const (
	Regular = transtable.Regular
	Cross   = transtable.Cross
)

// Mode is the mode of the controller.
type Mode int

// Controller modes.
const (
	Running Mode = iota
	Ending
)

func (m Mode) String() string {
	if m == Ending {
		return "ENDING"
	}

	return "RUNNING"
}
