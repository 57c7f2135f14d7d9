// Package frontend provides a functional access front end for the hybrid
// memory controller. It keeps the bytes of the whole machine address space in
// a memory.Storage and performs the copies that the controller asks for.
package frontend

import (
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/hybridmem/mem/hybrid"
	"github.com/sarchlab/hybridmem/memory"
)

// ErrRetry is returned by Write when the store has to wait for the running
// epoch ending to finish.
var ErrRetry = errors.New("store must be retried after the epoch ending")

var (
	_ hybrid.MemStore = (*Frontend)(nil)
	_ memory.Accessor = (*Frontend)(nil)
)

// Stats counts the traffic that went through the front end.
type Stats struct {
	NumDRAMReads   uint64 `json:"num_dram_reads"`
	NumDRAMWrites  uint64 `json:"num_dram_writes"`
	NumNVMReads    uint64 `json:"num_nvm_reads"`
	NumNVMWrites   uint64 `json:"num_nvm_writes"`
	BytesRead      uint64 `json:"bytes_read"`
	BytesWritten   uint64 `json:"bytes_written"`
	NumMoves       uint64 `json:"num_moves"`
	BytesMoved     uint64 `json:"bytes_moved"`
	NumSwaps       uint64 `json:"num_swaps"`
	NumCheckpoints uint64 `json:"num_checkpoints"`
	NumEpochs      uint64 `json:"num_epochs"`
	NumRetries     uint64 `json:"num_retries"`
}

// A Frontend reads and writes the hybrid memory through a controller.
type Frontend struct {
	ctrl    *hybrid.Controller
	storage *memory.Storage
	logger  *log.Logger
	stats   Stats

	// Checkpoint completes the epoch ending right after it begins. When
	// false, the caller finishes epoch endings explicitly.
	autoFinish bool
}

// Controller returns the controller that the front end drives.
func (f *Frontend) Controller() *hybrid.Controller {
	return f.ctrl
}

// Storage returns the storage that holds the machine address space.
func (f *Frontend) Storage() *memory.Storage {
	return f.storage
}

// Stats returns the traffic counters.
func (f *Frontend) Stats() Stats {
	return f.stats
}

// CanRead tells if a read can be served. Reads never block.
func (f *Frontend) CanRead(address uint64, length uint64) bool {
	return f.checkAccess(address, length) == nil
}

// CanWrite tells if a write can proceed without waiting for an epoch ending.
// A write that needs a new epoch is accepted, since Write begins the epoch
// by itself.
func (f *Frontend) CanWrite(address uint64, length uint64) bool {
	if f.checkAccess(address, length) != nil {
		return false
	}

	return f.ctrl.Probe(address) != hybrid.Retry
}

// Read returns length bytes at a physical address.
func (f *Frontend) Read(address uint64, length uint64) ([]byte, error) {
	if err := f.checkAccess(address, length); err != nil {
		return nil, fmt.Errorf("read 0x%x+%d: %w", address, length, err)
	}

	mach := f.ctrl.LoadAddr(address)
	f.stats.BytesRead += length

	return f.storage.Read(mach, length)
}

// Write stores data at a physical address.
func (f *Frontend) Write(address uint64, data []byte) error {
	if err := f.checkAccess(address, uint64(len(data))); err != nil {
		return fmt.Errorf("write 0x%x+%d: %w", address, len(data), err)
	}

	switch f.ctrl.Probe(address) {
	case hybrid.Epoch:
		f.Checkpoint()
	case hybrid.Retry:
		f.stats.NumRetries++
		return ErrRetry
	}

	mach := f.ctrl.StoreAddr(address, len(data))
	if mach == hybrid.InvalidAddr {
		f.stats.NumRetries++
		return ErrRetry
	}

	f.stats.BytesWritten += uint64(len(data))

	return f.storage.Write(mach, data)
}

// Checkpoint begins an epoch ending. If the front end finishes checkpoints
// automatically, the epoch ending also completes before Checkpoint returns.
func (f *Frontend) Checkpoint() {
	f.ctrl.BeginEpochEnding()

	if f.autoFinish {
		f.ctrl.FinishEpochEnding()
	}
}

// Persist completes an epoch ending that was begun without automatic finish.
func (f *Frontend) Persist() {
	f.ctrl.FinishEpochEnding()
}

var (
	errCrossBlock = errors.New("access crosses a block boundary")
	errOutOfRange = errors.New("access is beyond the physical memory")
	errEmpty      = errors.New("empty access")
)

func (f *Frontend) checkAccess(address, length uint64) error {
	if length == 0 {
		return errEmpty
	}

	if address >= f.ctrl.PhyLimit() || length > f.ctrl.PhyLimit()-address {
		return errOutOfRange
	}

	bs := f.ctrl.BlockSize()
	if address/bs != (address+length-1)/bs {
		return errCrossBlock
	}

	return nil
}

// MoveData implements hybrid.MemStore.
func (f *Frontend) MoveData(dst, src uint64, size int) {
	f.stats.NumMoves++
	f.stats.BytesMoved += uint64(size)
	f.logf("move 0x%x -> 0x%x (%d B)", src, dst, size)

	if err := f.storage.Move(dst, src, uint64(size)); err != nil {
		log.Panic(err)
	}
}

// SwapData implements hybrid.MemStore.
func (f *Frontend) SwapData(phy, staged uint64, size int) {
	f.stats.NumSwaps++
	f.logf("swap 0x%x <-> 0x%x (%d B)", phy, staged, size)

	if err := f.storage.Swap(phy, staged, uint64(size)); err != nil {
		log.Panic(err)
	}
}

// OnDRAMRead implements hybrid.MemStore.
func (f *Frontend) OnDRAMRead(addr uint64, _ int) {
	f.stats.NumDRAMReads++
	f.logf("read DRAM 0x%x", addr)
}

// OnDRAMWrite implements hybrid.MemStore.
func (f *Frontend) OnDRAMWrite(addr uint64, _ int) {
	f.stats.NumDRAMWrites++
	f.logf("write DRAM 0x%x", addr)
}

// OnNVMRead implements hybrid.MemStore.
func (f *Frontend) OnNVMRead(addr uint64, _ int) {
	f.stats.NumNVMReads++
	f.logf("read NVM 0x%x", addr)
}

// OnNVMWrite implements hybrid.MemStore.
func (f *Frontend) OnNVMWrite(addr uint64, _ int) {
	f.stats.NumNVMWrites++
	f.logf("write NVM 0x%x", addr)
}

// OnCheckpointBegin implements hybrid.MemStore.
func (f *Frontend) OnCheckpointBegin() {
	f.stats.NumCheckpoints++
	f.logf("checkpoint begins")
}

// OnBackpressure implements hybrid.MemStore.
func (f *Frontend) OnBackpressure() {
	f.logf("store waits for the epoch ending")
}

// OnEpochEnd implements hybrid.MemStore.
func (f *Frontend) OnEpochEnd() {
	f.stats.NumEpochs++
	f.logf("epoch %d ends", f.stats.NumEpochs)
}

func (f *Frontend) logf(format string, args ...any) {
	if f.logger == nil {
		return
	}

	f.logger.Printf(format, args...)
}
