package hybrid

// MemStore is implemented by the access front end. The controller never
// copies bytes itself; it asks the MemStore to move data between resolved
// machine addresses and reports every access through the notification
// methods.
type MemStore interface {
	// MoveData copies size bytes from src to dst.
	MoveData(dst, src uint64, size int)

	// SwapData exchanges size bytes between the true location of a block and
	// its staging copy.
	SwapData(phy, staged uint64, size int)

	OnDRAMRead(addr uint64, size int)
	OnDRAMWrite(addr uint64, size int)
	OnNVMRead(addr uint64, size int)
	OnNVMWrite(addr uint64, size int)

	// OnCheckpointBegin is called before an epoch ending changes any state.
	OnCheckpointBegin()

	// OnBackpressure is called when a store has to wait for the current
	// epoch ending to finish.
	OnBackpressure()

	// OnEpochEnd is called when an epoch ending finishes.
	OnEpochEnd()
}

// NopStore implements the notification part of MemStore with no-ops. Front
// ends embed it and override what they care about.
type NopStore struct{}

// OnDRAMRead does nothing.
func (NopStore) OnDRAMRead(uint64, int) {}

// OnDRAMWrite does nothing.
func (NopStore) OnDRAMWrite(uint64, int) {}

// OnNVMRead does nothing.
func (NopStore) OnNVMRead(uint64, int) {}

// OnNVMWrite does nothing.
func (NopStore) OnNVMWrite(uint64, int) {}

// OnCheckpointBegin does nothing.
func (NopStore) OnCheckpointBegin() {}

// OnBackpressure does nothing.
func (NopStore) OnBackpressure() {}

// OnEpochEnd does nothing.
func (NopStore) OnEpochEnd() {}
