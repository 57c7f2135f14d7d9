package hybrid

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/blockpool"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/pagetracker"
)

// Stats is a snapshot of the occupancy of the tables and pools.
type Stats struct {
	Mode         string `json:"mode"`
	NumEpochs    uint64 `json:"num_epochs"`
	NumPageMoves int    `json:"num_page_moves"`

	FreeEntries  int `json:"free_entries"`
	DirtyEntries int `json:"dirty_entries"`
	CleanEntries int `json:"clean_entries"`
	TempEntries  int `json:"temp_entries"`

	NVMBlocksInUse  int `json:"nvm_blocks_in_use"`
	NVMBlocksBackup int `json:"nvm_blocks_backup"`
	NVMBlocksFree   int `json:"nvm_blocks_free"`
	DRAMBlocksInUse int `json:"dram_blocks_in_use"`
	DRAMBlocksFree  int `json:"dram_blocks_free"`

	DirtyPages       int `json:"dirty_pages"`
	CleanPages       int `json:"clean_pages"`
	PageBlocksInUse  int `json:"page_blocks_in_use"`
	PageBlocksBackup int `json:"page_blocks_backup"`
}

// Stats returns the current occupancy of the controller.
func (c *Controller) Stats() Stats {
	return Stats{
		Mode:         c.Mode().String(),
		NumEpochs:    c.numEpochs,
		NumPageMoves: c.numPageMoves,

		FreeEntries:  c.att.Len(StateFree),
		DirtyEntries: c.att.Len(StateDirty),
		CleanEntries: c.att.Len(StateClean),
		TempEntries:  c.att.Len(StateTemp),

		NVMBlocksInUse:  c.nvmPool.Len(blockpool.InUse),
		NVMBlocksBackup: c.nvmPool.Len(blockpool.Backup),
		NVMBlocksFree:   c.nvmPool.Len(blockpool.Free),
		DRAMBlocksInUse: c.dramPool.Len(blockpool.InUse),
		DRAMBlocksFree:  c.dramPool.Len(blockpool.Free),

		DirtyPages:       c.pages.Len(pagetracker.PageDirty),
		CleanPages:       c.pages.Len(pagetracker.PageClean),
		PageBlocksInUse:  c.pages.PoolLen(blockpool.InUse),
		PageBlocksBackup: c.pages.PoolLen(blockpool.Backup),
	}
}

// CheckIntegrity verifies that every table and pool is consistent and that
// each staging block in use is owned by exactly one entry.
func (c *Controller) CheckIntegrity() error {
	if err := c.att.CheckIntegrity(); err != nil {
		return fmt.Errorf("data table: %w", err)
	}

	if err := c.pages.CheckIntegrity(); err != nil {
		return fmt.Errorf("page table: %w", err)
	}

	for _, p := range []*blockpool.Pool{c.nvmPool, c.dramPool} {
		if !p.Invariant() {
			return fmt.Errorf("pool at 0x%x has inconsistent counters", p.Base())
		}
	}

	owners := make(map[uint64]int)
	nvmOwned, dramOwned := 0, 0

	for _, s := range []EntryState{StateDirty, StateClean, StateTemp} {
		c.att.Visit(s, func(i int) {
			e := c.att.At(i)
			owners[e.Base]++

			switch {
			case c.nvmPool.Contains(e.Base):
				nvmOwned++
			case c.dramPool.Contains(e.Base):
				dramOwned++
			}
		})
	}

	for base, n := range owners {
		if n > 1 {
			return fmt.Errorf("block 0x%x is owned by %d entries", base, n)
		}
	}

	if nvmOwned != c.nvmPool.Len(blockpool.InUse) {
		return fmt.Errorf("%d entries own NVM blocks but %d are in use",
			nvmOwned, c.nvmPool.Len(blockpool.InUse))
	}

	if dramOwned != c.dramPool.Len(blockpool.InUse) {
		return fmt.Errorf("%d entries own DRAM blocks but %d are in use",
			dramOwned, c.dramPool.Len(blockpool.InUse))
	}

	return nil
}
