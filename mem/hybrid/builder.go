package hybrid

import (
	"log"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/blockpool"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/pagetracker"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/transtable"
)

// Common sizes.
const (
	KB uint64 = 1 << 10
	MB uint64 = 1 << 20
	GB uint64 = 1 << 30
)

// Builder can build controllers.
type Builder struct {
	dramSize        uint64
	nvmSize         uint64
	blockBits       uint
	pageBits        uint
	dataTableLength int
	pageTableLength int
	store           MemStore
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		dramSize:        64 * MB,
		nvmSize:         192 * MB,
		blockBits:       6,
		pageBits:        12,
		dataTableLength: 1024,
		pageTableLength: 256,
	}
}

// WithDRAMSize sets the size of the visible DRAM region.
func (b Builder) WithDRAMSize(size uint64) Builder {
	b.dramSize = size
	return b
}

// WithNVMSize sets the size of the visible NVM region.
func (b Builder) WithNVMSize(size uint64) Builder {
	b.nvmSize = size
	return b
}

// WithBlockBits sets log2 of the cache block size.
func (b Builder) WithBlockBits(bits uint) Builder {
	b.blockBits = bits
	return b
}

// WithPageBits sets log2 of the page size.
func (b Builder) WithPageBits(bits uint) Builder {
	b.pageBits = bits
	return b
}

// WithDataTableLength sets the number of entries of the cache-block table.
func (b Builder) WithDataTableLength(n int) Builder {
	b.dataTableLength = n
	return b
}

// WithPageTableLength sets the number of entries of the page table.
func (b Builder) WithPageTableLength(n int) Builder {
	b.pageTableLength = n
	return b
}

// WithStore sets the front end that moves the data.
func (b Builder) WithStore(store MemStore) Builder {
	b.store = store
	return b
}

// Build creates a new controller.
func (b Builder) Build(name string) *Controller {
	b.mustBeValid()

	c := &Controller{
		name:     name,
		store:    b.store,
		dramSize: b.dramSize,
		nvmSize:  b.nvmSize,
	}

	pageSize := uint64(1) << b.pageBits
	blockSize := uint64(1) << b.blockBits

	phyLimit := b.dramSize + b.nvmSize
	pagePoolBase := phyLimit + b.dramSize
	dramPoolBase := pagePoolBase + 2*uint64(b.pageTableLength)*pageSize
	nvmPoolBase := dramPoolBase + uint64(b.dataTableLength)*blockSize

	c.att = transtable.New[EntryState](
		b.dataTableLength, b.blockBits, int(numEntryStates))
	c.pages = pagetracker.New(
		b.pageTableLength, b.pageBits, pagePoolBase, phyLimit)
	c.dramPool = blockpool.New(dramPoolBase, b.dataTableLength, b.blockBits)
	c.nvmPool = blockpool.New(nvmPoolBase, 2*b.dataTableLength, b.blockBits)

	return c
}

func (b Builder) mustBeValid() {
	if b.store == nil {
		log.Panic("a hybrid memory controller requires a MemStore")
	}

	if b.blockBits == 0 || b.pageBits < b.blockBits {
		log.Panicf("invalid block bits %d and page bits %d",
			b.blockBits, b.pageBits)
	}

	pageMask := uint64(1)<<b.pageBits - 1
	if b.dramSize&pageMask != 0 || b.nvmSize&pageMask != 0 {
		log.Panicf("DRAM size 0x%x and NVM size 0x%x must be page aligned",
			b.dramSize, b.nvmSize)
	}

	if b.nvmSize == 0 {
		log.Panic("the NVM region must not be empty")
	}

	if b.dataTableLength <= 0 || b.pageTableLength <= 0 {
		log.Panicf("invalid table lengths %d and %d",
			b.dataTableLength, b.pageTableLength)
	}
}
