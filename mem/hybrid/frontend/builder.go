package frontend

import (
	"log"

	"github.com/sarchlab/hybridmem/mem/hybrid"
	"github.com/sarchlab/hybridmem/memory"
)

// Builder can build front ends.
type Builder struct {
	hybridBuilder hybrid.Builder
	logger        *log.Logger
	autoFinish    bool
	unitSize      uint64
}

// MakeBuilder returns a Builder that wraps a controller with the default
// configuration and finishes every checkpoint immediately.
func MakeBuilder() Builder {
	return Builder{
		hybridBuilder: hybrid.MakeBuilder(),
		autoFinish:    true,
		unitSize:      4096,
	}
}

// WithControllerBuilder sets how the controller is configured. The store of
// the given builder is replaced by the front end.
func (b Builder) WithControllerBuilder(hb hybrid.Builder) Builder {
	b.hybridBuilder = hb
	return b
}

// WithLogger makes the front end log every data movement.
func (b Builder) WithLogger(l *log.Logger) Builder {
	b.logger = l
	return b
}

// WithAutoFinish sets if Checkpoint also finishes the epoch ending.
func (b Builder) WithAutoFinish(autoFinish bool) Builder {
	b.autoFinish = autoFinish
	return b
}

// WithStorageUnitSize sets the allocation granularity of the backing storage.
func (b Builder) WithStorageUnitSize(size uint64) Builder {
	b.unitSize = size
	return b
}

// Build creates a front end together with its controller and storage.
func (b Builder) Build(name string) *Frontend {
	f := &Frontend{
		logger:     b.logger,
		autoFinish: b.autoFinish,
	}

	f.ctrl = b.hybridBuilder.WithStore(f).Build(name)
	f.storage = memory.NewStorageWithUnitSize(f.ctrl.Size(), b.unitSize)

	return f
}
