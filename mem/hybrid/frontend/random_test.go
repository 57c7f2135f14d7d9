package frontend

import (
	"errors"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type shadowMemory map[uint64]byte

func (m shadowMemory) write(addr uint64, data []byte) {
	for i, b := range data {
		m[addr+uint64(i)] = b
	}
}

func (m shadowMemory) read(addr, length uint64) []byte {
	res := make([]byte, length)
	for i := range res {
		res[i] = m[addr+uint64(i)]
	}

	return res
}

var _ = Describe("Frontend with random traffic", func() {
	// A handful of blocks per region keeps the tables under pressure.
	randomAccess := func(r *rand.Rand) (addr uint64, length uint64) {
		var block uint64
		if r.Intn(3) == 0 {
			block = uint64(r.Intn(8)) * 1024
		} else {
			block = nvmBlock(r.Intn(12))
		}

		offset := uint64(r.Intn(64))
		length = uint64(r.Intn(int(64-offset))) + 1

		return block + offset, length
	}

	randomData := func(r *rand.Rand, length uint64) []byte {
		data := make([]byte, length)
		r.Read(data)

		return data
	}

	It("should always read the last written data", func() {
		r := rand.New(rand.NewSource(1))
		f := MakeBuilder().
			WithControllerBuilder(smallController()).
			Build("Mem")
		shadow := make(shadowMemory)

		for i := 0; i < 2000; i++ {
			addr, length := randomAccess(r)

			if r.Intn(2) == 0 {
				data := randomData(r, length)
				Expect(f.Write(addr, data)).To(Succeed())
				shadow.write(addr, data)
			} else {
				Expect(f.Read(addr, length)).To(Equal(shadow.read(addr, length)))
			}

			if r.Intn(100) == 0 {
				f.Checkpoint()
			}

			Expect(f.Controller().CheckIntegrity()).To(Succeed())
		}
	})

	It("should keep data across overlapping epoch endings", func() {
		r := rand.New(rand.NewSource(7))
		f := MakeBuilder().
			WithControllerBuilder(smallController()).
			WithAutoFinish(false).
			Build("Mem")
		shadow := make(shadowMemory)

		nvmStart := f.Controller().DRAMSize()
		nvmLen := f.Controller().PhyLimit() - nvmStart

		var image []byte

		// The shadow has not seen the current write yet, so it holds the
		// memory as it was when an epoch ending began during this step.
		captureImage := func(checkpoints uint64) {
			if f.Stats().NumCheckpoints != checkpoints {
				image = shadow.read(nvmStart, nvmLen)
			}
		}

		for i := 0; i < 2000; i++ {
			addr, length := randomAccess(r)
			checkpoints := f.Stats().NumCheckpoints

			switch r.Intn(10) {
			case 0:
				if f.Controller().InEnding() {
					f.Persist()
				} else {
					f.Checkpoint()
				}

				captureImage(checkpoints)
			case 1, 2, 3, 4:
				Expect(f.Read(addr, length)).To(Equal(shadow.read(addr, length)))
			default:
				data := randomData(r, length)

				err := f.Write(addr, data)
				if errors.Is(err, ErrRetry) {
					f.Persist()
					err = f.Write(addr, data)
				}

				Expect(err).To(Succeed())
				captureImage(checkpoints)
				shadow.write(addr, data)
			}

			if f.Controller().InEnding() {
				Expect(f.Storage().Read(nvmStart, nvmLen)).To(Equal(image))
			}

			Expect(f.Controller().CheckIntegrity()).To(Succeed())
		}
	})
})
