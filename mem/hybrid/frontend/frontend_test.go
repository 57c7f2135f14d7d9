package frontend

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hybridmem/mem/hybrid"
)

func smallController() hybrid.Builder {
	return hybrid.MakeBuilder().
		WithDRAMSize(8 * hybrid.KB).
		WithNVMSize(16 * hybrid.KB).
		WithBlockBits(6).
		WithPageBits(12).
		WithDataTableLength(4).
		WithPageTableLength(2)
}

func nvmBlock(i int) uint64 {
	return 8*hybrid.KB + uint64(i)*64
}

func pattern(i int) []byte {
	b := byte(i + 1)
	return []byte{b, b, b, b}
}

var _ = Describe("Frontend", func() {
	var f *Frontend

	BeforeEach(func() {
		f = MakeBuilder().
			WithControllerBuilder(smallController()).
			Build("Mem")
	})

	AfterEach(func() {
		Expect(f.Controller().CheckIntegrity()).To(Succeed())
	})

	It("should size the storage to the whole machine address space", func() {
		Expect(f.Storage().Capacity()).To(Equal(f.Controller().Size()))
		Expect(f.Controller().Name()).To(Equal("Mem"))
	})

	It("should keep the NVM image unchanged until the checkpoint", func() {
		data := []byte{1, 2, 3, 4}

		Expect(f.Write(nvmBlock(1), data)).To(Succeed())

		Expect(f.Read(nvmBlock(1), 4)).To(Equal(data))
		Expect(f.Storage().Read(nvmBlock(1), 4)).
			To(Equal([]byte{0, 0, 0, 0}))

		f.Checkpoint()

		Expect(f.Storage().Read(nvmBlock(1), 4)).To(Equal(data))
		Expect(f.Read(nvmBlock(1), 4)).To(Equal(data))
		Expect(f.Stats().NumCheckpoints).To(Equal(uint64(1)))
		Expect(f.Stats().NumEpochs).To(Equal(uint64(1)))
	})

	It("should write DRAM in place and snapshot the page", func() {
		data := []byte{9, 8, 7, 6}

		Expect(f.Write(0x100, data)).To(Succeed())
		Expect(f.Storage().Read(0x100, 4)).To(Equal(data))
		Expect(f.Stats().NumDRAMWrites).To(Equal(uint64(1)))

		f.Checkpoint()

		stats := f.Controller().Stats()
		Expect(stats.CleanPages).To(Equal(1))
		Expect(f.Read(0x100, 4)).To(Equal(data))
		Expect(f.Stats().NumDRAMReads).To(Equal(uint64(1)))
	})

	It("should write a full block", func() {
		data := bytes.Repeat([]byte{0xab}, 64)

		Expect(f.Write(nvmBlock(3), data)).To(Succeed())
		Expect(f.Read(nvmBlock(3), 64)).To(Equal(data))
		Expect(f.Stats().NumNVMWrites).To(Equal(uint64(1)))
		Expect(f.Stats().NumNVMReads).To(Equal(uint64(1)))
	})

	It("should reject accesses that cross a block", func() {
		Expect(f.CanRead(0x30, 0x20)).To(BeFalse())
		Expect(f.CanWrite(0x30, 0x20)).To(BeFalse())

		_, err := f.Read(0x30, 0x20)
		Expect(err).To(MatchError(errCrossBlock))
		Expect(f.Write(0x30, make([]byte, 0x20))).
			To(MatchError(errCrossBlock))
	})

	It("should reject accesses beyond the physical limit", func() {
		limit := f.Controller().PhyLimit()

		Expect(f.CanRead(limit, 4)).To(BeFalse())
		Expect(f.Write(limit, []byte{1})).To(MatchError(errOutOfRange))
		Expect(f.Write(0, nil)).To(MatchError(errEmpty))
	})

	It("should begin a new epoch when the table is full", func() {
		for i := 0; i < 5; i++ {
			Expect(f.Write(nvmBlock(i), pattern(i))).To(Succeed())
		}

		Expect(f.Stats().NumCheckpoints).To(Equal(uint64(1)))
		Expect(f.Controller().NumEpochs()).To(Equal(uint64(1)))

		for i := 0; i < 5; i++ {
			Expect(f.Read(nvmBlock(i), 4)).To(Equal(pattern(i)))
		}
	})

	It("should log data movement", func() {
		buf := new(bytes.Buffer)
		f = MakeBuilder().
			WithControllerBuilder(smallController()).
			WithLogger(log.New(buf, "", 0)).
			Build("Mem")

		Expect(f.Write(nvmBlock(0), []byte{1})).To(Succeed())
		f.Checkpoint()

		Expect(buf.String()).To(ContainSubstring("move"))
		Expect(buf.String()).To(ContainSubstring("checkpoint begins"))
		Expect(buf.String()).To(ContainSubstring("epoch 1 ends"))
	})

	Context("when checkpoints are finished explicitly", func() {
		BeforeEach(func() {
			f = MakeBuilder().
				WithControllerBuilder(smallController()).
				WithAutoFinish(false).
				Build("Mem")
		})

		It("should ask to retry stores when the ending cannot take more", func() {
			for i := 0; i < 4; i++ {
				Expect(f.Write(nvmBlock(i), pattern(i))).To(Succeed())
			}

			f.Checkpoint()
			Expect(f.Controller().InEnding()).To(BeTrue())

			for i := 4; i < 8; i++ {
				Expect(f.CanWrite(nvmBlock(i), 4)).To(BeTrue())
				Expect(f.Write(nvmBlock(i), pattern(i))).To(Succeed())
			}

			Expect(f.CanWrite(nvmBlock(8), 4)).To(BeFalse())
			Expect(f.Write(nvmBlock(8), pattern(8))).To(MatchError(ErrRetry))
			Expect(f.Stats().NumRetries).To(Equal(uint64(1)))

			f.Persist()
			Expect(f.Controller().InEnding()).To(BeFalse())

			Expect(f.Write(nvmBlock(8), pattern(8))).To(Succeed())
			Expect(f.Controller().InEnding()).To(BeTrue())

			f.Persist()

			for i := 0; i < 9; i++ {
				Expect(f.Read(nvmBlock(i), 4)).To(Equal(pattern(i)))
			}
		})

		It("should keep new data of a clean block written while ending", func() {
			old := bytes.Repeat([]byte{0x11}, 64)
			Expect(f.Write(nvmBlock(2), old)).To(Succeed())

			f.Checkpoint()
			Expect(f.Write(nvmBlock(2)+4, []byte{7, 7})).To(Succeed())

			expected := append([]byte{}, old...)
			expected[4], expected[5] = 7, 7

			Expect(f.Read(nvmBlock(2), 64)).To(Equal(expected))
			Expect(f.Storage().Read(nvmBlock(2), 64)).To(Equal(old))
			Expect(f.Controller().Stats().TempEntries).To(Equal(1))

			f.Persist()
			Expect(f.Read(nvmBlock(2), 64)).To(Equal(expected))

			f.Checkpoint()
			Expect(f.Storage().Read(nvmBlock(2), 64)).To(Equal(expected))

			f.Persist()
			Expect(f.Read(nvmBlock(2), 64)).To(Equal(expected))
		})
	})
})
