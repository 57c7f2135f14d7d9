package pagetracker

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/blockpool"
)

type move struct {
	dst, src uint64
	size     int
}

type recordingMover struct {
	moves []move
}

func (m *recordingMover) MoveData(dst, src uint64, size int) {
	m.moves = append(m.moves, move{dst, src, size})
}

var _ = Describe("Tracker", func() {
	const (
		poolBase = 0x100000
		homeBase = 0x200000
	)

	var (
		t     *Tracker
		mover *recordingMover
	)

	BeforeEach(func() {
		t = New(2, 12, poolBase, homeBase)
		mover = &recordingMover{}
	})

	AfterEach(func() {
		Expect(t.CheckIntegrity()).To(Succeed())
	})

	It("should stage a page once per epoch", func() {
		Expect(t.Stage(0x1010, mover)).To(BeFalse())
		Expect(t.IsStaged(0x1ff0)).To(BeTrue())
		Expect(t.Len(PageDirty)).To(Equal(1))

		Expect(t.Stage(0x1020, mover)).To(BeFalse())
		Expect(t.Len(PageDirty)).To(Equal(1))
		Expect(mover.moves).To(BeEmpty())
	})

	It("should snapshot dirty pages on write back", func() {
		t.Stage(0x1010, mover)
		t.WriteBack(mover)

		Expect(mover.moves).To(ConsistOf(move{poolBase, 0x1000, 4096}))
		Expect(t.Len(PageClean)).To(Equal(1))
		Expect(t.IsStaged(0x1000)).To(BeFalse())
	})

	It("should pin the old snapshot when a clean page is written again", func() {
		t.Stage(0x1010, mover)
		t.WriteBack(mover)

		t.Stage(0x1010, mover)

		Expect(t.IsStaged(0x1000)).To(BeTrue())
		Expect(t.PoolLen(blockpool.Backup)).To(Equal(1))
		Expect(t.PoolLen(blockpool.InUse)).To(Equal(1))

		t.WriteBack(mover)
		Expect(t.PoolLen(blockpool.Backup)).To(Equal(0))
	})

	It("should move the oldest clean page home when full", func() {
		t.Stage(0x1000, mover)
		t.Stage(0x2000, mover)
		t.WriteBack(mover)
		mover.moves = nil

		Expect(t.CanStage(0x3000)).To(BeTrue())
		Expect(t.Stage(0x3000, mover)).To(BeTrue())

		Expect(mover.moves).To(ConsistOf(move{homeBase + 0x1000, poolBase, 4096}))
		Expect(t.Len(PageClean)).To(Equal(1))
		Expect(t.Len(PageDirty)).To(Equal(1))
	})

	It("should refuse staging when every page is dirty", func() {
		t.Stage(0x1000, mover)
		t.Stage(0x2000, mover)

		Expect(t.CanStage(0x3000)).To(BeFalse())
		Expect(t.CanStage(0x2000)).To(BeTrue())
		Expect(func() { t.Stage(0x3000, mover) }).To(Panic())

		t.WriteBack(mover)
	})
})
