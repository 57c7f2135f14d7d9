package transtable_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/transtable"
)

type color uint8

const (
	none color = iota
	red
	blue
	numColors
)

func (c color) String() string {
	return [...]string{"none", "red", "blue"}[c]
}

var _ = Describe("Table", func() {
	var t *transtable.Table[color]

	BeforeEach(func() {
		t = transtable.New[color](4, 6, int(numColors))
	})

	AfterEach(func() {
		Expect(t.CheckIntegrity()).To(Succeed())
		Expect(t.LenOf(none, red, blue)).To(Equal(t.Length()))
	})

	It("should miss with an identity mapping", func() {
		i, base, found := t.Lookup(0x3)

		Expect(found).To(BeFalse())
		Expect(i).To(Equal(-1))
		Expect(base).To(Equal(uint64(0xc0)))
	})

	It("should insert and look up entries", func() {
		t.Insert(0x3, 0x1000, red, transtable.Regular)

		i, base, found := t.Lookup(0x3)
		Expect(found).To(BeTrue())
		Expect(base).To(Equal(uint64(0x1000)))

		e := t.At(i)
		Expect(e.State).To(Equal(red))
		Expect(e.Sub).To(Equal(transtable.Regular))
		Expect(e.Tag).To(Equal(uint64(0x3)))
		Expect(t.Len(red)).To(Equal(1))
		Expect(t.Len(none)).To(Equal(3))
	})

	It("should translate the in-block offset", func() {
		Expect(t.Tag(0xc5)).To(Equal(uint64(0x3)))
		Expect(t.Translate(0xc5, 0x1000)).To(Equal(uint64(0x1005)))
		Expect(t.BlockSize()).To(Equal(uint64(64)))
	})

	It("should refuse mapping a tag twice", func() {
		t.Insert(0x3, 0x1000, red, transtable.Regular)
		Expect(func() {
			t.Insert(0x3, 0x1040, blue, transtable.Regular)
		}).To(Panic())
	})

	It("should refuse inserting into a full table", func() {
		for tag := uint64(0); tag < 4; tag++ {
			t.Insert(tag, 0x1000+tag*64, red, transtable.Regular)
		}

		Expect(t.IsEmpty(none)).To(BeTrue())
		Expect(func() {
			t.Insert(9, 0x2000, red, transtable.Regular)
		}).To(Panic())
	})

	It("should keep the least recently touched entry at the front", func() {
		a := t.Insert(0x1, 0x1000, red, transtable.Regular)
		b := t.Insert(0x2, 0x1040, red, transtable.Regular)

		front, ok := t.Front(red)
		Expect(ok).To(BeTrue())
		Expect(front).To(Equal(a))

		t.Lookup(0x1)

		front, _ = t.Front(red)
		Expect(front).To(Equal(b))
	})

	It("should not reorder on peek", func() {
		a := t.Insert(0x1, 0x1000, red, transtable.Regular)
		t.Insert(0x2, 0x1040, red, transtable.Regular)

		i, found := t.Peek(0x1)
		Expect(found).To(BeTrue())
		Expect(i).To(Equal(a))

		front, _ := t.Front(red)
		Expect(front).To(Equal(a))
	})

	It("should transition entries between queues", func() {
		i := t.Insert(0x1, 0x1000, red, transtable.Regular)
		t.Transition(i, 0x2000, blue, transtable.Cross)

		e := t.At(i)
		Expect(e.State).To(Equal(blue))
		Expect(e.Sub).To(Equal(transtable.Cross))
		Expect(e.Base).To(Equal(uint64(0x2000)))
		Expect(t.Len(red)).To(Equal(0))
		Expect(t.Len(blue)).To(Equal(1))
	})

	It("should evict entries", func() {
		i := t.Insert(0x1, 0x1000, red, transtable.Regular)
		t.Evict(i)

		_, _, found := t.Lookup(0x1)
		Expect(found).To(BeFalse())
		Expect(t.Len(none)).To(Equal(4))
		Expect(t.At(i).Base).To(BeZero())
		Expect(func() { t.Evict(i) }).To(Panic())
	})

	It("should report empty queues", func() {
		_, ok := t.Front(blue)
		Expect(ok).To(BeFalse())
	})

	It("should let visitors move the visited entries", func() {
		for tag := uint64(0); tag < 3; tag++ {
			t.Insert(tag, 0x1000+tag*64, red, transtable.Regular)
		}

		visited := []uint64{}
		t.Visit(red, func(i int) {
			visited = append(visited, t.At(i).Tag)
			if t.At(i).Tag == 1 {
				t.Evict(i)
			} else {
				t.Transition(i, t.At(i).Base, blue, transtable.Regular)
			}
		})

		Expect(visited).To(Equal([]uint64{0, 1, 2}))
		Expect(t.Len(red)).To(Equal(0))
		Expect(t.Len(blue)).To(Equal(2))
	})

	It("should keep at most one entry per tag across churn", func() {
		for round := 0; round < 10; round++ {
			tag := uint64(round % 3)
			i, _, found := t.Lookup(tag)
			if found {
				t.Evict(i)
			} else {
				t.Insert(tag, uint64(round)*64, red, transtable.Regular)
			}

			Expect(t.CheckIntegrity()).To(Succeed())
		}
	})
})
