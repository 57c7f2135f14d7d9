package cmd

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseTrace", func() {
	It("should parse every kind of operation", func() {
		ops, err := ParseTrace(strings.NewReader(`
# a comment line
R 0x2000
r 8256 4
W 0x2040 deadbeef   # trailing comment
C
P
`))

		Expect(err).NotTo(HaveOccurred())
		Expect(ops).To(Equal([]Op{
			{Kind: OpRead, Addr: 0x2000, Line: 3},
			{Kind: OpRead, Addr: 0x2040, Length: 4, Line: 4},
			{Kind: OpWrite, Addr: 0x2040,
				Data: []byte{0xde, 0xad, 0xbe, 0xef}, Line: 5},
			{Kind: OpCheckpoint, Line: 6},
			{Kind: OpPersist, Line: 7},
		}))
	})

	It("should accept hex data with a prefix", func() {
		ops, err := ParseTrace(strings.NewReader("W 0x0 0x0102"))

		Expect(err).NotTo(HaveOccurred())
		Expect(ops[0].Data).To(Equal([]byte{1, 2}))
	})

	DescribeTable("should reject malformed lines",
		func(line string, msg string) {
			_, err := ParseTrace(strings.NewReader("R 0x0\n" + line))

			Expect(err).To(MatchError(ContainSubstring("line 2")))
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("unknown operation", "X 0x0", "unknown operation"),
		Entry("read without address", "R", "optional length"),
		Entry("bad address", "R zz", "bad address"),
		Entry("zero length", "R 0x0 0", "bad length"),
		Entry("write without data", "W 0x0", "hex"),
		Entry("odd hex digits", "W 0x0 abc", "bad data"),
		Entry("checkpoint with argument", "C 1", "takes no argument"),
	)

	It("should name the operation kinds", func() {
		Expect(OpRead.String()).To(Equal("R"))
		Expect(OpWrite.String()).To(Equal("W"))
		Expect(OpCheckpoint.String()).To(Equal("C"))
		Expect(OpPersist.String()).To(Equal("P"))
	})
})
