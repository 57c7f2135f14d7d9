package cmd

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// OpKind is the kind of a trace operation.
type OpKind int

// The operations a trace can contain.
const (
	OpRead OpKind = iota
	OpWrite
	OpCheckpoint
	OpPersist
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "R"
	case OpWrite:
		return "W"
	case OpCheckpoint:
		return "C"
	case OpPersist:
		return "P"
	default:
		return "?"
	}
}

// An Op is a line of a trace.
type Op struct {
	Kind OpKind
	Addr uint64

	// Length is the number of bytes a read returns. Zero means a whole
	// block.
	Length uint64
	Data   []byte
	Line   int
}

// ParseTrace reads a trace. Each non-empty line is one of
//
//	R <addr> [<length>]
//	W <addr> <hex data>
//	C
//	P
//
// Addresses and lengths accept the 0x prefix. Text after # is ignored.
func ParseTrace(r io.Reader) ([]Op, error) {
	var ops []Op

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<24)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		op, err := parseOp(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		op.Line = lineNo
		ops = append(ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return ops, nil
}

func parseOp(fields []string) (Op, error) {
	switch strings.ToUpper(fields[0]) {
	case "R":
		return parseRead(fields)
	case "W":
		return parseWrite(fields)
	case "C":
		return parseNoArg(OpCheckpoint, fields)
	case "P":
		return parseNoArg(OpPersist, fields)
	default:
		return Op{}, fmt.Errorf("unknown operation %q", fields[0])
	}
}

func parseRead(fields []string) (Op, error) {
	if len(fields) != 2 && len(fields) != 3 {
		return Op{}, fmt.Errorf("R takes an address and an optional length")
	}

	addr, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return Op{}, fmt.Errorf("bad address %q: %w", fields[1], err)
	}

	op := Op{Kind: OpRead, Addr: addr}

	if len(fields) == 3 {
		op.Length, err = strconv.ParseUint(fields[2], 0, 64)
		if err != nil || op.Length == 0 {
			return Op{}, fmt.Errorf("bad length %q", fields[2])
		}
	}

	return op, nil
}

func parseWrite(fields []string) (Op, error) {
	if len(fields) != 3 {
		return Op{}, fmt.Errorf("W takes an address and the data in hex")
	}

	addr, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return Op{}, fmt.Errorf("bad address %q: %w", fields[1], err)
	}

	data, err := hex.DecodeString(strings.TrimPrefix(fields[2], "0x"))
	if err != nil || len(data) == 0 {
		return Op{}, fmt.Errorf("bad data %q", fields[2])
	}

	return Op{Kind: OpWrite, Addr: addr, Data: data}, nil
}

func parseNoArg(kind OpKind, fields []string) (Op, error) {
	if len(fields) != 1 {
		return Op{}, fmt.Errorf("%s takes no argument", kind)
	}

	return Op{Kind: kind}, nil
}
