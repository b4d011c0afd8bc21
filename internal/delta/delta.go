// Package delta computes and applies the copy-from-base / literal-bytes
// instruction sequences that reconstruct a new file from a base file plus
// a small wire transfer.
package delta

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mirrorsync/mirrorsync/internal/index"
	"github.com/mirrorsync/mirrorsync/internal/signature"
)

// Op is one instruction in a Delta. Exactly one of the two constructors
// below should be used to build an Op; the zero value is not meaningful.
type Op struct {
	// isIndex distinguishes the two variants; block is nil for an Index op.
	isIndex bool
	index   uint64
	block   []byte
}

// IndexOp returns an op that copies block i of the base file.
func IndexOp(i uint64) Op { return Op{isIndex: true, index: i} }

// BlockOp returns an op that emits literal bytes verbatim.
func BlockOp(b []byte) Op { return Op{block: b} }

// IsIndex reports whether this op copies a base block.
func (o Op) IsIndex() bool { return o.isIndex }

// Index returns the base block index; only meaningful when IsIndex is true.
func (o Op) Index() uint64 { return o.index }

// Block returns the literal bytes; only meaningful when IsIndex is false.
func (o Op) Block() []byte { return o.block }

// Delta is an ordered sequence of operations that reconstructs a new file
// from a base file. An empty Delta is invalid (§3).
type Delta struct {
	ops []Op
}

// New returns an empty delta ready to be built up with AddBlock/AddIndex/AddByte.
func New() *Delta {
	return &Delta{}
}

// Ops returns the delta's operations in order.
func (d *Delta) Ops() []Op { return d.ops }

// IsValid reports whether the delta contains at least one operation.
func (d *Delta) IsValid() bool { return len(d.ops) > 0 }

// AddIndex appends a copy-from-base instruction.
func (d *Delta) AddIndex(i uint64) {
	d.ops = append(d.ops, IndexOp(i))
}

// AddBlock appends a literal-bytes instruction. Adjacent blocks are not
// coalesced by this call; use AddByte to build up a run of literals one
// byte at a time with coalescence.
func (d *Delta) AddBlock(b []byte) {
	d.ops = append(d.ops, BlockOp(b))
}

// AddByte appends a single literal byte, coalescing it into the trailing
// Block op if the delta's last op is already a Block, and starting a new
// Block op otherwise (§3, block coalescence).
func (d *Delta) AddByte(b byte) {
	if len(d.ops) == 0 {
		d.AddBlock([]byte{b})
		return
	}
	last := &d.ops[len(d.ops)-1]
	if !last.isIndex {
		last.block = append(last.block, b)
		return
	}
	d.AddBlock([]byte{b})
}

// Dump renders the delta in the text form used for test fixtures: literal
// blocks render as their UTF-8 text, Index(i) renders as "<b*i*>".
func (d *Delta) Dump() string {
	var sb strings.Builder
	for _, op := range d.ops {
		if op.isIndex {
			sb.WriteString("<b*")
			sb.WriteString(strconv.FormatUint(op.index, 10))
			sb.WriteString("*>")
		} else {
			sb.Write(op.block)
		}
	}
	return sb.String()
}

// InvalidBlockIndex is returned by Apply when a delta references a base
// block that does not exist.
var InvalidBlockIndex = errors.New("delta: invalid block index")

// Apply reconstructs the byte sequence described by the delta against base,
// using the given block size. It fails with InvalidBlockIndex if any Index
// op references a block entirely past the end of base; a tail block
// shorter than blockSize is copied truncated, never out of bounds.
func Apply(d *Delta, base []byte, blockSize int) ([]byte, error) {
	var out []byte

	for _, op := range d.ops {
		if op.isIndex {
			start := int(op.index) * blockSize
			if start >= len(base) {
				return nil, errors.Wrapf(InvalidBlockIndex, "block %d (start %d) for base length %d", op.index, start, len(base))
			}
			end := start + blockSize
			if end > len(base) {
				end = len(base)
			}
			out = append(out, base[start:end]...)
			continue
		}
		out = append(out, op.block...)
	}

	return out, nil
}

// Lookup is satisfied by any base-side index — a locally built
// *index.Table or a wire-received protocol.WireIndexTable (§4.3: once a
// session is underway, the sender only ever holds the latter, having
// never seen the receiver's raw base bytes).
type Lookup interface {
	Find(weak int64) (index.Entry, bool)
}

// Diff computes the delta that reconstructs new from base, given a
// session-wide block size (§4.1). It builds its own index table from base
// and delegates to DiffAgainst; callers that only have a wire-received
// index table (no raw base bytes) should call DiffAgainst directly.
func Diff(base, newData []byte, blockSize int) *Delta {
	return DiffAgainst(index.Build(base, blockSize), newData, blockSize)
}

// DiffAgainst computes the delta that reconstructs newData using a
// pre-built base-side lookup table, per the algorithm in §4.1.
func DiffAgainst(table Lookup, newData []byte, blockSize int) *Delta {
	d := New()

	if len(newData) < blockSize {
		if len(newData) > 0 {
			d.AddBlock(append([]byte(nil), newData...))
		}
		return d
	}

	signer := signature.New(blockSize, newData)

	var unmatched []byte
	i := 0

	h, err := signer.Sign(0)
	if err != nil {
		// Unreachable: len(newData) >= blockSize checked above.
		panic(err)
	}
	haveHash := true

	for i+blockSize <= len(newData) {
		if !haveHash {
			h, err = signer.Sign(i)
			if err != nil {
				panic(err)
			}
			haveHash = true
		}

		if entry, ok := table.Find(h.Signature); ok {
			strong := signature.Strong(newData[i : i+blockSize])
			if strong == entry.Strong {
				if len(unmatched) > 0 {
					d.AddBlock(unmatched)
					unmatched = nil
				}
				d.AddIndex(entry.BlockIndex)

				i += blockSize
				if i+blockSize <= len(newData) {
					h, err = signer.Sign(i)
					if err != nil {
						panic(err)
					}
					haveHash = true
				} else {
					haveHash = false
				}
				continue
			}
		}

		unmatched = append(unmatched, newData[i])
		i++

		if i+blockSize <= len(newData) {
			h, err = signer.Roll(h)
			if err != nil {
				panic(err)
			}
			haveHash = true
		} else {
			haveHash = false
		}
	}

	if i < len(newData) {
		unmatched = append(unmatched, newData[i:]...)
	}

	if len(unmatched) > 0 {
		d.AddBlock(unmatched)
	}

	return d
}
