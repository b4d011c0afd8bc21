// Package index holds the base-side lookup table the delta engine consults
// while diffing: a map from weak-signature value to the base block it was
// computed from, plus that block's strong signature for confirmation.
package index

import "github.com/mirrorsync/mirrorsync/internal/signature"

// Entry is one base-file block as recorded in the table.
type Entry struct {
	BlockIndex uint64
	Strong     string
}

// Table maps weak-signature values to base blocks. A weak-signature
// collision across two base blocks makes the later Add overwrite the
// earlier entry; this is safe because the strong signature is always
// re-checked before a match is trusted, so a lost entry only costs an
// extra literal, never correctness.
type Table struct {
	entries map[int64]Entry
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[int64]Entry)}
}

// Add records block's weak signature, strong signature, and index.
func (t *Table) Add(weak signature.Block, strong string, blockIndex uint64) {
	t.entries[weak.Signature] = Entry{BlockIndex: blockIndex, Strong: strong}
}

// Find returns the entry for a weak-signature value, if any.
func (t *Table) Find(weak int64) (Entry, bool) {
	e, ok := t.entries[weak]
	return e, ok
}

// Len reports the number of distinct weak-signature values recorded.
func (t *Table) Len() int {
	return len(t.entries)
}

// All returns every recorded entry keyed by weak-signature value, for
// serializing the table onto the wire (protocol.FromTable).
func (t *Table) All() map[int64]Entry {
	return t.entries
}

// Build constructs the base-side table from §4.1: a non-empty base shorter
// than blockSize gets a single degenerate entry and an empty base gets no
// entry at all; otherwise each non-overlapping
// block-aligned window is signed directly with Sign(i*blockSize) rather
// than by single-byte rolling, since rolling by one byte while only
// keeping every blockSize-th result does not correspond to the
// block-aligned window the diff algorithm needs (see DESIGN.md).
func Build(base []byte, blockSize int) *Table {
	t := New()

	if len(base) < blockSize {
		if len(base) == 0 {
			return t
		}
		var sum int64
		for _, b := range base {
			sum += int64(b)
		}
		degenerate := sum % signature.Modulus
		if degenerate < 0 {
			degenerate += signature.Modulus
		}
		weak := signature.Block{Offset: 0, R1: degenerate, R2: degenerate, Signature: degenerate}
		t.Add(weak, signature.Strong(base), 0)
		return t
	}

	signer := signature.New(blockSize, base)
	blockCount := len(base) / blockSize
	for i := 0; i < blockCount; i++ {
		offset := i * blockSize
		weak, err := signer.Sign(offset)
		if err != nil {
			// Unreachable: offset+blockSize <= len(base) by construction above.
			panic(err)
		}
		block := base[offset : offset+blockSize]
		t.Add(weak, signature.Strong(block), uint64(i))
	}

	return t
}
