// Package signature computes the two checksums the delta engine matches
// candidate blocks against: a cheap rolling weak signature and a
// cryptographic strong signature used to confirm weak-signature hits.
package signature

import "github.com/pkg/errors"

// Modulus bounds the two rolling accumulators, as defined by the classic
// Adler-style rolling checksum this signature is based on.
const Modulus = 1 << 16

// Block is the weak signature of one window of the underlying buffer.
type Block struct {
	// Offset is the start of the window this block was computed over.
	Offset uint64
	// R1 and R2 are the two rolling accumulators, always kept in [0, Modulus).
	R1, R2 int64
	// Signature is R1 + Modulus*R2, the value looked up in the index table.
	Signature int64
}

// Weak computes and rolls weak signatures over a fixed buffer for a fixed
// block size. It holds no other state, so a single instance may be reused
// for every offset in the buffer.
type Weak struct {
	blockSize int
	data      []byte
}

// New returns a signer for data using the given block size.
func New(blockSize int, data []byte) *Weak {
	return &Weak{blockSize: blockSize, data: data}
}

// mod normalizes x into [0, Modulus) using wide arithmetic so intermediate
// subtraction never needs to worry about underflow.
func mod(x int64) int64 {
	m := x % Modulus
	if m < 0 {
		m += Modulus
	}
	return m
}

// Sign computes the signature block for the window data[offset:offset+blockSize].
func (w *Weak) Sign(offset int) (Block, error) {
	if offset < 0 || offset+w.blockSize > len(w.data) {
		return Block{}, errors.Errorf("signature: window [%d,%d) out of bounds for buffer of length %d", offset, offset+w.blockSize, len(w.data))
	}

	window := w.data[offset : offset+w.blockSize]

	var r1, r2 int64
	for i, b := range window {
		r1 += int64(b)
		r2 += int64(w.blockSize-i) * int64(b)
	}
	r1 = mod(r1)
	r2 = mod(r2)

	return Block{
		Offset:    uint64(offset),
		R1:        r1,
		R2:        r2,
		Signature: r1 + Modulus*r2,
	}, nil
}

// Roll advances prev by one byte, dropping data[prev.Offset] and adding
// data[prev.Offset+blockSize]. It requires a full window to still be
// available past the new offset.
func (w *Weak) Roll(prev Block) (Block, error) {
	offset := int(prev.Offset)
	if offset+w.blockSize >= len(w.data) {
		return Block{}, errors.Errorf("signature: cannot roll past end of buffer (offset %d, block size %d, length %d)", offset, w.blockSize, len(w.data))
	}

	x := int64(w.data[offset])
	y := int64(w.data[offset+w.blockSize])

	r1 := mod(prev.R1 - x + y)
	r2 := mod(prev.R2 - int64(w.blockSize)*x + r1)

	return Block{
		Offset:    prev.Offset + 1,
		R1:        r1,
		R2:        r2,
		Signature: r1 + Modulus*r2,
	}, nil
}
