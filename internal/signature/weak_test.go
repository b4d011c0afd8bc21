package signature

import (
	"testing"

	"github.com/hooklift/assert"
)

// TestRollRecurrence checks that rolling the signature one byte forward
// produces the same value as signing that offset directly (§8, invariant 1).
func TestRollRecurrence(t *testing.T) {
	data := []byte("abcdefghijklmnopqrstuvwxyz")
	blockSize := 5
	w := New(blockSize, data)

	prev, err := w.Sign(0)
	assert.Ok(t, err)

	for offset := 1; offset+blockSize <= len(data); offset++ {
		rolled, err := w.Roll(prev)
		assert.Ok(t, err)

		direct, err := w.Sign(offset)
		assert.Ok(t, err)

		assert.Equals(t, direct.Signature, rolled.Signature)
		assert.Equals(t, direct.R1, rolled.R1)
		assert.Equals(t, direct.R2, rolled.R2)

		prev = rolled
	}
}

// TestSignBounds checks that invariants hold: R1 and R2 always land in
// [0, Modulus).
func TestSignBounds(t *testing.T) {
	data := []byte("aaabcdzzzyyywwwqqq01234567890")
	blockSize := 4
	w := New(blockSize, data)

	for offset := 0; offset+blockSize <= len(data); offset++ {
		b, err := w.Sign(offset)
		assert.Ok(t, err)
		assert.Cond(t, b.R1 >= 0 && b.R1 < Modulus, "r1 out of range")
		assert.Cond(t, b.R2 >= 0 && b.R2 < Modulus, "r2 out of range")
		assert.Equals(t, b.R1+Modulus*b.R2, b.Signature)
	}
}

func TestSignOutOfBounds(t *testing.T) {
	w := New(4, []byte("abc"))
	_, err := w.Sign(0)
	assert.Cond(t, err != nil, "expected error signing a window past the end of a 3-byte buffer with block size 4")
}

func TestRollOutOfBounds(t *testing.T) {
	data := []byte("abcd")
	w := New(4, data)
	prev, err := w.Sign(0)
	assert.Ok(t, err)

	_, err = w.Roll(prev)
	assert.Cond(t, err != nil, "expected error rolling past the end of the buffer")
}
