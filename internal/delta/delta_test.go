package delta

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/hooklift/assert"
	"github.com/pkg/profile"
)

// Scenarios S1-S6 from spec §8.

func TestScenarioIdenticalFiles(t *testing.T) {
	base := []byte("abcdefghijklmnopqrstuvwxyz")
	newData := []byte("abcdefghijklmnopqrstuvwxyz")
	d := Diff(base, newData, 5)

	got, err := Apply(d, base, 5)
	assert.Ok(t, err)
	assert.Equals(t, newData, got)
}

func TestScenarioPartialMatchWithEdits(t *testing.T) {
	base := []byte("The quick brown fox jumps over the lazy dog")
	newData := []byte("The quick brown cat jumps over the lazy dog with style")
	d := Diff(base, newData, 8)

	got, err := Apply(d, base, 8)
	assert.Ok(t, err)
	assert.Equals(t, newData, got)
}

func TestScenarioShortLiteralSplice(t *testing.T) {
	base := []byte("abcdefg")
	newData := []byte("abcxyzg")
	d := Diff(base, newData, 4)

	got, err := Apply(d, base, 4)
	assert.Ok(t, err)
	assert.Equals(t, newData, got)
}

func TestScenarioNoMatch(t *testing.T) {
	base := []byte("aaaaaa")
	newData := []byte("bbbbbb")
	d := Diff(base, newData, 3)

	got, err := Apply(d, base, 3)
	assert.Ok(t, err)
	assert.Equals(t, newData, got)

	for _, op := range d.Ops() {
		assert.Cond(t, !op.IsIndex(), "expected only literal ops when base and new share no blocks")
	}
}

func TestScenarioBaseShorterThanBlockSize(t *testing.T) {
	base := []byte("hi")
	newData := []byte("hello")
	d := Diff(base, newData, 4)

	got, err := Apply(d, base, 4)
	assert.Ok(t, err)
	assert.Equals(t, newData, got)
}

func TestScenarioInvalidBlockIndex(t *testing.T) {
	base := []byte("1234567890")
	d := New()
	d.AddIndex(99)

	_, err := Apply(d, base, 5)
	assert.Cond(t, err != nil, "expected InvalidBlockIndex error")
}

// Invariant 2: delta round-trip, beyond the fixed scenarios above.
func TestDiffApplyRoundTrip(t *testing.T) {
	tests := []struct {
		base, newData string
		blockSize     int
	}{
		{"", "", 4},
		{"", "hello", 4},
		{"hello", "", 4},
		{"a b c d e f g h i j k l m n o p", "a b c d XXXX e f g h i j k l m n o p", 4},
		{"0123456789", "0123456789", 3},
	}

	for _, tt := range tests {
		d := Diff([]byte(tt.base), []byte(tt.newData), tt.blockSize)
		got, err := Apply(d, []byte(tt.base), tt.blockSize)
		assert.Ok(t, err)
		assert.Cond(t, bytes.Equal([]byte(tt.newData), got), "round-trip mismatch for base="+tt.base+" new="+tt.newData)
	}
}

// Invariant 3: identity — diffing X against itself for |X| >= B yields
// only Index ops for the block-aligned prefix, with the tail (< B bytes)
// as a single literal.
func TestIdentityProducesOnlyIndexOps(t *testing.T) {
	x := []byte("abcdefghijklmnopqrstuvwxy") // 25 bytes
	blockSize := 5
	d := Diff(x, x, blockSize)

	ops := d.Ops()
	blockCount := len(x) / blockSize
	assert.Equals(t, blockCount, len(ops))
	for i, op := range ops {
		assert.Cond(t, op.IsIndex(), "expected every op to be an Index op for an exact multiple of the block size")
		assert.Equals(t, uint64(i), op.Index())
	}
}

func TestIdentityWithTailLiteral(t *testing.T) {
	x := []byte("abcdefghijklmnopqrstuvwxyz") // 26 bytes, block size 5 leaves a 1-byte tail
	blockSize := 5
	d := Diff(x, x, blockSize)

	ops := d.Ops()
	assert.Equals(t, 6, len(ops))
	for i := 0; i < 5; i++ {
		assert.Cond(t, ops[i].IsIndex(), "expected the block-aligned prefix to be Index ops")
	}
	last := ops[5]
	assert.Cond(t, !last.IsIndex(), "expected the tail to be a literal Block op")
	assert.Equals(t, []byte("z"), last.Block())
}

// Invariant 4: block coalescence.
func TestAddByteCoalescesIntoTrailingBlock(t *testing.T) {
	d := New()
	d.AddIndex(0)
	d.AddByte('a')
	d.AddByte('b')
	d.AddByte('c')
	d.AddIndex(1)
	d.AddByte('d')

	ops := d.Ops()
	assert.Equals(t, 4, len(ops))
	assert.Cond(t, ops[0].IsIndex() && ops[0].Index() == 0, "expected first op to be Index(0)")
	assert.Equals(t, []byte("abc"), ops[1].Block())
	assert.Cond(t, ops[2].IsIndex() && ops[2].Index() == 1, "expected third op to be Index(1)")
	assert.Equals(t, []byte("d"), ops[3].Block())
}

func TestEmptyDeltaIsInvalid(t *testing.T) {
	d := New()
	assert.Cond(t, !d.IsValid(), "a fresh delta with no ops should be invalid")
	d.AddByte('x')
	assert.Cond(t, d.IsValid(), "a delta with one op should be valid")
}

var alpha = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomBuffer(seed int64, size int) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = alpha[r.Intn(len(alpha))]
	}
	return buf
}

// TestDiffLargeFilesProfiled exercises the matching loop against
// megabyte-scale buffers, profiled the same way the teacher profiles its
// own full/partial sync test.
func TestDiffLargeFilesProfiled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping profiled large-file diff in short mode")
	}
	defer profile.Start(profile.ProfilePath(t.TempDir())).Stop()

	base := randomBuffer(1, 2*1024*1024)
	newData := append(append([]byte{}, base[:1*1024*1024]...), randomBuffer(2, 3*1024*1024)...)

	d := Diff(base, newData, 4096)
	got, err := Apply(d, base, 4096)
	assert.Ok(t, err)
	assert.Cond(t, bytes.Equal(newData, got), "large-file round trip mismatch")
}

// §8's dump format example.
func TestDump(t *testing.T) {
	d := New()
	d.AddBlock([]byte("abc"))
	d.AddIndex(0)

	assert.Equals(t, "abc<b*0*>", d.Dump())
}
