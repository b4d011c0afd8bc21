package index

import (
	"testing"

	"github.com/mirrorsync/mirrorsync/internal/signature"
)

func TestBuildBlockAlignedEntries(t *testing.T) {
	base := []byte("abcdefghijklmnopqrstuvwxy") // 25 bytes
	blockSize := 5
	table := Build(base, blockSize)

	if table.Len() != 5 {
		t.Fatalf("expected 5 distinct entries, got %d", table.Len())
	}

	signer := signature.New(blockSize, base)
	for i := 0; i < 5; i++ {
		b, err := signer.Sign(i * blockSize)
		if err != nil {
			t.Fatal(err)
		}
		entry, ok := table.Find(b.Signature)
		if !ok {
			t.Fatalf("expected an entry for block %d", i)
		}
		if entry.BlockIndex != uint64(i) {
			t.Errorf("block %d: got BlockIndex %d", i, entry.BlockIndex)
		}
		want := signature.Strong(base[i*blockSize : (i+1)*blockSize])
		if entry.Strong != want {
			t.Errorf("block %d: got strong %s, want %s", i, entry.Strong, want)
		}
	}
}

func TestBuildDegenerateShortBase(t *testing.T) {
	base := []byte("hi")
	table := Build(base, 4)

	if table.Len() != 1 {
		t.Fatalf("expected exactly 1 degenerate entry, got %d", table.Len())
	}

	var sum int64
	for _, b := range base {
		sum += int64(b)
	}
	weak := sum % signature.Modulus
	if weak < 0 {
		weak += signature.Modulus
	}

	entry, ok := table.Find(weak)
	if !ok {
		t.Fatal("expected to find the degenerate entry by its summed weak signature")
	}
	if entry.BlockIndex != 0 {
		t.Errorf("expected degenerate entry BlockIndex 0, got %d", entry.BlockIndex)
	}
	if entry.Strong != signature.Strong(base) {
		t.Error("expected degenerate entry's strong signature to cover the whole base")
	}
}

func TestBuildEmptyBase(t *testing.T) {
	table := Build(nil, 4)
	if table.Len() != 0 {
		t.Fatalf("expected an empty table for an empty base, got %d entries", table.Len())
	}
}

func TestBuildLastWriterWinsOnWeakCollision(t *testing.T) {
	table := New()

	weak := signature.Block{Offset: 0, R1: 1, R2: 1, Signature: 42}
	table.Add(weak, "first-strong", 0)
	table.Add(weak, "second-strong", 1)

	entry, ok := table.Find(42)
	if !ok {
		t.Fatal("expected a collided entry to still be found")
	}
	if entry.BlockIndex != 1 || entry.Strong != "second-strong" {
		t.Errorf("expected the later Add to win the collision, got %+v", entry)
	}
	if table.Len() != 1 {
		t.Fatalf("expected the collision to coalesce into 1 entry, got %d", table.Len())
	}
}
