package arena

import "testing"

func TestAllocateReturnsRequestedSize(t *testing.T) {
	a := New(BlockSize)
	buf := a.Allocate(100)
	if len(buf) != 100 {
		t.Errorf("len(buf) = %d, want 100", len(buf))
	}
}

func TestAllocateZeroReturnsNil(t *testing.T) {
	a := New(BlockSize)
	if buf := a.Allocate(0); buf != nil {
		t.Errorf("Allocate(0) = %v, want nil", buf)
	}
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	a := New(BlockSize)

	bufs := make([][]byte, 0, 100)
	for i := 0; i < 100; i++ {
		buf := a.Allocate(16)
		for j := range buf {
			buf[j] = byte(i)
		}
		bufs = append(bufs, buf)
	}

	for i, buf := range bufs {
		for _, b := range buf {
			if b != byte(i) {
				t.Fatalf("allocation %d was overwritten: got %d, want %d", i, b, i)
			}
		}
	}
}

func TestLargeAllocationGetsDedicatedBlock(t *testing.T) {
	a := New(BlockSize)
	small := a.Allocate(8)

	big := a.Allocate(BlockSize)
	if len(big) != BlockSize {
		t.Errorf("len(big) = %d, want %d", len(big), BlockSize)
	}

	// The small allocation's backing block must not have been displaced.
	small[0] = 'x'
	if small[0] != 'x' {
		t.Error("small allocation corrupted by large allocation")
	}
}

func TestMemoryUsageGrows(t *testing.T) {
	a := New(BlockSize)
	before := a.MemoryUsage()
	a.Allocate(100)
	if a.MemoryUsage() <= before {
		t.Errorf("MemoryUsage did not grow: before=%d after=%d", before, a.MemoryUsage())
	}
}

func TestMemoryUsageAccountsForMultipleBlocks(t *testing.T) {
	a := New(64)
	for i := 0; i < 20; i++ {
		a.Allocate(32)
	}
	if a.MemoryUsage() < 20*32 {
		t.Errorf("MemoryUsage = %d, want at least %d", a.MemoryUsage(), 20*32)
	}
}

func TestNewWithNonPositiveBlockSizeFallsBack(t *testing.T) {
	a := New(0)
	if a.blockSize != BlockSize {
		t.Errorf("blockSize = %d, want %d", a.blockSize, BlockSize)
	}
}
