// Package arena provides a monotonic bump allocator for memtable entries.
//
// Reference: RocksDB v10.7.5 memory/arena.h, memory/arena.cc
//
// An Arena hands out byte slices carved from a sequence of fixed-size
// blocks. Individual allocations are never freed; the entire arena is
// reclaimed at once when its owner (typically a MemTable) is destroyed.
package arena

import "sync/atomic"

// BlockSize is the size of each block the arena allocates from the
// underlying heap when it runs out of space.
const BlockSize = 4096

// Arena is a monotonic bump allocator. The zero value is not usable;
// construct with New.
//
// Arena is not safe for concurrent use: the memtable serializes all
// writers through its own lock, matching the single-writer discipline
// documented on MemTable.
type Arena struct {
	blocks    [][]byte
	cur       []byte // remaining capacity in the active block
	memUsage  int64
	blockSize int
}

// New creates an Arena that allocates in blocks of blockSize bytes.
// A non-positive blockSize falls back to BlockSize.
func New(blockSize int) *Arena {
	if blockSize <= 0 {
		blockSize = BlockSize
	}
	return &Arena{blockSize: blockSize}
}

// Allocate returns a slice of exactly n bytes carved from the arena.
// The returned slice remains valid for the lifetime of the arena.
func (a *Arena) Allocate(n int) []byte {
	if n <= 0 {
		return nil
	}

	if n <= len(a.cur) {
		buf := a.cur[:n:n]
		a.cur = a.cur[n:]
		return buf
	}

	// Allocations larger than a quarter of a block get their own block so
	// they don't waste the remainder of the current one.
	if n > a.blockSize/4 {
		return a.allocateNewBlock(n)
	}

	a.addBlock(a.blockSize)
	buf := a.cur[:n:n]
	a.cur = a.cur[n:]
	return buf
}

// allocateNewBlock allocates a dedicated block sized exactly to n and
// keeps the arena's current block (if any) intact for smaller requests.
func (a *Arena) allocateNewBlock(n int) []byte {
	block := make([]byte, n)
	a.blocks = append(a.blocks, block)
	atomic.AddInt64(&a.memUsage, int64(n))
	return block
}

// addBlock grows the arena by a fresh block of the given size and makes
// it the active block for future small allocations.
func (a *Arena) addBlock(size int) {
	block := make([]byte, size)
	a.blocks = append(a.blocks, block)
	a.cur = block
	atomic.AddInt64(&a.memUsage, int64(size))
}

// MemoryUsage returns the total number of bytes the arena has obtained
// from the underlying heap, including unused slop in the active block.
func (a *Arena) MemoryUsage() int64 {
	return atomic.LoadInt64(&a.memUsage)
}
