package rockyardkv

import (
	"github.com/aalhour/rockyardkv/internal/compression"
	"github.com/aalhour/rockyardkv/internal/dbformat"
)

// Options configures the table-construction pipeline: the block layout a
// TableBuilder produces, the filter it attaches, and the comparator used
// to order keys.
type Options struct {
	// BlockSize is the target uncompressed size of a data block before it
	// is flushed and a new one started.
	BlockSize int

	// BlockRestartInterval is the number of keys between prefix-compression
	// restart points in a data block.
	BlockRestartInterval int

	// IndexBlockRestartInterval is the restart interval for the index
	// block; index blocks are rarely large enough to benefit from more
	// than one restart point, so this is typically 1.
	IndexBlockRestartInterval int

	// FilterBitsPerKey controls Bloom filter accuracy. Zero disables the
	// filter block entirely.
	FilterBitsPerKey int

	// FilterBaseLg is the log2 of the number of data-block bytes each
	// generation of the partitioned filter covers.
	FilterBaseLg uint

	// Compression is the algorithm offered for data, index, and
	// meta-index blocks. The filter block is never compressed.
	Compression compression.Type

	// Comparator orders user keys. Defaults to byte-wise comparison.
	Comparator dbformat.UserKeyComparer
}

// DefaultOptions returns the default pipeline configuration: 4 KiB data
// blocks, a restart interval of 16, a 10-bits-per-key Bloom filter over
// 2 KiB (2^11 byte) windows, Snappy compression, and byte-wise ordering.
func DefaultOptions() Options {
	return Options{
		BlockSize:                 4096,
		BlockRestartInterval:      16,
		IndexBlockRestartInterval: 1,
		FilterBitsPerKey:          10,
		FilterBaseLg:              11,
		Compression:               compression.SnappyCompression,
		Comparator:                dbformat.BytewiseCompare,
	}
}
