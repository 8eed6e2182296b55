// filter_block.go implements the multi-generation filter block: one Bloom
// filter per 2^BaseLg bytes of data-block output, so a point lookup only
// has to consult the filter covering the data block it actually seeks into.
//
// Reference: original_source/table/filter_block.cc (FilterBlockBuilder,
// FilterBlockReader) for the per-generation split; the per-key bit-array
// mechanics reuse the teacher's own internal/filter/bloom.go, which has
// no generational file of its own.
package filter

import (
	"encoding/binary"

	"github.com/aalhour/rockyardkv/internal/encoding"
)

// DefaultBaseLg is the log2 of the number of data-block bytes each
// generation's filter covers (2^11 = 2KiB).
const DefaultBaseLg = 11

// BlockBuilder accumulates keys into successive Bloom filter generations,
// one generation per 2^baseLg-byte window of data-block output.
type BlockBuilder struct {
	bitsPerKey int
	baseLg     uint

	keys   []byte // flattened key bytes for the generation under construction
	starts []int  // offsets into keys marking each key's start

	filterOffsets []uint32 // start offset of each generation within result
	result        []byte   // concatenated filter bitmaps
}

// NewBlockBuilder creates a filter block builder using bitsPerKey bits of
// filter space per key, one generation per 2^baseLg bytes of data blocks.
func NewBlockBuilder(bitsPerKey int, baseLg uint) *BlockBuilder {
	if baseLg == 0 {
		baseLg = DefaultBaseLg
	}
	return &BlockBuilder{
		bitsPerKey: bitsPerKey,
		baseLg:     baseLg,
	}
}

// StartBlock is called before adding a data block's keys, with the offset
// that block will occupy in the file. It generates filters for any
// intervening 2^baseLg windows that have not yet been closed.
func (b *BlockBuilder) StartBlock(blockOffset uint64) {
	filterIndex := blockOffset >> b.baseLg
	for filterIndex > uint64(len(b.filterOffsets)) {
		b.generateFilter()
	}
}

// AddKey records a key for the filter generation currently being built.
func (b *BlockBuilder) AddKey(key []byte) {
	b.starts = append(b.starts, len(b.keys))
	b.keys = append(b.keys, key...)
}

// Finish closes out any pending generation and returns the encoded filter
// block: concatenated filter bitmaps, a fixed32 offset per generation, the
// fixed32 offset of that offset array, and a trailing base_lg byte.
func (b *BlockBuilder) Finish() []byte {
	if len(b.starts) > 0 {
		b.generateFilter()
	}

	arrayOffset := uint32(len(b.result))
	for _, off := range b.filterOffsets {
		b.result = encoding.AppendFixed32(b.result, off)
	}
	b.result = encoding.AppendFixed32(b.result, arrayOffset)
	b.result = append(b.result, byte(b.baseLg))
	return b.result
}

// generateFilter builds a Bloom filter over the keys collected since the
// last generation and appends it to result, recording its start offset.
func (b *BlockBuilder) generateFilter() {
	numKeys := len(b.starts)
	if numKeys == 0 {
		// No keys fell in this window: record an empty (zero-length) range.
		b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))
		return
	}

	b.starts = append(b.starts, len(b.keys)) // sentinel for length computation

	b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))

	fb := NewBloomFilterBuilder(b.bitsPerKey)
	for i := range numKeys {
		fb.AddKey(b.keys[b.starts[i]:b.starts[i+1]])
	}
	b.result = append(b.result, fb.Finish()...)

	b.keys = b.keys[:0]
	b.starts = b.starts[:0]
}

// BlockReader answers KeyMayMatch queries against an encoded filter block.
type BlockReader struct {
	data      []byte
	offsetPos int // byte offset of the start of the offset array within data
	num       int
	baseLg    uint
}

// NewBlockReader parses an encoded filter block produced by BlockBuilder.Finish.
// A malformed or too-short block yields a reader with num == 0, which
// KeyMayMatch treats conservatively (every key may match).
func NewBlockReader(data []byte) *BlockReader {
	r := &BlockReader{}
	n := len(data)
	if n < 5 {
		return r
	}

	r.baseLg = uint(data[n-1])
	lastWord := binary.LittleEndian.Uint32(data[n-5:])
	if int(lastWord) > n-5 {
		return r
	}

	r.data = data
	r.offsetPos = int(lastWord)
	r.num = (n - 5 - int(lastWord)) / 4
	return r
}

// KeyMayMatch reports whether key may be present in the data block at
// blockOffset. A false return is a definitive negative; true may be a
// false positive, or may simply mean the reader could not determine a
// generation boundary (in which case it conservatively returns true).
func (r *BlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	if r.data == nil {
		return true
	}

	index := blockOffset >> r.baseLg
	if index >= uint64(r.num) {
		return true
	}

	start := binary.LittleEndian.Uint32(r.data[r.offsetPos+int(index)*4:])
	limit := binary.LittleEndian.Uint32(r.data[r.offsetPos+int(index)*4+4:])
	if limit < start || int(limit) > r.offsetPos {
		return true // malformed range: conservative match
	}
	if start == limit {
		return false // empty generation: no keys were added, never matches
	}

	fr := NewBloomFilterReader(r.data[start:limit])
	return fr.MayContain(key)
}
