// Package table provides SST file reading and writing.
//
// TableBuilder accumulates key-value pairs in sorted order and emits them
// as a single SSTable: a run of data blocks, an optional filter block, a
// meta-index block, an index block, and a fixed-size footer.
//
// Reference: original_source/table/table_builder.cc, grounded further on
// the teacher's own internal/table/builder.go (no table_builder.h or
// block_based_table_builder.cc survived into original_source).
package table

import (
	"encoding/binary"
	"errors"
	"io"
	"sort"

	"github.com/aalhour/rockyardkv/internal/block"
	"github.com/aalhour/rockyardkv/internal/checksum"
	"github.com/aalhour/rockyardkv/internal/compression"
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/filter"
	"github.com/aalhour/rockyardkv/internal/testutil"
)

// BuilderOptions configures the TableBuilder.
type BuilderOptions struct {
	// BlockSize is the target size for data blocks (default: 4KB).
	BlockSize int

	// BlockRestartInterval is the number of keys between restart points (default: 16).
	BlockRestartInterval int

	// ChecksumType is the checksum algorithm protecting each block's trailer.
	ChecksumType checksum.Type

	// ComparatorName is the name of the key comparator, recorded for
	// compatibility checking by readers; comparison itself always goes
	// through an InternalKeyComparator.
	ComparatorName string

	// IndexBlockRestartInterval is the restart interval for the index
	// block (default: 1; index blocks rarely benefit from more).
	IndexBlockRestartInterval int

	// FilterBitsPerKey controls Bloom filter accuracy (default: 10 = ~1% FP rate).
	// Set to 0 to disable the filter block.
	FilterBitsPerKey int

	// FilterBaseLg is the log2 of the number of data-block bytes each
	// generation of the partitioned filter covers.
	FilterBaseLg uint

	// FilterPolicy is the name of the filter policy, used as the
	// meta-index key prefix (e.g. "rocksdb.BuiltinBloomFilter").
	FilterPolicy string

	// Compression is the compression type offered for data, index, and
	// meta-index blocks. The filter block is never compressed.
	Compression compression.Type

	// UserCompare orders user keys. Defaults to byte-wise comparison.
	UserCompare dbformat.UserKeyComparer
}

// DefaultBuilderOptions returns default options for TableBuilder.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:                 4096,
		BlockRestartInterval:      16,
		IndexBlockRestartInterval: 1,
		ChecksumType:              checksum.TypeCRC32C,
		ComparatorName:            "leveldb.BytewiseComparator",
		FilterBitsPerKey:          10,
		FilterBaseLg:              filter.DefaultBaseLg,
		FilterPolicy:              "rocksdb.BuiltinBloomFilter",
		Compression:               compression.NoCompression,
		UserCompare:               dbformat.BytewiseCompare,
	}
}

// TableBuilder builds SST files in the block-based table format.
//
// REQUIRES: keys passed to Add arrive in strictly increasing order under
// the internal key comparator. Not safe for concurrent use.
type TableBuilder struct {
	writer  io.Writer
	options BuilderOptions
	cmp     *dbformat.InternalKeyComparator

	dataBlock  *block.Builder
	indexBlock *block.Builder

	filterBlock *filter.BlockBuilder // nil if filtering is disabled

	pendingIndexEntry bool
	pendingHandle     block.Handle
	lastKey           []byte

	offset     uint64
	numEntries uint64

	finished bool
	err      error
}

// NewTableBuilder creates a new TableBuilder that writes to w.
func NewTableBuilder(w io.Writer, opts BuilderOptions) *TableBuilder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = 16
	}
	if opts.ChecksumType == 0 {
		opts.ChecksumType = checksum.TypeCRC32C
	}
	if opts.ComparatorName == "" {
		opts.ComparatorName = "leveldb.BytewiseComparator"
	}
	if opts.IndexBlockRestartInterval <= 0 {
		opts.IndexBlockRestartInterval = 1
	}
	if opts.FilterBaseLg == 0 {
		opts.FilterBaseLg = filter.DefaultBaseLg
	}
	if opts.UserCompare == nil {
		opts.UserCompare = dbformat.BytewiseCompare
	}

	cmp := dbformat.NewInternalKeyComparator(opts.UserCompare)

	tb := &TableBuilder{
		writer:  w,
		options: opts,
		cmp:     cmp,
		// Data and index blocks are keyed by internal keys: two entries can
		// share a user key but differ in sequence number, and under the
		// internal-key comparator a higher sequence sorts first even though
		// its encoded trailer is numerically larger. A plain byte-wise
		// Builder would reject that as out-of-order, so both use cmp here
		// instead of the package default.
		dataBlock:  block.NewBuilderWithComparator(opts.BlockRestartInterval, cmp.Compare),
		indexBlock: block.NewBuilderWithComparator(opts.IndexBlockRestartInterval, cmp.Compare),
	}

	if opts.FilterBitsPerKey > 0 {
		tb.filterBlock = filter.NewBlockBuilder(opts.FilterBitsPerKey, opts.FilterBaseLg)
	}

	return tb
}

// Add adds a key-value pair to the table. Keys must be added in
// increasing internal-key order.
func (tb *TableBuilder) Add(key, value []byte) error {
	if tb.finished {
		return errors.New("table: builder already finished")
	}
	if tb.err != nil {
		return tb.err
	}

	if tb.pendingIndexEntry {
		sep := tb.cmp.FindShortestSeparator(append([]byte(nil), tb.lastKey...), key)
		tb.indexBlock.Add(sep, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	if tb.filterBlock != nil {
		// Filters hold user keys, which is what Reader.Get probes with.
		userKey := dbformat.ExtractUserKey(key)
		if userKey == nil {
			userKey = key
		}
		tb.filterBlock.AddKey(userKey)
	}

	tb.lastKey = append(tb.lastKey[:0], key...)
	tb.numEntries++
	tb.dataBlock.Add(key, value)

	if tb.dataBlock.CurrentSizeEstimate() >= tb.options.BlockSize {
		if err := tb.flush(); err != nil {
			tb.err = err
			return err
		}
	}

	return nil
}

// flush finalizes the current data block (if non-empty), writes it, and
// starts a new filter generation at the resulting file offset.
func (tb *TableBuilder) flush() error {
	if tb.dataBlock.Empty() {
		return nil
	}
	if tb.pendingIndexEntry {
		return errors.New("table: flush called with a pending index entry")
	}

	handle, err := tb.writeBlock(tb.dataBlock.Finish())
	if err != nil {
		return err
	}
	tb.dataBlock.Reset()

	tb.pendingHandle = handle
	tb.pendingIndexEntry = true

	if tb.filterBlock != nil {
		tb.filterBlock.StartBlock(tb.offset)
	}

	return nil
}

// writeBlock compresses contents if configured and beneficial, then
// writes it with a trailer via writeRawBlock.
func (tb *TableBuilder) writeBlock(contents []byte) (block.Handle, error) {
	payload := contents
	ctype := compression.NoCompression

	if tb.options.Compression != compression.NoCompression {
		compressed, err := compression.Compress(tb.options.Compression, contents)
		if err == nil && compressed != nil && len(compressed) < len(contents)-len(contents)/8 {
			payload = compressed
			ctype = tb.options.Compression
		}
	}

	return tb.writeRawBlock(payload, ctype)
}

// writeRawBlock writes block data verbatim (already compressed, or not)
// along with its 5-byte trailer: compression type + masked checksum.
func (tb *TableBuilder) writeRawBlock(data []byte, ctype compression.Type) (block.Handle, error) {
	handle := block.Handle{Offset: tb.offset, Size: uint64(len(data))}

	if _, err := tb.writer.Write(data); err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(len(data))

	trailer := make([]byte, block.BlockTrailerSize)
	trailer[0] = byte(ctype)
	binary.LittleEndian.PutUint32(trailer[1:], tb.computeChecksum(data, trailer[0]))

	if _, err := tb.writer.Write(trailer); err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(len(trailer))

	return handle, nil
}

// computeChecksum hashes data plus the trailing compression-type byte
// using the configured checksum algorithm.
func (tb *TableBuilder) computeChecksum(data []byte, lastByte byte) uint32 {
	switch tb.options.ChecksumType {
	case checksum.TypeXXH3:
		return checksum.ComputeXXH3ChecksumWithLastByte(data, lastByte)
	case checksum.TypeXXHash64:
		return checksum.ComputeXXHash64ChecksumWithLastByte(data, lastByte)
	default:
		return checksum.ComputeCRC32CChecksumWithLastByte(data, lastByte)
	}
}

// Finish finalizes the table and writes the footer.
// After calling Finish, the TableBuilder should not be used except for
// Status and FileSize queries.
func (tb *TableBuilder) Finish() error {
	testutil.MaybeKill(testutil.KPSSTClose0)

	if tb.finished {
		return errors.New("table: builder already finished")
	}
	if tb.err != nil {
		return tb.err
	}

	if err := tb.flush(); err != nil {
		tb.err = err
		return err
	}
	tb.finished = true

	type metaEntry struct {
		key   string
		value []byte
	}
	var metaEntries []metaEntry

	if tb.filterBlock != nil {
		filterHandle, err := tb.writeRawBlock(tb.filterBlock.Finish(), compression.NoCompression)
		if err != nil {
			tb.err = err
			return err
		}
		metaEntries = append(metaEntries, metaEntry{"filter." + tb.options.FilterPolicy, filterHandle.EncodeToSlice()})
	}

	metaindexBuilder := block.NewBuilder(1)
	sort.Slice(metaEntries, func(i, j int) bool { return metaEntries[i].key < metaEntries[j].key })
	for _, e := range metaEntries {
		metaindexBuilder.Add([]byte(e.key), e.value)
	}
	metaindexHandle, err := tb.writeBlock(metaindexBuilder.Finish())
	if err != nil {
		tb.err = err
		return err
	}

	if tb.pendingIndexEntry {
		succ := tb.cmp.FindShortSuccessor(append([]byte(nil), tb.lastKey...))
		tb.indexBlock.Add(succ, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	indexHandle, err := tb.writeBlock(tb.indexBlock.Finish())
	if err != nil {
		tb.err = err
		return err
	}

	if err := tb.writeFooter(metaindexHandle, indexHandle); err != nil {
		tb.err = err
		return err
	}

	testutil.MaybeKill(testutil.KPSSTClose1)

	return nil
}

// writeFooter writes the SST file footer.
func (tb *TableBuilder) writeFooter(metaindexHandle, indexHandle block.Handle) error {
	footer := &block.Footer{
		MetaindexHandle: metaindexHandle,
		IndexHandle:     indexHandle,
	}

	data := footer.EncodeTo()
	if _, err := tb.writer.Write(data); err != nil {
		return err
	}
	tb.offset += uint64(len(data))
	return nil
}

// Abandon abandons the table being built without writing anything further.
// After calling Abandon, the TableBuilder should not be used.
func (tb *TableBuilder) Abandon() {
	tb.finished = true
}

// NumEntries returns the number of entries added so far.
func (tb *TableBuilder) NumEntries() uint64 {
	return tb.numEntries
}

// FileSize returns the size of the file generated so far.
func (tb *TableBuilder) FileSize() uint64 {
	return tb.offset
}

// Status returns any error encountered during building.
func (tb *TableBuilder) Status() error {
	return tb.err
}
