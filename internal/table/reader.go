// reader.go implements SST file reading for tables produced by TableBuilder.
//
// SST file layout:
//
//	[data block 0][trailer][data block 1][trailer]...
//	[filter block][trailer]   (optional)
//	[metaindex block][trailer]
//	[index block][trailer]
//	[footer]                  (fixed size, at end of file)
//
// Grounded on the teacher's own internal/table/reader.go; no table.cc or
// format.cc survived into original_source.
package table

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aalhour/rockyardkv/internal/block"
	"github.com/aalhour/rockyardkv/internal/checksum"
	"github.com/aalhour/rockyardkv/internal/compression"
	"github.com/aalhour/rockyardkv/internal/dbformat"
	"github.com/aalhour/rockyardkv/internal/encoding"
	"github.com/aalhour/rockyardkv/internal/filter"
	"github.com/aalhour/rockyardkv/internal/mempool"
)

var (
	// ErrInvalidSST indicates the file is not a valid SST file.
	ErrInvalidSST = errors.New("table: invalid SST file")

	// ErrChecksumMismatch indicates a block checksum verification failed.
	ErrChecksumMismatch = errors.New("table: checksum mismatch")

	// ErrBlockNotFound indicates a requested block was not found.
	ErrBlockNotFound = errors.New("table: block not found")
)

// ReadableFile is an interface for reading from an SST file.
type ReadableFile interface {
	io.Closer

	// ReadAt reads len(p) bytes from the file starting at offset.
	ReadAt(p []byte, off int64) (n int, err error)

	// Size returns the total size of the file.
	Size() int64
}

// ReaderOptions controls the behavior of the table reader.
type ReaderOptions struct {
	// VerifyChecksums enables checksum verification for every block read.
	VerifyChecksums bool

	// ChecksumType is the algorithm used to verify block checksums; must
	// match the algorithm the file was built with.
	ChecksumType checksum.Type
}

// Reader reads an SST file produced by TableBuilder.
type Reader struct {
	file    ReadableFile
	size    int64
	options ReaderOptions

	footer *block.Footer

	filterHandle block.Handle
	indexBlock   *block.Block
	filterReader *filter.BlockReader // nil if no filter block is present

	// scratch holds the raw on-disk read buffer for compressed blocks. It is
	// only safe to return a buffer to scratch once nothing returned to the
	// caller still references it, which readBlock does for the compressed
	// path (compression.Decompress produces an independent output buffer)
	// but must never do for the uncompressed path, where the block retains
	// the buffer directly.
	scratch *mempool.Pool
}

// Open opens an SST file for reading.
func Open(file ReadableFile, opts ReaderOptions) (*Reader, error) {
	size := file.Size()
	if size < int64(block.FooterLength) {
		return nil, ErrInvalidSST
	}

	r := &Reader{file: file, size: size, options: opts, scratch: mempool.NewPool()}

	if err := r.readFooter(); err != nil {
		return nil, err
	}
	if err := r.readMetaindex(); err != nil {
		return nil, err
	}
	if err := r.readIndex(); err != nil {
		return nil, err
	}
	if err := r.readFilter(); err != nil {
		// A missing or malformed filter block is not fatal: the reader
		// simply falls back to treating every key as a possible match.
		r.filterReader = nil
	}

	return r, nil
}

func (r *Reader) readFooter() error {
	buf := make([]byte, block.FooterLength)
	offset := r.size - int64(block.FooterLength)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return err
	}

	footer, err := block.DecodeFooter(buf)
	if err != nil {
		return ErrInvalidSST
	}

	r.footer = footer
	return nil
}

// readMetaindex reads the metaindex block to locate the filter block, if any.
func (r *Reader) readMetaindex() error {
	if r.footer.MetaindexHandle.IsNull() {
		return nil
	}

	metaBlock, err := r.readBlock(r.footer.MetaindexHandle)
	if err != nil {
		return err
	}

	iter := metaBlock.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		name := string(iter.Key())
		if !strings.HasPrefix(name, "filter.") {
			continue
		}
		handle, _, err := block.DecodeHandle(iter.Value())
		if err != nil {
			continue
		}
		r.filterHandle = handle
	}

	return nil
}

func (r *Reader) readIndex() error {
	if r.footer.IndexHandle.IsNull() {
		return ErrBlockNotFound
	}

	indexBlock, err := r.readBlock(r.footer.IndexHandle)
	if err != nil {
		return err
	}

	r.indexBlock = indexBlock
	return nil
}

func (r *Reader) readFilter() error {
	if r.filterHandle.IsNull() {
		return nil
	}

	trailerSize := block.BlockTrailerSize
	totalSize := int(r.filterHandle.Size) + trailerSize

	buf := make([]byte, totalSize)
	if _, err := r.file.ReadAt(buf, int64(r.filterHandle.Offset)); err != nil {
		return err
	}

	r.filterReader = filter.NewBlockReader(buf[:r.filterHandle.Size])
	return nil
}

// KeyMayMatch reports whether key may be present in the data block at
// blockOffset. Returns true (may match) if no filter block is present.
func (r *Reader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	if r.filterReader == nil {
		return true
	}
	return r.filterReader.KeyMayMatch(blockOffset, key)
}

// HasFilter returns true if this table has a filter block.
func (r *Reader) HasFilter() bool {
	return r.filterReader != nil
}

// maxBlockSize guards against memory exhaustion from a corrupted block handle.
const maxBlockSize = 256 * 1024 * 1024

// readBlock reads and optionally verifies a block from the file, returning
// the block with compression already undone.
func (r *Reader) readBlock(handle block.Handle) (*block.Block, error) {
	const maxInt64AsUint64 = ^uint64(0) >> 1
	if handle.Offset > maxInt64AsUint64 {
		return nil, fmt.Errorf("block offset %d exceeds maximum: %w", handle.Offset, ErrInvalidSST)
	}
	if handle.Size > maxBlockSize {
		return nil, fmt.Errorf("block size %d exceeds maximum: %w", handle.Size, ErrInvalidSST)
	}

	trailerSize := block.BlockTrailerSize
	totalSize := int(handle.Size) + trailerSize

	end := handle.Offset + uint64(totalSize)
	if end < handle.Offset || end > uint64(r.size) {
		return nil, fmt.Errorf("block at offset %d size %d exceeds file size %d: %w",
			handle.Offset, totalSize, r.size, ErrInvalidSST)
	}

	buf := r.scratch.Get(totalSize)[:totalSize]
	n, err := r.file.ReadAt(buf, int64(handle.Offset))
	if err != nil {
		r.scratch.Put(buf)
		return nil, err
	}
	if n < totalSize {
		r.scratch.Put(buf)
		return nil, ErrInvalidSST
	}

	blockData := buf[:handle.Size]
	compressionType := compression.Type(buf[len(buf)-trailerSize])
	storedChecksum := encoding.DecodeFixed32(buf[len(buf)-4:])

	if r.options.VerifyChecksums {
		computed := r.computeChecksum(blockData, buf[len(buf)-trailerSize])
		if computed != storedChecksum {
			r.scratch.Put(buf)
			return nil, ErrChecksumMismatch
		}
	}

	if compressionType != compression.NoCompression {
		decompressed, err := compression.Decompress(compressionType, blockData)
		// decompressed is a fresh allocation independent of buf, so buf can
		// be returned to the pool regardless of whether decompression
		// succeeded; the returned Block never sees it.
		r.scratch.Put(buf)
		if err != nil {
			return nil, fmt.Errorf("decompress block: %w", err)
		}
		blockData = decompressed
	}
	// The uncompressed case keeps blockData as a subslice of buf, which the
	// returned Block retains directly: buf must not go back to the pool
	// here, or a later reader would mutate memory this Block still reads.

	return block.NewBlock(blockData)
}

func (r *Reader) computeChecksum(data []byte, lastByte byte) uint32 {
	switch r.options.ChecksumType {
	case checksum.TypeXXH3:
		return checksum.ComputeXXH3ChecksumWithLastByte(data, lastByte)
	case checksum.TypeXXHash64:
		return checksum.ComputeXXHash64ChecksumWithLastByte(data, lastByte)
	default:
		return checksum.ComputeCRC32CChecksumWithLastByte(data, lastByte)
	}
}

// Get looks up key (an internal key) and returns its value if present.
// found reports whether an entry with exactly this key exists.
func (r *Reader) Get(key []byte) (value []byte, found bool, err error) {
	indexIter := r.indexBlock.NewIterator()
	indexIter.Seek(key)
	if !indexIter.Valid() {
		return nil, false, nil
	}

	handle, _, err := block.DecodeHandle(indexIter.Value())
	if err != nil {
		return nil, false, err
	}

	userKey := dbformat.ExtractUserKey(key)
	if userKey == nil {
		userKey = key
	}
	if !r.KeyMayMatch(handle.Offset, userKey) {
		return nil, false, nil
	}

	dataBlock, err := r.readBlock(handle)
	if err != nil {
		return nil, false, err
	}

	dataIter := dataBlock.NewIterator()
	dataIter.Seek(key)
	if !dataIter.Valid() {
		return nil, false, nil
	}
	if string(dataIter.Key()) != string(key) {
		return nil, false, nil
	}

	val := append([]byte(nil), dataIter.Value()...)
	return val, true, nil
}

// NewIterator returns an iterator over the table contents, in internal-key
// order. The iterator is initially invalid; call SeekToFirst or Seek first.
func (r *Reader) NewIterator() *TableIterator {
	return &TableIterator{
		reader:    r,
		indexIter: r.indexBlock.NewIterator(),
	}
}

// Close releases resources associated with the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Footer returns the parsed footer.
func (r *Reader) Footer() *block.Footer {
	return r.footer
}

// TableIterator iterates over key-value pairs in an SST file.
type TableIterator struct {
	reader    *Reader
	indexIter *block.Iterator
	dataIter  *block.Iterator
	err       error
}

// Valid returns true if the iterator is positioned at a valid entry.
func (it *TableIterator) Valid() bool {
	return it.err == nil && it.dataIter != nil && it.dataIter.Valid()
}

// SeekToFirst positions the iterator at the first entry.
func (it *TableIterator) SeekToFirst() {
	it.indexIter.SeekToFirst()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToFirst()
	}
}

// SeekToLast positions the iterator at the last entry.
func (it *TableIterator) SeekToLast() {
	it.indexIter.SeekToLast()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToLast()
	}
}

// Seek positions the iterator at the first entry with key >= target.
func (it *TableIterator) Seek(target []byte) {
	it.indexIter.Seek(target)
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.Seek(target)
		// The index key may lie above the block's last key, so a target
		// past that last key continues at the next block's first entry.
		if !it.dataIter.Valid() {
			it.indexIter.Next()
			it.loadDataBlock()
			if it.dataIter != nil {
				it.dataIter.SeekToFirst()
			}
		}
	}
}

// Next moves to the next entry.
func (it *TableIterator) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	if !it.dataIter.Valid() {
		it.indexIter.Next()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToFirst()
		}
	}
}

// Prev moves to the previous entry.
func (it *TableIterator) Prev() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Prev()
	if !it.dataIter.Valid() {
		it.indexIter.Prev()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToLast()
		}
	}
}

// Key returns the current key.
func (it *TableIterator) Key() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Key()
}

// Value returns the current value.
func (it *TableIterator) Value() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Value()
}

// Error returns any error encountered during iteration.
func (it *TableIterator) Error() error {
	return it.err
}

// loadDataBlock loads the data block pointed to by the current index entry.
func (it *TableIterator) loadDataBlock() {
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}

	handle, _, err := block.DecodeHandle(it.indexIter.Value())
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}

	dataBlock, err := it.reader.readBlock(handle)
	if err != nil {
		it.err = err
		it.dataIter = nil
		return
	}

	it.dataIter = dataBlock.NewIterator()
}
