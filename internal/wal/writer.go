// writer.go implements WAL log file writing.
//
// Writer is a general purpose log stream writer. It provides an append-only
// abstraction for writing data, fragmenting records across block boundaries.
//
// Reference: original_source/db/log_writer.h, grounded further on the
// teacher's own internal/wal/writer.go (no log_writer.cc survived into
// original_source, only the header).
package wal

import (
	"io"

	"github.com/aalhour/rockyardkv/internal/checksum"
	"github.com/aalhour/rockyardkv/internal/encoding"
	"github.com/aalhour/rockyardkv/internal/testutil"
)

// Writer writes records to a WAL file, fragmenting records that don't fit
// in the remainder of the current block. Each physical record has a 7-byte
// header: masked CRC32C, length, and type.
type Writer struct {
	dest        io.Writer
	blockOffset int // Current offset within the current block

	// Pre-computed CRC32C values for each record type
	typeCRC [MaxRecordType + 1]uint32

	// Reusable header buffer
	headerBuf [HeaderSize]byte
}

// NewWriter creates a new WAL writer that appends to an empty dest.
func NewWriter(dest io.Writer) *Writer {
	return NewWriterAtOffset(dest, 0)
}

// NewWriterAtOffset creates a WAL writer resuming an existing file of
// length fileLength: the writer's block_offset is initialized to
// fileLength mod BlockSize, so writes continue mid-block rather than
// starting a fresh block (and clobbering any partial trailing block).
func NewWriterAtOffset(dest io.Writer, fileLength int64) *Writer {
	w := &Writer{
		dest:        dest,
		blockOffset: int(fileLength % BlockSize),
	}

	for i := 0; i <= int(MaxRecordType); i++ {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}

	return w
}

// AddRecord writes a complete logical record to the log.
// The record may be split into multiple physical records if it doesn't fit
// in the current block.
//
// Returns the number of bytes written (including headers) and any error.
func (w *Writer) AddRecord(data []byte) (int, error) {
	// Kill point: crash during WAL append (before any write)
	testutil.MaybeKill(testutil.KPWALAppend0)

	ptr := data
	left := len(data)
	totalWritten := 0
	begin := true

	// Fragment the record if necessary.
	// Note: even if data is empty, we emit a single zero-length record.
	for {
		leftover := BlockSize - w.blockOffset

		// If there's not enough space for a header, pad and move to next block.
		if leftover < HeaderSize {
			if leftover > 0 {
				padding := make([]byte, leftover)
				n, err := w.dest.Write(padding)
				if err != nil {
					return totalWritten + n, err
				}
				totalWritten += n
			}
			w.blockOffset = 0
		}

		// Invariant: we never leave < HeaderSize bytes in a block.
		avail := BlockSize - w.blockOffset - HeaderSize
		fragmentLength := min(left, avail)

		end := left == fragmentLength
		var recordType RecordType
		switch {
		case begin && end:
			recordType = FullType
		case begin:
			recordType = FirstType
		case end:
			recordType = LastType
		default:
			recordType = MiddleType
		}

		n, err := w.emitPhysicalRecord(recordType, ptr[:fragmentLength])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		ptr = ptr[fragmentLength:]
		left -= fragmentLength
		begin = false

		if left == 0 {
			break
		}
	}

	return totalWritten, nil
}

// emitPhysicalRecord writes a single physical record.
func (w *Writer) emitPhysicalRecord(t RecordType, payload []byte) (int, error) {
	n := len(payload)
	if n > 0xFFFF {
		panic("wal: record payload too large") //nolint:forbidigo // intentional panic for precondition violation
	}

	w.headerBuf[4] = byte(n & 0xFF)
	w.headerBuf[5] = byte(n >> 8)
	w.headerBuf[6] = byte(t)

	crc := w.typeCRC[t]
	crc = checksum.Extend(crc, payload)
	crc = checksum.Mask(crc)
	encoding.EncodeFixed32(w.headerBuf[:], crc)

	totalWritten := 0
	written, err := w.dest.Write(w.headerBuf[:])
	totalWritten += written
	if err != nil {
		return totalWritten, err
	}

	written, err = w.dest.Write(payload)
	totalWritten += written
	if err != nil {
		return totalWritten, err
	}

	w.blockOffset += HeaderSize + n
	return totalWritten, nil
}

// BlockOffset returns the current offset within the current block.
func (w *Writer) BlockOffset() int {
	return w.blockOffset
}

// Sync flushes the underlying writer if it supports it.
func (w *Writer) Sync() error {
	// Kill point: crash before WAL sync
	testutil.MaybeKill(testutil.KPWALSync0)

	if syncer, ok := w.dest.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return err
		}
	}

	// Kill point: crash after WAL sync (data is durable)
	testutil.MaybeKill(testutil.KPWALSync1)
	return nil
}
