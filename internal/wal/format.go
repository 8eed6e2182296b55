// Package wal provides a write-ahead log record framer: records are packed
// into fixed-size blocks, fragmented across block boundaries when they
// don't fit, and checksummed per fragment.
//
// File Format:
// A log file is divided into fixed-size blocks (32KiB). Records are written
// sequentially and may span multiple blocks. Each physical record has a
// 7-byte header containing a masked CRC32C, a length, and a type.
//
// Record Format:
//
//	+----------+---------+------+---------+
//	| CRC (4B) | Len(2B) | Type | Payload |
//	+----------+---------+------+---------+
//
// CRC is computed over Type + Payload and masked using checksum.Mask().
//
// Grounded on the teacher's own internal/wal/format.go; no log-format
// header survived into original_source.
package wal

// BlockSize is the size of each block in the log file.
// Records are written within these blocks, with padding at the end if needed.
const BlockSize = 32768

// HeaderSize is the size of a record header: checksum (4) + length (2) +
// type (1) = 7 bytes.
const HeaderSize = 7

// MaxRecordPayload is the maximum payload size for a single physical record.
const MaxRecordPayload = BlockSize - HeaderSize

// RecordType represents the type of a log record.
// These values are embedded in the on-disk format and MUST NOT change.
type RecordType uint8

const (
	// ZeroType is reserved for preallocated files (all zeros); a reader
	// encountering it treats the rest of the current block as padding.
	ZeroType RecordType = 0

	// FullType indicates a complete record that fits within a single fragment.
	FullType RecordType = 1

	// FirstType indicates the first fragment of a record that spans multiple blocks.
	FirstType RecordType = 2

	// MiddleType indicates a middle fragment of a record.
	MiddleType RecordType = 3

	// LastType indicates the final fragment of a record.
	LastType RecordType = 4

	// MaxRecordType is the maximum valid record type value.
	MaxRecordType = LastType
)

// IsFragmentType returns true if the record type is one of Full/First/Middle/Last.
func IsFragmentType(t RecordType) bool {
	return t >= FullType && t <= LastType
}

// String returns the string representation of a RecordType.
func (t RecordType) String() string {
	switch t {
	case ZeroType:
		return "ZeroType"
	case FullType:
		return "FullType"
	case FirstType:
		return "FirstType"
	case MiddleType:
		return "MiddleType"
	case LastType:
		return "LastType"
	default:
		return "UnknownType"
	}
}
