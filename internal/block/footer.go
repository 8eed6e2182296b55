// footer.go implements SST file footer encoding and decoding.
//
// The footer is a fixed-size trailer giving the locations of the
// meta-index and index blocks, plus a magic number. Its size is a
// compile-time constant so a reader can seek to file_size - FooterLength
// without consulting any other metadata.
//
// Grounded on the teacher's own internal/block/footer.go; no format.h/.cc
// survived into original_source.
package block

import "encoding/binary"

// TableMagicNumber is the fixed 64-bit constant written at the end of
// every SSTable file produced by this package.
const TableMagicNumber uint64 = 0xdb4775248b80fb57

// MagicNumberLength is the length in bytes of the magic number.
const MagicNumberLength = 8

// FooterLength is the fixed on-disk size of a footer: two block handles
// encoded as varints, padded with zeros to 2*MaxEncodedLength bytes, then
// the 8-byte magic number.
const FooterLength = 2*MaxEncodedLength + MagicNumberLength

// BlockTrailerSize is the size of the trailer following every block on
// disk: 1 byte compression type + 4 byte masked CRC32C.
const BlockTrailerSize = 5

// Footer holds the handles to the meta-index and index blocks.
type Footer struct {
	MetaindexHandle Handle
	IndexHandle     Handle
}

// EncodeTo serializes the footer to its fixed FooterLength-byte form.
func (f *Footer) EncodeTo() []byte {
	buf := make([]byte, FooterLength)

	n := 0
	encoded := f.MetaindexHandle.EncodeToSlice()
	n += copy(buf[n:], encoded)

	encoded = f.IndexHandle.EncodeToSlice()
	n += copy(buf[n:], encoded)

	// buf[n:FooterLength-MagicNumberLength] is already zero (Go zero-values
	// new slices), which is the required zero-padding.

	binary.LittleEndian.PutUint64(buf[FooterLength-MagicNumberLength:], TableMagicNumber)
	return buf
}

// DecodeFooter parses a FooterLength-byte buffer produced by EncodeTo.
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) != FooterLength {
		return nil, ErrBadBlockFooter
	}

	magic := binary.LittleEndian.Uint64(data[FooterLength-MagicNumberLength:])
	if magic != TableMagicNumber {
		return nil, ErrBadBlockFooter
	}

	footer := &Footer{}
	var err error
	var remaining []byte
	footer.MetaindexHandle, remaining, err = DecodeHandle(data)
	if err != nil {
		return nil, err
	}
	footer.IndexHandle, _, err = DecodeHandle(remaining)
	if err != nil {
		return nil, err
	}
	return footer, nil
}
