// Package segment implements the typed, checksummed containers that hold
// packed frame records, index payloads, and the table-of-contents footer.
// It is deliberately ignorant of frame semantics — internal/frame owns the
// record codec; this package only frames segments with a header and a
// trailing checksum.
package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/sunilkgrao/aethervault/internal/types"
)

const (
	magic      = "AVSG"
	headerSize = 4 + 2 + 1 + 4 + 1 + 4 // magic, version, type, frame_count, compressed, header checksum
	version    = 1
	trailerSize = 4 // CRC-32 of the full segment body (header+payload)
)

// Header is the fixed prefix of every segment.
type Header struct {
	Type        types.SegmentType
	FrameCount  uint32
	Compressed  bool
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], version)
	buf[6] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[7:11], h.FrameCount)
	if h.Compressed {
		buf[11] = 1
	}
	crc := crc32.ChecksumIEEE(buf[:12])
	binary.LittleEndian.PutUint32(buf[12:16], crc)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("%w: segment header short read", types.ErrHeaderCorrupt)
	}
	if string(buf[0:4]) != magic {
		return Header{}, fmt.Errorf("%w: segment bad magic", types.ErrHeaderCorrupt)
	}
	v := binary.LittleEndian.Uint16(buf[4:6])
	if v > version {
		return Header{}, fmt.Errorf("%w: segment version %d", types.ErrUnsupportedVersion, v)
	}
	crc := crc32.ChecksumIEEE(buf[:12])
	if crc != binary.LittleEndian.Uint32(buf[12:16]) {
		return Header{}, fmt.Errorf("%w: segment header checksum mismatch", types.ErrHeaderCorrupt)
	}
	h := Header{
		Type:       types.SegmentType(buf[6]),
		FrameCount: binary.LittleEndian.Uint32(buf[7:11]),
		Compressed: buf[11] == 1,
	}
	return h, nil
}

// Write emits a complete segment (header + body + trailing CRC-32 of the
// whole thing) to w, returning the total bytes written.
func Write(w io.Writer, h Header, body []byte) (int64, error) {
	hdr := encodeHeader(h)
	crc := crc32.NewIEEE()
	crc.Write(hdr)
	crc.Write(body)

	var n int64
	wn, err := w.Write(hdr)
	n += int64(wn)
	if err != nil {
		return n, err
	}
	wn, err = w.Write(body)
	n += int64(wn)
	if err != nil {
		return n, err
	}
	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crc.Sum32())
	wn, err = w.Write(trailer[:])
	n += int64(wn)
	return n, err
}

// ReadAt parses the segment stored at [offset, offset+length) in ra,
// verifying the header checksum and the whole-segment trailing CRC-32. It
// returns the header and the raw body bytes (still frame/index encoded).
func ReadAt(ra io.ReaderAt, offset int64, length int64) (Header, []byte, error) {
	if length < int64(headerSize+trailerSize) {
		return Header{}, nil, fmt.Errorf("%w: segment length %d too small", types.ErrHeaderCorrupt, length)
	}
	buf := make([]byte, length)
	if _, err := ra.ReadAt(buf, offset); err != nil && err != io.EOF {
		return Header{}, nil, err
	}
	h, err := decodeHeader(buf[:headerSize])
	if err != nil {
		return Header{}, nil, err
	}
	body := buf[headerSize : length-trailerSize]
	wantCRC := binary.LittleEndian.Uint32(buf[length-trailerSize:])
	crc := crc32.NewIEEE()
	crc.Write(buf[:length-trailerSize])
	if crc.Sum32() != wantCRC {
		return Header{}, nil, fmt.Errorf("%w: segment body checksum mismatch", types.ErrHeaderCorrupt)
	}
	return h, body, nil
}

// TotalSize returns the on-disk footprint of a segment wrapping a body of
// bodyLen bytes.
func TotalSize(bodyLen int) int64 {
	return int64(headerSize + bodyLen + trailerSize)
}
