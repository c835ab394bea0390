// Package header implements the capsule's fixed 4 KiB prefix: magic,
// version, and the offsets a reader needs before it can touch the WAL or
// TOC. Every other package treats the header as the root of trust for where
// things live in the file.
package header

import (
	"encoding/binary"
	"fmt"

	"github.com/sunilkgrao/aethervault/internal/types"
)

const (
	Size = 4096

	Magic        = "MV2\x00"
	SpecMajor    = 1
	SpecMinor    = 0
	WalOffset    = uint64(Size)

	offMagic       = 0
	offVersion     = 4
	offSpecMajor   = 6
	offSpecMinor   = 7
	offFooter      = 8
	offWalOffset   = 16
	offWalSize     = 24
	offWalCkptPos  = 32
	offWalSequence = 40
	offTocChecksum = 48
	// Bytes [80, Size) are reserved and must be zero.
	reservedStart = 80
)

// Version is the on-disk format version this build understands. Opening a
// capsule with a newer version fails with ErrUnsupportedVersion.
const Version = 1

// Header is the decoded 4 KiB prefix.
type Header struct {
	Version          uint16
	SpecMajor        uint8
	SpecMinor        uint8
	FooterOffset     uint64
	WalOffset        uint64
	WalSize          uint64
	WalCheckpointPos uint64
	WalSequence      uint64
	TocChecksum      [32]byte
}

// SizeClass picks the WAL region size from the file-capacity class at
// creation time. The choice is immutable for the life of the file;
// enlarging requires compacting into a new file.
func SizeClass(capacityBytes int64) uint64 {
	const (
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case capacityBytes < 100*mib:
		return 1 * mib
	case capacityBytes < 1*gib:
		return 4 * mib
	case capacityBytes < 10*gib:
		return 16 * mib
	default:
		return 64 * mib
	}
}

// New builds a fresh header for a newly initialised capsule.
func New(walSize uint64) *Header {
	return &Header{
		Version:   Version,
		SpecMajor: SpecMajor,
		SpecMinor: SpecMinor,
		WalOffset: WalOffset,
		WalSize:   walSize,
	}
}

// Encode serialises the header into a Size-byte buffer, little-endian, with
// reserved bytes zeroed.
func (h *Header) Encode() []byte {
	buf := make([]byte, Size)
	copy(buf[offMagic:], Magic)
	binary.LittleEndian.PutUint16(buf[offVersion:], h.Version)
	buf[offSpecMajor] = h.SpecMajor
	buf[offSpecMinor] = h.SpecMinor
	binary.LittleEndian.PutUint64(buf[offFooter:], h.FooterOffset)
	binary.LittleEndian.PutUint64(buf[offWalOffset:], h.WalOffset)
	binary.LittleEndian.PutUint64(buf[offWalSize:], h.WalSize)
	binary.LittleEndian.PutUint64(buf[offWalCkptPos:], h.WalCheckpointPos)
	binary.LittleEndian.PutUint64(buf[offWalSequence:], h.WalSequence)
	copy(buf[offTocChecksum:], h.TocChecksum[:])
	return buf
}

// Decode parses and validates a Size-byte header buffer.
func Decode(buf []byte) (*Header, error) {
	if len(buf) < Size {
		return nil, fmt.Errorf("%w: short read (%d bytes)", types.ErrHeaderCorrupt, len(buf))
	}
	if string(buf[offMagic:offMagic+4]) != Magic {
		return nil, types.ErrBadMagic
	}
	h := &Header{}
	h.Version = binary.LittleEndian.Uint16(buf[offVersion:])
	if h.Version > Version {
		return nil, fmt.Errorf("%w: capsule version %d, this build understands up to %d",
			types.ErrUnsupportedVersion, h.Version, Version)
	}
	h.SpecMajor = buf[offSpecMajor]
	h.SpecMinor = buf[offSpecMinor]
	h.FooterOffset = binary.LittleEndian.Uint64(buf[offFooter:])
	h.WalOffset = binary.LittleEndian.Uint64(buf[offWalOffset:])
	h.WalSize = binary.LittleEndian.Uint64(buf[offWalSize:])
	h.WalCheckpointPos = binary.LittleEndian.Uint64(buf[offWalCkptPos:])
	h.WalSequence = binary.LittleEndian.Uint64(buf[offWalSequence:])
	copy(h.TocChecksum[:], buf[offTocChecksum:offTocChecksum+32])

	for _, b := range buf[reservedStart:] {
		if b != 0 {
			return nil, fmt.Errorf("%w: reserved region non-zero under version %d", types.ErrHeaderCorrupt, h.Version)
		}
	}
	if h.WalOffset != WalOffset {
		return nil, fmt.Errorf("%w: wal_offset must be %d, got %d", types.ErrHeaderCorrupt, WalOffset, h.WalOffset)
	}
	if h.FooterOffset != 0 && h.FooterOffset < h.WalOffset+h.WalSize {
		return nil, fmt.Errorf("%w: footer_offset %d precedes end of wal region %d",
			types.ErrHeaderCorrupt, h.FooterOffset, h.WalOffset+h.WalSize)
	}
	return h, nil
}
