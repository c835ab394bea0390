package header

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunilkgrao/aethervault/internal/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := New(SizeClass(10 * 1 << 20))
	h.WalCheckpointPos = 128
	h.WalSequence = 7
	h.TocChecksum = [32]byte{1, 2, 3}

	decoded, err := Decode(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h.Version, decoded.Version)
	require.Equal(t, h.WalOffset, decoded.WalOffset)
	require.Equal(t, h.WalSize, decoded.WalSize)
	require.Equal(t, h.WalCheckpointPos, decoded.WalCheckpointPos)
	require.Equal(t, h.WalSequence, decoded.WalSequence)
	require.Equal(t, h.TocChecksum, decoded.TocChecksum)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := New(SizeClass(1 << 20)).Encode()
	copy(buf[offMagic:], "XXXX")
	_, err := Decode(buf)
	require.ErrorIs(t, err, types.ErrBadMagic)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	require.ErrorIs(t, err, types.ErrHeaderCorrupt)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	buf := New(SizeClass(1 << 20)).Encode()
	buf[offVersion] = 0xFF
	_, err := Decode(buf)
	require.ErrorIs(t, err, types.ErrUnsupportedVersion)
}

func TestDecodeRejectsNonZeroReservedRegion(t *testing.T) {
	buf := New(SizeClass(1 << 20)).Encode()
	buf[reservedStart] = 1
	_, err := Decode(buf)
	require.ErrorIs(t, err, types.ErrHeaderCorrupt)
}

func TestDecodeRejectsWrongWalOffset(t *testing.T) {
	buf := New(SizeClass(1 << 20)).Encode()
	badOffset := make([]byte, 8)
	copy(buf[offWalOffset:], badOffset)
	_, err := Decode(buf)
	require.ErrorIs(t, err, types.ErrHeaderCorrupt)
}

func TestSizeClassBuckets(t *testing.T) {
	require.Equal(t, uint64(1<<20), SizeClass(50*1<<20))
	require.Equal(t, uint64(4<<20), SizeClass(500*1<<20))
	require.Equal(t, uint64(16<<20), SizeClass(5*(1<<30)))
	require.Equal(t, uint64(64<<20), SizeClass(20*(1<<30)))
}
