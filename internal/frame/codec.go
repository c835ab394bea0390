// Package frame encodes and decodes individual capsule frame records: the
// per-frame header (id, uri, title, tags, encoding) plus its compressed
// payload and checksum, as packed inside a data segment.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/DataDog/zstd"
	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// Checksum256 returns the blake3-256 digest of the uncompressed payload; see
// DESIGN.md for why blake3 over stdlib sha256.
func Checksum256(payload []byte) [32]byte {
	return blake3.Sum256(payload)
}

// Encode compresses payload per enc. lz4 favours decode latency on the hot
// read path; zstd favours ratio. Compact re-encodes each frame with its own
// recorded encoding rather than switching it to zstd.
func Encode(enc types.Encoding, payload []byte) ([]byte, error) {
	switch enc {
	case types.EncodingRaw:
		return payload, nil
	case types.EncodingLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 encode: %w", err)
		}
		return buf.Bytes(), nil
	case types.EncodingZstd:
		out, err := zstd.Compress(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("zstd encode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("frame: unknown encoding %v", enc)
	}
}

// Decode reverses Encode.
func Decode(enc types.Encoding, compressed []byte) ([]byte, error) {
	switch enc {
	case types.EncodingRaw:
		return compressed, nil
	case types.EncodingLZ4:
		r := lz4.NewReader(bytes.NewReader(compressed))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("lz4 decode: %w", err)
		}
		return out, nil
	case types.EncodingZstd:
		out, err := zstd.Decompress(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("frame: unknown encoding %v", enc)
	}
}

// Record is the on-disk layout of one frame within a data segment:
//
//	frame_id      u64
//	status        u8
//	kind          u8
//	uri_len       u16, uri bytes
//	title_len     u16, title bytes
//	created_at    i64
//	encoding      u8
//	tag_count     u16, then tag_count * (key_len u16, key, val_len u16, val)
//	payload_len   u32, payload bytes (compressed)
//	checksum      32 bytes (of uncompressed payload)
func MarshalRecord(f *types.Frame) []byte {
	var buf bytes.Buffer
	var u64 [8]byte
	var u32 [4]byte
	var u16 [2]byte

	binary.LittleEndian.PutUint64(u64[:], uint64(f.ID))
	buf.Write(u64[:])
	buf.WriteByte(byte(f.Status))
	buf.WriteByte(byte(f.Kind))

	binary.LittleEndian.PutUint16(u16[:], uint16(len(f.URI)))
	buf.Write(u16[:])
	buf.WriteString(f.URI)

	binary.LittleEndian.PutUint16(u16[:], uint16(len(f.Title)))
	buf.Write(u16[:])
	buf.WriteString(f.Title)

	binary.LittleEndian.PutUint64(u64[:], uint64(f.CreatedAt))
	buf.Write(u64[:])

	buf.WriteByte(byte(f.Encoding))

	keys := make([]string, 0, len(f.Tags))
	for k := range f.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic layout; tag insertion order carries no meaning
	binary.LittleEndian.PutUint16(u16[:], uint16(len(keys)))
	buf.Write(u16[:])
	for _, k := range keys {
		v := f.Tags[k]
		binary.LittleEndian.PutUint16(u16[:], uint16(len(k)))
		buf.Write(u16[:])
		buf.WriteString(k)
		binary.LittleEndian.PutUint16(u16[:], uint16(len(v)))
		buf.Write(u16[:])
		buf.WriteString(v)
	}

	binary.LittleEndian.PutUint32(u32[:], uint32(len(f.Payload)))
	buf.Write(u32[:])
	buf.Write(f.Payload)
	buf.Write(f.Checksum[:])

	return buf.Bytes()
}

// UnmarshalRecord parses a record produced by MarshalRecord. Payload is left
// compressed; callers decode with Decode using the returned Encoding.
func UnmarshalRecord(b []byte) (*types.Frame, int, error) {
	r := bytes.NewReader(b)
	f := &types.Frame{Tags: map[string]string{}}

	var u64 uint64
	var u32 uint32
	var u16 uint16

	if err := binary.Read(r, binary.LittleEndian, &u64); err != nil {
		return nil, 0, fmt.Errorf("%w: frame_id: %v", types.ErrHeaderCorrupt, err)
	}
	f.ID = types.FrameID(u64)

	statusByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	f.Status = types.Status(statusByte)

	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	f.Kind = types.Kind(kindByte)

	if err := binary.Read(r, binary.LittleEndian, &u16); err != nil {
		return nil, 0, err
	}
	uriBuf := make([]byte, u16)
	if _, err := io.ReadFull(r, uriBuf); err != nil {
		return nil, 0, err
	}
	f.URI = string(uriBuf)

	if err := binary.Read(r, binary.LittleEndian, &u16); err != nil {
		return nil, 0, err
	}
	titleBuf := make([]byte, u16)
	if _, err := io.ReadFull(r, titleBuf); err != nil {
		return nil, 0, err
	}
	f.Title = string(titleBuf)

	if err := binary.Read(r, binary.LittleEndian, &u64); err != nil {
		return nil, 0, err
	}
	f.CreatedAt = int64(u64)

	encByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	f.Encoding = types.Encoding(encByte)

	var tagCount uint16
	if err := binary.Read(r, binary.LittleEndian, &tagCount); err != nil {
		return nil, 0, err
	}
	for i := 0; i < int(tagCount); i++ {
		var kl, vl uint16
		if err := binary.Read(r, binary.LittleEndian, &kl); err != nil {
			return nil, 0, err
		}
		kb := make([]byte, kl)
		if _, err := io.ReadFull(r, kb); err != nil {
			return nil, 0, err
		}
		if err := binary.Read(r, binary.LittleEndian, &vl); err != nil {
			return nil, 0, err
		}
		vb := make([]byte, vl)
		if _, err := io.ReadFull(r, vb); err != nil {
			return nil, 0, err
		}
		f.Tags[string(kb)] = string(vb)
	}

	if err := binary.Read(r, binary.LittleEndian, &u32); err != nil {
		return nil, 0, err
	}
	payload := make([]byte, u32)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, err
	}
	f.Payload = payload

	if _, err := io.ReadFull(r, f.Checksum[:]); err != nil {
		return nil, 0, err
	}

	consumed := len(b) - r.Len()
	return f, consumed, nil
}
