package types

import "fmt"

// Encoding names the compression applied to a frame's on-disk payload.
type Encoding uint8

const (
	EncodingRaw Encoding = iota
	EncodingZstd
	EncodingLZ4
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingZstd:
		return "zstd"
	case EncodingLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// Status is the lifecycle state of a frame.
type Status uint8

const (
	StatusActive Status = iota
	StatusTombstoned
	// StatusCorrupt marks a frame quarantined by doctor after a payload
	// checksum mismatch. It is never returned to ordinary readers.
	StatusCorrupt
)

// Kind governs which tracks index a frame and how it is rendered.
type Kind uint8

const (
	KindContent Kind = iota
	KindQueryTrace
	KindFeedback
	KindAgentLog
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindQueryTrace:
		return "query-trace"
	case KindFeedback:
		return "feedback"
	case KindAgentLog:
		return "agent-log"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FrameID is a monotonically increasing identifier, assigned when Put
// stages the frame.
type FrameID uint64

// Frame is the atomic, in-memory representation of a capsule record. For
// frames held by the vault, Payload is the decoded bytes; frame.UnmarshalRecord
// and the segment packing paths carry the encoded bytes in this field until
// the caller decodes them.
type Frame struct {
	ID        FrameID
	URI       string
	Title     string
	CreatedAt int64 // seconds since epoch
	Encoding  Encoding
	Payload   []byte
	Checksum  [32]byte // blake3-256 of the uncompressed payload
	Tags      map[string]string
	Status    Status
	Kind      Kind
}

// Location names where a frame's record lives once materialised into a data
// segment.
type Location struct {
	FrameID   FrameID
	SegmentID uint32
	Offset    uint32
}
