package types

// SegmentType identifies the payload format of a segment.
type SegmentType uint8

const (
	SegmentData SegmentType = iota
	SegmentLexIndex
	SegmentVecIndex
	SegmentTimeIndex
	SegmentTOC
)

func (t SegmentType) String() string {
	switch t {
	case SegmentData:
		return "data"
	case SegmentLexIndex:
		return "lex-index"
	case SegmentVecIndex:
		return "vec-index"
	case SegmentTimeIndex:
		return "time-index"
	case SegmentTOC:
		return "toc"
	default:
		return "unknown"
	}
}

// SegmentDescriptor is a TOC entry: everything a reader needs to locate and
// verify a segment without reading it first.
type SegmentDescriptor struct {
	ID       uint32
	Type     SegmentType
	Offset   uint64
	Length   uint64
	Checksum [32]byte
}

// LexManifest describes the schema of a lex-index segment.
type LexManifest struct {
	FieldBoosts map[string]float64
	TotalDocs   uint64
	AvgLength   map[string]float64
}

// VecManifest describes the schema of a vec-index segment.
type VecManifest struct {
	Dimensions int
	Metric     string // "cosine"
	M          int
	EfConstruct int
}

// TimeManifest describes the granularity of a time-index segment.
type TimeManifest struct {
	GranularitySeconds int64
}
