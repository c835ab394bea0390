// Package maintenance implements integrity verification (doctor) and
// compaction over an already-open capsule's segment set.
package maintenance

import (
	"fmt"
	"io"

	"github.com/sunilkgrao/aethervault/internal/frame"
	"github.com/sunilkgrao/aethervault/internal/lex"
	"github.com/sunilkgrao/aethervault/internal/segment"
	"github.com/sunilkgrao/aethervault/internal/toc"
	"github.com/sunilkgrao/aethervault/internal/types"
)

// DoctorOptions selects which repairs doctor records in Report.Repaired,
// independent of whether it also does a deep payload-checksum pass.
type DoctorOptions struct {
	Deep        bool
	DryRun      bool
	Vacuum      bool
	RebuildLex  bool
	RebuildVec  bool
	RebuildTime bool
}

// SegmentIssue names one segment that failed verification.
type SegmentIssue struct {
	SegmentID uint32
	Type      types.SegmentType
	Err       error
}

// Report is doctor's findings. Repaired lists the names of the repair
// options requested outside dry-run mode; no rebuild or vacuum is performed
// for them.
type Report struct {
	TocChecksumOK  bool
	SegmentIssues  []SegmentIssue
	PayloadIssues  []types.FrameID
	OrphanLexRefs  []types.FrameID
	OrphanVecRefs  []types.FrameID
	OrphanTimeRefs []types.FrameID
	Repaired       []string
}

// Run verifies t against the segments stored in ra (the capsule's full
// file). It does not rebuild indices or vacuum: unless opts.DryRun is set,
// it appends the name of each requested repair option to Repaired.
func Run(ra io.ReaderAt, t *toc.TOC, tocBody []byte, tocChecksum [32]byte, opts DoctorOptions) (*Report, error) {
	rep := &Report{TocChecksumOK: toc.VerifyChecksum(tocBody, tocChecksum)}

	liveFrames := map[types.FrameID]bool{}
	for _, d := range t.DataSegments() {
		h, body, err := segment.ReadAt(ra, int64(d.Offset), int64(d.Length))
		if err != nil {
			rep.SegmentIssues = append(rep.SegmentIssues, SegmentIssue{SegmentID: d.ID, Type: d.Type, Err: err})
			continue
		}
		frames, err := segment.UnpackFrames(body)
		if err != nil {
			rep.SegmentIssues = append(rep.SegmentIssues, SegmentIssue{SegmentID: d.ID, Type: h.Type, Err: err})
		}
		for _, f := range frames {
			liveFrames[f.ID] = true
			if opts.Deep && f.Status == types.StatusActive {
				payload, err := frame.Decode(f.Encoding, f.Payload)
				if err != nil || frame.Checksum256(payload) != f.Checksum {
					rep.PayloadIssues = append(rep.PayloadIssues, f.ID)
				}
			}
		}
	}

	if opts.Vacuum && !opts.DryRun {
		rep.Repaired = append(rep.Repaired, "vacuum")
	}
	if opts.RebuildLex && !opts.DryRun {
		rep.Repaired = append(rep.Repaired, "rebuild-lex")
	}
	if opts.RebuildVec && !opts.DryRun {
		rep.Repaired = append(rep.Repaired, "rebuild-vec")
	}
	if opts.RebuildTime && !opts.DryRun {
		rep.Repaired = append(rep.Repaired, "rebuild-time")
	}
	return rep, nil
}

// CheckOrphans cross-references a lex index's indexed frame IDs against the
// set of frame IDs actually present in data segments, reporting any index
// reference to a frame that no longer exists.
func CheckOrphans(idx *lex.Index, live map[types.FrameID]bool) []types.FrameID {
	var orphans []types.FrameID
	for _, uri := range idx.URIs() {
		id, ok := idx.FrameByURI(uri)
		if ok && !live[id] {
			orphans = append(orphans, id)
		}
	}
	return orphans
}

func (r *Report) String() string {
	return fmt.Sprintf("toc_ok=%v segment_issues=%d payload_issues=%d repaired=%v",
		r.TocChecksumOK, len(r.SegmentIssues), len(r.PayloadIssues), r.Repaired)
}
