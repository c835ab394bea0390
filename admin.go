package aethervault

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sunilkgrao/aethervault/internal/diffmerge"
	"github.com/sunilkgrao/aethervault/internal/frame"
	"github.com/sunilkgrao/aethervault/internal/header"
	"github.com/sunilkgrao/aethervault/internal/maintenance"
	"github.com/sunilkgrao/aethervault/internal/segment"
	"github.com/sunilkgrao/aethervault/internal/toc"
	"github.com/sunilkgrao/aethervault/internal/types"
)

// AllFrames implements diffmerge.Snapshot.
func (v *Vault) AllFrames() []*types.Frame {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()
	out := make([]*types.Frame, 0, len(v.frames))
	for _, f := range v.frames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MaxFrameID implements diffmerge.Snapshot.
func (v *Vault) MaxFrameID() types.FrameID {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()
	var max types.FrameID
	for id := range v.frames {
		if id > max {
			max = id
		}
	}
	return max
}

// ConfigPairs implements diffmerge.Snapshot.
func (v *Vault) ConfigPairs() map[string]string {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()
	out := map[string]string{}
	prefix := types.Build(types.SchemeVault, "config", "")
	for _, f := range v.frames {
		if f.Status != types.StatusActive || f.Kind != types.KindConfig {
			continue
		}
		if len(f.URI) >= len(prefix) && f.URI[:len(prefix)] == prefix {
			out[f.URI] = string(f.Payload)
		}
	}
	return out
}

// Diff computes the set-theoretic difference between v and other.
func (v *Vault) Diff(other *Vault) diffmerge.Diff {
	return diffmerge.Compute(v, other)
}

// Merge computes v and other's three-way merge and writes the active frames
// of the resulting frame set into a freshly initialised capsule at outPath,
// where Put assigns them new frame_ids. Tombstoned frames, including the
// superseded conflict revisions, are not written to outPath.
func (v *Vault) Merge(other *Vault, outPath string, force bool) (diffmerge.MergeResult, error) {
	result := diffmerge.Merge(v, other, force)

	out, err := Init(outPath, Options{Logger: v.logger})
	if err != nil {
		return result, err
	}
	defer out.Close()

	for _, f := range result.Frames {
		if f.Status != types.StatusActive {
			continue
		}
		if _, err := out.Put(f.URI, f.Payload, PutOptions{Title: f.Title, Tags: f.Tags, Encoding: f.Encoding, Kind: f.Kind}); err != nil {
			return result, fmt.Errorf("aethervault: merge write %s: %w", f.URI, err)
		}
	}
	if err := out.Commit(); err != nil {
		return result, err
	}
	return result, nil
}

// Doctor verifies the capsule's on-disk integrity and marks frames whose
// payload checksum fails as corrupt. It does not rebuild indices or vacuum;
// requested repairs are only named in Report.Repaired (see maintenance.Run).
func (v *Vault) Doctor(opts maintenance.DoctorOptions) (*maintenance.Report, error) {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()

	tocBody, err := v.cur.Encode()
	if err != nil {
		return nil, err
	}
	report, err := maintenance.Run(v.f, v.cur, tocBody, v.hdr.TocChecksum, opts)
	if err != nil {
		return nil, err
	}

	live := map[types.FrameID]bool{}
	for id, f := range v.frames {
		if f.Status == types.StatusActive {
			live[id] = true
		}
	}
	report.OrphanLexRefs = maintenance.CheckOrphans(v.lexIdx, live)

	for _, id := range report.PayloadIssues {
		if f, ok := v.frames[id]; ok {
			f.Status = types.StatusCorrupt
			v.metrics.corrupt.Inc()
		}
	}
	return report, nil
}

// CompactResult reports what a Compact run did or, under dry_run, would do.
type CompactResult struct {
	maintenance.CompactPlan
	Applied bool
}

// Compact repacks every live frame into a fresh capsule file and atomically
// replaces the current one, dropping tombstones and superseded revisions.
// Under dryRun it only reports the plan.
func (v *Vault) Compact(dryRun bool) (CompactResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	all := make([]*types.Frame, 0, len(v.frames))
	for _, f := range v.frames {
		all = append(all, f)
	}
	plan := maintenance.PlanCompact(all)
	if dryRun {
		return CompactResult{CompactPlan: plan}, nil
	}

	content, err := v.buildCapsuleBytes(plan.LiveFrames)
	if err != nil {
		return CompactResult{CompactPlan: plan}, err
	}
	if err := maintenance.WriteAtomic(v.path, content); err != nil {
		return CompactResult{CompactPlan: plan}, err
	}
	v.metrics.compactions.Inc()

	if err := v.reopenLocked(); err != nil {
		return CompactResult{CompactPlan: plan}, err
	}
	return CompactResult{CompactPlan: plan, Applied: true}, nil
}

// buildCapsuleBytes assembles a complete capsule file: header, an empty WAL
// region sized to match the current one, a single data segment holding
// liveFrames, and a footer TOC.
func (v *Vault) buildCapsuleBytes(liveFrames []*types.Frame) ([]byte, error) {
	var buf bytes.Buffer
	hdr := header.New(v.hdr.WalSize)
	buf.Write(make([]byte, header.Size+int(v.hdr.WalSize)))

	onDisk := make([]*types.Frame, len(liveFrames))
	for i, f := range liveFrames {
		cp := *f
		compressed, err := frame.Encode(f.Encoding, f.Payload)
		if err != nil {
			return nil, err
		}
		cp.Payload = compressed
		onDisk[i] = &cp
	}
	body, _ := segment.PackFrames(onDisk)

	dataOffset := int64(buf.Len())
	dataN, err := segment.Write(&buf, segment.Header{Type: types.SegmentData, FrameCount: uint32(len(onDisk))}, body)
	if err != nil {
		return nil, err
	}

	next := &toc.TOC{
		Revision: v.cur.Revision + 1,
		Segments: []types.SegmentDescriptor{{
			ID: 1, Type: types.SegmentData, Offset: uint64(dataOffset), Length: uint64(dataN),
			Checksum: toc.Checksum256(body),
		}},
	}
	tocBody, err := next.Encode()
	if err != nil {
		return nil, err
	}
	footerOffset := int64(buf.Len())
	if _, err := segment.Write(&buf, segment.Header{Type: types.SegmentTOC}, tocBody); err != nil {
		return nil, err
	}

	hdr.FooterOffset = uint64(footerOffset)
	hdr.TocChecksum = toc.Checksum256(tocBody)
	out := buf.Bytes()
	copy(out[0:header.Size], hdr.Encode())
	return out, nil
}

// reopenLocked re-reads the capsule from disk after an external rewrite
// (compact). Callers must hold v.mu.
func (v *Vault) reopenLocked() error {
	path := v.path
	readOnly := v.readOnly
	logger := v.logger

	if v.w != nil {
		_ = v.w.Close()
	}
	_ = unlockFile(v.f)
	_ = v.f.Close()

	mode := ModeWrite
	if readOnly {
		mode = ModeRead
	}
	fresh, err := Open(path, mode, Options{Logger: logger})
	if err != nil {
		return err
	}
	// Field-by-field, never *v = *fresh: v.mu and v.tocMu are held/used by the
	// caller and must not be overwritten by fresh's zero-value locks.
	v.f = fresh.f
	v.hdr = fresh.hdr
	v.cur = fresh.cur
	v.refs = fresh.refs
	v.writeOffset = fresh.writeOffset
	v.nextSegmentID = fresh.nextSegmentID
	v.w = fresh.w
	v.frames = fresh.frames
	v.pendingFrames = fresh.pendingFrames
	v.nextFrameID = fresh.nextFrameID
	v.lexIdx = fresh.lexIdx
	v.vecIdx = fresh.vecIdx
	v.vecDim = fresh.vecDim
	v.timeIdx = fresh.timeIdx
	v.pipelineCfg = fresh.pipelineCfg
	return nil
}
