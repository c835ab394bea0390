package aethervault

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log/level"

	"github.com/sunilkgrao/aethervault/internal/frame"
	"github.com/sunilkgrao/aethervault/internal/lex"
	"github.com/sunilkgrao/aethervault/internal/segment"
	"github.com/sunilkgrao/aethervault/internal/toc"
	"github.com/sunilkgrao/aethervault/internal/types"
)

func nowUnix() int64 { return time.Now().Unix() }

// PutOptions configures Put. Zero value is a content frame with raw
// encoding and no title/tags.
type PutOptions struct {
	Title    string
	Tags     map[string]string
	Encoding types.Encoding
	Kind     types.Kind
}

// Put stages a new frame for the next Commit, returning its assigned
// frame_id. The frame is not durable until Commit succeeds.
func (v *Vault) Put(uri string, payload []byte, opts PutOptions) (types.FrameID, error) {
	if v.readOnly {
		return 0, types.ErrReadOnly
	}
	if _, err := types.Parse(uri); err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	f := &types.Frame{
		ID:        v.nextFrameID,
		URI:       uri,
		Title:     opts.Title,
		CreatedAt: nowUnix(),
		Encoding:  opts.Encoding,
		Payload:   payload,
		Checksum:  frame.Checksum256(payload),
		Tags:      opts.Tags,
		Status:    types.StatusActive,
		Kind:      opts.Kind,
	}
	v.nextFrameID++

	seq, err := v.appendFrameEntry(f, types.EntryFrameAppend)
	if err != nil {
		return 0, err
	}
	_ = seq
	v.pendingFrames = append(v.pendingFrames, f)
	v.metrics.appends.Inc()
	return f.ID, nil
}

// Delete tombstones the frame currently active at uri. It is a no-op
// success if uri has no active frame.
func (v *Vault) Delete(uri string) error {
	if v.readOnly {
		return types.ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	id, ok := v.lexIdx.FrameByURI(uri)
	if !ok {
		return nil
	}
	existing, ok := v.frames[id]
	if !ok || existing.Status != types.StatusActive {
		return nil
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(id))
	if _, err := v.w.Append(types.EntryFrameDelete, payload); err != nil {
		return err
	}

	tomb := *existing
	tomb.Status = types.StatusTombstoned
	v.pendingFrames = append(v.pendingFrames, &tomb)
	v.metrics.appends.Inc()
	return nil
}

func (v *Vault) appendFrameEntry(f *types.Frame, typ types.EntryType) (uint64, error) {
	return v.w.Append(typ, frame.MarshalRecord(f))
}

// Commit durably writes every staged Put/Delete and applies it to the
// in-memory frame set and lexical/time indices.
func (v *Vault) Commit() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commitLocked()
}

func (v *Vault) commitLocked() error {
	if err := v.w.Commit(); err != nil {
		return err
	}
	// v.frames/lexIdx/timeIdx are read by Get/Search/Status under tocMu's
	// read lock; Checkpoint mutates the same structures under its write
	// lock, so ordinary commits must too.
	v.tocMu.Lock()
	for _, f := range v.pendingFrames {
		v.applyFrame(f)
	}
	v.tocMu.Unlock()
	v.pendingFrames = nil
	v.metrics.commits.Inc()
	return nil
}

// applyFrame folds one durable frame mutation into the in-memory state.
// Callers must hold v.tocMu for writing.
func (v *Vault) applyFrame(f *types.Frame) {
	v.frames[f.ID] = f
	if f.ID >= v.nextFrameID {
		v.nextFrameID = f.ID + 1
	}
	if f.Status == types.StatusActive {
		v.lexIdx.Add(f)
		v.timeIdx = v.timeIdx.Insert(f.CreatedAt, types.Location{FrameID: f.ID})
	} else {
		v.lexIdx.Remove(f.ID)
		v.metrics.tombstoned.Inc()
	}
}

// Checkpoint implements wal.Checkpointer. It materialises every pending WAL
// entry into fresh data/vec segments, rebuilds the lex/time manifests, and
// atomically swaps in a new TOC and header.
func (v *Vault) Checkpoint(pending []types.Entry, afterSeq uint64) (uint64, error) {
	v.tocMu.Lock()
	defer v.tocMu.Unlock()

	if len(pending) == 0 {
		return afterSeq, nil
	}
	timer := v.metrics.newCheckpointTimer()
	defer timer.ObserveDuration()

	var newFrames []*types.Frame
	through := afterSeq
	for _, e := range pending {
		switch e.Type {
		case types.EntryFrameAppend, types.EntryFrameUpdate:
			f, _, err := frame.UnmarshalRecord(e.Payload)
			if err != nil {
				return through, fmt.Errorf("checkpoint: decode frame entry: %w", err)
			}
			decoded, err := frame.Decode(f.Encoding, f.Payload)
			if err != nil {
				return through, fmt.Errorf("checkpoint: decode payload: %w", err)
			}
			f.Payload = decoded
			if _, exists := v.frames[f.ID]; !exists {
				v.applyFrame(f)
			}
			newFrames = append(newFrames, f)
		case types.EntryFrameDelete:
			if len(e.Payload) < 8 {
				return through, fmt.Errorf("checkpoint: short delete payload")
			}
			id := types.FrameID(binary.LittleEndian.Uint64(e.Payload))
			if existing, ok := v.frames[id]; ok && existing.Status == types.StatusActive {
				tomb := *existing
				tomb.Status = types.StatusTombstoned
				v.applyFrame(&tomb)
				// Segments are additive-only; the tombstone must be written out
				// as a fresh record so a later plain Open (no WAL replay) sees
				// it rather than re-reading the frame's last Active bytes.
				newFrames = append(newFrames, &tomb)
			}
		case types.EntryIndexUpdate:
			id, vector, err := decodeIndexUpdate(e.Payload)
			if err == nil && v.vecIdx != nil {
				_ = v.vecIdx.EmbedFrame(id, vector)
			}
		}
		through = e.Sequence
	}

	if err := v.materializeCheckpoint(newFrames); err != nil {
		return through, err
	}
	v.metrics.checkpoints.Inc()
	return through, nil
}

// materializeCheckpoint writes a new data segment for newFrames (if any), a
// fresh vec-index segment (if embeddings exist), manifest-only lex/time
// segments, and a new TOC footer, then fsyncs the header.
func (v *Vault) materializeCheckpoint(newFrames []*types.Frame) error {
	var segments []types.SegmentDescriptor
	for _, d := range v.cur.Segments {
		if d.Type == types.SegmentData {
			segments = append(segments, d)
		}
	}

	if len(newFrames) > 0 {
		onDisk := make([]*types.Frame, len(newFrames))
		for i, f := range newFrames {
			cp := *f
			compressed, err := frame.Encode(f.Encoding, f.Payload)
			if err != nil {
				return err
			}
			cp.Payload = compressed
			onDisk[i] = &cp
		}
		body, _ := segment.PackFrames(onDisk)
		desc, err := v.writeSegment(types.SegmentData, uint32(len(onDisk)), body)
		if err != nil {
			return err
		}
		segments = append(segments, desc)
	}

	totalDocs, avgLen := v.lexIdx.Stats()
	lexManifest := types.LexManifest{FieldBoosts: lex.DefaultBoosts(), TotalDocs: uint64(totalDocs), AvgLength: avgLen}
	lexBody, err := json.Marshal(lexManifest)
	if err != nil {
		return err
	}
	lexDesc, err := v.writeSegment(types.SegmentLexIndex, 0, lexBody)
	if err != nil {
		return err
	}
	segments = append(segments, lexDesc)

	timeManifest := types.TimeManifest{GranularitySeconds: 1}
	timeBody, err := json.Marshal(timeManifest)
	if err != nil {
		return err
	}
	timeDesc, err := v.writeSegment(types.SegmentTimeIndex, 0, timeBody)
	if err != nil {
		return err
	}
	segments = append(segments, timeDesc)

	var vecManifest *types.VecManifest
	if v.vecIdx != nil {
		vecBody, err := v.vecIdx.Encode()
		if err != nil {
			return err
		}
		vecDesc, err := v.writeSegment(types.SegmentVecIndex, uint32(v.vecIdx.Len()), vecBody)
		if err != nil {
			return err
		}
		segments = append(segments, vecDesc)
		vecManifest = &types.VecManifest{Dimensions: v.vecDim, Metric: "cosine"}
	}

	next := &toc.TOC{
		Revision:          v.cur.Revision + 1,
		Segments:          segments,
		Lex:               lexManifest,
		Vec:               vecManifest,
		Time:              timeManifest,
		PriorFooterOffset: v.hdr.FooterOffset,
	}
	return v.writeTOCAndHeader(next)
}

func (v *Vault) writeSegment(typ types.SegmentType, count uint32, body []byte) (types.SegmentDescriptor, error) {
	offset := v.writeOffset
	n, err := segment.Write(v.f, segment.Header{Type: typ, FrameCount: count}, body)
	if err != nil {
		return types.SegmentDescriptor{}, err
	}
	v.writeOffset += n
	id := v.nextSegmentID
	v.nextSegmentID++
	return types.SegmentDescriptor{ID: id, Type: typ, Offset: uint64(offset), Length: uint64(n), Checksum: toc.Checksum256(body)}, nil
}

// writeTOCAndHeader appends next's encoded form as the new footer segment,
// fsyncs it, then fsyncs a header pointing at it. The old footer remains
// addressable via PriorFooterOffset until retired.
func (v *Vault) writeTOCAndHeader(next *toc.TOC) error {
	body, err := next.Encode()
	if err != nil {
		return err
	}
	offset := v.writeOffset
	n, err := segment.Write(v.f, segment.Header{Type: types.SegmentTOC}, body)
	if err != nil {
		return err
	}
	v.writeOffset += n
	if err := v.f.Sync(); err != nil {
		return &types.IoError{Op: "fsync toc", Err: err}
	}

	v.hdr.FooterOffset = uint64(offset)
	v.hdr.TocChecksum = toc.Checksum256(body)
	if v.w != nil {
		ws := v.w.Status()
		v.hdr.WalCheckpointPos = ws.CheckpointPos
		v.hdr.WalSequence = ws.Sequence
	}
	if _, err := v.f.WriteAt(v.hdr.Encode(), 0); err != nil {
		return &types.IoError{Op: "write header", Err: err}
	}
	if err := v.f.Sync(); err != nil {
		return &types.IoError{Op: "fsync header", Err: err}
	}

	old := v.cur
	oldRevision := uint64(0)
	if old != nil {
		oldRevision = old.Revision
	}
	v.cur = next
	if old != nil {
		v.refs.RetireWhenUnreferenced(oldRevision, func() {
			level.Debug(v.logger).Log("msg", "retired toc revision", "revision", oldRevision)
		})
	}
	return nil
}

// SyncSequence implements wal.SequenceSync.
func (v *Vault) SyncSequence(seq uint64) error {
	v.hdr.WalSequence = seq
	if _, err := v.f.WriteAt(v.hdr.Encode(), 0); err != nil {
		return &types.IoError{Op: "sync sequence", Err: err}
	}
	return v.f.Sync()
}
