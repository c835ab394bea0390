// Package aethervault implements a single-file, append-only memory capsule:
// a portable, crash-safe, self-describing store combining content, search
// indices, embeddings, query traces and metadata in one binary archive.
//
// Vault is the public handle. It owns the file, the embedded write-ahead
// log, the in-memory frame set, and the lexical/vector/time indices built
// over it, and implements wal.Checkpointer/wal.SequenceSync so the WAL
// package never needs to know about segments, indices, or the header.
package aethervault

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunilkgrao/aethervault/internal/header"
	"github.com/sunilkgrao/aethervault/internal/hooks"
	"github.com/sunilkgrao/aethervault/internal/lex"
	"github.com/sunilkgrao/aethervault/internal/pipeline"
	"github.com/sunilkgrao/aethervault/internal/segment"
	"github.com/sunilkgrao/aethervault/internal/timeindex"
	"github.com/sunilkgrao/aethervault/internal/toc"
	"github.com/sunilkgrao/aethervault/internal/types"
	"github.com/sunilkgrao/aethervault/internal/vec"
	"github.com/sunilkgrao/aethervault/internal/wal"
)

// Mode selects the access level requested by Open.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Vault is a handle on one open capsule file. The zero value is not usable;
// construct with Init or Open.
type Vault struct {
	mu       sync.Mutex // serialises Put/Delete/Commit/admin ops
	f        *os.File
	path     string
	readOnly bool
	closed   bool

	hdr *header.Header

	tocMu sync.RWMutex
	cur   *toc.TOC
	refs  *toc.RefTable

	writeOffset   int64
	nextSegmentID uint32

	w *wal.WAL

	frames        map[types.FrameID]*types.Frame
	pendingFrames []*types.Frame
	nextFrameID   types.FrameID

	lexAnalyzer lex.Analyzer
	lexIdx      *lex.Index
	vecIdx      *vec.Index
	vecDim      int
	timeIdx     *timeindex.Index

	logger  log.Logger
	metrics *metrics

	pipelineCfg pipeline.Config
	expandHook  hooks.Func
	rerankHook  hooks.Func
	embedHook   hooks.Func
}

// Options configures Init.
type Options struct {
	Capacity        int64 // expected eventual file size, for wal_size_class
	WalSizeOverride uint64
	DefaultEncoding types.Encoding
	Logger          log.Logger
	Registerer      prometheus.Registerer
}

// Init creates a new, empty capsule at path. It fails if path already
// exists.
func Init(path string, opts Options) (*Vault, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, &types.IoError{Op: "create", Err: err}
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	walSize := opts.WalSizeOverride
	if walSize == 0 {
		walSize = header.SizeClass(opts.Capacity)
	}
	hdr := header.New(walSize)

	if err := f.Truncate(int64(header.Size) + int64(walSize)); err != nil {
		f.Close()
		return nil, &types.IoError{Op: "truncate", Err: err}
	}

	v := newVault(f, path, false, hdr, opts)
	v.writeOffset = int64(header.Size) + int64(walSize)
	v.cur = &toc.TOC{Revision: 0}
	v.reloadPipelineConfigLocked()

	if err := v.writeTOCAndHeader(v.cur); err != nil {
		f.Close()
		return nil, err
	}

	w, err := wal.Open(f, f, int64(hdr.WalOffset), int64(hdr.WalSize), 0, 0, v, v, wal.Options{
		Logger: v.logger, Registerer: opts.Registerer,
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	v.w = w
	return v, nil
}

// Open opens an existing capsule for reading or writing, running crash
// recovery if the WAL holds entries beyond the last checkpoint.
func Open(path string, mode Mode, opts Options) (*Vault, error) {
	flag := os.O_RDONLY
	if mode == ModeWrite {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, &types.IoError{Op: "open", Err: err}
	}

	if mode == ModeWrite {
		err = lockExclusive(f)
	} else {
		err = lockShared(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	hdrBuf := make([]byte, header.Size)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrHeaderCorrupt, err)
	}
	hdr, err := header.Decode(hdrBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &types.IoError{Op: "stat", Err: err}
	}

	v := newVault(f, path, mode == ModeRead, hdr, opts)
	v.writeOffset = st.Size()

	curTOC, err := v.loadTOC(hdr.FooterOffset, st.Size(), hdr.TocChecksum)
	if err != nil && hdr.FooterOffset == 0 {
		curTOC = &toc.TOC{Revision: 0}
		err = nil
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	v.cur = curTOC

	if err := v.loadFramesFromTOC(); err != nil {
		f.Close()
		return nil, err
	}
	if err := v.loadVecFromTOC(); err != nil {
		f.Close()
		return nil, err
	}
	v.rebuildTransientIndices()
	v.reloadPipelineConfigLocked()
	v.nextSegmentID = maxSegmentID(v.cur.Segments) + 1

	w, err := wal.Open(f, f, int64(hdr.WalOffset), int64(hdr.WalSize), hdr.WalCheckpointPos, hdr.WalSequence, v, v, wal.Options{
		Logger: v.logger, Registerer: opts.Registerer,
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	v.w = w
	return v, nil
}

func newVault(f *os.File, path string, readOnly bool, hdr *header.Header, opts Options) *Vault {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Vault{
		f:           f,
		path:        path,
		readOnly:    readOnly,
		hdr:         hdr,
		refs:        toc.NewRefTable(),
		frames:      map[types.FrameID]*types.Frame{},
		nextFrameID: 1,
		lexAnalyzer: lex.DefaultAnalyzer,
		lexIdx:      lex.NewIndex(lex.DefaultAnalyzer, nil),
		timeIdx:     timeindex.New(),
		logger:      logger,
		metrics:     newMetrics(opts.Registerer),
		pipelineCfg: pipeline.DefaultConfig(),
	}
}

func (v *Vault) loadTOC(footerOffset uint64, fileSize int64, checksum [32]byte) (*toc.TOC, error) {
	if footerOffset == 0 {
		return nil, fmt.Errorf("%w: no footer recorded", types.ErrTocMismatch)
	}
	length := fileSize - int64(footerOffset)
	if length <= 0 {
		return nil, fmt.Errorf("%w: footer_offset past end of file", types.ErrTocMismatch)
	}
	_, body, err := segment.ReadAt(v.f, int64(footerOffset), length)
	if err != nil {
		return nil, err
	}
	if !toc.VerifyChecksum(body, checksum) {
		return nil, types.ErrTocMismatch
	}
	return toc.Decode(body)
}

func (v *Vault) loadFramesFromTOC() error {
	for _, d := range v.cur.DataSegments() {
		_, body, err := segment.ReadAt(v.f, int64(d.Offset), int64(d.Length))
		if err != nil {
			return err
		}
		frames, err := segment.UnpackFrames(body)
		if err != nil {
			return err
		}
		for _, f := range frames {
			v.frames[f.ID] = f
			if f.ID >= v.nextFrameID {
				v.nextFrameID = f.ID + 1
			}
		}
	}
	return nil
}

func (v *Vault) loadVecFromTOC() error {
	d, ok := v.cur.SegmentByType(types.SegmentVecIndex)
	if !ok || v.cur.Vec == nil {
		return nil
	}
	_, body, err := segment.ReadAt(v.f, int64(d.Offset), int64(d.Length))
	if err != nil {
		return err
	}
	idx, err := vec.Decode(body, 0)
	if err != nil {
		return err
	}
	v.vecIdx = idx
	v.vecDim = v.cur.Vec.Dimensions
	return nil
}

// rebuildTransientIndices rebuilds the lex and time indices from the loaded
// frame set. They are never persisted in full (spec.md §4.4 explicitly
// allows full rebuilds); only their manifests are written to segments.
func (v *Vault) rebuildTransientIndices() {
	ids := make([]types.FrameID, 0, len(v.frames))
	for id := range v.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	boosts := lex.DefaultBoosts()
	if v.cur.Lex.FieldBoosts != nil {
		boosts = v.cur.Lex.FieldBoosts
	}
	v.lexIdx = lex.NewIndex(v.lexAnalyzer, boosts)
	v.timeIdx = timeindex.New()
	for _, id := range ids {
		f := v.frames[id]
		v.lexIdx.Add(f)
		if f.Status == types.StatusActive {
			v.timeIdx = v.timeIdx.Insert(f.CreatedAt, types.Location{FrameID: f.ID})
		}
	}
}

// reloadPipelineConfigLocked re-resolves v.pipelineCfg from the active frame
// at aethervault://config/index, if any, falling back to pipeline.DefaultConfig
// for missing or malformed values. Callers must hold v.tocMu for writing.
func (v *Vault) reloadPipelineConfigLocked() {
	cfg := pipeline.DefaultConfig()
	if id, ok := v.lexIdx.FrameByURI(types.Build(types.SchemeVault, "config", "index")); ok {
		if f, ok := v.frames[id]; ok && f.Status == types.StatusActive {
			if err := json.Unmarshal(f.Payload, &cfg); err != nil {
				level.Warn(v.logger).Log("msg", "ignoring malformed index config", "err", err)
				cfg = pipeline.DefaultConfig()
			}
		}
	}
	v.pipelineCfg = cfg
}

// reloadPipelineConfig is reloadPipelineConfigLocked for callers that don't
// already hold v.tocMu, such as ConfigSet.
func (v *Vault) reloadPipelineConfig() {
	v.tocMu.Lock()
	defer v.tocMu.Unlock()
	v.reloadPipelineConfigLocked()
}

func maxSegmentID(segs []types.SegmentDescriptor) uint32 {
	var max uint32
	for _, s := range segs {
		if s.ID > max {
			max = s.ID
		}
	}
	return max
}

// Close flushes any pending commit, releases the file lock, and closes the
// underlying file.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true

	if len(v.pendingFrames) > 0 || v.w != nil {
		if err := v.commitLocked(); err != nil {
			level.Error(v.logger).Log("msg", "implicit commit on close failed", "err", err)
		}
	}
	if v.w != nil {
		_ = v.w.Close()
	}
	_ = unlockFile(v.f)
	return v.f.Close()
}

// Status reports counts, sizes, WAL state, and TOC revision.
type Status struct {
	FrameCount       int
	TombstoneCount   int
	TrackCounts      map[string]int
	WalSequence      uint64
	WalCheckpointPos uint64
	WalOccupancy     float64
	TocRevision      uint64
	SegmentCount     int
}

// Status reports the capsule's current counts, sizes and WAL/TOC state.
func (v *Vault) Status() Status {
	v.tocMu.RLock()
	defer v.tocMu.RUnlock()

	s := Status{TrackCounts: map[string]int{}}
	for _, f := range v.frames {
		if f.Status == types.StatusTombstoned {
			s.TombstoneCount++
			continue
		}
		s.FrameCount++
		parsed, err := types.Parse(f.URI)
		if err == nil {
			s.TrackCounts[parsed.Track()]++
		}
	}
	if v.w != nil {
		ws := v.w.Status()
		s.WalSequence = ws.Sequence
		s.WalCheckpointPos = ws.CheckpointPos
		s.WalOccupancy = ws.OccupancyRatio
		v.metrics.walOccupancy.Set(ws.OccupancyRatio)
	}
	if v.vecIdx != nil {
		v.metrics.vecGraphNodes.Set(float64(v.vecIdx.Len()))
	}
	s.TocRevision = v.cur.Revision
	s.SegmentCount = len(v.cur.Segments)
	return s
}
