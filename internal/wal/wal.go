// Package wal implements an embedded write-ahead log: a bounded, circular,
// checksummed mutation log occupying a fixed byte region of a larger file.
//
// A single writer serialises appends and commits under a mutex, while an
// immutable state snapshot is swapped under atomic.Value so readers of
// Status never block on a writer. Rather than rotating whole segment files
// on seal, this WAL checkpoints the same in-place circular region once
// occupancy or commit-count thresholds are crossed, materialising durable
// entries out through a Checkpointer. That checkpoint runs in-line, inside
// the Commit call that crossed the threshold, before Commit returns.
package wal

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// CheckpointThresholdRatio is the occupancy (relative to region size) at
// which an in-line checkpoint is forced before further appends.
const CheckpointThresholdRatio = 0.75

// CheckpointEveryCommits forces a checkpoint after this many successful
// commits even if occupancy never crosses the ratio threshold.
const CheckpointEveryCommits = 1000

// MaxEntryPayload bounds a single WAL entry's payload, guarding recovery's
// speculative header reads against a corrupt length field.
const MaxEntryPayload = 32 << 20

// Checkpointer materialises durable WAL entries into data/index segments and
// a new TOC, then fsyncs the header with the bumped wal_checkpoint_pos,
// toc_checksum and footer_offset. It is implemented by the vault layer; this
// package never touches segment/toc/header directly so it stays a pure log.
type Checkpointer interface {
	// Checkpoint materialises pending (sequence in (afterSeq, ...]) and
	// returns the highest sequence actually checkpointed (normally the last
	// element's sequence) once the new header is durably fsynced.
	Checkpoint(pending []types.Entry, afterSeq uint64) (checkpointedThrough uint64, err error)
}

// SequenceSync durably records the newly committed wal_sequence in the
// header. Commit() does not return success until this completes.
type SequenceSync interface {
	SyncSequence(seq uint64) error
}

// Options configures a WAL instance.
type Options struct {
	Logger    log.Logger
	Registerer prometheus.Registerer
}

type state struct {
	writePos    int64  // next free relative byte offset in the region
	sequence    uint64 // last durably committed sequence
	checkpointPos uint64
	commitsSinceCheckpoint int
	bytesSinceCheckpoint   int64
}

// WAL is an embedded circular mutation log over a fixed byte region.
type WAL struct {
	closed uint32

	region *region
	logger log.Logger
	metrics *metrics

	checkpointer Checkpointer
	seqSync      SequenceSync

	writeMu sync.Mutex
	s       atomic.Value // *state

	// pending holds entries appended but not yet committed; writeMu guards it.
	pending []types.Entry
}

// Open recovers (if necessary) and returns a ready-to-use WAL bound to the
// region [base, base+size) of the file backing rw/wr. checkpointPos and
// sequence come from the capsule header as last durably recorded.
//
// Recovery scans entries from checkpointPos+1 forward; any whose sequence
// exceeds the header's last-synced sequence, or whose CRC fails, or whose
// sequence breaks contiguity, end the scan — those bytes are torn writes and
// are simply overwritten by future appends. The recovered contiguous run is
// handed to cp.Checkpoint immediately so the on-disk table of contents
// catches up before Open returns.
func Open(rw io.ReaderAt, wr writerAt, base, size int64, checkpointPos, sequence uint64, cp Checkpointer, seqSync SequenceSync, opts Options) (*WAL, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	w := &WAL{
		region:       newRegion(rw, wr, base, size),
		logger:       logger,
		metrics:      newMetrics(opts.Registerer),
		checkpointer: cp,
		seqSync:      seqSync,
	}

	recovered, writePos, err := w.recover(checkpointPos, sequence)
	if err != nil {
		return nil, err
	}

	st := &state{
		writePos:      writePos,
		sequence:      sequence,
		checkpointPos: checkpointPos,
	}
	if len(recovered) > 0 {
		st.sequence = recovered[len(recovered)-1].Sequence
	}
	w.s.Store(st)

	if len(recovered) > 0 || checkpointPos < st.sequence {
		through, err := cp.Checkpoint(recovered, checkpointPos)
		if err != nil {
			return nil, fmt.Errorf("aethervault: recovery checkpoint: %w", err)
		}
		st2 := w.clone()
		st2.checkpointPos = through
		st2.commitsSinceCheckpoint = 0
		st2.bytesSinceCheckpoint = 0
		w.s.Store(st2)
	}

	return w, nil
}

func (w *WAL) clone() *state {
	cur := w.loadState()
	cp := *cur
	return &cp
}

func (w *WAL) loadState() *state {
	return w.s.Load().(*state)
}

// recover scans the region for the contiguous, CRC-valid, sequence-ordered
// run of entries starting at checkpointPos+1 and bounded above by sequence
// (the last durably synced sequence per the header — anything with a higher
// sequence number, even if its bytes happen to checksum cleanly, is a torn
// write that raced the header fsync and must not be replayed). It returns
// that run and the relative offset recovery leaves as the resume write
// cursor.
//
// The scan walks the circular region up to twice: once from offset 0 to
// size, and — if it reaches the end still looking for more of the expected
// run — once more from 0, to account for a write cursor that wrapped since
// the last checkpoint.
func (w *WAL) recover(checkpointPos, sequence uint64) ([]types.Entry, int64, error) {
	var entries []types.Entry
	expected := checkpointPos + 1
	pos := int64(0)

	for pass := 0; pass < 2; pass++ {
		for pos+entryHeaderLen+entryChecksumLen <= w.region.size {
			hdr := make([]byte, entryHeaderLen)
			if err := w.region.readAt(hdr, pos); err != nil {
				break
			}
			seq, typ, payloadLen, ok := decodeEntryHeader(hdr)
			if !ok || payloadLen > MaxEntryPayload {
				break
			}
			frameLen := int64(entryHeaderLen) + int64(payloadLen) + entryChecksumLen
			if pos+frameLen > w.region.size {
				break
			}
			full := make([]byte, frameLen)
			if err := w.region.readAt(full, pos); err != nil {
				break
			}
			if !verifyEntry(full) {
				break
			}
			if typ == types.EntryNoop {
				pos += frameLen
				continue
			}
			if seq < expected && len(entries) == 0 {
				// Already checkpointed: the run starts further on.
				pos += frameLen
				continue
			}
			if seq != expected || seq > sequence {
				break
			}
			entries = append(entries, types.Entry{
				Sequence: seq,
				Type:     typ,
				Payload:  append([]byte(nil), full[entryHeaderLen:entryHeaderLen+int64(payloadLen)]...),
			})
			expected++
			pos += frameLen
		}
		if expected-1 >= sequence {
			break
		}
		if pos < w.region.size {
			// Stopped mid-region without reaching sequence: a real gap, not a
			// wrap boundary. Further scanning won't help.
			break
		}
		pos = 0
	}

	return entries, pos % max64(w.region.size, 1), nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (w *WAL) checkClosed() error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return types.ErrClosed
	}
	return nil
}

// Append stages a single entry for the next Commit. It does not persist
// anything by itself; it only reserves the next sequence number. Commit is
// what makes the entry durable.
func (w *WAL) Append(typ types.EntryType, payload []byte) (uint64, error) {
	if err := w.checkClosed(); err != nil {
		return 0, err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	st := w.loadState()
	seq := st.sequence + uint64(len(w.pending)) + 1
	w.pending = append(w.pending, types.Entry{Sequence: seq, Type: typ, Payload: payload})
	return seq, nil
}

// Commit durably writes every entry staged since the last Commit: it writes
// each entry's bytes (inserting a noop pad if the next entry would straddle
// the wrap point), fsyncs the underlying storage, and advances wal_sequence
// in the header (itself fsynced) before returning. Calling Commit with
// nothing staged is a no-op success, so repeated calls are idempotent.
func (w *WAL) Commit() error {
	if err := w.checkClosed(); err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}

	st := w.clone()
	for _, e := range w.pending {
		size := entrySize(e)
		if w.region.remaining(st.writePos) < size {
			if err := w.writeNoopPad(st); err != nil {
				return &types.CommitFailedError{Reason: err}
			}
		}
		if err := w.region.writeAt(encodeEntry(e), st.writePos); err != nil {
			return &types.CommitFailedError{Reason: err}
		}
		st.writePos += size
		st.sequence = e.Sequence
		st.bytesSinceCheckpoint += size
	}
	st.commitsSinceCheckpoint++

	if err := w.seqSync.SyncSequence(st.sequence); err != nil {
		return &types.CommitFailedError{Reason: err}
	}

	committed := w.pending
	w.pending = nil
	w.s.Store(st)
	w.metrics.commits.Inc()
	w.metrics.entriesWritten.Add(float64(len(committed)))

	if w.shouldCheckpoint(st) {
		if err := w.runCheckpoint(); err != nil {
			level.Error(w.logger).Log("msg", "checkpoint failed after commit", "err", err)
		}
	}
	return nil
}

func (w *WAL) writeNoopPad(st *state) error {
	remaining := w.region.remaining(st.writePos)
	if remaining < entryHeaderLen+entryChecksumLen {
		// Not even room for a noop frame: wrap immediately. The bytes left
		// over are simply unused slack, bounded by the minimum entry size.
		st.writePos = 0
		return nil
	}
	pad := types.Entry{Sequence: 0, Type: types.EntryNoop, Payload: make([]byte, remaining-entryHeaderLen-entryChecksumLen)}
	if err := w.region.writeAt(encodeEntry(pad), st.writePos); err != nil {
		return err
	}
	st.writePos = 0
	st.bytesSinceCheckpoint += remaining
	return nil
}

// shouldCheckpoint reports whether a checkpoint is due: 75% occupancy
// (relative to the region's total capacity, measured in bytes written since
// the last checkpoint) or every 1000 commits, whichever comes first.
func (w *WAL) shouldCheckpoint(st *state) bool {
	occupancy := float64(st.bytesSinceCheckpoint) / float64(w.region.size)
	return occupancy >= CheckpointThresholdRatio || st.commitsSinceCheckpoint >= CheckpointEveryCommits
}

// Seal forces a checkpoint regardless of occupancy/commit thresholds.
func (w *WAL) Seal() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.runCheckpoint()
}

// runCheckpoint must be called with writeMu held. It asks the Checkpointer
// to materialise everything durable since the last checkpoint and advances
// the in-memory checkpoint marker on success.
func (w *WAL) runCheckpoint() error {
	st := w.loadState()
	if st.sequence == st.checkpointPos {
		return nil
	}
	pending, err := w.entriesSince(st.checkpointPos, st.sequence)
	if err != nil {
		return err
	}
	through, err := w.checkpointer.Checkpoint(pending, st.checkpointPos)
	if err != nil {
		w.metrics.checkpointFailures.Inc()
		return err
	}
	next := w.clone()
	next.checkpointPos = through
	next.commitsSinceCheckpoint = 0
	next.bytesSinceCheckpoint = 0
	w.s.Store(next)
	w.metrics.checkpoints.Inc()
	return nil
}

// entriesSince re-reads the committed entries with sequence in (after,
// through] from the region. Used both by recovery and by ordinary
// checkpoints so the Checkpointer always sees freshly decoded bytes rather
// than a possibly-stale in-memory buffer.
func (w *WAL) entriesSince(after, through uint64) ([]types.Entry, error) {
	entries, _, err := w.recover(after, through)
	return entries, err
}

// Close stops accepting new work. Any staged-but-uncommitted entries are
// discarded; callers that want a final flush must call Commit before Close,
// since the WAL itself never guesses intent.
func (w *WAL) Close() error {
	if !atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		return nil
	}
	return nil
}

// Status reports the WAL's current bookkeeping for the vault's status()
// call.
type Status struct {
	Sequence      uint64
	CheckpointPos uint64
	OccupancyRatio float64
}

func (w *WAL) Status() Status {
	st := w.loadState()
	return Status{
		Sequence:      st.sequence,
		CheckpointPos: st.checkpointPos,
		OccupancyRatio: float64(st.bytesSinceCheckpoint) / float64(w.region.size),
	}
}
