package wal

import "io"

// region is the bounded circular byte range [base, base+size) inside the
// capsule file that the WAL lives in. All positions handled by region are
// relative offsets in [0, size); callers translate to absolute file offsets
// by adding base only at the io.ReaderAt/io.WriterAt boundary.
type region struct {
	rw   io.ReaderAt
	wr   writerAt
	base int64
	size int64
}

type writerAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

func newRegion(rw io.ReaderAt, wr writerAt, base, size int64) *region {
	return &region{rw: rw, wr: wr, base: base, size: size}
}

// writeAt writes p starting at relative position pos. The caller guarantees
// p does not straddle the wrap point (the caller inserts a noop padding
// entry first when it would).
func (r *region) writeAt(p []byte, pos int64) error {
	if pos+int64(len(p)) > r.size {
		return io.ErrShortBuffer
	}
	_, err := r.wr.WriteAt(p, r.base+pos)
	return err
}

// readAt reads len(p) bytes starting at relative position pos.
func (r *region) readAt(p []byte, pos int64) error {
	if pos+int64(len(p)) > r.size {
		return io.ErrUnexpectedEOF
	}
	n, err := r.rw.ReadAt(p, r.base+pos)
	if err != nil && !(err == io.EOF && n == len(p)) {
		return err
	}
	return nil
}

// remaining returns how many bytes are left before pos would need to wrap.
func (r *region) remaining(pos int64) int64 {
	return r.size - pos
}
