package segment

import (
	"io"

	"github.com/sunilkgrao/aethervault/internal/frame"
	"github.com/sunilkgrao/aethervault/internal/types"
)

// PackFrames serialises frames back-to-back into a data-segment body and
// returns, for each input frame, the byte offset of its record relative to
// the start of the body (i.e. relative to the first byte after the segment
// header). The current callers (checkpoint, compact) discard the offsets.
func PackFrames(frames []*types.Frame) (body []byte, offsets []uint32) {
	offsets = make([]uint32, len(frames))
	for i, f := range frames {
		offsets[i] = uint32(len(body))
		body = append(body, frame.MarshalRecord(f)...)
	}
	return body, offsets
}

// ReadFrameAt decodes a single frame record stored at byte offset within a
// data segment's body region [bodyStart, bodyStart+bodyLen). offset is
// relative to bodyStart, matching PackFrames' convention.
func ReadFrameAt(ra io.ReaderAt, bodyStart int64, bodyLen int64, offset uint32) (*types.Frame, error) {
	// We don't know the record length up front, so read a generous window and
	// let UnmarshalRecord tell us how much it actually consumed. Nothing at
	// append time limits a record's size; see maxRecordWindow.
	remaining := bodyLen - int64(offset)
	if remaining <= 0 {
		return nil, types.ErrNotFound
	}
	window := remaining
	if window > maxRecordWindow {
		window = maxRecordWindow
	}
	buf := make([]byte, window)
	n, err := ra.ReadAt(buf, bodyStart+int64(offset))
	if err != nil && err != io.EOF {
		return nil, err
	}
	f, _, err := frame.UnmarshalRecord(buf[:n])
	if err != nil {
		return nil, err
	}
	return f, nil
}

// maxRecordWindow bounds how much we read speculatively before knowing a
// record's true length. Put does not limit payload size, so a record longer
// than this window (a ~16MiB payload plus header) is not read whole here.
const maxRecordWindow = 16<<20 + 4096

// UnpackFrames decodes every record in a data segment's full body, in
// storage order. Used by doctor's deep verification, rebuild, and compact,
// none of which have offsets to seek by.
func UnpackFrames(body []byte) ([]*types.Frame, error) {
	var out []*types.Frame
	for len(body) > 0 {
		f, consumed, err := frame.UnmarshalRecord(body)
		if err != nil {
			return out, err
		}
		if consumed <= 0 {
			break
		}
		out = append(out, f)
		body = body[consumed:]
	}
	return out, nil
}
