package staticfile

import (
	"errors"
	"fmt"
	"io"

	"example.com/rangehttp/internal/server"
)

// DefaultChunkSize is the per-write buffer size when none is configured.
const DefaultChunkSize = 4096

// WriteWindow copies the bytes of src in [w.Start, w.End) to dst, at most
// chunkSize bytes per WriteData call, and closes src on every path.
//
// It returns the number of body bytes handed to dst. A failure after the
// first byte cannot change the already sent status, so it is reported as
// ErrTransferInterrupted for the caller to log.
func WriteWindow(dst server.ResponseWriter, src Resource, w ByteWindow, chunkSize int) (written int64, err error) {
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close resource: %w", cerr)
		}
	}()

	remaining := w.Len()
	if remaining == 0 {
		return 0, nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, min(int64(chunkSize), remaining))
	offset := w.Start

	for remaining > 0 {
		want := min(int64(len(buf)), remaining)
		n, rerr := src.ReadAt(buf[:want], offset)
		if n > 0 {
			last := int64(n) == remaining
			wn, werr := dst.WriteData(buf[:n], last)
			written += int64(wn)
			if werr != nil {
				return written, fmt.Errorf("%w: write at offset %d: %w", ErrTransferInterrupted, offset, werr)
			}
			offset += int64(n)
			remaining -= int64(n)
		}
		if remaining == 0 {
			break
		}
		switch {
		case errors.Is(rerr, io.EOF):
			return written, fmt.Errorf("%w: source ended at offset %d with %d bytes outstanding", ErrTransferInterrupted, offset, remaining)
		case rerr != nil:
			return written, fmt.Errorf("%w: read at offset %d: %w", ErrTransferInterrupted, offset, rerr)
		case n == 0:
			return written, fmt.Errorf("%w: read at offset %d: %w", ErrTransferInterrupted, offset, io.ErrNoProgress)
		}
	}
	return written, nil
}
