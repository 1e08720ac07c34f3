package staticfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Resource is a readable byte source with a known length. The stream writer
// reads it by offset and never needs to know what backs it.
type Resource interface {
	io.ReaderAt
	Size() int64
	Close() error
}

type fileResource struct {
	*os.File
	size int64
}

func (r *fileResource) Size() int64 { return r.size }

// OpenFile opens a regular file as a Resource. Anything that cannot be opened,
// or is not a regular file once opened, is ErrResourceNotFound.
func OpenFile(p string) (Resource, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceNotFound, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrResourceNotFound, err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrResourceNotFound, p)
	}
	return &fileResource{File: f, size: fi.Size()}, nil
}

// MemResource is an in-memory Resource, used for generated listings.
type MemResource struct {
	*bytes.Reader
}

// NewMemResource wraps b. The slice must not be modified afterwards.
func NewMemResource(b []byte) *MemResource {
	return &MemResource{Reader: bytes.NewReader(b)}
}

// Close is a no-op.
func (m *MemResource) Close() error { return nil }
