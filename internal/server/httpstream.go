package server

import (
	"context"
	"errors"
	"net/http"
)

var (
	errHeadersAlreadySent = errors.New("response headers already sent")
	errHeadersNotSent     = errors.New("response headers not sent yet")
	errStreamEnded        = errors.New("response stream already ended")
)

// httpStream adapts an http.ResponseWriter to ResponseWriterStream and
// records what was sent for the access log.
type httpStream struct {
	w   http.ResponseWriter
	req *http.Request
	id  uint64

	status       int
	headersSent  bool
	ended        bool
	bytesWritten int64
}

func newHTTPStream(w http.ResponseWriter, req *http.Request, id uint64) *httpStream {
	return &httpStream{w: w, req: req, id: id}
}

func (s *httpStream) ID() uint64 { return s.id }

func (s *httpStream) Context() context.Context { return s.req.Context() }

func (s *httpStream) SendHeaders(status int, headers []HeaderField, endStream bool) error {
	if s.headersSent {
		return errHeadersAlreadySent
	}
	h := s.w.Header()
	for _, hf := range headers {
		h.Add(http.CanonicalHeaderKey(hf.Name), hf.Value)
	}
	s.w.WriteHeader(status)
	s.status = status
	s.headersSent = true
	s.ended = endStream
	return nil
}

func (s *httpStream) WriteData(p []byte, endStream bool) (int, error) {
	if !s.headersSent {
		return 0, errHeadersNotSent
	}
	if s.ended {
		return 0, errStreamEnded
	}
	n, err := s.w.Write(p)
	s.bytesWritten += int64(n)
	if err != nil {
		return n, err
	}
	// Push each chunk to the client as it is written.
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	if endStream {
		s.ended = true
	}
	return n, nil
}

// statusForLog is the status the client saw. net/http sends 200 when a
// handler returns without writing anything.
func (s *httpStream) statusForLog() int {
	if !s.headersSent {
		return http.StatusOK
	}
	return s.status
}
