package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/rangehttp/internal/logger"
)

type recordingWriter struct {
	status    int
	headers   []HeaderField
	body      bytes.Buffer
	ended     bool
	headerErr error
	dataErr   error
}

func (w *recordingWriter) ID() uint64 { return 9 }

func (w *recordingWriter) SendHeaders(status int, headers []HeaderField, endStream bool) error {
	if w.headerErr != nil {
		return w.headerErr
	}
	w.status = status
	w.headers = append(w.headers, headers...)
	w.ended = endStream
	return nil
}

func (w *recordingWriter) WriteData(p []byte, endStream bool) (int, error) {
	if w.dataErr != nil {
		return 0, w.dataErr
	}
	w.ended = endStream
	return w.body.Write(p)
}

func (w *recordingWriter) header(name string) string {
	for _, hf := range w.headers {
		if hf.Name == name {
			return hf.Value
		}
	}
	return ""
}

func TestPrefersJSON(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"application/json", true},
		{"Application/JSON", true},
		{"text/html", false},
		{"*/*", false},
		{"application/json, text/html", true},
		{"text/html, application/json", false},
		{"text/html;q=0.5, application/json", true},
		{"application/json;q=0.9, text/html", false},
		{"application/*, application/json", true},
		{"*/*, application/json;q=1.0", true},
		{"application/json;q=0", false},
		{"application/json;q=abc, text/html;q=0.1", false},
		{"application/json;q=2", false},
		{"text/html;level=1;q=0.2, application/json;q=0.3", true},
		{" , ", false},
	}
	for _, tc := range tests {
		t.Run(tc.accept, func(t *testing.T) {
			assert.Equal(t, tc.want, PrefersJSON(tc.accept))
		})
	}
}

func TestWriteErrorResponse_HTML(t *testing.T) {
	w := &recordingWriter{}
	err := WriteErrorResponse(w, http.StatusNotFound, "text/html", "<missing>", nil, logger.NewDiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, w.status)
	assert.Equal(t, "text/html; charset=utf-8", w.header("content-type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.header("cache-control"))
	assert.Contains(t, w.body.String(), "<title>404 Not Found</title>")
	assert.Contains(t, w.body.String(), "&lt;missing&gt;")
	assert.Equal(t, w.header("content-length"), itoa(w.body.Len()))
	assert.True(t, w.ended)
}

func TestWriteErrorResponse_JSONWithExtraHeaders(t *testing.T) {
	w := &recordingWriter{}
	err := WriteErrorResponse(w, http.StatusMethodNotAllowed, "application/json", "use GET",
		[]HeaderField{{Name: "allow", Value: "GET, HEAD"}}, logger.NewDiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, "application/json; charset=utf-8", w.header("content-type"))
	assert.Equal(t, "GET, HEAD", w.header("allow"))

	var body ErrorResponseJSON
	require.NoError(t, json.Unmarshal(w.body.Bytes(), &body))
	assert.Equal(t, ErrorDetail{StatusCode: 405, Message: "Method Not Allowed", Detail: "use GET"}, body.Error)
}

func TestWriteErrorResponse_UnknownStatus(t *testing.T) {
	w := &recordingWriter{}
	require.NoError(t, WriteErrorResponse(w, 599, "", "custom detail", nil, nil))
	assert.Contains(t, w.body.String(), "<title>599 Error</title>")
	assert.Contains(t, w.body.String(), "<p>custom detail</p>")
}

func TestWriteErrorResponse_MarshalFailureFallsBackToHTML(t *testing.T) {
	orig := jsonMarshalFunc
	jsonMarshalFunc = func(interface{}) ([]byte, error) { return nil, errors.New("boom") }
	defer func() { jsonMarshalFunc = orig }()

	w := &recordingWriter{}
	require.NoError(t, WriteErrorResponse(w, http.StatusInternalServerError, "application/json", "", nil, logger.NewDiscardLogger()))
	assert.Equal(t, "text/html; charset=utf-8", w.header("content-type"))
}

func TestWriteErrorResponse_WriteFailures(t *testing.T) {
	w := &recordingWriter{headerErr: errors.New("conn reset")}
	err := WriteErrorResponse(w, http.StatusNotFound, "", "", nil, logger.NewDiscardLogger())
	assert.ErrorContains(t, err, "failed to send error response headers (status 404) for request 9")

	w = &recordingWriter{dataErr: errors.New("broken pipe")}
	err = WriteErrorResponse(w, http.StatusNotFound, "", "", nil, logger.NewDiscardLogger())
	assert.ErrorContains(t, err, "failed to send error response body")
}

func TestSendDefaultErrorResponse_UsesAcceptHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept", "application/json")
	w := &recordingWriter{}
	SendDefaultErrorResponse(w, http.StatusNotFound, req, "", logger.NewDiscardLogger())
	assert.Equal(t, "application/json; charset=utf-8", w.header("content-type"))

	w = &recordingWriter{}
	SendDefaultErrorResponse(w, http.StatusNotFound, nil, "", logger.NewDiscardLogger())
	assert.Equal(t, "text/html; charset=utf-8", w.header("content-type"))
}

func TestStreamID(t *testing.T) {
	assert.Equal(t, uint64(9), StreamID(&recordingWriter{}))
	assert.Equal(t, "unknown", StreamID(struct{ ResponseWriter }{}))
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
