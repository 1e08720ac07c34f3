package staticfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"example.com/rangehttp/internal/config"
	"example.com/rangehttp/internal/logger"
	"example.com/rangehttp/internal/router"
	"example.com/rangehttp/internal/server"
)

const allowedMethods = "GET, HEAD, OPTIONS"

// StaticFileServer serves files below a document root with single byte-range
// support and generated directory listings.
type StaticFileServer struct {
	cfg       *config.StaticFileServerConfig
	log       *logger.Logger
	mimeTypes *MimeTable
	chunkSize int
}

// New is the server.HandlerFactory for the StaticFileServer handler type.
func New(handlerCfg json.RawMessage, lg *logger.Logger, mainConfigFilePath string) (server.Handler, error) {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}

	sfsConfig, err := config.ParseAndValidateStaticFileServerConfig(handlerCfg, mainConfigFilePath)
	if err != nil {
		return nil, fmt.Errorf("StaticFileServer: %w", err)
	}
	return NewWithConfig(sfsConfig, lg)
}

// NewWithConfig builds the handler from an already validated configuration.
func NewWithConfig(cfg *config.StaticFileServerConfig, lg *logger.Logger) (*StaticFileServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("StaticFileServer: config cannot be nil")
	}
	mimeTypes, err := NewMimeTable(cfg)
	if err != nil {
		return nil, fmt.Errorf("StaticFileServer: %w", err)
	}

	chunkSize := DefaultChunkSize
	if cfg.ChunkSize != nil {
		chunkSize = *cfg.ChunkSize
	}

	lg.Info("StaticFileServer initialized", logger.LogFields{
		"document_root":     cfg.DocumentRoot,
		"index_files":       cfg.IndexFiles,
		"directory_listing": cfg.ServeDirectoryListing == nil || *cfg.ServeDirectoryListing,
		"chunk_size":        humanize.IBytes(uint64(chunkSize)),
		"mime_types":        mimeTypes.Len(),
	})

	return &StaticFileServer{
		cfg:       cfg,
		log:       lg,
		mimeTypes: mimeTypes,
		chunkSize: chunkSize,
	}, nil
}

// ServeStream implements server.Handler.
func (s *StaticFileServer) ServeStream(resp server.ResponseWriterStream, req *http.Request) {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodOptions:
		s.handleOptions(resp)
		return
	default:
		s.log.Info("StaticFileServer: method not allowed", logger.LogFields{
			"request_id": resp.ID(),
			"method":     req.Method,
			"path":       req.URL.Path,
		})
		server.SendErrorResponseWithHeaders(resp, http.StatusMethodNotAllowed, req, "",
			[]server.HeaderField{{Name: "allow", Value: allowedMethods}}, s.log)
		return
	}

	target, ok := s.mountRelativeTarget(req)
	if !ok {
		s.log.Error("StaticFileServer: request path does not match the pattern it was routed for", logger.LogFields{
			"request_id": resp.ID(),
			"path":       req.URL.Path,
		})
		server.SendDefaultErrorResponse(resp, http.StatusInternalServerError, req, "Internal server routing error.", s.log)
		return
	}

	fsPath, err := ResolvePath(s.cfg.DocumentRoot, target)
	if err != nil {
		s.log.Warn("StaticFileServer: rejected request path", logger.LogFields{
			"request_id": resp.ID(),
			"target":     target,
			"error":      err.Error(),
		})
		s.notFound(resp, req)
		return
	}

	fi, err := os.Stat(fsPath)
	if err != nil {
		s.log.Info("StaticFileServer: file or directory not found", logger.LogFields{
			"request_id": resp.ID(),
			"path":       fsPath,
			"error":      err.Error(),
		})
		s.notFound(resp, req)
		return
	}

	if fi.IsDir() {
		s.handleDirectory(resp, req, fsPath)
		return
	}
	if !fi.Mode().IsRegular() {
		s.log.Info("StaticFileServer: refusing to serve non-regular file", logger.LogFields{
			"request_id": resp.ID(),
			"path":       fsPath,
			"mode":       fi.Mode().String(),
		})
		s.notFound(resp, req)
		return
	}
	s.serveFile(resp, req, fsPath)
}

// mountRelativeTarget returns the escaped request path with the route's
// mount point removed, so "/static/a%20b.txt" under "/static/" becomes "/a%20b.txt".
// The router matched on the decoded path, so the mount is located by decoding
// the escaped path one segment boundary at a time.
func (s *StaticFileServer) mountRelativeTarget(req *http.Request) (string, bool) {
	escaped := req.URL.EscapedPath()
	pattern, ok := router.MatchedPathPattern(req.Context())
	if !ok {
		return escaped, true
	}
	mount := strings.TrimSuffix(pattern, "/")
	if mount == "" {
		return escaped, true
	}
	for i := 1; i <= len(escaped); i++ {
		if i < len(escaped) && escaped[i] != '/' {
			continue
		}
		decoded, err := url.PathUnescape(escaped[:i])
		if err != nil {
			continue
		}
		if decoded == mount {
			return escaped[i:], true
		}
		if len(decoded) > len(mount) {
			break
		}
	}
	return "", false
}

func (s *StaticFileServer) handleOptions(resp server.ResponseWriterStream) {
	headers := []server.HeaderField{
		{Name: "allow", Value: allowedMethods},
		{Name: "content-length", Value: "0"},
	}
	if err := resp.SendHeaders(http.StatusNoContent, headers, true); err != nil {
		s.log.Error("StaticFileServer: failed to send OPTIONS response headers", logger.LogFields{
			"request_id": resp.ID(),
			"error":      err.Error(),
		})
	}
}

func (s *StaticFileServer) handleDirectory(resp server.ResponseWriterStream, req *http.Request, dirPath string) {
	if escaped := req.URL.EscapedPath(); !strings.HasSuffix(escaped, "/") {
		location := escaped + "/"
		if req.URL.RawQuery != "" {
			location += "?" + req.URL.RawQuery
		}
		s.log.Debug("StaticFileServer: redirecting directory request to trailing slash", logger.LogFields{
			"request_id": resp.ID(),
			"location":   location,
		})
		headers := []server.HeaderField{
			{Name: "location", Value: location},
			{Name: "content-length", Value: "0"},
		}
		if err := resp.SendHeaders(http.StatusMovedPermanently, headers, true); err != nil {
			s.log.Error("StaticFileServer: failed to send redirect headers", logger.LogFields{
				"request_id": resp.ID(),
				"error":      err.Error(),
			})
		}
		return
	}

	for _, name := range s.cfg.IndexFiles {
		indexPath := filepath.Join(dirPath, name)
		if fi, err := os.Stat(indexPath); err == nil && fi.Mode().IsRegular() {
			s.serveFile(resp, req, indexPath)
			return
		}
	}

	if s.cfg.ServeDirectoryListing != nil && !*s.cfg.ServeDirectoryListing {
		s.log.Info("StaticFileServer: no index file and directory listing disabled", logger.LogFields{
			"request_id": resp.ID(),
			"path":       dirPath,
		})
		s.notFound(resp, req)
		return
	}

	listing, err := ListDirectory(dirPath, req.URL.Path)
	if err != nil {
		s.log.Warn("StaticFileServer: failed to list directory", logger.LogFields{
			"request_id": resp.ID(),
			"path":       dirPath,
			"error":      err.Error(),
		})
		s.notFound(resp, req)
		return
	}
	s.serveResource(resp, req, listing, ListingContentType, dirPath)
}

func (s *StaticFileServer) serveFile(resp server.ResponseWriterStream, req *http.Request, filePath string) {
	res, err := OpenFile(filePath)
	if err != nil {
		s.log.Warn("StaticFileServer: failed to open file", logger.LogFields{
			"request_id": resp.ID(),
			"path":       filePath,
			"error":      err.Error(),
		})
		s.notFound(resp, req)
		return
	}
	s.serveResource(resp, req, res, s.mimeTypes.TypeFor(filePath), filePath)
}

// serveResource owns res from here on and closes it exactly once.
func (s *StaticFileServer) serveResource(resp server.ResponseWriterStream, req *http.Request, res Resource, contentType, logPath string) {
	total := res.Size()
	window, partial, err := ParseRange(req.Header.Get("Range"), total)
	if err != nil {
		s.log.Info("StaticFileServer: ignoring malformed range header", logger.LogFields{
			"request_id": resp.ID(),
			"path":       logPath,
			"error":      err.Error(),
		})
	}

	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
	}
	headers := []server.HeaderField{
		{Name: "content-type", Value: contentType},
		{Name: "accept-ranges", Value: "bytes"},
		{Name: "content-range", Value: window.ContentRange(total)},
		{Name: "content-length", Value: strconv.FormatInt(window.Len(), 10)},
	}

	bodyless := req.Method == http.MethodHead || window.Len() == 0
	if err := resp.SendHeaders(status, headers, bodyless); err != nil {
		res.Close()
		s.log.Error("StaticFileServer: failed to send response headers", logger.LogFields{
			"request_id": resp.ID(),
			"path":       logPath,
			"error":      err.Error(),
		})
		return
	}
	if bodyless {
		res.Close()
		return
	}

	written, err := WriteWindow(resp, res, window, s.chunkSize)
	if err != nil {
		fields := logger.LogFields{
			"request_id": resp.ID(),
			"path":       logPath,
			"written":    written,
			"expected":   window.Len(),
			"error":      err.Error(),
		}
		if errors.Is(err, ErrTransferInterrupted) {
			s.log.Warn("StaticFileServer: transfer interrupted", fields)
		} else {
			s.log.Error("StaticFileServer: transfer failed", fields)
		}
		return
	}
	if s.log.DebugEnabled() {
		s.log.Debug("StaticFileServer: transfer complete", logger.LogFields{
			"request_id": resp.ID(),
			"path":       logPath,
			"status":     status,
			"range":      window.ContentRange(total),
			"size":       humanize.Bytes(uint64(written)),
		})
	}
}

func (s *StaticFileServer) notFound(resp server.ResponseWriterStream, req *http.Request) {
	server.SendDefaultErrorResponse(resp, http.StatusNotFound, req, "", s.log)
}
