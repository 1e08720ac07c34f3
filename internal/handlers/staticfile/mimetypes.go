package staticfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"example.com/rangehttp/internal/config"
)

const defaultMimeType = "application/octet-stream"

// builtinMimeTypes is the base extension table. Values carry no parameters;
// operators wanting a charset can add one through mime_types_map.
var builtinMimeTypes = map[string]string{
	".aac":   "audio/aac",
	".aif":   "audio/x-aiff",
	".aiff":  "audio/x-aiff",
	".avi":   "video/x-msvideo",
	".avif":  "image/avif",
	".bat":   "text/plain",
	".bin":   "application/octet-stream",
	".bmp":   "image/bmp",
	".bz2":   "application/x-bzip2",
	".css":   "text/css",
	".csv":   "text/csv",
	".doc":   "application/msword",
	".docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".epub":  "application/epub+zip",
	".flac":  "audio/flac",
	".gif":   "image/gif",
	".gz":    "application/gzip",
	".htm":   "text/html",
	".html":  "text/html",
	".ico":   "image/vnd.microsoft.icon",
	".ics":   "text/calendar",
	".jpe":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".jpg":   "image/jpeg",
	".js":    "text/javascript",
	".json":  "application/json",
	".m3u":   "application/vnd.apple.mpegurl",
	".m3u8":  "application/vnd.apple.mpegurl",
	".m4a":   "audio/mp4",
	".md":    "text/markdown",
	".mid":   "audio/midi",
	".midi":  "audio/midi",
	".mjs":   "text/javascript",
	".mkv":   "video/x-matroska",
	".mov":   "video/quicktime",
	".mp3":   "audio/mpeg",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".odp":   "application/vnd.oasis.opendocument.presentation",
	".ods":   "application/vnd.oasis.opendocument.spreadsheet",
	".odt":   "application/vnd.oasis.opendocument.text",
	".oga":   "audio/ogg",
	".ogv":   "video/ogg",
	".opus":  "audio/opus",
	".otf":   "font/otf",
	".pdf":   "application/pdf",
	".pl":    "text/plain",
	".png":   "image/png",
	".ppt":   "application/vnd.ms-powerpoint",
	".pptx":  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".ps":    "application/postscript",
	".rtf":   "application/rtf",
	".sh":    "application/x-sh",
	".svg":   "image/svg+xml",
	".tar":   "application/x-tar",
	".tif":   "image/tiff",
	".tiff":  "image/tiff",
	".ts":    "video/mp2t",
	".ttf":   "font/ttf",
	".txt":   "text/plain",
	".vtt":   "text/vtt",
	".wasm":  "application/wasm",
	".wav":   "audio/x-wav",
	".webm":  "video/webm",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".xhtml": "application/xhtml+xml",
	".xls":   "application/vnd.ms-excel",
	".xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xml":   "text/xml",
	".zip":   "application/zip",
	".7z":    "application/x-7z-compressed",
}

// mimeOverrides always win over builtinMimeTypes. Source files are served as
// plain text so browsers display rather than download them.
var mimeOverrides = map[string]string{
	"":      defaultMimeType,
	".py":   "text/plain",
	".c":    "text/plain",
	".h":    "text/plain",
	".java": "text/plain",
	".mp4":  "video/mp4",
	".ogg":  "video/ogg",
}

// MimeTable maps file extensions to content types. It is filled once by
// NewMimeTable and only read afterwards, so handlers share it freely.
type MimeTable struct {
	types map[string]string
}

// NewMimeTable builds the table from the built-in types, the fixed overrides
// and then the handler's mime_types_map and mime_types_path entries, in that
// order of increasing precedence. cfg may be nil.
func NewMimeTable(cfg *config.StaticFileServerConfig) (*MimeTable, error) {
	t := &MimeTable{types: make(map[string]string, len(builtinMimeTypes)+len(mimeOverrides))}
	for ext, typ := range builtinMimeTypes {
		t.types[ext] = typ
	}
	for ext, typ := range mimeOverrides {
		t.types[ext] = typ
	}
	if cfg == nil {
		return t, nil
	}

	for ext, typ := range cfg.MimeTypesMap {
		t.types[ext] = typ
	}
	if cfg.MimeTypesPath != nil && *cfg.MimeTypesPath != "" {
		fromFile, err := LoadCustomMimeTypesFromFile(*cfg.MimeTypesPath)
		if err != nil {
			return nil, &config.ConfigError{
				FilePath: *cfg.MimeTypesPath,
				Message:  "failed to load custom MIME types",
				Err:      err,
			}
		}
		for ext, typ := range fromFile {
			t.types[ext] = typ
		}
	}
	return t, nil
}

// TypeFor returns the content type for the file at p. The extension is looked
// up as-is, then lower-cased, then the default entry is used.
func (t *MimeTable) TypeFor(p string) string {
	ext := extension(p)
	if typ, ok := t.types[ext]; ok {
		return typ
	}
	if typ, ok := t.types[strings.ToLower(ext)]; ok {
		return typ
	}
	if typ, ok := t.types[""]; ok {
		return typ
	}
	return defaultMimeType
}

// Len reports the number of mapped extensions.
func (t *MimeTable) Len() int { return len(t.types) }

// extension returns the final segment's suffix starting at its last dot.
// Leading dots do not count, so ".profile" has no extension.
func extension(p string) string {
	base := strings.TrimLeft(filepath.Base(p), ".")
	return filepath.Ext(base)
}

// LoadCustomMimeTypesFromFile reads a JSON object of extension to MIME type
// pairs. Every key must start with '.' and every value must be non-empty.
// Keys keep their case; lookups fall back to lower case on their own.
func LoadCustomMimeTypesFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME types file %q: %w", filePath, err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from MIME types file %q: %w", filePath, err)
	}

	for ext, typ := range parsed {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q in MIME types file %q: must start with a '.'", ext, filePath)
		}
		if typ == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q in MIME types file %q", ext, filePath)
		}
	}
	return parsed, nil
}
