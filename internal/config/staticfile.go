package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// StaticFileServerHandlerType is the handler_type served by the staticfile package.
	StaticFileServerHandlerType = "StaticFileServer"

	defaultIndexFile  = "index.html"
	defaultChunkSize  = 4096
	defaultDirListing = true
)

// ParseAndValidateStaticFileServerConfig decodes a StaticFileServer handler_config
// block, applies defaults and validates it. mainConfigFilePath is used to resolve
// a relative mime_types_path; it may be empty, in which case that path must be absolute.
func ParseAndValidateStaticFileServerConfig(raw json.RawMessage, mainConfigFilePath string) (*StaticFileServerConfig, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, fmt.Errorf("handler_config for %s is required", StaticFileServerHandlerType)
	}

	var sfs StaticFileServerConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sfs); err != nil {
		return nil, fmt.Errorf("failed to parse %s handler_config: %w", StaticFileServerHandlerType, err)
	}

	if sfs.DocumentRoot == "" {
		return nil, fmt.Errorf("document_root is required")
	}
	if !filepath.IsAbs(sfs.DocumentRoot) {
		return nil, fmt.Errorf("document_root %q must be an absolute path", sfs.DocumentRoot)
	}
	sfs.DocumentRoot = filepath.Clean(sfs.DocumentRoot)
	fi, err := os.Stat(sfs.DocumentRoot)
	if err != nil {
		return nil, fmt.Errorf("document_root %q is not accessible: %w", sfs.DocumentRoot, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("document_root %q is not a directory", sfs.DocumentRoot)
	}

	if len(sfs.IndexFiles) == 0 {
		sfs.IndexFiles = []string{defaultIndexFile}
	}
	for _, name := range sfs.IndexFiles {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return nil, fmt.Errorf("index_files entry %q must be a bare file name", name)
		}
	}

	if sfs.ServeDirectoryListing == nil {
		listing := defaultDirListing
		sfs.ServeDirectoryListing = &listing
	}

	if sfs.ChunkSize == nil {
		size := defaultChunkSize
		sfs.ChunkSize = &size
	} else if *sfs.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk_size must be positive, got %d", *sfs.ChunkSize)
	}

	for ext, mimeType := range sfs.MimeTypesMap {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("mime_types_map key %q must start with '.'", ext)
		}
		if mimeType == "" {
			return nil, fmt.Errorf("mime_types_map entry for %q cannot be empty", ext)
		}
	}

	if sfs.MimeTypesPath != nil && *sfs.MimeTypesPath != "" {
		p := *sfs.MimeTypesPath
		if !filepath.IsAbs(p) {
			if mainConfigFilePath == "" {
				return nil, fmt.Errorf("mime_types_path %q must be absolute when no main configuration file is used", p)
			}
			p = filepath.Join(filepath.Dir(mainConfigFilePath), p)
		}
		sfs.MimeTypesPath = &p
	}

	return &sfs, nil
}

// NewStaticSiteConfig builds a defaulted, validated configuration that serves
// documentRoot under "/" on address. It backs the positional-argument binary.
func NewStaticSiteConfig(address, documentRoot string, serveListing bool) (*Config, error) {
	absRoot, err := filepath.Abs(documentRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document root %q: %w", documentRoot, err)
	}
	handlerCfg, err := json.Marshal(StaticFileServerConfig{
		DocumentRoot:          absRoot,
		ServeDirectoryListing: &serveListing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal static file server config: %w", err)
	}

	cfg := &Config{
		Server: &ServerConfig{Address: &address},
		Routing: &RoutingConfig{
			Routes: []Route{{
				PathPattern:   "/",
				MatchType:     MatchTypePrefix,
				HandlerType:   StaticFileServerHandlerType,
				HandlerConfig: handlerCfg,
			}},
		},
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
