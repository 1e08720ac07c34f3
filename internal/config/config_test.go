package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

// writeTempFile creates a file with the given content and extension inside a
// per-test temporary directory and returns its path.
func writeTempFile(t *testing.T, content string, ext string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "test-config-*"+ext)
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}
	return f.Name()
}

// checkErrorContains checks if the error is not nil and its message contains the expected substring.
func checkErrorContains(t *testing.T, err error, expectedSubstring string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected an error containing %q, but got nil", expectedSubstring)
	}
	if !strings.Contains(err.Error(), expectedSubstring) {
		t.Fatalf("Expected error message to contain %q, but got: %v", expectedSubstring, err)
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	checkErrorContains(t, err, "configuration file path cannot be empty")
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	checkErrorContains(t, err, "failed to read configuration file")

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigError, got %T", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected error chain to include os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	path := writeTempFile(t, `{"server": {"address": ":8080"}}`, ".json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed for valid JSON: %v", err)
	}
	if cfg.Server == nil || cfg.Server.Address == nil || *cfg.Server.Address != ":8080" {
		t.Errorf("Expected server address to be :8080, got %v", cfg.Server)
	}
}

func TestLoadConfig_ValidTOML(t *testing.T) {
	content := `
[server]
address = ":8081"
read_timeout = "5s"
`
	path := writeTempFile(t, content, ".toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed for valid TOML: %v", err)
	}
	if *cfg.Server.Address != ":8081" {
		t.Errorf("Expected server address to be :8081, got %s", *cfg.Server.Address)
	}
	if cfg.Server.ReadTimeout.Value() != 5*time.Second {
		t.Errorf("Expected read timeout 5s, got %v", cfg.Server.ReadTimeout.Value())
	}
}

func TestLoadConfig_AutoDetect(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		level   LogLevel
	}{
		{"json with unknown extension", `{"logging": {"log_level": "DEBUG"}}`, ".conf", LogLevelDebug},
		{"toml with unknown extension", "[logging]\nlog_level = \"WARNING\"\n", ".cfg", LogLevelWarning},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeTempFile(t, tc.content, tc.ext))
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if cfg.Logging.LogLevel != tc.level {
				t.Errorf("Expected log level %s, got %s", tc.level, cfg.Logging.LogLevel)
			}
		})
	}
}

func TestLoadConfig_AutoDetectFailure(t *testing.T) {
	_, err := LoadConfig(writeTempFile(t, `not json or toml`, ".data"))
	checkErrorContains(t, err, "failed to auto-detect and parse config")
	checkErrorContains(t, err, "JSON error")
	checkErrorContains(t, err, "TOML error")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tests := []struct {
		ext         string
		expectError string
	}{
		{".json", "failed to parse JSON config"},
		{".toml", "empty input"},
		{".empty", "failed to auto-detect and parse config"},
	}
	for _, tc := range tests {
		t.Run(tc.ext, func(t *testing.T) {
			_, err := LoadConfig(writeTempFile(t, "", tc.ext))
			checkErrorContains(t, err, tc.expectError)
		})
	}
}

func TestLoadConfig_InvalidSyntax(t *testing.T) {
	_, err := LoadConfig(writeTempFile(t, `{"server": {"address": ":8080",}}`, ".json"))
	checkErrorContains(t, err, "failed to parse JSON config")
	checkErrorContains(t, err, "invalid character '}'")

	_, err = LoadConfig(writeTempFile(t, "[server\naddress = \":8080\"\n", ".toml"))
	checkErrorContains(t, err, "failed to parse TOML config")
}

func TestLoadConfig_UnknownJSONField(t *testing.T) {
	_, err := LoadConfig(writeTempFile(t, `{"server": {"adress": ":8080"}}`, ".json"))
	checkErrorContains(t, err, `unknown field "adress"`)
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	cfg, err := LoadConfig(writeTempFile(t, `{}`, ".json"))
	if err != nil {
		t.Fatalf("LoadConfig failed for empty JSON: %v", err)
	}

	if *cfg.Server.Address != defaultServerAddress {
		t.Errorf("Expected default server address %s, got %s", defaultServerAddress, *cfg.Server.Address)
	}
	if cfg.Server.GracefulShutdownTimeout.Value() != 30*time.Second {
		t.Errorf("Expected default graceful shutdown timeout 30s, got %v", cfg.Server.GracefulShutdownTimeout.Value())
	}
	if cfg.Server.ReadTimeout != nil || cfg.Server.WriteTimeout != nil || cfg.Server.IdleTimeout != nil {
		t.Errorf("Expected connection timeouts to stay unset by default")
	}
	if *cfg.Server.MaxConnections != 0 {
		t.Errorf("Expected default max connections 0, got %d", *cfg.Server.MaxConnections)
	}
	if cfg.Server.TLSEnabled() {
		t.Errorf("Expected TLS to be disabled by default")
	}

	if cfg.Logging.LogLevel != defaultLogLevel {
		t.Errorf("Expected default log level %s, got %s", defaultLogLevel, cfg.Logging.LogLevel)
	}
	al := cfg.Logging.AccessLog
	if !*al.Enabled || *al.Target != defaultAccessLogTarget || al.Format != defaultAccessLogFormat {
		t.Errorf("Unexpected access log defaults: enabled=%v target=%s format=%s", *al.Enabled, *al.Target, al.Format)
	}
	if *al.RealIPHeader != defaultAccessLogRealIPHeader {
		t.Errorf("Expected default real_ip_header %s, got %s", defaultAccessLogRealIPHeader, *al.RealIPHeader)
	}
	if al.TrustedProxies == nil || len(al.TrustedProxies) != 0 {
		t.Errorf("Expected default TrustedProxies to be an empty slice, got %#v", al.TrustedProxies)
	}
	if *cfg.Logging.ErrorLog.Target != defaultErrorLogTarget {
		t.Errorf("Expected default error log target %s, got %s", defaultErrorLogTarget, *cfg.Logging.ErrorLog.Target)
	}

	if cfg.Routing.Routes == nil || len(cfg.Routing.Routes) != 0 {
		t.Errorf("Expected empty, non-nil routes, got %#v", cfg.Routing.Routes)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		expectError string
	}{
		{
			name:        "empty address",
			content:     `{"server": {"address": ""}}`,
			expectError: "server.address cannot be empty",
		},
		{
			name:        "negative max connections",
			content:     `{"server": {"max_connections": -1}}`,
			expectError: "server.max_connections cannot be negative",
		},
		{
			name:        "tls cert without key",
			content:     `{"server": {"tls_cert_file": "/etc/cert.pem"}}`,
			expectError: "must be set together",
		},
		{
			name:        "non-positive duration",
			content:     `{"server": {"idle_timeout": "0s"}}`,
			expectError: "duration must be positive",
		},
		{
			name:        "route without leading slash",
			content:     `{"routing": {"routes": [{"path_pattern": "static/", "match_type": "Prefix", "handler_type": "StaticFileServer"}]}}`,
			expectError: "must start with '/'",
		},
		{
			name:        "prefix route without trailing slash",
			content:     `{"routing": {"routes": [{"path_pattern": "/static", "match_type": "Prefix", "handler_type": "StaticFileServer"}]}}`,
			expectError: "must end with '/'",
		},
		{
			name:        "invalid match type",
			content:     `{"routing": {"routes": [{"path_pattern": "/a", "match_type": "Regex", "handler_type": "StaticFileServer"}]}}`,
			expectError: "invalid match_type",
		},
		{
			name:        "missing handler type",
			content:     `{"routing": {"routes": [{"path_pattern": "/a", "match_type": "Exact"}]}}`,
			expectError: "handler_type cannot be empty",
		},
		{
			name: "duplicate route",
			content: `{"routing": {"routes": [
				{"path_pattern": "/a", "match_type": "Exact", "handler_type": "X"},
				{"path_pattern": "/a", "match_type": "Exact", "handler_type": "Y"}]}}`,
			expectError: "duplicate route",
		},
		{
			name:        "invalid log level",
			content:     `{"logging": {"log_level": "TRACE"}}`,
			expectError: "logging.log_level",
		},
		{
			name:        "invalid access log format",
			content:     `{"logging": {"access_log": {"format": "xml"}}}`,
			expectError: "logging.access_log.format",
		},
		{
			name:        "relative log target",
			content:     `{"logging": {"error_log": {"target": "logs/error.log"}}}`,
			expectError: "absolute file path",
		},
		{
			name:        "invalid trusted proxy",
			content:     `{"logging": {"access_log": {"trusted_proxies": ["10.0.0.0/33"]}}}`,
			expectError: "invalid CIDR",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempFile(t, tc.content, ".json"))
			checkErrorContains(t, err, tc.expectError)
		})
	}
}

func TestLoadConfig_TOMLHandlerConfigBecomesJSON(t *testing.T) {
	docRoot := t.TempDir()
	content := `
[[routing.routes]]
path_pattern = "/files/"
match_type = "Prefix"
handler_type = "StaticFileServer"

[routing.routes.handler_config]
document_root = "` + filepath.ToSlash(docRoot) + `"
chunk_size = 1024
index_files = ["index.htm", "index.html"]

[routing.routes.handler_config.mime_types_map]
".md" = "text/markdown"
`
	path := writeTempFile(t, content, ".toml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Routing.Routes) != 1 {
		t.Fatalf("Expected one route, got %d", len(cfg.Routing.Routes))
	}

	sfs, err := ParseAndValidateStaticFileServerConfig(json.RawMessage(cfg.Routing.Routes[0].HandlerConfig), cfg.OriginalFilePath())
	if err != nil {
		t.Fatalf("ParseAndValidateStaticFileServerConfig failed: %v", err)
	}
	if sfs.DocumentRoot != filepath.Clean(docRoot) {
		t.Errorf("Expected document root %s, got %s", docRoot, sfs.DocumentRoot)
	}
	if *sfs.ChunkSize != 1024 {
		t.Errorf("Expected chunk size 1024, got %d", *sfs.ChunkSize)
	}
	if len(sfs.IndexFiles) != 2 || sfs.IndexFiles[0] != "index.htm" {
		t.Errorf("Unexpected index files %v", sfs.IndexFiles)
	}
	if sfs.MimeTypesMap[".md"] != "text/markdown" {
		t.Errorf("Expected .md mapping, got %v", sfs.MimeTypesMap)
	}
}

func TestParseAndValidateStaticFileServerConfig_Defaults(t *testing.T) {
	docRoot := t.TempDir()
	raw, _ := json.Marshal(map[string]string{"document_root": docRoot})

	sfs, err := ParseAndValidateStaticFileServerConfig(raw, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(sfs.IndexFiles) != 1 || sfs.IndexFiles[0] != "index.html" {
		t.Errorf("Expected default IndexFiles [index.html], got %v", sfs.IndexFiles)
	}
	if sfs.ServeDirectoryListing == nil || !*sfs.ServeDirectoryListing {
		t.Errorf("Expected directory listing enabled by default")
	}
	if sfs.ChunkSize == nil || *sfs.ChunkSize != 4096 {
		t.Errorf("Expected default chunk size 4096, got %v", sfs.ChunkSize)
	}
}

func TestParseAndValidateStaticFileServerConfig_Validations(t *testing.T) {
	docRoot := t.TempDir()
	regularFile := filepath.Join(docRoot, "file.txt")
	if err := os.WriteFile(regularFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rootJSON, _ := json.Marshal(docRoot)
	fileJSON, _ := json.Marshal(regularFile)

	tests := []struct {
		name        string
		raw         string
		mainConfig  string
		expectError string
	}{
		{"missing block", ``, "", "handler_config for StaticFileServer is required"},
		{"null block", `null`, "", "handler_config for StaticFileServer is required"},
		{"missing root", `{}`, "", "document_root is required"},
		{"relative root", `{"document_root": "www"}`, "", "must be an absolute path"},
		{"root is a file", `{"document_root": ` + string(fileJSON) + `}`, "", "is not a directory"},
		{"index with slash", `{"document_root": ` + string(rootJSON) + `, "index_files": ["a/index.html"]}`, "", "bare file name"},
		{"zero chunk size", `{"document_root": ` + string(rootJSON) + `, "chunk_size": 0}`, "", "chunk_size must be positive"},
		{"mime key without dot", `{"document_root": ` + string(rootJSON) + `, "mime_types_map": {"md": "text/markdown"}}`, "", "must start with '.'"},
		{"empty mime value", `{"document_root": ` + string(rootJSON) + `, "mime_types_map": {".md": ""}}`, "", "cannot be empty"},
		{"relative mime path without main config", `{"document_root": ` + string(rootJSON) + `, "mime_types_path": "mime.json"}`, "", "must be absolute"},
		{"unknown field", `{"document_root": ` + string(rootJSON) + `, "listing": true}`, "", "unknown field"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAndValidateStaticFileServerConfig(json.RawMessage(tc.raw), tc.mainConfig)
			checkErrorContains(t, err, tc.expectError)
		})
	}
}

func TestParseAndValidateStaticFileServerConfig_RelativeMimePath(t *testing.T) {
	docRoot := t.TempDir()
	raw, _ := json.Marshal(map[string]string{"document_root": docRoot, "mime_types_path": "types/mime.json"})
	mainCfg := filepath.Join(t.TempDir(), "server.toml")

	sfs, err := ParseAndValidateStaticFileServerConfig(raw, mainCfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := filepath.Join(filepath.Dir(mainCfg), "types", "mime.json")
	if *sfs.MimeTypesPath != want {
		t.Errorf("Expected mime_types_path %s, got %s", want, *sfs.MimeTypesPath)
	}
}

func TestNewStaticSiteConfig(t *testing.T) {
	docRoot := t.TempDir()
	cfg, err := NewStaticSiteConfig("127.0.0.1:0", docRoot, true)
	if err != nil {
		t.Fatalf("NewStaticSiteConfig failed: %v", err)
	}
	if *cfg.Server.Address != "127.0.0.1:0" {
		t.Errorf("Unexpected address %s", *cfg.Server.Address)
	}
	if len(cfg.Routing.Routes) != 1 {
		t.Fatalf("Expected one route, got %d", len(cfg.Routing.Routes))
	}
	route := cfg.Routing.Routes[0]
	if route.PathPattern != "/" || route.MatchType != MatchTypePrefix || route.HandlerType != StaticFileServerHandlerType {
		t.Errorf("Unexpected route %+v", route)
	}
	sfs, err := ParseAndValidateStaticFileServerConfig(json.RawMessage(route.HandlerConfig), "")
	if err != nil {
		t.Fatalf("Generated handler config does not validate: %v", err)
	}
	if sfs.DocumentRoot != docRoot {
		t.Errorf("Expected document root %s, got %s", docRoot, sfs.DocumentRoot)
	}
	if cfg.OriginalFilePath() != "" {
		t.Errorf("Expected empty original file path for a built config")
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		name      string
		inputJSON string
		inputTOML string
		expectErr string
		expectDur time.Duration
	}{
		{name: "valid duration json", inputJSON: `{"timeout": "10s"}`, expectDur: 10 * time.Second},
		{name: "valid duration toml", inputTOML: `timeout = "15m"`, expectDur: 15 * time.Minute},
		{name: "missing unit json", inputJSON: `{"timeout": "10"}`, expectErr: `invalid duration string "10"`},
		{name: "invalid toml", inputTOML: `timeout = "abc"`, expectErr: `invalid duration string "abc"`},
		{name: "zero json", inputJSON: `{"timeout": "0s"}`, expectErr: `duration must be positive, got "0s"`},
		{name: "negative toml", inputTOML: `timeout = "-1h"`, expectErr: `duration must be positive, got "-1h"`},
		{name: "number json", inputJSON: `{"timeout": 10}`, expectErr: "duration should be a string, got 10"},
		{name: "empty json", inputJSON: `{"timeout": ""}`, expectErr: "duration string cannot be empty"},
		{name: "null json", inputJSON: `{"timeout": null}`, expectErr: "duration string cannot be empty"},
	}

	type testStruct struct {
		Timeout Duration `json:"timeout" toml:"timeout"`
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var s testStruct
			var err error
			if tc.inputJSON != "" {
				err = json.Unmarshal([]byte(tc.inputJSON), &s)
			} else {
				err = toml.Unmarshal([]byte(tc.inputTOML), &s)
			}
			if tc.expectErr != "" {
				checkErrorContains(t, err, tc.expectErr)
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if s.Timeout.Value() != tc.expectDur {
				t.Errorf("Expected duration %v, got %v", tc.expectDur, s.Timeout.Value())
			}
		})
	}
}

func TestLoadConfig_OriginalFilePath(t *testing.T) {
	path := writeTempFile(t, `{"server": {"address": ":8080"}}`, ".json")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	abs, _ := filepath.Abs(path)
	if cfg.OriginalFilePath() != abs {
		t.Errorf("Expected OriginalFilePath() to be %q, got %q", abs, cfg.OriginalFilePath())
	}

	var nilCfg *Config
	if nilCfg.OriginalFilePath() != "" {
		t.Errorf("Expected OriginalFilePath() on nil config to be empty, got %q", nilCfg.OriginalFilePath())
	}
}

func TestIsFilePath(t *testing.T) {
	tests := []struct {
		target   string
		expected bool
	}{
		{"stdout", false},
		{"stderr", false},
		{"/var/log/app.log", true},
		{"logs/app.log", true},
		{"", true},
	}
	for _, tc := range tests {
		if actual := IsFilePath(tc.target); actual != tc.expected {
			t.Errorf("IsFilePath(%q) = %v; want %v", tc.target, actual, tc.expected)
		}
	}
}

func TestRawHandlerConfig_JSONRoundTrip(t *testing.T) {
	route := Route{PathPattern: "/", MatchType: MatchTypePrefix, HandlerType: "X", HandlerConfig: RawHandlerConfig(`{"a":1}`)}
	b, err := json.Marshal(route)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(b), `"handler_config":{"a":1}`) {
		t.Errorf("Expected raw handler config to be embedded verbatim, got %s", b)
	}

	var decoded Route
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if string(decoded.HandlerConfig) != `{"a":1}` {
		t.Errorf("Expected handler config {\"a\":1}, got %s", decoded.HandlerConfig)
	}
}
