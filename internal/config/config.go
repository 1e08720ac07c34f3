package config

import (
	"encoding/json"
	"fmt"
)

// MatchType defines how a path pattern is interpreted.
type MatchType string

const (
	// MatchTypeExact matches the path exactly.
	MatchTypeExact MatchType = "Exact"
	// MatchTypePrefix matches any path starting with the prefix.
	MatchTypePrefix MatchType = "Prefix"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty"`
	Routing *RoutingConfig `json:"routing,omitempty" toml:"routing,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty"`

	// originalFilePath is the absolute path the configuration was loaded from.
	// Empty for programmatically built configurations.
	originalFilePath string
}

// OriginalFilePath returns the path the configuration was loaded from.
func (c *Config) OriginalFilePath() string {
	if c == nil {
		return ""
	}
	return c.originalFilePath
}

// ServerConfig holds general server settings.
type ServerConfig struct {
	Address                 *string   `json:"address,omitempty" toml:"address,omitempty"`
	GracefulShutdownTimeout *Duration `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty"` // e.g., "30s"
	ReadTimeout             *Duration `json:"read_timeout,omitempty" toml:"read_timeout,omitempty"`
	WriteTimeout            *Duration `json:"write_timeout,omitempty" toml:"write_timeout,omitempty"`
	IdleTimeout             *Duration `json:"idle_timeout,omitempty" toml:"idle_timeout,omitempty"`
	// MaxConnections caps concurrently accepted connections. Zero means unlimited.
	MaxConnections *int    `json:"max_connections,omitempty" toml:"max_connections,omitempty"`
	TLSCertFile    *string `json:"tls_cert_file,omitempty" toml:"tls_cert_file,omitempty"`
	TLSKeyFile     *string `json:"tls_key_file,omitempty" toml:"tls_key_file,omitempty"`
}

// TLSEnabled reports whether both a certificate and a key are configured.
func (sc *ServerConfig) TLSEnabled() bool {
	return sc != nil &&
		sc.TLSCertFile != nil && *sc.TLSCertFile != "" &&
		sc.TLSKeyFile != nil && *sc.TLSKeyFile != ""
}

// RoutingConfig contains the list of routes.
type RoutingConfig struct {
	Routes []Route `json:"routes,omitempty" toml:"routes,omitempty"`
}

// Route defines a single routing rule.
type Route struct {
	PathPattern   string           `json:"path_pattern" toml:"path_pattern"`
	MatchType     MatchType        `json:"match_type" toml:"match_type"`
	HandlerType   string           `json:"handler_type" toml:"handler_type"`
	HandlerConfig RawHandlerConfig `json:"handler_config,omitempty" toml:"handler_config,omitempty"`
}

// RawHandlerConfig holds a handler's configuration block as JSON bytes.
// Handler factories decode it themselves. TOML tables are converted to JSON
// while the main configuration is decoded.
type RawHandlerConfig json.RawMessage

// MarshalJSON returns the raw bytes, or null when empty.
func (r RawHandlerConfig) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores a copy of data.
func (r *RawHandlerConfig) UnmarshalJSON(data []byte) error {
	if r == nil {
		return fmt.Errorf("config: UnmarshalJSON on nil RawHandlerConfig")
	}
	*r = append((*r)[0:0], data...)
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler by re-encoding the decoded TOML
// value as JSON.
func (r *RawHandlerConfig) UnmarshalTOML(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to convert TOML handler_config to JSON: %w", err)
	}
	*r = b
	return nil
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty"`
	Target         *string  `json:"target,omitempty" toml:"target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty"`
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target *string `json:"target,omitempty" toml:"target,omitempty"`
}

// StaticFileServerConfig is the HandlerConfig for "StaticFileServer" routes.
// It is unmarshalled from Route.HandlerConfig.
type StaticFileServerConfig struct {
	DocumentRoot          string            `json:"document_root" toml:"document_root"`
	IndexFiles            []string          `json:"index_files,omitempty" toml:"index_files,omitempty"`
	ServeDirectoryListing *bool             `json:"serve_directory_listing,omitempty" toml:"serve_directory_listing,omitempty"`
	ChunkSize             *int              `json:"chunk_size,omitempty" toml:"chunk_size,omitempty"`
	MimeTypesPath         *string           `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty"`
	MimeTypesMap          map[string]string `json:"mime_types_map,omitempty" toml:"mime_types_map,omitempty"`
}
