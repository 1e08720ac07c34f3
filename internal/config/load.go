package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultServerAddress           = "127.0.0.1:9999"
	defaultGracefulShutdownTimeout = "30s"
	defaultLogLevel                = LogLevelInfo
	defaultAccessLogEnabled        = true
	defaultAccessLogTarget         = "stdout"
	defaultAccessLogFormat         = "json"
	defaultAccessLogRealIPHeader   = "X-Forwarded-For"
	defaultErrorLogTarget          = "stderr"
)

// ConfigError describes a configuration problem tied to a file.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("config error")
	if e.FilePath != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.FilePath)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Duration is a time.Duration that decodes from strings such as "10s".
// Only positive durations are accepted.
type Duration struct {
	d time.Duration
}

// NewDuration wraps d. It does not validate.
func NewDuration(d time.Duration) *Duration { return &Duration{d: d} }

// Value returns the wrapped time.Duration. A nil receiver yields zero.
func (d *Duration) Value() time.Duration {
	if d == nil {
		return 0
	}
	return d.d
}

func (d Duration) String() string { return d.d.String() }

// UnmarshalText implements encoding.TextUnmarshaler (used by the TOML decoder).
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		return fmt.Errorf("duration string cannot be empty")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration string %q: %w", s, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("duration must be positive, got %q", s)
	}
	d.d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration should be a string, got %s", string(data))
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.d.String()), nil
}

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

// LoadConfig reads, parses, defaults and validates the configuration at filePath.
// Files ending in .json or .toml are parsed accordingly; any other extension
// is tried as JSON and then as TOML.
func LoadConfig(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, fmt.Errorf("configuration file path cannot be empty")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, &ConfigError{FilePath: filePath, Message: "failed to read configuration file", Err: err}
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		if err := decodeJSON(data, &cfg); err != nil {
			return nil, &ConfigError{FilePath: filePath, Message: "failed to parse JSON config", Err: err}
		}
	case ".toml":
		if err := decodeTOML(data, &cfg); err != nil {
			return nil, &ConfigError{FilePath: filePath, Message: "failed to parse TOML config", Err: err}
		}
	default:
		jsonErr := decodeJSON(data, &cfg)
		if jsonErr != nil {
			cfg = Config{}
			tomlErr := decodeTOML(data, &cfg)
			if tomlErr != nil {
				return nil, &ConfigError{
					FilePath: filePath,
					Message:  "failed to auto-detect and parse config",
					Err:      fmt.Errorf("JSON error: %v; TOML error: %v", jsonErr, tomlErr),
				}
			}
		}
	}

	if abs, err := filepath.Abs(filePath); err == nil {
		cfg.originalFilePath = abs
	} else {
		cfg.originalFilePath = filePath
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, &ConfigError{FilePath: filePath, Message: "invalid configuration", Err: err}
	}
	return &cfg, nil
}

func decodeJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func decodeTOML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("toml: empty input")
	}
	_, err := toml.Decode(string(data), cfg)
	return err
}

// ApplyDefaults fills every unset optional field with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Address == nil {
		cfg.Server.Address = strPtr(defaultServerAddress)
	}
	if cfg.Server.GracefulShutdownTimeout == nil {
		d := &Duration{}
		_ = d.UnmarshalText([]byte(defaultGracefulShutdownTimeout))
		cfg.Server.GracefulShutdownTimeout = d
	}
	if cfg.Server.MaxConnections == nil {
		zero := 0
		cfg.Server.MaxConnections = &zero
	}

	if cfg.Routing == nil {
		cfg.Routing = &RoutingConfig{}
	}
	if cfg.Routing.Routes == nil {
		cfg.Routing.Routes = []Route{}
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.LogLevel == "" {
		cfg.Logging.LogLevel = defaultLogLevel
	}
	if cfg.Logging.AccessLog == nil {
		cfg.Logging.AccessLog = &AccessLogConfig{}
	}
	al := cfg.Logging.AccessLog
	if al.Enabled == nil {
		enabled := defaultAccessLogEnabled
		al.Enabled = &enabled
	}
	if al.Target == nil {
		al.Target = strPtr(defaultAccessLogTarget)
	}
	if al.Format == "" {
		al.Format = defaultAccessLogFormat
	}
	if al.TrustedProxies == nil {
		al.TrustedProxies = []string{}
	}
	if al.RealIPHeader == nil {
		al.RealIPHeader = strPtr(defaultAccessLogRealIPHeader)
	}
	if cfg.Logging.ErrorLog == nil {
		cfg.Logging.ErrorLog = &ErrorLogConfig{}
	}
	if cfg.Logging.ErrorLog.Target == nil {
		cfg.Logging.ErrorLog.Target = strPtr(defaultErrorLogTarget)
	}
}

// Validate checks a defaulted configuration for semantic errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := validateServer(cfg.Server); err != nil {
		return err
	}
	if err := validateRouting(cfg.Routing); err != nil {
		return err
	}
	return validateLogging(cfg.Logging)
}

func validateServer(sc *ServerConfig) error {
	if sc == nil {
		return fmt.Errorf("server section is missing")
	}
	if sc.Address == nil || strings.TrimSpace(*sc.Address) == "" {
		return fmt.Errorf("server.address cannot be empty")
	}
	if sc.MaxConnections != nil && *sc.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections cannot be negative, got %d", *sc.MaxConnections)
	}
	hasCert := sc.TLSCertFile != nil && *sc.TLSCertFile != ""
	hasKey := sc.TLSKeyFile != nil && *sc.TLSKeyFile != ""
	if hasCert != hasKey {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	return nil
}

func validateRouting(rc *RoutingConfig) error {
	if rc == nil {
		return nil
	}
	type routeKey struct {
		pattern string
		match   MatchType
	}
	seen := make(map[routeKey]int, len(rc.Routes))
	for i, route := range rc.Routes {
		if route.PathPattern == "" || !strings.HasPrefix(route.PathPattern, "/") {
			return fmt.Errorf("routing.routes[%d]: path_pattern %q must start with '/'", i, route.PathPattern)
		}
		switch route.MatchType {
		case MatchTypeExact:
		case MatchTypePrefix:
			if !strings.HasSuffix(route.PathPattern, "/") {
				return fmt.Errorf("routing.routes[%d]: Prefix path_pattern %q must end with '/'", i, route.PathPattern)
			}
		default:
			return fmt.Errorf("routing.routes[%d]: invalid match_type %q (must be %q or %q)", i, route.MatchType, MatchTypeExact, MatchTypePrefix)
		}
		if route.HandlerType == "" {
			return fmt.Errorf("routing.routes[%d]: handler_type cannot be empty", i)
		}
		key := routeKey{route.PathPattern, route.MatchType}
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("routing.routes[%d]: duplicate route %s %q (first defined at index %d)", i, route.MatchType, route.PathPattern, prev)
		}
		seen[key] = i
	}
	return nil
}

func validateLogging(lc *LoggingConfig) error {
	if lc == nil {
		return fmt.Errorf("logging section is missing")
	}
	switch lc.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("logging.log_level %q is invalid", lc.LogLevel)
	}
	if al := lc.AccessLog; al != nil {
		if al.Format != "json" && al.Format != "text" {
			return fmt.Errorf("logging.access_log.format %q is invalid (must be \"json\" or \"text\")", al.Format)
		}
		if al.Target != nil {
			if err := validateLogTarget("logging.access_log.target", *al.Target); err != nil {
				return err
			}
		}
		for _, p := range al.TrustedProxies {
			p = strings.TrimSpace(p)
			if strings.Contains(p, "/") {
				if _, _, err := net.ParseCIDR(p); err != nil {
					return fmt.Errorf("logging.access_log.trusted_proxies: invalid CIDR %q: %w", p, err)
				}
			} else if net.ParseIP(p) == nil {
				return fmt.Errorf("logging.access_log.trusted_proxies: invalid IP %q", p)
			}
		}
	}
	if el := lc.ErrorLog; el != nil && el.Target != nil {
		if err := validateLogTarget("logging.error_log.target", *el.Target); err != nil {
			return err
		}
	}
	return nil
}

func validateLogTarget(field, target string) error {
	if !IsFilePath(target) {
		return nil
	}
	if target == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if !filepath.IsAbs(target) {
		return fmt.Errorf("%s %q must be \"stdout\", \"stderr\" or an absolute file path", field, target)
	}
	return nil
}

func strPtr(s string) *string { return &s }
