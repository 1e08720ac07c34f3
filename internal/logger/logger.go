package logger

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/rangehttp/internal/config"
)

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

// timestampFormat is ISO 8601 with millisecond precision, UTC.
const timestampFormat = "2006-01-02T15:04:05.000Z"

// reopenableWriter is an io.Writer whose target file can be swapped at runtime
// (SIGHUP) without rebuilding the zerolog loggers that write through it.
type reopenableWriter struct {
	mu   sync.Mutex
	w    io.Writer
	file *os.File // nil for stdout/stderr/custom writers
	path string
}

func (rw *reopenableWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.w.Write(p)
}

func (rw *reopenableWriter) reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	if err := rw.file.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing log file %s during reopen: %v\n", rw.path, err)
	}
	f, err := openLogFile(rw.path)
	if err != nil {
		rw.w = os.Stderr
		rw.file = nil
		return fmt.Errorf("failed to reopen log file %s: %w", rw.path, err)
	}
	rw.w = f
	rw.file = f
	return nil
}

func (rw *reopenableWriter) close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	rw.w = io.Discard
	return err
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

func newTargetWriter(target string) (*reopenableWriter, error) {
	switch target {
	case "", "stderr":
		return &reopenableWriter{w: os.Stderr}, nil
	case "stdout":
		return &reopenableWriter{w: os.Stdout}, nil
	}
	f, err := openLogFile(target)
	if err != nil {
		return nil, err
	}
	return &reopenableWriter{w: f, file: f, path: target}, nil
}

// AccessLogger writes one entry per completed request.
type AccessLogger struct {
	zl            zerolog.Logger
	realIPHeader  string
	parsedProxies parsedProxiesContainer
	output        *reopenableWriter
}

// Logger is the server-wide logger. It pairs a level-filtered error log with
// an optional access log.
type Logger struct {
	errorLog  zerolog.Logger
	errorOut  *reopenableWriter
	accessLog *AccessLogger
}

func init() {
	zerolog.TimeFieldFormat = timestampFormat
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		switch l {
		case zerolog.DebugLevel:
			return string(config.LogLevelDebug)
		case zerolog.WarnLevel:
			return string(config.LogLevelWarning)
		case zerolog.ErrorLevel:
			return string(config.LogLevelError)
		default:
			return string(config.LogLevelInfo)
		}
	}
}

// zerologLevel maps a configured level to zerolog's.
func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates and configures a new Logger instance.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	errTarget := "stderr"
	if cfg.ErrorLog != nil && cfg.ErrorLog.Target != nil {
		errTarget = *cfg.ErrorLog.Target
	}
	errOut, err := newTargetWriter(errTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log file %s: %w", errTarget, err)
	}

	l := &Logger{
		errorLog: newErrorZerolog(errOut, cfg.LogLevel),
		errorOut: errOut,
	}

	if al := cfg.AccessLog; al != nil && (al.Enabled == nil || *al.Enabled) {
		accessTarget := "stdout"
		if al.Target != nil {
			accessTarget = *al.Target
		}
		parsedProxies, err := preParseTrustedProxies(al.TrustedProxies)
		if err != nil {
			errOut.close()
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", err)
		}
		accessOut, err := newTargetWriter(accessTarget)
		if err != nil {
			errOut.close()
			return nil, fmt.Errorf("failed to open access log file %s: %w", accessTarget, err)
		}
		realIPHeader := ""
		if al.RealIPHeader != nil {
			realIPHeader = *al.RealIPHeader
		}
		l.accessLog = &AccessLogger{
			zl:            newAccessZerolog(accessOut, al.Format),
			realIPHeader:  realIPHeader,
			parsedProxies: parsedProxies,
			output:        accessOut,
		}
	}

	return l, nil
}

// NewWriterLogger builds a Logger over arbitrary writers. accessOut may be nil
// to disable access logging. Mostly useful in tests.
func NewWriterLogger(errorOut, accessOut io.Writer, level config.LogLevel) *Logger {
	errW := &reopenableWriter{w: errorOut}
	l := &Logger{
		errorLog: newErrorZerolog(errW, level),
		errorOut: errW,
	}
	if accessOut != nil {
		accW := &reopenableWriter{w: accessOut}
		l.accessLog = &AccessLogger{
			zl:     newAccessZerolog(accW, "json"),
			output: accW,
		}
	}
	return l
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return NewWriterLogger(io.Discard, nil, config.LogLevelError)
}

func newErrorZerolog(w io.Writer, level config.LogLevel) zerolog.Logger {
	return zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Logger()
}

func newAccessZerolog(w io.Writer, format string) zerolog.Logger {
	if format == "text" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: timestampFormat}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func (l *Logger) event(e *zerolog.Event, msg string, fields []LogFields) {
	if e == nil {
		return
	}
	for _, f := range fields {
		if f != nil {
			e = e.Fields(map[string]interface{}(f))
		}
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...LogFields) {
	if l == nil {
		return
	}
	l.event(l.errorLog.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...LogFields) {
	if l == nil {
		return
	}
	l.event(l.errorLog.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	if l == nil {
		return
	}
	l.event(l.errorLog.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	if l == nil {
		return
	}
	l.event(l.errorLog.Error(), msg, fields)
}

// DebugEnabled reports whether debug entries would be written.
func (l *Logger) DebugEnabled() bool {
	return l != nil && l.errorLog.GetLevel() <= zerolog.DebugLevel
}

// Access records a completed request.
func (l *Logger) Access(req *http.Request, requestID uint64, status int, responseBytes int64, duration time.Duration) {
	if l == nil || l.accessLog == nil {
		return
	}
	l.accessLog.LogAccess(req, requestID, status, responseBytes, duration)
}

// LogAccess constructs and writes an access log entry.
func (al *AccessLogger) LogAccess(req *http.Request, requestID uint64, status int, responseBytes int64, duration time.Duration) {
	_, clientPort, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		clientPort = "0"
	}
	remoteAddr := getRealClientIP(req.RemoteAddr, req.Header, al.realIPHeader, al.parsedProxies)

	e := al.zl.Log().
		Str("remote_addr", remoteAddr).
		Str("remote_port", clientPort).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds()).
		Uint64("request_id", requestID)
	if ua := req.UserAgent(); ua != "" {
		e = e.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		e = e.Str("referer", ref)
	}
	e.Send()
}

// ReopenLogFiles closes and reopens file-based targets. Called on SIGHUP so
// external log rotation can move the old files away.
func (l *Logger) ReopenLogFiles() error {
	if l == nil {
		return nil
	}
	var firstErr error
	if err := l.errorOut.reopen(); err != nil {
		firstErr = err
	}
	if l.accessLog != nil {
		if err := l.accessLog.output.reopen(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CloseLogFiles closes any open log files. Standard streams are left open.
func (l *Logger) CloseLogFiles() error {
	if l == nil {
		return nil
	}
	var firstErr error
	if l.accessLog != nil {
		if err := l.accessLog.output.close(); err != nil {
			firstErr = err
		}
	}
	if err := l.errorOut.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type stdLogBridge struct {
	l      *Logger
	source string
}

func (b stdLogBridge) Write(p []byte) (int, error) {
	b.l.Warn(strings.TrimRight(string(p), "\n"), LogFields{"source": b.source})
	return len(p), nil
}

// StdLogger returns a standard library logger whose lines land in the error
// log at WARNING level, tagged with source.
func (l *Logger) StdLogger(source string) *log.Logger {
	return log.New(stdLogBridge{l: l, source: source}, "", 0)
}
