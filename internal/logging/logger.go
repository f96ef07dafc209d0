// Package logging provides the structured logger used throughout the core.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-logfmt/logfmt"
)

// Level represents the available log levels, ordered from most to least
// verbose. Off disables output entirely.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParseLevel parses one of the level names from the configuration grammar
// ("trace", "debug", "info", "warning"/"warn", "error", "off").
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "off":
		return LevelOff, nil
	default:
		return 0, fmt.Errorf("logging: unrecognized level %q", s)
	}
}

// Format selects how a record's key/value fields are rendered.
type Format string

const (
	FormatText   Format = "text"
	FormatLogfmt Format = "logfmt"
	FormatJSON   Format = "json"
)

// Config holds logging configuration.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer

	// Sync, when true, documents that the caller wants every call to
	// return only after bytes reach Output. The logger is always
	// synchronous under its own mutex, so this is a no-op kept for
	// callers migrating configuration from elsewhere.
	Sync bool

	// NoColor disables ANSI level coloring in the text format.
	NoColor bool
}

// DefaultConfig returns a sensible default configuration: info level, text
// format, stderr output.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: os.Stderr,
	}
}

// Logger is a level-gated, structured logger. Values returned by With*
// methods share the parent's output and level but carry additional fields
// that are prefixed onto every subsequent record.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	level   Level
	format  Format
	noColor bool
	fields  []any
}

// NewLogger creates a new logger from config, falling back to
// DefaultConfig's output and format where the given config leaves them
// unset.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = FormatText
	}
	return &Logger{
		out:     out,
		level:   config.Level,
		format:  format,
		noColor: config.NoColor,
	}
}

func (l *Logger) withFields(kv ...any) *Logger {
	fields := make([]any, 0, len(l.fields)+len(kv))
	fields = append(fields, l.fields...)
	fields = append(fields, kv...)
	return &Logger{
		out:     l.out,
		level:   l.level,
		format:  l.format,
		noColor: l.noColor,
		fields:  fields,
	}
}

// WithScope returns a logger whose records carry scope=<scope>. The module
// uses this to distinguish the unscoped default logger from the
// subsystem-scoped "vm" logger selected by log+vm= in the configuration
// string.
func (l *Logger) WithScope(scope string) *Logger {
	return l.withFields("scope", scope)
}

// WithComponent returns a logger whose records carry component=<name>,
// e.g. "tlbmanager" or "eventqueue".
func (l *Logger) WithComponent(name string) *Logger {
	return l.withFields("component", name)
}

// WithError returns a logger whose records carry the given error's message.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.withFields("error", err.Error())
}

var levelColor = map[Level]string{
	LevelTrace:   "\x1b[90m",
	LevelDebug:   "\x1b[36m",
	LevelInfo:    "\x1b[32m",
	LevelWarning: "\x1b[33m",
	LevelError:   "\x1b[31m",
}

const colorReset = "\x1b[0m"

func (l *Logger) log(level Level, msg string, args []any) {
	if l.level == LevelOff || level < l.level {
		return
	}
	all := make([]any, 0, len(l.fields)+len(args))
	all = append(all, l.fields...)
	all = append(all, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.format {
	case FormatJSON:
		l.writeJSON(level, msg, all)
	case FormatLogfmt:
		l.writeLogfmt(level, msg, all)
	default:
		l.writeText(level, msg, all)
	}
}

func (l *Logger) writeText(level Level, msg string, args []any) {
	label := strings.ToUpper(level.String())
	if !l.noColor {
		if c, ok := levelColor[level]; ok {
			label = c + label + colorReset
		}
	}
	fmt.Fprintf(l.out, "[%s] %s%s\n", label, msg, formatArgsText(args))
}

func formatArgsText(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(args); i += 2 {
		b.WriteByte(' ')
		fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
	}
	return b.String()
}

func (l *Logger) writeLogfmt(level Level, msg string, args []any) {
	enc := logfmt.NewEncoder(l.out)
	_ = enc.EncodeKeyval("level", level.String())
	_ = enc.EncodeKeyval("msg", msg)
	for i := 0; i+1 < len(args); i += 2 {
		_ = enc.EncodeKeyval(args[i], args[i+1])
	}
	_ = enc.EndRecord()
}

func (l *Logger) writeJSON(level Level, msg string, args []any) {
	rec := make(map[string]any, len(args)/2+2)
	rec["level"] = level.String()
	rec["msg"] = msg
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		rec[key] = args[i+1]
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.out.Write(append(b, '\n'))
}

func (l *Logger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarning, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args) }

// Printf-style variants, kept for callers porting format-string call sites.
func (l *Logger) Tracef(format string, args ...any) { l.log(LevelTrace, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarning, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...), nil) }

// Printf logs at info level, for compatibility with call sites written
// against the stdlib logger interface.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
	vmLogger      *Logger
)

// Default returns the process-wide default logger, creating it from
// DefaultConfig on first use.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// VM returns the subsystem-scoped logger selected by log+vm= in the
// configuration string. It defaults to Default().WithScope("vm") until
// SetVM overrides it with an independently leveled logger.
func VM() *Logger {
	mu.RLock()
	if vmLogger != nil {
		defer mu.RUnlock()
		return vmLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if vmLogger == nil {
		vmLogger = Default().WithScope("vm")
	}
	return vmLogger
}

// SetVM replaces the subsystem-scoped logger.
func SetVM(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	vmLogger = l
}

// Global convenience functions delegate to Default().
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
