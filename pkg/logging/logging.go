package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo // Default to INFO for unknown
	}
}

// ParseLevel converts a level name (debug, info, warn, error) into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Format selects the handler used to render log records.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger

	// bridgeTarget is the handler controller-runtime and klog write to.
	bridgeTarget atomic.Pointer[slog.Handler]
	bridgeOnce   sync.Once
)

// Init initializes the package logger and routes controller-runtime and
// klog (client-go) output through the same handler. Calling it again
// retargets all three.
func Init(level LogLevel, format Format, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level: level.SlogLevel(),
	}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(handler)

	mu.Lock()
	defaultLogger = logger
	mu.Unlock()

	slog.SetDefault(logger)
	bridgeTarget.Store(&handler)
	bridgeOnce.Do(registerBridge)
}

// InitForCLI initializes text logging to the given writer.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	Init(filterLevel, FormatText, output)
}

// registerBridge hands controller-runtime and klog a handler that follows
// bridgeTarget. controller-runtime only accepts the first SetLogger call.
func registerBridge() {
	ctrl.SetLogger(logr.FromSlogHandler(bridgeHandler{}.WithAttrs([]slog.Attr{
		slog.String("subsystem", "controller-runtime"),
	})))
	klog.SetSlogLogger(slog.New(bridgeHandler{}.WithAttrs([]slog.Attr{
		slog.String("subsystem", "client-go"),
	})))
}

// bridgeHandler forwards to the handler installed by the latest Init,
// replaying the attributes and groups added to it.
type bridgeHandler struct {
	wrap []func(slog.Handler) slog.Handler
}

func (b bridgeHandler) target() slog.Handler {
	p := bridgeTarget.Load()
	if p == nil {
		return nil
	}
	h := *p
	for _, w := range b.wrap {
		h = w(h)
	}
	return h
}

func (b bridgeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	h := b.target()
	return h != nil && h.Enabled(ctx, level)
}

func (b bridgeHandler) Handle(ctx context.Context, r slog.Record) error {
	h := b.target()
	if h == nil {
		return nil
	}
	return h.Handle(ctx, r)
}

func (b bridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return bridgeHandler{wrap: append(slices.Clip(b.wrap), func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	})}
}

func (b bridgeHandler) WithGroup(name string) slog.Handler {
	return bridgeHandler{wrap: append(slices.Clip(b.wrap), func(h slog.Handler) slog.Handler {
		return h.WithGroup(name)
	})}
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()

	if logger == nil || !logger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	attrs := []slog.Attr{slog.String("subsystem", subsystem)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	logger.LogAttrs(context.Background(), level.SlogLevel(), msg, attrs...)
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// Since is a small helper for duration fields in log messages.
func Since(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
