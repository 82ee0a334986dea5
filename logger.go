package sharding

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel controls how much the sharding package logs.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	case LogLevelTrace:
		return "trace"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// DefaultLogLevel mirrors the configured level so hot paths can skip
// formatting log arguments.
var DefaultLogLevel = LogLevelInfo

// Logger defines the interface for logging in the sharding package.
// This allows users to plug in their own logging implementations.
type Logger interface {
	// Error logs error messages that should always be displayed
	Error(format string, args ...interface{})

	// Warn logs routes the caller should look at, such as cartesian or
	// full scatter routes. Warnings are shown at Info level and above.
	Warn(format string, args ...interface{})

	Info(format string, args ...interface{})
	Debug(format string, args ...interface{})
	Trace(format string, args ...interface{})

	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

// StandardLogger writes "[LEVEL] message" lines through the log package.
type StandardLogger struct {
	mutex sync.RWMutex
	level LogLevel
	log   *log.Logger
}

// NewStandardLogger creates a new StandardLogger with the specified level and output
func NewStandardLogger(level LogLevel, out io.Writer, showTime bool) *StandardLogger {
	flags := 0
	if showTime {
		flags = log.LstdFlags
	}
	return &StandardLogger{
		level: level,
		log:   log.New(out, "", flags),
	}
}

func (l *StandardLogger) printf(min LogLevel, prefix, format string, args []interface{}) {
	if l.GetLevel() >= min {
		l.log.Printf(prefix+format, args...)
	}
}

func (l *StandardLogger) Error(format string, args ...interface{}) {
	l.printf(LogLevelError, "[ERROR] ", format, args)
}

func (l *StandardLogger) Warn(format string, args ...interface{}) {
	l.printf(LogLevelInfo, "[WARN] ", format, args)
}

func (l *StandardLogger) Info(format string, args ...interface{}) {
	l.printf(LogLevelInfo, "[INFO] ", format, args)
}

func (l *StandardLogger) Debug(format string, args ...interface{}) {
	l.printf(LogLevelDebug, "[DEBUG] ", format, args)
}

func (l *StandardLogger) Trace(format string, args ...interface{}) {
	l.printf(LogLevelTrace, "[TRACE] ", format, args)
}

func (l *StandardLogger) SetLevel(level LogLevel) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.level = level
}

func (l *StandardLogger) GetLevel() LogLevel {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.level
}

// MockLogrusProvider stands in for logrus in tests.
type MockLogrusProvider interface {
	Error(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
	Trace(msg string, args ...interface{})
	SetLevel(level int)
	GetLevel() int
}

// LogrumLogger implements Logger on top of logrus. Every entry carries the
// configured application name as the "app" field.
type LogrumLogger struct {
	mutex        sync.RWMutex
	level        LogLevel
	entry        *logrus.Entry
	mockProvider MockLogrusProvider
}

// NewLogrumLogger returns a logrus backed logger writing to stdout at Info
// level.
func NewLogrumLogger() *LogrumLogger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	return newLogrumLogger(base, LogLevelInfo, "sharding")
}

func newLogrumLogger(base *logrus.Logger, level LogLevel, appName string) *LogrumLogger {
	base.SetLevel(logrusLevel(level))
	fields := logrus.Fields{}
	if appName != "" {
		fields["app"] = appName
	}
	return &LogrumLogger{level: level, entry: base.WithFields(fields)}
}

// NewLogrumLoggerWithProvider creates a LogrumLogger that forwards to
// provider instead of logrus.
func NewLogrumLoggerWithProvider(provider MockLogrusProvider) *LogrumLogger {
	return &LogrumLogger{
		level:        LogLevel(provider.GetLevel()),
		mockProvider: provider,
	}
}

func (l *LogrumLogger) logAt(min LogLevel, level logrus.Level, format string, args []interface{}) {
	l.mutex.RLock()
	current := l.level
	l.mutex.RUnlock()
	if current < min {
		return
	}
	if l.mockProvider == nil {
		l.entry.Logf(level, format, args...)
		return
	}
	switch level {
	case logrus.ErrorLevel:
		l.mockProvider.Error(format, args...)
	case logrus.WarnLevel:
		l.mockProvider.Warn(format, args...)
	case logrus.InfoLevel:
		l.mockProvider.Info(format, args...)
	case logrus.DebugLevel:
		l.mockProvider.Debug(format, args...)
	default:
		l.mockProvider.Trace(format, args...)
	}
}

func (l *LogrumLogger) Error(format string, args ...interface{}) {
	l.logAt(LogLevelError, logrus.ErrorLevel, format, args)
}

func (l *LogrumLogger) Warn(format string, args ...interface{}) {
	l.logAt(LogLevelInfo, logrus.WarnLevel, format, args)
}

func (l *LogrumLogger) Info(format string, args ...interface{}) {
	l.logAt(LogLevelInfo, logrus.InfoLevel, format, args)
}

func (l *LogrumLogger) Debug(format string, args ...interface{}) {
	l.logAt(LogLevelDebug, logrus.DebugLevel, format, args)
}

func (l *LogrumLogger) Trace(format string, args ...interface{}) {
	l.logAt(LogLevelTrace, logrus.TraceLevel, format, args)
}

// SetLevel changes the level of the logger and of the logrus logger
// behind it.
func (l *LogrumLogger) SetLevel(level LogLevel) {
	l.mutex.Lock()
	l.level = level
	l.mutex.Unlock()

	if l.mockProvider != nil {
		l.mockProvider.SetLevel(MapToLogrumLevel(level))
		return
	}
	l.entry.Logger.SetLevel(logrusLevel(level))
}

func (l *LogrumLogger) GetLevel() LogLevel {
	if l.mockProvider != nil {
		return LogLevel(l.mockProvider.GetLevel())
	}
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.level
}

// MapToLogrumLevel maps a LogLevel onto the integer levels of a
// MockLogrusProvider. Unknown levels map to Info.
func MapToLogrumLevel(level LogLevel) int {
	if level < LogLevelError || level > LogLevelTrace {
		return int(LogLevelInfo)
	}
	return int(level)
}

func logrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelError:
		return logrus.ErrorLevel
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelTrace:
		return logrus.TraceLevel
	}
	return logrus.InfoLevel
}

var (
	defaultLogger Logger = NewStandardLogger(LogLevelInfo, os.Stdout, true)
	loggerMutex   sync.RWMutex
)

// GetLogger returns the current global logger
func GetLogger() Logger {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	return defaultLogger
}

// SetLogger sets a custom logger as the global logger
func SetLogger(logger Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	defaultLogger = logger
}

// openLogOutput resolves "stdout", "stderr" or a file path. A file that can
// not be opened falls back to stderr.
func openLogOutput(output string) io.Writer {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v\n", output, err)
		return os.Stderr
	}
	return file
}

// newConfiguredLogger builds the logger described by config.
func newConfiguredLogger(config LogConfig) Logger {
	out := openLogOutput(config.Output)
	if !config.UseLogrum {
		return NewStandardLogger(config.Level, out, config.ShowTime)
	}

	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: !config.ShowTime,
		FullTimestamp:    config.ShowTime,
		TimestampFormat:  config.LogrumOptions.TimestampFormat,
	})
	base.SetReportCaller(config.LogrumOptions.IncludeCaller)
	return newLogrumLogger(base, config.Level, config.LogrumOptions.AppName)
}

func errorLog(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

func warnLog(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

func infoLog(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

func debugLog(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

func traceLog(format string, args ...interface{}) {
	GetLogger().Trace(format, args...)
}
