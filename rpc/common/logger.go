package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dCommLogger writes "LEVEL | name | message" lines to the shared log output.
// Its level can be changed while other goroutines log.
type dCommLogger struct {
	name   string
	level  atomic.Int32
	logger *log.Logger
}

func (l *dCommLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *dCommLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *dCommLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *dCommLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *dCommLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *dCommLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

// Panicf always panics, the message is logged first
func (l *dCommLogger) Panicf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", "PANIC", l.name, message)
	panic(message)
}

func (l *dCommLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

// logWriter is the output shared by all application loggers
type logWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *logWriter) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

var logOutput = &logWriter{w: os.Stdout}

// SetLogOutput redirects every application logger to w
func SetLogOutput(w io.Writer) {
	logOutput.mu.Lock()
	defer logOutput.mu.Unlock()
	logOutput.w = w
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger is the logger.Factory of the application
func CreateLogger(pkgName string) logger.ILogger {
	l := &dCommLogger{
		name:   pkgName,
		logger: log.New(logOutput, "", log.Ldate|log.Ltime),
	}
	l.SetLevel(logger.INFO)
	return l
}

var installFactory sync.Once

// --------------------------------------------------------------------------
// Levels
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	case "critical":
		return logger.CRITICAL, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error, critical", level)
	}
}

// LogLevels is a default level plus levels for single loggers
type LogLevels struct {
	Default   logger.LogLevel
	Overrides map[string]logger.LogLevel
}

// For returns the level of the named logger
func (l LogLevels) For(name string) logger.LogLevel {
	if lvl, ok := l.Overrides[name]; ok {
		return lvl
	}
	return l.Default
}

// ParseLogLevels parses a comma separated level list such as
// "info,transport/rpc=debug,audio=warn". An entry without a name sets the default
// (info if absent), named entries must refer to one of LoggerNames.
func ParseLogLevels(spec string) (LogLevels, error) {
	levels := LogLevels{Default: logger.INFO, Overrides: map[string]logger.LogLevel{}}
	seenDefault := false

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, value, named := strings.Cut(entry, "=")
		lvl, err := ParseLogLevel(value)
		if !named {
			lvl, err = ParseLogLevel(name)
		}
		if err != nil {
			return LogLevels{}, err
		}

		if !named {
			if seenDefault {
				return LogLevels{}, fmt.Errorf("log levels %q set the default level twice", spec)
			}
			seenDefault = true
			levels.Default = lvl
			continue
		}

		name = strings.TrimSpace(name)
		if !slices.Contains(LoggerNames, name) {
			return LogLevels{}, fmt.Errorf("unknown logger %q (known: %s)", name, strings.Join(LoggerNames, ", "))
		}
		levels.Overrides[name] = lvl
	}
	return levels, nil
}

// IsDebug reports whether the logger name logs at debug level under spec. An
// invalid spec counts as not debug.
func IsDebug(spec, name string) bool {
	levels, err := ParseLogLevels(spec)
	return err == nil && levels.For(name) >= logger.DEBUG
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// LoggerNames lists every named logger used by the application
var LoggerNames = []string{
	"rpc",
	"transport/rpc",
	"registry",
	"client",
	"discovery",
	"audio",
	"echo",
}

// InitLoggers installs the custom logger factory (once per process) and sets the
// level of every application logger from spec, see ParseLogLevels.
func InitLoggers(spec string) error {
	levels, err := ParseLogLevels(spec)
	if err != nil {
		return err
	}

	installFactory.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(levels.For(name))
	}
	return nil
}
