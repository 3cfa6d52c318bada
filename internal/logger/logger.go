// Package logger provides emberdb's structured event sink: a small leveled
// logger writing to a file plus console highlights.
package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level lists supported log severities.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// String renders the level's name, for inclusion in config summaries.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel parses a case-insensitive level name. An unrecognized name is
// an error rather than a silent fallback, so a config typo surfaces at
// startup instead of quietly downgrading to INFO.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return 0, fmt.Errorf("logger: unrecognized level %q", s)
	}
}

// Logger writes leveled messages to a file, and mirrors WARN/ERROR (plus
// explicit Console calls) to stdout.
type Logger struct {
	mu         sync.Mutex
	fileLogger *log.Logger
	consoleLog *log.Logger
	level      Level
	file       *os.File
	path       string
}

// New opens (creating if needed) logDir/prefix.log in append mode and
// returns a Logger at the given level. Closing it is the caller's
// responsibility.
func New(logDir string, level Level, prefix string) (*Logger, error) {
	if logDir == "" {
		logDir = "."
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	if prefix == "" {
		prefix = "emberdb"
	}
	path := filepath.Join(logDir, prefix+".log")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open log file: %w", err)
	}

	return &Logger{
		fileLogger: log.New(file, "", 0),
		consoleLog: log.New(os.Stdout, "", 0),
		level:      level,
		file:       file,
		path:       path,
	}, nil
}

// Close closes the backing log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Path returns the backing log file's path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Logger) toFile(level Level, format string, args []any) {
	if l == nil || level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fileLogger.Println(formatMessage(level, format, args))
}

func (l *Logger) toConsole(format string, args []any) {
	if l == nil {
		fmt.Printf(format+"\n", args...)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006/01/02 15:04:05")
	l.consoleLog.Printf("%s [emberdb] %s", ts, fmt.Sprintf(format, args...))
}

func formatMessage(level Level, format string, args []any) string {
	ts := time.Now().Format("2006/01/02 15:04:05")
	return fmt.Sprintf("%s [%s] %s", ts, levelNames[level], fmt.Sprintf(format, args...))
}

// Debug logs a file-only debug message.
func (l *Logger) Debug(format string, args ...any) { l.toFile(DEBUG, format, args) }

// Info logs a file-only info message.
func (l *Logger) Info(format string, args ...any) { l.toFile(INFO, format, args) }

// Warn logs a warning to both file and console.
func (l *Logger) Warn(format string, args ...any) {
	l.toFile(WARN, format, args)
	l.toConsole(format, args)
}

// Error logs an error to both file and console.
func (l *Logger) Error(format string, args ...any) {
	l.toFile(ERROR, format, args)
	l.toConsole(format, args)
}

// Console prints a status line to the console and mirrors it into the file
// at INFO level, for operator-facing lifecycle messages (listening on,
// snapshot loaded, shutting down).
func (l *Logger) Console(format string, args ...any) {
	l.toConsole(format, args)
	l.toFile(INFO, format, args)
}
