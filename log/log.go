// Package log provides the leveled logger used across the pkd-management
// and pkd-relay services, in the shape every other package refers to as
// blog.Logger.
package log

import (
	"fmt"
	"log/syslog"
	"os"
	"sync"
)

// Logger is the interface every component depends on instead of a
// process-wide global.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
	Err(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errf(format string, args ...interface{})
}

// impl is the production logger: syslog when available, stderr fallback.
type impl struct {
	tag    string
	writer *syslog.Writer
	mu     sync.Mutex
}

// Dial connects to a syslog daemon and returns a Logger tagged with the
// given application name. If network is empty, Dial falls back to a
// stderr-only logger so that local development never requires syslog.
func Dial(network, addr, tag string) (Logger, error) {
	if network == "" {
		return &stderrLogger{tag: tag}, nil
	}
	w, err := syslog.Dial(network, addr, syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("log: dial syslog: %w", err)
	}
	return &impl{tag: tag, writer: w}, nil
}

func (l *impl) write(level string, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("[%s] %s: %s", l.tag, level, msg)
	switch level {
	case "ERR":
		_ = l.writer.Err(line)
	case "WARNING":
		_ = l.writer.Warning(line)
	case "DEBUG":
		_ = l.writer.Debug(line)
	default:
		_ = l.writer.Info(line)
	}
}

func (l *impl) Debug(msg string)   { l.write("DEBUG", msg) }
func (l *impl) Info(msg string)    { l.write("INFO", msg) }
func (l *impl) Warning(msg string) { l.write("WARNING", msg) }
func (l *impl) Err(msg string)     { l.write("ERR", msg) }

func (l *impl) Debugf(format string, args ...interface{})   { l.Debug(fmt.Sprintf(format, args...)) }
func (l *impl) Infof(format string, args ...interface{})    { l.Info(fmt.Sprintf(format, args...)) }
func (l *impl) Warningf(format string, args ...interface{}) { l.Warning(fmt.Sprintf(format, args...)) }
func (l *impl) Errf(format string, args ...interface{})     { l.Err(fmt.Sprintf(format, args...)) }

// stderrLogger is used outside of a syslog-equipped environment.
type stderrLogger struct {
	tag string
	mu  sync.Mutex
}

func (l *stderrLogger) write(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", l.tag, level, msg)
}

func (l *stderrLogger) Debug(msg string)   { l.write("DEBUG", msg) }
func (l *stderrLogger) Info(msg string)    { l.write("INFO", msg) }
func (l *stderrLogger) Warning(msg string) { l.write("WARNING", msg) }
func (l *stderrLogger) Err(msg string)     { l.write("ERR", msg) }

func (l *stderrLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
func (l *stderrLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}
func (l *stderrLogger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}
func (l *stderrLogger) Errf(format string, args ...interface{}) {
	l.Err(fmt.Sprintf(format, args...))
}

// mockLogger records lines in memory for test assertions.
type mockLogger struct {
	mu    sync.Mutex
	lines []string
}

// NewMock returns an in-memory Logger for unit tests.
func NewMock() Logger {
	return &mockLogger{}
}

func (l *mockLogger) write(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s: %s", level, msg))
}

func (l *mockLogger) Debug(msg string)   { l.write("DEBUG", msg) }
func (l *mockLogger) Info(msg string)    { l.write("INFO", msg) }
func (l *mockLogger) Warning(msg string) { l.write("WARNING", msg) }
func (l *mockLogger) Err(msg string)     { l.write("ERR", msg) }

func (l *mockLogger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
func (l *mockLogger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}
func (l *mockLogger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}
func (l *mockLogger) Errf(format string, args ...interface{}) {
	l.Err(fmt.Sprintf(format, args...))
}

// GetAll returns the recorded lines, for test assertions.
func (l *mockLogger) GetAll() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}
