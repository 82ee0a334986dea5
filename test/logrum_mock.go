package test

import (
	"bytes"
	"fmt"
	"sync"
)

// MockLogrum is a mock implementation of the logrus interface for testing
type MockLogrum struct {
	mu    sync.Mutex
	buf   *bytes.Buffer
	level int
}

// NewMockLogrum creates a new MockLogrum instance for testing
func NewMockLogrum() *MockLogrum {
	return &MockLogrum{
		buf:   &bytes.Buffer{},
		level: 0, // Default to error level
	}
}

func (l *MockLogrum) write(minLevel int, prefix, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level >= minLevel {
		fmt.Fprintf(l.buf, prefix+" "+msg+"\n", args...)
	}
}

// Error logs at error level
func (l *MockLogrum) Error(msg string, args ...interface{}) {
	l.write(0, "[ERROR]", msg, args...)
}

// Warn logs at info level
func (l *MockLogrum) Warn(msg string, args ...interface{}) {
	l.write(1, "[WARN]", msg, args...)
}

func (l *MockLogrum) Info(msg string, args ...interface{}) {
	l.write(1, "[INFO]", msg, args...)
}

func (l *MockLogrum) Debug(msg string, args ...interface{}) {
	l.write(2, "[DEBUG]", msg, args...)
}

func (l *MockLogrum) Trace(msg string, args ...interface{}) {
	l.write(3, "[TRACE]", msg, args...)
}

// SetLevel sets the logging level
func (l *MockLogrum) SetLevel(level int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *MockLogrum) GetLevel() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// GetOutput returns the logged output
func (l *MockLogrum) GetOutput() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// Reset clears the buffer
func (l *MockLogrum) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Reset()
}
