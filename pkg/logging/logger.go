package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategorySession Category = "session"
	CategoryStream  Category = "stream"
	CategoryMailbox Category = "mailbox"
	CategoryBrowser Category = "browser"
	CategoryAPI     Category = "api"
	CategoryConfig  Category = "config"
	CategoryCLI     Category = "cli"
)

// Event represents a structured log event
type Event struct {
	Timestamp      time.Time      `json:"timestamp"`
	Level          Level          `json:"level"`
	Category       Category       `json:"category"`
	EventType      string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// Logger writes structured events to a debug log file, echoing
// warnings and errors to stderr so failures are visible without one.
type Logger struct {
	conversationID string
	debugFile      *os.File
	mu             sync.Mutex
	minLevel       Level
}

// NewLogger creates a structured logger. debugPath may be empty, in
// which case only the stderr echo is active. A file that cannot be
// opened degrades to stderr-only rather than failing the program.
func NewLogger(debugPath string) *Logger {
	l := &Logger{minLevel: LevelDebug}

	if debugPath == "" {
		return l
	}

	if dir := filepath.Dir(debugPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "backchannel: cannot create log directory %s: %v\n", dir, err)
			return l
		}
	}

	f, err := os.OpenFile(debugPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backchannel: cannot open debug log %s: %v\n", debugPath, err)
		return l
	}
	l.debugFile = f
	return l
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetConversationID tags subsequent events with the active conversation.
func (l *Logger) SetConversationID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conversationID = id
}

// Log writes an event to the debug file and echoes warn+ to stderr
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Tag with the active conversation if not provided
	if event.ConversationID == "" && l.conversationID != "" {
		event.ConversationID = l.conversationID
	}

	// Check min level
	if !l.shouldLog(event.Level) {
		return nil
	}

	if event.Level == LevelWarn || event.Level == LevelError {
		fmt.Fprintf(os.Stderr, "%s: %s\n", event.Level, event.Message)
	}

	if l.debugFile == nil {
		return nil
	}

	// Marshal event
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.debugFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to debug log: %w", err)
	}

	return nil
}

// shouldLog checks if event should be logged based on level
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// Helper methods for common log patterns

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelDebug,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelInfo,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelWarn,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelError,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Close closes the debug log file
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.debugFile == nil {
		return nil
	}
	err := l.debugFile.Close()
	l.debugFile = nil
	if err != nil {
		return fmt.Errorf("error closing debug log: %w", err)
	}
	return nil
}
