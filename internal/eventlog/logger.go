// Package eventlog records attempt and recorder events in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Attempt event types.
const (
	AttemptReceived  EventType = "attempt_received"
	AttemptFinalized EventType = "attempt_finalized"
	AttemptFailed    EventType = "attempt_failed"
)

// Recorder event types.
const (
	RecorderStarted EventType = "recorder_started"
	RecorderStopped EventType = "recorder_stopped"
	RecorderError   EventType = "recorder_error"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// AttemptDetails contains attempt-specific event details.
type AttemptDetails struct {
	Category  string `json:"category,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Score     *int   `json:"score,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Step      string `json:"step,omitempty"`
	Error     string `json:"error,omitempty"`
	Retry     bool   `json:"retry,omitempty"`
}

// RecorderDetails contains recorder-specific event details.
type RecorderDetails struct {
	Reason         string `json:"reason,omitempty"`
	DurationMs     int64  `json:"duration_ms,omitempty"`
	SpeechDetected bool   `json:"speech_detected,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file. A nil *Logger discards events.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "speaktrainer", "logs", strconv.Itoa(port), "events.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/speaktrainer", strconv.Itoa(port), "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// LogAttempt logs an attempt event.
func (l *Logger) LogAttempt(eventType EventType, attemptID, message string, details *AttemptDetails) error {
	return l.Log(&Event{
		Type:      eventType,
		AttemptID: attemptID,
		Message:   message,
		Details:   details,
	})
}

// LogRecorder logs a recorder event.
func (l *Logger) LogRecorder(eventType EventType, details *RecorderDetails) error {
	return l.Log(&Event{
		Type:    eventType,
		Details: details,
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll      TypeFilter = ""
	FilterAttempt  TypeFilter = "attempt"
	FilterRecorder TypeFilter = "recorder"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast returns up to n events after skipping offset, newest first,
// filtered by type. hasMore reports whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) (events []Event, hasMore bool, err error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events = make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}
	return events, false, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterAll:
		return true
	case FilterAttempt:
		return IsAttemptEvent(t)
	case FilterRecorder:
		return IsRecorderEvent(t)
	default:
		return false
	}
}

// IsAttemptEvent returns true if the event type is an attempt event.
func IsAttemptEvent(t EventType) bool {
	return strings.HasPrefix(string(t), "attempt_")
}

// IsRecorderEvent returns true if the event type is a recorder event.
func IsRecorderEvent(t EventType) bool {
	return strings.HasPrefix(string(t), "recorder_")
}
