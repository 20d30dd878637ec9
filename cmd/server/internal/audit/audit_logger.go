// Package audit records security-relevant events as JSON lines.
package audit

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Event is one audit record. Metadata carries action-specific detail.
type Event struct {
	TS        string                 `json:"ts"`
	Action    string                 `json:"action"`
	Actor     string                 `json:"actor"`
	Role      string                 `json:"role"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata"`
	TraceID   string                 `json:"trace_id"`
	IP        string                 `json:"ip"`
	UserAgent string                 `json:"user_agent"`
}

// Logger records audit events. Recording must never fail a request, so the
// interface surfaces no error.
type Logger interface {
	Log(event Event)
}

// FileLogger appends JSONL events to a rotating file.
type FileLogger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
	log *slog.Logger
}

// NewFileLogger creates a logger writing to path, rotating at 50 MiB and
// keeping ten old files.
func NewFileLogger(path string, log *slog.Logger) *FileLogger {
	return &FileLogger{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50,
			MaxBackups: 10,
		},
		log: log,
	}
}

// Log writes one event. Failures are reported to the application log and
// otherwise swallowed.
func (f *FileLogger) Log(event Event) {
	if event.TS == "" {
		event.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Metadata == nil {
		event.Metadata = map[string]interface{}{}
	}
	line, err := json.Marshal(event)
	if err != nil {
		f.log.Warn("audit event marshal failed", "action", event.Action, "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.out.Write(append(line, '\n')); err != nil {
		f.log.Warn("audit event write failed", "action", event.Action, "error", err)
	}
}

// Close flushes and closes the underlying file.
func (f *FileLogger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}

// Nop discards every event, for tests.
type Nop struct{}

func (Nop) Log(Event) {}
