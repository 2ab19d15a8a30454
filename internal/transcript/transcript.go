// Package transcript records every message exchanged on a collection
// connection as newline-delimited JSON.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/briefsmith/internal/config"
)

// Directions.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Event is one transcript line.
type Event struct {
	Timestamp  string         `json:"ts"`
	OwnerID    string         `json:"owner_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger accepts transcript events.
type Logger interface {
	Log(Event)
	Close() error
}

// Noop discards events.
type Noop struct{}

// Log does nothing.
func (Noop) Log(Event) {}

// Close does nothing.
func (Noop) Close() error { return nil }

// FileLogger writes events to dir/<owner>/<session>.ndjson and optionally to
// one global file. Log never blocks; when the queue is full the oldest
// queued event is dropped.
type FileLogger struct {
	cfg    config.ConversationLogConfig
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// Owned by the worker goroutine.
	files  map[string]*os.File
	global *os.File
}

// New returns a FileLogger, or Noop when logging is disabled.
func New(cfg config.ConversationLogConfig, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewFileLogger(cfg, logger)
}

// NewFileLogger creates the log directory and starts the writer.
func NewFileLogger(cfg config.ConversationLogConfig, logger *slog.Logger) (*FileLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &FileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open global transcript: %w", err)
		}
		l.global = f
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log queues ev. Missing timestamps and readable content are filled in.
func (l *FileLogger) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	select {
	case <-l.done:
		return
	default:
	}

	select {
	case l.queue <- ev:
		return
	default:
	}

	// Queue full: drop the oldest event to make room.
	select {
	case <-l.queue:
		l.logger.Warn("Transcript queue full, dropped oldest event", "session_id", ev.SessionID)
	default:
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Transcript event dropped", "session_id", ev.SessionID, "event_type", ev.EventType)
	}
}

func (l *FileLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.queue:
			l.write(ev)
		case <-l.done:
			// Flush whatever is still queued.
			for {
				select {
				case ev := <-l.queue:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *FileLogger) write(ev Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("Failed to encode transcript event", "error", err)
		return
	}
	line = append(line, '\n')

	f, err := l.sessionFile(ev.OwnerID, ev.SessionID)
	if err != nil {
		l.logger.Warn("Failed to open transcript file", "session_id", ev.SessionID, "error", err)
	} else if _, err := f.Write(line); err != nil {
		l.logger.Warn("Failed to write transcript", "session_id", ev.SessionID, "error", err)
	}

	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			l.logger.Warn("Failed to write global transcript", "error", err)
		}
	}
}

func (l *FileLogger) sessionFile(ownerID, sessionID string) (*os.File, error) {
	path := Path(l.cfg.Dir, ownerID, sessionID)
	if f, ok := l.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.files[path] = f
	return f, nil
}

// Close flushes queued events and closes every file. It is safe to call
// more than once.
func (l *FileLogger) Close() error {
	var firstErr error
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
		for _, f := range l.files {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if l.global != nil {
			if err := l.global.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Path returns the transcript file for a session.
func Path(dir, ownerID, sessionID string) string {
	return filepath.Join(dir, safeName(ownerID, "anonymous"), safeName(sessionID, "unknown")+".ndjson")
}

func safeName(s, fallback string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return fallback
	}
	return s
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)

// cleanForReadability strips terminal escape sequences and control
// characters other than newlines and tabs.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
