package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultConversationQueueSize = 1000
	anonymousUserDir             = "anonymous"
)

// ConversationLogEvent is one NDJSON line of the conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id"`
	ChatID     string         `json:"chat_id,omitempty"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogConfig configures NewConversationLogger.
type ConversationLogConfig struct {
	Enabled bool
	// Dir receives one file per session at Dir/<user>/<session>.ndjson.
	Dir string
	// GlobalEnabled additionally appends every event to GlobalPath.
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogger records chat traffic for offline review.
// Log never blocks; events are dropped when the queue is full.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NoopConversationLogger returns a logger that discards every event.
func NoopConversationLogger() ConversationLogger { return noopConversationLogger{} }

type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewConversationLogger starts the background writer. A disabled config
// yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if cfg.GlobalEnabled && cfg.GlobalPath == "" {
		return nil, errors.New("conversation log global path is required when global logging is enabled")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultConversationQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

// Close drains queued events and stops the writer.
func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("Failed to encode conversation log event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(l.sessionPath(event), line); err != nil {
			l.logger.Warn("Failed to write conversation log", "session_id", event.SessionID, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("Failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *fileConversationLogger) sessionPath(event ConversationLogEvent) string {
	user := safePathComponent(event.UserID)
	if user == "" {
		user = anonymousUserDir
	}
	session := safePathComponent(event.SessionID)
	if session == "" {
		session = "unknown"
	}
	return filepath.Join(l.cfg.Dir, user, session+".ndjson")
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safePathComponent(s string) string {
	s = unsafePathChars.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, ".")
}

var (
	ansiCSI = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	ansiOSC = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
)

// cleanForReadability strips terminal escapes and control characters.
func cleanForReadability(s string) string {
	s = ansiOSC.ReplaceAllString(s, "")
	s = ansiCSI.ReplaceAllString(s, "")
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
