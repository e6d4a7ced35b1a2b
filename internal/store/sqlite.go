package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/resilience"
	"github.com/ashureev/smartrecall/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	locks *sessionLocks
	retry *resilience.Retry
	now   func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets readers proceed while a session write is in flight.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:    db,
		locks: newSessionLocks(),
		now:   time.Now,
		retry: resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			RetryIf:      shared.IsSQLiteConflictError,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				slog.Debug("SQLite write conflict, retrying", "attempt", attempt, "delay", delay, "error", err)
			},
		}),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so other components can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS chats (
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		chat_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, chat_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id, chat_id) REFERENCES chats(session_id, chat_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(session_id, chat_id, id);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		brand TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		sale_price REAL NOT NULL DEFAULT 0,
		market_price REAL NOT NULL DEFAULT 0,
		rating REAL NOT NULL DEFAULT 0,
		is_on_sale INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS cart_items (
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		added_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, product_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// writeSession runs fn in a transaction while holding the session lock,
// retrying on SQLite lock contention.
func (s *SQLiteStore) writeSession(ctx context.Context, sessionID string, fn func(tx *sql.Tx) error) error {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	return s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.inTx(ctx, fn)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func ensureSession(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

func ensureChat(ctx context.Context, tx *sql.Tx, sessionID, chatID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chats (session_id, chat_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id, chat_id) DO NOTHING`,
		sessionID, chatID, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("ensure chat: %w", err)
	}
	return nil
}

func touchSession(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`, now.UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// GetOrCreateHistory returns the chat transcript, materialising the session and chat.
func (s *SQLiteStore) GetOrCreateHistory(ctx context.Context, sessionID, chatID string) ([]domain.Message, error) {
	var history []domain.Message
	err := s.writeSession(ctx, sessionID, func(tx *sql.Tx) error {
		now := s.now()
		if err := ensureSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		if err := ensureChat(ctx, tx, sessionID, chatID, now); err != nil {
			return err
		}
		// A turn in progress keeps its session out of idle expiry.
		if err := touchSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		msgs, err := queryMessages(ctx, tx, sessionID, chatID)
		if err != nil {
			return err
		}
		history = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []domain.Message{}
	}
	return history, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryMessages(ctx context.Context, q queryer, sessionID, chatID string) ([]domain.Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT role, content, created_at FROM messages
		WHERE session_id = ? AND chat_id = ? ORDER BY id`, sessionID, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			createdAt int64
		)
		if err := rows.Scan(&m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// AppendMessage appends one message to a chat.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID, chatID string, msg domain.Message) error {
	return s.appendMessages(ctx, sessionID, chatID, msg)
}

// AppendTurn appends the user message and the assistant reply in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID, chatID string, user, assistant domain.Message) error {
	if user.Role != domain.RoleUser || assistant.Role != domain.RoleAssistant {
		return fmt.Errorf("append turn: expected user then assistant, got %q then %q", user.Role, assistant.Role)
	}
	return s.appendMessages(ctx, sessionID, chatID, user, assistant)
}

func (s *SQLiteStore) appendMessages(ctx context.Context, sessionID, chatID string, msgs ...domain.Message) error {
	for _, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("append message: invalid role %q", m.Role)
		}
	}
	return s.writeSession(ctx, sessionID, func(tx *sql.Tx) error {
		now := s.now()
		if err := ensureSession(ctx, tx, sessionID, now); err != nil {
			return err
		}
		if err := ensureChat(ctx, tx, sessionID, chatID, now); err != nil {
			return err
		}
		for _, m := range msgs {
			created := m.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (session_id, chat_id, role, content, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				sessionID, chatID, string(m.Role), m.Content, created.UnixMilli()); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
		return touchSession(ctx, tx, sessionID, now)
	})
}

// DeleteSession removes the session document. A missing session yields 0.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	var deleted int64
	err := s.writeSession(ctx, sessionID, func(tx *sql.Tx) error {
		var err error
		deleted, err = deleteSessionTx(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return deleted, nil
}

func deleteSessionTx(ctx context.Context, tx *sql.Tx, sessionID string) (int64, error) {
	for _, q := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM chats WHERE session_id = ?`,
		`DELETE FROM cart_items WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return 0, fmt.Errorf("delete session children: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// GetSession loads the session document with chats and cart.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM sessions WHERE session_id = ?`, sessionID)
	var createdAt, updatedAt int64
	if err := row.Scan(&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess := &domain.Session{
		SessionID: sessionID,
		Chats:     make(map[string][]domain.Message),
		CreatedAt: time.UnixMilli(createdAt),
		UpdatedAt: time.UnixMilli(updatedAt),
	}

	chatIDs, err := s.chatIDs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, chatID := range chatIDs {
		msgs, err := queryMessages(ctx, s.db, sessionID, chatID)
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		sess.Chats[chatID] = msgs
	}

	cart, err := s.GetCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Cart = cart
	return sess, nil
}

func (s *SQLiteStore) chatIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chats WHERE session_id = ? ORDER BY created_at, chat_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpireIdleSessions removes sessions idle for longer than ttl.
func (s *SQLiteStore) ExpireIdleSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := s.now().Add(-ttl).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan idle session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate idle sessions: %w", err)
	}
	_ = rows.Close()

	expired := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := s.expireIfIdle(ctx, id, threshold)
		if err != nil {
			return expired, err
		}
		if ok {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// expireIfIdle deletes the session only if it is still older than
// threshold under the session lock, so a turn that started after the
// scan keeps its history.
func (s *SQLiteStore) expireIfIdle(ctx context.Context, sessionID string, threshold int64) (bool, error) {
	var deleted int64
	err := s.writeSession(ctx, sessionID, func(tx *sql.Tx) error {
		var updatedAt int64
		err := tx.QueryRowContext(ctx, `SELECT updated_at FROM sessions WHERE session_id = ?`, sessionID).Scan(&updatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("recheck session: %w", err)
		}
		if updatedAt >= threshold {
			return nil
		}
		deleted, err = deleteSessionTx(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to expire session %s: %w", sessionID, err)
	}
	return deleted > 0, nil
}

var _ Repository = (*SQLiteStore)(nil)
