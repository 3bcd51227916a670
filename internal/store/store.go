package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/protocol"
	_ "modernc.org/sqlite"
)

// Entry is one persisted transcript row.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	ModelID   string    `json:"model_id"`
	Content   string    `json:"content"`
	Partial   bool      `json:"partial"`
	LatencyMS float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary describes one recorded session for history listings.
type SessionSummary struct {
	SessionID   string    `json:"session_id"`
	ModelID     string    `json:"model_id"`
	Transcripts int       `json:"transcripts"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps transcription history in SQLite. Recent session reads are
// served from an LRU cache that is invalidated on every write to the same
// session. With retention_mode "ephemeral" the store is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
	cache *lru.Cache[string, []Entry]
}

// Open initializes the transcript store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	s := &Store{cfg: cfg, log: log, clock: time.Now}
	if cfg.CacheSize > 0 {
		s.cache, _ = lru.New[string, []Entry](cfg.CacheSize)
	}
	if cfg.RetentionMode == "ephemeral" {
		return s, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s.db = db

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    model_id TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transcriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    model_id TEXT,
    content TEXT NOT NULL,
    partial INTEGER NOT NULL DEFAULT 0,
    latency_ms REAL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_session_created ON transcriptions(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one transcript, creating the session row on first write.
func (s *Store) Append(ctx context.Context, t protocol.Transcript) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, model_id, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET model_id=excluded.model_id`,
		t.SessionID, t.ModelID, t.CreatedAt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(session_id, model_id, content, partial, latency_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.ModelID, t.Content, t.Partial, t.LatencyMS, t.CreatedAt)
	if err != nil {
		return err
	}
	s.invalidate(t.SessionID)
	return nil
}

// ListSession retrieves up to limit transcripts for a session ordered
// ascending by time. Repeated reads for the same session hit the cache until
// the next write.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	key := fmt.Sprintf("%s|%d", sessionID, limit)
	if s.cache != nil {
		if entries, ok := s.cache.Get(key); ok {
			return entries, nil
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, model_id, content, partial, latency_ms, created_at
		 FROM transcriptions WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ModelID, &e.Content, &e.Partial, &e.LatencyMS, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(key, entries)
	}
	return entries, nil
}

// Sessions lists recorded sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.model_id, COUNT(t.id), s.created_at
		 FROM sessions s LEFT JOIN transcriptions t ON t.session_id = s.session_id
		 GROUP BY s.session_id ORDER BY s.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var created string
		if err := rows.Scan(&sum.SessionID, &sum.ModelID, &sum.Transcripts, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			sum.CreatedAt = ts
		}
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its transcripts.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	s.invalidate(sessionID)
	return nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcriptions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	if err == nil && s.cache != nil {
		s.cache.Purge()
	}
	return err
}

func (s *Store) invalidate(sessionID string) {
	if s.cache == nil {
		return
	}
	for _, key := range s.cache.Keys() {
		if len(key) > len(sessionID) && key[:len(sessionID)] == sessionID && key[len(sessionID)] == '|' {
			s.cache.Remove(key)
		}
	}
}
