package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "transcripts.db")
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenEphemeral(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "ephemeral"})
	if s.db != nil {
		t.Fatal("ephemeral store must not open a database")
	}
	if err := s.Append(context.Background(), protocol.Transcript{SessionID: "x", Content: "hi"}); err != nil {
		t.Fatalf("ephemeral append: %v", err)
	}
	entries, err := s.ListSession(context.Background(), "x", 10)
	if err != nil || entries != nil {
		t.Fatalf("ephemeral list: %v %v", entries, err)
	}
}

func TestAppendAndList(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "session", CacheSize: 8})

	for i, text := range []string{"xin chào", "tạm biệt"} {
		err := s.Append(context.Background(), protocol.Transcript{
			SessionID: "session-123",
			ModelID:   "phowhisper",
			Content:   text,
			LatencyMS: float64(100 + i),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := s.ListSession(context.Background(), "session-123", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "xin chào" || entries[1].Content != "tạm biệt" {
		t.Fatalf("entries out of order: %+v", entries)
	}
	if entries[0].ModelID != "phowhisper" {
		t.Fatalf("unexpected model id %q", entries[0].ModelID)
	}
}

func TestCacheInvalidatedOnWrite(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "session", CacheSize: 8})

	if err := s.Append(context.Background(), protocol.Transcript{SessionID: "s1", Content: "one"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.ListSession(context.Background(), "s1", 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := s.Append(context.Background(), protocol.Transcript{SessionID: "s1", Content: "two"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := s.ListSession(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("stale cached read, got %d entries", len(entries))
	}
}

func TestSessionsAndDelete(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "session", CacheSize: 8})

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), protocol.Transcript{SessionID: "older", ModelID: "zipformer", Content: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), protocol.Transcript{SessionID: "newer", ModelID: "phowhisper", Content: "b"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	sessions, err := s.Sessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "newer" {
		t.Fatalf("expected newest first, got %+v", sessions)
	}
	if sessions[0].Transcripts != 1 {
		t.Fatalf("unexpected transcript count %d", sessions[0].Transcripts)
	}

	if err := s.DeleteSession(context.Background(), "older"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, err := s.ListSession(context.Background(), "older", 10)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(entries) != 0 {
		t.Fatal("expected cascade delete of transcripts")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	s := openTestStore(t, config.StoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1, CacheSize: 8})

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), protocol.Transcript{SessionID: "old-session", Content: "stale"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), protocol.Transcript{SessionID: "new-session", Content: "fresh"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := s.ListSession(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatal("expected old session pruned")
	}
	entries, err = s.ListSession(context.Background(), "new-session", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatal("expected new session retained")
	}
}
