package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) Get(ctx context.Context, key string, includePartial bool) (Lookup, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT key, content, segment_count, status, provider, source_size, source_duration_ms, updated_at
		 FROM cache_entries
		 WHERE key = ?`,
		key,
	)

	var entry Entry
	var status string
	var durationMs int64
	err := row.Scan(
		&entry.Key,
		&entry.Content,
		&entry.SegmentCount,
		&status,
		&entry.Provider,
		&entry.SourceSize,
		&durationMs,
		&entry.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Lookup{}, nil
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("read cache entry: %w", err)
	}

	entry.Status = Status(status)
	entry.SourceDuration = time.Duration(durationMs) * time.Millisecond

	// A partial hit is a miss unless the caller asked for partials.
	if entry.Status == StatusPartial && !includePartial {
		return Lookup{}, nil
	}
	return Lookup{Hit: true, Entry: entry}, nil
}

func (s *SQLiteStore) PutComplete(ctx context.Context, key, content string, meta Meta) error {
	return s.put(ctx, key, content, StatusComplete, meta)
}

// PutPartial overwrites the entry for a key with fresher partial
// progress. A write carrying fewer segments than the stored entry is
// dropped, and a partial never replaces a complete entry.
func (s *SQLiteStore) PutPartial(ctx context.Context, key, content string, meta Meta) error {
	existing, err := s.Get(ctx, key, true)
	if err != nil {
		return err
	}
	if existing.Hit {
		if existing.Entry.Status == StatusComplete {
			return nil
		}
		if meta.SegmentCount < existing.Entry.SegmentCount {
			return nil
		}
	}
	return s.put(ctx, key, content, StatusPartial, meta)
}

func (s *SQLiteStore) put(ctx context.Context, key, content string, status Status, meta Meta) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("cache key is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO cache_entries (
			key, content, segment_count, status, provider, source_size, source_duration_ms, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content=excluded.content,
			segment_count=excluded.segment_count,
			status=excluded.status,
			provider=excluded.provider,
			source_size=excluded.source_size,
			source_duration_ms=excluded.source_duration_ms,
			updated_at=excluded.updated_at`,
		key,
		content,
		meta.SegmentCount,
		string(status),
		meta.Provider,
		meta.SourceSize,
		meta.SourceDuration.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Prune removes entries older than the retention window and reports how
// many were dropped.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
