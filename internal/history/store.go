package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"orgrender/internal/invoker"
	"orgrender/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Entry is one recorded render.
type Entry struct {
	ID           int64
	RequestID    string
	Daemon       string
	SourcePath   string
	SourceDigest string
	Status       string
	Attempts     int
	OutputBytes  int
	Duration     time.Duration
	ErrorMessage string
	CreatedAt    time.Time
}

// Store manages render history backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	daemon string
}

// Open initializes or connects to the history database.
func Open(path, daemon string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, daemon: daemon}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores a finished render. It satisfies invoker.Recorder.
func (s *Store) Record(ctx context.Context, res invoker.Result) error {
	digest, _ := DigestFile(res.Source)
	var errMsg any
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO renders (
            request_id, daemon, source_path, source_digest, status,
            attempts, output_bytes, duration_ms, error_message, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RequestID,
		s.daemon,
		res.Source,
		nullableString(digest),
		services.Outcome(res.Err),
		res.Attempts,
		len(res.Output),
		res.Duration.Milliseconds(),
		errMsg,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert render: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, daemon, source_path, source_digest, status,
            attempts, output_bytes, duration_ms, error_message, created_at
        FROM renders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query renders: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			digest     sql.NullString
			errMsg     sql.NullString
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.Daemon, &entry.SourcePath, &digest,
			&entry.Status, &entry.Attempts, &entry.OutputBytes, &durationMS, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("scan render: %w", err)
		}
		entry.SourceDigest = digest.String
		entry.ErrorMessage = errMsg.String
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			entry.CreatedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats counts entries per status.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM renders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query render stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan render stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// LastDigest returns the digest recorded by the newest successful render of source.
func (s *Store) LastDigest(ctx context.Context, source string) (string, error) {
	var digest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT source_digest FROM renders WHERE source_path = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		source, services.OutcomeSucceeded,
	).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last digest: %w", err)
	}
	return digest.String, nil
}

// DigestFile returns the hex BLAKE3 digest of the file at path.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
