package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/reelcheck/internal/common"

	_ "modernc.org/sqlite"
)

var _ Documents = (*SQLiteStore)(nil)

// SQLiteStore keeps documents as rows of a single table keyed by path.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Read(p string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRow(`SELECT body FROM documents WHERE path = ?`, p).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return body, nil
}

func (s *SQLiteStore) Write(p string, data []byte) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("document path is required")
	}
	_, err := s.db.Exec(`INSERT INTO documents (path, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		p, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// List derives child names from the stored paths below dir.
func (s *SQLiteStore) List(dir string) ([]string, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	rows, err := s.db.Query(`SELECT path FROM documents WHERE substr(path, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]struct{})
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		child, _, _ := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		if child == "" {
			continue
		}
		if _, ok := seen[child]; ok {
			continue
		}
		seen[child] = struct{}{}
		out = append(out, child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
