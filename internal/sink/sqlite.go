package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS request_logs (
	key TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	success INTEGER NOT NULL,
	confidence REAL NOT NULL,
	iterations INTEGER NOT NULL,
	document TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_request_logs_fingerprint ON request_logs(fingerprint);
`

// SQLiteStore keeps documents in the request_logs table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sink: sqlite store needs a path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink: opening %s: %w", path, err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent requests
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sink: initializing %s: %w", path, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Write inserts doc under key.
func (s *SQLiteStore) Write(ctx context.Context, key string, doc map[string]any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sink: encoding %s: %w", key, err)
	}

	requestID, _ := doc["request_id"].(string)
	fp, _ := doc["fingerprint"].(string)
	success, _ := doc["success"].(bool)
	confidence, _ := doc["confidence"].(float64)
	iterations, _ := doc["iterations_performed"].(int)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO request_logs (key, request_id, fingerprint, success, confidence, iterations, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, requestID, fp, success, confidence, iterations, string(data))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
		return fmt.Errorf("sink: inserting %s: %w", key, err)
	}
	return nil
}

// Read returns the document stored under key.
func (s *SQLiteStore) Read(ctx context.Context, key string) (map[string]any, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM request_logs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("sink: reading %s: %w", key, err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("sink: decoding %s: %w", key, err)
	}
	return doc, nil
}

// Keys lists the stored keys in lexical order.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM request_logs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("sink: listing: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sink: scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ByFingerprint returns the keys written for fingerprint, oldest first.
func (s *SQLiteStore) ByFingerprint(ctx context.Context, fingerprint string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM request_logs WHERE fingerprint = ? ORDER BY key`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("sink: querying fingerprint: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sink: scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
