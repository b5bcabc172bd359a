package cache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteFileName = "asset-hub.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_names (
    name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS cache_entries (
    cache_name TEXT NOT NULL,
    cache_key TEXT NOT NULL,
    status INTEGER NOT NULL,
    header_json TEXT NOT NULL,
    body BLOB NOT NULL,
    mod_time INTEGER NOT NULL,
    PRIMARY KEY (cache_name, cache_key)
);`

// sqliteStorage 将全部命名存储放在同一个 SQLite 文件中。
type sqliteStorage struct {
	sqlDB *sql.DB
}

type sqliteStore struct {
	sqlDB *sql.DB
	name  string
}

// NewSQLiteStorage 在 basePath 下打开（必要时创建）asset-hub.db 并建表。
func NewSQLiteStorage(basePath string) (Storage, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	dsn := filepath.Join(abs, sqliteFileName) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &sqliteStorage{sqlDB: sqlDB}, nil
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `INSERT OR IGNORE INTO cache_names (name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &sqliteStore{sqlDB: s.sqlDB, name: name}, nil
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name); err != nil {
		return false, fmt.Errorf("delete cache %s entries: %w", name, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM cache_names WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return affected > 0, nil
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM cache_names ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close releases the underlying SQLite connection.
func (s *sqliteStorage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *sqliteStore) Name() string {
	return s.name
}

func (s *sqliteStore) Get(ctx context.Context, key string) (*ReadResult, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT status, header_json, body, mod_time
		 FROM cache_entries
		 WHERE cache_name = ? AND cache_key = ?`,
		s.name, key,
	)

	var (
		status     int
		headerJSON string
		body       []byte
		modTime    int64
	)
	if err := row.Scan(&status, &headerJSON, &body, &modTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	var header map[string][]string
	if headerJSON != "" {
		if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
			return nil, fmt.Errorf("decode cache entry header: %w", err)
		}
	}

	return &ReadResult{
		Entry: Entry{
			Key:        key,
			StatusCode: statusOrDefault(status),
			Header:     header,
			SizeBytes:  int64(len(body)),
			ModTime:    time.UnixMilli(modTime).UTC(),
		},
		Reader: nopReadSeekCloser{Reader: bytes.NewReader(body)},
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (*Entry, error) {
	if key == "" {
		return nil, errors.New("cache key required")
	}
	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, body); err != nil {
		return nil, err
	}
	headerJSON, err := json.Marshal(opts.Header)
	if err != nil {
		return nil, err
	}
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	status := statusOrDefault(opts.StatusCode)

	payload := buf.Bytes()
	if payload == nil {
		payload = []byte{}
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO cache_entries (cache_name, cache_key, status, header_json, body, mod_time)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_name, cache_key) DO UPDATE SET
		    status = excluded.status,
		    header_json = excluded.header_json,
		    body = excluded.body,
		    mod_time = excluded.mod_time`,
		s.name, key, status, string(headerJSON), payload, modTime.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("put cache entry: %w", err)
	}

	return &Entry{
		Key:        key,
		StatusCode: status,
		Header:     opts.Header,
		SizeBytes:  int64(len(payload)),
		ModTime:    modTime,
	}, nil
}

func (s *sqliteStore) Remove(ctx context.Context, key string) (bool, error) {
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ? AND cache_key = ?`, s.name, key)
	if err != nil {
		return false, fmt.Errorf("remove cache entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT cache_key FROM cache_entries WHERE cache_name = ? ORDER BY cache_key`, s.name)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

type nopReadSeekCloser struct {
	*bytes.Reader
}

func (nopReadSeekCloser) Close() error {
	return nil
}
