package contentstore

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates an id with no stored content.
	ErrNotFound = errors.New("content not found")
	// ErrCorrupt indicates stored bytes that no longer match their id.
	ErrCorrupt = errors.New("content does not match id")
)

// Store is the content-addressed collaborator.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// SQLiteStore keeps blocks in a SQLite table keyed by native id.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (creating if needed) the block database at path.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the underlying SQLite file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init creates the schema.
func (s *SQLiteStore) Init(ctx context.Context) error {
	stmts := []string{
		"PRAGMA busy_timeout = 5000;",
		`CREATE TABLE IF NOT EXISTS blocks (
			id TEXT PRIMARY KEY,
			data BLOB,
			size INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init content store")
		}
	}
	return nil
}

// Put stores data and returns its native id. Storing the same bytes twice
// is a no-op.
func (s *SQLiteStore) Put(ctx context.Context, data []byte) (string, error) {
	id, err := Sum(data)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = []byte{}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blocks(id, data, size) VALUES (?, ?, ?)`, id, data, len(data)); err != nil {
		return "", errors.Wrap(err, "put block")
	}
	return id, nil
}

// Get loads the content for id and checks it against the id.
func (s *SQLiteStore) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blocks WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return nil, err
	}
	sum, err := Sum(data)
	if err != nil {
		return nil, err
	}
	if sum != id {
		return nil, errors.Wrapf(ErrCorrupt, "%s", id)
	}
	if data == nil {
		data = []byte{}
	}
	return bytes.Clone(data), nil
}
