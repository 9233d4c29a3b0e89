// Package store persists program images in a SQLite database, keyed by
// name. Each row keeps the encoded image, its SHA-256 digest and the time it
// was last written.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/druk/image"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("druk.store")

// ErrNotFound indicates the requested image doesn't exist.
var ErrNotFound = errors.New("image not found")

// Entry describes a stored image without its payload.
type Entry struct {
	Name    string
	Digest  string
	Size    int
	Updated time.Time
}

// Store is a SQLite-backed image store.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		name    TEXT PRIMARY KEY,
		digest  TEXT NOT NULL,
		data    BLOB NOT NULL,
		updated INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened image store %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file the store was opened on.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Digest returns the hex SHA-256 of an encoded image.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put encodes img and stores it under name, replacing any previous image.
// It returns the digest of the stored bytes.
func (s *Store) Put(ctx context.Context, name string, img *image.Image) (string, error) {
	if name == "" {
		return "", errors.New("store: empty image name")
	}
	data, err := img.Encode()
	if err != nil {
		return "", fmt.Errorf("encoding image %s: %w", name, err)
	}
	digest := Digest(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO images (name, digest, data, updated) VALUES (?, ?, ?, ?)",
		name, digest, data, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("saving image %s: %w", name, err)
	}
	log.Debugf("stored %s (%d bytes, %s)", name, len(data), digest[:12])
	return digest, nil
}

// Get loads and decodes the image stored under name. The stored digest is
// checked against the payload.
func (s *Store) Get(ctx context.Context, name string) (*image.Image, error) {
	var (
		digest string
		data   []byte
	)
	err := s.db.QueryRowContext(ctx, "SELECT digest, data FROM images WHERE name = ?", name).Scan(&digest, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("querying image %s: %w", name, err)
	}
	if got := Digest(data); got != digest {
		return nil, fmt.Errorf("image %s: digest mismatch (stored %s, computed %s)", name, digest, got)
	}
	img, err := image.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", name, err)
	}
	return img, nil
}

// List returns every stored image ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, digest, length(data), updated FROM images ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			updated int64
		)
		if err := rows.Scan(&e.Name, &e.Digest, &e.Size, &updated); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		e.Updated = time.Unix(0, updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the image stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting image %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting image %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
