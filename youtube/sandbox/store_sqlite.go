package sandbox

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ytget/ytresolve/types"
	"github.com/ytget/ytresolve/youtube/cipher"
)

const fragmentSchema = `CREATE TABLE IF NOT EXISTS fragments (
	key      TEXT PRIMARY KEY,
	payload  TEXT NOT NULL,
	saved_at INTEGER NOT NULL
)`

// SQLiteStore keeps fragments in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("fragment store path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(fragmentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements FragmentStore.
func (s *SQLiteStore) Load(key types.PlayerVersionKey) (*cipher.Fragments, bool, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM fragments WHERE key = ?", string(key)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var f cipher.Fragments
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return nil, false, fmt.Errorf("decode fragments for %s: %w", key, err)
	}
	return &f, true, nil
}

// Save implements FragmentStore.
func (s *SQLiteStore) Save(key types.PlayerVersionKey, frags *cipher.Fragments) error {
	b, err := json.Marshal(frags)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO fragments (key, payload, saved_at) VALUES (?, ?, ?)",
		string(key), string(b), time.Now().Unix())
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
