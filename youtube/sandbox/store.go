package sandbox

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ytget/ytresolve/types"
	"github.com/ytget/ytresolve/youtube/cipher"
)

// FragmentStore persists synthesized fragments between runs so a restart
// can skip synthesis. Programs are always recompiled from stored fragments.
type FragmentStore interface {
	Load(key types.PlayerVersionKey) (*cipher.Fragments, bool, error)
	Save(key types.PlayerVersionKey, frags *cipher.Fragments) error
}

// OpenStore opens a store from a spec: "" or "memory" for an in-process
// store, "file:<dir>" or "sqlite:<path>".
func OpenStore(spec string) (FragmentStore, error) {
	kind, arg, _ := strings.Cut(spec, ":")
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(arg)
	case "sqlite":
		return OpenSQLiteStore(arg)
	}
	return nil, fmt.Errorf("unknown fragment store %q", spec)
}

// MemoryStore keeps fragments in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[types.PlayerVersionKey]cipher.Fragments
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[types.PlayerVersionKey]cipher.Fragments)}
}

// Load implements FragmentStore.
func (s *MemoryStore) Load(key types.PlayerVersionKey) (*cipher.Fragments, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return &f, true, nil
}

// Save implements FragmentStore.
func (s *MemoryStore) Save(key types.PlayerVersionKey, frags *cipher.Fragments) error {
	s.mu.Lock()
	s.data[key] = *frags
	s.mu.Unlock()
	return nil
}

// FileStore keeps one JSON file per player version under a directory.
type FileStore struct {
	rootDir string
	mu      sync.Mutex
}

// NewFileStore creates a file-backed store under rootDir, creating the
// directory when needed.
func NewFileStore(rootDir string) (*FileStore, error) {
	if rootDir == "" {
		return nil, errors.New("fragment store directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{rootDir: rootDir}, nil
}

func (s *FileStore) filenameForKey(key types.PlayerVersionKey) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.rootDir, fmt.Sprintf("%x.json", sum[:]))
}

type storedFragments struct {
	Key       types.PlayerVersionKey `json:"key"`
	SavedAt   time.Time              `json:"savedAt"`
	Fragments cipher.Fragments       `json:"fragments"`
}

// Load implements FragmentStore. Unreadable files are removed and reported
// as missing.
func (s *FileStore) Load(key types.PlayerVersionKey) (*cipher.Fragments, bool, error) {
	fn := s.filenameForKey(key)
	b, err := os.ReadFile(fn)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e storedFragments
	if err := json.Unmarshal(b, &e); err != nil || e.Key != key {
		_ = os.Remove(fn)
		return nil, false, nil
	}
	return &e.Fragments, true, nil
}

// Save implements FragmentStore. The file is replaced atomically.
func (s *FileStore) Save(key types.PlayerVersionKey, frags *cipher.Fragments) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := s.filenameForKey(key)
	b, err := json.Marshal(storedFragments{Key: key, SavedAt: time.Now().UTC(), Fragments: *frags})
	if err != nil {
		return err
	}
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, b, fs.FileMode(0o644)); err != nil {
		return err
	}
	return os.Rename(tmp, fn)
}
