package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Store persists the current TokenSet for a session. Implementations
// hold at most one record (a single fixed account per client instance)
// and must make each operation atomic: no partial read/write may be
// visible to a concurrent caller.
//
// The Store exclusively owns the TokenSet; a SessionManager loads,
// mutates and stores on every operation rather than caching a copy.
type Store interface {
	// Save stores the token set, replacing any existing record.
	Save(ctx context.Context, t *TokenSet) error

	// Load returns the stored token set, or nil when there is none.
	Load(ctx context.Context) (*TokenSet, error)

	// Clear removes the stored token set. Clearing an empty store is not
	// an error.
	Clear(ctx context.Context) error
}

// persistedTokenSet is the storage codec for a TokenSet. The display
// claims are deliberately not persisted: they're re-derived from the
// access token on load, so they can never go stale against their source
// token.
type persistedTokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

func marshalTokenSet(t *TokenSet) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("marshalTokenSet: token set is nil: %w", ErrNilParameter)
	}
	return json.Marshal(persistedTokenSet{
		AccessToken:  string(t.accessToken),
		RefreshToken: string(t.refreshToken),
		IDToken:      string(t.idToken),
		ExpiresAt:    t.expiresAt,
		ObtainedAt:   t.obtainedAt,
	})
}

func unmarshalTokenSet(data []byte) (*TokenSet, error) {
	var p persistedTokenSet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshalTokenSet: %v: %w", err, ErrInvalidParameter)
	}
	return &TokenSet{
		accessToken:  AccessToken(p.AccessToken),
		refreshToken: RefreshToken(p.RefreshToken),
		idToken:      IdToken(p.IDToken),
		expiresAt:    p.ExpiresAt,
		obtainedAt:   p.ObtainedAt,
		accessClaims: DecodePayload(p.AccessToken),
	}, nil
}

// MemoryStore is a mutex-guarded in-memory Store. It's suitable for
// session-duration storage (the server-rendered and per-tab browser
// surfaces) and for tests.
type MemoryStore struct {
	mu      sync.Mutex
	current *TokenSet
}

// ensure that MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements the Store.Save() interface function.
func (s *MemoryStore) Save(_ context.Context, t *TokenSet) error {
	const op = "MemoryStore.Save"
	if t == nil {
		return fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = t.copy()
	return nil
}

// Load implements the Store.Load() interface function. The returned set
// is a deep copy.
func (s *MemoryStore) Load(_ context.Context) (*TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.copy(), nil
}

// Clear implements the Store.Clear() interface function.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	return nil
}

// FileStore is a Store backed by a single JSON file, durable across
// process restarts (the desktop surface's analogue of keychain storage
// when no OS secret manager is available). Writes go to a temp file in
// the same directory followed by a rename, so a reader never observes a
// torn record. The file is created with 0600 permissions.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// ensure that FileStore implements the Store interface
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore at path, creating the parent
// directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	const op = "oidc.NewFileStore"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create store directory: %w", op, err)
	}
	return &FileStore{path: path}, nil
}

// Save implements the Store.Save() interface function.
func (s *FileStore) Save(_ context.Context, t *TokenSet) error {
	const op = "FileStore.Save"
	data, err := marshalTokenSet(t)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return fmt.Errorf("%s: unable to create temp file: %w", op, err)
	}
	cleanup := func(err error) error {
		var result *multierror.Error
		result = multierror.Append(result, err)
		if rmErr := os.Remove(tmp.Name()); rmErr != nil {
			result = multierror.Append(result, rmErr)
		}
		return fmt.Errorf("%s: %w", op, result.ErrorOrNil())
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return cleanup(err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return cleanup(err)
	}
	return nil
}

// Load implements the Store.Load() interface function.
func (s *FileStore) Load(_ context.Context) (*TokenSet, error) {
	const op = "FileStore.Load"
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read store: %w", op, err)
	}
	ts, err := unmarshalTokenSet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

// Clear implements the Store.Clear() interface function.
func (s *FileStore) Clear(_ context.Context) error {
	const op = "FileStore.Clear"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%s: unable to clear store: %w", op, err)
	}
	return nil
}
