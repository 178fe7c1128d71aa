// Package credstore persists access credentials so a restarted process can
// reuse a ticket the authority already granted instead of requesting a new one.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/padronkit/padron-core/pkg/wsaa"
)

// Common errors returned by this package.
var (
	ErrStoreCorrupt = errors.New("credential store entry is corrupt")
	ErrInvalidKey   = errors.New("invalid credential key")
)

var (
	_ wsaa.CredentialStore = (*FileStore)(nil)
	_ wsaa.CredentialStore = (*MemoryStore)(nil)
	_ wsaa.CredentialStore = (*RedisStore)(nil)
)

// DefaultDir returns the default credential directory.
func DefaultDir() string {
	if envPath := os.Getenv("PADRON_CREDENTIAL_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".padron/credentials"
	}
	return filepath.Join(home, ".padron", "credentials")
}

// Key builds the store key for a service and represented CUIT.
func Key(service, cuit string) string {
	if cuit == "" {
		return service
	}
	return service + ":" + cuit
}

// FileStore keeps one JSON file per key in a private directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file-backed store. If dir is empty, uses DefaultDir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, strings.ReplaceAll(key, ":", "_")+".json"), nil
}

// Load reads the credential stored under key.
func (s *FileStore) Load(_ context.Context, key string) (*wsaa.Credential, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred wsaa.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	return &cred, nil
}

// Save writes the credential atomically with owner-only permissions.
func (s *FileStore) Save(_ context.Context, key string, cred *wsaa.Credential) error {
	if !cred.Valid() {
		return fmt.Errorf("refusing to store incomplete credential")
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set credential file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

// Delete removes the credential stored under key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory only store for testing.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]wsaa.Credential
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]wsaa.Credential)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (*wsaa.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[key]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, cred *wsaa.Credential) error {
	if !cred.Valid() {
		return fmt.Errorf("refusing to store incomplete credential")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key] = *cred
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, key)
	return nil
}
