// Package auth implements the authenticated request core: durable token
// storage, expiry inspection, single-flight refresh, and session teardown.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"
	"github.com/zalando/go-keyring"
)

const serviceName = "atlas"

// TokenKind identifies one of the two stored tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "accessToken"
	TokenRefresh TokenKind = "refreshToken"
)

// ErrTokenNotFound is returned by Get when no token of that kind is stored.
var ErrTokenNotFound = errors.New("token not found")

// CredentialStore provides persistent storage for the token pair. All access
// to the underlying keys goes through this interface.
type CredentialStore interface {
	// Get retrieves a stored token. Returns ErrTokenNotFound when absent.
	Get(kind TokenKind) (string, error)

	// Set stores a token. The write is durable before Set returns.
	Set(kind TokenKind, token string) error

	// Delete removes a token. Deleting an absent token is a no-op.
	Delete(kind TokenKind) error
}

// Store persists tokens in the system keyring, with a locked JSON file
// fallback for systems without one.
type Store struct {
	useKeyring  bool
	fallbackDir string
}

// NewStore creates a credential store rooted at fallbackDir.
func NewStore(fallbackDir string) *Store {
	// Skip keyring for tests or when explicitly disabled
	if os.Getenv("ATLAS_NO_KEYRING") != "" {
		return &Store{useKeyring: false, fallbackDir: fallbackDir}
	}

	// Test if keyring is available
	testKey := "atlas::probe"
	err := keyring.Set(serviceName, testKey, "probe")
	if err == nil {
		_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
		return &Store{useKeyring: true, fallbackDir: fallbackDir}
	}
	fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, tokens stored in plaintext at %s\n",
		filepath.Join(fallbackDir, "tokens.json"))
	return &Store{useKeyring: false, fallbackDir: fallbackDir}
}

// NewFileStore creates a store that always uses the file backend.
func NewFileStore(dir string) *Store {
	return &Store{useKeyring: false, fallbackDir: dir}
}

// UsingKeyring returns true if the store is backed by the system keyring.
func (s *Store) UsingKeyring() bool {
	return s.useKeyring
}

func key(kind TokenKind) string {
	return fmt.Sprintf("atlas::%s", kind)
}

// Get retrieves the token of the given kind.
func (s *Store) Get(kind TokenKind) (string, error) {
	if s.useKeyring {
		data, err := keyring.Get(serviceName, key(kind))
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", ErrTokenNotFound
			}
			return "", fmt.Errorf("keyring read: %w", err)
		}
		return data, nil
	}
	return s.getFromFile(kind)
}

// Set stores the token of the given kind.
func (s *Store) Set(kind TokenKind, token string) error {
	if s.useKeyring {
		return keyring.Set(serviceName, key(kind), token)
	}
	return s.setToFile(kind, token)
}

// Delete removes the token of the given kind.
func (s *Store) Delete(kind TokenKind) error {
	if s.useKeyring {
		err := keyring.Delete(serviceName, key(kind))
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.deleteFromFile(kind)
}

// File fallback. The token file is shared with other atlas processes, so
// reads and writes take an advisory lock.

func (s *Store) tokensPath() string {
	return filepath.Join(s.fallbackDir, "tokens.json")
}

func (s *Store) lockPath() string {
	return filepath.Join(s.fallbackDir, "tokens.lock")
}

func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(s.fallbackDir, 0700); err != nil {
		return err
	}
	lock := flock.New(s.lockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (s *Store) loadAll() (map[string]string, error) {
	data, err := os.ReadFile(s.tokensPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	var all map[string]string
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *Store) saveAll(all map[string]string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(s.fallbackDir, "tokens-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists. Try rename first to
	// preserve the old file on unrelated errors; only remove+retry on failure.
	destPath := s.tokensPath()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath) // Clean up stale temp on failure
		return err
	}
	return nil
}

func (s *Store) getFromFile(kind TokenKind) (string, error) {
	var token string
	err := s.withLock(func() error {
		all, err := s.loadAll()
		if err != nil {
			return err
		}
		t, ok := all[string(kind)]
		if !ok || t == "" {
			return ErrTokenNotFound
		}
		token = t
		return nil
	})
	return token, err
}

func (s *Store) setToFile(kind TokenKind, token string) error {
	return s.withLock(func() error {
		all, err := s.loadAll()
		if err != nil {
			return err
		}
		all[string(kind)] = token
		return s.saveAll(all)
	})
}

func (s *Store) deleteFromFile(kind TokenKind) error {
	return s.withLock(func() error {
		all, err := s.loadAll()
		if err != nil {
			return err
		}
		if _, ok := all[string(kind)]; !ok {
			return nil
		}
		delete(all, string(kind))
		return s.saveAll(all)
	})
}

// Clear removes both tokens. Clearing an empty store is a no-op.
func Clear(store CredentialStore) error {
	accessErr := store.Delete(TokenAccess)
	refreshErr := store.Delete(TokenRefresh)
	if accessErr != nil {
		return accessErr
	}
	return refreshErr
}
