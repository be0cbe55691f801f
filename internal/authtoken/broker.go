// Package authtoken persists named credentials for the remote services.
package authtoken

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/codescope-dev/codescope/internal/apperror"
)

// Broker stores tokens as single files under <dataDir>/tokens with 0600
// permissions. It is safe for concurrent use.
type Broker struct {
	dir string
	mu  sync.Mutex
}

// NewBroker creates the token directory if needed.
func NewBroker(dataDir string) (*Broker, error) {
	dir := filepath.Join(dataDir, "tokens")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token dir: %w", err)
	}
	return &Broker{dir: dir}, nil
}

// Store persists a named token, replacing any previous value.
func (b *Broker) Store(name, token string) error {
	path, err := b.path(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to store token %s: %w", name, err)
	}
	return nil
}

// Load returns a named token. Missing tokens map to ErrNotFound.
func (b *Broker) Load(name string) (string, error) {
	path, err := b.path(name)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("token %s: %w", name, apperror.ErrNotFound)
		}
		return "", fmt.Errorf("failed to load token %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Delete removes a named token. Deleting an absent token is a no-op.
func (b *Broker) Delete(name string) error {
	path, err := b.path(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete token %s: %w", name, err)
	}
	return nil
}

// path validates the token name and returns its file path. Names are
// restricted to a flat namespace; path separators are rejected.
func (b *Broker) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return "", apperror.BadRequest(fmt.Sprintf("invalid token name: %q", name))
	}
	return filepath.Join(b.dir, name), nil
}

// Source adapts one named token to the embedder's TokenSource.
type Source struct {
	Broker *Broker
	Name   string
}

func (s Source) Token() (string, error)   { return s.Broker.Load(s.Name) }
func (s Source) Store(token string) error { return s.Broker.Store(s.Name, token) }
