// Package credentials persists API keys per platform host.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"rsh/pkg/platform"
)

// Store keeps one JSON file per host:port under dir.
type Store struct {
	dir string
}

// DefaultDir returns $HOME/.rsh/keys.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".rsh", "keys"), nil
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file that holds the key for hostPort.
func (s *Store) Path(hostPort string) string {
	name := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(hostPort)
	return filepath.Join(s.dir, name+".json")
}

// Load returns the stored key, or nil without error if there is none.
func (s *Store) Load(hostPort string) (*platform.APIKey, error) {
	data, err := os.ReadFile(s.Path(hostPort))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read api key: %w", err)
	}

	var key platform.APIKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("failed to decode api key %s: %w", s.Path(hostPort), err)
	}
	return &key, nil
}

// Save writes key for hostPort, readable by the owner only.
func (s *Store) Save(hostPort string, key *platform.APIKey) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode api key: %w", err)
	}

	path := s.Path(hostPort)
	tmp, err := os.CreateTemp(s.dir, ".key-*")
	if err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save api key: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save api key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}
