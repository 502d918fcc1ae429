package settings

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/otis-dictation/otis/internal/storage"
)

// Persister reads and writes the raw settings document. ReadConfig reports
// ok=false when nothing has been stored yet.
type Persister interface {
	ReadConfig() (data []byte, ok bool, err error)
	WriteConfig(data []byte) error
}

// FileStore persists settings as a JSON file, replaced atomically on write.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed Persister.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the settings file location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) ReadConfig() ([]byte, bool, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read settings: %w", err)
	}
	return b, true, nil
}

func (f *FileStore) WriteConfig(data []byte) error {
	if err := storage.WriteFileAtomic(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// decode overlays the stored document on Defaults, so fields missing from an
// older file pick up their default value.
func decode(data []byte) (Settings, error) {
	s := Defaults()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func encode(s Settings) ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return append(b, '\n'), nil
}
