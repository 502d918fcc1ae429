package transcribe

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/otis-dictation/otis/internal/settings"
)

// localModels maps a size to the model name sent to the local whisper server
// and the ggml file it must find in the model directory.
var localModels = map[settings.ModelSize]struct {
	name string
	file string
}{
	settings.ModelTiny:  {"tiny", "ggml-tiny.bin"},
	settings.ModelBase:  {"base", "ggml-base.bin"},
	settings.ModelLarge: {"large-v3-turbo", "ggml-large-v3-turbo.bin"},
}

// ModelStore checks for downloaded local model files. Downloading them is
// handled outside this daemon.
type ModelStore struct {
	dir string
}

// NewModelStore creates a store rooted at dir.
func NewModelStore(dir string) *ModelStore {
	return &ModelStore{dir: dir}
}

// Dir returns the model directory.
func (m *ModelStore) Dir() string { return m.dir }

// ModelName returns the model identifier for size.
func ModelName(size settings.ModelSize) string {
	return localModels[size].name
}

// Path returns where the model file for size is expected.
func (m *ModelStore) Path(size settings.ModelSize) (string, error) {
	lm, ok := localModels[size]
	if !ok {
		return "", fmt.Errorf("unknown model size %q", size)
	}
	return filepath.Join(m.dir, lm.file), nil
}

// Check returns nil if the model file for size is present and non-empty.
func (m *ModelStore) Check(size settings.ModelSize) error {
	path, err := m.Path(size)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("model %q not downloaded (expected %s)", ModelName(size), path)
		}
		return fmt.Errorf("stat model %s: %w", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("model file %s is empty", path)
	}
	return nil
}
