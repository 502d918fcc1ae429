package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	audioExt = ".wav"
	// debugDir holds recordings kept by debug mode. Leftovers does not
	// descend into it.
	debugDir = "debug"
)

// LocalStore holds per-session temporary audio on the local filesystem.
type LocalStore struct {
	audioDir string
}

// Leftover is an audio artifact found on disk that no live session owns,
// typically from a process that was interrupted mid-session.
type Leftover struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// NewLocalStore creates a local filesystem audio store.
func NewLocalStore(audioDir string) *LocalStore {
	return &LocalStore{audioDir: audioDir}
}

// SessionPath returns the artifact path for a session, creating the
// directory if needed. The file itself is written by the capture collaborator.
func (s *LocalStore) SessionPath(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	if err := os.MkdirAll(s.audioDir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", s.audioDir, err)
	}
	return filepath.Join(s.audioDir, sessionID+audioExt), nil
}

// Remove deletes an artifact. A missing file is not an error.
func (s *LocalStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether the artifact is present on disk.
func (s *LocalStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Leftovers lists audio artifacts in the store directory, oldest first.
// Paths in exclude (the live session, if any) are skipped.
func (s *LocalStore) Leftovers(exclude ...string) ([]Leftover, error) {
	entries, err := os.ReadDir(s.audioDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	skip := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		skip[p] = true
	}

	var out []Leftover
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), audioExt) {
			continue
		}
		path := filepath.Join(s.audioDir, e.Name())
		if skip[path] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Leftover{Path: path, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.Before(out[j].ModTime) })
	return out, nil
}

// Retain moves a finished recording into the debug subdirectory so it is
// kept for inspection without being reported as a leftover. It returns the
// new path.
func (s *LocalStore) Retain(path string) (string, error) {
	dir := s.DebugDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("retain %s: %w", path, err)
	}
	return dest, nil
}

// Dir returns the audio directory path.
func (s *LocalStore) Dir() string { return s.audioDir }

// DebugDir returns the directory holding recordings retained by debug mode.
func (s *LocalStore) DebugDir() string { return filepath.Join(s.audioDir, debugDir) }
