package settings

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Persister with failure injection.
type memStore struct {
	mu       sync.Mutex
	data     []byte
	has      bool
	writes   int
	writeErr error
	readErr  error
}

func (m *memStore) ReadConfig() ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	return append([]byte(nil), m.data...), m.has, nil
}

func (m *memStore) WriteConfig(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.data = append([]byte(nil), data...)
	m.has = true
	m.writes++
	return nil
}

func newTestManager(store Persister) *Manager {
	return NewManager(ManagerOptions{Store: store, Log: zerolog.Nop()})
}

func TestManager_LoadAbsentUsesDefaults(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store)

	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
	assert.Zero(t, store.writes, "load must not write")
}

func TestManager_LoadCorruptUsesDefaults(t *testing.T) {
	store := &memStore{data: []byte("not json"), has: true}
	m := newTestManager(store)

	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
	assert.Equal(t, "not json", string(store.data), "corrupt file left untouched")
}

func TestManager_LoadReadError(t *testing.T) {
	m := newTestManager(&memStore{readErr: errors.New("permission denied")})
	s, err := m.Load()
	assert.Error(t, err)
	assert.Equal(t, Defaults(), s)
}

func TestManager_UpdatePersistsEveryChange(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store)
	_, _ = m.Load()

	s, err := m.Update(Patch{DeploymentMode: ptr(ModeLocal)})
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, s.DeploymentMode)
	assert.Equal(t, 1, store.writes)

	_, err = m.Update(Patch{TelemetryOptIn: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 2, store.writes)

	// A fresh manager over the same store sees both changes.
	fresh := newTestManager(store)
	loaded, err := fresh.Load()
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, loaded.DeploymentMode)
	assert.True(t, loaded.TelemetryOptIn)
}

func TestManager_UpdateInvalidWritesNothing(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store)
	_, _ = m.Load()

	bad := Language("klingon")
	s, err := m.Update(Patch{Language: &bad, DebugMode: ptr(true)})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, store.writes)
	assert.Equal(t, Defaults(), s)
	assert.Equal(t, Defaults(), m.Current())
}

func TestManager_UpdateWriteFailureKeepsMemory(t *testing.T) {
	store := &memStore{writeErr: errors.New("disk full")}
	m := newTestManager(store)
	_, _ = m.Load()

	_, err := m.Update(Patch{DeploymentMode: ptr(ModeLocal)})
	require.Error(t, err)
	assert.Equal(t, ModeCloud, m.Current().DeploymentMode, "memory must match the store")
}

func TestManager_ResetToDefaults(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store)
	_, _ = m.Load()
	_, err := m.Update(Patch{DeploymentMode: ptr(ModeLocal), TelemetryOptIn: ptr(true)})
	require.NoError(t, err)

	s, err := m.ResetToDefaults()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)

	stored, err := decode(store.data)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), stored)
}

func TestManager_ForceDebug(t *testing.T) {
	store := &memStore{}
	m := NewManager(ManagerOptions{Store: store, ForceDebug: true, Log: zerolog.Nop()})
	s, err := m.Load()
	require.NoError(t, err)
	assert.True(t, s.DebugMode)

	_, err = m.Update(Patch{TelemetryOptIn: ptr(true)})
	require.NoError(t, err)
	stored, err := decode(store.data)
	require.NoError(t, err)
	assert.False(t, stored.DebugMode, "forced debug must not be persisted")
}

func TestManager_OnChange(t *testing.T) {
	m := newTestManager(&memStore{})
	_, _ = m.Load()

	var got []Settings
	m.OnChange(func(s Settings) { got = append(got, s) })

	_, _ = m.Update(Patch{DebugMode: ptr(true)})
	_, _ = m.Update(Patch{Language: ptr(Language("bad"))})
	_, _ = m.ResetToDefaults()

	require.Len(t, got, 2)
	assert.True(t, got[0].DebugMode)
	assert.False(t, got[1].DebugMode)
}

func TestManager_Reload(t *testing.T) {
	store := &memStore{}
	m := newTestManager(store)
	_, _ = m.Load()

	changed, err := m.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "nothing stored yet")

	b, _ := encode(Merge(Defaults(), Patch{DeploymentMode: ptr(ModeLocal)}))
	store.data, store.has = b, true

	changed, err = m.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, ModeLocal, m.Current().DeploymentMode)

	changed, err = m.Reload()
	require.NoError(t, err)
	assert.False(t, changed)

	store.data = []byte(`{"model_size":"gigantic"}`)
	_, err = m.Reload()
	assert.Error(t, err)
	assert.Equal(t, ModeLocal, m.Current().DeploymentMode, "invalid edit ignored")
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	fs := NewFileStore(path)

	_, ok, err := fs.ReadConfig()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fs.WriteConfig([]byte(`{}`)))
	data, ok, err := fs.ReadConfig()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWatcher_ReloadsExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewFileStore(path)
	m := newTestManager(store)
	_, _ = m.Load()

	w := NewWatcher(m, path, zerolog.Nop())
	require.NoError(t, w.Start())
	defer w.Stop()

	b, _ := encode(Merge(Defaults(), Patch{DeploymentMode: ptr(ModeLocal)}))
	require.NoError(t, os.WriteFile(path, b, 0o600))

	assert.Eventually(t, func() bool {
		return m.Current().DeploymentMode == ModeLocal
	}, 3*time.Second, 25*time.Millisecond)
}
