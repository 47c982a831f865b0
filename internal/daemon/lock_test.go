package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID is far above any default pid_max.
const deadPID = 999999

func newLock(t *testing.T) *Lock {
	t.Helper()
	return NewLock(filepath.Join(t.TempDir(), "run", "isq.pid"))
}

func TestAcquire_CreatesFile(t *testing.T) {
	l := newLock(t)

	require.NoError(t, l.Acquire(os.Getpid()))

	pid, running := l.Owner()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquire_LiveOwner(t *testing.T) {
	l := newLock(t)
	require.NoError(t, l.Acquire(os.Getpid()))

	err := l.Acquire(deadPID)
	require.ErrorIs(t, err, ErrRunning)
	assert.Contains(t, err.Error(), "pid")
}

func TestAcquire_ReplacesStaleFile(t *testing.T) {
	l := newLock(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path), 0o755))
	require.NoError(t, os.WriteFile(l.Path, []byte("999999\n"), 0o644))

	pid, running := l.Owner()
	assert.Equal(t, deadPID, pid)
	assert.False(t, running)

	require.NoError(t, l.Acquire(os.Getpid()))
	pid, _ = l.Owner()
	assert.Equal(t, os.Getpid(), pid)
}

func TestOwner_InvalidContent(t *testing.T) {
	l := newLock(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(l.Path), 0o755))
	require.NoError(t, os.WriteFile(l.Path, []byte("not-a-number\n"), 0o644))

	pid, running := l.Owner()
	assert.Equal(t, 0, pid)
	assert.False(t, running)
}

func TestRelease(t *testing.T) {
	l := newLock(t)
	require.NoError(t, l.Acquire(os.Getpid()))

	require.NoError(t, l.Release(os.Getpid()))
	_, err := os.Stat(l.Path)
	assert.True(t, os.IsNotExist(err))

	// Releasing twice is harmless.
	assert.NoError(t, l.Release(os.Getpid()))
}

func TestRelease_KeepsOtherOwner(t *testing.T) {
	l := newLock(t)
	require.NoError(t, l.Acquire(os.Getpid()))

	require.NoError(t, l.Release(deadPID))
	_, err := os.Stat(l.Path)
	assert.NoError(t, err)
}

func TestStop_NotRunning(t *testing.T) {
	l := newLock(t)

	_, err := l.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
}
