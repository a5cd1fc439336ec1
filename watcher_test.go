package bifrost

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileNotifierDetectsExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.db")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	n, err := NewFileNotifier(path, nil)
	require.NoError(t, err)
	defer n.Close()

	var changes atomic.Int32
	n.OnExternalChange(func() { changes.Add(1) })

	// Another process rewriting the store file.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o600))

	require.Eventually(t, func() bool {
		return changes.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestFileNotifierIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.db")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	n, err := NewFileNotifier(path, nil)
	require.NoError(t, err)
	defer n.Close()

	var changes atomic.Int32
	n.OnExternalChange(func() { changes.Add(1) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))

	time.Sleep(watchQuiet + 200*time.Millisecond)
	require.EqualValues(t, 0, changes.Load())
}

func TestFileNotifierForegroundIsSynchronous(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.db")

	n, err := NewFileNotifier(path, nil)
	require.NoError(t, err)
	defer n.Close()

	fired := false
	n.OnForeground(func() { fired = true })

	n.Foreground()
	require.True(t, fired)
}
