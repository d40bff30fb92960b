package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filesystems(t *testing.T) map[string]struct {
	fs   FileSystem
	root string
} {
	return map[string]struct {
		fs   FileSystem
		root string
	}{
		"os":     {OSFileSystem{}, t.TempDir()},
		"memory": {NewMemoryFileSystem(), "/artifacts"},
	}
}

func TestFileSystem_WriteReadList(t *testing.T) {
	for name, tc := range filesystems(t) {
		t.Run(name, func(t *testing.T) {
			run := filepath.Join(tc.root, "exp", "run1")
			require.NoError(t, tc.fs.WriteFile(filepath.Join(run, "model", "model.json"), []byte(`{}`), 0o644))
			require.NoError(t, tc.fs.WriteFile(filepath.Join(run, "roc_curve.png"), []byte("png"), 0o644))
			require.NoError(t, tc.fs.WriteFile(filepath.Join(run, "roc_curve.png"), []byte("png2"), 0o644))

			got, err := tc.fs.ReadFile(filepath.Join(run, "roc_curve.png"))
			require.NoError(t, err)
			assert.Equal(t, "png2", string(got))

			files, err := tc.fs.List(run)
			require.NoError(t, err)
			assert.Equal(t, []string{"model/model.json", "roc_curve.png"}, files)

			assert.True(t, Exists(tc.fs, filepath.Join(run, "model")))
			info, err := tc.fs.Stat(filepath.Join(run, "model"))
			require.NoError(t, err)
			assert.True(t, info.IsDir())

			require.NoError(t, tc.fs.RemoveAll(run))
			assert.False(t, Exists(tc.fs, filepath.Join(run, "model", "model.json")))
		})
	}
}

func TestFileSystem_Missing(t *testing.T) {
	for name, tc := range filesystems(t) {
		t.Run(name, func(t *testing.T) {
			_, err := tc.fs.ReadFile(filepath.Join(tc.root, "nope"))
			assert.True(t, errors.Is(err, fs.ErrNotExist), "ReadFile: %v", err)
			_, err = tc.fs.List(filepath.Join(tc.root, "nope"))
			assert.True(t, errors.Is(err, fs.ErrNotExist), "List: %v", err)
		})
	}
}

func TestMemoryFileSystem_CopiesData(t *testing.T) {
	m := NewMemoryFileSystem()
	data := []byte("abc")
	require.NoError(t, m.WriteFile("a", data, 0o644))
	data[0] = 'x'
	got, err := m.ReadFile("a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
