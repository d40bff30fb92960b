package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "reports"), 0o755))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing dir", filepath.Join(root, "reports"), false},
		{"new file", filepath.Join(root, "reports", "cmp.html"), false},
		{"new nested file", filepath.Join(root, "a", "b", "cmp.html"), false},
		{"dot dot escape", filepath.Join(root, "reports", "..", "..", "cmp.html"), true},
		{"sibling", filepath.Join(filepath.Dir(root), "other", "cmp.html"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDirectory(tt.path, root)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithinDirectory_SymlinkedParent(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "out")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	err := WithinDirectory(filepath.Join(link, "report.html"), root)
	assert.ErrorContains(t, err, "path traversal")
}

func TestWithinDirectory_MissingDir(t *testing.T) {
	err := WithinDirectory("x.html", filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestValidateOutputPath(t *testing.T) {
	assert.NoError(t, ValidateOutputPath("report.html"))
	assert.NoError(t, ValidateOutputPath(filepath.Join(t.TempDir(), "report.html")))
	assert.Error(t, ValidateOutputPath("/proc/self/report.html"))
}
