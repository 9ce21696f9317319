package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_FailureKeepsPreviousContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, _ = w.Write([]byte("half"))
		return errors.New("boom")
	})
	require.Error(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(raw))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should be removed")
}

func TestCopyFile_CreatesParents(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a.sv")
	require.NoError(t, os.WriteFile(src, []byte("module a;endmodule\n"), 0o640))

	dst := filepath.Join(root, "x", "y", "a.sv")
	require.NoError(t, CopyFile(src, dst))

	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "module a;endmodule\n", string(raw))
}

func TestCopyDir_CopiesTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "src", "fpga"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "src", "fpga", "ap_core.qsf"), []byte("qsf\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "README"), []byte("hi"), 0o644))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyDir(src, dst))

	assert.FileExists(t, filepath.Join(dst, "src", "fpga", "ap_core.qsf"))
	assert.FileExists(t, filepath.Join(dst, "README"))
	assert.True(t, IsDir(filepath.Join(dst, "src")))
	assert.False(t, IsDir(filepath.Join(dst, "README")))
}
