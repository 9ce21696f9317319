package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractZip_RejectsDotDotPaths(t *testing.T) {
	zipPath := writeZipFile(t, map[string]string{"../evil.txt": "nope"})
	_, err := ExtractZipSecure(zipPath, filepath.Join(t.TempDir(), "out"), defaultLimits())
	require.Error(t, err, "traversal path")
}

func TestExtractZip_RejectsAbsolutePaths(t *testing.T) {
	zipPath := writeZipFile(t, map[string]string{"/abs.txt": "nope"})
	_, err := ExtractZipSecure(zipPath, filepath.Join(t.TempDir(), "out"), defaultLimits())
	require.Error(t, err, "absolute path")
}

func TestExtractZip_RejectsSymlinks(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "in.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	h := &zip.FileHeader{Name: "link"}
	h.SetMode(os.ModeSymlink | 0o777)
	w, err := zw.CreateHeader(h)
	require.NoError(t, err)
	_, err = w.Write([]byte("target"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = ExtractZipSecure(zipPath, filepath.Join(t.TempDir(), "out"), defaultLimits())
	require.Error(t, err, "symlink entry")
}

func TestExtractZip_EnforcesLimits(t *testing.T) {
	zipPath := writeZipFile(t, map[string]string{"a.txt": "abcd"})

	_, err := ExtractZipSecure(zipPath, filepath.Join(t.TempDir(), "out1"), Limits{
		MaxFiles:      1,
		MaxTotalBytes: 3,
		MaxFileBytes:  10,
	})
	require.Error(t, err, "total bytes limit")

	_, err = ExtractZipSecure(zipPath, filepath.Join(t.TempDir(), "out2"), Limits{
		MaxFiles:      1,
		MaxTotalBytes: 10,
		MaxFileBytes:  3,
	})
	require.Error(t, err, "file bytes limit")

	zipPath2 := writeZipFile(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	_, err = ExtractZipSecure(zipPath2, filepath.Join(t.TempDir(), "out3"), Limits{
		MaxFiles:      1,
		MaxTotalBytes: 10,
		MaxFileBytes:  10,
	})
	require.Error(t, err, "file count limit")
}

func TestWriteZip_IsReproducible(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core.json"), []byte(`{"core":{}}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Platforms"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Platforms", "pf.json"), []byte("platform"), 0o600))

	entries, err := DirEntries(filepath.Join(dir, "Platforms"), "Platforms")
	require.NoError(t, err)
	entries = append(entries, Entry{Name: "Cores/a.b/core.json", Path: filepath.Join(dir, "core.json")})
	stamp := time.Date(2023, 8, 6, 0, 0, 0, 0, time.UTC)

	var first, second bytes.Buffer
	require.NoError(t, WriteZip(&first, entries, stamp))
	// Touching the sources must not change the archive.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "core.json"), later, later))
	reversed := []Entry{entries[1], entries[0]}
	require.NoError(t, WriteZip(&second, reversed, stamp))
	assert.Equal(t, first.Bytes(), second.Bytes())

	zr, err := zip.NewReader(bytes.NewReader(first.Bytes()), int64(first.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.True(t, f.Modified.Equal(stamp), "entry %s has time %v", f.Name, f.Modified)
	}
	assert.Equal(t, []string{"Cores/a.b/core.json", "Platforms/pf.json"}, names)
}

func TestWriteZip_RejectsBadNames(t *testing.T) {
	src := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	require.Error(t, WriteZip(io.Discard, []Entry{{Name: "../f", Path: src}}, time.Time{}), "traversal")
	require.Error(t, WriteZip(io.Discard, []Entry{{Name: "a", Path: src}, {Name: "./a", Path: src}}, time.Time{}), "duplicate")
}

func TestDirEntries_MissingRoot(t *testing.T) {
	entries, err := DirEntries(filepath.Join(t.TempDir(), "Assets"), "Assets")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRoundTrip_ExtractWrittenPackage(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bitstream")
	require.NoError(t, os.WriteFile(src, []byte{0x01, 0x80}, 0o644))
	zipPath := filepath.Join(t.TempDir(), "pkg.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	require.NoError(t, WriteZip(f, []Entry{{Name: "Cores/a.b/bitstream.rbf_r", Path: src}}, time.Unix(0, 0)))
	require.NoError(t, f.Close())

	out := t.TempDir()
	created, err := ExtractZipSecure(zipPath, out, defaultLimits())
	require.NoError(t, err)
	assert.Equal(t, []string{"Cores/a.b/bitstream.rbf_r"}, created)
	raw, err := os.ReadFile(filepath.Join(out, "Cores", "a.b", "bitstream.rbf_r"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x80}, raw)
}

func writeZipFile(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "in.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return zipPath
}

func defaultLimits() Limits {
	return Limits{MaxFiles: 100, MaxTotalBytes: 1024 * 1024, MaxFileBytes: 1024 * 1024}
}
