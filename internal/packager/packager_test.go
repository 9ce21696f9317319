package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mblsha/pfcore/internal/manifest"
)

const coreJSON = `{
  "core": {
    "magic": "APF_VER_1",
    "metadata": {
      "platform_ids": ["spiritualized"],
      "shortname": "Spiritualized",
      "author": "Didier",
      "version": "0.1.0",
      "date_release": "2023-08-06"
    },
    "cores": [{"name": "default", "id": 0, "filename": "pf_core.rbf_r"}]
  }
}`

type fixture struct {
	in Inputs
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) string {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}
	cfg := write("src/config/core.json", coreJSON)
	write("src/config/video.json", `{"video":{}}`)
	write("src/config/readme.md", "ignored")
	write("src/config/Platforms/spiritualized.json", "from config folder")
	write("_build/Platforms/spiritualized.json", "from build root")
	write("_build/Assets/spiritualized/common/rom.bin", "rom")
	bit := write("_build/fpga/output_files/pf_core.rbf", string([]byte{0x01, 0x02, 0xF0}))
	return fixture{in: Inputs{ConfigFile: cfg, Bitstream: bit, BuildDir: filepath.Join(root, "_build")}}
}

func readZip(t *testing.T, p string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(p)
	require.NoError(t, err)
	defer zr.Close()
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		raw, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(raw)
	}
	return out
}

func TestFilename(t *testing.T) {
	m, err := manifest.Parse([]byte(coreJSON))
	require.NoError(t, err)
	assert.Equal(t, "Didier.Spiritualized_0.1.0_2023-08-06.zip", Filename(m))
}

func TestPackage_Layout(t *testing.T) {
	fx := newFixture(t)
	out, err := New(nil).Package(context.Background(), fx.in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fx.in.BuildDir, "Didier.Spiritualized_0.1.0_2023-08-06.zip"), out)

	files := readZip(t, out)
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"Assets/spiritualized/common/rom.bin",
		"Cores/Didier.Spiritualized/core.json",
		"Cores/Didier.Spiritualized/pf_core.rbf_r",
		"Cores/Didier.Spiritualized/video.json",
		"Platforms/spiritualized.json",
	}, names)
	assert.Equal(t, "from build root", files["Platforms/spiritualized.json"])
	assert.Equal(t, string([]byte{0x80, 0x40, 0x0F}), files["Cores/Didier.Spiritualized/pf_core.rbf_r"])
}

func TestPackage_RerunIsByteIdentical(t *testing.T) {
	fx := newFixture(t)
	p := New(nil)
	out, err := p.Package(context.Background(), fx.in)
	require.NoError(t, err)
	first, err := os.ReadFile(out)
	require.NoError(t, err)

	_, err = p.Package(context.Background(), fx.in)
	require.NoError(t, err)
	second, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestPackage_MissingBitstream(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, os.Remove(fx.in.Bitstream))
	_, err := New(nil).Package(context.Background(), fx.in)
	require.Error(t, err)

	leftovers, err := filepath.Glob(filepath.Join(fx.in.BuildDir, "*.zip"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestDependencies(t *testing.T) {
	fx := newFixture(t)
	deps, err := New(nil).Dependencies(fx.in)
	require.NoError(t, err)
	assert.Contains(t, deps, fx.in.ConfigFile)
	assert.Contains(t, deps, fx.in.Bitstream)
	assert.Contains(t, deps, filepath.Join(fx.in.BuildDir, "Assets", "spiritualized", "common", "rom.bin"))
	assert.NotContains(t, deps, filepath.Join(filepath.Dir(fx.in.ConfigFile), "Platforms", "spiritualized.json"))
}

func TestReverseBits(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0xFF, 0x80, 0x01, 0xA0}, ReverseBits([]byte{0x00, 0xFF, 0x01, 0x80, 0x05}))
}
