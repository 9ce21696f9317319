// Package packager bundles a compiled core into the zip layout the Pocket
// expects on its SD card.
package packager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/mblsha/pfcore/internal/archive"
	"github.com/mblsha/pfcore/internal/fsutil"
	"github.com/mblsha/pfcore/internal/manifest"
)

// Folders copied into the package from the build root and from the core
// config folder, at the same relative path.
var auxFolders = []string{"Assets", "Platforms"}

type Inputs struct {
	ConfigFile string
	Bitstream  string
	BuildDir   string
}

type Packager struct {
	Logger *slog.Logger
}

func New(logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Packager{Logger: logger}
}

// Filename is <author>.<shortname>_<version>_<date_release>.zip.
func Filename(m manifest.Manifest) string {
	md := m.Core.Metadata
	return fmt.Sprintf("%s.%s_%s_%s.zip", md.Author, md.ShortName, md.Version, md.DateRelease)
}

// Output is the package path for in, read from its manifest.
func (p *Packager) Output(in Inputs) (string, error) {
	m, err := manifest.Load(in.ConfigFile)
	if err != nil {
		return "", err
	}
	return filepath.Join(in.BuildDir, Filename(m)), nil
}

// Dependencies lists the files whose content determines the package.
func (p *Packager) Dependencies(in Inputs) ([]string, error) {
	m, err := manifest.Load(in.ConfigFile)
	if err != nil {
		return nil, err
	}
	entries, err := p.entries(m, in)
	if err != nil {
		return nil, err
	}
	deps := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		deps = append(deps, e.Path)
	}
	return append(deps, in.Bitstream), nil
}

// Package writes the package and returns its path. The archive only
// depends on file contents and the manifest's release date.
func (p *Packager) Package(ctx context.Context, in Inputs) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, err := manifest.Load(in.ConfigFile)
	if err != nil {
		return "", err
	}
	out := filepath.Join(in.BuildDir, Filename(m))

	raw, err := os.ReadFile(in.Bitstream)
	if err != nil {
		return "", fmt.Errorf("read bitstream: %w", err)
	}
	entries, err := p.entries(m, in)
	if err != nil {
		return "", err
	}
	entries = append(entries, archive.Entry{
		Name: path.Join("Cores", m.CoreName(), m.Bitstream()),
		Data: ReverseBits(raw),
	})

	p.Logger.Info("packaging core", "core", m.CoreName(), "output", out, "files", len(entries))
	err = fsutil.WriteFileAtomic(out, 0o644, func(w io.Writer) error {
		return archive.WriteZip(w, entries, m.Released())
	})
	if err != nil {
		return "", fmt.Errorf("write package: %w", err)
	}
	return out, nil
}

// entries collects the manifest files and auxiliary folders. Build-root
// files shadow same-named files from the config folder.
func (p *Packager) entries(m manifest.Manifest, in Inputs) ([]archive.Entry, error) {
	siblings, err := manifest.Siblings(in.ConfigFile)
	if err != nil {
		return nil, err
	}
	var out []archive.Entry
	for _, s := range siblings {
		out = append(out, archive.Entry{Name: path.Join("Cores", m.CoreName(), filepath.Base(s)), Path: s})
	}

	seen := make(map[string]bool)
	for _, root := range []string{in.BuildDir, filepath.Dir(in.ConfigFile)} {
		for _, folder := range auxFolders {
			found, err := archive.DirEntries(filepath.Join(root, folder), folder)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", folder, err)
			}
			for _, e := range found {
				if seen[e.Name] {
					continue
				}
				seen[e.Name] = true
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// ReverseBits returns a copy of raw with the bit order of every byte
// reversed, the layout the Pocket loads bitstreams in.
func ReverseBits(raw []byte) []byte {
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = reverseTable[b]
	}
	return out
}

var reverseTable = func() (t [256]byte) {
	for i := range t {
		b := byte(i)
		var r byte
		for range 8 {
			r = r<<1 | b&1
			b >>= 1
		}
		t[i] = r
	}
	return t
}()
