// Package stage mirrors hardware sources from the user's tree into the
// template's import folder.
package stage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mblsha/pfcore/internal/fsutil"
	"github.com/mblsha/pfcore/internal/qsf"
)

// ErrOutsideSource is returned for extra files that do not live under the
// source root.
var ErrOutsideSource = errors.New("file is outside the source folder")

// File is one source-to-destination copy.
type File struct {
	Source string
	Dest   string
}

// Scan walks srcRoot and returns a File for every .v/.sv file, with Dest at
// the same relative path under importDir. Folders listed in skip are not
// descended into. The result is in lexical walk order.
func Scan(srcRoot, importDir string, skip ...string) ([]File, error) {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		abs, err := filepath.Abs(s)
		if err != nil {
			return nil, err
		}
		skipped[abs] = true
	}

	var files []File
	err := filepath.WalkDir(srcRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == srcRoot {
				return nil
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			if skipped[abs] {
				return filepath.SkipDir
			}
			return nil
		}
		if !qsf.IsSource(p) {
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinked sources are staged by content.
			fi, err := os.Stat(p)
			if err != nil || !fi.Mode().IsRegular() {
				return nil
			}
		}
		f, err := mirror(srcRoot, importDir, p)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", srcRoot, err)
	}
	return files, nil
}

// Extra stages explicitly listed files of any type. Entries are relative to
// the working directory, like the core config file.
func Extra(srcRoot, importDir string, paths []string) ([]File, error) {
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		f, err := mirror(srcRoot, importDir, filepath.Clean(p))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Dest < files[j].Dest })
	return files, nil
}

func mirror(srcRoot, importDir, p string) (File, error) {
	absRoot, err := filepath.Abs(srcRoot)
	if err != nil {
		return File{}, err
	}
	absFile, err := filepath.Abs(p)
	if err != nil {
		return File{}, err
	}
	rel, err := filepath.Rel(absRoot, absFile)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return File{}, fmt.Errorf("%w: %q", ErrOutsideSource, p)
	}
	return File{Source: p, Dest: filepath.Join(importDir, rel)}, nil
}

// Copy replaces f.Dest with the bytes of f.Source.
func Copy(f File) error {
	if err := fsutil.CopyFile(f.Source, f.Dest); err != nil {
		return fmt.Errorf("stage %s: %w", f.Source, err)
	}
	return nil
}
