// Package archive writes reproducible zip packages and extracts them without
// letting entries escape the destination.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

type Limits struct {
	MaxFiles      int
	MaxTotalBytes int64
	MaxFileBytes  int64
}

func ExtractZipSecure(zipPath, dest string, limits Limits) ([]string, error) {
	if limits.MaxFiles <= 0 || limits.MaxTotalBytes <= 0 || limits.MaxFileBytes <= 0 {
		return nil, errors.New("invalid extraction limits")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction dest: %w", err)
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	cleanDest := filepath.Clean(dest)
	var total int64
	var count int
	created := make([]string, 0, len(zr.File))

	for _, f := range zr.File {
		entryName, err := sanitizeZipEntryName(f.Name)
		if err != nil {
			return nil, err
		}
		count++
		if count > limits.MaxFiles {
			return nil, fmt.Errorf("zip has too many entries: %d > %d", count, limits.MaxFiles)
		}

		if f.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("symlink entry not allowed: %s", f.Name)
		}

		targetPath := filepath.Join(cleanDest, filepath.FromSlash(entryName))
		cleanTarget := filepath.Clean(targetPath)
		if !strings.HasPrefix(cleanTarget, cleanDest+string(os.PathSeparator)) {
			return nil, fmt.Errorf("zip entry escapes destination: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(cleanTarget, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %q: %w", cleanTarget, err)
			}
			continue
		}

		if f.UncompressedSize64 > uint64(limits.MaxFileBytes) {
			return nil, fmt.Errorf("zip entry too large: %s", f.Name)
		}

		total += int64(f.UncompressedSize64)
		if total > limits.MaxTotalBytes {
			return nil, fmt.Errorf("zip total size exceeds limit")
		}

		if err := os.MkdirAll(filepath.Dir(cleanTarget), 0o755); err != nil {
			return nil, fmt.Errorf("create parent directory: %w", err)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip file %q: %w", f.Name, err)
		}

		wf, err := os.OpenFile(cleanTarget, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("create output file %q: %w", cleanTarget, err)
		}

		maxCopy := limits.MaxFileBytes + 1
		n, copyErr := io.Copy(wf, io.LimitReader(rc, maxCopy))
		closeErr := rc.Close()
		writeCloseErr := wf.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("extract %q: %w", f.Name, copyErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close zip file %q: %w", f.Name, closeErr)
		}
		if writeCloseErr != nil {
			return nil, fmt.Errorf("close output file %q: %w", cleanTarget, writeCloseErr)
		}
		if n > limits.MaxFileBytes {
			return nil, fmt.Errorf("zip entry exceeds max file bytes while extracting: %s", f.Name)
		}

		created = append(created, entryName)
	}

	return created, nil
}

// Entry is one file to store in a zip as Name. Content comes from Data when
// it is non-nil, otherwise from the file at Path.
type Entry struct {
	Name string
	Path string
	Data []byte
}

// WriteZip stores entries sorted by name, every one stamped with modTime and
// mode 0644, so identical inputs produce identical bytes.
func WriteZip(w io.Writer, entries []Entry, modTime time.Time) error {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	seen := make(map[string]bool, len(sorted))
	for _, e := range sorted {
		name, err := sanitizeZipEntryName(e.Name)
		if err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("duplicate zip entry: %s", name)
		}
		seen[name] = true
		if err := writeEntry(zw, name, e, modTime); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, e Entry, modTime time.Time) error {
	var src io.Reader = bytes.NewReader(e.Data)
	if e.Data == nil {
		rf, err := os.Open(e.Path)
		if err != nil {
			return fmt.Errorf("open %q: %w", e.Path, err)
		}
		defer rf.Close()
		src = rf
	}

	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modTime.UTC(),
	}
	header.SetMode(0o644)
	wf, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(wf, src); err != nil {
		return fmt.Errorf("compress %s: %w", name, err)
	}
	return nil
}

// DirEntries lists the regular files under root as entries named
// prefix/<relative path>. A missing root yields no entries.
func DirEntries(root, prefix string) ([]Entry, error) {
	cleanRoot := filepath.Clean(root)
	if _, err := os.Stat(cleanRoot); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var out []Entry
	err := filepath.WalkDir(cleanRoot, func(pathNow string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(cleanRoot, pathNow)
		if err != nil {
			return err
		}
		zipName := filepath.ToSlash(rel)
		if zipName == "." || strings.HasPrefix(zipName, "../") {
			return fmt.Errorf("invalid relative path: %s", rel)
		}
		out = append(out, Entry{Name: path.Join(prefix, zipName), Path: pathNow})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sanitizeZipEntryName(name string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if raw == "" {
		return "", errors.New("zip entry name cannot be empty")
	}
	if strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("absolute zip entry path not allowed: %s", name)
	}
	if hasWindowsDrive(raw) {
		return "", fmt.Errorf("absolute zip entry path not allowed: %s", name)
	}
	cleaned := path.Clean(raw)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal zip entry not allowed: %s", name)
	}
	return cleaned, nil
}

func hasWindowsDrive(p string) bool {
	return len(p) >= 2 && p[1] == ':'
}
