// Package fsutil provides the file system helpers shared by the pipeline
// stages: atomic replacement of outputs and byte-for-byte copies.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes the content produced by fill to a temporary file in
// the destination's directory and renames it over path once complete. A
// failed write never leaves a partial file at path.
func WriteFileAtomic(path string, perm os.FileMode, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary file for %q: %w", path, err)
	}
	temporaryPath := file.Name()

	if err := fill(file); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("sync %q: %w", temporaryPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("close %q: %w", temporaryPath, err)
	}
	if err := os.Chmod(temporaryPath, perm); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("chmod %q: %w", temporaryPath, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("replace %q: %w", path, err)
	}
	return nil
}

// WriteBytesAtomic is WriteFileAtomic for an in-memory payload.
func WriteBytesAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteFileAtomic(path, perm, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write %q: %w", path, err)
		}
		return nil
	})
}

// CopyFile copies the bytes of src to dst, creating dst's parent folders.
// File metadata other than the permission bits is not preserved.
func CopyFile(src, dst string) error {
	rf, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer rf.Close()

	fi, err := rf.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("copy %q: is a directory", src)
	}

	return WriteFileAtomic(dst, fi.Mode().Perm(), func(w io.Writer) error {
		if _, err := io.Copy(w, rf); err != nil {
			return fmt.Errorf("copy %q to %q: %w", src, dst, err)
		}
		return nil
	})
}

// CopyDir recursively copies the contents of src into dst. Symlinks are
// copied as links.
func CopyDir(src, dst string) error {
	cleanSrc := filepath.Clean(src)
	return filepath.WalkDir(cleanSrc, func(pathNow string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(cleanSrc, pathNow)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(pathNow)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return CopyFile(pathNow, target)
		}
	})
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
