package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// IsDir reports whether path is a directory, following symlinks.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsRegularFile reports whether path is a regular file, following symlinks.
func IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// SubDirs lists the immediate subdirectories of root as sorted absolute
// paths. Symlinks to directories count as directories. A missing root is an
// error.
func SubDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() || (entry.Type()&fs.ModeSymlink != 0 && IsDir(path)) {
			dirs = append(dirs, path)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Exists reports whether path exists. Errors other than not-exist count as
// existing so callers do not act on a transient permission failure.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
