// Package fsutil provides file system utility functions.
package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindFilesByExtension recursively searches the given root path for all files ending
// with the specified extension. It returns a slice of their full paths, sorted so
// that multi-file models load in a stable order.
func FindFilesByExtension(rootPath string, extension string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// ResolveInputs expands a mix of files and directories into the list of files
// with the given extension. Plain files are kept as given, whatever their extension.
func ResolveInputs(extension string, paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot access %q: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		found, err := FindFilesByExtension(p, extension)
		if err != nil {
			return nil, fmt.Errorf("scanning %q: %w", p, err)
		}
		out = append(out, found...)
	}
	return out, nil
}

// EnsureDir creates dir (and parents) if it does not exist yet.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}
	return nil
}
