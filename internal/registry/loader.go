// Package registry discovers adapter weight files on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"zimage/internal/common/fsutil"
)

// Ext is the only adapter file format accepted.
const Ext = ".safetensors"

// File is an adapter file found on disk.
type File struct {
	// Filename is the base name, used as the registry key.
	Filename string
	Path     string
	Size     int64
}

// IsAdapterFile reports whether name has the adapter extension.
func IsAdapterFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), Ext)
}

// LoadDir scans dir (not recursively) for adapter files, sorted by name.
// Partial uploads (*.tmp) and directories are skipped.
func LoadDir(dir string) ([]File, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var files []File
	for _, e := range entries {
		if e.IsDir() || !IsAdapterFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Filename: e.Name(), Path: filepath.Join(abs, e.Name()), Size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}
