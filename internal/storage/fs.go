package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/zettelstack/internal/checksum"
	"github.com/starford/zettelstack/internal/models"
)

// FS implements Provider over a site directory on local disk.
type FS struct {
	root string
	fsys fs.FS
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs, fsys: os.DirFS(abs)}, nil
}

// Root returns the absolute site directory.
func (f *FS) Root() string {
	return f.root
}

// name turns a site path, URL style with an optional leading slash, into an
// fs.FS name. Dot segments are rejected rather than cleaned.
func name(p string) (string, error) {
	p = strings.Trim(filepath.ToSlash(p), "/")
	if p == "" {
		return ".", nil
	}
	if !fs.ValidPath(p) {
		return "", fmt.Errorf("storage: invalid site path %q: %w", p, fs.ErrInvalid)
	}
	return p, nil
}

// List returns every note page under dir. Hidden directories (".git",
// ".cache") are skipped. Paths are slash-separated and relative to the root.
func (f *FS) List(dir string) ([]models.NoteMetadata, error) {
	base, err := name(dir)
	if err != nil {
		return nil, err
	}
	var out []models.NoteMetadata
	err = fs.WalkDir(f.fsys, base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != base && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), NoteExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := fs.ReadFile(f.fsys, p)
		if err != nil {
			return err
		}
		out = append(out, models.NoteMetadata{
			Path:      p,
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	return out, nil
}

// Read returns the raw bytes of a site file. A missing file yields an error
// matching os.ErrNotExist.
func (f *FS) Read(path string) ([]byte, error) {
	p, err := name(path)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(f.fsys, p)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}
