/*
	Package file implements a key-value store over a local directory.  Each key is a
	"/"-separated relative path and each value is the file at that path, which is the
	layout expected by tools reading zarr arrays directly from disk.
*/
package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/twinj/uuid"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

// Engine constructs directory-backed stores.
type Engine struct {
	storage.BaseEngine
}

// NewEngine returns the "file" engine.
func NewEngine() Engine {
	return Engine{storage.NewBaseEngine("file", "Local directory key value store", "0.1.0")}
}

// NewStore returns a store rooted at spec.Path.  The directory is created if create is
// true and it does not exist.
func (e Engine) NewStore(spec storage.Spec, create bool) (storage.KVStore, error) {
	return NewStore(spec.Path, create)
}

// Store is a directory-backed key-value store.
type Store struct {
	path string
}

// NewStore returns a store rooted at path.
func NewStore(path string, create bool) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%q must be specified for file store", "path")
	}
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if !create {
			return nil, fmt.Errorf("no file store at %s: %w", path, err)
		}
		bfio.Debugf("File store not already at path (%s). Creating ...\n", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case !info.IsDir():
		return nil, fmt.Errorf("file store path %s is not a directory", path)
	}
	return &Store{path: path}, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("file store @ %s", s.path)
}

// Path returns the root directory.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) filepath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("bad key %q for %s", key, s)
	}
	return filepath.Join(s.path, clean), nil
}

// Get returns a value given a key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	fpath, err := s.filepath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fpath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s in %s: %w", key, s, storage.ErrNotFound)
	}
	return data, err
}

// Put writes a value with given key.  The value is written to a temporary file that
// is then renamed so readers never see a partial value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	fpath, err := s.filepath(key)
	if err != nil {
		return err
	}
	dirpath := filepath.Dir(fpath)
	if err := os.MkdirAll(dirpath, 0755); err != nil {
		return err
	}
	tmpPath := filepath.Join(dirpath, fmt.Sprintf(".tmp-%x", uuid.NewV4().Bytes()))
	if err := os.WriteFile(tmpPath, value, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, fpath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Delete removes a value with given key.
func (s *Store) Delete(ctx context.Context, key string) error {
	fpath, err := s.filepath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fpath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns keys under the root that begin with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.path, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for directories.
func (s *Store) Close() error {
	return nil
}
