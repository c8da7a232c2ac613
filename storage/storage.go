/*
	Package storage provides a unified key-value interface over the places image data
	can live: local directories, cloud buckets, embedded databases, Swift containers,
	and the tags and tiles of a tiled TIFF file.  It also holds the runtime context
	shared by opened arrays: a byte-bounded chunk cache and concurrency limits.

	Keys are "/"-separated strings relative to the store's root and values are
	simply []byte at this level.  Serialization occurs above the storage level.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blang/semver"

	"github.com/PolusAI/bfiocpp/bfio"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("key not found")

// ErrReadOnly is returned by Put and Delete on stores that cannot be modified.
var ErrReadOnly = errors.New("store is read-only")

// IsNotFound returns true if the error signals a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// KVStore is a key-value store holding array metadata and chunks.
type KVStore interface {
	fmt.Stringer

	// Get returns the value for a key or an error satisfying IsNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value at key, replacing any prior value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes a key.  Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Engine describes a kind of KVStore and how to construct one.
type Engine interface {
	fmt.Stringer

	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewStore returns a store for the given spec.  If create is true, the store
	// may create its backing location.
	NewStore(spec Spec, create bool) (KVStore, error)
}

// Spec selects a kvstore driver and its location.
type Spec struct {
	// Driver is the engine name, e.g., "file" or "tiled_tiff".
	Driver string `json:"driver"`

	// Path is the driver-specific location: a directory, file, or bucket URL.
	Path string `json:"path"`

	// Config holds any extra driver settings, e.g., swift credentials.
	Config bfio.Config `json:"config,omitempty"`
}

func (s Spec) String() string {
	return fmt.Sprintf("%s:%s", s.Driver, s.Path)
}

// DeletePrefix removes every key with the given prefix.
func DeletePrefix(ctx context.Context, kv KVStore, prefix string) (int, error) {
	keys, err := kv.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := kv.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// SplitPath separates a store location from an optional key prefix within the store.
// The two are separated by "|", e.g., "gs://bucket|images/plate1.zarr".
func SplitPath(path string) (location, prefix string) {
	parts := strings.SplitN(path, "|", 2)
	if len(parts) == 2 {
		return parts[0], strings.Trim(parts[1], "/")
	}
	return path, ""
}

// JoinKey joins key components with "/", skipping empty ones.
func JoinKey(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

// BaseEngine holds the identifying fields shared by engines.
type BaseEngine struct {
	Name        string
	Description string
	Version     semver.Version
}

// NewBaseEngine returns engine identity with a parsed semantic version.
func NewBaseEngine(name, desc, version string) BaseEngine {
	ver, err := semver.Make(version)
	if err != nil {
		bfio.Errorf("Unable to make semver for %s engine: %v\n", name, err)
	}
	return BaseEngine{name, desc, ver}
}

func (e BaseEngine) GetName() string {
	return e.Name
}

func (e BaseEngine) GetDescription() string {
	return e.Description
}

func (e BaseEngine) GetSemVer() semver.Version {
	return e.Version
}

func (e BaseEngine) String() string {
	return fmt.Sprintf("%s [%s]", e.Name, e.Version)
}
