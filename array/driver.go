/*
	Package array implements a chunked n-dimensional array over a key-value store.
	A Driver supplies the format: where metadata lives, how chunk cells map to keys,
	and how chunk bytes are encoded.  The Array runtime supplies everything else:
	bounds checking, fan-out of region reads and writes across chunks, fill values
	for missing chunks, read-modify-write of partial chunks, and chunk caching.

	All element data crossing the Array API is little-endian and C-ordered.
*/
package array

import (
	"fmt"
	"strings"

	"github.com/PolusAI/bfiocpp/bfio"
)

// Metadata describes a chunked array.  Implementations are immutable.
type Metadata interface {
	Shape() []int64
	ChunkShape() []int64
	Kind() bfio.ElementKind

	// FillValue returns the little-endian encoding of one element used for
	// chunks that are not stored.
	FillValue() []byte

	// CompatibilityKey identifies the parts of the metadata that cached data and
	// open handles depend on.
	CompatibilityKey() string
}

// Driver is a chunked array format bound to one array location.
type Driver interface {
	fmt.Stringer

	// KeyPrefix is the prefix of every key belonging to the array.
	KeyPrefix() string

	// MetadataKey returns the key holding the encoded metadata.
	MetadataKey() string

	// DecodeMetadata parses and validates stored metadata.
	DecodeMetadata(raw []byte) (Metadata, error)

	// Attach makes decoded metadata current.  Attaching again after a reload
	// validates compatibility with the current metadata.
	Attach(md Metadata) error

	// Create makes the driver's requested metadata current and returns it with
	// its encoding for storage.
	Create() (Metadata, []byte, error)

	// ChunkKey returns the storage key of a chunk cell.
	ChunkKey(cell []int64) (string, error)

	// DecodeChunk returns the little-endian elements of a full chunk.
	DecodeChunk(cell []int64, raw []byte) ([]byte, error)

	// EncodeChunk returns the stored form of a full chunk.
	EncodeChunk(cell []int64, chunk []byte) ([]byte, error)

	// Resize returns metadata with a new shape and its encoding.  A nil encoding
	// means nothing needs to be stored.
	Resize(shape []int64) (Metadata, []byte, error)

	// DataCacheKey distinguishes cached chunks of this array from others sharing
	// a cache.
	DataCacheKey() string

	// Close releases driver state.
	Close() error
}

// OpenMode selects how Open treats existing and missing arrays.
type OpenMode uint8

const (
	// OpenExisting opens an existing array.
	OpenExisting OpenMode = 1 << iota

	// Create creates a new array.  Combined with OpenExisting, an existing array
	// is opened instead.
	Create

	// DeleteExisting removes any existing array before creating.
	DeleteExisting
)

func (m OpenMode) String() string {
	var parts []string
	if m&OpenExisting != 0 {
		parts = append(parts, "open")
	}
	if m&Create != 0 {
		parts = append(parts, "create")
	}
	if m&DeleteExisting != 0 {
		parts = append(parts, "delete_existing")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ReadWriteMode restricts operations on an opened array.
type ReadWriteMode uint8

const (
	Read ReadWriteMode = 1 << iota
	Write
	ReadWrite = Read | Write
)

func (m ReadWriteMode) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read/write"
	}
	return fmt.Sprintf("ReadWriteMode(%d)", uint8(m))
}

// fillChunk returns a chunk of n elements each set to fill.
func fillChunk(fill []byte, n int64) []byte {
	chunk := make([]byte, n*int64(len(fill)))
	zero := true
	for _, b := range fill {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return chunk
	}
	for i := 0; i < len(chunk); i += len(fill) {
		copy(chunk[i:], fill)
	}
	return chunk
}
