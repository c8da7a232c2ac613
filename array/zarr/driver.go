/*
	Package zarr is the chunk driver for Zarr arrays, storage format v2 (".zarray")
	and v3 ("zarr.json").  Each chunk is stored under its own key as the C-ordered
	elements of a full chunk, optionally compressed with zlib, gzip, or zstd.  Edge
	chunks are stored at full size like every other chunk.
*/
package zarr

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PolusAI/bfiocpp/array"
	"github.com/PolusAI/bfiocpp/bfio"
)

// Driver serves one Zarr array within a key-value store.
type Driver struct {
	prefix   string
	format   int
	template *Metadata

	mu sync.RWMutex
	md *Metadata
}

// NewDriver returns a driver for an existing array whose keys begin with prefix.
// A non-empty prefix names a directory within the store.
func NewDriver(prefix string, format int) *Driver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Driver{prefix: prefix, format: format}
}

// NewCreateDriver returns a driver that creates an array described by md.
func NewCreateDriver(prefix string, md *Metadata) *Driver {
	d := NewDriver(prefix, md.format)
	d.template = md
	return d
}

func (d *Driver) String() string {
	if d.prefix == "" {
		return fmt.Sprintf("zarr v%d array", d.format)
	}
	return fmt.Sprintf("zarr v%d array %q", d.format, strings.TrimSuffix(d.prefix, "/"))
}

// Format returns the storage format version.
func (d *Driver) Format() int { return d.format }

func (d *Driver) KeyPrefix() string { return d.prefix }

func (d *Driver) MetadataKey() string {
	if d.format == V3 {
		return d.prefix + V3MetadataKey
	}
	return d.prefix + V2MetadataKey
}

// AttributesKey returns the key of the v2 user attributes.
func (d *Driver) AttributesKey() string {
	return d.prefix + V2AttributesKey
}

func (d *Driver) DecodeMetadata(raw []byte) (array.Metadata, error) {
	return ParseMetadata(d.format, d.MetadataKey(), raw)
}

// Metadata returns the current metadata or nil if none is attached.
func (d *Driver) Metadata() *Metadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.md
}

func (d *Driver) Attach(m array.Metadata) error {
	md, ok := m.(*Metadata)
	if !ok {
		return fmt.Errorf("%s cannot attach %T metadata", d, m)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.md != nil {
		if existing, next := d.md.CompatibilityKey(), md.CompatibilityKey(); existing != next {
			return &bfio.MetadataConflictError{Existing: existing, New: next}
		}
	}
	d.md = md
	return nil
}

func (d *Driver) Create() (array.Metadata, []byte, error) {
	if d.template == nil {
		return nil, nil, fmt.Errorf("%s has no metadata to create", d)
	}
	raw, err := d.template.Encode()
	if err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	d.md = d.template
	d.mu.Unlock()
	return d.template, raw, nil
}

func (d *Driver) current() (*Metadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.md == nil {
		return nil, fmt.Errorf("%s is not open", d)
	}
	return d.md, nil
}

// ChunkKey joins the cell indices with the separator, e.g., "0.1.2" for v2 and
// "c/0/1/2" for v3 default key encoding.
func (d *Driver) ChunkKey(cell []int64) (string, error) {
	md, err := d.current()
	if err != nil {
		return "", err
	}
	if len(cell) != len(md.chunks) {
		return "", fmt.Errorf("%s has rank %d, got cell %v", d, len(md.chunks), cell)
	}
	parts := make([]string, 0, len(cell)+1)
	if md.keyPrefix {
		parts = append(parts, "c")
	}
	for _, i := range cell {
		parts = append(parts, strconv.FormatInt(i, 10))
	}
	return d.prefix + strings.Join(parts, md.separator), nil
}

func (d *Driver) chunkBytes(md *Metadata) int {
	n := int64(md.kind.Bytes())
	for _, c := range md.chunks {
		n *= c
	}
	return int(n)
}

func (d *Driver) DecodeChunk(cell []int64, raw []byte) ([]byte, error) {
	md, err := d.current()
	if err != nil {
		return nil, err
	}
	chunk := raw
	if md.codec != nil {
		if chunk, err = md.codec.Decompress(raw); err != nil {
			return nil, fmt.Errorf("%s chunk %v: %w", md.codec.ID(), cell, err)
		}
	}
	if expected := d.chunkBytes(md); len(chunk) != expected {
		return nil, fmt.Errorf("chunk %v has %d bytes, expected %d", cell, len(chunk), expected)
	}
	if md.bigEndian {
		if md.codec == nil {
			chunk = append([]byte(nil), chunk...)
		}
		swapBytes(chunk, md.kind.Bytes())
	}
	return chunk, nil
}

func (d *Driver) EncodeChunk(cell []int64, chunk []byte) ([]byte, error) {
	md, err := d.current()
	if err != nil {
		return nil, err
	}
	if len(chunk) != d.chunkBytes(md) {
		return nil, fmt.Errorf("chunk %v has %d bytes, expected %d", cell, len(chunk), d.chunkBytes(md))
	}
	if md.bigEndian {
		chunk = append([]byte(nil), chunk...)
		swapBytes(chunk, md.kind.Bytes())
	}
	if md.codec == nil {
		return chunk, nil
	}
	return md.codec.Compress(chunk)
}

// Resize returns metadata with the new shape, which must be stored.
func (d *Driver) Resize(shape []int64) (array.Metadata, []byte, error) {
	md, err := d.current()
	if err != nil {
		return nil, nil, err
	}
	if len(shape) != len(md.shape) {
		return nil, nil, fmt.Errorf("%s has rank %d, cannot resize to %v", d, len(md.shape), shape)
	}
	for _, s := range shape {
		if s < 0 {
			return nil, nil, fmt.Errorf("negative extent in %v", shape)
		}
	}
	resized := md.withShape(shape)
	raw, err := resized.Encode()
	if err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	d.md = resized
	d.mu.Unlock()
	return resized, raw, nil
}

func (d *Driver) DataCacheKey() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.md == nil {
		return d.prefix
	}
	return d.prefix + "@" + d.md.CompatibilityKey()
}

func (d *Driver) Close() error {
	d.mu.Lock()
	d.md = nil
	d.mu.Unlock()
	return nil
}

func swapBytes(b []byte, size int) {
	if size < 2 {
		return
	}
	for i := 0; i+size <= len(b); i += size {
		for lo, hi := i, i+size-1; lo < hi; lo, hi = lo+1, hi-1 {
			b[lo], b[hi] = b[hi], b[lo]
		}
	}
}
