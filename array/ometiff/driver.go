/*
	Package ometiff is the chunk driver for tiled single-file containers such as OME-TIFF.
	The container is viewed through a key-value store that serves its image description
	as JSON metadata and each tile as a chunk.  The logical array is always rank 5,
	[T, C, Z, Y, X], chunked as single-plane tiles.  A lookup table built from the
	metadata maps each (z, c, t) plane to the page (IFD) that stores it.

	The driver is read-only.
*/
package ometiff

import (
	"errors"
	"fmt"
	"sync"

	"github.com/PolusAI/bfiocpp/array"
	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage/tiledtiff"
)

// State is the lifecycle state of a container.
type State uint8

const (
	Closed State = iota
	MetadataLoading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case MetadataLoading:
		return "metadata loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ErrReadOnly is returned when a container is opened for creation.
var ErrReadOnly = errors.New("tiled container driver is read-only")

// Driver serves one container within a key-value store.
type Driver struct {
	prefix string

	mu      sync.RWMutex
	state   State
	md      *Metadata
	failure error
}

// NewDriver returns a closed driver for the container whose keys start with prefix.
func NewDriver(prefix string) *Driver {
	return &Driver{prefix: prefix}
}

func (d *Driver) String() string {
	if d.prefix == "" {
		return "ometiff container"
	}
	return fmt.Sprintf("ometiff container %q", d.prefix)
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Driver) KeyPrefix() string {
	return d.prefix
}

// MetadataKey is the image description tag of the container.
func (d *Driver) MetadataKey() string {
	return d.prefix + tiledtiff.MetadataKey
}

func (d *Driver) DecodeMetadata(raw []byte) (array.Metadata, error) {
	return ParseMetadata(d.MetadataKey(), raw)
}

// Attach moves a closed container to ready once its lookup table is found to be a
// bijection over the declared planes.  On a ready container it checks that reloaded
// metadata has the same compatibility key.
func (d *Driver) Attach(m array.Metadata) error {
	md, ok := m.(*Metadata)
	if !ok {
		return fmt.Errorf("%s cannot attach %T metadata", d, m)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Failed:
		return d.failure
	case Ready:
		if existing, next := d.md.CompatibilityKey(), md.CompatibilityKey(); existing != next {
			return &bfio.MetadataConflictError{Existing: existing, New: next}
		}
		d.md = md
		return nil
	}
	d.state = MetadataLoading
	if err := md.checkBijection(); err != nil {
		d.fail(err)
		return err
	}
	d.md = md
	d.state = Ready
	bfio.Debugf("%s ready: %d pages for shape %v\n", d, md.NumPages(), md.shape)
	return nil
}

// fail moves the container to the terminal failed state.  Caller holds the lock.
func (d *Driver) fail(err error) {
	d.state = Failed
	d.failure = err
	bfio.Errorf("%s failed: %v\n", d, err)
}

// Create always fails since containers cannot be written.
func (d *Driver) Create() (array.Metadata, []byte, error) {
	return nil, nil, ErrReadOnly
}

func (d *Driver) ready() (*Metadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch d.state {
	case Ready:
		return d.md, nil
	case Failed:
		return nil, d.failure
	}
	return nil, fmt.Errorf("%s is %s", d, d.state)
}

// ChunkKey returns "<prefix>__TAG__/_<row>_<col>_<page>" for cell [t, c, z, yc, xc].
// A plane with no page fails the container.
func (d *Driver) ChunkKey(cell []int64) (string, error) {
	md, err := d.ready()
	if err != nil {
		return "", err
	}
	if len(cell) != 5 {
		return "", fmt.Errorf("%s has rank 5, got cell %v", d, cell)
	}
	t, c, z := cell[0], cell[1], cell[2]
	ifd, found := md.Page(z, c, t)
	if !found {
		err := &bfio.InconsistentMetadataError{Z: z, C: c, T: t}
		d.mu.Lock()
		if d.state != Failed {
			d.fail(err)
		}
		d.mu.Unlock()
		return "", err
	}
	return tiledtiff.ChunkKey(d.prefix, cell[3]*md.chunkShape[3], cell[4]*md.chunkShape[4], ifd), nil
}

// DecodeChunk checks the tile size.  Tiles are already little-endian samples.
func (d *Driver) DecodeChunk(cell []int64, raw []byte) ([]byte, error) {
	md, err := d.ready()
	if err != nil {
		return nil, err
	}
	expected := md.chunkShape[3] * md.chunkShape[4] * int64(md.kind.Bytes())
	if int64(len(raw)) != expected {
		return nil, fmt.Errorf("tile for cell %v has %d bytes, expected %d", cell, len(raw), expected)
	}
	return raw, nil
}

// EncodeChunk returns an empty payload.
func (d *Driver) EncodeChunk(cell []int64, chunk []byte) ([]byte, error) {
	return []byte{}, nil
}

// Resize changes the in-memory shape.  The grid has implicit upper bounds, so any
// non-negative rank-5 shape is accepted.  Nothing is stored.
func (d *Driver) Resize(shape []int64) (array.Metadata, []byte, error) {
	if len(shape) != 5 {
		return nil, nil, fmt.Errorf("%s has rank 5, cannot resize to %v", d, shape)
	}
	for _, s := range shape {
		if s < 0 {
			return nil, nil, fmt.Errorf("negative extent in %v", shape)
		}
	}
	md, err := d.ready()
	if err != nil {
		return nil, nil, err
	}
	resized := md.withShape(shape)
	d.mu.Lock()
	d.md = resized
	d.mu.Unlock()
	return resized, nil, nil
}

// DataCacheKey includes the compatibility key so cached tiles of a replaced
// container are never served.
func (d *Driver) DataCacheKey() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.md == nil {
		return d.prefix
	}
	return d.prefix + "@" + d.md.CompatibilityKey()
}

// Close returns a ready container to closed.  Failed stays failed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Failed {
		d.state = Closed
		d.md = nil
	}
	return nil
}
