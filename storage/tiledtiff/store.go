/*
	Package tiledtiff serves a tiled, multi-page TIFF file as a read-only key-value store.
	The file is memory-mapped and its directory chain parsed once at open.  Keys are:

		__TAG__/IMAGE_DESCRIPTION      JSON array metadata built from the OME-XML
		__TAG__/RAW_IMAGE_DESCRIPTION  the ImageDescription text of IFD 0
		__TAG__/_<row>_<col>_<ifd>     the decoded tile at pixel (row, col) of an IFD

	Tiles are decompressed and returned as little-endian samples regardless of the
	file's byte order.  Classic TIFF and BigTIFF are both supported.
*/
package tiledtiff

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/mmap"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

const (
	// TagPrefix begins every key served by the store.
	TagPrefix = "__TAG__/"

	// MetadataKey holds the synthesized JSON metadata.
	MetadataKey = TagPrefix + "IMAGE_DESCRIPTION"

	// RawDescriptionKey holds the raw ImageDescription text.
	RawDescriptionKey = TagPrefix + "RAW_IMAGE_DESCRIPTION"
)

// ChunkKey returns the key of the tile whose top-left pixel is (row, col) in an IFD.
func ChunkKey(prefix string, row, col, ifd int64) string {
	return fmt.Sprintf("%s%s_%d_%d_%d", prefix, TagPrefix, row, col, ifd)
}

// Engine constructs tiled TIFF stores.
type Engine struct {
	storage.BaseEngine
}

// NewEngine returns the "tiled_tiff" engine.
func NewEngine() Engine {
	return Engine{storage.NewBaseEngine("tiled_tiff", "Read-only tiled TIFF / OME-TIFF file", "0.1.0")}
}

// NewStore opens the TIFF file at the spec path.  Stores cannot be created.
func (e Engine) NewStore(spec storage.Spec, create bool) (storage.KVStore, error) {
	if create {
		return nil, fmt.Errorf("tiled TIFF %s: %w", spec.Path, storage.ErrReadOnly)
	}
	return Open(spec.Path)
}

// Store is a read-only key-value view of a tiled TIFF file.
type Store struct {
	path     string
	r        *mmap.ReaderAt
	order    binary.ByteOrder
	ifds     []*IFD
	metadata []byte
	raw      string
}

// Open maps the file and parses its directories and metadata.
func Open(path string) (*Store, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := newStore(path, r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("tiled TIFF %s: %w", path, err)
	}
	return s, nil
}

func newStore(path string, r *mmap.ReaderAt) (*Store, error) {
	hdr, err := parseHeader(r, int64(r.Len()))
	if err != nil {
		return nil, err
	}
	if err := hdr.ifds[0].checkTiled(); err != nil {
		return nil, err
	}
	s := &Store{
		path:  path,
		r:     r,
		order: hdr.order,
		ifds:  hdr.ifds,
		raw:   hdr.ifds[0].Description,
	}

	var md *Metadata
	if isOME(s.raw) {
		md, err = omeMetadata(s.raw, s.ifds)
	} else {
		md, err = plainMetadata(s.ifds)
	}
	if err != nil {
		return nil, err
	}
	for key := range md.OmeXML.TiffData {
		ifd, _ := strconv.Atoi(key)
		if err := s.ifds[ifd].checkTiled(); err != nil {
			return nil, err
		}
	}
	if s.metadata, err = md.Encode(); err != nil {
		return nil, err
	}
	bfio.Debugf("Opened tiled TIFF %s: %d IFDs, %s, shape %v, tile %dx%d, %s\n",
		path, len(s.ifds), s.order, md.Shape, md.ChunkShape[3], md.ChunkShape[4], md.DType)
	return s, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("tiled TIFF @ %s", s.path)
}

// NumIFDs returns the number of directories in the file.
func (s *Store) NumIFDs() int {
	return len(s.ifds)
}

// Get returns the value of a metadata or tile key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	switch key {
	case MetadataKey:
		return append([]byte(nil), s.metadata...), nil
	case RawDescriptionKey:
		return []byte(s.raw), nil
	}
	row, col, ifd, ok := parseTileKey(key)
	if !ok || ifd >= int64(len(s.ifds)) {
		return nil, fmt.Errorf("%s in %s: %w", key, s, storage.ErrNotFound)
	}
	d := s.ifds[ifd]
	if err := d.checkTiled(); err != nil {
		return nil, err
	}
	if row%d.TileHeight != 0 || col%d.TileWidth != 0 || row >= d.Height || col >= d.Width {
		return nil, fmt.Errorf("%s in %s: %w", key, s, storage.ErrNotFound)
	}
	index := (row/d.TileHeight)*d.TilesAcross() + col/d.TileWidth
	offset, count := d.TileOffsets[index], d.TileByteCounts[index]
	if count == 0 {
		return nil, fmt.Errorf("%s in %s: %w", key, s, storage.ErrNotFound)
	}
	if size := uint64(s.r.Len()); offset > size || count > size-offset {
		return nil, fmt.Errorf("tile %d of IFD %d extends past end of file", index, ifd)
	}
	buf := make([]byte, count)
	if _, err := s.r.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("failed to read tile %d of IFD %d: %v", index, ifd, err)
	}
	tile, err := decodeTile(d, s.order, buf)
	if err != nil {
		return nil, fmt.Errorf("tile %d of IFD %d in %s: %w", index, ifd, s.path, err)
	}
	return tile, nil
}

func parseTileKey(key string) (row, col, ifd int64, ok bool) {
	if !strings.HasPrefix(key, TagPrefix+"_") {
		return
	}
	parts := strings.Split(strings.TrimPrefix(key, TagPrefix+"_"), "_")
	if len(parts) != 3 {
		return
	}
	var vals [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], true
}

// Put always fails.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return fmt.Errorf("put %s in %s: %w", key, s, storage.ErrReadOnly)
}

// Delete always fails.
func (s *Store) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("delete %s in %s: %w", key, s, storage.ErrReadOnly)
}

// List returns the metadata keys and the keys of every tile in tiled IFDs.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	add := func(k string) {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	add(MetadataKey)
	add(RawDescriptionKey)
	for _, d := range s.ifds {
		if d.checkTiled() != nil {
			continue
		}
		for y := int64(0); y < d.Height; y += d.TileHeight {
			for x := int64(0); x < d.Width; x += d.TileWidth {
				add(ChunkKey("", y, x, int64(d.Index)))
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close unmaps the file.
func (s *Store) Close() error {
	return s.r.Close()
}
