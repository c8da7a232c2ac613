package tiledtiff

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
	"github.com/PolusAI/bfiocpp/storage/tiledtiff/tifftest"
)

func writeFixture(t *testing.T, width, height int64, numPlanes int, opts tifftest.Options) (string, [][]byte) {
	t.Helper()
	kind := opts.Kind
	if kind == 0 {
		kind = bfio.Uint16
	}
	planes := make([][]byte, numPlanes)
	for i := range planes {
		planes[i] = tifftest.Ramp(kind, width, height, int64(i)*1000)
	}
	path := filepath.Join(t.TempDir(), "img.ome.tif")
	if err := tifftest.WriteFile(path, width, height, planes, opts); err != nil {
		t.Fatalf("unable to write TIFF fixture: %v\n", err)
	}
	return path, planes
}

// expectedTile cuts a zero-padded tile out of a little-endian plane.
func expectedTile(plane []byte, width, height, row, col, th, tw int64, bps int64) []byte {
	out := make([]byte, th*tw*bps)
	for y := int64(0); y < th && row+y < height; y++ {
		n := tw
		if col+n > width {
			n = width - col
		}
		copy(out[y*tw*bps:], plane[((row+y)*width+col)*bps:((row+y)*width+col+n)*bps])
	}
	return out
}

func getMetadata(t *testing.T, s *Store) *Metadata {
	t.Helper()
	raw, err := s.Get(context.Background(), MetadataKey)
	if err != nil {
		t.Fatalf("unable to get metadata: %v\n", err)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		t.Fatalf("bad metadata JSON %s: %v\n", string(raw), err)
	}
	return &md
}

func TestPlainTiffIsZStack(t *testing.T) {
	path, planes := writeFixture(t, 40, 20, 3, tifftest.Options{})
	s, err := Open(path)
	if err != nil {
		t.Fatalf("unable to open: %v\n", err)
	}
	defer s.Close()

	md := getMetadata(t, s)
	if md.Shape != [5]int64{1, 1, 3, 20, 40} {
		t.Fatalf("expected shape [1 1 3 20 40], got %v\n", md.Shape)
	}
	if md.ChunkShape != [5]int64{1, 1, 1, 16, 16} {
		t.Fatalf("bad chunk shape %v\n", md.ChunkShape)
	}
	if md.DType != "uint16" {
		t.Fatalf("expected uint16, got %s\n", md.DType)
	}
	if zct := md.OmeXML.TiffData["2"]; zct != [3]int64{2, 0, 0} {
		t.Fatalf("expected IFD 2 at z=2, got %v\n", zct)
	}

	tile, err := s.Get(context.Background(), ChunkKey("", 16, 32, 1))
	if err != nil {
		t.Fatalf("unable to get tile: %v\n", err)
	}
	expected := expectedTile(planes[1], 40, 20, 16, 32, 16, 16, 2)
	if !bytes.Equal(tile, expected) {
		t.Fatalf("edge tile differs from fixture\n")
	}

	raw, err := s.Get(context.Background(), RawDescriptionKey)
	if err != nil || len(raw) != 0 {
		t.Fatalf("expected empty raw description, got %q (%v)\n", raw, err)
	}
}

func TestTileCodecs(t *testing.T) {
	tests := []struct {
		name string
		opts tifftest.Options
	}{
		{"none big-endian", tifftest.Options{BigEndian: true}},
		{"deflate", tifftest.Options{Compression: CompressionDeflate}},
		{"deflate predictor", tifftest.Options{Compression: CompressionDeflate, Predictor: PredictorHorizontal}},
		{"zstd bigtiff", tifftest.Options{Compression: CompressionZstd, BigTIFF: true}},
		{"zstd predictor big-endian", tifftest.Options{Compression: CompressionZstd, Predictor: PredictorHorizontal, BigEndian: true}},
		{"float64 bigtiff big-endian", tifftest.Options{Kind: bfio.Float64, BigTIFF: true, BigEndian: true}},
		{"int32 predictor", tifftest.Options{Kind: bfio.Int32, Predictor: PredictorHorizontal}},
		{"lzw uint8", tifftest.Options{Kind: bfio.Uint8, Compression: CompressionLZW, TileWidth: 4, TileHeight: 4}},
	}
	for _, tc := range tests {
		kind := tc.opts.Kind
		if kind == 0 {
			kind = bfio.Uint16
		}
		th, tw := tc.opts.TileHeight, tc.opts.TileWidth
		if th == 0 {
			th, tw = 16, 16
		}
		path, planes := writeFixture(t, 20, 18, 2, tc.opts)
		s, err := Open(path)
		if err != nil {
			t.Fatalf("%s: unable to open: %v\n", tc.name, err)
		}
		md := getMetadata(t, s)
		if md.DType != kind.String() {
			t.Fatalf("%s: expected dtype %s, got %s\n", tc.name, kind, md.DType)
		}
		for ifd := int64(0); ifd < 2; ifd++ {
			for row := int64(0); row < 18; row += th {
				for col := int64(0); col < 20; col += tw {
					tile, err := s.Get(context.Background(), ChunkKey("", row, col, ifd))
					if err != nil {
						t.Fatalf("%s: tile (%d,%d,%d): %v\n", tc.name, row, col, ifd, err)
					}
					expected := expectedTile(planes[ifd], 20, 18, row, col, th, tw, int64(kind.Bytes()))
					if !bytes.Equal(tile, expected) {
						t.Fatalf("%s: tile (%d,%d,%d) differs from fixture\n", tc.name, row, col, ifd)
					}
				}
			}
		}
		s.Close()
	}
}

func TestOmeXMLPlacement(t *testing.T) {
	// 2 channels x 3 z, stored with C varying fastest
	desc := tifftest.OMEXML(tifftest.OMEPixels{
		DimensionOrder: "XYCZT",
		Type:           "uint16",
		SizeX:          16, SizeY: 16, SizeZ: 3, SizeC: 2, SizeT: 1,
		TiffData: `<TiffData IFD="0" PlaneCount="6"/>`,
	})
	path, _ := writeFixture(t, 16, 16, 6, tifftest.Options{Description: desc})
	s, err := Open(path)
	if err != nil {
		t.Fatalf("unable to open: %v\n", err)
	}
	defer s.Close()

	md := getMetadata(t, s)
	if md.Shape != [5]int64{1, 2, 3, 16, 16} {
		t.Fatalf("expected shape [1 2 3 16 16], got %v\n", md.Shape)
	}
	expected := map[string][3]int64{
		"0": {0, 0, 0}, "1": {0, 1, 0},
		"2": {1, 0, 0}, "3": {1, 1, 0},
		"4": {2, 0, 0}, "5": {2, 1, 0},
	}
	for ifd, zct := range expected {
		if md.OmeXML.TiffData[ifd] != zct {
			t.Fatalf("IFD %s: expected %v, got %v\n", ifd, zct, md.OmeXML.TiffData[ifd])
		}
	}

	raw, err := s.Get(context.Background(), RawDescriptionKey)
	if err != nil {
		t.Fatalf("unable to get raw description: %v\n", err)
	}
	if string(raw) != desc {
		t.Fatalf("raw description not returned verbatim\n")
	}
}

func TestOmeXMLPerPlaneTiffData(t *testing.T) {
	// planes written in reverse z order, one TiffData per plane
	desc := tifftest.OMEXML(tifftest.OMEPixels{
		DimensionOrder: "XYZCT",
		Type:           "uint16",
		SizeX:          16, SizeY: 16, SizeZ: 2, SizeC: 1, SizeT: 2,
		TiffData: `<TiffData IFD="0" FirstZ="1" FirstT="0" PlaneCount="1"/>
<TiffData IFD="1" FirstZ="0" FirstT="0" PlaneCount="1"/>
<TiffData IFD="2" FirstZ="1" FirstT="1" PlaneCount="1"/>
<TiffData IFD="3" FirstZ="0" FirstT="1" PlaneCount="1"/>`,
	})
	path, _ := writeFixture(t, 16, 16, 4, tifftest.Options{Description: desc})
	s, err := Open(path)
	if err != nil {
		t.Fatalf("unable to open: %v\n", err)
	}
	defer s.Close()
	md := getMetadata(t, s)
	if md.Shape != [5]int64{2, 1, 2, 16, 16} {
		t.Fatalf("bad shape %v\n", md.Shape)
	}
	if md.OmeXML.TiffData["0"] != [3]int64{1, 0, 0} || md.OmeXML.TiffData["3"] != [3]int64{0, 0, 1} {
		t.Fatalf("bad plane placement: %v\n", md.OmeXML.TiffData)
	}
}

func TestMissingIFDIsDropped(t *testing.T) {
	desc := tifftest.OMEXML(tifftest.OMEPixels{
		DimensionOrder: "XYZCT",
		Type:           "uint16",
		SizeX:          16, SizeY: 16, SizeZ: 3, SizeC: 1, SizeT: 1,
	})
	path, _ := writeFixture(t, 16, 16, 2, tifftest.Options{Description: desc})
	s, err := Open(path)
	if err != nil {
		t.Fatalf("unable to open: %v\n", err)
	}
	defer s.Close()
	md := getMetadata(t, s)
	if len(md.OmeXML.TiffData) != 2 {
		t.Fatalf("expected only the 2 existing IFDs to be placed, got %v\n", md.OmeXML.TiffData)
	}
}

func TestReadOnlyAndMissingKeys(t *testing.T) {
	path, _ := writeFixture(t, 16, 16, 1, tifftest.Options{})
	s, err := Open(path)
	if err != nil {
		t.Fatalf("unable to open: %v\n", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Put(ctx, "x", []byte("y")); !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("expected read-only error on put, got %v\n", err)
	}
	if err := s.Delete(ctx, MetadataKey); !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("expected read-only error on delete, got %v\n", err)
	}
	for _, key := range []string{
		ChunkKey("", 0, 0, 5),   // no such IFD
		ChunkKey("", 3, 0, 0),   // not tile aligned
		ChunkKey("", 16, 0, 0),  // past the image
		TagPrefix + "_a_b_c",    // not numeric
		TagPrefix + "SOMETHING", // unknown tag
	} {
		if _, err := s.Get(ctx, key); !storage.IsNotFound(err) {
			t.Fatalf("expected not found for %q, got %v\n", key, err)
		}
	}

	keys, err := s.List(ctx, TagPrefix+"_")
	if err != nil {
		t.Fatalf("list failed: %v\n", err)
	}
	if len(keys) != 1 || keys[0] != ChunkKey("", 0, 0, 0) {
		t.Fatalf("unexpected tile keys: %v\n", keys)
	}

	if _, err := (Engine{}).NewStore(storage.Spec{Driver: "tiled_tiff", Path: path}, true); !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("expected create to be refused, got %v\n", err)
	}
}

func TestRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	text := "not a tiff at all"
	if _, err := parseHeader(strings.NewReader(text), int64(len(text))); !errors.Is(err, ErrInvalidTiffHeader) {
		t.Fatalf("expected invalid header, got %v\n", err)
	}
	if _, err := Open(filepath.Join(dir, "missing.tif")); err == nil {
		t.Fatalf("expected error opening missing file\n")
	}
}

func writeBytes(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("unable to write %s: %v\n", name, err)
	}
	return path
}

func TestCorruptHeaders(t *testing.T) {
	// BigTIFF whose first directory claims 1<<62 entries.
	huge := make([]byte, 64)
	copy(huge, "II")
	binary.LittleEndian.PutUint16(huge[2:], 43)
	binary.LittleEndian.PutUint16(huge[4:], 8)
	binary.LittleEndian.PutUint64(huge[8:], 16)
	binary.LittleEndian.PutUint64(huge[16:], 1<<62)

	// BigTIFF whose first directory lies past the end of the file.
	farIFD := append([]byte(nil), huge[:16]...)
	binary.LittleEndian.PutUint64(farIFD[8:], 1<<40)

	valid, err := tifftest.Encode(20, 18, [][]byte{tifftest.Ramp(bfio.Uint16, 20, 18, 0)}, tifftest.Options{})
	if err != nil {
		t.Fatalf("unable to encode fixture: %v\n", err)
	}

	tests := map[string][]byte{
		"bigtiff entry count": huge,
		"bigtiff ifd offset":  farIFD,
		"truncated header":    valid[:6],
		"truncated ifd":       valid[:len(valid)-10],
		"empty":               {},
	}
	for name, data := range tests {
		path := writeBytes(t, "corrupt.tif", data)
		s, err := Open(path)
		if err == nil {
			s.Close()
			t.Fatalf("%s: expected open to fail\n", name)
		}
	}
}

func TestTileBeyondEndOfFile(t *testing.T) {
	plane := tifftest.Ramp(bfio.Uint16, 16, 16, 0)
	data, err := tifftest.Encode(16, 16, [][]byte{plane}, tifftest.Options{BigTIFF: true})
	if err != nil {
		t.Fatalf("unable to encode fixture: %v\n", err)
	}
	// TileByteCounts entry: tag 325, type LONG8, count 1.
	entry := []byte{0x45, 0x01, 0x10, 0x00, 1, 0, 0, 0, 0, 0, 0, 0}
	pos := bytes.Index(data, entry)
	if pos < 0 {
		t.Fatalf("unable to find tile byte counts in fixture\n")
	}
	binary.LittleEndian.PutUint64(data[pos+len(entry):], math.MaxUint64-8)

	s, err := Open(writeBytes(t, "img.tif", data))
	if err != nil {
		t.Fatalf("unable to open: %v\n", err)
	}
	defer s.Close()
	if _, err := s.Get(context.Background(), ChunkKey("", 0, 0, 0)); err == nil {
		t.Fatalf("expected error reading tile that runs past end of file\n")
	}
}

func TestPlaneOrder(t *testing.T) {
	pi := planeIndexer{sizes: map[byte]int64{'Z': 3, 'C': 2, 'T': 4}}
	for _, order := range []string{"XYZCT", "XYZTC", "XYCZT", "XYCTZ", "XYTZC", "XYTCZ"} {
		var err error
		if pi.order, err = planeOrder(order); err != nil {
			t.Fatalf("%s: %v\n", order, err)
		}
		for idx := int64(0); idx < 24; idx++ {
			z, c, tt := pi.coord(idx)
			if got := pi.index(z, c, tt); got != idx {
				t.Fatalf("%s: index %d maps to (%d,%d,%d) which maps back to %d\n", order, idx, z, c, tt, got)
			}
		}
	}
	for _, bad := range []string{"XYZZT", "YXZCT", "XYZC", "XYZCQ"} {
		if _, err := planeOrder(bad); err == nil {
			t.Fatalf("expected %q to be rejected\n", bad)
		}
	}
}
