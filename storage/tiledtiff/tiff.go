package tiledtiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"

	"github.com/PolusAI/bfiocpp/bfio"
)

// Compression schemes.
const (
	CompressionNone       = 1
	CompressionLZW        = 5
	CompressionDeflate    = 8
	CompressionOldDeflate = 32946
	CompressionZstd       = 50000
)

// PredictorHorizontal is horizontal differencing of integer samples.
const PredictorHorizontal = 2

// ErrInvalidTiffHeader wraps failures to read the header or directory chain.
var ErrInvalidTiffHeader = errors.New("invalid TIFF header")

// IFD describes one image file directory holding a single tiled plane.
type IFD struct {
	Index           int
	Width, Height   int64
	BitsPerSample   int
	SampleFormat    int
	SamplesPerPixel int
	Compression     int
	Predictor       int
	PlanarConfig    int

	TileWidth      int64
	TileHeight     int64
	TileOffsets    []uint64
	TileByteCounts []uint64
	Striped        bool

	Description string
}

// Kind returns the element kind stored in the directory's samples.
func (d *IFD) Kind() (bfio.ElementKind, error) {
	var name string
	switch d.SampleFormat {
	case 1:
		name = "uint"
	case 2:
		name = "int"
	case 3:
		name = "float"
	default:
		return 0, &bfio.UnsupportedTypeError{Name: fmt.Sprintf("TIFF sample format %d", d.SampleFormat)}
	}
	return bfio.KindByName(fmt.Sprintf("%s%d", name, d.BitsPerSample))
}

// TilesAcross returns the number of tile columns.
func (d *IFD) TilesAcross() int64 {
	return (d.Width + d.TileWidth - 1) / d.TileWidth
}

// TilesDown returns the number of tile rows.
func (d *IFD) TilesDown() int64 {
	return (d.Height + d.TileHeight - 1) / d.TileHeight
}

func (d *IFD) sameGeometry(o *IFD) bool {
	return d.Width == o.Width && d.Height == o.Height &&
		d.TileWidth == o.TileWidth && d.TileHeight == o.TileHeight &&
		d.BitsPerSample == o.BitsPerSample && d.SampleFormat == o.SampleFormat
}

// directory receives the tags of one IFD that the store reads, numbered as in
// https://www.loc.gov/preservation/digital/formats/content/tiff_tags.shtml.  Absent tags are left
// zero and replaced by their TIFF defaults in newIFD.
type directory struct {
	ImageWidth          uint64   `tiff:"field,tag=256"`
	ImageLength         uint64   `tiff:"field,tag=257"`
	BitsPerSample       []uint16 `tiff:"field,tag=258"`
	Compression         uint16   `tiff:"field,tag=259"`
	ImageDescription    string   `tiff:"field,tag=270"`
	StripOffsets        []uint64 `tiff:"field,tag=273"`
	SamplesPerPixel     uint16   `tiff:"field,tag=277"`
	PlanarConfiguration uint16   `tiff:"field,tag=284"`
	Predictor           uint16   `tiff:"field,tag=317"`
	TileWidth           uint64   `tiff:"field,tag=322"`
	TileLength          uint64   `tiff:"field,tag=323"`
	TileOffsets         []uint64 `tiff:"field,tag=324"`
	TileByteCounts      []uint64 `tiff:"field,tag=325"`
	SampleFormat        []uint16 `tiff:"field,tag=339"`
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func newIFD(index int, dir *directory) *IFD {
	ifd := &IFD{
		Index:           index,
		Width:           int64(dir.ImageWidth),
		Height:          int64(dir.ImageLength),
		BitsPerSample:   1,
		SampleFormat:    1,
		SamplesPerPixel: orDefault(int(dir.SamplesPerPixel), 1),
		Compression:     orDefault(int(dir.Compression), CompressionNone),
		Predictor:       orDefault(int(dir.Predictor), 1),
		PlanarConfig:    orDefault(int(dir.PlanarConfiguration), 1),
		TileWidth:       int64(dir.TileWidth),
		TileHeight:      int64(dir.TileLength),
		TileOffsets:     dir.TileOffsets,
		TileByteCounts:  dir.TileByteCounts,
		Striped:         len(dir.StripOffsets) > 0,
		Description:     strings.TrimRight(dir.ImageDescription, "\x00"),
	}
	if len(dir.BitsPerSample) > 0 {
		ifd.BitsPerSample = int(dir.BitsPerSample[0])
	}
	if len(dir.SampleFormat) > 0 {
		ifd.SampleFormat = int(dir.SampleFormat[0])
	}
	return ifd
}

// header is the byte order plus every directory in the main IFD chain.
type header struct {
	order binary.ByteOrder
	ifds  []*IFD
}

// parseTIFF runs the TIFF decoder over the first size bytes of r.  The decoder trusts
// counts and offsets read from the file, so a panic on a corrupt file is returned
// as an error.
func parseTIFF(r io.ReaderAt, size int64) (t tiff.TIFF, err error) {
	defer func() {
		if e := recover(); e != nil {
			t, err = nil, fmt.Errorf("%w: %v", ErrInvalidTiffHeader, e)
		}
	}()
	return tiff.Parse(io.NewSectionReader(r, 0, size), nil, nil)
}

func unmarshalIFD(tifd tiff.IFD, dir *directory) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("corrupt directory: %v", e)
		}
	}()
	return tiff.UnmarshalIFD(tifd, dir)
}

// parseHeader reads the header and every directory of a classic or BigTIFF file
// of the given size.
func parseHeader(r io.ReaderAt, size int64) (*header, error) {
	t, err := parseTIFF(r, size)
	if err != nil {
		if errors.Is(err, ErrInvalidTiffHeader) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidTiffHeader, err)
	}
	h := &header{order: binary.LittleEndian}
	if t.Order() == "MM" {
		h.order = binary.BigEndian
	}
	for i, tifd := range t.IFDs() {
		var dir directory
		if err := unmarshalIFD(tifd, &dir); err != nil {
			return nil, fmt.Errorf("IFD %d: %w", i, err)
		}
		h.ifds = append(h.ifds, newIFD(i, &dir))
	}
	if len(h.ifds) == 0 {
		return nil, fmt.Errorf("TIFF has no image directories")
	}
	return h, nil
}

// maxTileSide bounds tile dimensions so tile sizes and counts cannot overflow.
const maxTileSide = 1 << 16

// maxImageSide bounds plane dimensions for the same reason.
const maxImageSide = 1 << 32

// checkTiled verifies the directory holds a single-sample tiled plane that can be
// served as chunks.
func (d *IFD) checkTiled() error {
	switch {
	case d.TileWidth <= 0 || d.TileHeight <= 0:
		if d.Striped {
			return fmt.Errorf("IFD %d is striped, not tiled", d.Index)
		}
		return fmt.Errorf("IFD %d has no tile dimensions", d.Index)
	case d.TileWidth > maxTileSide || d.TileHeight > maxTileSide:
		return fmt.Errorf("IFD %d tile %dx%d is too large", d.Index, d.TileWidth, d.TileHeight)
	case d.Width <= 0 || d.Height <= 0 || d.Width > maxImageSide || d.Height > maxImageSide:
		return fmt.Errorf("IFD %d has invalid size %dx%d", d.Index, d.Width, d.Height)
	case d.SamplesPerPixel != 1:
		return fmt.Errorf("IFD %d has %d samples per pixel, only 1 is supported", d.Index, d.SamplesPerPixel)
	case d.BitsPerSample != 8 && d.BitsPerSample != 16 && d.BitsPerSample != 32 && d.BitsPerSample != 64:
		return fmt.Errorf("IFD %d has %d bits per sample", d.Index, d.BitsPerSample)
	}
	numTiles := d.TilesAcross() * d.TilesDown()
	if int64(len(d.TileOffsets)) != numTiles || int64(len(d.TileByteCounts)) != numTiles {
		return fmt.Errorf("IFD %d expects %d tiles, has %d offsets and %d byte counts",
			d.Index, numTiles, len(d.TileOffsets), len(d.TileByteCounts))
	}
	if _, err := d.Kind(); err != nil {
		return err
	}
	return nil
}
