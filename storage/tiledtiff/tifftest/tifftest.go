// Package tifftest writes small tiled TIFF and OME-TIFF files for tests.
package tifftest

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/PolusAI/bfiocpp/bfio"
)

// Options control the layout of a written file.
type Options struct {
	Kind        bfio.ElementKind // defaults to uint16
	TileWidth   int64            // defaults to 16
	TileHeight  int64            // defaults to 16
	BigEndian   bool
	BigTIFF     bool
	Compression int // TIFF compression tag value, defaults to none
	Predictor   int
	Description string // ImageDescription of IFD 0
}

// OMEPixels describes the Pixels element of a generated OME-XML document.
type OMEPixels struct {
	DimensionOrder string
	Type           string
	SizeX, SizeY   int64
	SizeZ, SizeC   int64
	SizeT          int64

	// TiffData is inserted verbatim inside Pixels, e.g. `<TiffData IFD="0" PlaneCount="4"/>`.
	TiffData string
}

// OMEXML returns a minimal OME-XML document for one image.
func OMEXML(p OMEPixels) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">
  <Image ID="Image:0" Name="test">
    <Pixels ID="Pixels:0" DimensionOrder="%s" Type="%s" SizeX="%d" SizeY="%d" SizeZ="%d" SizeC="%d" SizeT="%d">
      <Channel ID="Channel:0:0" SamplesPerPixel="1"/>
      %s
    </Pixels>
  </Image>
</OME>`, p.DimensionOrder, p.Type, p.SizeX, p.SizeY, p.SizeZ, p.SizeC, p.SizeT, p.TiffData)
}

// Ramp returns little-endian samples for a width x height plane whose value at
// (y, x) is base + y*width + x, truncated to the kind.
func Ramp(kind bfio.ElementKind, width, height, base int64) []byte {
	n := width * height
	switch kind {
	case bfio.Uint8:
		return mustEncode(kind, ramp[uint8](n, base))
	case bfio.Uint16:
		return mustEncode(kind, ramp[uint16](n, base))
	case bfio.Uint32:
		return mustEncode(kind, ramp[uint32](n, base))
	case bfio.Uint64:
		return mustEncode(kind, ramp[uint64](n, base))
	case bfio.Int8:
		return mustEncode(kind, ramp[int8](n, base))
	case bfio.Int16:
		return mustEncode(kind, ramp[int16](n, base))
	case bfio.Int32:
		return mustEncode(kind, ramp[int32](n, base))
	case bfio.Int64:
		return mustEncode(kind, ramp[int64](n, base))
	case bfio.Float32:
		return mustEncode(kind, ramp[float32](n, base))
	case bfio.Float64:
		return mustEncode(kind, ramp[float64](n, base))
	}
	panic(fmt.Sprintf("no ramp for kind %v", kind))
}

func ramp[T bfio.Element](n, base int64) []T {
	v := make([]T, n)
	for i := range v {
		v[i] = T(base + int64(i))
	}
	return v
}

func mustEncode(kind bfio.ElementKind, values interface{}) []byte {
	raw, err := bfio.EncodeElements(kind, values)
	if err != nil {
		panic(err)
	}
	return raw
}

// WriteFile writes planes of little-endian samples, each width x height in row-major
// order, as consecutive IFDs of a tiled TIFF.
func WriteFile(path string, width, height int64, planes [][]byte, opts Options) error {
	data, err := Encode(width, height, planes, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Encode returns the bytes of a tiled TIFF holding the planes.
func Encode(width, height int64, planes [][]byte, opts Options) ([]byte, error) {
	if opts.Kind == 0 {
		opts.Kind = bfio.Uint16
	}
	if opts.TileWidth == 0 {
		opts.TileWidth = 16
	}
	if opts.TileHeight == 0 {
		opts.TileHeight = 16
	}
	if opts.Compression == 0 {
		opts.Compression = 1
	}
	e := &encoder{opts: opts}
	if opts.BigEndian {
		e.order = binary.BigEndian
		e.buf.WriteString("MM")
	} else {
		e.order = binary.LittleEndian
		e.buf.WriteString("II")
	}
	if opts.BigTIFF {
		e.put16(43)
		e.put16(8)
		e.put16(0)
		e.nextPtr = e.buf.Len()
		e.put64(0)
	} else {
		e.put16(42)
		e.nextPtr = e.buf.Len()
		e.put32(0)
	}
	for i, plane := range planes {
		if int64(len(plane)) != width*height*int64(opts.Kind.Bytes()) {
			return nil, fmt.Errorf("plane %d has %d bytes, expected %d", i, len(plane), width*height*int64(opts.Kind.Bytes()))
		}
		if err := e.writeIFD(width, height, plane, i == 0); err != nil {
			return nil, err
		}
	}
	return e.buf.Bytes(), nil
}

type encoder struct {
	opts    Options
	order   binary.ByteOrder
	buf     bytes.Buffer
	nextPtr int // position of the pointer to patch with the next IFD offset
}

func (e *encoder) put16(v uint16) {
	var b [2]byte
	e.order.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) put32(v uint32) {
	var b [4]byte
	e.order.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) put64(v uint64) {
	var b [8]byte
	e.order.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) align() {
	if e.buf.Len()%2 == 1 {
		e.buf.WriteByte(0)
	}
}

func (e *encoder) patch(pos int, v uint64) {
	b := e.buf.Bytes()
	if e.opts.BigTIFF {
		e.order.PutUint64(b[pos:], v)
	} else {
		e.order.PutUint32(b[pos:], uint32(v))
	}
}

type field struct {
	tag, typ uint16
	count    uint64
	payload  []byte
}

func (e *encoder) shorts(tag uint16, vals ...uint16) field {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		e.order.PutUint16(b[i*2:], v)
	}
	return field{tag, 3, uint64(len(vals)), b}
}

func (e *encoder) longs(tag uint16, vals ...uint64) field {
	if e.opts.BigTIFF {
		b := make([]byte, 8*len(vals))
		for i, v := range vals {
			e.order.PutUint64(b[i*8:], v)
		}
		return field{tag, 16, uint64(len(vals)), b}
	}
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		e.order.PutUint32(b[i*4:], uint32(v))
	}
	return field{tag, 4, uint64(len(vals)), b}
}

// tile returns one tile of a plane in file byte order, zero padded at the edges.
func (e *encoder) tile(plane []byte, width, height, ty, tx int64) []byte {
	bps := int64(e.opts.Kind.Bytes())
	tw, th := e.opts.TileWidth, e.opts.TileHeight
	out := make([]byte, tw*th*bps)
	for y := int64(0); y < th && ty+y < height; y++ {
		n := tw
		if tx+n > width {
			n = width - tx
		}
		src := plane[((ty+y)*width+tx)*bps : ((ty+y)*width+tx+n)*bps]
		copy(out[y*tw*bps:], src)
	}
	if e.opts.BigEndian && bps > 1 {
		for i := int64(0); i < int64(len(out)); i += bps {
			s := out[i : i+bps]
			for a, b := 0, len(s)-1; a < b; a, b = a+1, b-1 {
				s[a], s[b] = s[b], s[a]
			}
		}
	}
	if e.opts.Predictor == 2 {
		rowBytes := tw * bps
		for row := int64(0); row < int64(len(out)); row += rowBytes {
			r := out[row : row+rowBytes]
			for i := int64(len(r)) - bps; i >= bps; i -= bps {
				switch bps {
				case 1:
					r[i] -= r[i-1]
				case 2:
					e.order.PutUint16(r[i:], e.order.Uint16(r[i:])-e.order.Uint16(r[i-2:]))
				case 4:
					e.order.PutUint32(r[i:], e.order.Uint32(r[i:])-e.order.Uint32(r[i-4:]))
				case 8:
					e.order.PutUint64(r[i:], e.order.Uint64(r[i:])-e.order.Uint64(r[i-8:]))
				}
			}
		}
	}
	return out
}

func (e *encoder) compress(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	switch e.opts.Compression {
	case 1:
		return raw, nil
	case 5:
		w := lzw.NewWriter(&out, lzw.MSB, 8)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case 8:
		w := zlib.NewWriter(&out)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case 50000:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("no encoder for compression %d", e.opts.Compression)
	}
	return out.Bytes(), nil
}

func (e *encoder) writeIFD(width, height int64, plane []byte, first bool) error {
	var offsets, counts []uint64
	for ty := int64(0); ty < height; ty += e.opts.TileHeight {
		for tx := int64(0); tx < width; tx += e.opts.TileWidth {
			data, err := e.compress(e.tile(plane, width, height, ty, tx))
			if err != nil {
				return err
			}
			e.align()
			offsets = append(offsets, uint64(e.buf.Len()))
			counts = append(counts, uint64(len(data)))
			e.buf.Write(data)
		}
	}

	sampleFormat := uint16(1)
	switch {
	case e.opts.Kind.IsFloat():
		sampleFormat = 3
	case e.opts.Kind.IsSigned():
		sampleFormat = 2
	}
	fields := []field{
		e.longs(256, uint64(width)),
		e.longs(257, uint64(height)),
		e.shorts(258, uint16(e.opts.Kind.Bytes()*8)),
		e.shorts(259, uint16(e.opts.Compression)),
		e.shorts(262, 1),
	}
	if first && e.opts.Description != "" {
		fields = append(fields, field{270, 2, uint64(len(e.opts.Description) + 1), append([]byte(e.opts.Description), 0)})
	}
	fields = append(fields, e.shorts(277, 1), e.shorts(284, 1))
	if e.opts.Predictor != 0 {
		fields = append(fields, e.shorts(317, uint16(e.opts.Predictor)))
	}
	fields = append(fields,
		e.longs(322, uint64(e.opts.TileWidth)),
		e.longs(323, uint64(e.opts.TileHeight)),
		e.longs(324, offsets...),
		e.longs(325, counts...),
		e.shorts(339, sampleFormat),
	)

	inline := 4
	if e.opts.BigTIFF {
		inline = 8
	}
	valueOffsets := make([]uint64, len(fields))
	for i, f := range fields {
		if len(f.payload) > inline {
			e.align()
			valueOffsets[i] = uint64(e.buf.Len())
			e.buf.Write(f.payload)
		}
	}

	e.align()
	e.patch(e.nextPtr, uint64(e.buf.Len()))
	if e.opts.BigTIFF {
		e.put64(uint64(len(fields)))
	} else {
		e.put16(uint16(len(fields)))
	}
	for i, f := range fields {
		e.put16(f.tag)
		e.put16(f.typ)
		value := make([]byte, inline)
		if len(f.payload) > inline {
			if e.opts.BigTIFF {
				e.order.PutUint64(value, valueOffsets[i])
			} else {
				e.order.PutUint32(value, uint32(valueOffsets[i]))
			}
		} else {
			copy(value, f.payload)
		}
		if e.opts.BigTIFF {
			e.put64(f.count)
		} else {
			e.put32(uint32(f.count))
		}
		e.buf.Write(value)
	}
	e.nextPtr = e.buf.Len()
	if e.opts.BigTIFF {
		e.put64(0)
	} else {
		e.put32(0)
	}
	return nil
}
