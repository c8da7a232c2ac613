package tiledtiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/tiff/lzw"
)

// zstdDecoder is shared by all stores.  DecodeAll is safe for concurrent use.
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// decompress returns the raw tile bytes for a compressed tile.
func decompress(compression int, buf []byte) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return buf, nil
	case CompressionLZW:
		r := lzw.NewReader(bytes.NewReader(buf), lzw.MSB, 8)
		defer r.Close()
		return io.ReadAll(r)
	case CompressionDeflate, CompressionOldDeflate:
		r, err := zlib.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("zlib decompression error: %v", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		return zstdDecoder.DecodeAll(buf, nil)
	default:
		return nil, fmt.Errorf("unsupported compression: %d", compression)
	}
}

// undoHorizontalPredictor reverses horizontal differencing in place.  Samples are
// in the file's byte order.
func undoHorizontalPredictor(tile []byte, order binary.ByteOrder, bytesPerSample int, rowLen int64) error {
	rowBytes := int(rowLen) * bytesPerSample
	if rowBytes == 0 || len(tile)%rowBytes != 0 {
		return fmt.Errorf("tile of %d bytes is not a whole number of %d-byte rows", len(tile), rowBytes)
	}
	for row := 0; row < len(tile); row += rowBytes {
		r := tile[row : row+rowBytes]
		switch bytesPerSample {
		case 1:
			for i := 1; i < len(r); i++ {
				r[i] += r[i-1]
			}
		case 2:
			for i := 2; i < len(r); i += 2 {
				order.PutUint16(r[i:], order.Uint16(r[i:])+order.Uint16(r[i-2:]))
			}
		case 4:
			for i := 4; i < len(r); i += 4 {
				order.PutUint32(r[i:], order.Uint32(r[i:])+order.Uint32(r[i-4:]))
			}
		case 8:
			for i := 8; i < len(r); i += 8 {
				order.PutUint64(r[i:], order.Uint64(r[i:])+order.Uint64(r[i-8:]))
			}
		default:
			return fmt.Errorf("no horizontal predictor for %d-byte samples", bytesPerSample)
		}
	}
	return nil
}

// swapBytes converts big-endian samples to little-endian in place.
func swapBytes(tile []byte, bytesPerSample int) {
	if bytesPerSample <= 1 {
		return
	}
	for i := 0; i+bytesPerSample <= len(tile); i += bytesPerSample {
		s := tile[i : i+bytesPerSample]
		for a, b := 0, len(s)-1; a < b; a, b = a+1, b-1 {
			s[a], s[b] = s[b], s[a]
		}
	}
}

// decodeTile returns the little-endian samples of a stored tile.
func decodeTile(d *IFD, order binary.ByteOrder, raw []byte) ([]byte, error) {
	tile, err := decompress(d.Compression, raw)
	if err != nil {
		return nil, err
	}
	bytesPerSample := d.BitsPerSample / 8
	expected := int(d.TileWidth*d.TileHeight) * bytesPerSample
	if len(tile) < expected {
		return nil, fmt.Errorf("tile decoded to %d bytes, expected %d", len(tile), expected)
	}
	tile = tile[:expected]
	switch d.Predictor {
	case 1:
	case PredictorHorizontal:
		if d.SampleFormat == 3 {
			return nil, fmt.Errorf("horizontal predictor on floating point samples")
		}
		if err := undoHorizontalPredictor(tile, order, bytesPerSample, d.TileWidth); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported predictor: %d", d.Predictor)
	}
	if order == binary.BigEndian {
		swapBytes(tile, bytesPerSample)
	}
	return tile, nil
}
