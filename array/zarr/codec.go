package zarr

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compressor ids shared by the v2 "compressor" object and the v3 codec names.
const (
	CompressorNone = ""
	CompressorZlib = "zlib"
	CompressorGzip = "gzip"
	CompressorZstd = "zstd"
)

// DefaultCompressor is used for created arrays when none is requested.
const DefaultCompressor = CompressorZstd

// compressor is a bytes-to-bytes chunk codec.
type compressor interface {
	ID() string
	Level() int
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

func newCompressor(id string, level int) (compressor, error) {
	switch id {
	case CompressorNone:
		return nil, nil
	case CompressorZlib:
		if level < -1 || level > 9 {
			return nil, fmt.Errorf("zlib level %d not in [-1, 9]", level)
		}
		return zlibCodec{level}, nil
	case CompressorGzip:
		if level < -1 || level > 9 {
			return nil, fmt.Errorf("gzip level %d not in [-1, 9]", level)
		}
		return gzipCodec{level}, nil
	case CompressorZstd:
		return zstdCodec{level}, nil
	}
	return nil, fmt.Errorf("compressor %q is not supported", id)
}

type zlibCodec struct{ level int }

func (c zlibCodec) ID() string { return CompressorZlib }
func (c zlibCodec) Level() int { return c.level }

func (c zlibCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c zlibCodec) Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type gzipCodec struct{ level int }

func (c gzipCodec) ID() string { return CompressorGzip }
func (c gzipCodec) Level() int { return c.level }

func (c gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c gzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

var (
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error

	zstdEncodersMu sync.Mutex
	zstdEncoders   = make(map[zstd.EncoderLevel]*zstd.Encoder)
)

type zstdCodec struct{ level int }

func (c zstdCodec) ID() string { return CompressorZstd }
func (c zstdCodec) Level() int { return c.level }

// encoder returns a shared encoder for the codec level.  EncodeAll is safe for
// concurrent use.
func (c zstdCodec) encoder() (*zstd.Encoder, error) {
	level := zstd.SpeedDefault
	if c.level != 0 {
		level = zstd.EncoderLevelFromZstd(c.level)
	}
	zstdEncodersMu.Lock()
	defer zstdEncodersMu.Unlock()
	if enc, found := zstdEncoders[level]; found {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	zstdEncoders[level] = enc
	return enc, nil
}

func (c zstdCodec) Compress(data []byte) ([]byte, error) {
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, nil), nil
}

func (c zstdCodec) Decompress(data []byte) ([]byte, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	if zstdDecoderErr != nil {
		return nil, zstdDecoderErr
	}
	return zstdDecoder.DecodeAll(data, nil)
}
