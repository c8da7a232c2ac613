package zarr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/PolusAI/bfiocpp/array"
	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
	"github.com/PolusAI/bfiocpp/storage/blob"
)

func testContext() *storage.Context {
	var spec storage.ContextSpec
	spec.CachePool.TotalBytesLimit = 4 * bfio.Mega
	spec.DataCopyConcurrency.Limit = 4
	spec.FileIOConcurrency.Limit = 2
	return storage.NewContext(spec)
}

func memStore(t *testing.T) storage.KVStore {
	kv := blob.NewStore(memblob.OpenBucket(nil), "")
	t.Cleanup(func() { kv.Close() })
	return kv
}

func createArray(t *testing.T, kv storage.KVStore, prefix string, md *Metadata) *array.Array {
	a, err := array.Open(context.Background(), NewCreateDriver(prefix, md), kv, testContext(), array.Create|array.DeleteExisting, array.ReadWrite)
	require.NoError(t, err)
	return a
}

func uint16Region(n int, base uint16) []byte {
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], base+uint16(i))
	}
	return buf
}

func TestRoundTripCompressors(t *testing.T) {
	ctx := context.Background()
	for _, format := range []int{V2, V3} {
		for _, compressor := range []string{"none", CompressorZlib, CompressorGzip, CompressorZstd} {
			if format == V3 && compressor == CompressorZlib {
				continue
			}
			kv := memStore(t)
			md, err := NewMetadata(format, []int64{2, 3, 10, 17}, []int64{1, 2, 4, 8}, bfio.Uint16, Options{
				Compressor: compressor,
				FillValue:  7,
			})
			require.NoError(t, err)
			a := createArray(t, kv, "img.zarr", md)

			box, err := array.ClosedBox([]int64{1, 1, 3, 5}, []int64{1, 2, 8, 16})
			require.NoError(t, err)
			data := uint16Region(int(box.NumElements()), 100)
			require.NoError(t, a.Write(ctx, box, data))
			require.NoError(t, a.Close())

			// reopen with a fresh context so chunks come from the store
			b, err := array.Open(ctx, NewDriver("img.zarr", format), kv, testContext(), array.OpenExisting, array.Read)
			require.NoError(t, err, "format %d compressor %s", format, compressor)
			got, err := b.Read(ctx, box)
			require.NoError(t, err)
			require.Equal(t, data, got, "format %d compressor %s", format, compressor)

			outside, err := array.ClosedBox([]int64{0, 0, 0, 0}, []int64{0, 2, 9, 16})
			require.NoError(t, err)
			fill, err := b.Read(ctx, outside)
			require.NoError(t, err)
			for i := 0; i < len(fill); i += 2 {
				require.Equal(t, uint16(7), binary.LittleEndian.Uint16(fill[i:]))
			}
		}
	}
}

func TestChunkKeys(t *testing.T) {
	v2, err := NewMetadata(V2, []int64{4, 4, 4}, []int64{2, 2, 2}, bfio.Uint8, Options{})
	require.NoError(t, err)
	d := NewCreateDriver("a/b", v2)
	_, _, err = d.Create()
	require.NoError(t, err)
	key, err := d.ChunkKey([]int64{1, 0, 1})
	require.NoError(t, err)
	require.Equal(t, "a/b/1.0.1", key)
	require.Equal(t, "a/b/.zarray", d.MetadataKey())

	nested, err := NewMetadata(V2, []int64{4, 4}, []int64{2, 2}, bfio.Uint8, Options{Separator: "/"})
	require.NoError(t, err)
	d = NewCreateDriver("", nested)
	_, _, err = d.Create()
	require.NoError(t, err)
	key, err = d.ChunkKey([]int64{1, 1})
	require.NoError(t, err)
	require.Equal(t, "1/1", key)

	v3, err := NewMetadata(V3, []int64{4, 4}, []int64{2, 2}, bfio.Uint8, Options{})
	require.NoError(t, err)
	d = NewCreateDriver("img", v3)
	_, _, err = d.Create()
	require.NoError(t, err)
	key, err = d.ChunkKey([]int64{0, 1})
	require.NoError(t, err)
	require.Equal(t, "img/c/0/1", key)
	require.Equal(t, "img/zarr.json", d.MetadataKey())

	_, err = d.ChunkKey([]int64{0})
	require.Error(t, err)
	_, err = NewDriver("img", V3).ChunkKey([]int64{0, 0})
	require.Error(t, err, "driver without metadata should not produce keys")
}

func TestBigEndianChunks(t *testing.T) {
	ctx := context.Background()
	kv := memStore(t)
	md, err := NewMetadata(V3, []int64{4, 4}, []int64{4, 4}, bfio.Float32, Options{Compressor: "none", BigEndian: true})
	require.NoError(t, err)
	a := createArray(t, kv, "", md)

	values := make([]float32, 16)
	for i := range values {
		values[i] = float32(i) + 0.5
	}
	img, err := bfio.NewImageData([5]int64{1, 1, 1, 4, 4}, values)
	require.NoError(t, err)
	raw, err := img.Bytes()
	require.NoError(t, err)
	box, _ := array.NewBox([]int64{0, 0}, []int64{4, 4})
	require.NoError(t, a.Write(ctx, box, raw))

	stored, err := kv.Get(ctx, "c/0/0")
	require.NoError(t, err)
	require.Equal(t, math.Float32bits(1.5), binary.BigEndian.Uint32(stored[4:]))

	got, err := a.Read(ctx, box)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	var meta map[string]interface{}
	metaRaw, err := kv.Get(ctx, "zarr.json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(metaRaw, &meta))
	codecs := meta["codecs"].([]interface{})
	require.Len(t, codecs, 1)
	require.Equal(t, "big", codecs[0].(map[string]interface{})["configuration"].(map[string]interface{})["endian"])
}

// A .zarray as written by zarr-python with numcodecs zlib.
const pythonZarray = `{
    "chunks": [2, 2],
    "compressor": {"id": "zlib", "level": 1},
    "dtype": "<f8",
    "fill_value": "NaN",
    "filters": null,
    "order": "C",
    "shape": [3, 5],
    "zarr_format": 2
}`

func TestParseV2(t *testing.T) {
	md, err := ParseMetadata(V2, ".zarray", []byte(pythonZarray))
	require.NoError(t, err)
	require.Equal(t, bfio.Float64, md.Kind())
	require.Equal(t, []int64{3, 5}, md.Shape())
	require.Equal(t, []int64{2, 2}, md.ChunkShape())
	require.Equal(t, CompressorZlib, md.Compressor())
	require.True(t, math.IsNaN(math.Float64frombits(binary.LittleEndian.Uint64(md.FillValue()))))

	encoded, err := md.Encode()
	require.NoError(t, err)
	again, err := ParseMetadata(V2, ".zarray", encoded)
	require.NoError(t, err)
	require.Equal(t, md.CompatibilityKey(), again.CompatibilityKey())

	big, err := ParseMetadata(V2, ".zarray", []byte(`{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":">i4","compressor":null,"fill_value":-2,"order":"C","filters":null}`))
	require.NoError(t, err)
	require.True(t, big.bigEndian)
	require.Equal(t, int32(-2), int32(binary.LittleEndian.Uint32(big.FillValue())))
}

func TestInvalidMetadata(t *testing.T) {
	tests := []struct {
		name   string
		format int
		raw    string
	}{
		{"not json", V2, `{"zarr_format": 2`},
		{"wrong format", V2, `{"zarr_format":3,"shape":[2],"chunks":[2],"dtype":"<u2"}`},
		{"rank mismatch", V2, `{"zarr_format":2,"shape":[2,2],"chunks":[2],"dtype":"<u2"}`},
		{"zero chunk", V2, `{"zarr_format":2,"shape":[2],"chunks":[0],"dtype":"<u2"}`},
		{"structured dtype", V2, `{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":[["a","<u2"]]}`},
		{"fortran order", V2, `{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":"<u2","order":"F"}`},
		{"filters", V2, `{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":"<u2","filters":[{"id":"delta"}]}`},
		{"blosc", V2, `{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":"<u2","compressor":{"id":"blosc"}}`},
		{"nan integer", V2, `{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":"<u2","fill_value":"NaN"}`},
		{"fill out of range", V2, `{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":"|u1","fill_value":300}`},
		{"v3 missing codecs", V3, `{"zarr_format":3,"node_type":"array","shape":[2],"data_type":"uint8","chunk_grid":{"name":"regular","configuration":{"chunk_shape":[2]}},"chunk_key_encoding":{"name":"default"},"fill_value":0}`},
		{"v3 transpose first", V3, `{"zarr_format":3,"node_type":"array","shape":[2],"data_type":"uint8","chunk_grid":{"name":"regular","configuration":{"chunk_shape":[2]}},"chunk_key_encoding":{"name":"default"},"fill_value":0,"codecs":[{"name":"transpose"}]}`},
		{"v3 group", V3, `{"zarr_format":3,"node_type":"group"}`},
		{"v3 names", V3, `{"zarr_format":3,"node_type":"array","shape":[2],"data_type":"uint8","chunk_grid":{"name":"regular","configuration":{"chunk_shape":[2]}},"chunk_key_encoding":{"name":"default"},"fill_value":0,"codecs":[{"name":"bytes"}],"dimension_names":["y","x"]}`},
	}
	for _, tc := range tests {
		_, err := ParseMetadata(tc.format, "k", []byte(tc.raw))
		var invalid *bfio.InvalidMetadataError
		require.True(t, errors.As(err, &invalid), "%s: got %v", tc.name, err)
	}

	_, err := ParseMetadata(V2, "k", []byte(`{"zarr_format":2,"shape":[2],"chunks":[2],"dtype":"<c8"}`))
	var unsupported *bfio.UnsupportedTypeError
	require.True(t, errors.As(err, &unsupported), "complex dtype: got %v", err)
}

func TestFillValues(t *testing.T) {
	tests := []struct {
		kind     bfio.ElementKind
		value    interface{}
		expected []byte
	}{
		{bfio.Uint8, nil, []byte{0}},
		{bfio.Uint16, json.Number("258"), []byte{2, 1}},
		{bfio.Int16, json.Number("-1"), []byte{0xff, 0xff}},
		{bfio.Int32, json.Number("2.0"), []byte{2, 0, 0, 0}},
		{bfio.Uint64, json.Number("18446744073709551615"), []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{bfio.Float32, json.Number("1"), []byte{0, 0, 0x80, 0x3f}},
		{bfio.Float32, FillNegativeInfinity, []byte{0, 0, 0x80, 0xff}},
		{bfio.Float32, "0x7fc00000", []byte{0, 0, 0xc0, 0x7f}},
	}
	for _, tc := range tests {
		got, err := fillBytes(tc.kind, tc.value)
		require.NoError(t, err, "%s %v", tc.kind, tc.value)
		require.Equal(t, tc.expected, got, "%s %v", tc.kind, tc.value)
	}
	_, err := fillBytes(bfio.Int8, json.Number("1.5"))
	require.Error(t, err)

	v, err := normalizeFill(math.Inf(1))
	require.NoError(t, err)
	require.Equal(t, FillInfinity, v)
}

func TestAxisLabels(t *testing.T) {
	ctx := context.Background()
	rctx := testContext()

	kv := memStore(t)
	md, err := NewMetadata(V2, []int64{2, 8, 8}, []int64{1, 8, 8}, bfio.Uint8, Options{})
	require.NoError(t, err)
	a := createArray(t, kv, "", md)
	d := a.Driver().(*Driver)
	labels, err := AxisLabels(ctx, rctx, kv, d)
	require.NoError(t, err)
	require.Equal(t, "", labels)

	require.NoError(t, WriteAxisLabels(ctx, rctx, kv, d, "CYX"))
	labels, err = AxisLabels(ctx, rctx, kv, d)
	require.NoError(t, err)
	require.Equal(t, "CYX", labels)

	ngff := `{"multiscales":[{"version":"0.4","axes":[{"name":"z","type":"space"},{"name":"y","type":"space"},{"name":"x","type":"space"}]}]}`
	require.NoError(t, kv.Put(ctx, ".zattrs", []byte(ngff)))
	labels, err = AxisLabels(ctx, rctx, kv, d)
	require.NoError(t, err)
	require.Equal(t, "ZYX", labels)

	require.NoError(t, kv.Put(ctx, ".zattrs", []byte(`{"_ARRAY_DIMENSIONS":["channel","row","col"]}`)))
	labels, err = AxisLabels(ctx, rctx, kv, d)
	require.NoError(t, err)
	require.Equal(t, "", labels)

	v3kv := memStore(t)
	v3, err := NewMetadata(V3, []int64{2, 8, 8}, []int64{1, 8, 8}, bfio.Uint8, Options{DimensionNames: []string{"t", "y", "x"}})
	require.NoError(t, err)
	b := createArray(t, v3kv, "", v3)
	labels, err = AxisLabels(ctx, rctx, v3kv, b.Driver().(*Driver))
	require.NoError(t, err)
	require.Equal(t, "TYX", labels)

	require.Equal(t, []string{"t", "c", "z", "y", "x"}, AxisNames("TCZYX"))
}

func TestResizePersists(t *testing.T) {
	ctx := context.Background()
	kv := memStore(t)
	md, err := NewMetadata(V2, []int64{4, 4}, []int64{2, 2}, bfio.Uint8, Options{})
	require.NoError(t, err)
	a := createArray(t, kv, "r", md)
	require.NoError(t, a.Resize(ctx, []int64{6, 4}))

	b, err := array.Open(ctx, NewDriver("r", V2), kv, testContext(), array.OpenExisting, array.Read)
	require.NoError(t, err)
	require.Equal(t, []int64{6, 4}, b.Domain().Shape)

	require.NoError(t, a.Reload(ctx))
	_, err = array.Open(ctx, NewCreateDriver("r", md), kv, testContext(), array.Create, array.ReadWrite)
	var exists *bfio.AlreadyExistsError
	require.True(t, errors.As(err, &exists), "got %v", err)
}
