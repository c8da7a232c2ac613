package zarr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/PolusAI/bfiocpp/bfio"
)

// Supported storage format versions.
const (
	V2 = 2
	V3 = 3
)

// Metadata keys relative to the array prefix.
const (
	V2MetadataKey   = ".zarray"
	V2AttributesKey = ".zattrs"
	V3MetadataKey   = "zarr.json"
)

// Fill value tokens for non-finite floats.
const (
	FillNaN              = "NaN"
	FillInfinity         = "Infinity"
	FillNegativeInfinity = "-Infinity"
)

const v2Schema = `{
	"type": "object",
	"required": ["zarr_format", "shape", "chunks", "dtype"],
	"properties": {
		"zarr_format": {"const": 2},
		"shape": {"type": "array", "items": {"type": "integer", "minimum": 0}},
		"chunks": {"type": "array", "items": {"type": "integer", "minimum": 1}},
		"dtype": {"type": "string"},
		"compressor": {
			"oneOf": [
				{"type": "null"},
				{
					"type": "object",
					"required": ["id"],
					"properties": {
						"id": {"type": "string"},
						"level": {"type": "integer"}
					}
				}
			]
		},
		"fill_value": {"type": ["number", "string", "null"]},
		"order": {"enum": ["C", "F"]},
		"filters": {"type": ["array", "null"]},
		"dimension_separator": {"enum": [".", "/"]}
	}
}`

const v3Schema = `{
	"type": "object",
	"required": ["zarr_format", "node_type", "shape", "data_type", "chunk_grid", "chunk_key_encoding", "fill_value", "codecs"],
	"properties": {
		"zarr_format": {"const": 3},
		"node_type": {"const": "array"},
		"shape": {"type": "array", "items": {"type": "integer", "minimum": 0}},
		"data_type": {"type": "string"},
		"chunk_grid": {
			"type": "object",
			"required": ["name", "configuration"],
			"properties": {
				"name": {"const": "regular"},
				"configuration": {
					"type": "object",
					"required": ["chunk_shape"],
					"properties": {
						"chunk_shape": {"type": "array", "items": {"type": "integer", "minimum": 1}}
					}
				}
			}
		},
		"chunk_key_encoding": {
			"type": "object",
			"required": ["name"],
			"properties": {
				"name": {"enum": ["default", "v2"]},
				"configuration": {
					"type": "object",
					"properties": {"separator": {"enum": [".", "/"]}}
				}
			}
		},
		"fill_value": {"type": ["number", "string"]},
		"codecs": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"configuration": {"type": "object"}
				}
			}
		},
		"attributes": {"type": "object"},
		"dimension_names": {"type": "array", "items": {"type": ["string", "null"]}}
	}
}`

var (
	v2CompiledSchema = jsonschema.MustCompileString("zarr-v2-array.json", v2Schema)
	v3CompiledSchema = jsonschema.MustCompileString("zarr-v3-array.json", v3Schema)
)

// Metadata is the decoded metadata of a Zarr array.
type Metadata struct {
	format     int
	shape      []int64
	chunks     []int64
	kind       bfio.ElementKind
	bigEndian  bool
	fillJSON   interface{}
	fill       []byte
	codec      compressor
	separator  string
	keyPrefix  bool // v3 "default" chunk key encoding
	dimNames   []string
	attributes map[string]interface{}
}

// Options tune the metadata of a created array.
type Options struct {
	// Compressor is one of "zlib", "gzip", "zstd", or "none".  Empty selects the default.
	Compressor string
	Level      int

	// FillValue is a number, one of the non-finite tokens, or nil for zero.
	FillValue interface{}

	// DimensionNames are stored as _ARRAY_DIMENSIONS (v2) or dimension_names (v3).
	DimensionNames []string

	// Separator between chunk indices.  Defaults to "." for v2 and "/" for v3.
	Separator string

	BigEndian bool
}

// NewMetadata returns the metadata of an array to be created.
func NewMetadata(format int, shape, chunks []int64, kind bfio.ElementKind, opts Options) (*Metadata, error) {
	if format != V2 && format != V3 {
		return nil, fmt.Errorf("zarr format %d is not supported", format)
	}
	if !kind.Valid() {
		return nil, &bfio.UnsupportedTypeError{Name: kind.String()}
	}
	if len(shape) == 0 || len(shape) != len(chunks) {
		return nil, fmt.Errorf("shape %v and chunks %v must have the same nonzero rank", shape, chunks)
	}
	for d := range shape {
		if shape[d] < 0 || chunks[d] < 1 {
			return nil, fmt.Errorf("invalid shape %v or chunks %v", shape, chunks)
		}
	}
	if len(opts.DimensionNames) != 0 && len(opts.DimensionNames) != len(shape) {
		return nil, fmt.Errorf("%d dimension names for rank %d", len(opts.DimensionNames), len(shape))
	}
	id := opts.Compressor
	level := opts.Level
	switch id {
	case "":
		id = DefaultCompressor
		if level == 0 {
			level = 1
		}
	case "none", "null":
		id = CompressorNone
	}
	codec, err := newCompressor(id, level)
	if err != nil {
		return nil, err
	}
	fillJSON, err := normalizeFill(opts.FillValue)
	if err != nil {
		return nil, err
	}
	if fillJSON == nil && format == V3 {
		fillJSON = json.Number("0")
	}
	fill, err := fillBytes(kind, fillJSON)
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		format:    format,
		shape:     append([]int64(nil), shape...),
		chunks:    append([]int64(nil), chunks...),
		kind:      kind,
		bigEndian: opts.BigEndian && kind.Bytes() > 1,
		fillJSON:  fillJSON,
		fill:      fill,
		codec:     codec,
		separator: opts.Separator,
		keyPrefix: format == V3,
		dimNames:  append([]string(nil), opts.DimensionNames...),
	}
	if md.separator == "" {
		md.separator = "."
		if format == V3 {
			md.separator = "/"
		}
	}
	if md.separator != "." && md.separator != "/" {
		return nil, fmt.Errorf("dimension separator %q must be \".\" or \"/\"", md.separator)
	}
	return md, nil
}

// normalizeFill converts Go numbers to the JSON form stored in metadata.
func normalizeFill(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, string, json.Number:
		return x, nil
	case float64:
		switch {
		case math.IsNaN(x):
			return FillNaN, nil
		case math.IsInf(x, 1):
			return FillInfinity, nil
		case math.IsInf(x, -1):
			return FillNegativeInfinity, nil
		}
		return json.Number(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case float32:
		return normalizeFill(float64(x))
	case int:
		return json.Number(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return json.Number(strconv.FormatInt(x, 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(x, 10)), nil
	}
	return nil, fmt.Errorf("fill value %v has unsupported type %T", v, v)
}

// fillBytes returns the little-endian element for a JSON fill value.  A nil fill
// value is zero.
func fillBytes(kind bfio.ElementKind, v interface{}) ([]byte, error) {
	out := make([]byte, kind.Bytes())
	bits := kind.Bytes() * 8
	putBits := func(u uint64) {
		for i := range out {
			out[i] = byte(u >> (8 * uint(i)))
		}
	}
	putFloat := func(f float64) {
		if kind == bfio.Float32 {
			putBits(uint64(math.Float32bits(float32(f))))
		} else {
			putBits(math.Float64bits(f))
		}
	}
	switch x := v.(type) {
	case nil:
		return out, nil
	case string:
		var f float64
		switch x {
		case FillNaN:
			f = math.NaN()
		case FillInfinity:
			f = math.Inf(1)
		case FillNegativeInfinity:
			f = math.Inf(-1)
		default:
			if !strings.HasPrefix(x, "0x") {
				return nil, fmt.Errorf("fill value %q is not recognized", x)
			}
			u, err := strconv.ParseUint(x[2:], 16, bits)
			if err != nil {
				return nil, fmt.Errorf("fill value %q: %w", x, err)
			}
			putBits(u)
			return out, nil
		}
		if !kind.IsFloat() {
			return nil, fmt.Errorf("fill value %q requires a float type, not %s", x, kind)
		}
		putFloat(f)
		return out, nil
	case json.Number:
		if kind.IsFloat() {
			f, err := x.Float64()
			if err != nil {
				return nil, fmt.Errorf("fill value %s: %w", x, err)
			}
			putFloat(f)
			return out, nil
		}
		s := string(x)
		if f, err := x.Float64(); err == nil && strings.ContainsAny(s, ".eE") {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("fill value %s is not an integer", x)
			}
			s = strconv.FormatFloat(f, 'f', 0, 64)
		}
		if kind.IsSigned() {
			i, err := strconv.ParseInt(s, 10, bits)
			if err != nil {
				return nil, fmt.Errorf("fill value %s for %s: %w", x, kind, err)
			}
			putBits(uint64(i))
			return out, nil
		}
		u, err := strconv.ParseUint(s, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("fill value %s for %s: %w", x, kind, err)
		}
		putBits(u)
		return out, nil
	}
	return nil, fmt.Errorf("fill value %v has unsupported type %T", v, v)
}

// validate checks raw against a schema.
func validate(schema *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return err
	}
	return schema.Validate(generic)
}

func decodeNumbers(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

type v2Compressor struct {
	ID    string       `json:"id"`
	Level *json.Number `json:"level,omitempty"`
}

type jsonV2 struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int64           `json:"shape"`
	Chunks             []int64           `json:"chunks"`
	DType              string            `json:"dtype"`
	Compressor         *v2Compressor     `json:"compressor"`
	FillValue          interface{}       `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

type v3Named struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

type v3ChunkGrid struct {
	Name          string `json:"name"`
	Configuration struct {
		ChunkShape []int64 `json:"chunk_shape"`
	} `json:"configuration"`
}

type v3KeyEncoding struct {
	Name          string `json:"name"`
	Configuration struct {
		Separator string `json:"separator,omitempty"`
	} `json:"configuration"`
}

type jsonV3 struct {
	ZarrFormat       int                    `json:"zarr_format"`
	NodeType         string                 `json:"node_type"`
	Shape            []int64                `json:"shape"`
	DataType         string                 `json:"data_type"`
	ChunkGrid        v3ChunkGrid            `json:"chunk_grid"`
	ChunkKeyEncoding v3KeyEncoding          `json:"chunk_key_encoding"`
	FillValue        interface{}            `json:"fill_value"`
	Codecs           []v3Named              `json:"codecs"`
	Attributes       map[string]interface{} `json:"attributes,omitempty"`
	DimensionNames   []*string              `json:"dimension_names,omitempty"`
}

// ParseMetadata validates and decodes stored metadata of the given format.  All
// failures are InvalidMetadataErrors.
func ParseMetadata(format int, key string, raw []byte) (*Metadata, error) {
	var md *Metadata
	var err error
	switch format {
	case V2:
		md, err = parseV2(raw)
	case V3:
		md, err = parseV3(raw)
	default:
		err = fmt.Errorf("zarr format %d is not supported", format)
	}
	if err != nil {
		return nil, &bfio.InvalidMetadataError{Key: key, Err: err}
	}
	return md, nil
}

func parseV2(raw []byte) (*Metadata, error) {
	if err := validate(v2CompiledSchema, raw); err != nil {
		return nil, err
	}
	var jm jsonV2
	if err := decodeNumbers(raw, &jm); err != nil {
		return nil, err
	}
	if len(jm.Shape) == 0 || len(jm.Shape) != len(jm.Chunks) {
		return nil, fmt.Errorf("shape %v and chunks %v must have the same nonzero rank", jm.Shape, jm.Chunks)
	}
	kind, bigEndian, err := bfio.KindByZarrToken(jm.DType)
	if err != nil {
		return nil, err
	}
	if jm.Order == "F" {
		return nil, fmt.Errorf("column-major (\"F\") chunk order is not supported")
	}
	if len(jm.Filters) != 0 {
		return nil, fmt.Errorf("filters are not supported")
	}
	md := &Metadata{
		format:    V2,
		shape:     jm.Shape,
		chunks:    jm.Chunks,
		kind:      kind,
		bigEndian: bigEndian,
		fillJSON:  jm.FillValue,
		separator: jm.DimensionSeparator,
	}
	if md.separator == "" {
		md.separator = "."
	}
	if jm.Compressor != nil {
		level := 1
		if jm.Compressor.ID == CompressorZstd {
			level = 0
		}
		if jm.Compressor.Level != nil {
			l, err := jm.Compressor.Level.Int64()
			if err != nil {
				return nil, err
			}
			level = int(l)
		}
		if md.codec, err = newCompressor(jm.Compressor.ID, level); err != nil {
			return nil, err
		}
	}
	if md.fill, err = fillBytes(kind, jm.FillValue); err != nil {
		return nil, err
	}
	return md, nil
}

func configInt(cfg map[string]interface{}, key string, def int) (int, error) {
	v, found := cfg[key]
	if !found {
		return def, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("codec setting %q must be a number, got %v", key, v)
	}
	i, err := n.Int64()
	return int(i), err
}

func parseV3(raw []byte) (*Metadata, error) {
	if err := validate(v3CompiledSchema, raw); err != nil {
		return nil, err
	}
	var jm jsonV3
	if err := decodeNumbers(raw, &jm); err != nil {
		return nil, err
	}
	chunks := jm.ChunkGrid.Configuration.ChunkShape
	if len(jm.Shape) == 0 || len(jm.Shape) != len(chunks) {
		return nil, fmt.Errorf("shape %v and chunk shape %v must have the same nonzero rank", jm.Shape, chunks)
	}
	if len(jm.DimensionNames) != 0 && len(jm.DimensionNames) != len(jm.Shape) {
		return nil, fmt.Errorf("%d dimension names for rank %d", len(jm.DimensionNames), len(jm.Shape))
	}
	kind, err := bfio.KindByName(jm.DataType)
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		format:     V3,
		shape:      jm.Shape,
		chunks:     chunks,
		kind:       kind,
		fillJSON:   jm.FillValue,
		separator:  jm.ChunkKeyEncoding.Configuration.Separator,
		keyPrefix:  jm.ChunkKeyEncoding.Name == "default",
		attributes: jm.Attributes,
	}
	if md.separator == "" {
		md.separator = "/"
		if !md.keyPrefix {
			md.separator = "."
		}
	}
	for _, name := range jm.DimensionNames {
		if name == nil {
			md.dimNames = append(md.dimNames, "")
		} else {
			md.dimNames = append(md.dimNames, *name)
		}
	}

	if jm.Codecs[0].Name != "bytes" {
		return nil, fmt.Errorf("first codec must be \"bytes\", got %q", jm.Codecs[0].Name)
	}
	switch endian := jm.Codecs[0].Configuration["endian"]; endian {
	case nil, "little":
	case "big":
		md.bigEndian = kind.Bytes() > 1
	default:
		return nil, fmt.Errorf("bytes codec endian %v is not supported", endian)
	}
	if len(jm.Codecs) > 2 {
		return nil, fmt.Errorf("at most one compression codec is supported, got %d codecs", len(jm.Codecs))
	}
	if len(jm.Codecs) == 2 {
		c := jm.Codecs[1]
		def := 1
		if c.Name == CompressorZstd {
			def = 0
		}
		level, err := configInt(c.Configuration, "level", def)
		if err != nil {
			return nil, err
		}
		if c.Name != CompressorGzip && c.Name != CompressorZstd {
			return nil, fmt.Errorf("codec %q is not supported", c.Name)
		}
		if md.codec, err = newCompressor(c.Name, level); err != nil {
			return nil, err
		}
	}
	if md.fill, err = fillBytes(kind, jm.FillValue); err != nil {
		return nil, err
	}
	return md, nil
}

// Encode returns the stored JSON form of the metadata.
func (m *Metadata) Encode() ([]byte, error) {
	if m.format == V2 {
		jm := jsonV2{
			ZarrFormat:         V2,
			Shape:              m.shape,
			Chunks:             m.chunks,
			DType:              m.dtypeToken(),
			FillValue:          m.fillJSON,
			Order:              "C",
			DimensionSeparator: m.separator,
		}
		if m.codec != nil {
			level := json.Number(strconv.Itoa(m.codec.Level()))
			jm.Compressor = &v2Compressor{ID: m.codec.ID(), Level: &level}
		}
		return json.MarshalIndent(jm, "", "    ")
	}

	jm := jsonV3{
		ZarrFormat: V3,
		NodeType:   "array",
		Shape:      m.shape,
		DataType:   m.kind.String(),
		FillValue:  m.fillJSON,
		Attributes: m.attributes,
	}
	jm.ChunkGrid.Name = "regular"
	jm.ChunkGrid.Configuration.ChunkShape = m.chunks
	jm.ChunkKeyEncoding.Name = "v2"
	if m.keyPrefix {
		jm.ChunkKeyEncoding.Name = "default"
	}
	jm.ChunkKeyEncoding.Configuration.Separator = m.separator
	endian := "little"
	if m.bigEndian {
		endian = "big"
	}
	jm.Codecs = []v3Named{{Name: "bytes", Configuration: map[string]interface{}{"endian": endian}}}
	if m.codec != nil {
		cfg := map[string]interface{}{"level": m.codec.Level()}
		if m.codec.ID() == CompressorZstd {
			cfg["checksum"] = false
		}
		jm.Codecs = append(jm.Codecs, v3Named{Name: m.codec.ID(), Configuration: cfg})
	}
	for i := range m.dimNames {
		name := m.dimNames[i]
		jm.DimensionNames = append(jm.DimensionNames, &name)
	}
	return json.MarshalIndent(jm, "", "    ")
}

func (m *Metadata) dtypeToken() string {
	token := m.kind.ZarrToken()
	if m.bigEndian {
		return ">" + token[1:]
	}
	return token
}

// Format returns 2 or 3.
func (m *Metadata) Format() int { return m.format }

func (m *Metadata) Shape() []int64      { return m.shape }
func (m *Metadata) ChunkShape() []int64 { return m.chunks }

func (m *Metadata) Kind() bfio.ElementKind { return m.kind }

// FillValue returns a copy of the little-endian fill element.
func (m *Metadata) FillValue() []byte { return append([]byte(nil), m.fill...) }

// Compressor returns the compressor id, "" if chunks are stored uncompressed.
func (m *Metadata) Compressor() string {
	if m.codec == nil {
		return CompressorNone
	}
	return m.codec.ID()
}

// DimensionNames returns the v3 dimension names.
func (m *Metadata) DimensionNames() []string { return m.dimNames }

// Attributes returns the v3 user attributes.
func (m *Metadata) Attributes() map[string]interface{} { return m.attributes }

// CompatibilityKey covers everything that changes how chunks are found or decoded.
func (m *Metadata) CompatibilityKey() string {
	return fmt.Sprintf("v%d,shape=%v,chunks=%v,dtype=%s,compressor=%s,fill=%x,sep=%q",
		m.format, m.shape, m.chunks, m.dtypeToken(), m.Compressor(), m.fill, m.separator)
}

func (m *Metadata) withShape(shape []int64) *Metadata {
	resized := *m
	resized.shape = append([]int64(nil), shape...)
	return &resized
}
