package ometiff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/PolusAI/bfiocpp/bfio"
)

const metadataSchema = `{
	"type": "object",
	"required": ["shape", "chunk_shape", "dtype", "omeXml"],
	"properties": {
		"shape": {
			"type": "array", "minItems": 5, "maxItems": 5,
			"items": {"type": "integer", "minimum": 0}
		},
		"chunk_shape": {
			"type": "array", "minItems": 5, "maxItems": 5,
			"items": {"type": "integer", "minimum": 1}
		},
		"dtype": {"type": "string"},
		"omeXml": {
			"type": "object",
			"required": ["tiffData"],
			"properties": {
				"tiffData": {
					"type": "object",
					"propertyNames": {"pattern": "^[0-9]+$"},
					"additionalProperties": {
						"type": "array", "minItems": 3, "maxItems": 3,
						"items": {"type": "integer", "minimum": 0}
					}
				}
			}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("ometiff-metadata.json", metadataSchema)

// plane is a (z, c, t) plane coordinate.
type plane [3]int64

// Metadata describes a tiled container: a rank-5 [T,C,Z,Y,X] array whose chunks
// are single-plane tiles, plus the lookup from plane to page.
type Metadata struct {
	shape      [5]int64
	chunkShape [5]int64
	kind       bfio.ElementKind
	lookup     map[plane]int64
	duplicates []string
}

type jsonMetadata struct {
	Shape      [5]int64 `json:"shape"`
	ChunkShape [5]int64 `json:"chunk_shape"`
	DType      string   `json:"dtype"`
	OmeXML     struct {
		TiffData map[string][3]int64 `json:"tiffData"`
	} `json:"omeXml"`
}

// ParseMetadata validates and decodes the JSON metadata of a container.
func ParseMetadata(key string, raw []byte) (*Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, &bfio.InvalidMetadataError{Key: key, Err: err}
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, &bfio.InvalidMetadataError{Key: key, Err: err}
	}
	var jm jsonMetadata
	if err := json.Unmarshal(raw, &jm); err != nil {
		return nil, &bfio.InvalidMetadataError{Key: key, Err: err}
	}
	kind, err := bfio.KindByName(jm.DType)
	if err != nil {
		return nil, &bfio.InvalidMetadataError{Key: key, Err: err}
	}
	for d := 0; d < 3; d++ {
		if jm.ChunkShape[d] != 1 {
			return nil, &bfio.InvalidMetadataError{Key: key, Err: fmt.Errorf("chunk shape %v must be single-plane", jm.ChunkShape)}
		}
	}
	md := &Metadata{
		shape:      jm.Shape,
		chunkShape: jm.ChunkShape,
		kind:       kind,
		lookup:     make(map[plane]int64, len(jm.OmeXML.TiffData)),
	}
	for ifdStr, zct := range jm.OmeXML.TiffData {
		ifd, err := strconv.ParseInt(ifdStr, 10, 64)
		if err != nil {
			return nil, &bfio.InvalidMetadataError{Key: key, Err: err}
		}
		p := plane(zct)
		if prev, found := md.lookup[p]; found {
			md.duplicates = append(md.duplicates, fmt.Sprintf("pages %d and %d both hold (z=%d, c=%d, t=%d)", prev, ifd, p[0], p[1], p[2]))
			continue
		}
		md.lookup[p] = ifd
	}
	return md, nil
}

// Shape returns [T, C, Z, Y, X].
func (m *Metadata) Shape() []int64 { return m.shape[:] }

// ChunkShape returns [1, 1, 1, tile height, tile width].
func (m *Metadata) ChunkShape() []int64 { return m.chunkShape[:] }

func (m *Metadata) Kind() bfio.ElementKind { return m.kind }

// FillValue is zero.
func (m *Metadata) FillValue() []byte { return make([]byte, m.kind.Bytes()) }

// CompatibilityKey is the shape, chunk shape, and element kind.
func (m *Metadata) CompatibilityKey() string {
	return fmt.Sprintf("shape=%v,chunks=%v,dtype=%s", m.shape, m.chunkShape, m.kind)
}

// Page returns the page holding plane (z, c, t).
func (m *Metadata) Page(z, c, t int64) (int64, bool) {
	ifd, found := m.lookup[plane{z, c, t}]
	return ifd, found
}

// NumPages returns the number of distinct planes in the lookup table.
func (m *Metadata) NumPages() int {
	return len(m.lookup)
}

// checkBijection verifies every plane of the declared shape has exactly one page.
func (m *Metadata) checkBijection() error {
	if len(m.duplicates) != 0 {
		return &bfio.InconsistentMetadataError{Reason: m.duplicates[0]}
	}
	for t := int64(0); t < m.shape[0]; t++ {
		for c := int64(0); c < m.shape[1]; c++ {
			for z := int64(0); z < m.shape[2]; z++ {
				if _, found := m.lookup[plane{z, c, t}]; !found {
					return &bfio.InconsistentMetadataError{Z: z, C: c, T: t}
				}
			}
		}
	}
	return nil
}

func (m *Metadata) withShape(shape []int64) *Metadata {
	resized := *m
	copy(resized.shape[:], shape)
	return &resized
}
