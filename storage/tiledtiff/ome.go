package tiledtiff

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/PolusAI/bfiocpp/bfio"
)

// omeXML holds the parts of an OME-XML document needed to place planes.
type omeXML struct {
	Images []struct {
		Pixels omePixels `xml:"Pixels"`
	} `xml:"Image"`
}

type omePixels struct {
	DimensionOrder string        `xml:"DimensionOrder,attr"`
	Type           string        `xml:"Type,attr"`
	SizeX          int64         `xml:"SizeX,attr"`
	SizeY          int64         `xml:"SizeY,attr"`
	SizeZ          int64         `xml:"SizeZ,attr"`
	SizeC          int64         `xml:"SizeC,attr"`
	SizeT          int64         `xml:"SizeT,attr"`
	TiffData       []omeTiffData `xml:"TiffData"`
}

type omeTiffData struct {
	IFD        *int64 `xml:"IFD,attr"`
	FirstZ     int64  `xml:"FirstZ,attr"`
	FirstC     int64  `xml:"FirstC,attr"`
	FirstT     int64  `xml:"FirstT,attr"`
	PlaneCount *int64 `xml:"PlaneCount,attr"`
}

// Metadata is the JSON document served under the image description key.  Planes
// maps an IFD index, as a decimal string, to its [z, c, t] plane coordinate.
type Metadata struct {
	Shape      [5]int64 `json:"shape"`
	ChunkShape [5]int64 `json:"chunk_shape"`
	DType      string   `json:"dtype"`
	OmeXML     struct {
		TiffData map[string][3]int64 `json:"tiffData"`
	} `json:"omeXml"`
}

// Encode returns the JSON form of the metadata.
func (m *Metadata) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// isOME returns true if a description looks like an OME-XML document.
func isOME(description string) bool {
	s := strings.TrimSpace(description)
	return strings.HasPrefix(s, "<") && strings.Contains(s, "<OME")
}

// planeOrder returns the positions of Z, C and T in a dimension order such as
// "XYZCT", with the fastest varying plane axis first.
func planeOrder(dimOrder string) ([3]byte, error) {
	if len(dimOrder) != 5 || !strings.HasPrefix(strings.ToUpper(dimOrder), "XY") {
		return [3]byte{}, fmt.Errorf("bad DimensionOrder %q", dimOrder)
	}
	var order [3]byte
	copy(order[:], strings.ToUpper(dimOrder[2:]))
	seen := map[byte]bool{}
	for _, c := range order {
		if (c != 'Z' && c != 'C' && c != 'T') || seen[c] {
			return [3]byte{}, fmt.Errorf("bad DimensionOrder %q", dimOrder)
		}
		seen[c] = true
	}
	return order, nil
}

// planeIndexer converts between (z, c, t) and the linear plane index of a
// dimension order.
type planeIndexer struct {
	order [3]byte
	sizes map[byte]int64
}

func (p planeIndexer) index(z, c, t int64) int64 {
	coord := map[byte]int64{'Z': z, 'C': c, 'T': t}
	var idx, stride int64 = 0, 1
	for _, a := range p.order {
		idx += coord[a] * stride
		stride *= p.sizes[a]
	}
	return idx
}

func (p planeIndexer) coord(idx int64) (z, c, t int64) {
	coord := map[byte]int64{}
	for _, a := range p.order {
		coord[a] = idx % p.sizes[a]
		idx /= p.sizes[a]
	}
	return coord['Z'], coord['C'], coord['T']
}

// omeMetadata builds metadata for the first image of an OME-XML document.
func omeMetadata(description string, ifds []*IFD) (*Metadata, error) {
	var doc omeXML
	if err := xml.Unmarshal([]byte(description), &doc); err != nil {
		return nil, fmt.Errorf("unable to parse OME-XML: %w", err)
	}
	if len(doc.Images) == 0 {
		return nil, fmt.Errorf("OME-XML has no Image element")
	}
	px := doc.Images[0].Pixels
	for _, size := range []int64{px.SizeT, px.SizeC, px.SizeZ} {
		if size <= 0 {
			return nil, fmt.Errorf("OME-XML Pixels has non-positive size (T=%d, C=%d, Z=%d)", px.SizeT, px.SizeC, px.SizeZ)
		}
	}
	order, err := planeOrder(px.DimensionOrder)
	if err != nil {
		return nil, err
	}
	first := ifds[0]
	if px.SizeX != 0 && px.SizeY != 0 && (px.SizeX != first.Width || px.SizeY != first.Height) {
		return nil, fmt.Errorf("OME-XML size %d x %d differs from IFD 0 size %d x %d",
			px.SizeX, px.SizeY, first.Width, first.Height)
	}
	kind, err := first.Kind()
	if err != nil {
		return nil, err
	}
	if omeKind, err := bfio.KindByName(px.Type); err == nil && omeKind != kind {
		bfio.Warningf("OME-XML pixel type %q differs from TIFF sample type %s, using %s\n", px.Type, kind, kind)
	}

	pi := planeIndexer{order: order, sizes: map[byte]int64{'Z': px.SizeZ, 'C': px.SizeC, 'T': px.SizeT}}
	numPlanes := px.SizeZ * px.SizeC * px.SizeT

	md := &Metadata{
		Shape:      [5]int64{px.SizeT, px.SizeC, px.SizeZ, first.Height, first.Width},
		ChunkShape: [5]int64{1, 1, 1, first.TileHeight, first.TileWidth},
		DType:      kind.String(),
	}
	md.OmeXML.TiffData = make(map[string][3]int64, numPlanes)

	place := func(ifd, plane int64) {
		if ifd < 0 || ifd >= int64(len(ifds)) {
			bfio.Warningf("OME-XML references IFD %d but file has %d IFDs\n", ifd, len(ifds))
			return
		}
		if !ifds[ifd].sameGeometry(first) {
			bfio.Warningf("IFD %d geometry differs from IFD 0, skipping\n", ifd)
			return
		}
		z, c, t := pi.coord(plane)
		md.OmeXML.TiffData[strconv.FormatInt(ifd, 10)] = [3]int64{z, c, t}
	}

	if len(px.TiffData) == 0 {
		for p := int64(0); p < numPlanes; p++ {
			place(p, p)
		}
		return md, nil
	}
	for _, td := range px.TiffData {
		var ifd int64
		if td.IFD != nil {
			ifd = *td.IFD
		}
		count := int64(1)
		switch {
		case td.PlaneCount != nil:
			count = *td.PlaneCount
		case td.IFD == nil && len(px.TiffData) == 1:
			count = numPlanes
		}
		start := pi.index(td.FirstZ, td.FirstC, td.FirstT)
		for i := int64(0); i < count && start+i < numPlanes; i++ {
			place(ifd+i, start+i)
		}
	}
	return md, nil
}

// plainMetadata treats the leading run of IFDs sharing IFD 0's geometry as a Z stack.
func plainMetadata(ifds []*IFD) (*Metadata, error) {
	first := ifds[0]
	kind, err := first.Kind()
	if err != nil {
		return nil, err
	}
	n := int64(0)
	for _, d := range ifds {
		if !d.sameGeometry(first) {
			break
		}
		n++
	}
	md := &Metadata{
		Shape:      [5]int64{1, 1, n, first.Height, first.Width},
		ChunkShape: [5]int64{1, 1, 1, first.TileHeight, first.TileWidth},
		DType:      kind.String(),
	}
	md.OmeXML.TiffData = make(map[string][3]int64, n)
	for i := int64(0); i < n; i++ {
		md.OmeXML.TiffData[strconv.FormatInt(i, 10)] = [3]int64{i, 0, 0}
	}
	return md, nil
}
