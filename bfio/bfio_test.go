package bfio

import (
	"errors"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type BfioSuite struct{}

var _ = Suite(&BfioSuite{})

func (s *BfioSuite) TestSeq(c *C) {
	seq, err := NewSeq(2, 5, 1)
	c.Assert(err, IsNil)
	c.Assert(seq.Extent(), Equals, int64(4))
	c.Assert(seq.String(), Equals, "[2:5:1]")

	_, err = NewSeq(-1, 5, 1)
	c.Assert(err, NotNil)
	_, err = NewSeq(6, 5, 1)
	c.Assert(err, NotNil)
	_, err = NewSeq(0, 5, 0)
	c.Assert(err, NotNil)

	invalid := InvalidSeq()
	c.Assert(invalid.Valid, Equals, false)
	c.Assert(invalid.Extent(), Equals, int64(1))
	c.Assert(invalid.OrZero(), Equals, Span(0))
	c.Assert(seq.OrZero(), Equals, seq)
	c.Assert(Span(7).Extent(), Equals, int64(1))
}

func (s *BfioSuite) TestResolveAxes(c *C) {
	tests := []struct {
		rank        int
		labels      string
		expected    string
		speculative bool
	}{
		{5, "TCZYX", "TCZYX", false},
		{5, "", "TCZYX", true},
		{5, "ctzyx", "CTZYX", false},
		{4, "", "CZYX", true},
		{4, "TZYX", "TZYX", false},
		{3, "", "ZYX", true},
		{3, "CYX", "CYX", false},
		{3, "TYX", "TYX", false},
		{2, "", "YX", true},
		{2, "YX", "YX", false},
		{4, "ZYX", "CZYX", true},
	}
	for _, tc := range tests {
		m, err := ResolveAxes(tc.rank, tc.labels)
		c.Assert(err, IsNil, Commentf("rank %d labels %q", tc.rank, tc.labels))
		c.Assert(m.Labels(), Equals, tc.expected)
		c.Assert(m.Speculative, Equals, tc.speculative)
		c.Assert(m.Y, Equals, tc.rank-2)
		c.Assert(m.X, Equals, tc.rank-1)
	}

	m, _ := ResolveAxes(3, "CYX")
	c.Assert(m.C, Equals, At(0))
	c.Assert(m.Z, Equals, None)
	c.Assert(m.T.Present, Equals, false)
	shape, err := m.Extents([]int64{3, 20, 30})
	c.Assert(err, IsNil)
	c.Assert(shape, Equals, [5]int64{1, 3, 1, 20, 30})
	_, err = m.Extents([]int64{20, 30})
	c.Assert(err, NotNil)

	for _, bad := range []struct {
		rank   int
		labels string
	}{
		{3, "YXC"},
		{3, "ZXY"},
		{4, "ZZYX"},
		{4, "QZYX"},
		{6, ""},
		{1, ""},
		{5, "TCZYXX"},
	} {
		_, err := ResolveAxes(bad.rank, bad.labels)
		var axisErr *AxisResolutionError
		c.Assert(errors.As(err, &axisErr), Equals, true, Commentf("rank %d labels %q", bad.rank, bad.labels))
	}
	c.Assert(FullAxes.Labels(), Equals, "TCZYX")
}

func (s *BfioSuite) TestKinds(c *C) {
	for _, k := range AllKinds() {
		byCode, err := KindByCode(k.Code())
		c.Assert(err, IsNil)
		c.Assert(byCode, Equals, k)

		byName, err := KindByName(k.String())
		c.Assert(err, IsNil)
		c.Assert(byName, Equals, k)

		byToken, bigEndian, err := KindByZarrToken(k.ZarrToken())
		c.Assert(err, IsNil)
		c.Assert(byToken, Equals, k)
		c.Assert(bigEndian, Equals, false)
	}
	c.Assert(Uint16.Code(), Equals, uint16(2))
	c.Assert(Float64.Code(), Equals, uint16(512))
	c.Assert(Uint8.ZarrToken(), Equals, "|u1")
	c.Assert(Int32.ZarrToken(), Equals, "<i4")
	c.Assert(Float32.IsFloat(), Equals, true)
	c.Assert(Uint64.IsSigned(), Equals, false)

	_, err := KindByCode(3)
	var unsupported *UnsupportedTypeError
	c.Assert(errors.As(err, &unsupported), Equals, true)
	_, err = KindByName("complex128")
	c.Assert(errors.As(err, &unsupported), Equals, true)
	_, _, err = KindByZarrToken("<c8")
	c.Assert(err, NotNil)
	c.Assert(ElementKind(3).Valid(), Equals, false)

	k, bigEndian, err := KindByZarrToken(">i2")
	c.Assert(err, IsNil)
	c.Assert(k, Equals, Int16)
	c.Assert(bigEndian, Equals, true)
	k, bigEndian, _ = KindByZarrToken(">u1")
	c.Assert(k, Equals, Uint8)
	c.Assert(bigEndian, Equals, false)

	k, err = ParseKind("double")
	c.Assert(err, IsNil)
	c.Assert(k, Equals, Float64)
	k, err = ParseKind("<f4")
	c.Assert(err, IsNil)
	c.Assert(k, Equals, Float32)
	_, err = ParseKind("bogus")
	c.Assert(err, NotNil)
}

func (s *BfioSuite) TestPlanTiles(c *C) {
	shape := [5]int64{1, 2, 1, 10, 10}
	requests, err := PlanTiles(shape, 4, 4, 4, 4)
	c.Assert(err, IsNil)
	c.Assert(requests, HasLen, 18)
	c.Assert(requests[0], Equals, TileRequest{0, 0, 0, 0, 3, 0, 3})
	c.Assert(requests[2], Equals, TileRequest{0, 0, 0, 0, 3, 8, 9})
	c.Assert(requests[17], Equals, TileRequest{0, 1, 0, 8, 9, 8, 9})

	// every pixel of every plane is covered exactly once
	covered := make(map[[5]int64]int)
	for _, r := range requests {
		for y := r.YMin; y <= r.YMax; y++ {
			for x := r.XMin; x <= r.XMax; x++ {
				covered[[5]int64{r.T, r.C, r.Z, y, x}]++
			}
		}
	}
	c.Assert(covered, HasLen, 200)
	for pos, n := range covered {
		c.Assert(n, Equals, 1, Commentf("pixel %v", pos))
	}

	row, col := TileCoordinate(requests[17], 4, 4)
	c.Assert(row, Equals, int64(2))
	c.Assert(col, Equals, int64(2))

	// stride larger than the image gives one request per plane
	requests, err = PlanTiles([5]int64{2, 1, 3, 5, 5}, 8, 8, 8, 8)
	c.Assert(err, IsNil)
	c.Assert(requests, HasLen, 6)
	c.Assert(requests[5], Equals, TileRequest{1, 0, 2, 0, 4, 0, 4})

	requests, err = PlanTiles([5]int64{1, 1, 1, 0, 5}, 4, 4, 4, 4)
	c.Assert(err, IsNil)
	c.Assert(requests, HasLen, 0)

	_, err = PlanTiles(shape, 0, 4, 4, 4)
	c.Assert(err, NotNil)
	_, err = PlanTiles(shape, 4, 4, 4, -1)
	c.Assert(err, NotNil)
}

func (s *BfioSuite) TestPlanTilesCoverage(c *C) {
	for height := int64(1); height <= 20; height++ {
		for width := int64(1); width <= 20; width++ {
			for rowStride := int64(1); rowStride <= 7; rowStride++ {
				for colStride := int64(1); colStride <= 7; colStride++ {
					checkCoverage(c, [5]int64{1, 2, 1, height, width}, rowStride, colStride)
				}
			}
		}
	}
}

// checkCoverage verifies the requests cover every pixel of every plane exactly once
// and stay inside the image.
func checkCoverage(c *C, shape [5]int64, rowStride, colStride int64) {
	requests, err := PlanTiles(shape, rowStride, colStride, rowStride, colStride)
	c.Assert(err, IsNil)
	height, width := shape[3], shape[4]
	planes := shape[0] * shape[1] * shape[2]
	rowBands := (height + rowStride - 1) / rowStride
	colBands := (width + colStride - 1) / colStride
	c.Assert(int64(len(requests)), Equals, planes*rowBands*colBands)

	hits := make([]int, planes*height*width)
	for _, r := range requests {
		if r.YMin < 0 || r.YMax >= height || r.XMin < 0 || r.XMax >= width || r.YMin > r.YMax || r.XMin > r.XMax {
			c.Fatalf("shape %v stride %dx%d: request %v outside image", shape, rowStride, colStride, r)
		}
		row, col := TileCoordinate(r, rowStride, colStride)
		if row*rowStride != r.YMin || col*colStride != r.XMin {
			c.Fatalf("shape %v stride %dx%d: request %v at tile (%d,%d)", shape, rowStride, colStride, r, row, col)
		}
		plane := (r.T*shape[1]+r.C)*shape[2] + r.Z
		for y := r.YMin; y <= r.YMax; y++ {
			for x := r.XMin; x <= r.XMax; x++ {
				hits[(plane*height+y)*width+x]++
			}
		}
	}
	for i, n := range hits {
		if n != 1 {
			c.Fatalf("shape %v stride %dx%d: pixel %d covered %d times", shape, rowStride, colStride, i, n)
		}
	}
}

func (s *BfioSuite) TestImageData(c *C) {
	values := []int16{-1, 2, -3, 4, -5, 6}
	img, err := NewImageData([5]int64{1, 1, 1, 2, 3}, values)
	c.Assert(err, IsNil)
	c.Assert(img.Kind, Equals, Int16)
	c.Assert(img.Len(), Equals, 6)

	raw, err := img.Bytes()
	c.Assert(err, IsNil)
	c.Assert(raw, HasLen, 12)
	c.Assert(raw[0:2], DeepEquals, []byte{0xff, 0xff})

	decoded, err := NewImageDataFromBytes(Int16, img.Shape, raw)
	c.Assert(err, IsNil)
	got, err := Values[int16](decoded)
	c.Assert(err, IsNil)
	c.Assert(got, DeepEquals, values)
	_, err = Values[uint16](decoded)
	c.Assert(err, NotNil)

	_, err = NewImageData([5]int64{1, 1, 1, 2, 2}, values)
	var mismatch *ShapeMismatchError
	c.Assert(errors.As(err, &mismatch), Equals, true)
	c.Assert(mismatch.Expected, Equals, int64(8))
	c.Assert(mismatch.Got, Equals, int64(12))

	_, err = NewImageDataFromBytes(Float64, [5]int64{1, 1, 1, 1, 2}, raw)
	c.Assert(errors.As(err, &mismatch), Equals, true)
	_, err = EncodeElements(Uint16, values)
	c.Assert(err, NotNil)
	_, err = KindOf([]string{"x"})
	c.Assert(err, NotNil)
}

func (s *BfioSuite) TestCommand(c *C) {
	cmd := Command([]string{"read", "img.zarr", "rows=2:5", "cols=7", "stride=3:9:2", "tile=4, 8", "bad=x:y"})
	c.Assert(cmd.Name(), Equals, "read")
	c.Assert(cmd.Argument(1), Equals, "img.zarr")
	c.Assert(cmd.Argument(2), Equals, "")

	rows, err := cmd.SeqParameter("rows")
	c.Assert(err, IsNil)
	c.Assert(rows, Equals, MustSeq(2, 5, 1))
	cols, err := cmd.SeqParameter("cols")
	c.Assert(err, IsNil)
	c.Assert(cols, Equals, Span(7))
	stride, err := cmd.SeqParameter("stride")
	c.Assert(err, IsNil)
	c.Assert(stride.Step, Equals, int64(2))
	missing, err := cmd.SeqParameter("layers")
	c.Assert(err, IsNil)
	c.Assert(missing.Valid, Equals, false)
	_, err = cmd.SeqParameter("bad")
	c.Assert(err, NotNil)

	tile, found, err := cmd.IntsParameter("tile")
	c.Assert(err, IsNil)
	c.Assert(found, Equals, true)
	c.Assert(tile, DeepEquals, []int64{4, 8})

	settings := cmd.Settings()
	c.Assert(settings, HasLen, 5)
	v, found, err := settings.GetString("cols")
	c.Assert(err, IsNil)
	c.Assert(found, Equals, true)
	c.Assert(v, Equals, "7")
	n, _, err := settings.GetInt("cols")
	c.Assert(err, IsNil)
	c.Assert(n, Equals, 7)
	_, _, err = settings.GetBool("rows")
	c.Assert(err, NotNil)
}

func (s *BfioSuite) TestFileTypes(c *C) {
	for _, ft := range []FileType{OmeTiff, OmeZarrV2, OmeZarrV3} {
		parsed, err := ParseFileType(ft.String())
		c.Assert(err, IsNil)
		c.Assert(parsed, Equals, ft)
	}
	_, err := ParseFileType("n5")
	c.Assert(err, NotNil)
	c.Assert(GuessFileType("/data/plate.ome.TIF"), Equals, OmeTiff)
	c.Assert(GuessFileType("/data/plate.ome.zarr/"), Equals, OmeZarrV2)
}

func (s *BfioSuite) TestErrorsUnwrap(c *C) {
	cause := &InvalidMetadataError{Key: ".zarray", Err: errors.New("bad json")}
	err := error(&OpenError{Path: "img.zarr", Err: cause})
	var invalid *InvalidMetadataError
	c.Assert(errors.As(err, &invalid), Equals, true)
	c.Assert(invalid.Key, Equals, ".zarray")
	c.Assert(err.Error(), Matches, `unable to open "img.zarr": invalid metadata.*bad json`)

	bounds := &OutOfBoundsError{Axis: "Y", Start: 0, Stop: 10, Size: 10}
	c.Assert(bounds.Error(), Equals, "Y range [0, 10] out of bounds for extent 10")
}

// recordLogger keeps the formats it receives.
type recordLogger struct{ msgs []string }

func (r *recordLogger) Debugf(format string, args ...interface{})    { r.msgs = append(r.msgs, "D "+format) }
func (r *recordLogger) Infof(format string, args ...interface{})     { r.msgs = append(r.msgs, "I "+format) }
func (r *recordLogger) Warningf(format string, args ...interface{})  { r.msgs = append(r.msgs, "W "+format) }
func (r *recordLogger) Errorf(format string, args ...interface{})    { r.msgs = append(r.msgs, "E "+format) }
func (r *recordLogger) Criticalf(format string, args ...interface{}) { r.msgs = append(r.msgs, "C "+format) }
func (r *recordLogger) Shutdown()                                    {}

func (s *BfioSuite) TestLogThreshold(c *C) {
	saved := LogMode()
	defer SetLogMode(saved)
	rec := &recordLogger{}
	SetCustomLogger(rec)
	defer SetCustomLogger(nil)

	m, err := ParseLogMode("WARNING")
	c.Assert(err, IsNil)
	c.Assert(m, Equals, WarningMode)
	c.Assert(m.String(), Equals, "warning")
	_, err = ParseLogMode("loud")
	c.Assert(err, NotNil)

	SetLogMode(m)
	Debugf("d")
	Infof("i")
	Warningf("w")
	Criticalf("c")
	NewTimeLog().Errorf("t")
	c.Assert(rec.msgs, DeepEquals, []string{"W w", "C c", "E t: %s\n"})

	SetLogMode(SilentMode)
	Criticalf("dropped")
	c.Assert(rec.msgs, HasLen, 3)

	(&LogConfig{Level: "debug"}).SetLogger()
	c.Assert(LogMode(), Equals, DebugMode)
}
