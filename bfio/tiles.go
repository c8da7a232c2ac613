package bfio

import "fmt"

// TileRequest is one region of a tile iteration, all bounds inclusive.
type TileRequest struct {
	T, C, Z    int64
	YMin, YMax int64
	XMin, XMax int64
}

func (r TileRequest) String() string {
	return fmt.Sprintf("t=%d c=%d z=%d y=[%d,%d] x=[%d,%d]", r.T, r.C, r.Z, r.YMin, r.YMax, r.XMin, r.XMax)
}

// Rows returns the Y range of the request.
func (r TileRequest) Rows() Seq { return Seq{r.YMin, r.YMax, 1, true} }

// Cols returns the X range of the request.
func (r TileRequest) Cols() Seq { return Seq{r.XMin, r.XMax, 1, true} }

// PlanTiles decomposes an image of logical shape [T,C,Z,Y,X] into tile requests.
// Bands of rowStride rows and colStride columns start at 0 and stop before the image
// extent, with the last band clipped to the image.  Requests are ordered by t, c, z,
// then y and x.  The tile height and width must be positive and are currently only
// validated; the stride determines the emitted region size.
func PlanTiles(shape [5]int64, tileHeight, tileWidth, rowStride, colStride int64) ([]TileRequest, error) {
	if tileHeight <= 0 || tileWidth <= 0 {
		return nil, fmt.Errorf("tile size %dx%d must be positive", tileHeight, tileWidth)
	}
	if rowStride <= 0 || colStride <= 0 {
		return nil, fmt.Errorf("tile stride %dx%d must be positive", rowStride, colStride)
	}
	for i, n := range shape {
		if n < 0 {
			return nil, fmt.Errorf("negative extent %d on axis %d", n, i)
		}
	}
	numT, numC, numZ, height, width := shape[0], shape[1], shape[2], shape[3], shape[4]
	rowBands := (height + rowStride - 1) / rowStride
	colBands := (width + colStride - 1) / colStride
	requests := make([]TileRequest, 0, numT*numC*numZ*rowBands*colBands)
	for t := int64(0); t < numT; t++ {
		for c := int64(0); c < numC; c++ {
			for z := int64(0); z < numZ; z++ {
				for y := int64(0); y < height; y += rowStride {
					yMax := y + rowStride - 1
					if yMax > height-1 {
						yMax = height - 1
					}
					for x := int64(0); x < width; x += colStride {
						xMax := x + colStride - 1
						if xMax > width-1 {
							xMax = width - 1
						}
						requests = append(requests, TileRequest{t, c, z, y, yMax, x, xMax})
					}
				}
			}
		}
	}
	return requests, nil
}

// TileCoordinate returns the (row, col) index of a request within its stride grid.
func TileCoordinate(r TileRequest, rowStride, colStride int64) (row, col int64) {
	return r.YMin / rowStride, r.XMin / colStride
}
