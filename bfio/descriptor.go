package bfio

import "fmt"

// Descriptor summarizes an opened image in logical [T, C, Z, Y, X] terms.
type Descriptor struct {
	Shape      [5]int64
	TileHeight int64
	TileWidth  int64
	TileDepth  int64
	Kind       ElementKind
	Axes       AxisMap
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s image T=%d C=%d Z=%d Y=%d X=%d, tiles %dx%dx%d, axes %s",
		d.Kind, d.Shape[0], d.Shape[1], d.Shape[2], d.Shape[3], d.Shape[4],
		d.TileDepth, d.TileHeight, d.TileWidth, d.Axes)
}
