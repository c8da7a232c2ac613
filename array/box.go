package array

import (
	"fmt"
	"strings"
)

// Box is a rectangular region with a per-dimension origin and shape.
type Box struct {
	Origin []int64
	Shape  []int64
}

// NewBox returns a box after checking that origin and shape have equal rank and the
// shape is non-negative.
func NewBox(origin, shape []int64) (Box, error) {
	if len(origin) != len(shape) {
		return Box{}, fmt.Errorf("box origin rank %d differs from shape rank %d", len(origin), len(shape))
	}
	for i, s := range shape {
		if s < 0 {
			return Box{}, fmt.Errorf("box has negative extent %d in dimension %d", s, i)
		}
	}
	return Box{Origin: append([]int64(nil), origin...), Shape: append([]int64(nil), shape...)}, nil
}

// ClosedBox returns the box spanning inclusive [start, stop] per dimension.
func ClosedBox(start, stop []int64) (Box, error) {
	if len(start) != len(stop) {
		return Box{}, fmt.Errorf("start rank %d differs from stop rank %d", len(start), len(stop))
	}
	shape := make([]int64, len(start))
	for i := range start {
		shape[i] = stop[i] - start[i] + 1
	}
	return NewBox(start, shape)
}

// Rank returns the number of dimensions.
func (b Box) Rank() int {
	return len(b.Shape)
}

// NumElements returns the product of the shape.
func (b Box) NumElements() int64 {
	n := int64(1)
	for _, s := range b.Shape {
		n *= s
	}
	return n
}

// End returns the exclusive upper corner.
func (b Box) End() []int64 {
	end := make([]int64, len(b.Shape))
	for i := range end {
		end[i] = b.Origin[i] + b.Shape[i]
	}
	return end
}

// Empty returns true if any dimension has zero extent.
func (b Box) Empty() bool {
	for _, s := range b.Shape {
		if s <= 0 {
			return true
		}
	}
	return false
}

// Intersect returns the overlap of two boxes of equal rank, which may be empty.
func (b Box) Intersect(o Box) Box {
	out := Box{Origin: make([]int64, len(b.Shape)), Shape: make([]int64, len(b.Shape))}
	for i := range b.Shape {
		beg := max64(b.Origin[i], o.Origin[i])
		end := min64(b.Origin[i]+b.Shape[i], o.Origin[i]+o.Shape[i])
		out.Origin[i] = beg
		if end > beg {
			out.Shape[i] = end - beg
		}
	}
	return out
}

// Equal returns true if the boxes have the same origin and shape.
func (b Box) Equal(o Box) bool {
	if len(b.Shape) != len(o.Shape) {
		return false
	}
	for i := range b.Shape {
		if b.Origin[i] != o.Origin[i] || b.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

func (b Box) String() string {
	dims := make([]string, len(b.Shape))
	for i := range b.Shape {
		dims[i] = fmt.Sprintf("[%d,%d)", b.Origin[i], b.Origin[i]+b.Shape[i])
	}
	return strings.Join(dims, "x")
}

// chunkBox returns the region covered by a chunk cell.
func chunkBox(cell, chunkShape []int64) Box {
	b := Box{Origin: make([]int64, len(cell)), Shape: append([]int64(nil), chunkShape...)}
	for i := range cell {
		b.Origin[i] = cell[i] * chunkShape[i]
	}
	return b
}

// cellRange returns the inclusive first and last chunk cells intersecting a non-empty box.
func cellRange(b Box, chunkShape []int64) (first, last []int64) {
	first = make([]int64, len(b.Shape))
	last = make([]int64, len(b.Shape))
	for i := range b.Shape {
		first[i] = b.Origin[i] / chunkShape[i]
		last[i] = (b.Origin[i] + b.Shape[i] - 1) / chunkShape[i]
	}
	return
}

// forEachCell calls fn for every cell between first and last inclusive in C order.
// Iteration stops at the first error.
func forEachCell(first, last []int64, fn func(cell []int64) error) error {
	rank := len(first)
	cell := append([]int64(nil), first...)
	for {
		if err := fn(append([]int64(nil), cell...)); err != nil {
			return err
		}
		d := rank - 1
		for ; d >= 0; d-- {
			cell[d]++
			if cell[d] <= last[d] {
				break
			}
			cell[d] = first[d]
		}
		if d < 0 {
			return nil
		}
	}
}

// copyRegion copies the elements of region from src, laid out as srcBox in C order,
// into dst, laid out as dstBox.  region must lie within both boxes.  Runs along the
// last dimension are copied contiguously.
func copyRegion(dst []byte, dstBox Box, src []byte, srcBox Box, region Box, bytesPerElement int64) {
	rank := region.Rank()
	if region.Empty() {
		return
	}
	dstStrides := strides(dstBox.Shape, bytesPerElement)
	srcStrides := strides(srcBox.Shape, bytesPerElement)
	runBytes := region.Shape[rank-1] * bytesPerElement

	// iterate over every element of region excluding the last dimension
	outer := make([]int64, rank)
	copy(outer, region.Origin)
	for {
		var dstI, srcI int64
		for d := 0; d < rank; d++ {
			dstI += (outer[d] - dstBox.Origin[d]) * dstStrides[d]
			srcI += (outer[d] - srcBox.Origin[d]) * srcStrides[d]
		}
		copy(dst[dstI:dstI+runBytes], src[srcI:srcI+runBytes])

		d := rank - 2
		for ; d >= 0; d-- {
			outer[d]++
			if outer[d] < region.Origin[d]+region.Shape[d] {
				break
			}
			outer[d] = region.Origin[d]
		}
		if d < 0 {
			return
		}
	}
}

// strides returns the byte stride of each dimension of a C-order array.
func strides(shape []int64, bytesPerElement int64) []int64 {
	s := make([]int64, len(shape))
	stride := bytesPerElement
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
