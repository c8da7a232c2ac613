package array

import (
	"fmt"

	"github.com/PolusAI/bfiocpp/bfio"
)

// Region is a logical [T, C, Z, Y, X] selection mapped onto the physical dimensions
// of an array through an axis map.
type Region struct {
	// Box is the physical selection.
	Box Box

	// Shape is the logical extent, 1 for axes the array lacks.
	Shape [5]int64

	axes bfio.AxisMap
}

// NewRegion maps inclusive logical ranges onto an array with the given physical
// shape.  An invalid range selects index 0 of an axis.  An axis the array lacks has
// extent 1, so the only valid range for it is [0, 0].
func NewRegion(axes bfio.AxisMap, physical []int64, rows, cols, layers, channels, tsteps bfio.Seq) (Region, error) {
	if len(physical) != axes.Rank {
		return Region{}, fmt.Errorf("array rank %d does not match axes %s", len(physical), axes)
	}
	r := Region{
		Box:  Box{Origin: make([]int64, axes.Rank), Shape: make([]int64, axes.Rank)},
		axes: axes,
	}
	set := func(name string, dim int, s bfio.Seq) error {
		s = s.OrZero()
		size := physical[dim]
		if s.Start < 0 || s.Stop < s.Start || s.Stop >= size {
			return &bfio.OutOfBoundsError{Axis: name, Start: s.Start, Stop: s.Stop, Size: size}
		}
		r.Box.Origin[dim] = s.Start
		r.Box.Shape[dim] = s.Extent()
		return nil
	}
	optional := []struct {
		name  string
		index bfio.AxisIndex
		seq   bfio.Seq
	}{
		{"T", axes.T, tsteps},
		{"C", axes.C, channels},
		{"Z", axes.Z, layers},
	}
	for i, o := range optional {
		r.Shape[i] = 1
		if !o.index.Present {
			if s := o.seq.OrZero(); s.Start != 0 || s.Stop != 0 {
				return Region{}, &bfio.OutOfBoundsError{Axis: o.name, Start: s.Start, Stop: s.Stop, Size: 1}
			}
			continue
		}
		if err := set(o.name, o.index.Index, o.seq); err != nil {
			return Region{}, err
		}
		r.Shape[i] = r.Box.Shape[o.index.Index]
	}
	if err := set("Y", axes.Y, rows); err != nil {
		return Region{}, err
	}
	if err := set("X", axes.X, cols); err != nil {
		return Region{}, err
	}
	r.Shape[3] = r.Box.Shape[axes.Y]
	r.Shape[4] = r.Box.Shape[axes.X]
	return r, nil
}

// NumElements returns the number of elements selected.
func (r Region) NumElements() int64 {
	return r.Shape[0] * r.Shape[1] * r.Shape[2] * r.Shape[3] * r.Shape[4]
}

// inOrder is true when present optional axes appear in T, C, Z order, so logical
// and physical element orders agree.
func (r Region) inOrder() bool {
	last := -1
	for _, a := range []bfio.AxisIndex{r.axes.T, r.axes.C, r.axes.Z} {
		if !a.Present {
			continue
		}
		if a.Index < last {
			return false
		}
		last = a.Index
	}
	return true
}

// planeOffsets returns, in logical t, c, z order, the byte offset of each YX plane
// within the physical selection.
func (r Region) planeOffsets(bytesPerElement int64) []int64 {
	st := strides(r.Box.Shape, bytesPerElement)
	stride := func(a bfio.AxisIndex) int64 {
		if !a.Present {
			return 0
		}
		return st[a.Index]
	}
	ts, cs, zs := stride(r.axes.T), stride(r.axes.C), stride(r.axes.Z)
	offsets := make([]int64, 0, r.Shape[0]*r.Shape[1]*r.Shape[2])
	for t := int64(0); t < r.Shape[0]; t++ {
		for c := int64(0); c < r.Shape[1]; c++ {
			for z := int64(0); z < r.Shape[2]; z++ {
				offsets = append(offsets, t*ts+c*cs+z*zs)
			}
		}
	}
	return offsets
}

// ToLogical reorders physically ordered elements into [T, C, Z, Y, X] order.
func (r Region) ToLogical(physical []byte, bytesPerElement int64) []byte {
	if r.inOrder() {
		return physical
	}
	plane := r.Shape[3] * r.Shape[4] * bytesPerElement
	out := make([]byte, len(physical))
	for i, off := range r.planeOffsets(bytesPerElement) {
		copy(out[int64(i)*plane:int64(i+1)*plane], physical[off:off+plane])
	}
	return out
}

// ToPhysical reorders [T, C, Z, Y, X] ordered elements into physical order.
func (r Region) ToPhysical(logical []byte, bytesPerElement int64) []byte {
	if r.inOrder() {
		return logical
	}
	plane := r.Shape[3] * r.Shape[4] * bytesPerElement
	out := make([]byte, len(logical))
	for i, off := range r.planeOffsets(bytesPerElement) {
		copy(out[off:off+plane], logical[int64(i)*plane:int64(i+1)*plane])
	}
	return out
}
