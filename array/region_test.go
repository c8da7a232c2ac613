package array

import (
	"bytes"
	"errors"
	"testing"

	"github.com/PolusAI/bfiocpp/bfio"
)

func TestRegionFullAxes(t *testing.T) {
	r, err := NewRegion(bfio.FullAxes, []int64{2, 3, 4, 10, 12},
		bfio.MustSeq(2, 5, 1), bfio.MustSeq(0, 11, 1), bfio.InvalidSeq(), bfio.Span(2), bfio.MustSeq(0, 1, 1))
	if err != nil {
		t.Fatalf("region: %v\n", err)
	}
	if r.Box.String() != (Box{Origin: []int64{0, 2, 0, 2, 0}, Shape: []int64{2, 1, 1, 4, 12}}).String() {
		t.Fatalf("unexpected box %s\n", r.Box)
	}
	if r.Shape != [5]int64{2, 1, 1, 4, 12} || r.NumElements() != 96 {
		t.Fatalf("unexpected logical shape %v\n", r.Shape)
	}
}

func TestRegionAbsentAxes(t *testing.T) {
	axes, err := bfio.ResolveAxes(3, "CYX")
	if err != nil {
		t.Fatalf("axes: %v\n", err)
	}
	// the array has no Z or T, so layers and tsteps may only be unset or [0, 0]
	for _, absent := range []bfio.Seq{bfio.InvalidSeq(), bfio.Span(0), bfio.MustSeq(0, 0, 1)} {
		r, err := NewRegion(axes, []int64{3, 8, 8},
			bfio.MustSeq(0, 7, 1), bfio.MustSeq(4, 7, 1), absent, bfio.MustSeq(1, 2, 1), absent)
		if err != nil {
			t.Fatalf("region with absent range %s: %v\n", absent, err)
		}
		if r.Shape != [5]int64{1, 2, 1, 8, 4} {
			t.Fatalf("unexpected logical shape %v\n", r.Shape)
		}
		if r.Box.Origin[0] != 1 || r.Box.Shape[0] != 2 {
			t.Fatalf("unexpected channel selection %s\n", r.Box)
		}
	}

	tests := []struct {
		layers, tsteps bfio.Seq
		axis           string
	}{
		{bfio.MustSeq(5, 9, 1), bfio.InvalidSeq(), "Z"},
		{bfio.InvalidSeq(), bfio.MustSeq(0, 3, 1), "T"},
		{bfio.Span(1), bfio.Span(0), "Z"},
		{bfio.Span(0), bfio.MustSeq(1, 1, 1), "T"},
	}
	for _, tc := range tests {
		_, err := NewRegion(axes, []int64{3, 8, 8},
			bfio.MustSeq(0, 7, 1), bfio.MustSeq(0, 7, 1), tc.layers, bfio.InvalidSeq(), tc.tsteps)
		var oob *bfio.OutOfBoundsError
		if !errors.As(err, &oob) || oob.Axis != tc.axis || oob.Size != 1 {
			t.Fatalf("layers %s tsteps %s: expected out of bounds on %s, got %v\n", tc.layers, tc.tsteps, tc.axis, err)
		}
	}

	// ZYX array: channels and tsteps beyond index 0 are rejected
	zyx, err := bfio.ResolveAxes(3, "ZYX")
	if err != nil {
		t.Fatalf("axes: %v\n", err)
	}
	_, err = NewRegion(zyx, []int64{3, 8, 8},
		bfio.MustSeq(0, 7, 1), bfio.MustSeq(0, 7, 1), bfio.InvalidSeq(), bfio.MustSeq(0, 1, 1), bfio.MustSeq(0, 3, 1))
	var oob *bfio.OutOfBoundsError
	if !errors.As(err, &oob) || oob.Axis != "T" {
		t.Fatalf("expected out of bounds on T, got %v\n", err)
	}
}

func TestRegionBounds(t *testing.T) {
	_, err := NewRegion(bfio.FullAxes, []int64{1, 1, 1, 10, 10},
		bfio.MustSeq(0, 10, 1), bfio.MustSeq(0, 9, 1), bfio.InvalidSeq(), bfio.InvalidSeq(), bfio.InvalidSeq())
	var oob *bfio.OutOfBoundsError
	if !errors.As(err, &oob) || oob.Axis != "Y" || oob.Size != 10 {
		t.Fatalf("expected out of bounds on Y, got %v\n", err)
	}
	_, err = NewRegion(bfio.FullAxes, []int64{1, 2, 1, 10, 10},
		bfio.MustSeq(0, 9, 1), bfio.MustSeq(0, 9, 1), bfio.InvalidSeq(), bfio.Span(2), bfio.InvalidSeq())
	if !errors.As(err, &oob) || oob.Axis != "C" {
		t.Fatalf("expected out of bounds on C, got %v\n", err)
	}
}

func TestRegionReorder(t *testing.T) {
	// physical Z before C: planes are stored (z0 c0) (z0 c1) (z1 c0) (z1 c1)
	axes, err := bfio.ResolveAxes(4, "ZCYX")
	if err != nil {
		t.Fatalf("axes: %v\n", err)
	}
	r, err := NewRegion(axes, []int64{2, 2, 1, 2},
		bfio.Span(0), bfio.MustSeq(0, 1, 1), bfio.MustSeq(0, 1, 1), bfio.MustSeq(0, 1, 1), bfio.InvalidSeq())
	if err != nil {
		t.Fatalf("region: %v\n", err)
	}
	physical := []byte{0, 1, 10, 11, 2, 3, 12, 13} // z0c0 z0c1 z1c0 z1c1, two elements each
	logical := r.ToLogical(physical, 1)
	expected := []byte{0, 1, 2, 3, 10, 11, 12, 13} // c0z0 c0z1 c1z0 c1z1
	if !bytes.Equal(logical, expected) {
		t.Fatalf("expected %v, got %v\n", expected, logical)
	}
	if back := r.ToPhysical(logical, 1); !bytes.Equal(back, physical) {
		t.Fatalf("round trip gave %v\n", back)
	}

	inOrder, _ := NewRegion(bfio.FullAxes, []int64{1, 1, 1, 2, 2},
		bfio.MustSeq(0, 1, 1), bfio.MustSeq(0, 1, 1), bfio.InvalidSeq(), bfio.InvalidSeq(), bfio.InvalidSeq())
	data := []byte{1, 2, 3, 4}
	if out := inOrder.ToLogical(data, 1); &out[0] != &data[0] {
		t.Fatalf("in-order region should not copy\n")
	}
}
