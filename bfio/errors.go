package bfio

import (
	"fmt"
	"strings"
)

// OpenError is returned when an image cannot be opened: a missing or unreadable source,
// unparseable metadata, or an undeterminable shape.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("unable to open %q: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// InvalidMetadataError is returned when embedded metadata is not well-formed.
type InvalidMetadataError struct {
	Key string
	Err error
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("invalid metadata at %q: %v", e.Key, e.Err)
}

func (e *InvalidMetadataError) Unwrap() error { return e.Err }

// InconsistentMetadataError is returned when a (z,c,t) triplet within the declared shape
// has no page in the container's lookup table.
type InconsistentMetadataError struct {
	Z, C, T int64
	Reason  string
}

func (e *InconsistentMetadataError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("inconsistent metadata: %s", e.Reason)
	}
	return fmt.Sprintf("inconsistent metadata: no page for (z=%d, c=%d, t=%d)", e.Z, e.C, e.T)
}

// MetadataConflictError is returned when metadata changed incompatibly after open.
type MetadataConflictError struct {
	Existing string
	New      string
}

func (e *MetadataConflictError) Error() string {
	return fmt.Sprintf("metadata conflict: existing %s vs new %s", e.Existing, e.New)
}

// AxisResolutionError is returned when an axis label string cannot be resolved.
type AxisResolutionError struct {
	Labels string
	Rank   int
	Reason string
}

func (e *AxisResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve axes %q for rank %d: %s", e.Labels, e.Rank, e.Reason)
}

// UnsupportedTypeError is returned for element type names or codes outside the supported set.
type UnsupportedTypeError struct {
	Name string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported element type %q", e.Name)
}

// OutOfBoundsError is returned when a requested region exceeds the image domain.
type OutOfBoundsError struct {
	Axis  string
	Start int64
	Stop  int64
	Size  int64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s range [%d, %d] out of bounds for extent %d", e.Axis, e.Start, e.Stop, e.Size)
}

// ShapeMismatchError is returned when a buffer length does not match the requested region.
type ShapeMismatchError struct {
	Expected int64
	Got      int64
	Shape    []int64
}

func (e *ShapeMismatchError) Error() string {
	dims := make([]string, len(e.Shape))
	for i, d := range e.Shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("buffer has %d bytes, region %s needs %d", e.Got, strings.Join(dims, "x"), e.Expected)
}

// AlreadyExistsError is returned when creating at a non-empty target without overwrite.
type AlreadyExistsError struct {
	Path string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%q already exists; request overwrite to replace it", e.Path)
}
