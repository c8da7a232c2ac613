package bfio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Element is the set of Go types backing the supported element kinds.
type Element interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// ImageData is a contiguous row-major [T,C,Z,Y,X] region.  Values holds a slice whose
// element type matches Kind, e.g., []uint16 for Uint16.
type ImageData struct {
	Kind   ElementKind
	Shape  [5]int64
	Values interface{}
}

// NumElements returns the product of the shape.
func (img *ImageData) NumElements() int64 {
	n := int64(1)
	for _, d := range img.Shape {
		n *= d
	}
	return n
}

// Len returns the number of elements held in Values.
func (img *ImageData) Len() int {
	switch v := img.Values.(type) {
	case []uint8:
		return len(v)
	case []uint16:
		return len(v)
	case []uint32:
		return len(v)
	case []uint64:
		return len(v)
	case []int8:
		return len(v)
	case []int16:
		return len(v)
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	}
	return 0
}

// Bytes returns the little-endian encoding of the values.
func (img *ImageData) Bytes() ([]byte, error) {
	return EncodeElements(img.Kind, img.Values)
}

// Values returns the typed values of an ImageData, failing if T does not match its kind.
func Values[T Element](img *ImageData) ([]T, error) {
	v, ok := img.Values.([]T)
	if !ok {
		return nil, fmt.Errorf("image data holds %s, not %T", img.Kind, v)
	}
	return v, nil
}

// NewImageData wraps a typed slice, inferring the kind.
func NewImageData[T Element](shape [5]int64, values []T) (*ImageData, error) {
	kind, err := KindOf(values)
	if err != nil {
		return nil, err
	}
	img := &ImageData{Kind: kind, Shape: shape, Values: values}
	if int64(len(values)) != img.NumElements() {
		return nil, &ShapeMismatchError{
			Expected: img.NumElements() * int64(kind.Bytes()),
			Got:      int64(len(values) * kind.Bytes()),
			Shape:    shape[:],
		}
	}
	return img, nil
}

// KindOf returns the element kind of a typed slice.
func KindOf(values interface{}) (ElementKind, error) {
	switch values.(type) {
	case []uint8:
		return Uint8, nil
	case []uint16:
		return Uint16, nil
	case []uint32:
		return Uint32, nil
	case []uint64:
		return Uint64, nil
	case []int8:
		return Int8, nil
	case []int16:
		return Int16, nil
	case []int32:
		return Int32, nil
	case []int64:
		return Int64, nil
	case []float32:
		return Float32, nil
	case []float64:
		return Float64, nil
	}
	return 0, &UnsupportedTypeError{Name: fmt.Sprintf("%T", values)}
}

func decode[T Element](raw []byte, elemSize int) ([]T, error) {
	if len(raw)%elemSize != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of element size %d", len(raw), elemSize)
	}
	out := make([]T, len(raw)/elemSize)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

func encode[T Element](values []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeElements converts little-endian bytes into a typed slice for the kind.
func DecodeElements(kind ElementKind, raw []byte) (interface{}, error) {
	n := kind.Bytes()
	switch kind {
	case Uint8:
		return decode[uint8](raw, n)
	case Uint16:
		return decode[uint16](raw, n)
	case Uint32:
		return decode[uint32](raw, n)
	case Uint64:
		return decode[uint64](raw, n)
	case Int8:
		return decode[int8](raw, n)
	case Int16:
		return decode[int16](raw, n)
	case Int32:
		return decode[int32](raw, n)
	case Int64:
		return decode[int64](raw, n)
	case Float32:
		return decode[float32](raw, n)
	case Float64:
		return decode[float64](raw, n)
	}
	return nil, &UnsupportedTypeError{Name: kind.String()}
}

// EncodeElements converts a typed slice of the given kind into little-endian bytes.
func EncodeElements(kind ElementKind, values interface{}) ([]byte, error) {
	got, err := KindOf(values)
	if err != nil {
		return nil, err
	}
	if got != kind {
		return nil, &UnsupportedTypeError{Name: fmt.Sprintf("%s values for %s data", got, kind)}
	}
	switch v := values.(type) {
	case []uint8:
		return encode(v)
	case []uint16:
		return encode(v)
	case []uint32:
		return encode(v)
	case []uint64:
		return encode(v)
	case []int8:
		return encode(v)
	case []int16:
		return encode(v)
	case []int32:
		return encode(v)
	case []int64:
		return encode(v)
	case []float32:
		return encode(v)
	case []float64:
		return encode(v)
	}
	return nil, &UnsupportedTypeError{Name: kind.String()}
}

// NewImageDataFromBytes decodes little-endian bytes into an ImageData of the given shape.
func NewImageDataFromBytes(kind ElementKind, shape [5]int64, raw []byte) (*ImageData, error) {
	img := &ImageData{Kind: kind, Shape: shape}
	expected := img.NumElements() * int64(kind.Bytes())
	if int64(len(raw)) != expected {
		return nil, &ShapeMismatchError{Expected: expected, Got: int64(len(raw)), Shape: shape[:]}
	}
	values, err := DecodeElements(kind, raw)
	if err != nil {
		return nil, err
	}
	img.Values = values
	return img, nil
}
