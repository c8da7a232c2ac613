/*
   This file handles the closed set of pixel element kinds, their numeric codes used
   at the binding boundary, and the type tokens of the chunked array format.
*/

package bfio

import (
	"fmt"
	"strings"
)

// ElementKind identifies one of the supported numeric pixel types.
type ElementKind uint16

// The numeric value of each kind is its binding code.
const (
	Uint8   ElementKind = 1
	Uint16  ElementKind = 2
	Uint32  ElementKind = 4
	Uint64  ElementKind = 8
	Int8    ElementKind = 16
	Int16   ElementKind = 32
	Int32   ElementKind = 64
	Int64   ElementKind = 128
	Float32 ElementKind = 256
	Float64 ElementKind = 512
)

type kindInfo struct {
	name  string
	bytes int
	token string // zarr v2 base token without byte order
}

var kinds = map[ElementKind]kindInfo{
	Uint8:   {"uint8", 1, "u1"},
	Uint16:  {"uint16", 2, "u2"},
	Uint32:  {"uint32", 4, "u4"},
	Uint64:  {"uint64", 8, "u8"},
	Int8:    {"int8", 1, "i1"},
	Int16:   {"int16", 2, "i2"},
	Int32:   {"int32", 4, "i4"},
	Int64:   {"int64", 8, "i8"},
	Float32: {"float32", 4, "f4"},
	Float64: {"float64", 8, "f8"},
}

// AllKinds returns every supported kind in code order.
func AllKinds() []ElementKind {
	return []ElementKind{Uint8, Uint16, Uint32, Uint64, Int8, Int16, Int32, Int64, Float32, Float64}
}

// Valid returns true if the kind is one of the supported kinds.
func (k ElementKind) Valid() bool {
	_, found := kinds[k]
	return found
}

// Code returns the numeric code of the kind.
func (k ElementKind) Code() uint16 {
	return uint16(k)
}

func (k ElementKind) String() string {
	info, found := kinds[k]
	if !found {
		return fmt.Sprintf("ElementKind(%d)", uint16(k))
	}
	return info.name
}

// Bytes returns the number of bytes per element.
func (k ElementKind) Bytes() int {
	return kinds[k].bytes
}

// IsFloat returns true for the floating point kinds.
func (k ElementKind) IsFloat() bool {
	return k == Float32 || k == Float64
}

// IsSigned returns true for kinds that can hold negative values.
func (k ElementKind) IsSigned() bool {
	switch k {
	case Int8, Int16, Int32, Int64, Float32, Float64:
		return true
	}
	return false
}

// ZarrToken returns the little-endian zarr v2 dtype token, e.g., "<u2".
// Single byte kinds use the "|" byte order marker.
func (k ElementKind) ZarrToken() string {
	info, found := kinds[k]
	if !found {
		return ""
	}
	if info.bytes == 1 {
		return "|" + info.token
	}
	return "<" + info.token
}

// KindByName returns the kind for a type name like "uint16".
func KindByName(name string) (ElementKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "double" {
		return Float64, nil
	}
	if n == "float" {
		return Float32, nil
	}
	for k, info := range kinds {
		if info.name == n {
			return k, nil
		}
	}
	return 0, &UnsupportedTypeError{Name: name}
}

// KindByCode returns the kind for a binding code.
func KindByCode(code uint16) (ElementKind, error) {
	k := ElementKind(code)
	if !k.Valid() {
		return 0, &UnsupportedTypeError{Name: fmt.Sprintf("code %d", code)}
	}
	return k, nil
}

// KindByZarrToken parses a zarr v2 dtype token like "<u2", ">f4" or "|u1" and
// returns the kind plus whether stored values are big-endian.
func KindByZarrToken(token string) (kind ElementKind, bigEndian bool, err error) {
	if len(token) != 3 {
		err = &UnsupportedTypeError{Name: token}
		return
	}
	switch token[0] {
	case '<', '|':
	case '>':
		bigEndian = true
	default:
		err = &UnsupportedTypeError{Name: token}
		return
	}
	for k, info := range kinds {
		if info.token == token[1:] {
			kind = k
			if info.bytes == 1 {
				bigEndian = false
			}
			return
		}
	}
	err = &UnsupportedTypeError{Name: token}
	return
}

// ParseKind accepts either a type name or a zarr token.
func ParseKind(s string) (ElementKind, error) {
	if k, err := KindByName(s); err == nil {
		return k, nil
	}
	k, _, err := KindByZarrToken(s)
	if err != nil {
		return 0, &UnsupportedTypeError{Name: s}
	}
	return k, nil
}
