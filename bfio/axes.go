package bfio

import (
	"fmt"
	"strings"
)

// AxisIndex is the physical rank position of an optional logical axis.
type AxisIndex struct {
	Index   int
	Present bool
}

// At returns a present AxisIndex at rank i.
func At(i int) AxisIndex {
	return AxisIndex{Index: i, Present: true}
}

// None is the AxisIndex of an absent axis.
var None = AxisIndex{}

func (a AxisIndex) String() string {
	if !a.Present {
		return "None"
	}
	return fmt.Sprintf("%d", a.Index)
}

// AxisMap records which physical rank holds each logical axis.  Y and X are always
// present and always the last two ranks.
type AxisMap struct {
	T, C, Z AxisIndex
	Y, X    int
	Rank    int

	// Speculative is true if the map was guessed from the rank alone.
	Speculative bool
}

// FullAxes is the map for rank 5 TCZYX data, the layout of every tiled container.
var FullAxes = AxisMap{T: At(0), C: At(1), Z: At(2), Y: 3, X: 4, Rank: 5}

// Labels returns the resolved order as a label string, e.g., "CZYX".
func (m AxisMap) Labels() string {
	b := make([]byte, m.Rank)
	for i := range b {
		b[i] = '?'
	}
	set := func(a AxisIndex, c byte) {
		if a.Present && a.Index < m.Rank {
			b[a.Index] = c
		}
	}
	set(m.T, 'T')
	set(m.C, 'C')
	set(m.Z, 'Z')
	if m.Rank >= 2 {
		b[m.Y] = 'Y'
		b[m.X] = 'X'
	}
	return string(b)
}

func (m AxisMap) String() string {
	s := m.Labels()
	if m.Speculative {
		s += " (speculative)"
	}
	return s
}

// ResolveAxes determines the axis map for an array of the given rank.  If labels has
// one letter per rank, it is used directly.  Otherwise a fixed default is assumed from
// the rank alone: 5 is TCZYX, 4 is CZYX, 3 is ZYX, and 2 is YX.  The default is a guess
// and is not validated against the data.
func ResolveAxes(rank int, labels string) (AxisMap, error) {
	labels = strings.ToUpper(strings.TrimSpace(labels))
	if len(labels) > 5 {
		return AxisMap{}, &AxisResolutionError{labels, rank, "more than 5 axes"}
	}
	seen := make(map[rune]bool, len(labels))
	for _, r := range labels {
		if !strings.ContainsRune("TCZYX", r) {
			return AxisMap{}, &AxisResolutionError{labels, rank, fmt.Sprintf("unknown axis %q", r)}
		}
		if seen[r] {
			return AxisMap{}, &AxisResolutionError{labels, rank, fmt.Sprintf("axis %q repeated", r)}
		}
		seen[r] = true
	}
	if rank < 2 || rank > 5 {
		return AxisMap{}, &AxisResolutionError{labels, rank, "rank must be between 2 and 5"}
	}

	m := AxisMap{Rank: rank, Y: rank - 2, X: rank - 1}
	if len(labels) == rank {
		if labels[rank-2:] != "YX" {
			return AxisMap{}, &AxisResolutionError{labels, rank, "Y and X must be the last two axes"}
		}
		for i, r := range labels[:rank-2] {
			switch r {
			case 'T':
				m.T = At(i)
			case 'C':
				m.C = At(i)
			case 'Z':
				m.Z = At(i)
			default:
				return AxisMap{}, &AxisResolutionError{labels, rank, "Y and X must be the last two axes"}
			}
		}
		return m, nil
	}

	m.Speculative = true
	switch rank {
	case 5:
		m.T, m.C, m.Z = At(0), At(1), At(2)
	case 4:
		m.C, m.Z = At(0), At(1)
	case 3:
		m.Z = At(0)
	}
	return m, nil
}

// Extents returns the T, C, Z, Y, X logical shape given the physical shape.
// Absent axes have extent 1.
func (m AxisMap) Extents(physical []int64) (shape [5]int64, err error) {
	if len(physical) != m.Rank {
		err = fmt.Errorf("physical shape %v does not have rank %d", physical, m.Rank)
		return
	}
	get := func(a AxisIndex) int64 {
		if a.Present {
			return physical[a.Index]
		}
		return 1
	}
	shape = [5]int64{get(m.T), get(m.C), get(m.Z), physical[m.Y], physical[m.X]}
	return
}
