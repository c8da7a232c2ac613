package bfio

import "fmt"

// Seq is an inclusive interval along one axis with a step.  A Seq that is not Valid
// marks an axis the caller does not address, e.g., depth for a 2d image.
type Seq struct {
	Start int64
	Stop  int64
	Step  int64
	Valid bool
}

// NewSeq returns a valid Seq.  Start must not exceed stop and step must be positive.
func NewSeq(start, stop, step int64) (Seq, error) {
	if start < 0 {
		return Seq{}, fmt.Errorf("sequence start %d must not be negative", start)
	}
	if start > stop {
		return Seq{}, fmt.Errorf("sequence start %d exceeds stop %d", start, stop)
	}
	if step < 1 {
		return Seq{}, fmt.Errorf("sequence step %d must be at least 1", step)
	}
	return Seq{Start: start, Stop: stop, Step: step, Valid: true}, nil
}

// MustSeq is like NewSeq but panics on a bad interval.  Use for literals.
func MustSeq(start, stop, step int64) Seq {
	s, err := NewSeq(start, stop, step)
	if err != nil {
		panic(err)
	}
	return s
}

// Span returns the single index Seq [i, i].
func Span(i int64) Seq {
	return Seq{Start: i, Stop: i, Step: 1, Valid: true}
}

// InvalidSeq returns the marker for an unaddressed axis.
func InvalidSeq() Seq {
	return Seq{Step: 1}
}

// Extent returns the number of indices covered, Stop-Start+1.
func (s Seq) Extent() int64 {
	if !s.Valid {
		return 1
	}
	return s.Stop - s.Start + 1
}

// OrZero returns the Seq if valid, otherwise the default single index 0.
func (s Seq) OrZero() Seq {
	if s.Valid {
		return s
	}
	return Span(0)
}

func (s Seq) String() string {
	if !s.Valid {
		return "[-]"
	}
	return fmt.Sprintf("[%d:%d:%d]", s.Start, s.Stop, s.Step)
}
