package bnn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// slicer slices until the first failure, then does nothing.
type slicer struct {
	err error
}

// rows returns rows [start, end) of a as a tensor usable as a graph input.
func (s *slicer) rows(a *tensor.Dense, start, end int) *tensor.Dense {
	if s.err != nil {
		return nil
	}
	v, err := a.Slice(tensor.S(start, end))
	if err != nil {
		s.err = errors.Wrapf(err, "slicing rows %d:%d of %v", start, end, a.Shape())
		return nil
	}
	return v.Materialize().(*tensor.Dense)
}
