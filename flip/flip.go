// Package flip implements sign flips over a rectangular sub-block of a weight
// matrix, with undo.
//
// A flip is described by a set of source (input, column) indices and a set of
// sink (output, row) indices into an output × input matrix. Flipping negates
// every entry in the sink-rows × source-columns block.
package flip

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Flipper is a reversible perturbation of a single parameter.
type Flipper interface {
	// Name is the name of the flipped parameter.
	Name() string

	// Flip applies the perturbation in place.
	Flip()

	// Restore undoes the perturbation.
	Restore() error

	// Len is the number of entries touched by Flip.
	Len() int
}

// Plain recomputes its mask on every Flip, and restores by flipping again.
//
// Restore is only exact if nothing else wrote to the flipped block between
// Flip and Restore. Use Cached when that cannot be guaranteed.
type Plain struct {
	name         string
	param        *tensor.Dense
	source, sink []int
	rows, cols   int
}

// NewPlain creates a flip of the sink × source block of param. The parameter
// must be a float32 or float64 matrix.
func NewPlain(name string, param *tensor.Dense, source, sink []int) (*Plain, error) {
	rows, cols, err := Dims(param)
	if err != nil {
		return nil, errors.Wrapf(err, "flip %q", name)
	}
	switch param.Dtype() {
	case tensor.Float32, tensor.Float64:
	default:
		return nil, errors.Errorf("flip %q: unsupported dtype %v", name, param.Dtype())
	}
	if _, err := Mask(rows, cols, source, sink); err != nil {
		return nil, errors.Wrapf(err, "flip %q", name)
	}
	return &Plain{
		name:   name,
		param:  param,
		source: source,
		sink:   sink,
		rows:   rows,
		cols:   cols,
	}, nil
}

func (f *Plain) Name() string { return f.name }

// Source returns the input (column) indices.
func (f *Plain) Source() []int { return f.source }

// Sink returns the output (row) indices.
func (f *Plain) Sink() []int { return f.sink }

func (f *Plain) Len() int { return len(f.source) * len(f.sink) }

func (f *Plain) Flip() {
	// indices were validated on construction
	mask, _ := Mask(f.rows, f.cols, f.source, f.sink)
	negate(f.param, mask)
}

// Restore flips again. Negation is its own inverse.
func (f *Plain) Restore() error {
	f.Flip()
	return nil
}

// Cached computes its mask once and keeps a full copy of the parameter taken
// at construction. Restore overwrites the whole parameter with that copy, so
// it is exact regardless of intervening writes, at the cost of memory the size
// of the parameter.
type Cached struct {
	*Plain
	mask   []bool
	backup *tensor.Dense
}

// NewCached creates a cached flip. The backup is taken now, not at Flip.
func NewCached(name string, param *tensor.Dense, source, sink []int) (*Cached, error) {
	p, err := NewPlain(name, param, source, sink)
	if err != nil {
		return nil, err
	}
	mask, err := Mask(p.rows, p.cols, source, sink)
	if err != nil {
		return nil, err
	}
	return &Cached{
		Plain:  p,
		mask:   mask,
		backup: param.Clone().(*tensor.Dense),
	}, nil
}

func (f *Cached) Flip() { negate(f.param, f.mask) }

// Restore overwrites the parameter with the backup taken at construction.
func (f *Cached) Restore() error {
	if f.backup == nil {
		return errors.Errorf("flip %q: restore after release", f.name)
	}
	return errors.WithStack(f.backup.CopyTo(f.param))
}

// Release hands the backup back to the tensor pool. The flip cannot be
// restored afterwards.
func (f *Cached) Release() {
	if f.backup != nil {
		tensor.ReturnTensor(f.backup)
		f.backup = nil
	}
}

// Dims returns the rows and columns of a matrix, or an error for any other
// rank.
func Dims(param *tensor.Dense) (rows, cols int, err error) {
	shape := param.Shape()
	if shape.Dims() != 2 {
		return 0, 0, errors.Errorf("only matrices can be flipped, got shape %v", shape)
	}
	return shape[0], shape[1], nil
}

func negate(t *tensor.Dense, mask []bool) {
	switch data := t.Data().(type) {
	case []float32:
		for i, m := range mask {
			if m {
				data[i] = -data[i]
			}
		}
	case []float64:
		for i, m := range mask {
			if m {
				data[i] = -data[i]
			}
		}
	}
}
