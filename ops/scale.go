package ops

import (
	"fmt"
	"hash"

	"github.com/chewxy/hm"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Scale multiplies the tensor x by the scalar s.
//
// The gradient with respect to x is grad*s. The gradient with respect to s is
// the mean (not the sum) of grad*x, so s behaves as a single global correction
// factor.
func Scale(x, s *G.Node) (*G.Node, error) {
	if !s.IsScalar() {
		return nil, errors.Errorf("scale: expected a scalar scale, got shape %v", s.Shape())
	}
	if x.Dims() == 0 {
		return nil, errors.Errorf("scale: expected a tensor input, got a scalar")
	}
	retVal, err := G.ApplyOp(scaleOp{dims: x.Dims()}, x, s)
	return retVal, errors.WithStack(err)
}

type scaleOp struct {
	dims int
}

func (op scaleOp) Arity() int { return 2 }

func (op scaleOp) Type() hm.Type {
	a := hm.TypeVariable('a')
	t := G.TensorType{Dims: op.dims, Of: a}
	return hm.NewFnType(t, a, t)
}

func (op scaleOp) InferShape(inputs ...G.DimSizer) (tensor.Shape, error) {
	return sameShape(op, inputs...)
}

func (op scaleOp) Do(inputs ...G.Value) (G.Value, error) {
	if err := checkArity(op, len(inputs)); err != nil {
		return nil, err
	}
	x, ok := inputs[0].(tensor.Tensor)
	if !ok {
		return nil, errors.Errorf("scale: expected a tensor, got %T", inputs[0])
	}

	retVal := x.Clone().(tensor.Tensor)
	switch data := retVal.Data().(type) {
	case []float32:
		s, ok := inputs[1].Data().(float32)
		if !ok {
			return nil, errors.Errorf("scale: expected a float32 scale, got %T", inputs[1].Data())
		}
		vecf32.Scale(data, s)
	case []float64:
		s, ok := inputs[1].Data().(float64)
		if !ok {
			return nil, errors.Errorf("scale: expected a float64 scale, got %T", inputs[1].Data())
		}
		for i := range data {
			data[i] *= s
		}
	default:
		return nil, errors.Errorf("scale: unsupported dtype %v", retVal.Dtype())
	}
	return retVal, nil
}

func (op scaleOp) ReturnsPtr() bool      { return false }
func (op scaleOp) CallsExtern() bool     { return false }
func (op scaleOp) OverwritesInput() int  { return -1 }
func (op scaleOp) WriteHash(h hash.Hash) { fmt.Fprint(h, op.String()) }
func (op scaleOp) Hashcode() uint32      { return simpleHash(op) }
func (op scaleOp) String() string        { return fmt.Sprintf("Scale{%d}", op.dims) }

func (op scaleOp) DiffWRT(inputs int) []bool { return []bool{true, true} }

func (op scaleOp) SymDiff(inputs G.Nodes, output, grad *G.Node) (G.Nodes, error) {
	if err := checkArity(op, len(inputs)); err != nil {
		return nil, err
	}
	x, s := inputs[0], inputs[1]

	dx, err := G.ApplyOp(op, grad, s)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	gx, err := G.HadamardProd(grad, x)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ds, err := G.Mean(gx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return G.Nodes{dx, ds}, nil
}
