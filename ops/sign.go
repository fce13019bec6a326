// Package ops provides the custom gradient rules used by binarized layers.
//
// Both ops plug into gorgonia's symbolic differentiation: their forward pass is
// a plain kernel and their backward pass is expressed as more graph nodes in
// SymDiff.
package ops

import (
	"fmt"
	"hash"
	"hash/fnv"
	"math"

	"github.com/chewxy/hm"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Sign projects x onto {-1, +1} elementwise. Zero maps to +1.
//
// The gradient is a straight-through estimator clipped to the unit interval:
// it passes unchanged where |x| < 1 and is zero elsewhere.
func Sign(x *G.Node) (*G.Node, error) {
	retVal, err := G.ApplyOp(signOp{}, x)
	return retVal, errors.WithStack(err)
}

// SignInPlace overwrites every element of t with its sign, using the same
// tie-break as the Sign op.
func SignInPlace(t tensor.Tensor) error {
	switch data := t.Data().(type) {
	case []float32:
		for i, v := range data {
			data[i] = sign32(v)
		}
	case []float64:
		for i, v := range data {
			data[i] = sign64(v)
		}
	default:
		return errors.Errorf("sign: unsupported dtype %v", t.Dtype())
	}
	return nil
}

// SignValue is the scalar version of the sign projection.
func SignValue(v float64) float64 { return sign64(v) }

func sign32(v float32) float32 {
	switch {
	case math32.IsNaN(v):
		return v
	case v < 0:
		return -1
	}
	return 1
}

func sign64(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return v
	case v < 0:
		return -1
	}
	return 1
}

type signOp struct{}

func (op signOp) Arity() int { return 1 }

func (op signOp) Type() hm.Type {
	a := hm.TypeVariable('a')
	return hm.NewFnType(a, a)
}

func (op signOp) InferShape(inputs ...G.DimSizer) (tensor.Shape, error) {
	return sameShape(op, inputs...)
}

func (op signOp) Do(inputs ...G.Value) (G.Value, error) {
	if err := checkArity(op, len(inputs)); err != nil {
		return nil, err
	}
	x, ok := inputs[0].(tensor.Tensor)
	if !ok {
		return nil, errors.Errorf("sign: expected a tensor, got %T", inputs[0])
	}
	retVal := x.Clone().(tensor.Tensor)
	if err := SignInPlace(retVal); err != nil {
		return nil, err
	}
	return retVal, nil
}

func (op signOp) ReturnsPtr() bool      { return false }
func (op signOp) CallsExtern() bool     { return false }
func (op signOp) OverwritesInput() int  { return -1 }
func (op signOp) WriteHash(h hash.Hash) { fmt.Fprint(h, op.String()) }
func (op signOp) Hashcode() uint32      { return simpleHash(op) }
func (op signOp) String() string        { return "Sign" }

func (op signOp) DiffWRT(inputs int) []bool { return []bool{true} }

func (op signOp) SymDiff(inputs G.Nodes, output, grad *G.Node) (G.Nodes, error) {
	if err := checkArity(op, len(inputs)); err != nil {
		return nil, err
	}
	dx, err := G.ApplyOp(signDiffOp{}, inputs[0], grad)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return G.Nodes{dx}, nil
}

// signDiffOp masks the incoming gradient (second input) with |x| < 1, where x
// is the first input.
type signDiffOp struct{}

func (op signDiffOp) Arity() int { return 2 }

func (op signDiffOp) Type() hm.Type {
	a := hm.TypeVariable('a')
	return hm.NewFnType(a, a, a)
}

func (op signDiffOp) InferShape(inputs ...G.DimSizer) (tensor.Shape, error) {
	return sameShape(op, inputs...)
}

func (op signDiffOp) Do(inputs ...G.Value) (G.Value, error) {
	if err := checkArity(op, len(inputs)); err != nil {
		return nil, err
	}
	x, ok := inputs[0].(tensor.Tensor)
	if !ok {
		return nil, errors.Errorf("sign diff: expected a tensor input, got %T", inputs[0])
	}
	grad, ok := inputs[1].(tensor.Tensor)
	if !ok {
		return nil, errors.Errorf("sign diff: expected a tensor gradient, got %T", inputs[1])
	}
	if !x.Shape().Eq(grad.Shape()) {
		return nil, errors.Errorf("sign diff: input shape %v does not match gradient shape %v", x.Shape(), grad.Shape())
	}

	retVal := grad.Clone().(tensor.Tensor)
	switch g := retVal.Data().(type) {
	case []float32:
		xs := x.Data().([]float32)
		for i := range g {
			if math32.Abs(xs[i]) >= 1 {
				g[i] = 0
			}
		}
	case []float64:
		xs := x.Data().([]float64)
		for i := range g {
			if math.Abs(xs[i]) >= 1 {
				g[i] = 0
			}
		}
	default:
		return nil, errors.Errorf("sign diff: unsupported dtype %v", retVal.Dtype())
	}
	return retVal, nil
}

func (op signDiffOp) ReturnsPtr() bool      { return false }
func (op signDiffOp) CallsExtern() bool     { return false }
func (op signDiffOp) OverwritesInput() int  { return -1 }
func (op signDiffOp) WriteHash(h hash.Hash) { fmt.Fprint(h, op.String()) }
func (op signDiffOp) Hashcode() uint32      { return simpleHash(op) }
func (op signDiffOp) String() string        { return "SignDiff" }

func sameShape(op G.Op, inputs ...G.DimSizer) (tensor.Shape, error) {
	if err := checkArity(op, len(inputs)); err != nil {
		return nil, err
	}
	s, ok := inputs[0].(tensor.Shape)
	if !ok {
		return nil, errors.Errorf("%v: expected a tensor.Shape, got %T", op, inputs[0])
	}
	return s.Clone(), nil
}

func checkArity(op G.Op, inputs int) error {
	if inputs != op.Arity() {
		return errors.Errorf("%v expects %d inputs. Got %d instead", op, op.Arity(), inputs)
	}
	return nil
}

func simpleHash(op G.Op) uint32 {
	h := fnv.New32a()
	op.WriteHash(h)
	return h.Sum32()
}
