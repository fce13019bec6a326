package bnn

import (
	"math/rand/v2"

	"github.com/gorgonia/bnn/binary"
	"github.com/gorgonia/bnn/ops"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	nnops "gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

// leakiness of every hidden activation
const leak = 0.25

type maebe struct {
	err error

	params binary.Params
	layers []*binary.Layer
	ops    []batchNormOp
	stages []stage
	src    rand.Source
}

type batchNormOp interface {
	SetTraining()
	SetTesting()
	Reset() error
}

// stage is a named step of the architecture, as drawn by ToDot.
type stage struct {
	name  string
	kind  string
	shape tensor.Shape
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) record(name, kind string, n *G.Node) *G.Node {
	if m.err != nil || n == nil {
		return n
	}
	m.stages = append(m.stages, stage{name: name, kind: kind, shape: n.Shape().Clone()})
	return n
}

// batchnorm normalizes per channel. Matrices are normalized per column by
// viewing them as B×F×1×1.
func (m *maebe) batchnorm(input *G.Node, name string) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	x := input
	flat := input.Dims() == 2
	if flat {
		s := input.Shape()
		if x = m.reshape(input, tensor.Shape{s[0], s[1], 1, 1}); m.err != nil {
			return nil
		}
	}

	var gamma, beta *G.Node
	var op batchNormOp
	if retVal, gamma, beta, op, m.err = nnops.BatchNorm(x, nil, nil, 0.997, 1e-5); m.err != nil {
		m.err = errors.WithStack(m.err)
		return nil
	}
	m.ops = append(m.ops, op)
	m.params = append(m.params,
		binary.Param{Name: name + ".gamma", Node: gamma},
		binary.Param{Name: name + ".beta", Node: beta},
	)

	if flat {
		retVal = m.reshape(retVal, input.Shape().Clone())
	}
	return m.record(name, "BatchNorm", retVal)
}

func (m *maebe) binarized(input *G.Node, t binary.Transform, name, kind string) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	var l *binary.Layer
	if l, m.err = binary.New(t, m.src); m.err != nil {
		return nil
	}
	m.layers = append(m.layers, l)
	m.params = append(m.params, l.Params()...)
	retVal = m.do(func() (*G.Node, error) { return l.Fwd(input) })
	return m.record(name, kind, retVal)
}

func (m *maebe) binaryConv(input *G.Node, filterCount, size int, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	featureCount := input.Shape()[1]
	conv := binary.NewConv2d(input.Graph(), featureCount, filterCount, size, name)
	return m.binarized(input, conv, name, "BinaryConv2d")
}

func (m *maebe) binaryLinear(input *G.Node, units int, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	lin := binary.NewLinear(input.Graph(), input.Shape()[1], units, name)
	return m.binarized(input, lin, name, "BinaryLinear")
}

func (m *maebe) maxpool(input *G.Node, name string) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.MaxPool2D(input, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); m.err != nil {
		m.err = errors.WithStack(m.err)
		return nil
	}
	return m.record(name, "MaxPool", retVal)
}

func (m *maebe) leaky(input *G.Node) (retVal *G.Node) {
	return m.do(func() (*G.Node, error) { return G.LeakyRelu(input, leak) })
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// scale multiplies input by a learnable scalar.
func (m *maebe) scale(input *G.Node, init float64, name string) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	s := G.NewScalar(input.Graph(), Float, G.WithName(name), G.WithValue(float32(init)))
	m.params = append(m.params, binary.Param{Name: name, Node: s})
	if retVal, m.err = ops.Scale(input, s); m.err != nil {
		return nil
	}
	return m.record(name, "Scale", retVal)
}

// xent is the mean softmax cross entropy of logits against one-hot targets.
func (m *maebe) xent(logits, target *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	eps := G.NewConstant(float32(1e-7))
	sm := m.do(func() (*G.Node, error) { return G.SoftMax(logits) })
	sm = m.do(func() (*G.Node, error) { return G.Add(sm, eps) })
	logp := m.do(func() (*G.Node, error) { return G.Log(sm) })
	retVal = m.do(func() (*G.Node, error) { return G.HadamardProd(target, logp) })
	retVal = m.do(func() (*G.Node, error) { return G.Sum(retVal, 1) })
	retVal = m.do(func() (*G.Node, error) { return G.Mean(retVal) })
	return m.do(func() (*G.Node, error) { return G.Neg(retVal) })
}
