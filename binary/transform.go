package binary

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	nnops "gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

// Float is the dtype of every weight created by this package.
var Float = G.Float32

// Transform is a weight-bearing computation that a Layer can binarize.
type Transform interface {
	// Apply builds the transform of x into the graph.
	Apply(x *G.Node) (*G.Node, error)

	// Weight is the node binarized during the forward pass.
	Weight() *G.Node

	// Params lists every learnable node owned by the transform.
	Params() G.Nodes
}

// Linear is a fully connected transform without bias. The weight is laid out
// as output × input, so Apply computes x·Wᵀ.
type Linear struct {
	w *G.Node
}

// NewLinear creates a Linear transform from in to out units.
func NewLinear(g *G.ExprGraph, in, out int, name string) *Linear {
	w := G.NewMatrix(g, Float, G.WithShape(out, in), G.WithInit(G.GlorotN(1.0)), G.WithName(name+"_w"))
	return &Linear{w: w}
}

func (l *Linear) Apply(x *G.Node) (*G.Node, error) {
	if x.Dims() != 2 {
		return nil, errors.Errorf("linear: expected a matrix input, got shape %v", x.Shape())
	}
	wT, err := G.Transpose(l.w)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	retVal, err := G.Mul(x, wT)
	return retVal, errors.WithStack(err)
}

func (l *Linear) Weight() *G.Node { return l.w }
func (l *Linear) Params() G.Nodes { return G.Nodes{l.w} }

// Conv2d is a stride 1, unpadded convolution without bias. The filter is laid
// out as output channels × input channels × kernel × kernel.
type Conv2d struct {
	filter *G.Node
	kernel int
}

// NewConv2d creates a Conv2d transform.
func NewConv2d(g *G.ExprGraph, in, out, kernel int, name string) *Conv2d {
	filter := G.NewTensor(g, Float, 4, G.WithShape(out, in, kernel, kernel), G.WithInit(G.GlorotU(1.0)), G.WithName(name+"_filter"))
	return &Conv2d{filter: filter, kernel: kernel}
}

func (c *Conv2d) Apply(x *G.Node) (*G.Node, error) {
	if x.Dims() != 4 {
		return nil, errors.Errorf("conv2d: expected a BCHW input, got shape %v", x.Shape())
	}
	retVal, err := nnops.Conv2d(x, c.filter, tensor.Shape{c.kernel, c.kernel}, []int{0, 0}, []int{1, 1}, []int{1, 1})
	return retVal, errors.WithStack(err)
}

func (c *Conv2d) Weight() *G.Node { return c.filter }
func (c *Conv2d) Params() G.Nodes { return G.Nodes{c.filter} }
