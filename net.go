// Package bnn builds binarized convolutional classifiers on gorgonia and trains
// them either with gradients or with the MCMC sign-flip sampler of package
// mcmc.
package bnn

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand/v2"

	"github.com/gorgonia/bnn/binary"
	"github.com/gorgonia/bnn/internal/errs"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float32

// Net is a binarized classifier. Every conv stage is
//
//	BatchNorm → Binary(Conv2d) → MaxPool → LeakyReLU
//
// and every fc stage is BatchNorm → Binary(Linear) → LeakyReLU, except the last
// one, which has no activation. The logits are multiplied by a learnable scalar.
type Net struct {
	Config
	ops    []batchNormOp
	layers []*binary.Layer
	params binary.Params
	stages []stage

	g      *G.ExprGraph
	x, y   *G.Node // inputs and one-hot labels
	output *G.Node // scaled logits
	cost   *G.Node
	vm     G.VM

	outVal  G.Value
	costVal G.Value
}

// New returns a new, uninitialized *Net.
func New(conf Config) *Net {
	return &Net{Config: conf}
}

func (n *Net) Init() error {
	if !n.IsValid() {
		return errors.Errorf("invalid network config %+v", n.Config)
	}
	n.reset()
	n.g = G.NewGraph()
	if err := n.fwd(); err != nil {
		return err
	}
	if err := n.bwd(); err != nil {
		return err
	}
	if n.FwdOnly {
		n.vm = G.NewTapeMachine(n.g)
	} else {
		n.vm = G.NewTapeMachine(n.g, G.BindDualValues(n.Model()...))
	}
	return nil
}

func (n *Net) fwd() error {
	// Gorgonia only supports doing convolutions on BCHW format
	n.x = G.NewTensor(n.g, Float, 4, G.WithShape(n.BatchSize, n.Channels, n.Height, n.Width), G.WithName("x"))
	n.y = G.NewMatrix(n.g, Float, G.WithShape(n.BatchSize, n.Classes), G.WithName("y"))

	m := maebe{src: rand.NewPCG(n.Seed, 0)}
	out := n.x
	for i, c := range n.ConvChannels {
		name := fmt.Sprintf("conv%d", i)
		out = m.batchnorm(out, name+"_bn")
		out = m.binaryConv(out, c, n.Kernel, name)
		out = m.maxpool(out, name+"_pool")
		out = m.leaky(out)
	}
	if m.err != nil {
		return m.err
	}
	s := out.Shape()
	out = m.reshape(out, tensor.Shape{s[0], s.TotalSize() / s[0]})

	widths := append(append([]int(nil), n.FC...), n.Classes)
	for i, w := range widths {
		name := fmt.Sprintf("fc%d", i)
		out = m.batchnorm(out, name+"_bn")
		out = m.binaryLinear(out, w, name)
		if i < len(widths)-1 {
			out = m.leaky(out)
		}
	}
	n.output = m.scale(out, n.ScaleInit, "scale")
	n.cost = m.xent(n.output, n.y)
	if m.err != nil {
		return m.err
	}
	G.Read(n.output, &n.outVal)
	G.Read(n.cost, &n.costVal)

	n.ops = m.ops
	n.layers = m.layers
	n.params = m.params
	n.stages = m.stages
	return nil
}

func (n *Net) bwd() error {
	if n.FwdOnly {
		return nil
	}
	_, err := G.Grad(n.cost, n.Model()...)
	return errors.WithStack(err)
}

// Model returns the learnable nodes, in parameter order.
func (n *Net) Model() G.Nodes { return n.params.Nodes() }

// Params returns the parameter registry. The weights of the binary layers are
// marked binary. Batch norm scales and biases and the output scale are not.
func (n *Net) Params() binary.Params { return n.params }

// Layers returns the binary layers in graph order.
func (n *Net) Layers() []*binary.Layer { return n.layers }

// run binds a batch and executes the graph with every binary layer binarized.
// The real-valued weights are restored before run returns, on every path.
func (n *Net) run(x, y *tensor.Dense) (err error) {
	if !x.Shape().Eq(n.x.Shape()) {
		return errors.Errorf("expected inputs of shape %v, got %v", n.x.Shape(), x.Shape())
	}
	if !y.Shape().Eq(n.y.Shape()) {
		return errors.Errorf("expected labels of shape %v, got %v", n.y.Shape(), y.Shape())
	}
	if err = G.Let(n.x, x); err != nil {
		return errors.WithStack(err)
	}
	if err = G.Let(n.y, y); err != nil {
		return errors.WithStack(err)
	}

	guards, err := binary.Acquire(n.layers...)
	if err != nil {
		return err
	}
	defer func() { err = errs.Join(err, guards.Release()) }()
	return errors.WithStack(n.vm.RunAll())
}

// Evaluate runs the network on a batch and returns copies of the scaled
// logits and the mean cross entropy. It implements mcmc.Model.
func (n *Net) Evaluate(x, y *tensor.Dense) (outputs *tensor.Dense, loss float64, err error) {
	defer n.vm.Reset()
	if err = n.run(x, y); err != nil {
		return nil, 0, err
	}
	if loss, err = n.loss(); err != nil {
		return nil, 0, err
	}
	if outputs, err = n.outputs(); err != nil {
		return nil, 0, err
	}
	return outputs, loss, nil
}

// outputs copies the scaled logits of the last run.
func (n *Net) outputs() (*tensor.Dense, error) {
	out, ok := n.outVal.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("expected a *tensor.Dense output, got %T", n.outVal)
	}
	return out.Clone().(*tensor.Dense), nil
}

func (n *Net) loss() (float64, error) {
	switch c := n.costVal.Data().(type) {
	case float32:
		return float64(c), nil
	case float64:
		return c, nil
	}
	return 0, errors.Errorf("unexpected cost value %v", n.costVal)
}

// SetTesting makes batch norm use its running statistics.
func (n *Net) SetTesting() {
	for _, op := range n.ops {
		op.SetTesting()
	}
}

// SetTraining makes batch norm use batch statistics.
func (n *Net) SetTraining() {
	for _, op := range n.ops {
		op.SetTraining()
	}
}

// Close implements a closer, because well, a gorgonia VM is a resource.
func (n *Net) Close() error {
	if n.vm == nil {
		return nil
	}
	return n.vm.Close()
}

func (n *Net) reset() {
	n.ops = nil
	n.layers = nil
	n.params = nil
	n.stages = nil
	n.g = nil
	n.x = nil
	n.y = nil
	n.output = nil
	n.cost = nil
	n.vm = nil
}

type savedParam struct {
	Name  string
	Shape []int
	Data  []float32
}

func (n *Net) GobEncode() (retVal []byte, err error) {
	saved := make([]savedParam, 0, len(n.params))
	for _, p := range n.params {
		sp := savedParam{Name: p.Name, Shape: p.Node.Shape().Clone()}
		switch data := p.Node.Value().Data().(type) {
		case []float32:
			sp.Data = append(sp.Data, data...)
		case float32:
			sp.Data = []float32{data}
		default:
			return nil, errors.Errorf("cannot encode %v of %T", p.Name, data)
		}
		saved = append(saved, sp)
	}
	var buf bytes.Buffer
	if err = gob.NewEncoder(&buf).Encode(saved); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// GobDecode copies encoded parameter values into the network, initializing it
// first if needed.
func (n *Net) GobDecode(p []byte) error {
	if n.g == nil {
		if err := n.Init(); err != nil {
			return err
		}
	}
	var saved []savedParam
	if err := gob.NewDecoder(bytes.NewBuffer(p)).Decode(&saved); err != nil {
		return errors.WithStack(err)
	}
	if len(saved) != len(n.params) {
		return errors.Errorf("expected %d parameters, got %d", len(n.params), len(saved))
	}
	for i, sp := range saved {
		param := n.params[i]
		if sp.Name != param.Name || !tensor.Shape(sp.Shape).Eq(param.Node.Shape()) {
			return errors.Errorf("parameter %d: expected %v%v, got %v%v", i, param.Name, param.Node.Shape(), sp.Name, sp.Shape)
		}
		switch v := param.Node.Value().(type) {
		case *tensor.Dense:
			copy(v.Data().([]float32), sp.Data)
		case *G.F32:
			*v = G.F32(sp.Data[0])
		default:
			return errors.Errorf("cannot decode into %v of %T", param.Name, v)
		}
	}
	return nil
}
