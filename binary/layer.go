// Package binary wraps weight-bearing transforms so that they train as if
// their weights and input activations were restricted to {-1, +1}.
//
// The real-valued weights stay in the graph. A Layer only replaces them by
// their signs for the duration of a forward evaluation, through a Guard that
// restores the original values on release.
package binary

import (
	"math/rand/v2"
	"sync"

	"github.com/gorgonia/bnn/ops"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer is a binarized Transform.
type Layer struct {
	t      Transform
	params Params

	// mu is held between Binarize and Release. At most one evaluation may see
	// the binarized weight at a time.
	mu sync.Mutex
}

// New wraps t. The weight of t is reinitialized with Bernoulli(0.5) draws
// mapped to {-1, +1}, and every parameter of t is marked binary.
func New(t Transform, src rand.Source) (*Layer, error) {
	w := t.Weight()
	shape := w.Shape().Clone()
	backing := Bernoulli(src)(w.Dtype(), shape...)
	if err := G.Let(w, tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))); err != nil {
		return nil, errors.Wrapf(err, "initializing %v", w.Name())
	}

	l := &Layer{t: t}
	for _, n := range t.Params() {
		l.params = append(l.params, Param{Name: n.Name(), Node: n, Binary: true})
	}
	return l, nil
}

// Fwd builds the binarized forward pass of x into the graph:
//
//	mean(|x|) * T(sign(x))
//
// where T runs against the binarized weight while a Guard is held.
func (l *Layer) Fwd(x *G.Node) (*G.Node, error) {
	abs, err := G.Abs(x)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	xMean, err := G.Mean(abs)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	xb, err := ops.Sign(x)
	if err != nil {
		return nil, err
	}
	y, err := l.t.Apply(xb)
	if err != nil {
		return nil, err
	}
	retVal, err := G.Mul(y, xMean)
	return retVal, errors.WithStack(err)
}

// Transform returns the wrapped transform.
func (l *Layer) Transform() Transform { return l.t }

// Weight returns the node that is binarized during evaluation.
func (l *Layer) Weight() *G.Node { return l.t.Weight() }

// Params returns the parameters of the wrapped transform, all marked binary.
func (l *Layer) Params() Params { return l.params }

// Binarize snapshots the weight and overwrites it in place with its sign.
// The layer stays locked until the returned Guard is released.
func (l *Layer) Binarize() (*Guard, error) {
	l.mu.Lock()
	w, err := denseOf(l.Weight())
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	backup := w.Clone().(*tensor.Dense)
	if err := ops.SignInPlace(w); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	return &Guard{l: l, w: w, backup: backup}, nil
}

// Guard holds a binarized weight. Release restores it.
type Guard struct {
	l        *Layer
	w        *tensor.Dense
	backup   *tensor.Dense
	released bool
}

// Release copies the snapshot back over the weight and unlocks the layer. It
// is safe to call more than once.
func (g *Guard) Release() error {
	if g == nil || g.released {
		return nil
	}
	g.released = true
	defer g.l.mu.Unlock()

	err := g.backup.CopyTo(g.w)
	tensor.ReturnTensor(g.backup)
	g.backup = nil
	return errors.WithStack(err)
}

// Guards is a set of guards acquired together.
type Guards []*Guard

// Acquire binarizes every layer. If any layer fails, the layers already
// binarized are restored before the error is returned. A layer must not
// appear twice.
func Acquire(layers ...*Layer) (Guards, error) {
	retVal := make(Guards, 0, len(layers))
	for _, l := range layers {
		g, err := l.Binarize()
		if err != nil {
			if rerr := retVal.Release(); rerr != nil {
				return nil, errors.Wrapf(err, "restoring after failure: %v", rerr)
			}
			return nil, err
		}
		retVal = append(retVal, g)
	}
	return retVal, nil
}

// Release releases the guards in reverse order of acquisition. Every guard is
// released even if one fails; the first error is returned.
func (gs Guards) Release() error {
	var retErr error
	for i := len(gs) - 1; i >= 0; i-- {
		if err := gs[i].Release(); err != nil && retErr == nil {
			retErr = err
		}
	}
	return retErr
}

func denseOf(n *G.Node) (*tensor.Dense, error) {
	if n.Value() == nil {
		return nil, errors.Errorf("%v has no value bound", n.Name())
	}
	d, ok := n.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("%v: expected a *tensor.Dense value, got %T", n.Name(), n.Value())
	}
	return d, nil
}
