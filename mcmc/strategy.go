package mcmc

import (
	"math"
	"math/rand/v2"

	"github.com/gorgonia/bnn/binary"
	"github.com/gorgonia/bnn/flip"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Proposer decides which parameters and which neurons a proposal flips.
type Proposer interface {
	Propose(params binary.Params, ratio float64, rng *rand.Rand) ([]flip.Flipper, error)
}

// RandomLayer proposes a flip of one binary matrix chosen uniformly at random.
type RandomLayer struct{}

func (RandomLayer) Propose(params binary.Params, ratio float64, rng *rand.Rand) ([]flip.Flipper, error) {
	candidates := params.Binary().Matrices()
	if len(candidates) == 0 {
		return nil, errors.New("no binary matrix parameters to flip")
	}
	p := candidates[rng.IntN(len(candidates))]
	return chain(binary.Params{p}, ratio, rng)
}

// AllLayers proposes a correlated flip across every binary matrix, in
// registry order. The sink neurons of one layer are the source neurons of the
// next.
type AllLayers struct{}

func (AllLayers) Propose(params binary.Params, ratio float64, rng *rand.Rand) ([]flip.Flipper, error) {
	candidates := params.Binary().Matrices()
	if len(candidates) == 0 {
		return nil, errors.New("no binary matrix parameters to flip")
	}
	return chain(candidates, ratio, rng)
}

func chain(params binary.Params, ratio float64, rng *rand.Rand) ([]flip.Flipper, error) {
	retVal := make([]flip.Flipper, 0, len(params))
	var source []int
	for _, p := range params {
		w, err := p.Value()
		if err != nil {
			release(retVal)
			return nil, err
		}
		rows, cols, err := flip.Dims(w)
		if err != nil {
			release(retVal)
			return nil, errors.Wrapf(err, "proposing a flip of %q", p.Name)
		}
		if source == nil {
			source = sampleNeurons(cols, ratio, rng)
		}
		sink := sampleNeurons(rows, ratio, rng)
		f, err := flip.NewCached(p.Name, w, source, sink)
		if err != nil {
			release(retVal)
			return nil, errors.Wrapf(err, "proposing a flip of %q", p.Name)
		}
		retVal = append(retVal, f)
		source = sink
	}
	return retVal, nil
}

// sampleNeurons draws ceil(size*ratio) distinct indices from [0, size), at
// least one.
func sampleNeurons(size int, ratio float64, rng *rand.Rand) []int {
	if size <= 0 {
		return nil
	}
	k := int(math.Ceil(float64(size) * ratio))
	k = max(1, min(k, size))
	retVal := make([]int, k)
	sampleuv.WithoutReplacement(retVal, size, rng)
	return retVal
}

// Acceptor returns the probability of accepting a proposal.
type Acceptor interface {
	Accept(lossNew, lossOld, ratio float64) float64
}

// AcceptFunc is an Acceptor defined by a function.
type AcceptFunc func(lossNew, lossOld, ratio float64) float64

func (f AcceptFunc) Accept(lossNew, lossOld, ratio float64) float64 { return f(lossNew, lossOld, ratio) }

// MetropolisRule always accepts an improvement, and accepts a deterioration of
// Δ with probability exp(-Δ/ratio).
type MetropolisRule struct{}

func (MetropolisRule) Accept(lossNew, lossOld, ratio float64) float64 {
	delta := lossNew - lossOld
	if delta < 0 {
		return 1
	}
	return math.Exp(-delta / ratio)
}

// GibbsRule accepts with probability 1/(1+exp(-(lossOld-lossNew)/ratio)).
// When the exponential overflows the decision is the hard step on the sign of
// lossOld-lossNew.
type GibbsRule struct{}

func (GibbsRule) Accept(lossNew, lossOld, ratio float64) float64 {
	delta := lossOld - lossNew
	e := math.Exp(-delta / ratio)
	if math.IsInf(e, 1) {
		if delta > 0 {
			return 1
		}
		return 0
	}
	return 1 / (1 + e)
}
