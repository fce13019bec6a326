package mcmc

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorgonia/bnn/binary"
	"github.com/gorgonia/bnn/flip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// sumModel's loss is the sum of its binary weights.
type sumModel struct {
	params binary.Params
	evals  int
	failAt int // fail on this evaluation, counted from 1. 0 never fails
}

func newSumModel() *sumModel {
	g := G.NewGraph()
	matrix := func(name string, rows, cols int, isBinary bool) binary.Param {
		data := make([]float64, rows*cols)
		for i := range data {
			data[i] = float64(i%5) - 2.5
		}
		val := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
		n := G.NewMatrix(g, G.Float64, G.WithShape(rows, cols), G.WithName(name), G.WithValue(val))
		return binaryParam(name, n, isBinary)
	}
	gamma := G.NewVector(g, G.Float64, G.WithShape(4), G.WithName("bn.gamma"),
		G.WithValue(tensor.New(tensor.WithShape(4), tensor.WithBacking([]float64{1, 1, 1, 1}))))
	return &sumModel{
		params: binary.Params{
			matrix("fc1_w", 4, 3, true),
			binaryParam("bn.gamma", gamma, false),
			matrix("fc2_w", 2, 4, true),
		},
	}
}

func binaryParam(name string, n *G.Node, b bool) binary.Param {
	return binary.Param{Name: name, Node: n, Binary: b}
}

func (m *sumModel) Params() binary.Params { return m.params }

func (m *sumModel) Evaluate(x, y *tensor.Dense) (*tensor.Dense, float64, error) {
	m.evals++
	if m.evals == m.failAt {
		return nil, 0, errors.New("boom")
	}
	var sum float64
	for _, p := range m.params.Binary() {
		for _, v := range p.Node.Value().Data().([]float64) {
			sum += v
		}
	}
	return tensor.New(tensor.WithShape(1), tensor.WithBacking([]float64{sum})), sum, nil
}

func (m *sumModel) snapshot() map[string][]float64 {
	retVal := make(map[string][]float64)
	for _, p := range m.params {
		retVal[p.Name] = append([]float64(nil), p.Node.Value().Data().([]float64)...)
	}
	return retVal
}

type recorder struct {
	steps  []Step
	resets []float64
}

func (r *recorder) OnStep(s Step)             { r.steps = append(r.steps, s) }
func (r *recorder) OnReset(flipRatio float64) { r.resets = append(r.resets, flipRatio) }

type resetAlways bool

func (r resetAlways) NeedReset() bool { return bool(r) }

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1337, 1)) }

func TestMetropolisRule(t *testing.T) {
	assert := assert.New(t)
	var rule MetropolisRule
	assert.Equal(1.0, rule.Accept(1, 2, 0.1), "improvements are always accepted")
	assert.Equal(1.0, rule.Accept(2, 2, 0.1))
	assert.InDelta(math.Exp(-1), rule.Accept(2.1, 2, 0.1), 1e-9)
	assert.Equal(0.0, rule.Accept(1000, 0, 1e-3))
}

func TestGibbsRule(t *testing.T) {
	assert := assert.New(t)
	var rule GibbsRule
	assert.Equal(0.5, rule.Accept(2, 2, 0.1))
	assert.InDelta(1/(1+math.Exp(-1)), rule.Accept(1.9, 2, 0.1), 1e-9)
	assert.InDelta(1/(1+math.Exp(1)), rule.Accept(2.1, 2, 0.1), 1e-9)

	// the exponential overflows, the result must still be a probability
	p := rule.Accept(1000, 0, 1e-3)
	assert.False(math.IsNaN(p))
	assert.Equal(0.0, p)
	assert.Equal(1.0, rule.Accept(0, 1000, 1e-3))
}

func TestSampleNeurons(t *testing.T) {
	assert := assert.New(t)
	rng := seeded()
	cases := []struct {
		size  int
		ratio float64
		k     int
	}{
		{10, 0.01, 1},
		{10, 0.25, 3},
		{10, 1, 10},
		{7, 0.5, 4},
	}
	for _, c := range cases {
		idx := sampleNeurons(c.size, c.ratio, rng)
		assert.Len(idx, c.k, "size %d ratio %v", c.size, c.ratio)
		seen := make(map[int]bool)
		for _, i := range idx {
			assert.True(i >= 0 && i < c.size)
			assert.False(seen[i], "duplicate index %d", i)
			seen[i] = true
		}
	}
}

func TestAllLayersChainsNeurons(t *testing.T) {
	assert := assert.New(t)
	m := newSumModel()
	flips, err := AllLayers{}.Propose(m.Params(), 0.5, seeded())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer release(flips)

	if !assert.Len(flips, 2) {
		return
	}
	first := flips[0].(*flip.Cached)
	second := flips[1].(*flip.Cached)
	assert.Equal("fc1_w", first.Name())
	assert.Equal("fc2_w", second.Name())
	assert.Equal(first.Sink(), second.Source())
}

func TestRandomLayerSkipsNonBinary(t *testing.T) {
	m := newSumModel()
	rng := seeded()
	for i := 0; i < 20; i++ {
		flips, err := RandomLayer{}.Propose(m.Params(), 0.5, rng)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		assert.Len(t, flips, 1)
		assert.NotEqual(t, "bn.gamma", flips[0].Name())
		release(flips)
	}
}

func TestProposeWithoutBinaryMatrices(t *testing.T) {
	m := newSumModel()
	params := binary.Params{m.params[1]}
	_, err := RandomLayer{}.Propose(params, 0.1, seeded())
	assert.Error(t, err)
	_, err = AllLayers{}.Propose(params, 0.1, seeded())
	assert.Error(t, err)
}

// one accepted step then one rejected step
func TestAcceptanceRatio(t *testing.T) {
	assert := assert.New(t)
	m := newSumModel()
	var calls int
	accept := AcceptFunc(func(_, _, _ float64) float64 {
		calls++
		if calls == 1 {
			return 1
		}
		return 0
	})
	tr, err := New(m, DefaultConfig(), WithAcceptor(accept), WithRand(seeded()))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(0.0, tr.AcceptanceRatio())

	for i := 0; i < 2; i++ {
		if _, _, err := tr.Step(nil, nil); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	accepted, total := tr.Counts()
	assert.Equal(1, accepted)
	assert.Equal(2, total)
	assert.Equal(0.5, tr.AcceptanceRatio())
}

func TestRejectRestoresParams(t *testing.T) {
	assert := assert.New(t)
	m := newSumModel()
	before := m.snapshot()
	_, lossBefore, _ := m.Evaluate(nil, nil)

	obs := new(recorder)
	conf := DefaultConfig()
	conf.Variant = Tree
	tr, err := New(m, conf,
		WithAcceptor(AcceptFunc(func(_, _, _ float64) float64 { return 0 })),
		WithObserver(obs),
		WithRand(seeded()))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	out, loss, err := tr.Step(nil, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(lossBefore, loss)
	assert.Equal([]float64{lossBefore}, out.Data())
	if diff := cmp.Diff(before, m.snapshot()); diff != "" {
		t.Errorf("parameters changed after a rejected proposal (-want +got):\n%s", diff)
	}
	if assert.Len(obs.steps, 1) {
		s := obs.steps[0]
		assert.False(s.Accepted)
		assert.Equal([]string{"fc1_w", "fc2_w"}, s.Names)
		assert.Equal(lossBefore, s.LossOld)
	}
}

func TestAcceptKeepsProposal(t *testing.T) {
	assert := assert.New(t)
	m := newSumModel()
	before := m.snapshot()

	obs := new(recorder)
	tr, err := New(m, DefaultConfig(),
		WithAcceptor(AcceptFunc(func(_, _, _ float64) float64 { return 1 })),
		WithObserver(obs),
		WithRand(seeded()))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	_, loss, err := tr.Step(nil, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !assert.Len(obs.steps, 1) {
		return
	}
	s := obs.steps[0]
	assert.True(s.Accepted)
	assert.Equal(s.LossNew, loss)

	after := m.snapshot()
	assert.Equal(before["bn.gamma"], after["bn.gamma"], "non binary parameters are never flipped")
	var changed int
	for name, vals := range before {
		for i, v := range vals {
			if after[name][i] != v {
				assert.Equal(-v, after[name][i])
				changed++
			}
		}
	}
	assert.Equal(s.Flipped, changed)
}

func TestEvaluateFailureRestores(t *testing.T) {
	assert := assert.New(t)
	m := newSumModel()
	m.failAt = 2
	before := m.snapshot()

	tr, err := New(m, DefaultConfig(), WithRand(seeded()))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	_, _, err = tr.Step(nil, nil)
	assert.Error(err)
	if diff := cmp.Diff(before, m.snapshot()); diff != "" {
		t.Errorf("parameters changed after a failed evaluation (-want +got):\n%s", diff)
	}
	_, total := tr.Counts()
	assert.Zero(total)
}

func TestResetDecaysToFloor(t *testing.T) {
	assert := assert.New(t)
	conf := Config{FlipRatio: 0.002, Decay: 0.7, MinFlipRatio: 1e-3, Variant: Gibbs}
	obs := new(recorder)
	tr, err := New(newSumModel(), conf, WithObserver(obs), WithRand(seeded()))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	tr.Reset()
	assert.InDelta(0.0014, tr.FlipRatio(), 1e-12)
	tr.Reset()
	assert.Equal(1e-3, tr.FlipRatio())
	tr.Reset()
	assert.Equal(1e-3, tr.FlipRatio())
	assert.Len(obs.resets, 3)
	assert.True(strings.Contains(tr.Log(), "Flip ratio"))
}

func TestEpochFinished(t *testing.T) {
	assert := assert.New(t)
	tr, err := New(newSumModel(), DefaultConfig(), WithRand(seeded()))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, _, err := tr.Step(nil, nil); err != nil {
		t.Fatalf("%+v", err)
	}

	assert.False(tr.EpochFinished(resetAlways(false)))
	_, total := tr.Counts()
	assert.Equal(1, total)
	assert.Equal(0.1, tr.FlipRatio())

	assert.True(tr.EpochFinished(resetAlways(true)))
	accepted, total := tr.Counts()
	assert.Zero(accepted)
	assert.Zero(total)
	assert.InDelta(0.07, tr.FlipRatio(), 1e-12)
}

func TestConfig(t *testing.T) {
	assert := assert.New(t)
	assert.True(DefaultConfig().IsValid())

	bad := DefaultConfig()
	bad.Decay = 1
	assert.False(bad.IsValid())
	_, err := New(newSumModel(), bad)
	assert.Error(err)

	for v := Single; v < MAXVARIANT; v++ {
		parsed, err := ParseVariant(strings.ToUpper(v.String()))
		assert.NoError(err)
		assert.Equal(v, parsed)
	}
	_, err = ParseVariant("annealing")
	assert.Error(err)
}
