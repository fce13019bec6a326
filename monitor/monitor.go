// Package monitor follows the parameters of a network during training: sign
// changes of the binary ones, MCMC acceptance, gradients of registered ones,
// and per-epoch series that can be dumped as CSV or rendered frame by frame.
package monitor

import (
	"bytes"
	"log"

	"github.com/gorgonia/bnn/binary"
	"github.com/gorgonia/bnn/mcmc"
	"github.com/gorgonia/bnn/ops"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"
)

// Monitor implements mcmc.Observer.
type Monitor struct {
	all        binary.Params
	params     binary.Params // binary parameters only
	signs      map[string][]bool
	registered binary.Params
	grads      map[string]GradStats // of the latest UpdateGradients
	renderer   Renderer

	stats      Statistics
	signChange float64 // accumulated since the last epoch
	batchStart int     // first batch of the current epoch

	proposals int
	accepted  int
	flips     map[string]int // accepted proposals that touched each parameter

	buf    bytes.Buffer
	logger *log.Logger
}

var _ mcmc.Observer = (*Monitor)(nil)

// New snapshots the signs of the binary parameters in params. Every parameter
// in params can be registered. If logger is nil, the monitor logs into a
// buffer readable with Log.
func New(params binary.Params, logger *log.Logger) (*Monitor, error) {
	m := &Monitor{
		all:    params,
		params: params.Binary(),
		grads:  make(map[string]GradStats),
		signs:  make(map[string][]bool),
		stats:  makeStatistics(),
		flips:  make(map[string]int),
		logger: logger,
	}
	if m.logger == nil {
		m.logger = log.New(&m.buf, "", log.Ltime)
	}
	for _, p := range m.params {
		s, err := signsOf(p)
		if err != nil {
			return nil, err
		}
		m.signs[p.Name] = s
	}
	return m, nil
}

// Register adds a parameter to the per-epoch statistics. The first registered
// binary matrix is the one drawn by Snapshot.
func (m *Monitor) Register(name string) error {
	p, err := m.all.Lookup(name)
	if err != nil {
		return errors.Wrap(err, "cannot monitor")
	}
	for _, r := range m.registered {
		if r.Name == name {
			return nil
		}
	}
	m.registered = append(m.registered, p)
	m.stats.Registered = append(m.stats.Registered, name)
	return nil
}

// SetRenderer sets the renderer that receives a frame at every epoch.
func (m *Monitor) SetRenderer(r Renderer) { m.renderer = r }

func (m *Monitor) OnStep(s mcmc.Step) {
	m.proposals++
	if !s.Accepted {
		return
	}
	m.accepted++
	for _, name := range s.Names {
		m.flips[name]++
	}
}

func (m *Monitor) OnReset(flipRatio float64) {
	m.logger.Printf("Sampler reset after %d proposals (%d accepted). Flip ratio: %v", m.proposals, m.accepted, flipRatio)
	m.proposals = 0
	m.accepted = 0
}

// Flips returns the number of accepted proposals that flipped name.
func (m *Monitor) Flips(name string) int { return m.flips[name] }

// UpdateSigns returns the percentage of binary entries whose sign changed
// since the previous call, or since New, and takes a new snapshot.
func (m *Monitor) UpdateSigns() (float64, error) {
	var changed, total int
	for _, p := range m.params {
		s, err := signsOf(p)
		if err != nil {
			return 0, err
		}
		old := m.signs[p.Name]
		for i := range s {
			if s[i] != old[i] {
				changed++
			}
		}
		total += len(s)
		m.signs[p.Name] = s
	}
	if total == 0 {
		return 0, nil
	}
	pct := 100 * float64(changed) / float64(total)
	m.signChange += pct
	return pct, nil
}

// UpdateGradients records the L2 norm, minimum and maximum of the gradient of
// every registered parameter. Parameters without a bound gradient, as in a
// forward only graph, are skipped. The latest update is reported by the next
// EpochFinished.
func (m *Monitor) UpdateGradients() error {
	for _, p := range m.registered {
		g, err := p.Node.Grad()
		if err != nil || g == nil {
			continue
		}
		data, err := valueFloats(p.Name, g)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		m.grads[p.Name] = GradStats{
			Norm: floats.Norm(data, 2),
			Min:  floats.Min(data),
			Max:  floats.Max(data),
		}
	}
	return nil
}

// BatchFinished records the loss and accuracy of a batch.
func (m *Monitor) BatchFinished(loss, accuracy float64) {
	m.stats.Loss = append(m.stats.Loss, loss)
	m.stats.Accuracy = append(m.stats.Accuracy, accuracy)
}

// EpochFinished closes the epoch: it summarizes the batches recorded since the
// previous epoch and the registered parameters, and renders a frame if a
// renderer is set.
func (m *Monitor) EpochFinished(epoch int, acceptance, flipRatio float64) error {
	e := EpochStats{
		Epoch:      epoch,
		Acceptance: acceptance,
		FlipRatio:  flipRatio,
		SignChange: m.signChange,
		MeanAbs:    make(map[string]float64),
		Positive:   make(map[string]float64),
		Grads:      m.grads,
	}
	m.grads = make(map[string]GradStats)
	if losses := m.stats.Loss[m.batchStart:]; len(losses) > 0 {
		e.MeanLoss = stat.Mean(losses, nil)
		e.MeanAccuracy = stat.Mean(m.stats.Accuracy[m.batchStart:], nil)
	}
	for _, p := range m.registered {
		data, err := float64s(p)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			continue
		}
		n := float64(len(data))
		e.MeanAbs[p.Name] = floats.Norm(data, 1) / n
		var pos float64
		for _, v := range data {
			if v > 0 {
				pos++
			}
		}
		e.Positive[p.Name] = pos / n
	}
	m.stats.Epochs = append(m.stats.Epochs, e)
	m.batchStart = len(m.stats.Loss)
	m.signChange = 0

	m.logger.Printf("Epoch %d. Loss: %.4f Accuracy: %.3f Acceptance: %.3f Flip ratio: %v Sign change: %.2f%%",
		epoch, e.MeanLoss, e.MeanAccuracy, acceptance, flipRatio, e.SignChange)

	if m.renderer == nil {
		return nil
	}
	f, err := m.Snapshot(epoch)
	if err != nil {
		return err
	}
	return m.renderer.Encode(f)
}

// Snapshot draws the first registered matrix, or the first binary matrix if
// none is registered, with the latest epoch summary.
func (m *Monitor) Snapshot(epoch int) (Frame, error) {
	candidates := m.registered.Binary().Matrices()
	if len(candidates) == 0 {
		candidates = m.params.Matrices()
	}
	if len(candidates) == 0 {
		return Frame{}, errors.New("no binary matrix to snapshot")
	}
	p := candidates[0]
	signs, err := signsOf(p)
	if err != nil {
		return Frame{}, err
	}
	shape := p.Node.Shape()
	f := Frame{
		Epoch: epoch,
		Param: p.Name,
		Rows:  shape[0],
		Cols:  shape[1],
		Signs: signs,
	}
	if n := len(m.stats.Epochs); n > 0 {
		e := m.stats.Epochs[n-1]
		f.Acceptance = e.Acceptance
		f.FlipRatio = e.FlipRatio
		f.Loss = e.MeanLoss
		f.Accuracy = e.MeanAccuracy
	}
	return f, nil
}

// Flush flushes the renderer, if any.
func (m *Monitor) Flush() error {
	if m.renderer == nil {
		return nil
	}
	return m.renderer.Flush()
}

// Statistics returns the collected series.
func (m *Monitor) Statistics() *Statistics { return &m.stats }

// Log returns the buffered log. It is empty if a logger was passed to New.
func (m *Monitor) Log() string { return m.buf.String() }

func float64s(p binary.Param) ([]float64, error) {
	v := p.Node.Value()
	if v == nil {
		return nil, errors.Errorf("%v has no value bound", p.Name)
	}
	return valueFloats(p.Name, v)
}

// valueFloats reads tensors and scalars alike.
func valueFloats(name string, v G.Value) ([]float64, error) {
	switch data := v.Data().(type) {
	case []float64:
		return data, nil
	case []float32:
		retVal := make([]float64, len(data))
		for i, v := range data {
			retVal[i] = float64(v)
		}
		return retVal, nil
	case float64:
		return []float64{data}, nil
	case float32:
		return []float64{float64(data)}, nil
	}
	return nil, errors.Errorf("%v: unsupported dtype %v", name, v.Dtype())
}

func signsOf(p binary.Param) ([]bool, error) {
	data, err := float64s(p)
	if err != nil {
		return nil, err
	}
	retVal := make([]bool, len(data))
	for i, v := range data {
		retVal[i] = ops.SignValue(v) > 0
	}
	return retVal, nil
}
