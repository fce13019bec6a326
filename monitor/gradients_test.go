package monitor

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/gorgonia/bnn"
	"github.com/stretchr/testify/assert"
)

func trainedMonitor(t *testing.T, fwdOnly bool) *Monitor {
	conf := bnn.DefaultConf(8, 8, 1, 3)
	conf.ConvChannels = []int{4}
	conf.FC = []int{8}
	conf.BatchSize = 4
	conf.FwdOnly = fwdOnly
	n := bnn.New(conf)
	if err := n.Init(); err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(func() { n.Close() })

	m, err := New(n.Params(), nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, name := range []string{"fc0_w", "scale"} {
		if err := m.Register(name); err != nil {
			t.Fatalf("%+v", err)
		}
	}

	xs, ys, err := bnn.Blobs(2*conf.BatchSize, conf.Classes, conf.Channels, conf.Height, conf.Width, 5)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if fwdOnly {
		x, y, err := bnn.Batch(xs, ys, 0, conf.BatchSize)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if _, _, err := n.Evaluate(x, y); err != nil {
			t.Fatalf("%+v", err)
		}
		if err := m.UpdateGradients(); err != nil {
			t.Fatalf("%+v", err)
		}
	} else {
		hook := func(b bnn.BatchResult) error {
			acc, err := bnn.Accuracy(b.Outputs, b.Labels)
			if err != nil {
				return err
			}
			m.BatchFinished(b.Loss, acc)
			return m.UpdateGradients()
		}
		if _, err := bnn.Train(n, xs, ys, 2, 1, bnn.WithBatchHook(hook)); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	if err := m.EpochFinished(0, 0, 0); err != nil {
		t.Fatalf("%+v", err)
	}
	return m
}

func TestGradientsOfTrainedNet(t *testing.T) {
	assert := assert.New(t)
	m := trainedMonitor(t, false)
	stats := m.Statistics()

	assert.Len(stats.Loss, 2, "one loss per batch")
	e := stats.Epochs[0]
	for _, name := range []string{"fc0_w", "scale"} {
		g, ok := e.Grads[name]
		if !assert.True(ok, "no gradient recorded for %v", name) {
			continue
		}
		assert.False(math.IsNaN(g.Norm))
		assert.True(g.Norm >= 0)
		assert.True(g.Min <= g.Max)
		assert.True(math.Abs(g.Min) <= g.Norm && math.Abs(g.Max) <= g.Norm)
	}
	// the output scale is a single value
	assert.Equal(math.Abs(e.Grads["scale"].Min), e.Grads["scale"].Norm)
	assert.Equal(e.Grads["scale"].Min, e.Grads["scale"].Max)

	var buf bytes.Buffer
	assert.NoError(stats.Dump(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if assert.Len(lines, 2) {
		assert.Contains(lines[0], "scale.grad_norm")
		assert.False(strings.HasSuffix(lines[1], ",,,"), "gradient columns are filled: %q", lines[1])
	}
}

func TestGradientsOfForwardOnlyNet(t *testing.T) {
	m := trainedMonitor(t, true)
	assert.Empty(t, m.Statistics().Epochs[0].Grads)
}
