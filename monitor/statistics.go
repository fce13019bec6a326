package monitor

import (
	"encoding/csv"
	"io"
	"strconv"
)

// Statistics are the series collected by a Monitor.
type Statistics struct {
	Registered []string

	// per batch
	Loss     []float64
	Accuracy []float64

	Epochs []EpochStats
}

// EpochStats summarizes one epoch.
type EpochStats struct {
	Epoch        int
	Acceptance   float64
	FlipRatio    float64
	SignChange   float64 // percentage of binary entries whose sign changed during the epoch
	MeanLoss     float64
	MeanAccuracy float64
	MeanAbs      map[string]float64 // of each registered parameter
	Positive     map[string]float64 // fraction of positive entries of each registered parameter
	Grads        map[string]GradStats
}

// GradStats summarizes the gradient of a parameter.
type GradStats struct {
	Norm     float64 // L2
	Min, Max float64
}

func makeStatistics() Statistics {
	return Statistics{
		Loss:     make([]float64, 0, 64),
		Accuracy: make([]float64, 0, 64),
	}
}

// Dump writes one CSV record per epoch, after a header.
func (s *Statistics) Dump(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"epoch", "acceptance", "flip_ratio", "sign_change", "loss", "accuracy"}
	for _, name := range s.Registered {
		header = append(header, name+".mean_abs", name+".positive", name+".grad_norm", name+".grad_min", name+".grad_max")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	records := make([][]string, 0, len(s.Epochs))
	for _, e := range s.Epochs {
		record := []string{
			strconv.Itoa(e.Epoch),
			format(e.Acceptance),
			format(e.FlipRatio),
			format(e.SignChange),
			format(e.MeanLoss),
			format(e.MeanAccuracy),
		}
		for _, name := range s.Registered {
			record = append(record, format(e.MeanAbs[name]), format(e.Positive[name]))
			if g, ok := e.Grads[name]; ok {
				record = append(record, format(g.Norm), format(g.Min), format(g.Max))
			} else {
				// no gradient, as in MCMC training
				record = append(record, "", "", "")
			}
		}
		records = append(records, record)
	}
	// WriteAll flushes
	return cw.WriteAll(records)
}

func format(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }
