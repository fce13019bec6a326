package bnn

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Accuracy is the fraction of rows whose argmax agrees between outputs and
// one-hot labels.
func Accuracy(outputs, labels *tensor.Dense) (float64, error) {
	if !outputs.Shape().Eq(labels.Shape()) || outputs.Dims() != 2 {
		return 0, errors.Errorf("expected two matrices of the same shape, got %v and %v", outputs.Shape(), labels.Shape())
	}
	predicted, err := outputs.Argmax(1)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	expected, err := labels.Argmax(1)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	p := predicted.Ints()
	e := expected.Ints()
	var correct int
	for i := range p {
		if p[i] == e[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(p)), nil
}
