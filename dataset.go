package bnn

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// Blobs generates a synthetic classification set of n examples shaped
// channels × height × width. Every class is a Gaussian blob around its own
// random center image. Labels are one-hot.
func Blobs(n, classes, channels, height, width int, seed uint64) (xs, ys *tensor.Dense, err error) {
	if n < 1 || classes < 2 || channels < 1 || height < 1 || width < 1 {
		return nil, nil, errors.Errorf("cannot generate %d examples of %d classes shaped %d×%d×%d", n, classes, channels, height, width)
	}
	src := rand.NewPCG(seed, 2)
	size := channels * height * width

	uniform := distuv.Uniform{Min: -1, Max: 1, Src: src}
	centers := make([][]float32, classes)
	for c := range centers {
		centers[c] = make([]float32, size)
		for i := range centers[c] {
			centers[c][i] = float32(uniform.Rand())
		}
	}

	noise := distuv.Normal{Mu: 0, Sigma: 0.5, Src: src}
	r := rand.New(src)
	x := make([]float32, n*size)
	y := make([]float32, n*classes)
	for i := 0; i < n; i++ {
		c := r.IntN(classes)
		y[i*classes+c] = 1
		row := x[i*size : (i+1)*size]
		for j := range row {
			row[j] = centers[c][j] + float32(noise.Rand())
		}
	}
	xs = tensor.New(tensor.WithShape(n, channels, height, width), tensor.WithBacking(x))
	ys = tensor.New(tensor.WithShape(n, classes), tensor.WithBacking(y))
	return xs, ys, nil
}

// Labels returns the class index of each one-hot row.
func Labels(ys *tensor.Dense) ([]int, error) {
	am, err := ys.Argmax(1)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return am.Ints(), nil
}

// Batch returns the i-th batch of size examples of xs and ys.
func Batch(xs, ys *tensor.Dense, i, size int) (x, y *tensor.Dense, err error) {
	var s slicer
	start, end := i*size, (i+1)*size
	if end > xs.Shape()[0] || end > ys.Shape()[0] {
		return nil, nil, errors.Errorf("batch %d of %d is out of range of %d examples", i, size, xs.Shape()[0])
	}
	x = s.rows(xs, start, end)
	y = s.rows(ys, start, end)
	if s.err != nil {
		return nil, nil, s.err
	}
	return x, y, nil
}
