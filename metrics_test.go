package bnn

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func TestAccuracy(t *testing.T) {
	assert := assert.New(t)
	outputs := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking([]float32{
		0.1, 0.8, 0.1,
		0.9, 0.0, 0.1,
		0.2, 0.3, 0.5,
		0.3, 0.3, 0.4,
	}))
	labels := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking([]float32{
		0, 1, 0,
		1, 0, 0,
		1, 0, 0,
		0, 0, 1,
	}))
	acc, err := Accuracy(outputs, labels)
	if assert.NoError(err) {
		assert.Equal(0.75, acc)
	}

	short := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking(make([]float32, 6)))
	_, err = Accuracy(outputs, short)
	assert.Error(err)
}

func TestCheckpoint(t *testing.T) {
	assert := assert.New(t)
	cp := &Checkpoint{Patience: 2}

	assert.True(cp.Update(0.5))
	assert.False(cp.NeedReset())
	assert.False(cp.Update(0.4))
	assert.False(cp.NeedReset())
	assert.False(cp.Update(0.5))
	assert.True(cp.NeedReset())
	assert.False(cp.NeedReset(), "the stale count is cleared by a reset")

	assert.True(cp.Update(0.6))
	assert.Equal(0.6, cp.Best())
	assert.False(cp.NeedReset())
}

func TestBlobs(t *testing.T) {
	assert := assert.New(t)
	xs, ys, err := Blobs(10, 3, 2, 4, 5, 7)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(tensor.Shape{10, 2, 4, 5}, xs.Shape())
	assert.Equal(tensor.Shape{10, 3}, ys.Shape())

	labels, err := Labels(ys)
	if assert.NoError(err) {
		assert.Len(labels, 10)
	}
	y := ys.Data().([]float32)
	for i := 0; i < 10; i++ {
		var sum float32
		for _, v := range y[i*3 : (i+1)*3] {
			sum += v
		}
		assert.Equal(float32(1), sum, "row %d is not one-hot", i)
	}

	// deterministic
	xs2, _, _ := Blobs(10, 3, 2, 4, 5, 7)
	assert.Equal(xs.Data(), xs2.Data())

	_, _, err = Blobs(10, 1, 2, 4, 5, 7)
	assert.Error(err)
}

func TestShuffleBatch(t *testing.T) {
	assert := assert.New(t)
	xs, ys, err := Blobs(16, 4, 1, 2, 2, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	originalXs := xs.Clone().(*tensor.Dense)
	before := pairs(xs, ys)

	if err := shuffleBatch(xs, ys, rand.New(rand.NewPCG(1, 2))); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(tensor.Shape{16, 1, 2, 2}, xs.Shape(), "shape is restored")
	assert.NotEqual(originalXs.Data(), xs.Data())
	assert.ElementsMatch(before, pairs(xs, ys), "examples keep their labels")
}

func pairs(xs, ys *tensor.Dense) []string {
	x := xs.Data().([]float32)
	y := ys.Data().([]float32)
	rows := xs.Shape()[0]
	xw, yw := len(x)/rows, len(y)/rows
	retVal := make([]string, rows)
	for i := range retVal {
		retVal[i] = fmt.Sprint(x[i*xw:(i+1)*xw], y[i*yw:(i+1)*yw])
	}
	return retVal
}
