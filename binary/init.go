package binary

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Bernoulli returns an initialization function that draws every element
// independently from {-1, +1} with equal probability.
func Bernoulli(src rand.Source) G.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		dist := distuv.Bernoulli{P: 0.5, Src: src}
		size := tensor.Shape(s).TotalSize()
		switch dt {
		case tensor.Float64:
			retVal := make([]float64, size)
			for i := range retVal {
				retVal[i] = 2*dist.Rand() - 1
			}
			return retVal
		case tensor.Float32:
			retVal := make([]float32, size)
			for i := range retVal {
				retVal[i] = float32(2*dist.Rand() - 1)
			}
			return retVal
		default:
			panic(fmt.Sprintf("Dtype %v not yet supported for Bernoulli init", dt))
		}
	}
}
