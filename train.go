package bnn

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// BatchResult is what one batch of gradient training produced.
type BatchResult struct {
	Iteration, Batch int
	Loss             float64
	Outputs          *tensor.Dense // copy of the scaled logits
	Labels           *tensor.Dense
}

// TrainOpt configures Train.
type TrainOpt func(t *trainer)

// WithBatchHook calls f after every batch, before the solver step. The
// gradients of the parameters, read with Node.Grad, are those of the batch
// while f runs. An error from f stops training.
func WithBatchHook(f func(BatchResult) error) TrainOpt {
	return func(t *trainer) { t.hook = f }
}

type trainer struct {
	hook func(BatchResult) error
}

// Train is a basic gradient trainer. Each batch runs with binarized weights;
// the Adam step is applied to the restored real-valued weights. It returns the
// mean loss of the last iteration.
func Train(n *Net, xs, ys *tensor.Dense, batches, iterations int, opts ...TrainOpt) (float64, error) {
	if n.FwdOnly {
		return 0, errors.New("cannot train a forward only network")
	}
	if rows := xs.Shape()[0]; rows < batches*n.BatchSize {
		return 0, errors.Errorf("%d batches of %d need %d examples, got %d", batches, n.BatchSize, batches*n.BatchSize, rows)
	}
	var t trainer
	for _, opt := range opts {
		opt(&t)
	}

	solver := G.NewAdamSolver(G.WithLearnRate(n.LearnRate), G.WithL2Reg(n.L2))
	model := G.NodesToValueGrads(n.Model())
	r := rand.New(rand.NewPCG(n.Seed, 1))

	var loss float64
	for i := 0; i < iterations; i++ {
		loss = 0
		for bat := 0; bat < batches; bat++ {
			x, y, err := Batch(xs, ys, bat, n.BatchSize)
			if err != nil {
				return 0, err
			}
			res := BatchResult{Iteration: i, Batch: bat, Labels: y}
			if err = n.trainStep(x, y, solver, model, &res, t.hook); err != nil {
				return 0, errors.Wrapf(err, "iteration %d batch %d", i, bat)
			}
			loss += res.Loss
		}
		loss /= float64(batches)
		if err := shuffleBatch(xs, ys, r); err != nil {
			return 0, err
		}
	}
	return loss, nil
}

func (n *Net) trainStep(x, y *tensor.Dense, solver G.Solver, model []G.ValueGrad, res *BatchResult, hook func(BatchResult) error) (err error) {
	defer n.vm.Reset()
	if err = n.run(x, y); err != nil {
		return err
	}
	if res.Loss, err = n.loss(); err != nil {
		return err
	}
	if hook != nil {
		if res.Outputs, err = n.outputs(); err != nil {
			return err
		}
		if err = hook(*res); err != nil {
			return err
		}
	}
	return errors.WithStack(solver.Step(model))
}

// shuffleBatch shuffles the examples and their labels together.
func shuffleBatch(Xs, ys *tensor.Dense, r *rand.Rand) (err error) {
	oriXs := Xs.Shape().Clone()
	oriYs := ys.Shape().Clone()
	defer func() {
		Xs.Reshape(oriXs...)
		ys.Reshape(oriYs...)
	}()
	if err = Xs.Reshape(as2D(Xs.Shape())...); err != nil {
		return errors.WithStack(err)
	}
	if err = ys.Reshape(as2D(ys.Shape())...); err != nil {
		return errors.WithStack(err)
	}

	var matXs, matYs [][]float32
	if matXs, err = native.MatrixF32(Xs); err != nil {
		return errors.Wrapf(err, "shuffle batch failed - Xs")
	}
	if matYs, err = native.MatrixF32(ys); err != nil {
		return errors.Wrapf(err, "shuffle batch failed - ys")
	}

	tmpX := make([]float32, len(matXs[0]))
	tmpY := make([]float32, len(matYs[0]))
	for i := range matXs {
		j := r.IntN(i + 1)
		copy(tmpX, matXs[i])
		copy(matXs[i], matXs[j])
		copy(matXs[j], tmpX)

		copy(tmpY, matYs[i])
		copy(matYs[i], matYs[j])
		copy(matYs[j], tmpY)
	}
	return nil
}

func as2D(s tensor.Shape) tensor.Shape {
	retVal := tensor.BorrowInts(2)
	retVal[0] = s[0]
	retVal[1] = 1
	for i := 1; i < len(s); i++ {
		retVal[1] *= s[i]
	}
	return retVal
}
