package main

import (
	"flag"
	"log"
	"os"

	"github.com/gorgonia/bnn"
	"github.com/gorgonia/bnn/encoding/gif"
	"github.com/gorgonia/bnn/mcmc"
	"github.com/gorgonia/bnn/monitor"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var (
	variant   = flag.String("variant", "single", "training: sgd, single, tree or gibbs")
	epochs    = flag.Int("epochs", 20, "epochs")
	batches   = flag.Int("batches", 8, "training batches per epoch")
	batchSize = flag.Int("batchsize", 32, "batch size")
	classes   = flag.Int("classes", 4, "classes of the synthetic dataset")
	seed      = flag.Uint64("seed", 1337, "seed of the dataset and the weight init")
	flipRatio = flag.Float64("flipratio", 0.1, "initial MCMC flip ratio")
	patience  = flag.Int("patience", 3, "epochs without validation improvement before the flip ratio decays")
	statsFile = flag.String("stats", "", "write per-epoch statistics to this CSV file")
	gifFile   = flag.String("gif", "", "render the sign map of the first fc layer to this GIF file")
	dotFile   = flag.String("dot", "", "write the architecture to this graphviz file")
)

const side = 8

type run struct {
	net     *bnn.Net
	sampler *mcmc.Trainer // nil for gradient training
	mon     *monitor.Monitor
	cp      *bnn.Checkpoint

	trainX, trainY *tensor.Dense
	testX, testY   *tensor.Dense
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime)
	if err := do(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func do() error {
	conf := bnn.DefaultConf(side, side, 1, *classes)
	conf.BatchSize = *batchSize
	conf.Seed = *seed
	conf.FwdOnly = *variant != "sgd"

	xs, ys, err := bnn.Blobs((*batches+1)**batchSize, *classes, 1, side, side, *seed)
	if err != nil {
		return err
	}
	r := &run{
		net: bnn.New(conf),
		cp:  &bnn.Checkpoint{Patience: *patience},
	}
	// the last batch is held out
	if r.trainX, r.trainY, err = bnn.Batch(xs, ys, 0, *batches**batchSize); err != nil {
		return err
	}
	if r.testX, r.testY, err = bnn.Batch(xs, ys, *batches, *batchSize); err != nil {
		return err
	}

	if err = r.net.Init(); err != nil {
		return err
	}
	defer r.net.Close()
	if *dotFile != "" {
		if err = os.WriteFile(*dotFile, []byte(r.net.ToDot()), 0644); err != nil {
			return errors.WithStack(err)
		}
	}

	logger := log.New(os.Stderr, "", log.Ltime)
	if r.mon, err = monitor.New(r.net.Params(), logger); err != nil {
		return err
	}
	for _, name := range []string{"fc0_w", "scale"} {
		if err = r.mon.Register(name); err != nil {
			return err
		}
	}
	if *gifFile != "" {
		f, err := os.Create(*gifFile)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		r.mon.SetRenderer(gif.NewGifEncoder(f, 600, 800))
	}

	if *variant != "sgd" {
		v, err := mcmc.ParseVariant(*variant)
		if err != nil {
			return err
		}
		mconf := mcmc.DefaultConfig()
		mconf.Variant = v
		mconf.FlipRatio = *flipRatio
		if r.sampler, err = mcmc.New(r.net, mconf, mcmc.WithObserver(r.mon), mcmc.WithLogger(logger)); err != nil {
			return err
		}
	}

	for epoch := 0; epoch < *epochs; epoch++ {
		if err = r.epoch(epoch); err != nil {
			return errors.Wrapf(err, "epoch %d", epoch)
		}
	}
	log.Printf("Best validation accuracy: %.3f", r.cp.Best())

	if err = r.mon.Flush(); err != nil {
		return err
	}
	if *statsFile != "" {
		f, err := os.Create(*statsFile)
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		return r.mon.Statistics().Dump(f)
	}
	return nil
}

func (r *run) epoch(epoch int) error {
	if r.sampler == nil {
		hook := func(b bnn.BatchResult) error {
			acc, err := bnn.Accuracy(b.Outputs, b.Labels)
			if err != nil {
				return err
			}
			r.mon.BatchFinished(b.Loss, acc)
			return r.mon.UpdateGradients()
		}
		if _, err := bnn.Train(r.net, r.trainX, r.trainY, *batches, 1, bnn.WithBatchHook(hook)); err != nil {
			return err
		}
	} else {
		for b := 0; b < *batches; b++ {
			x, y, err := bnn.Batch(r.trainX, r.trainY, b, *batchSize)
			if err != nil {
				return err
			}
			out, loss, err := r.sampler.Step(x, y)
			if err != nil {
				return err
			}
			acc, err := bnn.Accuracy(out, y)
			if err != nil {
				return err
			}
			r.mon.BatchFinished(loss, acc)
		}
	}
	if _, err := r.mon.UpdateSigns(); err != nil {
		return err
	}

	r.net.SetTesting()
	out, _, err := r.net.Evaluate(r.testX, r.testY)
	r.net.SetTraining()
	if err != nil {
		return err
	}
	acc, err := bnn.Accuracy(out, r.testY)
	if err != nil {
		return err
	}
	if r.cp.Update(acc) {
		log.Printf("Epoch %d. New best validation accuracy: %.3f", epoch, acc)
	}

	var acceptance, ratio float64
	if r.sampler != nil {
		acceptance, ratio = r.sampler.AcceptanceRatio(), r.sampler.FlipRatio()
		r.sampler.EpochFinished(r.cp)
	}
	return r.mon.EpochFinished(epoch, acceptance, ratio)
}
