// Package mcmc trains binary parameters without gradients, by proposing sign
// flips of weight sub-blocks and accepting or rejecting them stochastically on
// the change in loss.
//
// Every step moves through the same states: a proposal is built, the model is
// evaluated on the current parameters, the flips are applied, the model is
// evaluated again, and the proposal is either kept or undone. After a step the
// parameters hold either the proposal or, bit for bit, their previous values.
package mcmc

import (
	"bytes"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gorgonia/bnn/binary"
	"github.com/gorgonia/bnn/flip"
	"github.com/gorgonia/bnn/internal/errs"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Model is what the sampler evaluates. Outputs returned by Evaluate belong to
// the caller and must not alias buffers reused by later evaluations.
type Model interface {
	Evaluate(x, y *tensor.Dense) (outputs *tensor.Dense, loss float64, err error)
	Params() binary.Params
}

// Checkpointer tells the trainer when to decay its flip ratio and reset its
// counters, typically when validation accuracy plateaus.
type Checkpointer interface {
	NeedReset() bool
}

// Observer is notified of every committed step and every reset.
type Observer interface {
	OnStep(s Step)
	OnReset(flipRatio float64)
}

// Step describes a committed proposal.
type Step struct {
	Names    []string // flipped parameters, in proposal order
	Flipped  int      // total number of flipped entries
	Accepted bool
	Proba    float64 // acceptance probability
	LossOld  float64
	LossNew  float64
}

// Opt configures a Trainer.
type Opt func(t *Trainer)

// WithProposer overrides the proposal strategy of the configured variant.
func WithProposer(p Proposer) Opt { return func(t *Trainer) { t.propose = p } }

// WithAcceptor overrides the acceptance strategy of the configured variant.
func WithAcceptor(a Acceptor) Opt { return func(t *Trainer) { t.accept = a } }

// WithObserver sets the observer.
func WithObserver(o Observer) Opt { return func(t *Trainer) { t.obs = o } }

// WithRand sets the random source used for sampling neurons, choosing layers
// and drawing the accept/reject decision.
func WithRand(r *rand.Rand) Opt { return func(t *Trainer) { t.rng = r } }

// WithLogger replaces the trainer's buffered logger.
func WithLogger(l *log.Logger) Opt { return func(t *Trainer) { t.logger = l } }

// Trainer is the MCMC sampler.
type Trainer struct {
	Config

	model   Model
	propose Proposer
	accept  Acceptor
	obs     Observer
	rng     *rand.Rand

	// state
	flipRatio float64
	accepted  int
	total     int

	buf    bytes.Buffer
	logger *log.Logger
}

// New creates a Trainer for model.
func New(model Model, conf Config, opts ...Opt) (*Trainer, error) {
	if !conf.IsValid() {
		return nil, errors.Errorf("invalid MCMC config %+v", conf)
	}
	t := &Trainer{
		Config:    conf,
		model:     model,
		flipRatio: conf.FlipRatio,
	}
	t.logger = log.New(&t.buf, "", log.Ltime)
	t.propose, t.accept = conf.Variant.strategies()
	for _, opt := range opts {
		opt(t)
	}
	if t.rng == nil {
		t.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	t.logger.Printf("%v sampler. Flip ratio: %v", t.Variant, t.flipRatio)
	return t, nil
}

// Step runs one proposal on the batch (x, y) and returns the outputs and loss
// of whichever state was committed.
//
// Errors leave the parameters as they were before the call and do not count
// as a proposal.
func (t *Trainer) Step(x, y *tensor.Dense) (outputs *tensor.Dense, loss float64, err error) {
	flips, err := t.propose.Propose(t.model.Params(), t.flipRatio, t.rng)
	if err != nil {
		return nil, 0, err
	}
	defer release(flips)

	outOld, lossOld, err := t.model.Evaluate(x, y)
	if err != nil {
		return nil, 0, errors.Wrap(err, "evaluating current parameters")
	}

	for _, f := range flips {
		f.Flip()
	}

	outNew, lossNew, err := t.model.Evaluate(x, y)
	if err != nil {
		err = errors.Wrap(err, "evaluating proposal")
		return nil, 0, errs.Join(err, restore(flips))
	}

	proba := t.accept.Accept(lossNew, lossOld, t.flipRatio)
	accepted := t.rng.Float64() <= proba
	if accepted {
		t.accepted++
		outputs, loss = outNew, lossNew
	} else {
		if err = restore(flips); err != nil {
			return nil, 0, err
		}
		outputs, loss = outOld, lossOld
	}
	t.total++

	if t.obs != nil {
		s := Step{
			Accepted: accepted,
			Proba:    proba,
			LossOld:  lossOld,
			LossNew:  lossNew,
		}
		for _, f := range flips {
			s.Names = append(s.Names, f.Name())
			s.Flipped += f.Len()
		}
		t.obs.OnStep(s)
	}
	return outputs, loss, nil
}

// AcceptanceRatio is accepted/total since the last reset, or 0 before any
// proposal.
func (t *Trainer) AcceptanceRatio() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.accepted) / float64(t.total)
}

// Counts returns the accepted and total proposal counts since the last reset.
func (t *Trainer) Counts() (accepted, total int) { return t.accepted, t.total }

// FlipRatio returns the current fraction of neurons sampled per proposal.
func (t *Trainer) FlipRatio() float64 { return t.flipRatio }

// Reset decays the flip ratio, down to MinFlipRatio, and zeroes the counters.
func (t *Trainer) Reset() {
	t.flipRatio = math.Max(t.flipRatio*t.Decay, t.MinFlipRatio)
	t.accepted = 0
	t.total = 0
	t.logger.Printf("Checkpoint reset. Flip ratio: %v", t.flipRatio)
	if t.obs != nil {
		t.obs.OnReset(t.flipRatio)
	}
}

// EpochFinished resets the trainer if cp asks for it, and reports whether it
// did.
func (t *Trainer) EpochFinished(cp Checkpointer) bool {
	if cp == nil || !cp.NeedReset() {
		return false
	}
	t.Reset()
	return true
}

// Log returns what the trainer logged into its buffer. It is empty if a logger
// was supplied with WithLogger.
func (t *Trainer) Log() string { return t.buf.String() }

func restore(flips []flip.Flipper) error {
	failed := make([]error, 0, len(flips))
	for _, f := range flips {
		failed = append(failed, f.Restore())
	}
	return errs.Join(failed...)
}

type releaser interface {
	Release()
}

func release(flips []flip.Flipper) {
	for _, f := range flips {
		if r, ok := f.(releaser); ok {
			r.Release()
		}
	}
}
