package mcmc

import (
	"strings"

	"github.com/pkg/errors"
)

// Variant selects the proposal and acceptance strategies of a Trainer.
type Variant int

const (
	// Single flips a block of one randomly chosen layer and uses the
	// Metropolis rule.
	Single Variant = iota
	// Tree flips a chained block across every binary layer and uses the
	// Metropolis rule.
	Tree
	// Gibbs flips a block of one randomly chosen layer and uses the logistic
	// (Gibbs) rule.
	Gibbs
	MAXVARIANT
)

func (v Variant) String() string {
	switch v {
	case Single:
		return "single"
	case Tree:
		return "tree"
	case Gibbs:
		return "gibbs"
	}
	return "unknown"
}

// ParseVariant is the inverse of Variant.String.
func ParseVariant(s string) (Variant, error) {
	for v := Single; v < MAXVARIANT; v++ {
		if strings.EqualFold(s, v.String()) {
			return v, nil
		}
	}
	return MAXVARIANT, errors.Errorf("unknown MCMC variant %q", s)
}

func (v Variant) strategies() (Proposer, Acceptor) {
	switch v {
	case Tree:
		return AllLayers{}, MetropolisRule{}
	case Gibbs:
		return RandomLayer{}, GibbsRule{}
	}
	return RandomLayer{}, MetropolisRule{}
}

// Config configures a Trainer.
type Config struct {
	FlipRatio    float64 // initial fraction of neurons sampled per proposal. Also the temperature
	Decay        float64 // multiplicative flip ratio decay on checkpoint reset
	MinFlipRatio float64 // floor of the flip ratio
	Variant      Variant
}

// DefaultConfig returns the configuration of the single layer Metropolis
// sampler.
func DefaultConfig() Config {
	return Config{
		FlipRatio:    0.1,
		Decay:        0.7,
		MinFlipRatio: 1e-3,
		Variant:      Single,
	}
}

func (c Config) IsValid() bool {
	return c.MinFlipRatio > 0 &&
		c.FlipRatio >= c.MinFlipRatio &&
		c.FlipRatio <= 1 &&
		c.Decay > 0 && c.Decay < 1 &&
		c.Variant >= Single && c.Variant < MAXVARIANT
}
