package anyobj

import (
	"fmt"

	"github.com/badcode-iip/anycaps"
	"github.com/badcode-iip/anycaps/anygeom"
)

// A NoiseKind selects the noise added to presence logits.
type NoiseKind int

const (
	NoNoise NoiseKind = iota

	// UniformNoise is drawn from [-scale/2, scale/2).
	UniformNoise

	// LogisticNoise is drawn from a logistic distribution
	// with location 0 and the noise scale.
	LogisticNoise
)

// ParseNoiseKind parses "none" (or ""), "uniform" or
// "logistic".
func ParseNoiseKind(s string) (NoiseKind, error) {
	switch s {
	case "", "none":
		return NoNoise, nil
	case "uniform":
		return UniformNoise, nil
	case "logistic":
		return LogisticNoise, nil
	}
	return 0, anycaps.NewConfigError("noise kind", "unknown kind %q", s)
}

// String returns the name accepted by ParseNoiseKind.
func (n NoiseKind) String() string {
	switch n {
	case NoNoise:
		return "none"
	case UniformNoise:
		return "uniform"
	case LogisticNoise:
		return "logistic"
	}
	return fmt.Sprintf("NoiseKind(%d)", int(n))
}

// Config holds the construction-time options of a
// CapsuleLayer.
type Config struct {
	NumCapsules int
	FeatureDim  int
	NumVotes    int
	CapsuleDim  int

	// HiddenSizes lists the hidden layer widths of both
	// per-capsule MLPs.
	HiddenSizes []int

	// Activation follows every hidden layer of both MLPs.
	// The zero value is ReLU.
	Activation anycaps.Activation

	// DropoutRate is the probability of dropping an entire
	// capsule on a forward pass.
	DropoutRate float64

	// LearnVoteScale enables input-dependent vote scales.
	// Otherwise every vote has scale 1.
	LearnVoteScale bool

	// AllowDeformations enables the input-dependent part of
	// the object-part relationship.
	AllowDeformations bool

	Noise      NoiseKind
	NoiseScale float64

	Transform anygeom.Kind
}

// DefaultConfig creates a Config with the usual options
// for the given dimensions.
func DefaultConfig(numCapsules, featureDim, numVotes int) Config {
	return Config{
		NumCapsules:       numCapsules,
		FeatureDim:        featureDim,
		NumVotes:          numVotes,
		CapsuleDim:        32,
		HiddenSizes:       []int{128},
		LearnVoteScale:    true,
		AllowDeformations: true,
		Transform:         anygeom.Similarity,
	}
}

// Validate returns a *anycaps.ConfigError (wrapped with a
// stack trace) if any option is invalid.
func (c *Config) Validate() error {
	for _, field := range []struct {
		name  string
		value int
	}{
		{"NumCapsules", c.NumCapsules},
		{"FeatureDim", c.FeatureDim},
		{"NumVotes", c.NumVotes},
		{"CapsuleDim", c.CapsuleDim},
	} {
		if field.value <= 0 {
			return anycaps.NewConfigError(field.name, "must be positive (got %d)",
				field.value)
		}
	}
	for i, size := range c.HiddenSizes {
		if size <= 0 {
			return anycaps.NewConfigError("HiddenSizes",
				"layer %d must be positive (got %d)", i, size)
		}
	}
	switch c.Activation {
	case anycaps.ReLU, anycaps.Sigmoid, anycaps.Tanh, anycaps.SoftplusActivation:
	default:
		return anycaps.NewConfigError("Activation", "unknown activation %d",
			int(c.Activation))
	}
	if c.DropoutRate < 0 || c.DropoutRate > 1 {
		return anycaps.NewConfigError("DropoutRate", "must be in [0, 1] (got %f)",
			c.DropoutRate)
	}
	switch c.Noise {
	case NoNoise, UniformNoise, LogisticNoise:
	default:
		return anycaps.NewConfigError("Noise", "unknown kind %d", int(c.Noise))
	}
	if c.NoiseScale < 0 {
		return anycaps.NewConfigError("NoiseScale", "must not be negative (got %f)",
			c.NoiseScale)
	}
	switch c.Transform {
	case anygeom.Similarity, anygeom.Affine:
	default:
		return anycaps.NewConfigError("Transform", "unknown kind %d", int(c.Transform))
	}
	return nil
}

// outputSizes returns the widths of the five sections of
// a vote MLP's output: the dynamic object-part relations,
// the object-viewer relation, the capsule presence logit,
// the vote presence logits and the raw vote scales.
func (c *Config) outputSizes() []int {
	return []int{c.NumVotes * anygeom.NumParams, anygeom.NumParams, 1, c.NumVotes,
		c.NumVotes}
}

func (c *Config) numOutputs() int {
	var sum int
	for _, x := range c.outputSizes() {
		sum += x
	}
	return sum
}
