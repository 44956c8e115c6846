package anysparse

import (
	"math"
	"testing"

	"github.com/badcode-iip/anycaps"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func scalar(r anydiff.Res) float64 {
	return anycaps.Floats(r.Output())[0]
}

func presence(c anyvec.Creator, data ...float64) anydiff.Res {
	return anydiff.NewConst(anyvec.Make(c, data))
}

func TestL2(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	p := presence(c, 1, 0, 0.5, 0.5)
	within, between := (&L2{NumClasses: 2}).Loss(p, 2)
	assert.InDelta(t, 0, scalar(within), 1e-12)
	assert.InDelta(t, 0.25, scalar(between), 1e-12)

	target := 0.5
	within, _ = (&L2{NumClasses: 2, WithinConstant: &target}).Loss(p, 2)
	assert.InDelta(t, 0.25, scalar(within), 1e-12)
}

func TestEntropy(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	p := presence(c, 0.5, 0.5, 0.5, 0.5)
	within, between := (&Entropy{K: 1}).Loss(p, 2)
	assert.InDelta(t, math.Ln2, scalar(within), 1e-6)
	assert.InDelta(t, -math.Ln2, scalar(between), 1e-6)

	p = presence(c, 1, 0, 0, 1)
	within, between = (&Entropy{K: 1}).Loss(p, 2)
	assert.InDelta(t, 0, scalar(within), 1e-6)
	assert.InDelta(t, -math.Ln2, scalar(between), 1e-6)
}

func TestKL(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	within, between := KL{}.Loss(presence(c, 0.5, 0.5, 0.5, 0.5), 2)
	assert.InDelta(t, 0, scalar(within), 1e-6)
	assert.InDelta(t, 0, scalar(between), 1e-6)
}

func TestByName(t *testing.T) {
	for _, name := range []string{"l2", "entropy", "kl"} {
		loss, err := ByName(name, 10)
		require.NoError(t, err)
		assert.NotNil(t, loss)
	}
	for _, tc := range []struct {
		name       string
		numClasses int
	}{{"l1", 10}, {"l2", 0}} {
		_, err := ByName(tc.name, tc.numClasses)
		_, ok := errors.Cause(err).(*anycaps.ConfigError)
		assert.True(t, ok, "%s: unexpected error %v", tc.name, err)
	}
}

func TestGradients(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	vec := c.MakeVector(3 * 4)
	anyvec.Rand(vec, anyvec.Uniform, nil)
	vec.Scale(c.MakeNumeric(0.8))
	vec.AddScalar(c.MakeNumeric(0.1))
	v := anydiff.NewVar(vec)
	for _, name := range []string{"l2", "entropy", "kl"} {
		loss, err := ByName(name, 5)
		require.NoError(t, err)
		checker := anydifftest.ResChecker{
			F: func() anydiff.Res {
				within, between := loss.Loss(v, 3)
				return anydiff.Concat(within, between)
			},
			V: []*anydiff.Var{v},
		}
		checker.FullCheck(t)
	}
}
