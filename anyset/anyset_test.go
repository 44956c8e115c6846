package anyset

import (
	"testing"

	"github.com/badcode-iip/anycaps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/floats"
)

func testConfigs() map[string]Config {
	base := Config{
		InputDim:   3,
		HiddenDim:  8,
		OutputDim:  6,
		NumOutputs: 4,
		NumLayers:  2,
		NumHeads:   3,
	}
	normed := base
	normed.LayerNorm = true
	induced := normed
	induced.NumInducing = 5
	return map[string]Config{"SAB": base, "SAB+LN": normed, "ISAB": induced}
}

func randomPoints(c anyvec.Creator, n int) anyvec.Vector {
	v := c.MakeVector(n)
	anyvec.Rand(v, anyvec.Normal, nil)
	return v
}

func TestSetTransformerShape(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	for name, cfg := range testConfigs() {
		st, err := NewSetTransformer(c, cfg)
		require.NoError(t, err, name)
		out := st.Encode(anydiff.NewConst(randomPoints(c, 2*7*3)), 2, nil)
		assert.Equal(t, 2*4*6, out.Output().Len(), name)
	}
}

func TestSetTransformerPermutationInvariance(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	for name, cfg := range testConfigs() {
		st, err := NewSetTransformer(c, cfg)
		require.NoError(t, err, name)
		points := randomPoints(c, 2*5*3)

		perm := []int{3, 0, 4, 1, 2}
		var table []int
		for b := 0; b < 2; b++ {
			for _, p := range perm {
				for k := 0; k < 3; k++ {
					table = append(table, (b*5+p)*3+k)
				}
			}
		}
		permuted := anycaps.Gather(anydiff.NewConst(points), table)

		expected := anycaps.Floats(st.Encode(anydiff.NewConst(points), 2, nil).Output())
		actual := anycaps.Floats(st.Encode(permuted, 2, nil).Output())
		if !floats.EqualApprox(actual, expected, 1e-8) {
			t.Errorf("%s: expected %v but got %v", name, expected, actual)
		}
	}
}

func TestSetTransformerPresenceMask(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	for name, cfg := range testConfigs() {
		st, err := NewSetTransformer(c, cfg)
		require.NoError(t, err, name)

		points := randomPoints(c, 4*3)
		padded := c.Concat(points, randomPoints(c, 2*3))
		presence := anyvec.Make(c, []float64{1, 1, 1, 1, 0, 0})

		expected := anycaps.Floats(st.Encode(anydiff.NewConst(points), 1, nil).Output())
		actual := anycaps.Floats(st.Encode(anydiff.NewConst(padded), 1, presence).Output())
		if !floats.EqualApprox(actual, expected, 1e-8) {
			t.Errorf("%s: expected %v but got %v", name, expected, actual)
		}
	}
}

func TestSetTransformerGradients(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := Config{
		InputDim:    2,
		HiddenDim:   4,
		OutputDim:   3,
		NumOutputs:  2,
		NumLayers:   1,
		NumHeads:    2,
		LayerNorm:   true,
		NumInducing: 2,
	}
	st, err := NewSetTransformer(c, cfg)
	require.NoError(t, err)
	inVar := anydiff.NewVar(randomPoints(c, 2*3*2))
	presence := anyvec.Make(c, []float64{1, 1, 0, 1, 0, 1})
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return st.Encode(inVar, 2, presence)
		},
		V: append([]*anydiff.Var{inVar}, st.Parameters()...),
	}
	checker.FullCheck(t)
}

func TestAttentionHeadWidths(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	a := NewAttention(c, 7, 5, 3)
	assert.Equal(t, 9, a.QueryProj.OutCount)
	assert.Equal(t, 9, a.KeyProj.OutCount)
	assert.Equal(t, 6, a.ValueProj.OutCount)
	assert.Equal(t, 5, a.OutProj.OutCount)
}

func TestLayerNormStatistics(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	ln := NewLayerNorm(c, 8)
	in := randomPoints(c, 3*8)
	in.AddScalar(c.MakeNumeric(5))
	out := anycaps.Floats(ln.Apply(anydiff.NewConst(in), 3).Output())
	for i := 0; i < 3; i++ {
		row := out[i*8 : (i+1)*8]
		mean := floats.Sum(row) / 8
		assert.InDelta(t, 0, mean, 1e-8)
		variance := floats.Dot(row, row)/8 - mean*mean
		assert.InDelta(t, 1, variance, 1e-2)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfigs()["SAB"]
	cfg.NumHeads = 0
	_, err := NewSetTransformer(anyvec64.DefaultCreator{}, cfg)
	assert.Error(t, err)

	cfg = testConfigs()["SAB"]
	cfg.NumInducing = -1
	assert.Error(t, cfg.Validate())
}

func TestSetTransformerSerialize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	for name, cfg := range testConfigs() {
		st, err := NewSetTransformer(c, cfg)
		require.NoError(t, err, name)
		data, err := serializer.SerializeAny(st)
		require.NoError(t, err, name)
		var st1 *SetTransformer
		require.NoError(t, serializer.DeserializeAny(data, &st1), name)

		points := anydiff.NewConst(randomPoints(c, 2*4*3))
		expected := anycaps.Floats(st.Encode(points, 2, nil).Output())
		actual := anycaps.Floats(st1.Encode(points, 2, nil).Output())
		if !floats.Equal(actual, expected) {
			t.Errorf("%s: deserialized encoder disagrees", name)
		}
		assert.Equal(t, len(st.Parameters()), len(st1.Parameters()), name)
	}
}
