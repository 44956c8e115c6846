package anyobj

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/badcode-iip/anycaps"
	"github.com/badcode-iip/anycaps/anygeom"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/floats"
)

func testConfig() Config {
	cfg := DefaultConfig(3, 8, 4)
	cfg.CapsuleDim = 5
	cfg.HiddenSizes = []int{7}
	return cfg
}

func randomRes(c anyvec.Creator, n int) *anydiff.Const {
	v := c.MakeVector(n)
	anyvec.Rand(v, anyvec.Normal, nil)
	return anydiff.NewConst(v)
}

func identities(c anyvec.Creator, n int) *anydiff.Const {
	var data []float64
	for i := 0; i < n; i++ {
		data = append(data, 1, 0, 0, 0, 1, 0, 0, 0, 1)
	}
	return anydiff.NewConst(anyvec.Make(c, data))
}

func TestDecodeShapes(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	dec, err := NewObjectDecoder(c, testConfig())
	require.NoError(t, err)

	res, err := dec.Decode(randomRes(c, 2*3*8), randomRes(c, 2*5*6),
		anyvec.Make(c, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}), 2, nil)
	require.NoError(t, err)

	assert.Equal(t, 2*3*4*6, res.Votes.Output().Len())
	assert.Equal(t, 2*3*4*9, res.VoteMatrices.Output().Len())
	assert.Equal(t, 2*3*4, res.Scales.Output().Len())
	assert.Equal(t, 2*3*4, res.VotePresenceProb.Output().Len())
	assert.Equal(t, 2*3, res.CapsPresenceProb.Output().Len())
	assert.Equal(t, 1, res.LogProb.Output().Len())
	assert.Equal(t, 2*5*6, res.Winner.Output().Len())
	assert.Equal(t, 2*5, res.WinnerPresence.Output().Len())
	assert.Equal(t, 2*5*6, res.SoftWinner.Output().Len())
	assert.Equal(t, 2*5, res.SoftWinnerPresence.Output().Len())
	assert.Equal(t, 2*5*13, res.PosteriorMixingProb.Output().Len())
	assert.Equal(t, 2*13, res.MixingLogit.Output().Len())
	assert.Equal(t, 2*13, res.MixingLogProb.Output().Len())
	assert.Len(t, res.IsFromCapsule, 2*5)
	assert.Len(t, res.VotePresence, 2*5*12)
	assert.Equal(t, 1, res.DeformationLoss.Output().Len())
	assert.Equal(t, 2*3*5, res.RawCapsParams.Output().Len())
	assert.Equal(t, 2*3, res.CapsExist.Len())
}

func TestDecodePresenceRange(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	for _, noise := range []NoiseKind{NoNoise, UniformNoise, LogisticNoise} {
		cfg := testConfig()
		cfg.DropoutRate = 0.3
		cfg.Noise = noise
		cfg.NoiseScale = 4
		dec, err := NewObjectDecoder(c, cfg)
		require.NoError(t, err)
		dec.Capsules.CapsPresenceBias.Vector.AddScalar(c.MakeNumeric(3))

		res, err := dec.Decode(randomRes(c, 4*3*8), randomRes(c, 4*6*6), nil, 4,
			rand.NewPCG(1, 2))
		require.NoError(t, err)
		for _, x := range anycaps.Floats(res.VotePresenceProb.Output()) {
			assert.True(t, x >= 0 && x <= 1, "vote presence %f (%v)", x, noise)
		}
		for _, x := range anycaps.Floats(res.CapsPresenceProb.Output()) {
			assert.True(t, x >= 0 && x <= 1, "capsule presence %f (%v)", x, noise)
		}
	}
}

func TestPosteriorSumsToOne(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	dec, err := NewObjectDecoder(c, testConfig())
	require.NoError(t, err)
	res, err := dec.Decode(randomRes(c, 2*3*8), randomRes(c, 2*5*6), nil, 2, nil)
	require.NoError(t, err)

	post := anycaps.Floats(res.PosteriorMixingProb.Output())
	for i := 0; i < 2*5; i++ {
		assert.InDelta(t, 1, floats.Sum(post[i*13:(i+1)*13]), 1e-8)
	}
	logProbs := anycaps.Floats(res.MixingLogProb.Output())
	for b := 0; b < 2; b++ {
		assert.InDelta(t, 0, floats.LogSumExp(logProbs[b*13:(b+1)*13]), 1e-8)
	}
}

func TestDisabledDeformations(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testConfig()
	cfg.AllowDeformations = false
	caps, err := NewCapsuleLayer(c, cfg)
	require.NoError(t, err)
	anyvec.Rand(caps.StaticOPR.Vector, anyvec.Normal, nil)

	parent := &Parent{Transform: identities(c, 2*3)}
	res1, err := caps.Apply(randomRes(c, 2*3*8), 2, parent, nil)
	require.NoError(t, err)
	res2, err := caps.Apply(randomRes(c, 2*3*8), 2, parent, nil)
	require.NoError(t, err)

	votes1 := anycaps.Floats(res1.VoteMatrices.Output())
	votes2 := anycaps.Floats(res2.VoteMatrices.Output())
	assert.True(t, floats.EqualApprox(votes1, votes2, 1e-12))

	// The penalty still reflects the suppressed predictions.
	assert.Greater(t, anycaps.Floats(res1.DeformationLoss.Output())[0], 0.0)

	caps.Config.AllowDeformations = true
	res3, err := caps.Apply(randomRes(c, 2*3*8), 2, parent, nil)
	require.NoError(t, err)
	assert.False(t, floats.EqualApprox(votes1, anycaps.Floats(res3.VoteMatrices.Output()),
		1e-12))
}

func TestNoDropoutExistence(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	caps, err := NewCapsuleLayer(c, testConfig())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		res, err := caps.Apply(randomRes(c, 3*3*8), 3, nil, rand.NewPCG(uint64(i), 0))
		require.NoError(t, err)
		for _, x := range anycaps.Floats(res.CapsExist) {
			assert.Equal(t, 1.0, x)
		}
	}
}

func TestSeededDropout(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testConfig()
	cfg.DropoutRate = 0.5
	cfg.Noise = UniformNoise
	cfg.NoiseScale = 2
	caps, err := NewCapsuleLayer(c, cfg)
	require.NoError(t, err)
	features := randomRes(c, 10*3*8)

	res1, err := caps.Apply(features, 10, nil, rand.NewPCG(3, 7))
	require.NoError(t, err)
	res2, err := caps.Apply(features, 10, nil, rand.NewPCG(3, 7))
	require.NoError(t, err)

	exist := anycaps.Floats(res1.CapsExist)
	assert.Equal(t, exist, anycaps.Floats(res2.CapsExist))
	assert.Equal(t, anycaps.Floats(res1.CapsPresenceLogit.Output()),
		anycaps.Floats(res2.CapsPresenceLogit.Output()))

	logits := anycaps.Floats(res1.CapsPresenceLogit.Output())
	var dropped int
	for i, x := range exist {
		if x == 0 {
			dropped++
			assert.Less(t, logits[i], -1e7)
		}
	}
	assert.True(t, dropped > 0 && dropped < len(exist), "dropped %d", dropped)
}

func TestUniformNoiseBounds(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testConfig()
	caps, err := NewCapsuleLayer(c, cfg)
	require.NoError(t, err)
	features := randomRes(c, 2*3*8)
	clean, err := caps.Apply(features, 2, nil, nil)
	require.NoError(t, err)

	caps.Config.Noise = UniformNoise
	caps.Config.NoiseScale = 0.5
	noisy, err := caps.Apply(features, 2, nil, rand.NewPCG(5, 5))
	require.NoError(t, err)

	diff := anycaps.Floats(noisy.VotePresenceLogit.Output())
	floats.Sub(diff, anycaps.Floats(clean.VotePresenceLogit.Output()))
	for _, x := range diff {
		assert.True(t, math.Abs(x) <= 0.25, "noise %f", x)
	}
	assert.NotZero(t, floats.Norm(diff, 2))
}

func TestParentPresence(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	caps, err := NewCapsuleLayer(c, testConfig())
	require.NoError(t, err)
	parentPres := []float64{0, 0.5, 1, 0.25, 0.75, 0.1}
	res, err := caps.Apply(randomRes(c, 2*3*8), 2, &Parent{
		Presence: anydiff.NewConst(anyvec.Make(c, parentPres)),
	}, nil)
	require.NoError(t, err)
	votePres := anycaps.Floats(res.VotePresenceProb.Output())
	for i, x := range votePres {
		assert.True(t, x <= parentPres[i/4], "vote %d: %f > %f", i, x, parentPres[i/4])
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, 0.0, votePres[i])
	}
}

func TestMaxGos(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	caps, err := NewCapsuleLayer(c, testConfig())
	require.NoError(t, err)
	features := randomRes(c, 2*3*8)
	res1, err := caps.Apply(features, 2, nil, nil)
	require.NoError(t, err)
	caps.MaxGos = 1
	res2, err := caps.Apply(features, 2, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, anycaps.Floats(res1.VoteMatrices.Output()),
		anycaps.Floats(res2.VoteMatrices.Output()))
}

func TestNegativeMaxGos(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	caps, err := NewCapsuleLayer(c, testConfig())
	require.NoError(t, err)
	features := randomRes(c, 2*3*8)
	caps.MaxGos = 1
	res1, err := caps.Apply(features, 2, nil, nil)
	require.NoError(t, err)
	for _, maxGos := range []int{-1, 0, 100} {
		caps.MaxGos = maxGos
		res2, err := caps.Apply(features, 2, nil, nil)
		require.NoError(t, err, "MaxGos=%d", maxGos)
		assert.Equal(t, anycaps.Floats(res1.VoteMatrices.Output()),
			anycaps.Floats(res2.VoteMatrices.Output()), "MaxGos=%d", maxGos)
	}
}

func TestConfigChangedAfterConstruction(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	mutations := []func(cfg *Config){
		func(cfg *Config) { cfg.Noise = 7 },
		func(cfg *Config) { cfg.NoiseScale = -1 },
		func(cfg *Config) { cfg.NumVotes = 5 },
		func(cfg *Config) { cfg.CapsuleDim = 2 },
	}
	for i, mutate := range mutations {
		dec, err := NewObjectDecoder(c, testConfig())
		require.NoError(t, err)
		mutate(&dec.Capsules.Config)
		_, err = dec.Decode(randomRes(c, 2*3*8), randomRes(c, 2*5*6), nil, 2,
			rand.NewPCG(1, 1))
		require.Error(t, err, "case %d", i)
		_, ok := errors.Cause(err).(*anycaps.ConfigError)
		assert.True(t, ok, "case %d: unexpected error %v", i, err)
	}
}

func TestDummyWinsFlag(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	l := &Likelihood{
		NumCapsules: 1,
		NumVotes:    1,
		Votes:       anydiff.NewConst(c.MakeVector(6)),
		Scales:      anydiff.NewConst(anyvec.Make(c, []float64{1})),
		Presence:    anydiff.NewConst(anyvec.Make(c, []float64{0.9})),
		DummyVote:   anydiff.NewConst(c.MakeVector(6)),
	}
	points := make([]float64, 12)
	for j := 6; j < 12; j++ {
		points[j] = 1e3
	}
	res, err := l.Evaluate(anydiff.NewConst(anyvec.Make(c, points)), nil, 1)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true}, res.DummyWins)

	// Winners only range over real votes.
	assert.Equal(t, []int{0, 0}, res.WinnerIndex)
	assert.Equal(t, []int{0, 0}, res.IsFromCapsule)
}

func TestDummyWins(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := DefaultConfig(1, 4, 1)
	cfg.CapsuleDim = 3
	cfg.HiddenSizes = []int{5}
	dec, err := NewObjectDecoder(c, cfg)
	require.NoError(t, err)
	dec.Capsules.CapsPresenceBias.Vector.AddScalar(c.MakeNumeric(-1000))

	res, err := dec.Decode(randomRes(c, 2*1*4), randomRes(c, 2*7*6), nil, 2, nil)
	require.NoError(t, err)

	for _, claimed := range res.VotePresence {
		assert.False(t, claimed)
	}
	mixing := anycaps.Floats(res.MixingLogit.Output())
	assert.InDelta(t, -2*math.Ln10, mixing[1], 1e-12)
	assert.InDelta(t, -2*math.Ln10, mixing[3], 1e-12)

	post := anycaps.Floats(res.PosteriorMixingProb.Output())
	for i := 0; i < 2*7; i++ {
		assert.Equal(t, 1, floats.MaxIdx(post[i*2:i*2+2]))
		assert.InDelta(t, 1, post[i*2+1], 1e-8)
	}
	for _, x := range anycaps.Floats(res.WinnerPresence.Output()) {
		assert.InDelta(t, 0, x, 1e-12)
	}
	assert.Equal(t, make([]int, 2*7), res.IsFromCapsule)
	for i, dummy := range res.DummyWins {
		assert.True(t, dummy, "point %d", i)
	}

	// The soft winner collapses onto the dummy vote.
	dec.DummyVote.Vector.SetData(c.MakeNumericList([]float64{1, 2, 3, 4, 5, 6}))
	res, err = dec.Decode(randomRes(c, 2*1*4), randomRes(c, 2*7*6), nil, 2, nil)
	require.NoError(t, err)
	soft := anycaps.Floats(res.SoftWinner.Output())
	for i := 0; i < 2*7; i++ {
		assert.True(t, floats.EqualApprox(soft[i*6:(i+1)*6], []float64{1, 2, 3, 4, 5, 6},
			1e-6))
	}
}

func TestVoteScale(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	in := anydiff.NewConst(anyvec.Make(c, []float64{-50, -10, -0.5, 0, 3, 50}))
	out := anycaps.Floats(VoteScale(in).Output())
	for _, x := range out {
		assert.Greater(t, x, 0.0)
	}
	assert.InDelta(t, 0.9840769841801067, out[3], 1e-12)
	assert.InDelta(t, math.Log(2)+0.01, out[2], 1e-12)
}

func TestFixedVoteScale(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testConfig()
	cfg.LearnVoteScale = false
	caps, err := NewCapsuleLayer(c, cfg)
	require.NoError(t, err)
	res, err := caps.Apply(randomRes(c, 2*3*8), 2, nil, nil)
	require.NoError(t, err)
	for _, x := range anycaps.Floats(res.Scales.Output()) {
		assert.Equal(t, 1.0, x)
	}
}

func TestLikelihoodMasking(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	l := randomLikelihood(c, 2, 2, 3)
	points := anycaps.Floats(randomRes(c, 2*4*6).Output())
	presence := anyvec.Make(c, []float64{1, 0, 1, 1, 1, 1, 0, 1})

	res1, err := l.Evaluate(anydiff.NewConst(anyvec.Make(c, points)), presence, 2)
	require.NoError(t, err)

	moved := append([]float64{}, points...)
	for j := 0; j < 6; j++ {
		moved[1*6+j] = 1e3
		moved[6*6+j] = -1e3
	}
	res2, err := l.Evaluate(anydiff.NewConst(anyvec.Make(c, moved)), presence, 2)
	require.NoError(t, err)

	assert.Equal(t, anycaps.Floats(res1.LogProb.Output()), anycaps.Floats(res2.LogProb.Output()))

	unmasked, err := l.Evaluate(anydiff.NewConst(anyvec.Make(c, moved)), nil, 2)
	require.NoError(t, err)
	assert.NotEqual(t, anycaps.Floats(res1.LogProb.Output()),
		anycaps.Floats(unmasked.LogProb.Output()))
}

func TestLikelihoodReference(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	const batch, numCaps, numVotes, numPoints = 2, 2, 3, 4
	l := randomLikelihood(c, batch, numCaps, numVotes)
	pointVec := randomRes(c, batch*numPoints*6)
	res, err := l.Evaluate(pointVec, nil, batch)
	require.NoError(t, err)

	votes := anycaps.Floats(l.Votes.Output())
	scales := anycaps.Floats(l.Scales.Output())
	presence := anycaps.Floats(l.Presence.Output())
	points := anycaps.Floats(pointVec.Output())
	const numComps = numCaps * numVotes

	var total float64
	for b := 0; b < batch; b++ {
		for m := 0; m < numPoints; m++ {
			logits := make([]float64, numComps+1)
			for k := 0; k < numComps; k++ {
				sigma := scales[b*numComps+k]
				logits[k] = math.Log(presence[b*numComps+k])
				for j := 0; j < 6; j++ {
					z := (points[(b*numPoints+m)*6+j] - votes[(b*numComps+k)*6+j]) / sigma
					logits[k] += -0.5*z*z - math.Log(sigma) - 0.5*math.Log(2*math.Pi)
				}
			}
			logits[numComps] = -4 * math.Ln10
			total += floats.LogSumExp(logits)

			best := floats.MaxIdx(logits[:numComps])
			idx := b*numPoints + m
			assert.Equal(t, best, res.WinnerIndex[idx])
			assert.Equal(t, best/numVotes, res.IsFromCapsule[idx])
			assert.Equal(t, floats.MaxIdx(logits) == numComps, res.DummyWins[idx])
			assert.Equal(t, votes[(b*numComps+best)*6:(b*numComps+best+1)*6],
				anycaps.Floats(res.Winner.Output())[idx*6:(idx+1)*6])
		}
	}
	assert.InDelta(t, total/batch, anycaps.Floats(res.LogProb.Output())[0], 1e-8)
}

func TestLikelihoodGradients(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	l := randomLikelihood(c, 2, 2, 2)
	points := anydiff.NewVar(randomRes(c, 2*3*6).Output())
	vars := []*anydiff.Var{
		points,
		l.Votes.(*anydiff.Var),
		l.Scales.(*anydiff.Var),
		l.Presence.(*anydiff.Var),
		l.DummyVote.(*anydiff.Var),
	}
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			res, err := l.Evaluate(points, nil, 2)
			if err != nil {
				t.Fatal(err)
			}
			return anydiff.Concat(res.LogProb, res.SoftWinner, res.SoftWinnerPresence,
				res.Winner, res.WinnerPresence, res.MixingLogProb)
		},
		V: vars,
	}
	checker.FullCheck(t)
}

func TestCapsuleLayerGradients(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := DefaultConfig(2, 3, 2)
	cfg.CapsuleDim = 3
	cfg.HiddenSizes = []int{4}
	cfg.Transform = anygeom.Affine
	caps, err := NewCapsuleLayer(c, cfg)
	require.NoError(t, err)
	anyvec.Rand(caps.StaticOPR.Vector, anyvec.Normal, nil)
	features := anydiff.NewVar(randomRes(c, 2*2*3).Output())
	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			res, err := caps.Apply(features, 2, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			return anydiff.Concat(res.VoteMatrices, res.Scales, res.VotePresenceProb,
				res.DeformationLoss)
		},
		V:     append([]*anydiff.Var{features}, caps.Parameters()...),
		Delta: 1e-5,
		Prec:  1e-3,
	}
	checker.FullCheck(t)
}

func TestShapeErrors(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	dec, err := NewObjectDecoder(c, testConfig())
	require.NoError(t, err)

	cases := []struct {
		features, points int
		presence         anyvec.Vector
	}{
		{2*3*8 + 1, 2 * 5 * 6, nil},
		{2 * 3 * 8, 2*5*6 + 3, nil},
		{2 * 3 * 8, 0, nil},
		{2 * 3 * 8, 2 * 5 * 6, c.MakeVector(9)},
	}
	for i, tc := range cases {
		_, err := dec.Decode(randomRes(c, tc.features), randomRes(c, tc.points),
			tc.presence, 2, nil)
		require.Error(t, err, "case %d", i)
		_, ok := errors.Cause(err).(*anycaps.ShapeError)
		assert.True(t, ok, "case %d: unexpected error %v", i, err)
	}

	_, err = dec.DecodeParent(randomRes(c, 2*3*8), randomRes(c, 2*5*6), nil, 2,
		&Parent{Transform: identities(c, 5)}, nil)
	_, ok := errors.Cause(err).(*anycaps.ShapeError)
	assert.True(t, ok, "unexpected error %v", err)
}

func TestConfigErrors(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	mutations := []func(cfg *Config){
		func(cfg *Config) { cfg.NumVotes = 0 },
		func(cfg *Config) { cfg.FeatureDim = -1 },
		func(cfg *Config) { cfg.HiddenSizes = []int{4, 0} },
		func(cfg *Config) { cfg.DropoutRate = 1.5 },
		func(cfg *Config) { cfg.Noise = 7 },
		func(cfg *Config) { cfg.NoiseScale = -1 },
		func(cfg *Config) { cfg.Transform = 3 },
		func(cfg *Config) { cfg.Activation = 9 },
	}
	for i, mutate := range mutations {
		cfg := testConfig()
		mutate(&cfg)
		_, err := NewObjectDecoder(c, cfg)
		require.Error(t, err, "case %d", i)
		_, ok := errors.Cause(err).(*anycaps.ConfigError)
		assert.True(t, ok, "case %d: unexpected error %v", i, err)
	}

	for _, name := range []string{"", "none", "uniform", "logistic"} {
		kind, err := ParseNoiseKind(name)
		require.NoError(t, err)
		if name != "" {
			assert.Equal(t, name, kind.String())
		}
	}
	_, err := ParseNoiseKind("gaussian")
	_, ok := errors.Cause(err).(*anycaps.ConfigError)
	assert.True(t, ok)
}

func TestDecoderSerialize(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	dec, err := NewObjectDecoder(c, testConfig())
	require.NoError(t, err)
	anyvec.Rand(dec.Capsules.StaticOPR.Vector, anyvec.Normal, nil)
	anyvec.Rand(dec.DummyVote.Vector, anyvec.Normal, nil)

	data, err := serializer.SerializeAny(dec)
	require.NoError(t, err)
	var dec1 *ObjectDecoder
	require.NoError(t, serializer.DeserializeAny(data, &dec1))

	assert.Equal(t, dec.Capsules.Config, dec1.Capsules.Config)
	assert.Equal(t, len(dec.Parameters()), len(dec1.Parameters()))

	features, points := randomRes(c, 2*3*8), randomRes(c, 2*5*6)
	res, err := dec.Decode(features, points, nil, 2, nil)
	require.NoError(t, err)
	res1, err := dec1.Decode(features, points, nil, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, anycaps.Floats(res.LogProb.Output()), anycaps.Floats(res1.LogProb.Output()))
	assert.Equal(t, anycaps.Floats(res.SoftWinner.Output()),
		anycaps.Floats(res1.SoftWinner.Output()))
}

func TestActivationConfig(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cfg := testConfig()
	cfg.Activation = anycaps.Tanh
	dec, err := NewObjectDecoder(c, cfg)
	require.NoError(t, err)
	for _, net := range append(dec.Capsules.CapsMLPs, dec.Capsules.VoteMLPs...) {
		assert.Contains(t, net, anycaps.Tanh)
		assert.NotContains(t, net, anycaps.ReLU)
	}

	data, err := serializer.SerializeAny(dec)
	require.NoError(t, err)
	var dec1 *ObjectDecoder
	require.NoError(t, serializer.DeserializeAny(data, &dec1))
	assert.Equal(t, anycaps.Tanh, dec1.Capsules.Config.Activation)

	features, points := randomRes(c, 2*3*8), randomRes(c, 2*5*6)
	res, err := dec.Decode(features, points, nil, 2, nil)
	require.NoError(t, err)
	res1, err := dec1.Decode(features, points, nil, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, anycaps.Floats(res.LogProb.Output()), anycaps.Floats(res1.LogProb.Output()))
}

func randomLikelihood(c anyvec.Creator, batch, numCaps, numVotes int) *Likelihood {
	n := batch * numCaps * numVotes
	scales := c.MakeVector(n)
	anyvec.Rand(scales, anyvec.Uniform, nil)
	scales.AddScalar(c.MakeNumeric(0.5))
	presence := c.MakeVector(n)
	anyvec.Rand(presence, anyvec.Uniform, nil)
	presence.Scale(c.MakeNumeric(0.8))
	presence.AddScalar(c.MakeNumeric(0.1))
	return &Likelihood{
		NumCapsules: numCaps,
		NumVotes:    numVotes,
		Votes:       anydiff.NewVar(randomRes(c, n*6).Output()),
		Scales:      anydiff.NewVar(scales),
		Presence:    anydiff.NewVar(presence),
		DummyVote:   anydiff.NewVar(randomRes(c, 6).Output()),
	}
}
