// Package anyobj implements the object-capsule part of a
// Stacked Capsule Autoencoder: per-capsule vote
// prediction, the vote mixture likelihood over observed
// parts, and the decoder tying them together.
//
// All tensors are flat vectors packed in row-major order.
// The comments use [B, O, N, ...] to denote a batch of B
// examples, O object capsules and N votes per capsule.
package anyobj

import (
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/badcode-iip/anycaps"
	"github.com/badcode-iip/anycaps/anygeom"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Parent supplies pose information from a higher level of
// a capsule hierarchy.
// Either field may be nil.
type Parent struct {
	// Transform replaces the predicted object-viewer
	// relations with [B, O, 3, 3] matrices.
	Transform anydiff.Res

	// Presence replaces the predicted capsule presence
	// probabilities with [B, O] values.
	Presence anydiff.Res
}

// CapsuleOutput is the result of a CapsuleLayer.
type CapsuleOutput struct {
	// VoteMatrices is [B, O, N, 3, 3]: the object-viewer
	// relation composed with each object-part relation.
	VoteMatrices anydiff.Res

	// Scales is [B, O, N].
	Scales anydiff.Res

	// VotePresenceProb is [B, O, N].
	VotePresenceProb anydiff.Res

	CapsPresenceLogit anydiff.Res // [B, O]
	VotePresenceLogit anydiff.Res // [B, O, N]

	// DeformationLoss is half the squared norm of the
	// predicted dynamic object-part relations divided by
	// the batch size.
	// It is measured before deformations are disabled, so
	// it reflects what the model tried to predict.
	DeformationLoss anydiff.Res

	RawCapsParams anydiff.Res // [B, O, CapsuleDim]
	CapsFeatures  anydiff.Res // [B, O, FeatureDim]

	// CapsExist is [B, O] with a 1 for every capsule that
	// survived dropout.
	CapsExist anyvec.Vector
}

// CapsuleLayer predicts votes from object features.
//
// Every capsule owns two MLPs.
// The first maps the capsule's feature vector to capsule
// parameters, and the second maps those parameters (plus
// an existence flag) to the raw vote outputs.
// No weights are shared between capsules.
type CapsuleLayer struct {
	// Config must describe the learned parameters below.
	// Apply re-checks it and fails with a
	// *anycaps.ConfigError if it was changed into
	// something invalid.
	Config Config

	CapsMLPs []anycaps.Net
	VoteMLPs []anycaps.Net

	// Per-capsule biases for the object-viewer relation,
	// presence logits and raw scales.
	OVRBias          *anydiff.Var
	CapsPresenceBias *anydiff.Var
	VotePresenceBias *anydiff.Var
	ScaleBias        *anydiff.Var

	// StaticOPR is the [O, N, 6] input-independent part
	// of the object-part relations.
	StaticOPR *anydiff.Var

	// MaxGos limits the goroutines used to evaluate the
	// per-capsule MLPs.
	// If it is 0 or negative, GOMAXPROCS is used.
	MaxGos int
}

// NewCapsuleLayer creates a randomly initialized layer.
// Biases and static relations start at zero.
func NewCapsuleLayer(c anyvec.Creator, cfg Config) (*CapsuleLayer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.HiddenSizes = append([]int{}, cfg.HiddenSizes...)
	res := &CapsuleLayer{
		Config:           cfg,
		OVRBias:          anydiff.NewVar(c.MakeVector(cfg.NumCapsules * anygeom.NumParams)),
		CapsPresenceBias: anydiff.NewVar(c.MakeVector(cfg.NumCapsules)),
		VotePresenceBias: anydiff.NewVar(c.MakeVector(cfg.NumCapsules * cfg.NumVotes)),
		ScaleBias:        anydiff.NewVar(c.MakeVector(cfg.NumCapsules * cfg.NumVotes)),
		StaticOPR: anydiff.NewVar(c.MakeVector(cfg.NumCapsules * cfg.NumVotes *
			anygeom.NumParams)),
	}
	capsSizes := append(append([]int{cfg.FeatureDim}, cfg.HiddenSizes...), cfg.CapsuleDim)
	voteSizes := append(append([]int{cfg.CapsuleDim + 1}, cfg.HiddenSizes...),
		cfg.numOutputs())
	for i := 0; i < cfg.NumCapsules; i++ {
		res.CapsMLPs = append(res.CapsMLPs,
			anycaps.NewMLP(c, capsSizes, cfg.Activation, true))
		res.VoteMLPs = append(res.VoteMLPs,
			anycaps.NewMLP(c, voteSizes, cfg.Activation, false))
	}
	if err := res.checkConsistency(); err != nil {
		return nil, err
	}
	return res, nil
}

// Apply predicts the votes for a batch of object
// features, packed as [B, O, FeatureDim].
//
// The parent may be nil.
// The source drives capsule dropout and presence noise;
// if it is nil, the global generator is used.
func (c *CapsuleLayer) Apply(features anydiff.Res, batch int, parent *Parent,
	src rand.Source) (*CapsuleOutput, error) {
	if err := c.checkConsistency(); err != nil {
		return nil, err
	}
	if err := c.checkShapes(features, batch, parent); err != nil {
		return nil, err
	}
	cfg := &c.Config
	numCaps, numVotes := cfg.NumCapsules, cfg.NumVotes
	cr := features.Output().Creator()

	keepProb := 1 - cfg.DropoutRate
	exist := anycaps.BernoulliMask(cr, batch*numCaps, keepProb, src)

	capsParams, rawOutputs := c.applyMLPs(features, exist, batch)
	rawCaps := anycaps.ConcatRows(batch, capsParams...)
	outputs := anycaps.SplitRows(anycaps.ConcatRows(batch, rawOutputs...),
		batch*numCaps, cfg.outputSizes()...)
	dynamicOPR, ovrParams, capsLogit, voteLogit, rawScale := outputs[0], outputs[1],
		outputs[2], outputs[3], outputs[4]

	regLoss := anydiff.Scale(anycaps.L2Loss(dynamicOPR), cr.MakeNumeric(1/float64(batch)))
	if !cfg.AllowDeformations {
		dynamicOPR = anycaps.Constant(cr, dynamicOPR.Output().Len(), 0)
	}
	transform := anygeom.Transform{Kind: cfg.Transform, Nonlinear: true}
	opr := transform.Matrices(anydiff.Add(dynamicOPR, anycaps.Tile(c.StaticOPR, batch)))

	ovrParams = anydiff.AddRepeated(ovrParams, c.OVRBias)
	capsLogit = anydiff.AddRepeated(capsLogit, c.CapsPresenceBias)
	voteLogit = anydiff.AddRepeated(voteLogit, c.VotePresenceBias)
	rawScale = anydiff.AddRepeated(rawScale, c.ScaleBias)

	var ovr anydiff.Res
	if parent != nil && parent.Transform != nil {
		ovr = parent.Transform
	} else {
		ovr = transform.Matrices(ovrParams)
	}
	votes := anygeom.Compose(ovr, opr)

	if cfg.DropoutRate > 0 {
		capsLogit = anydiff.Add(capsLogit, anycaps.SafeLog(anydiff.NewConst(exist)))
	}
	capsLogit = c.addNoise(capsLogit, src)
	voteLogit = c.addNoise(voteLogit, src)

	var capsPresence anydiff.Res
	if parent != nil && parent.Presence != nil {
		capsPresence = parent.Presence
	} else {
		capsPresence = anydiff.Sigmoid(capsLogit)
	}
	votePresence := anydiff.Mul(anycaps.RepeatChunks(capsPresence, 1, numVotes),
		anydiff.Sigmoid(voteLogit))

	var scales anydiff.Res
	if cfg.LearnVoteScale {
		scales = VoteScale(rawScale)
	} else {
		scales = anycaps.Constant(cr, batch*numCaps*numVotes, 1)
	}

	return &CapsuleOutput{
		VoteMatrices:      votes,
		Scales:            scales,
		VotePresenceProb:  votePresence,
		CapsPresenceLogit: capsLogit,
		VotePresenceLogit: voteLogit,
		DeformationLoss:   regLoss,
		RawCapsParams:     rawCaps,
		CapsFeatures:      features,
		CapsExist:         exist,
	}, nil
}

// Parameters returns every learned parameter.
func (c *CapsuleLayer) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for i := range c.CapsMLPs {
		res = append(res, c.CapsMLPs[i].Parameters()...)
		res = append(res, c.VoteMLPs[i].Parameters()...)
	}
	return append(res, c.OVRBias, c.CapsPresenceBias, c.VotePresenceBias, c.ScaleBias,
		c.StaticOPR)
}

// VoteScale maps raw scale predictions to strictly
// positive vote scales via softplus(x+0.5) + 0.01.
func VoteScale(raw anydiff.Res) anydiff.Res {
	c := raw.Output().Creator()
	shifted := anydiff.AddScalar(raw, c.MakeNumeric(0.5))
	return anydiff.AddScalar(anycaps.Softplus(shifted), c.MakeNumeric(1e-2))
}

func (c *CapsuleLayer) checkShapes(features anydiff.Res, batch int, parent *Parent) error {
	cfg := &c.Config
	if batch <= 0 {
		return anycaps.CheckShape("batch", batch, 1)
	}
	err := anycaps.CheckShape("features", features.Output().Len(), batch, cfg.NumCapsules,
		cfg.FeatureDim)
	if err != nil {
		return err
	}
	if parent != nil && parent.Transform != nil {
		err := anycaps.CheckShape("parent transform", parent.Transform.Output().Len(), batch,
			cfg.NumCapsules, 3, 3)
		if err != nil {
			return err
		}
	}
	if parent != nil && parent.Presence != nil {
		err := anycaps.CheckShape("parent presence", parent.Presence.Output().Len(), batch,
			cfg.NumCapsules)
		if err != nil {
			return err
		}
	}
	return nil
}

// applyMLPs evaluates both MLPs of every capsule, in
// parallel across capsules.
// It returns [B, CapsuleDim] parameters and [B, outputs]
// raw outputs per capsule.
func (c *CapsuleLayer) applyMLPs(features anydiff.Res, exist anyvec.Vector,
	batch int) (params, outputs []anydiff.Res) {
	cfg := &c.Config
	numCaps := cfg.NumCapsules
	params = make([]anydiff.Res, numCaps)
	outputs = make([]anydiff.Res, numCaps)

	existRes := anydiff.NewConst(exist)

	idxChan := make(chan int, numCaps)
	for i := 0; i < numCaps; i++ {
		idxChan <- i
	}
	close(idxChan)

	maxGos := c.MaxGos
	if maxGos <= 0 {
		maxGos = runtime.GOMAXPROCS(0)
	}
	if maxGos > numCaps {
		maxGos = numCaps
	}

	var wg sync.WaitGroup
	for i := 0; i < maxGos; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxChan {
				featTable := make([]int, 0, batch*cfg.FeatureDim)
				existTable := make([]int, batch)
				for b := 0; b < batch; b++ {
					for j := 0; j < cfg.FeatureDim; j++ {
						featTable = append(featTable, (b*numCaps+i)*cfg.FeatureDim+j)
					}
					existTable[b] = b*numCaps + i
				}
				capsFeature := anycaps.Gather(features, featTable)
				params[i] = c.CapsMLPs[i].Apply(capsFeature, batch)
				augmented := anycaps.ConcatRows(batch, params[i],
					anycaps.Gather(existRes, existTable))
				outputs[i] = c.VoteMLPs[i].Apply(augmented, batch)
			}
		}()
	}
	wg.Wait()

	return params, outputs
}

func (c *CapsuleLayer) addNoise(logits anydiff.Res, src rand.Source) anydiff.Res {
	noise := c.Config.Noise.sample(logits.Output().Creator(), logits.Output().Len(),
		c.Config.NoiseScale, src)
	if noise == nil {
		return logits
	}
	return anydiff.Add(logits, anydiff.NewConst(noise))
}
