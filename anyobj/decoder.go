package anyobj

import (
	"math/rand/v2"

	"github.com/badcode-iip/anycaps"
	"github.com/badcode-iip/anycaps/anygeom"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// DecodeResult bundles the capsule and likelihood outputs
// of an ObjectDecoder.
type DecodeResult struct {
	*CapsuleOutput
	*LikelihoodResult

	// Votes is [B, O, N, 6], the vote matrices without
	// their constant last row.
	Votes anydiff.Res

	// CapsPresenceProb is [B, O], the largest presence
	// probability among each capsule's votes.
	CapsPresenceProb anydiff.Res
}

// An ObjectDecoder explains observed parts with the votes
// of object capsules.
type ObjectDecoder struct {
	Capsules *CapsuleLayer

	// DummyVote is the learned [6] vote of the mixture
	// component that absorbs unexplained points.
	DummyVote *anydiff.Var
}

// NewObjectDecoder creates a decoder with a new
// CapsuleLayer and a zero dummy vote.
func NewObjectDecoder(c anyvec.Creator, cfg Config) (*ObjectDecoder, error) {
	caps, err := NewCapsuleLayer(c, cfg)
	if err != nil {
		return nil, err
	}
	return &ObjectDecoder{
		Capsules:  caps,
		DummyVote: anydiff.NewVar(c.MakeVector(anygeom.NumParams)),
	}, nil
}

// Decode runs the decoder on [B, O, FeatureDim] features
// and [B, M, 6] points.
//
// The presence vector is an optional [B, M] point mask.
// The source drives capsule dropout and presence noise;
// if it is nil, the global generator is used.
//
// Shape problems are reported as *anycaps.ShapeError
// before anything is computed.
func (o *ObjectDecoder) Decode(features, points anydiff.Res, presence anyvec.Vector,
	batch int, src rand.Source) (*DecodeResult, error) {
	return o.DecodeParent(features, points, presence, batch, nil, src)
}

// DecodeParent is like Decode, but lets a higher level of
// a capsule hierarchy override the object-viewer
// relations or capsule presences.
func (o *ObjectDecoder) DecodeParent(features, points anydiff.Res, presence anyvec.Vector,
	batch int, parent *Parent, src rand.Source) (*DecodeResult, error) {
	if err := o.Capsules.checkShapes(features, batch, parent); err != nil {
		return nil, err
	}
	if _, err := checkPoints(points, presence, batch); err != nil {
		return nil, err
	}
	cfg := &o.Capsules.Config

	caps, err := o.Capsules.Apply(features, batch, parent, src)
	if err != nil {
		return nil, err
	}
	votes := anygeom.Trim(caps.VoteMatrices)
	likelihood := &Likelihood{
		NumCapsules: cfg.NumCapsules,
		NumVotes:    cfg.NumVotes,
		Votes:       votes,
		Scales:      caps.Scales,
		Presence:    caps.VotePresenceProb,
		DummyVote:   o.DummyVote,
	}
	ll, err := likelihood.Evaluate(points, presence, batch)
	if err != nil {
		return nil, err
	}
	return &DecodeResult{
		CapsuleOutput:    caps,
		LikelihoodResult: ll,
		Votes:            votes,
		CapsPresenceProb: anycaps.MaxChunks(caps.VotePresenceProb, cfg.NumVotes),
	}, nil
}

// Parameters returns the capsule layer's parameters
// followed by the dummy vote.
func (o *ObjectDecoder) Parameters() []*anydiff.Var {
	return append(o.Capsules.Parameters(), o.DummyVote)
}
