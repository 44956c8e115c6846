package anyobj

import (
	"github.com/badcode-iip/anycaps"
	"github.com/badcode-iip/anycaps/anygeom"
	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var c CapsuleLayer
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeCapsuleLayer)
	var d ObjectDecoder
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeObjectDecoder)
}

// DeserializeCapsuleLayer deserializes a CapsuleLayer.
//
// The layer's dimensions are checked against its MLPs,
// and inconsistencies produce a *anycaps.ConfigError.
func DeserializeCapsuleLayer(d []byte) (*CapsuleLayer, error) {
	var res CapsuleLayer
	cfg := &res.Config
	var noise, transform int
	var capsNets, voteNets anycaps.Net
	var ovrBias, capsBias, voteBias, scaleBias, staticOPR *anyvecsave.S
	err := serializer.DeserializeAny(d, &cfg.NumCapsules, &cfg.FeatureDim, &cfg.NumVotes,
		&cfg.CapsuleDim, &cfg.DropoutRate, &cfg.LearnVoteScale, &cfg.AllowDeformations,
		&noise, &cfg.NoiseScale, &transform, &capsNets, &voteNets, &ovrBias, &capsBias,
		&voteBias, &scaleBias, &staticOPR)
	if err != nil {
		return nil, essentials.AddCtx("deserialize CapsuleLayer", err)
	}
	cfg.Noise = NoiseKind(noise)
	cfg.Transform = anygeom.Kind(transform)

	res.CapsMLPs, err = subNets(capsNets)
	if err != nil {
		return nil, essentials.AddCtx("deserialize CapsuleLayer", err)
	}
	res.VoteMLPs, err = subNets(voteNets)
	if err != nil {
		return nil, essentials.AddCtx("deserialize CapsuleLayer", err)
	}
	if len(res.CapsMLPs) > 0 {
		cfg.HiddenSizes = hiddenSizes(res.CapsMLPs[0])
		cfg.Activation = hiddenActivation(res.CapsMLPs[0])
	}

	res.OVRBias = anydiff.NewVar(ovrBias.Vector)
	res.CapsPresenceBias = anydiff.NewVar(capsBias.Vector)
	res.VotePresenceBias = anydiff.NewVar(voteBias.Vector)
	res.ScaleBias = anydiff.NewVar(scaleBias.Vector)
	res.StaticOPR = anydiff.NewVar(staticOPR.Vector)

	if err := res.checkConsistency(); err != nil {
		return nil, essentials.AddCtx("deserialize CapsuleLayer", err)
	}
	return &res, nil
}

// SerializerType returns the unique ID used to serialize
// a CapsuleLayer with the serializer package.
func (c *CapsuleLayer) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyobj.CapsuleLayer"
}

// Serialize serializes the layer.
// MaxGos is not saved.
func (c *CapsuleLayer) Serialize() ([]byte, error) {
	cfg := &c.Config
	var capsNets, voteNets anycaps.Net
	for i := range c.CapsMLPs {
		capsNets = append(capsNets, c.CapsMLPs[i])
		voteNets = append(voteNets, c.VoteMLPs[i])
	}
	return serializer.SerializeAny(
		cfg.NumCapsules, cfg.FeatureDim, cfg.NumVotes, cfg.CapsuleDim,
		cfg.DropoutRate, cfg.LearnVoteScale, cfg.AllowDeformations,
		int(cfg.Noise), cfg.NoiseScale, int(cfg.Transform),
		capsNets, voteNets,
		&anyvecsave.S{Vector: c.OVRBias.Vector},
		&anyvecsave.S{Vector: c.CapsPresenceBias.Vector},
		&anyvecsave.S{Vector: c.VotePresenceBias.Vector},
		&anyvecsave.S{Vector: c.ScaleBias.Vector},
		&anyvecsave.S{Vector: c.StaticOPR.Vector},
	)
}

// checkConsistency verifies that the configuration
// agrees with the shapes of the learned parameters.
func (c *CapsuleLayer) checkConsistency() error {
	cfg := &c.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(c.CapsMLPs) != cfg.NumCapsules || len(c.VoteMLPs) != cfg.NumCapsules {
		return anycaps.NewConfigError("NumCapsules", "have %d and %d MLPs for %d capsules",
			len(c.CapsMLPs), len(c.VoteMLPs), cfg.NumCapsules)
	}
	for i := range c.VoteMLPs {
		if in, out := netWidths(c.CapsMLPs[i]); in != cfg.FeatureDim || out != cfg.CapsuleDim {
			return anycaps.NewConfigError("CapsMLPs", "capsule %d maps %d to %d values", i,
				in, out)
		}
		in, out := netWidths(c.VoteMLPs[i])
		if in != cfg.CapsuleDim+1 || out != cfg.numOutputs() {
			return anycaps.NewConfigError("VoteMLPs",
				"capsule %d maps %d to %d values but the output partition needs %d to %d",
				i, in, out, cfg.CapsuleDim+1, cfg.numOutputs())
		}
	}
	for _, v := range []struct {
		name   string
		vec    *anydiff.Var
		expect int
	}{
		{"OVRBias", c.OVRBias, cfg.NumCapsules * anygeom.NumParams},
		{"CapsPresenceBias", c.CapsPresenceBias, cfg.NumCapsules},
		{"VotePresenceBias", c.VotePresenceBias, cfg.NumCapsules * cfg.NumVotes},
		{"ScaleBias", c.ScaleBias, cfg.NumCapsules * cfg.NumVotes},
		{"StaticOPR", c.StaticOPR, cfg.NumCapsules * cfg.NumVotes * anygeom.NumParams},
	} {
		if v.vec.Vector.Len() != v.expect {
			return anycaps.NewConfigError(v.name, "has %d values but should have %d",
				v.vec.Vector.Len(), v.expect)
		}
	}
	return nil
}

// DeserializeObjectDecoder deserializes an ObjectDecoder.
func DeserializeObjectDecoder(d []byte) (*ObjectDecoder, error) {
	var res ObjectDecoder
	var dummy *anyvecsave.S
	if err := serializer.DeserializeAny(d, &res.Capsules, &dummy); err != nil {
		return nil, essentials.AddCtx("deserialize ObjectDecoder", err)
	}
	if dummy.Vector.Len() != anygeom.NumParams {
		return nil, errors.Errorf("deserialize ObjectDecoder: dummy vote has %d values",
			dummy.Vector.Len())
	}
	res.DummyVote = anydiff.NewVar(dummy.Vector)
	return &res, nil
}

// SerializerType returns the unique ID used to serialize
// an ObjectDecoder with the serializer package.
func (o *ObjectDecoder) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyobj.ObjectDecoder"
}

// Serialize serializes the decoder.
func (o *ObjectDecoder) Serialize() ([]byte, error) {
	return serializer.SerializeAny(o.Capsules, &anyvecsave.S{Vector: o.DummyVote.Vector})
}

func subNets(n anycaps.Net) ([]anycaps.Net, error) {
	res := make([]anycaps.Net, len(n))
	for i, layer := range n {
		sub, ok := layer.(anycaps.Net)
		if !ok {
			return nil, errors.Errorf("layer %d is %T, not a Net", i, layer)
		}
		res[i] = sub
	}
	return res, nil
}

// netWidths finds the input width of the first FC and
// the output width of the last FC.
func netWidths(n anycaps.Net) (in, out int) {
	for _, layer := range n {
		if fc, ok := layer.(*anycaps.FC); ok {
			if in == 0 {
				in = fc.InCount
			}
			out = fc.OutCount
		}
	}
	return
}

func hiddenSizes(n anycaps.Net) []int {
	var sizes []int
	for _, layer := range n {
		if fc, ok := layer.(*anycaps.FC); ok {
			sizes = append(sizes, fc.OutCount)
		}
	}
	if len(sizes) == 0 {
		return nil
	}
	return sizes[:len(sizes)-1]
}

// hiddenActivation finds the activation between the
// layers of an MLP, defaulting to ReLU for single-layer
// nets.
func hiddenActivation(n anycaps.Net) anycaps.Activation {
	for _, layer := range n {
		if act, ok := layer.(anycaps.Activation); ok {
			return act
		}
	}
	return anycaps.ReLU
}
