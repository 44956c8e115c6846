package anyset

import (
	"github.com/badcode-iip/anycaps"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const layerNormEpsilon = 1e-5

func init() {
	var l LayerNorm
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLayerNorm)
}

// LayerNorm normalizes every vector to zero mean and unit
// variance, then applies a learned gain and offset.
type LayerNorm struct {
	Size int
	Gain *anycaps.Affine
}

// DeserializeLayerNorm deserializes a LayerNorm.
func DeserializeLayerNorm(d []byte) (*LayerNorm, error) {
	var res LayerNorm
	if err := serializer.DeserializeAny(d, &res.Size, &res.Gain); err != nil {
		return nil, essentials.AddCtx("deserialize LayerNorm", err)
	}
	return &res, nil
}

// NewLayerNorm creates a LayerNorm with an identity gain.
func NewLayerNorm(c anyvec.Creator, size int) *LayerNorm {
	return &LayerNorm{Size: size, Gain: anycaps.NewAffineIdentity(c, size)}
}

// Apply normalizes each of the n vectors in the batch.
func (l *LayerNorm) Apply(in anydiff.Res, n int) anydiff.Res {
	c := in.Output().Creator()
	invSize := c.MakeNumeric(1 / float64(l.Size))
	mean := anydiff.Scale(anycaps.SumChunks(in, l.Size), invSize)
	centered := anydiff.Sub(in, anycaps.RepeatChunks(mean, 1, l.Size))
	return anydiff.Pool(centered, func(centered anydiff.Res) anydiff.Res {
		variance := anydiff.Scale(anycaps.SumChunks(anydiff.Square(centered), l.Size),
			invSize)
		invStd := anydiff.Pow(anydiff.AddScalar(variance, c.MakeNumeric(layerNormEpsilon)),
			c.MakeNumeric(-0.5))
		normed := anydiff.Mul(centered, anycaps.RepeatChunks(invStd, 1, l.Size))
		return l.Gain.Apply(normed, n)
	})
}

// Parameters returns the gain parameters.
func (l *LayerNorm) Parameters() []*anydiff.Var {
	return l.Gain.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a LayerNorm with the serializer package.
func (l *LayerNorm) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyset.LayerNorm"
}

// Serialize serializes the LayerNorm.
func (l *LayerNorm) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.Size, l.Gain)
}
