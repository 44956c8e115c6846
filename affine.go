package anycaps

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Affine
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeAffine)
}

// Affine scales and shifts the trailing feature axis of
// its input.
// Every feature j of every row gets Scalers[j]*x + Biases[j].
type Affine struct {
	Scalers *anydiff.Var
	Biases  *anydiff.Var
}

// DeserializeAffine deserializes an Affine layer.
func DeserializeAffine(d []byte) (*Affine, error) {
	var scalers, biases *anyvecsave.S
	if err := serializer.DeserializeAny(d, &scalers, &biases); err != nil {
		return nil, essentials.AddCtx("deserialize Affine", err)
	}
	if scalers.Vector.Len() != biases.Vector.Len() {
		return nil, essentials.AddCtx("deserialize Affine",
			fmt.Errorf("%d scalers but %d biases", scalers.Vector.Len(), biases.Vector.Len()))
	}
	return &Affine{
		Scalers: anydiff.NewVar(scalers.Vector),
		Biases:  anydiff.NewVar(biases.Vector),
	}, nil
}

// NewAffineIdentity creates an Affine layer over size
// features with unit scalers and zero biases.
func NewAffineIdentity(c anyvec.Creator, size int) *Affine {
	scalers := c.MakeVector(size)
	scalers.AddScalar(c.MakeNumeric(1))
	return &Affine{
		Scalers: anydiff.NewVar(scalers),
		Biases:  anydiff.NewVar(c.MakeVector(size)),
	}
}

// Size returns the number of features.
func (a *Affine) Size() int {
	return a.Scalers.Vector.Len()
}

// Apply transforms n rows of features.
func (a *Affine) Apply(in anydiff.Res, n int) anydiff.Res {
	if in.Output().Len() != n*a.Size() {
		panic(fmt.Sprintf("expected %d rows of %d features but got %d values",
			n, a.Size(), in.Output().Len()))
	}
	return anydiff.ScaleAddRepeated(in, a.Scalers, a.Biases)
}

// Parameters returns the scalers and the biases.
func (a *Affine) Parameters() []*anydiff.Var {
	return []*anydiff.Var{a.Scalers, a.Biases}
}

// SerializerType returns the unique ID used to serialize
// an Affine with the serializer package.
func (a *Affine) SerializerType() string {
	return "github.com/badcode-iip/anycaps.Affine"
}

// Serialize serializes the layer.
func (a *Affine) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: a.Scalers.Vector},
		&anyvecsave.S{Vector: a.Biases.Vector},
	)
}
