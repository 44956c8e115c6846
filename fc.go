package anycaps

import (
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var f FC
	serializer.RegisterTypedDeserializer(f.SerializerType(), DeserializeFC)
}

// FC is a fully-connected layer.
//
// If Biases is nil, the layer is purely linear.
type FC struct {
	InCount  int
	OutCount int
	Weights  *anydiff.Var
	Biases   *anydiff.Var
}

// DeserializeFC attempts to deserialize an FC.
func DeserializeFC(d []byte) (*FC, error) {
	var inCount, outCount int
	var hasBias bool
	var weights, biases *anyvecsave.S
	err := serializer.DeserializeAny(d, &inCount, &outCount, &hasBias, &weights, &biases)
	if err != nil {
		return nil, essentials.AddCtx("deserialize FC", err)
	}
	if inCount*outCount != weights.Vector.Len() {
		return nil, errors.New("deserialize FC: invalid matrix dimensions")
	}
	res := &FC{
		InCount:  inCount,
		OutCount: outCount,
		Weights:  anydiff.NewVar(weights.Vector),
	}
	if hasBias {
		if biases.Vector.Len() != outCount {
			return nil, errors.New("deserialize FC: invalid bias count")
		}
		res.Biases = anydiff.NewVar(biases.Vector)
	}
	return res, nil
}

// NewFC creates a new, randomized FC.
// The randomization scheme targets an output variance of
// 1, given that the input variance is 1.
func NewFC(c anyvec.Creator, in, out int) *FC {
	res := NewFCZero(c, in, out)
	anyvec.Rand(res.Weights.Vector, anyvec.Normal, nil)
	res.Weights.Vector.Scale(c.MakeNumeric(1 / math.Sqrt(float64(in))))
	return res
}

// NewLinear creates a randomized FC without biases.
func NewLinear(c anyvec.Creator, in, out int) *FC {
	res := NewFC(c, in, out)
	res.Biases = nil
	return res
}

// NewFCZero creates a new, zero'd out FC.
func NewFCZero(c anyvec.Creator, in, out int) *FC {
	return &FC{
		InCount:  in,
		OutCount: out,
		Weights:  anydiff.NewVar(c.MakeVector(in * out)),
		Biases:   anydiff.NewVar(c.MakeVector(out)),
	}
}

// Apply applies the fully-connected layer to a batch of
// inputs.
func (f *FC) Apply(in anydiff.Res, batch int) anydiff.Res {
	if batch*f.InCount != in.Output().Len() {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			batch*f.InCount, in.Output().Len()))
	}
	weightMat := &anydiff.Matrix{
		Data: f.Weights,
		Rows: f.OutCount,
		Cols: f.InCount,
	}
	inMat := &anydiff.Matrix{
		Data: in,
		Rows: batch,
		Cols: f.InCount,
	}
	weighted := anydiff.MatMul(false, true, inMat, weightMat)
	if f.Biases == nil {
		return weighted.Data
	}
	return anydiff.AddRepeated(weighted.Data, f.Biases)
}

// Parameters returns the weights followed by the biases,
// if there are any.
func (f *FC) Parameters() []*anydiff.Var {
	if f.Biases == nil {
		return []*anydiff.Var{f.Weights}
	}
	return []*anydiff.Var{f.Weights, f.Biases}
}

// SerializerType returns the unique ID used to serialize
// an FC with the serializer package.
func (f *FC) SerializerType() string {
	return "github.com/badcode-iip/anycaps.FC"
}

// Serialize serializes the FC.
func (f *FC) Serialize() ([]byte, error) {
	biases := f.Weights.Vector.Creator().MakeVector(0)
	if f.Biases != nil {
		biases = f.Biases.Vector
	}
	return serializer.SerializeAny(
		f.InCount,
		f.OutCount,
		f.Biases != nil,
		&anyvecsave.S{Vector: f.Weights.Vector},
		&anyvecsave.S{Vector: biases},
	)
}

// NewMLP creates a multi-layer perceptron with the given
// layer sizes and the activation act between layers.
// No activation follows the final layer.
//
// If outputBias is false, the final layer has no biases.
func NewMLP(c anyvec.Creator, sizes []int, act Activation, outputBias bool) Net {
	if len(sizes) < 2 {
		panic("an MLP needs at least an input and an output size")
	}
	var res Net
	for i := 1; i < len(sizes); i++ {
		if i > 1 {
			res = append(res, act)
		}
		if i == len(sizes)-1 && !outputBias {
			res = append(res, NewLinear(c, sizes[i-1], sizes[i]))
		} else {
			res = append(res, NewFC(c, sizes[i-1], sizes[i]))
		}
	}
	return res
}
