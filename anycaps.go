// Package anycaps provides differentiable building
// blocks for capsule networks.
//
// Everything operates on flat anydiff.Res vectors, with
// tensors packed in row-major order and the batch as the
// outermost dimension.
// Sub-packages build on these blocks: anygeom turns pose
// parameters into 3x3 transforms, anyset encodes point
// sets into capsule features, anyobj decodes those
// features into votes and scores them, and anysparse
// penalizes capsule presences.
package anycaps

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var n Net
	serializer.RegisterTypedDeserializer(n.SerializerType(), DeserializeNet)
}

// A Parameterizer is anything with learnable variables,
// such as an MLP, an attention block, or a capsule layer.
//
// The parameters of a Parameterizer must be in the same
// order every time Parameters() is called.
// Optimizers and the gradient checks in tests rely on
// this to line gradients up with variables.
type Parameterizer interface {
	Parameters() []*anydiff.Var
}

// A Layer is a composable computation unit, like the
// stages of a capsule MLP.
// In a Net, each layer's output is fed into the next
// layer's input.
//
// A Layer's Apply method is inherently batched.
// The input's length must be divisible by the batch size,
// since the batch size indicates how many equally-long
// vectors are packed into the input vector.
// For capsule layers the batch is usually the number of
// examples times the number of capsules.
//
// Layers panic when given inputs of the wrong size.
type Layer interface {
	Apply(in anydiff.Res, batchSize int) anydiff.Res
}

// AllParameters gathers the parameters of every argument
// that implements Parameterizer, in argument order.
// Arguments that are not Parameterizers are skipped, so
// parameter-free layers and nil interfaces can be passed
// freely.
func AllParameters(objs ...interface{}) []*anydiff.Var {
	var res []*anydiff.Var
	for _, x := range objs {
		if p, ok := x.(Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// A Net evaluates a list of layers, one after another.
//
// The capsule and vote MLPs of anyobj are Nets, as are
// the feed-forward parts of the anyset blocks.
type Net []Layer

// DeserializeNet attempts to deserialize the network.
// It fails if any deserialized object is not a Layer.
func DeserializeNet(d []byte) (Net, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Net", err)
	}
	res := make(Net, len(slice))
	for i, x := range slice {
		layer, ok := x.(Layer)
		if !ok {
			return nil, fmt.Errorf("deserialize Net: layer %d is not a Layer: %T", i, x)
		}
		res[i] = layer
	}
	return res, nil
}

// Apply applies the network to a batch.
// If the network contains no layers, the input is
// returned as output.
//
// Every layer sees the same batch size, so a Net can
// change the per-sample width but not the number of
// samples.
func (n Net) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if batchSize <= 0 || in.Output().Len()%batchSize != 0 {
		panic(fmt.Sprintf("input length %d is not divisible by batch size %d",
			in.Output().Len(), batchSize))
	}
	for _, l := range n {
		in = l.Apply(in, batchSize)
	}
	return in
}

// Parameters returns the parameters of the network.
//
// Every layer which implements Parameterizer will have
// its parameters added to the slice.
// Parameters are ordered from the first layer onwards,
// and within a layer in the layer's own order.
func (n Net) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{}
	for _, x := range n {
		res = append(res, AllParameters(x)...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Net with the serializer package.
func (n Net) SerializerType() string {
	return "github.com/badcode-iip/anycaps.Net"
}

// Serialize attempts to serialize the network.
// If any Layer is not a serializer.Serializer,
// this fails and reports the offending layer's index.
// Every layer in this package and its sub-packages is
// serializable.
func (n Net) Serialize() ([]byte, error) {
	slice := make([]serializer.Serializer, len(n))
	for i, x := range n {
		s, ok := x.(serializer.Serializer)
		if !ok {
			return nil, fmt.Errorf("serialize Net: layer %d is not a Serializer: %T", i, x)
		}
		slice[i] = s
	}
	return serializer.SerializeSlice(slice)
}
