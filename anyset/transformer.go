package anyset

import (
	"github.com/badcode-iip/anycaps"
	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var s SetTransformer
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeSetTransformer)
	var st Stack
	serializer.RegisterTypedDeserializer(st.SerializerType(), DeserializeStack)
}

// A Stack applies Blocks one after another.
type Stack []Block

// DeserializeStack deserializes a Stack.
func DeserializeStack(d []byte) (Stack, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Stack", err)
	}
	res := make(Stack, len(slice))
	for i, x := range slice {
		block, ok := x.(Block)
		if !ok {
			return nil, errors.Errorf("deserialize Stack: not a Block: %T", x)
		}
		res[i] = block
	}
	return res, nil
}

// Apply applies the blocks in order.
func (s Stack) Apply(x anydiff.Res, batch int, presence anyvec.Vector) anydiff.Res {
	for _, block := range s {
		x = block.Apply(x, batch, presence)
	}
	return x
}

// Parameters returns the parameters of every block.
func (s Stack) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{}
	for _, block := range s {
		res = append(res, anycaps.AllParameters(block)...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Stack with the serializer package.
func (s Stack) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyset.Stack"
}

// Serialize serializes the Stack.
// Every Block must be a serializer.Serializer.
func (s Stack) Serialize() ([]byte, error) {
	var slice []serializer.Serializer
	for _, block := range s {
		x, ok := block.(serializer.Serializer)
		if !ok {
			return nil, errors.Errorf("serialize Stack: not a Serializer: %T", block)
		}
		slice = append(slice, x)
	}
	return serializer.SerializeSlice(slice)
}

// Config describes the shape of a SetTransformer.
type Config struct {
	InputDim   int
	HiddenDim  int
	OutputDim  int
	NumOutputs int
	NumLayers  int
	NumHeads   int
	LayerNorm  bool

	// NumInducing selects ISAB blocks with this many
	// inducing points.
	// If it is 0, SAB blocks are used.
	NumInducing int
}

// Validate checks that the dimensions make sense.
func (c *Config) Validate() error {
	for _, field := range []struct {
		name  string
		value int
	}{
		{"InputDim", c.InputDim},
		{"HiddenDim", c.HiddenDim},
		{"OutputDim", c.OutputDim},
		{"NumOutputs", c.NumOutputs},
		{"NumHeads", c.NumHeads},
	} {
		if field.value <= 0 {
			return anycaps.NewConfigError(field.name, "must be positive (got %d)",
				field.value)
		}
	}
	if c.NumLayers < 0 {
		return anycaps.NewConfigError("NumLayers", "must not be negative")
	}
	if c.NumInducing < 0 {
		return anycaps.NewConfigError("NumInducing", "must not be negative")
	}
	return nil
}

// SetTransformer is an Encoder built from attention
// blocks.
type SetTransformer struct {
	InputDim   int
	HiddenDim  int
	OutputDim  int
	NumOutputs int

	In     *anycaps.FC
	Blocks Stack
	Out    *anycaps.FC
	Pool   *PMA
}

// DeserializeSetTransformer deserializes a
// SetTransformer.
func DeserializeSetTransformer(d []byte) (*SetTransformer, error) {
	var res SetTransformer
	err := serializer.DeserializeAny(d, &res.InputDim, &res.HiddenDim, &res.OutputDim,
		&res.NumOutputs, &res.In, &res.Blocks, &res.Out, &res.Pool)
	if err != nil {
		return nil, essentials.AddCtx("deserialize SetTransformer", err)
	}
	return &res, nil
}

// NewSetTransformer creates a randomly initialized
// SetTransformer.
func NewSetTransformer(c anyvec.Creator, cfg Config) (*SetTransformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := &SetTransformer{
		InputDim:   cfg.InputDim,
		HiddenDim:  cfg.HiddenDim,
		OutputDim:  cfg.OutputDim,
		NumOutputs: cfg.NumOutputs,
		In:         anycaps.NewFC(c, cfg.InputDim, cfg.HiddenDim),
		Out:        anycaps.NewFC(c, cfg.HiddenDim, cfg.OutputDim),
		Pool:       NewPMA(c, cfg.OutputDim, cfg.NumHeads, cfg.NumOutputs, cfg.LayerNorm),
	}
	for i := 0; i < cfg.NumLayers; i++ {
		if cfg.NumInducing > 0 {
			res.Blocks = append(res.Blocks, NewISAB(c, cfg.HiddenDim, cfg.NumHeads,
				cfg.NumInducing, cfg.LayerNorm))
		} else {
			res.Blocks = append(res.Blocks, &SAB{
				MAB: NewMAB(c, cfg.HiddenDim, cfg.NumHeads, cfg.LayerNorm),
			})
		}
	}
	return res, nil
}

// Encode encodes a batch of point sets.
// The result is packed as [batch, NumOutputs, OutputDim].
func (s *SetTransformer) Encode(points anydiff.Res, batch int,
	presence anyvec.Vector) anydiff.Res {
	numPoints := setSize(points, batch, s.InputDim)
	h := s.In.Apply(points, batch*numPoints)
	h = s.Blocks.Apply(h, batch, presence)
	h = s.Out.Apply(h, batch*numPoints)
	return s.Pool.Apply(h, batch, presence)
}

// Parameters returns all of the parameters.
func (s *SetTransformer) Parameters() []*anydiff.Var {
	return anycaps.AllParameters(s.In, s.Blocks, s.Out, s.Pool)
}

// SerializerType returns the unique ID used to serialize
// a SetTransformer with the serializer package.
func (s *SetTransformer) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyset.SetTransformer"
}

// Serialize serializes the SetTransformer.
func (s *SetTransformer) Serialize() ([]byte, error) {
	return serializer.SerializeAny(s.InputDim, s.HiddenDim, s.OutputDim, s.NumOutputs,
		s.In, s.Blocks, s.Out, s.Pool)
}
