package anyset

import (
	"errors"
	"math"

	"github.com/badcode-iip/anycaps"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var m MAB
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeMAB)
	var s SAB
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeSAB)
	var i ISAB
	serializer.RegisterTypedDeserializer(i.SerializerType(), DeserializeISAB)
	var p PMA
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializePMA)
}

// MAB is a multi-head attention block.
//
// For queries q and keys k it computes
//
//     h = norm0(q + attention(q, k, k))
//     out = norm1(h + relu(fc(h)))
//
// where the norms are skipped if they are nil.
type MAB struct {
	Dim       int
	Attention *Attention
	FC        *anycaps.FC
	Norm0     *LayerNorm
	Norm1     *LayerNorm
}

// DeserializeMAB deserializes a MAB.
func DeserializeMAB(d []byte) (*MAB, error) {
	var res MAB
	var norms anycaps.Net
	err := serializer.DeserializeAny(d, &res.Dim, &res.Attention, &res.FC, &norms)
	if err != nil {
		return nil, essentials.AddCtx("deserialize MAB", err)
	}
	if len(norms) == 2 {
		var ok0, ok1 bool
		res.Norm0, ok0 = norms[0].(*LayerNorm)
		res.Norm1, ok1 = norms[1].(*LayerNorm)
		if !ok0 || !ok1 {
			return nil, errors.New("deserialize MAB: invalid norm layers")
		}
	}
	return &res, nil
}

// NewMAB creates a randomly initialized MAB operating on
// vectors of dimension dim.
func NewMAB(c anyvec.Creator, dim, numHeads int, layerNorm bool) *MAB {
	res := &MAB{
		Dim:       dim,
		Attention: NewAttention(c, dim, dim, numHeads),
		FC:        anycaps.NewFC(c, dim, dim),
	}
	if layerNorm {
		res.Norm0 = NewLayerNorm(c, dim)
		res.Norm1 = NewLayerNorm(c, dim)
	}
	return res
}

// Apply attends from the queries to the keys.
// The presence vector applies to the keys.
func (m *MAB) Apply(queries, keys anydiff.Res, batch int,
	presence anyvec.Vector) anydiff.Res {
	n := setSize(queries, batch, m.Dim) * batch
	h := anydiff.Add(queries, m.Attention.Apply(queries, keys, keys, batch, presence))
	if m.Norm0 != nil {
		h = m.Norm0.Apply(h, n)
	}
	out := anydiff.Pool(h, func(h anydiff.Res) anydiff.Res {
		return anydiff.Add(h, anydiff.ClipPos(m.FC.Apply(h, n)))
	})
	if m.Norm1 != nil {
		out = m.Norm1.Apply(out, n)
	}
	return out
}

// Parameters returns the parameters of the block.
func (m *MAB) Parameters() []*anydiff.Var {
	res := anycaps.AllParameters(m.Attention, m.FC)
	if m.Norm0 != nil {
		res = append(res, anycaps.AllParameters(m.Norm0, m.Norm1)...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a MAB with the serializer package.
func (m *MAB) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyset.MAB"
}

// Serialize serializes the MAB.
func (m *MAB) Serialize() ([]byte, error) {
	norms := anycaps.Net{}
	if m.Norm0 != nil {
		norms = anycaps.Net{m.Norm0, m.Norm1}
	}
	return serializer.SerializeAny(m.Dim, m.Attention, m.FC, norms)
}

// SAB is a self-attention block, where every element of a
// set attends to every present element of the same set.
type SAB struct {
	MAB *MAB
}

// DeserializeSAB deserializes a SAB.
func DeserializeSAB(d []byte) (*SAB, error) {
	var res SAB
	if err := serializer.DeserializeAny(d, &res.MAB); err != nil {
		return nil, essentials.AddCtx("deserialize SAB", err)
	}
	return &res, nil
}

// Apply applies the block.
func (s *SAB) Apply(x anydiff.Res, batch int, presence anyvec.Vector) anydiff.Res {
	return anydiff.Pool(x, func(x anydiff.Res) anydiff.Res {
		return s.MAB.Apply(x, x, batch, presence)
	})
}

// Parameters returns the parameters of the block.
func (s *SAB) Parameters() []*anydiff.Var {
	return s.MAB.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a SAB with the serializer package.
func (s *SAB) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyset.SAB"
}

// Serialize serializes the SAB.
func (s *SAB) Serialize() ([]byte, error) {
	return serializer.SerializeAny(s.MAB)
}

// ISAB is an induced self-attention block.
//
// A fixed set of learned inducing points first attends to
// the input, and then the input attends to the result.
// The cost is linear in the set size.
type ISAB struct {
	Inducing *anydiff.Var
	MAB0     *MAB
	MAB1     *MAB
}

// DeserializeISAB deserializes an ISAB.
func DeserializeISAB(d []byte) (*ISAB, error) {
	var res ISAB
	var inducing *anyvecsave.S
	err := serializer.DeserializeAny(d, &inducing, &res.MAB0, &res.MAB1)
	if err != nil {
		return nil, essentials.AddCtx("deserialize ISAB", err)
	}
	res.Inducing = anydiff.NewVar(inducing.Vector)
	return &res, nil
}

// NewISAB creates a randomly initialized ISAB.
func NewISAB(c anyvec.Creator, dim, numHeads, numInducing int, layerNorm bool) *ISAB {
	return &ISAB{
		Inducing: xavierVar(c, numInducing, dim),
		MAB0:     NewMAB(c, dim, numHeads, layerNorm),
		MAB1:     NewMAB(c, dim, numHeads, layerNorm),
	}
}

// Apply applies the block.
func (i *ISAB) Apply(x anydiff.Res, batch int, presence anyvec.Vector) anydiff.Res {
	return anydiff.Pool(x, func(x anydiff.Res) anydiff.Res {
		h := i.MAB0.Apply(anycaps.Tile(i.Inducing, batch), x, batch, presence)
		return i.MAB1.Apply(x, h, batch, nil)
	})
}

// Parameters returns the parameters of the block.
func (i *ISAB) Parameters() []*anydiff.Var {
	return append([]*anydiff.Var{i.Inducing}, anycaps.AllParameters(i.MAB0, i.MAB1)...)
}

// SerializerType returns the unique ID used to serialize
// an ISAB with the serializer package.
func (i *ISAB) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyset.ISAB"
}

// Serialize serializes the ISAB.
func (i *ISAB) Serialize() ([]byte, error) {
	return serializer.SerializeAny(&anyvecsave.S{Vector: i.Inducing.Vector}, i.MAB0,
		i.MAB1)
}

// PMA pools a set into a fixed number of vectors by
// letting learned seed vectors attend to it.
type PMA struct {
	Seeds *anydiff.Var
	MAB   *MAB
}

// DeserializePMA deserializes a PMA.
func DeserializePMA(d []byte) (*PMA, error) {
	var res PMA
	var seeds *anyvecsave.S
	if err := serializer.DeserializeAny(d, &seeds, &res.MAB); err != nil {
		return nil, essentials.AddCtx("deserialize PMA", err)
	}
	res.Seeds = anydiff.NewVar(seeds.Vector)
	return &res, nil
}

// NewPMA creates a randomly initialized PMA with numSeeds
// outputs per set.
func NewPMA(c anyvec.Creator, dim, numHeads, numSeeds int, layerNorm bool) *PMA {
	return &PMA{
		Seeds: xavierVar(c, numSeeds, dim),
		MAB:   NewMAB(c, dim, numHeads, layerNorm),
	}
}

// Apply pools the sets.
// The result is packed as [batch, numSeeds, dim].
func (p *PMA) Apply(x anydiff.Res, batch int, presence anyvec.Vector) anydiff.Res {
	return p.MAB.Apply(anycaps.Tile(p.Seeds, batch), x, batch, presence)
}

// Parameters returns the parameters of the block.
func (p *PMA) Parameters() []*anydiff.Var {
	return append([]*anydiff.Var{p.Seeds}, p.MAB.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a PMA with the serializer package.
func (p *PMA) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyset.PMA"
}

// Serialize serializes the PMA.
func (p *PMA) Serialize() ([]byte, error) {
	return serializer.SerializeAny(&anyvecsave.S{Vector: p.Seeds.Vector}, p.MAB)
}

// xavierVar creates a rows x cols matrix with Xavier
// uniform initialization.
func xavierVar(c anyvec.Creator, rows, cols int) *anydiff.Var {
	v := c.MakeVector(rows * cols)
	anyvec.Rand(v, anyvec.Uniform, nil)
	bound := math.Sqrt(6 / float64(rows+cols))
	v.Scale(c.MakeNumeric(2 * bound))
	v.AddScalar(c.MakeNumeric(-bound))
	return anydiff.NewVar(v)
}
