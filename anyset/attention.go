package anyset

import (
	"fmt"
	"math"

	"github.com/badcode-iip/anycaps"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// maskPenalty is subtracted from the attention logits of
// absent keys.
const maskPenalty = 1e32

func init() {
	var a Attention
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeAttention)
}

// Attention is multi-head scaled dot-product attention.
//
// Queries and keys are projected to NumHeads heads of
// ceil(KeyDim/NumHeads) components each, values to heads
// of ceil(ValueDim/NumHeads) components, and the
// concatenated head outputs are projected back to
// ValueDim components.
type Attention struct {
	NumHeads int

	QueryProj *anycaps.FC
	KeyProj   *anycaps.FC
	ValueProj *anycaps.FC
	OutProj   *anycaps.FC
}

// DeserializeAttention deserializes an Attention.
func DeserializeAttention(d []byte) (*Attention, error) {
	var res Attention
	err := serializer.DeserializeAny(d, &res.NumHeads, &res.QueryProj, &res.KeyProj,
		&res.ValueProj, &res.OutProj)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Attention", err)
	}
	return &res, nil
}

// NewAttention creates a randomly initialized Attention.
func NewAttention(c anyvec.Creator, keyDim, valueDim, numHeads int) *Attention {
	keyHead := (keyDim + numHeads - 1) / numHeads
	valueHead := (valueDim + numHeads - 1) / numHeads
	return &Attention{
		NumHeads:  numHeads,
		QueryProj: anycaps.NewFC(c, keyDim, keyHead*numHeads),
		KeyProj:   anycaps.NewFC(c, keyDim, keyHead*numHeads),
		ValueProj: anycaps.NewFC(c, valueDim, valueHead*numHeads),
		OutProj:   anycaps.NewFC(c, valueHead*numHeads, valueDim),
	}
}

// Apply attends from every query to the keys of the same
// set.
//
// The queries are packed as [batch, n, keyDim], the keys
// as [batch, m, keyDim] and the values as
// [batch, m, valueDim].
// The presence vector, if non-nil, is [batch, m].
// The result is [batch, n, valueDim].
func (a *Attention) Apply(queries, keys, values anydiff.Res, batch int,
	presence anyvec.Vector) anydiff.Res {
	numQueries := setSize(queries, batch, a.QueryProj.InCount)
	numKeys := setSize(keys, batch, a.KeyProj.InCount)
	if setSize(values, batch, a.ValueProj.InCount) != numKeys {
		panic("keys and values must have the same set size")
	}
	if presence != nil && presence.Len() != batch*numKeys {
		panic(fmt.Sprintf("presence should have length %d but has %d", batch*numKeys,
			presence.Len()))
	}

	keyHead := a.QueryProj.OutCount / a.NumHeads
	valueHead := a.ValueProj.OutCount / a.NumHeads

	q := splitHeads(a.QueryProj.Apply(queries, batch*numQueries), batch, numQueries,
		a.NumHeads, keyHead)
	k := splitHeads(a.KeyProj.Apply(keys, batch*numKeys), batch, numKeys, a.NumHeads,
		keyHead)
	v := splitHeads(a.ValueProj.Apply(values, batch*numKeys), batch, numKeys, a.NumHeads,
		valueHead)

	numSets := batch * a.NumHeads
	routing := anycaps.BroadcastMatMul(false, true,
		&anydiff.MatrixBatch{Data: q, Num: numSets, Rows: numQueries, Cols: keyHead},
		&anydiff.MatrixBatch{Data: k, Num: numSets, Rows: numKeys, Cols: keyHead},
	).Data

	c := queries.Output().Creator()
	if presence != nil {
		routing = anydiff.Add(routing, anydiff.NewConst(maskBias(c, presence, batch,
			a.NumHeads, numQueries, numKeys)))
	}
	routing = anydiff.Scale(routing, c.MakeNumeric(1/math.Sqrt(float64(keyHead))))
	weights := anydiff.Exp(anydiff.LogSoftmax(routing, numKeys))

	out := anycaps.BroadcastMatMul(false, false,
		&anydiff.MatrixBatch{Data: weights, Num: numSets, Rows: numQueries, Cols: numKeys},
		&anydiff.MatrixBatch{Data: v, Num: numSets, Rows: numKeys, Cols: valueHead},
	).Data
	merged := mergeHeads(out, batch, numQueries, a.NumHeads, valueHead)
	return a.OutProj.Apply(merged, batch*numQueries)
}

// Parameters returns the parameters of the projections.
func (a *Attention) Parameters() []*anydiff.Var {
	return anycaps.AllParameters(a.QueryProj, a.KeyProj, a.ValueProj, a.OutProj)
}

// SerializerType returns the unique ID used to serialize
// an Attention with the serializer package.
func (a *Attention) SerializerType() string {
	return "github.com/badcode-iip/anycaps/anyset.Attention"
}

// Serialize serializes the Attention.
func (a *Attention) Serialize() ([]byte, error) {
	return serializer.SerializeAny(a.NumHeads, a.QueryProj, a.KeyProj, a.ValueProj,
		a.OutProj)
}

// splitHeads reorders [batch, n, heads*size] into
// [batch, heads, n, size].
func splitHeads(in anydiff.Res, batch, n, heads, size int) anydiff.Res {
	table := make([]int, 0, batch*n*heads*size)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for i := 0; i < n; i++ {
				for j := 0; j < size; j++ {
					table = append(table, ((b*n+i)*heads+h)*size+j)
				}
			}
		}
	}
	return anycaps.Gather(in, table)
}

// mergeHeads is the inverse of splitHeads.
func mergeHeads(in anydiff.Res, batch, n, heads, size int) anydiff.Res {
	table := make([]int, 0, batch*n*heads*size)
	for b := 0; b < batch; b++ {
		for i := 0; i < n; i++ {
			for h := 0; h < heads; h++ {
				for j := 0; j < size; j++ {
					table = append(table, ((b*heads+h)*n+i)*size+j)
				}
			}
		}
	}
	return anycaps.Gather(in, table)
}

// maskBias produces the [batch, heads, n, m] additive bias
// that pushes absent keys out of the softmax.
func maskBias(c anyvec.Creator, presence anyvec.Vector, batch, heads, n,
	m int) anyvec.Vector {
	absent := presence.Copy()
	anyvec.Complement(absent)
	absent.Scale(c.MakeNumeric(-maskPenalty))

	table := make([]int, 0, batch*heads*n*m)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for i := 0; i < n; i++ {
				for j := 0; j < m; j++ {
					table = append(table, b*m+j)
				}
			}
		}
	}
	bias := c.MakeVector(len(table))
	c.MakeMapper(absent.Len(), table).Map(absent, bias)
	return bias
}
