package anycaps

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func init() {
	var p Probe
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializeProbe)
}

// Probe is a layer which reports summary statistics of
// the values flowing through it.
// It returns its input untouched.
type Probe struct {
	// Logf receives the report.
	// If nil, fmt.Printf is used.
	Logf func(format string, args ...interface{})

	Name string

	// PerComponent reports the mean and variance of every
	// component across the batch instead of one mean and
	// variance over all values.
	PerComponent bool
}

// DeserializeProbe deserializes a Probe.
// The Logf field will be nil.
func DeserializeProbe(d []byte) (*Probe, error) {
	var res Probe
	if err := serializer.DeserializeAny(d, &res.Name, &res.PerComponent); err != nil {
		return nil, err
	}
	return &res, nil
}

// Apply reports statistics about the batch.
func (p *Probe) Apply(in anydiff.Res, n int) anydiff.Res {
	data := Floats(in.Output())
	if len(data) == 0 {
		p.logf("%s: empty batch", p.Name)
		return in
	}
	if !p.PerComponent {
		mean, variance := stat.MeanVariance(data, nil)
		p.logf("%s: mean=%.4g var=%.4g min=%.4g max=%.4g", p.Name, mean, variance,
			floats.Min(data), floats.Max(data))
		return in
	}
	cols := len(data) / n
	means := make([]float64, cols)
	variances := make([]float64, cols)
	column := make([]float64, n)
	for j := 0; j < cols; j++ {
		for i := range column {
			column[i] = data[i*cols+j]
		}
		means[j], variances[j] = stat.MeanVariance(column, nil)
	}
	p.logf("%s: mean=%.4g var=%.4g", p.Name, means, variances)
	return in
}

// SerializerType returns the unique ID used to serialize
// a Probe with the serializer package.
func (p *Probe) SerializerType() string {
	return "github.com/badcode-iip/anycaps.Probe"
}

// Serialize serializes the layer.
func (p *Probe) Serialize() ([]byte, error) {
	return serializer.SerializeAny(p.Name, p.PerComponent)
}

func (p *Probe) logf(format string, args ...interface{}) {
	if p.Logf == nil {
		fmt.Printf(format+"\n", args...)
	} else {
		p.Logf(format, args...)
	}
}
