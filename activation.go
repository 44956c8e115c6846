package anycaps

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/serializer"
)

func init() {
	var a Activation
	serializer.RegisterTypedDeserializer(a.SerializerType(), DeserializeActivation)
}

// An Activation is an element-wise activation function.
type Activation int

// These are the supported activation functions.
const (
	ReLU Activation = iota
	Sigmoid
	Tanh
	SoftplusActivation
)

// ParseActivation parses "relu", "sigmoid", "tanh" or
// "softplus".
func ParseActivation(s string) (Activation, error) {
	for a := ReLU; a <= SoftplusActivation; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, NewConfigError("activation", "unknown activation %q", s)
}

// String returns the name accepted by ParseActivation.
func (a Activation) String() string {
	switch a {
	case ReLU:
		return "relu"
	case Sigmoid:
		return "sigmoid"
	case Tanh:
		return "tanh"
	case SoftplusActivation:
		return "softplus"
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}

// DeserializeActivation deserializes an Activation.
func DeserializeActivation(d []byte) (Activation, error) {
	if len(d) != 1 {
		return 0, fmt.Errorf("deserialize Activation: data length (%d) should be 1", len(d))
	}
	a := Activation(d[0])
	if a > SoftplusActivation {
		return 0, fmt.Errorf("deserialize Activation: unknown activation ID: %d", a)
	}
	return a, nil
}

// Apply applies the activation function.
func (a Activation) Apply(in anydiff.Res, n int) anydiff.Res {
	switch a {
	case ReLU:
		return anydiff.ClipPos(in)
	case Sigmoid:
		return anydiff.Sigmoid(in)
	case Tanh:
		return anydiff.Tanh(in)
	case SoftplusActivation:
		return Softplus(in)
	default:
		panic(fmt.Sprintf("unknown activation: %d", a))
	}
}

// SerializerType returns the unique ID used to serialize
// an Activation.
func (a Activation) SerializerType() string {
	return "github.com/badcode-iip/anycaps.Activation"
}

// Serialize serializes the activation.
func (a Activation) Serialize() ([]byte, error) {
	return []byte{byte(a)}, nil
}
