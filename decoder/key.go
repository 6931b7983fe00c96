// Package decoder holds the trainable heads attached to frozen backbone
// features, the structured keys that name them and the ensemble that trains
// one head per learning rate.
package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownDecoder is returned for decoder types that are not implemented.
var ErrUnknownDecoder = errors.New("unknown decoder type")

// Type names a decoder architecture.
type Type string

const (
	Linear Type = "linear"
)

// ParseType validates a decoder type name.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case Linear:
		return Linear, nil
	default:
		return "", errors.Wrapf(ErrUnknownDecoder, "%q", s)
	}
}

// Key identifies one decoder of an ensemble. Code that needs the learning
// rate reads it from the struct; String is for file names, logs and the
// metrics record.
type Key struct {
	LearningRate float64
	Type         Type
}

// String formats the key as "<type>:lr=<lr>", with the rate printed to eight
// decimals and its point replaced by an underscore, e.g.
// "linear:lr=0_00010000".
func (k Key) String() string {
	lr := strings.Replace(strconv.FormatFloat(k.LearningRate, 'f', 8, 64), ".", "_", 1)
	return fmt.Sprintf("%s:lr=%s", k.Type, lr)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	typ, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, errors.Errorf("malformed decoder key %q", s)
	}
	t, err := ParseType(typ)
	if err != nil {
		return Key{}, err
	}
	lrText, ok := strings.CutPrefix(rest, "lr=")
	if !ok {
		return Key{}, errors.Errorf("decoder key %q has no learning rate", s)
	}
	lr, err := strconv.ParseFloat(strings.Replace(lrText, "_", ".", 1), 64)
	if err != nil {
		return Key{}, errors.Wrapf(err, "decoder key %q", s)
	}
	return Key{LearningRate: lr, Type: t}, nil
}
