package backbone

import (
	"context"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Precision is the numeric format features are computed in.
type Precision int

const (
	Float32 Precision = iota
	BFloat16
	Float16
)

func (p Precision) String() string {
	switch p {
	case Float32:
		return "float32"
	case BFloat16:
		return "bfloat16"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

// ParsePrecision accepts float32/fp32, bfloat16/bf16 and float16/fp16.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "fp32", "":
		return Float32, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	case "float16", "fp16", "half":
		return Float16, nil
	default:
		return Float32, errors.Errorf("unknown precision %q", s)
	}
}

// Round maps v to the nearest value representable in p (ties to even).
func (p Precision) Round(v float32) float32 {
	switch p {
	case BFloat16:
		return roundBFloat16(v)
	case Float16:
		return float16.Fromfloat32(v).Float32()
	default:
		return v
	}
}

// RoundSlice rounds data in place.
func (p Precision) RoundSlice(data []float32) {
	if p == Float32 {
		return
	}
	for i, v := range data {
		data[i] = p.Round(v)
	}
}

func roundBFloat16(v float32) float32 {
	if v != v {
		return v
	}
	bits := math.Float32bits(v)
	bits += 0x7fff + ((bits >> 16) & 1)
	return math.Float32frombits(bits & 0xffff0000)
}

type precisionKey struct{}

// WithPrecision returns a context carrying the active precision mode.
func WithPrecision(ctx context.Context, p Precision) context.Context {
	return context.WithValue(ctx, precisionKey{}, p)
}

// PrecisionFrom reports the precision mode of ctx, Float32 when unset.
func PrecisionFrom(ctx context.Context) Precision {
	if p, ok := ctx.Value(precisionKey{}).(Precision); ok {
		return p
	}
	return Float32
}
