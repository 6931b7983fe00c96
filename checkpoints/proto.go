package checkpoints

import (
	"encoding/json"
	"io"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf wire layout of a checkpoint. Field numbers are stable; unknown
// fields are skipped on read so newer writers stay readable.
//
//	Checkpoint      1:TrainingState 2:repeated DecoderState 3:OptimizerState
//	                4:SchedulerState 5:Metadata
//	TrainingState   1:iteration 2:max_iter 3:learning_rate(double)
//	DecoderState    1:key 2:type 3:learning_rate(double) 4:repeated WeightTensor
//	WeightTensor    1:name 2:shape(packed) 3:data(packed float) 4:layer 5:type
//	OptimizerState  1:type 2:repeated Param 3:repeated OptimizerTensor
//	OptimizerTensor 1:name 2:shape(packed) 3:data(packed float) 4:state_type
//	SchedulerState  1:type 2:repeated Param
//	Param           1:key 2:value(JSON)
//	Metadata        1:version 2:framework 3:created_at(unix nanos) 4:description
//	                5:repeated tag 6:run_id

func writeProto(w io.Writer, c *Checkpoint) error {
	b, err := marshalCheckpoint(c)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readProto(r io.Reader) (*Checkpoint, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint")
	}
	c, err := unmarshalCheckpoint(b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return c, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendShape(b []byte, num protowire.Number, shape []int) []byte {
	var packed []byte
	for _, d := range shape {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	return appendMessage(b, num, packed)
}

func appendFloats(b []byte, num protowire.Number, data []float32) []byte {
	packed := make([]byte, 0, 4*len(data))
	for _, v := range data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendParams(b []byte, num protowire.Number, params map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		value, err := json.Marshal(params[k])
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %q", k)
		}
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendMessage(entry, 2, value)
		b = appendMessage(b, num, entry)
	}
	return b, nil
}

func marshalWeight(w WeightTensor) []byte {
	var b []byte
	b = appendString(b, 1, w.Name)
	b = appendShape(b, 2, w.Shape)
	b = appendFloats(b, 3, w.Data)
	b = appendString(b, 4, w.Layer)
	b = appendString(b, 5, w.Type)
	return b
}

func marshalCheckpoint(c *Checkpoint) ([]byte, error) {
	var out []byte

	var ts []byte
	ts = appendVarint(ts, 1, uint64(c.TrainingState.Iteration))
	ts = appendVarint(ts, 2, uint64(c.TrainingState.MaxIter))
	ts = appendDouble(ts, 3, c.TrainingState.LearningRate)
	out = appendMessage(out, 1, ts)

	for _, d := range c.Decoders {
		var db []byte
		db = appendString(db, 1, d.Key)
		db = appendString(db, 2, d.Type)
		db = appendDouble(db, 3, d.LearningRate)
		for _, w := range d.Weights {
			db = appendMessage(db, 4, marshalWeight(w))
		}
		out = appendMessage(out, 2, db)
	}

	if o := c.OptimizerState; o != nil {
		var ob []byte
		ob = appendString(ob, 1, o.Type)
		var err error
		if ob, err = appendParams(ob, 2, o.Parameters); err != nil {
			return nil, err
		}
		for _, t := range o.StateData {
			var tb []byte
			tb = appendString(tb, 1, t.Name)
			tb = appendShape(tb, 2, t.Shape)
			tb = appendFloats(tb, 3, t.Data)
			tb = appendString(tb, 4, t.StateType)
			ob = appendMessage(ob, 3, tb)
		}
		out = appendMessage(out, 3, ob)
	}

	if s := c.SchedulerState; s != nil {
		var sb []byte
		sb = appendString(sb, 1, s.Type)
		var err error
		if sb, err = appendParams(sb, 2, s.Parameters); err != nil {
			return nil, err
		}
		out = appendMessage(out, 4, sb)
	}

	m := c.Metadata
	var mb []byte
	mb = appendString(mb, 1, m.Version)
	mb = appendString(mb, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		mb = appendVarint(mb, 3, uint64(m.CreatedAt.UnixNano()))
	}
	mb = appendString(mb, 4, m.Description)
	for _, tag := range m.Tags {
		mb = protowire.AppendTag(mb, 5, protowire.BytesType)
		mb = protowire.AppendString(mb, tag)
	}
	mb = appendString(mb, 6, m.RunID)
	out = appendMessage(out, 5, mb)

	return out, nil
}

// field is one decoded wire field.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	value uint64 // varint, fixed32 and fixed64 payloads
	bytes []byte
}

func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.value = uint64(v)
		case protowire.Fixed64Type:
			f.value, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

func parseShape(b []byte) ([]int, error) {
	var shape []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		shape = append(shape, int(v))
		b = b[n:]
	}
	return shape, nil
}

func parseFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.Errorf("packed float field has %d bytes", len(b))
	}
	data := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = append(data, math.Float32frombits(v))
		b = b[n:]
	}
	return data, nil
}

func parseParam(b []byte, params map[string]interface{}) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}
	var key string
	var raw []byte
	for _, f := range fields {
		switch f.num {
		case 1:
			key = string(f.bytes)
		case 2:
			raw = f.bytes
		}
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return errors.Wrapf(err, "parameter %q", key)
	}
	params[key] = value
	return nil
}

func parseWeight(b []byte) (WeightTensor, error) {
	var w WeightTensor
	fields, err := parseFields(b)
	if err != nil {
		return w, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			w.Name = string(f.bytes)
		case 2:
			if w.Shape, err = parseShape(f.bytes); err != nil {
				return w, err
			}
		case 3:
			if w.Data, err = parseFloats(f.bytes); err != nil {
				return w, err
			}
		case 4:
			w.Layer = string(f.bytes)
		case 5:
			w.Type = string(f.bytes)
		}
	}
	return w, nil
}

func parseDecoder(b []byte) (DecoderState, error) {
	var d DecoderState
	fields, err := parseFields(b)
	if err != nil {
		return d, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			d.Key = string(f.bytes)
		case 2:
			d.Type = string(f.bytes)
		case 3:
			d.LearningRate = math.Float64frombits(f.value)
		case 4:
			w, err := parseWeight(f.bytes)
			if err != nil {
				return d, errors.Wrapf(err, "decoder %s", d.Key)
			}
			d.Weights = append(d.Weights, w)
		}
	}
	return d, nil
}

func parseOptimizer(b []byte) (*OptimizerState, error) {
	o := &OptimizerState{Parameters: map[string]interface{}{}}
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			o.Type = string(f.bytes)
		case 2:
			if err := parseParam(f.bytes, o.Parameters); err != nil {
				return nil, err
			}
		case 3:
			tf, err := parseFields(f.bytes)
			if err != nil {
				return nil, err
			}
			var t OptimizerTensor
			for _, g := range tf {
				switch g.num {
				case 1:
					t.Name = string(g.bytes)
				case 2:
					if t.Shape, err = parseShape(g.bytes); err != nil {
						return nil, err
					}
				case 3:
					if t.Data, err = parseFloats(g.bytes); err != nil {
						return nil, err
					}
				case 4:
					t.StateType = string(g.bytes)
				}
			}
			o.StateData = append(o.StateData, t)
		}
	}
	return o, nil
}

func unmarshalCheckpoint(b []byte) (*Checkpoint, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}

	c := &Checkpoint{}
	for _, f := range fields {
		switch f.num {
		case 1:
			tf, err := parseFields(f.bytes)
			if err != nil {
				return nil, err
			}
			for _, g := range tf {
				switch g.num {
				case 1:
					c.TrainingState.Iteration = int(g.value)
				case 2:
					c.TrainingState.MaxIter = int(g.value)
				case 3:
					c.TrainingState.LearningRate = math.Float64frombits(g.value)
				}
			}
		case 2:
			d, err := parseDecoder(f.bytes)
			if err != nil {
				return nil, err
			}
			c.Decoders = append(c.Decoders, d)
		case 3:
			if c.OptimizerState, err = parseOptimizer(f.bytes); err != nil {
				return nil, err
			}
		case 4:
			sf, err := parseFields(f.bytes)
			if err != nil {
				return nil, err
			}
			s := &SchedulerState{Parameters: map[string]interface{}{}}
			for _, g := range sf {
				switch g.num {
				case 1:
					s.Type = string(g.bytes)
				case 2:
					if err := parseParam(g.bytes, s.Parameters); err != nil {
						return nil, err
					}
				}
			}
			c.SchedulerState = s
		case 5:
			mf, err := parseFields(f.bytes)
			if err != nil {
				return nil, err
			}
			for _, g := range mf {
				switch g.num {
				case 1:
					c.Metadata.Version = string(g.bytes)
				case 2:
					c.Metadata.Framework = string(g.bytes)
				case 3:
					c.Metadata.CreatedAt = time.Unix(0, int64(g.value)).UTC()
				case 4:
					c.Metadata.Description = string(g.bytes)
				case 5:
					c.Metadata.Tags = append(c.Metadata.Tags, string(g.bytes))
				case 6:
					c.Metadata.RunID = string(g.bytes)
				}
			}
		}
	}
	return c, nil
}
