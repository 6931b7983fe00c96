package tensor

import (
	"fmt"
)

func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	t := &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		DType:    dtype,
		NumElems: calculateNumElements(shapeCopy),
	}

	if data == nil {
		return Zeros(shapeCopy, dtype)
	}
	if err := t.setData(data); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, data)
}

// FromFloat32 wraps data without copying it.
func FromFloat32(shape []int, data []float32) (*Tensor, error) {
	return NewTensor(shape, Float32, data)
}

// FromInt32 wraps data without copying it.
func FromInt32(shape []int, data []int32) (*Tensor, error) {
	return NewTensor(shape, Int32, data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		DType:    t.DType,
		NumElems: t.NumElems,
	}
	switch d := t.Data.(type) {
	case []float32:
		out.Data = append([]float32(nil), d...)
	case []int32:
		out.Data = append([]int32(nil), d...)
	}
	return out
}

// Reshape returns a view sharing the same data with a new shape.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", t.NumElems, newShape)
	}
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	return &Tensor{
		Shape:    append([]int(nil), newShape...),
		Strides:  calculateStrides(newShape),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Squeeze drops every dimension of size 1.
func (t *Tensor) Squeeze() *Tensor {
	shape := make([]int, 0, len(t.Shape))
	for _, d := range t.Shape {
		if d != 1 {
			shape = append(shape, d)
		}
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	out, _ := t.Reshape(shape)
	return out
}

// Unsqueeze inserts a dimension of size 1 at position dim.
func (t *Tensor) Unsqueeze(dim int) (*Tensor, error) {
	if dim < 0 || dim > len(t.Shape) {
		return nil, fmt.Errorf("unsqueeze dimension %d out of range for %d-d tensor", dim, len(t.Shape))
	}
	shape := make([]int, 0, len(t.Shape)+1)
	shape = append(shape, t.Shape[:dim]...)
	shape = append(shape, 1)
	shape = append(shape, t.Shape[dim:]...)
	return t.Reshape(shape)
}

// Stack joins equally shaped tensors along a new leading batch dimension.
func Stack(items []*Tensor) (*Tensor, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}
	first := items[0]
	shape := append([]int{len(items)}, first.Shape...)

	switch first.DType {
	case Float32:
		data := make([]float32, 0, len(items)*first.NumElems)
		for i, item := range items {
			if item.DType != Float32 || !SameShape(item, first) {
				return nil, fmt.Errorf("stack: item %d has shape %v/%s, expected %v/%s", i, item.Shape, item.DType, first.Shape, first.DType)
			}
			data = append(data, item.Float32()...)
		}
		return NewTensor(shape, Float32, data)
	case Int32:
		data := make([]int32, 0, len(items)*first.NumElems)
		for i, item := range items {
			if item.DType != Int32 || !SameShape(item, first) {
				return nil, fmt.Errorf("stack: item %d has shape %v/%s, expected %v/%s", i, item.Shape, item.DType, first.Shape, first.DType)
			}
			data = append(data, item.Int32()...)
		}
		return NewTensor(shape, Int32, data)
	default:
		return nil, fmt.Errorf("stack: unsupported dtype %s", first.DType)
	}
}
