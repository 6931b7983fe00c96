package dataset

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/tsawler/cxr-probe/tensor"
)

// ConcatDataset presents several datasets back to back.
type ConcatDataset struct {
	parts   []Dataset
	offsets []int // cumulative sizes; offsets[i] is the end of parts[i]
}

// NewConcatDataset joins the given datasets in order.
func NewConcatDataset(parts ...Dataset) (*ConcatDataset, error) {
	if len(parts) == 0 {
		return nil, errors.New("concat: no datasets given")
	}
	cd := &ConcatDataset{parts: parts, offsets: make([]int, len(parts))}
	total := 0
	for i, p := range parts {
		if p == nil {
			return nil, errors.Errorf("concat: dataset %d is nil", i)
		}
		total += p.Len()
		cd.offsets[i] = total
	}
	return cd, nil
}

func (cd *ConcatDataset) Len() int {
	return cd.offsets[len(cd.offsets)-1]
}

func (cd *ConcatDataset) locate(index int) (int, int, error) {
	if index < 0 || index >= cd.Len() {
		return 0, 0, errors.Errorf("index %d out of range [0, %d)", index, cd.Len())
	}
	part := sort.SearchInts(cd.offsets, index+1)
	start := 0
	if part > 0 {
		start = cd.offsets[part-1]
	}
	return part, index - start, nil
}

func (cd *ConcatDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	part, local, err := cd.locate(index)
	if err != nil {
		return nil, nil, err
	}
	return cd.parts[part].Get(local)
}

// NumClasses reports the class count of the first part when it is labeled.
func (cd *ConcatDataset) NumClasses() int {
	if l, ok := cd.parts[0].(Labeled); ok {
		return l.NumClasses()
	}
	return 0
}

func (cd *ConcatDataset) ClassNames() []string {
	if l, ok := cd.parts[0].(Labeled); ok {
		return l.ClassNames()
	}
	return nil
}
