package dataset

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrUnsupportedSplit is returned when a dataset is asked for a split it
// does not know how to load.
var ErrUnsupportedSplit = errors.New("unsupported split")

// Split selects a partition of a dataset.
type Split int

const (
	Train Split = iota
	Val
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "TRAIN"
	case Val:
		return "VAL"
	case Test:
		return "TEST"
	default:
		return "UNKNOWN"
	}
}

// Dir is the on-disk directory name of the split.
func (s Split) Dir() string {
	return strings.ToLower(s.String())
}

// Valid reports whether s is one of the known splits.
func (s Split) Valid() bool {
	return s == Train || s == Val || s == Test
}

// ParseSplit accepts TRAIN, VAL or TEST in any case.
func ParseSplit(value string) (Split, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "TRAIN":
		return Train, nil
	case "VAL":
		return Val, nil
	case "TEST":
		return Test, nil
	default:
		return Split(-1), errors.Wrapf(ErrUnsupportedSplit, "%q", value)
	}
}

// SplitLengths is the expected number of files per split. It only feeds the
// advisory missing-file count and is never enforced.
type SplitLengths map[Split]int

// Expected returns the expected size of s, if one is recorded.
func (sl SplitLengths) Expected(s Split) (int, bool) {
	n, ok := sl[s]
	return n, ok
}

var (
	MCSplitLengths = SplitLengths{
		Train: 69,
		Val:   23,
		Test:  46,
	}

	NIHSplitLengths = SplitLengths{
		Train: 86_524,
		Test:  25_596,
	}
)
