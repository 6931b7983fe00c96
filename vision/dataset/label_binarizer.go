package dataset

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FindingSeparator delimits labels inside a "Finding Labels" cell.
const FindingSeparator = "|"

// SplitFindings turns "Effusion|Infiltration" into its label list.
func SplitFindings(cell string) []string {
	parts := strings.Split(cell, FindingSeparator)
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			labels = append(labels, p)
		}
	}
	return labels
}

// MultiLabelBinarizer maps label sets to multi-hot vectors over a sorted
// class vocabulary.
type MultiLabelBinarizer struct {
	classes []string
	index   map[string]int
}

// FitMultiLabelBinarizer collects every label seen in rows and sorts them.
func FitMultiLabelBinarizer(rows [][]string) *MultiLabelBinarizer {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for _, label := range row {
			seen[label] = struct{}{}
		}
	}

	b := &MultiLabelBinarizer{
		classes: make([]string, 0, len(seen)),
		index:   make(map[string]int, len(seen)),
	}
	for label := range seen {
		b.classes = append(b.classes, label)
	}
	sort.Strings(b.classes)
	for i, c := range b.classes {
		b.index[c] = i
	}
	return b
}

// Classes returns the sorted vocabulary.
func (b *MultiLabelBinarizer) Classes() []string {
	return append([]string(nil), b.classes...)
}

func (b *MultiLabelBinarizer) NumClasses() int { return len(b.classes) }

// Transform encodes one label set. Labels outside the fitted vocabulary are
// an error.
func (b *MultiLabelBinarizer) Transform(labels []string) ([]int32, error) {
	out := make([]int32, len(b.classes))
	for _, label := range labels {
		i, ok := b.index[label]
		if !ok {
			return nil, errors.Errorf("unknown label %q", label)
		}
		out[i] = 1
	}
	return out, nil
}

// Inverse lists the class names set in a multi-hot vector.
func (b *MultiLabelBinarizer) Inverse(target []int32) []string {
	var names []string
	for i, v := range target {
		if v != 0 && i < len(b.classes) {
			names = append(names, b.classes[i])
		}
	}
	return names
}
