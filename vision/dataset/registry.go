package dataset

import (
	"strings"

	"github.com/pkg/errors"
)

// ParseDatasetString splits "Name:key=value:key=value" into the dataset name
// and its keyword arguments.
func ParseDatasetString(s string) (string, map[string]string, error) {
	tokens := strings.Split(strings.TrimSpace(s), ":")
	name := tokens[0]
	if name == "" {
		return "", nil, errors.Errorf("dataset string %q has no name", s)
	}

	kwargs := make(map[string]string, len(tokens)-1)
	for _, token := range tokens[1:] {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			return "", nil, errors.Errorf("dataset string %q: malformed argument %q", s, token)
		}
		kwargs[key] = value
	}
	return name, kwargs, nil
}

// MakeDataset builds the adapter described by a dataset string such as
// "MC:split=TRAIN:root=/data/MC".
func MakeDataset(s string, opts ...Option) (Labeled, error) {
	name, kwargs, err := ParseDatasetString(s)
	if err != nil {
		return nil, err
	}

	root, ok := kwargs["root"]
	if !ok || root == "" {
		return nil, errors.Errorf("dataset string %q: missing root", s)
	}
	split, err := ParseSplit(kwargs["split"])
	if err != nil {
		return nil, errors.Wrapf(err, "dataset string %q", s)
	}
	for key := range kwargs {
		if key != "root" && key != "split" {
			return nil, errors.Errorf("dataset string %q: unknown argument %q", s, key)
		}
	}

	switch name {
	case "MC":
		return NewMC(split, root, opts...)
	case "NIHChestXray":
		return NewNIHChestXray(split, root, opts...)
	default:
		return nil, errors.Errorf("unsupported dataset %q", name)
	}
}
