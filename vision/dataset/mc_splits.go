package dataset

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// MCSourceDir is where the unsplit Montgomery County radiographs live.
const MCSourceDir = "CXR_png"

// SplitCounts reports how many files MakeMCSplits moved per split.
type SplitCounts map[Split]int

func stridedIndices(n, parts int) []int {
	step := (n + parts - 1) / parts
	var idx []int
	for i := 0; i < n; i += step {
		idx = append(idx, i)
	}
	return idx
}

// MakeMCSplits moves <dataDir>/CXR_png/* into train, val and test folders.
// Every third file (of the first 138) goes to test; of the remainder, every
// fourth of the first 92 goes to val; the rest is train. The listing is
// sorted so the partition is reproducible. The emptied source folder is
// removed.
func MakeMCSplits(dataDir string) (SplitCounts, error) {
	source := filepath.Join(dataDir, MCSourceDir)
	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list MC source images")
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	total := MCSplitLengths[Train] + MCSplitLengths[Val] + MCSplitLengths[Test]
	if len(files) < total {
		return nil, errors.Errorf("expected at least %d images in %s, found %d", total, source, len(files))
	}

	assignment := make(map[string]Split, len(files))
	testIdx := make(map[int]bool)
	for _, i := range stridedIndices(total, MCSplitLengths[Test]) {
		testIdx[i] = true
	}
	var remainder []string
	for i, f := range files {
		if testIdx[i] {
			assignment[f] = Test
		} else {
			remainder = append(remainder, f)
		}
	}
	trainVal := MCSplitLengths[Train] + MCSplitLengths[Val]
	valIdx := make(map[int]bool)
	for _, i := range stridedIndices(trainVal, MCSplitLengths[Val]) {
		valIdx[i] = true
	}
	for i, f := range remainder {
		if valIdx[i] {
			assignment[f] = Val
		} else {
			assignment[f] = Train
		}
	}

	for _, s := range []Split{Train, Val, Test} {
		if err := os.MkdirAll(filepath.Join(dataDir, s.Dir()), 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s folder", s.Dir())
		}
	}

	counts := make(SplitCounts)
	for _, f := range files {
		s := assignment[f]
		if err := os.Rename(filepath.Join(source, f), filepath.Join(dataDir, s.Dir(), f)); err != nil {
			return counts, errors.Wrapf(err, "failed to move %s", f)
		}
		counts[s]++
	}

	if err := os.Remove(source); err != nil {
		return counts, errors.Wrap(err, "failed to remove source folder")
	}
	return counts, nil
}
