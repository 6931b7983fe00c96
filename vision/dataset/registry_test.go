package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSplit(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Split
	}{
		{"TRAIN", Train}, {"val", Val}, {" Test ", Test},
	} {
		got, err := ParseSplit(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseSplit("holdout")
	assert.True(t, errors.Is(err, ErrUnsupportedSplit))
	assert.Equal(t, "train", Train.Dir())
}

func TestParseDatasetString(t *testing.T) {
	name, kwargs, err := ParseDatasetString("MC:split=TRAIN:root=/data/MC")
	require.NoError(t, err)
	assert.Equal(t, "MC", name)
	assert.Equal(t, map[string]string{"split": "TRAIN", "root": "/data/MC"}, kwargs)

	_, _, err = ParseDatasetString("MC:split")
	assert.Error(t, err)
	_, _, err = ParseDatasetString("")
	assert.Error(t, err)
}

func TestMakeDataset(t *testing.T) {
	t.Run("MC", func(t *testing.T) {
		root := createMCFixture(t, Val, "a.png")
		ds, err := MakeDataset(fmt.Sprintf("MC:split=VAL:root=%s", root))
		require.NoError(t, err)
		assert.Equal(t, 1, ds.Len())
		assert.Equal(t, 3, ds.NumClasses())
	})

	t.Run("NIH", func(t *testing.T) {
		root := createNIHFixture(t)
		ds, err := MakeDataset(fmt.Sprintf("NIHChestXray:split=TRAIN:root=%s", root))
		require.NoError(t, err)
		assert.Equal(t, 3, ds.Len())
	})

	t.Run("Errors", func(t *testing.T) {
		for _, s := range []string{
			"Unknown:split=TRAIN:root=/x",
			"MC:split=TRAIN",
			"MC:split=HOLDOUT:root=/x",
			"MC:split=TRAIN:root=/x:extra=1",
		} {
			_, err := MakeDataset(s)
			assert.Error(t, err, s)
		}
	})
}

func TestConcatDataset(t *testing.T) {
	trainRoot := createMCFixture(t, Train, "a.png", "b.png")
	valRoot := createMCFixture(t, Val, "c.png")
	train, err := NewMC(Train, trainRoot)
	require.NoError(t, err)
	val, err := NewMC(Val, valRoot)
	require.NoError(t, err)

	cd, err := NewConcatDataset(train, val)
	require.NoError(t, err)
	assert.Equal(t, 3, cd.Len())
	assert.Equal(t, 3, cd.NumClasses())

	img, _, err := cd.Get(2)
	require.NoError(t, err)
	// c.png is the first scan of its fixture, intensity 10
	assert.InDelta(t, 10.0, img.Float32()[0], 1e-3)

	img, _, err = cd.Get(1)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, img.Float32()[0], 1e-3)

	_, _, err = cd.Get(3)
	assert.Error(t, err)

	_, err = NewConcatDataset()
	assert.Error(t, err)
}

func TestMakeMCSplits(t *testing.T) {
	dataDir := t.TempDir()
	source := filepath.Join(dataDir, MCSourceDir)
	for i := 0; i < 138; i++ {
		writeFile(t, filepath.Join(source, fmt.Sprintf("MCUCXR_%04d.png", i)), "x")
	}

	counts, err := MakeMCSplits(dataDir)
	require.NoError(t, err)
	assert.Equal(t, 69, counts[Train])
	assert.Equal(t, 23, counts[Val])
	assert.Equal(t, 46, counts[Test])

	for _, s := range []Split{Train, Val, Test} {
		entries, err := os.ReadDir(filepath.Join(dataDir, s.Dir()))
		require.NoError(t, err)
		assert.Len(t, entries, counts[s])
	}
	assert.FileExists(t, filepath.Join(dataDir, "test", "MCUCXR_0000.png"))
	assert.FileExists(t, filepath.Join(dataDir, "test", "MCUCXR_0003.png"))
	// first remaining file is index 1, which lands in val
	assert.FileExists(t, filepath.Join(dataDir, "val", "MCUCXR_0001.png"))
	assert.FileExists(t, filepath.Join(dataDir, "train", "MCUCXR_0002.png"))
	assert.NoDirExists(t, source)

	t.Run("TooFewImages", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, MCSourceDir, "one.png"), "x")
		_, err := MakeMCSplits(dir)
		assert.Error(t, err)
	})
}
