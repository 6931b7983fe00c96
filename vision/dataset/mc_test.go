package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tsawler/cxr-probe/vision/preprocessing"
)

func TestNewMC(t *testing.T) {
	t.Run("SortedListing", func(t *testing.T) {
		root := createMCFixture(t, Train, "c.png", "a.png", "b.png")

		ds, err := NewMC(Train, root)
		require.NoError(t, err)
		assert.Equal(t, 3, ds.Len())
		assert.Equal(t, "a.png", ds.ImageName(0))
		assert.Equal(t, "c.png", ds.ImageName(2))
		assert.Equal(t, 3, ds.NumClasses())
		assert.Equal(t, []string{"background", "left_lung", "right_lung"}, ds.ClassNames())
	})

	t.Run("UnsupportedSplit", func(t *testing.T) {
		_, err := NewMC(Split(7), t.TempDir())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedSplit))
	})

	t.Run("MissingSplitDirectory", func(t *testing.T) {
		_, err := NewMC(Val, t.TempDir())
		assert.Error(t, err)
	})

	t.Run("AdvisoryMissingCount", func(t *testing.T) {
		root := createMCFixture(t, Val, "a.png", "b.png")
		core, logs := observer.New(zap.InfoLevel)

		ds, err := NewMC(Val, root, WithLogger(zap.New(core)))
		require.NoError(t, err)
		assert.Equal(t, 2, ds.Len())

		entries := logs.FilterMessage("21 scans are missing from VAL set").All()
		assert.Len(t, entries, 1)
	})
}

func TestMCTarget(t *testing.T) {
	root := createMCFixture(t, Test, "scan.png")
	ds, err := NewMC(Test, root)
	require.NoError(t, err)

	target, err := ds.Target(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, target.Shape)
	// left covers x<3, right covers x>=2; overlap at x=2 sums to 3
	row := []int32{1, 1, 3, 2}
	assert.Equal(t, append(append([]int32{}, row...), row...), target.Int32())

	_, err = ds.Target(1)
	assert.Error(t, err)
}

func TestMCImageData(t *testing.T) {
	root := createMCFixture(t, Train, "a.png", "b.png")
	ds, err := NewMC(Train, root)
	require.NoError(t, err)

	img, err := ds.ImageData(1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 4}, img.Shape)
	for _, v := range img.Float32() {
		assert.InDelta(t, 20.0, v, 1e-3)
	}
}

func TestMCGet(t *testing.T) {
	t.Run("WithTransform", func(t *testing.T) {
		root := createMCFixture(t, Train, "a.png")
		ds, err := NewMC(Train, root, WithTransform(preprocessing.NewSegmentationTransform(8)))
		require.NoError(t, err)

		img, target, err := ds.Get(0)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 8, 8}, img.Shape)
		assert.Equal(t, []int{8, 8}, target.Shape)
	})

	t.Run("LoadSize", func(t *testing.T) {
		root := createMCFixture(t, Train, "a.png")
		ds, err := NewMC(Train, root, WithLoadSize(6))
		require.NoError(t, err)

		img, target, err := ds.Get(0)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 6, 6}, img.Shape)
		assert.Equal(t, []int{6, 6}, target.Shape)
	})

	t.Run("MissingMask", func(t *testing.T) {
		root := createMCFixture(t, Train, "a.png")
		require.NoError(t, os.Remove(filepath.Join(root, "ManualMask", "rightMask", "a.png")))
		ds, err := NewMC(Train, root)
		require.NoError(t, err)

		_, _, err = ds.Get(0)
		assert.Error(t, err)
	})
}
