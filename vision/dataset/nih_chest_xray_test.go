package dataset

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nihLabels = `Image Index,Finding Labels,Follow-up #,Patient ID
00000001_000.png,Cardiomegaly,0,1
00000002_000.png,No Finding,0,2
00000003_000.png,Hernia|Effusion,0,3
00000004_000.png,Effusion,1,3
00000005_000.png,Atelectasis|Cardiomegaly,0,5
`

// createNIHFixture writes labels, manifests and images. Rows 1, 3 and 5 are
// train/val, rows 2 and 4 test.
func createNIHFixture(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	writeFile(t, filepath.Join(dataDir, "labels.csv"), nihLabels)
	writeFile(t, filepath.Join(dataDir, "train_val_list.txt"), "00000005_000.png\n00000001_000.png\n00000003_000.png\n")
	writeFile(t, filepath.Join(dataDir, "test_list.txt"), "00000002_000.png\n00000004_000.png\n")

	images := filepath.Join(dataDir, "images")
	for _, name := range []string{"00000001_000.png", "00000002_000.png", "00000003_000.png", "00000004_000.png", "00000005_000.png"} {
		writePNG(t, filepath.Join(images, name), 3, 3, constant(100))
	}
	return images
}

func TestNIHChestXrayTrain(t *testing.T) {
	root := createNIHFixture(t)
	ds, err := NewNIHChestXray(Train, root)
	require.NoError(t, err)

	// table order is preserved, not manifest order
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, "00000001_000.png", ds.ImageName(0))
	assert.Equal(t, "00000003_000.png", ds.ImageName(1))
	assert.Equal(t, "00000005_000.png", ds.ImageName(2))

	// vocabulary comes from the whole table, sorted
	assert.Equal(t, []string{"Atelectasis", "Cardiomegaly", "Effusion", "Hernia", "No Finding"}, ds.ClassNames())
	assert.Equal(t, 5, ds.NumClasses())

	target, ok := ds.Target(1)
	require.True(t, ok)
	assert.Equal(t, []int32{0, 0, 1, 1, 0}, target.Int32())

	names, ok := ds.TargetClassNames(2)
	require.True(t, ok)
	assert.Equal(t, []string{"Atelectasis", "Cardiomegaly"}, names)

	all, ok := ds.Targets()
	require.True(t, ok)
	assert.Equal(t, []int{3, 5}, all.Shape)

	img, tgt, err := ds.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 3}, img.Shape)
	assert.Equal(t, []int32{0, 1, 0, 0, 0}, tgt.Int32())
}

func TestNIHChestXrayTestIsUnlabeled(t *testing.T) {
	root := createNIHFixture(t)
	ds, err := NewNIHChestXray(Test, root)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())

	target, ok := ds.Target(0)
	assert.False(t, ok)
	assert.Nil(t, target)

	_, ok = ds.Targets()
	assert.False(t, ok)
	_, ok = ds.TargetClassNames(0)
	assert.False(t, ok)

	img, tgt, err := ds.Get(1)
	require.NoError(t, err)
	assert.NotNil(t, img)
	assert.Nil(t, tgt)
}

func TestNIHClassLookup(t *testing.T) {
	root := createNIHFixture(t)
	ds, err := NewNIHChestXray(Val, root)
	require.NoError(t, err)

	name, err := ds.ClassName(2)
	require.NoError(t, err)
	assert.Equal(t, "Effusion", name)

	id, err := ds.ClassID(2)
	require.NoError(t, err)
	assert.Equal(t, "3", id)

	_, err = ds.ClassName(5)
	assert.Error(t, err)
	_, err = ds.ClassID(-1)
	assert.Error(t, err)
}

func TestNIHChestXrayErrors(t *testing.T) {
	t.Run("UnsupportedSplit", func(t *testing.T) {
		_, err := NewNIHChestXray(Split(9), createNIHFixture(t))
		assert.True(t, errors.Is(err, ErrUnsupportedSplit))
	})

	t.Run("MissingLabels", func(t *testing.T) {
		_, err := NewNIHChestXray(Train, filepath.Join(t.TempDir(), "images"))
		assert.Error(t, err)
	})
}

func TestMultiLabelBinarizer(t *testing.T) {
	b := FitMultiLabelBinarizer([][]string{{"b", "a"}, {"c"}, {"a"}})
	assert.Equal(t, []string{"a", "b", "c"}, b.Classes())

	v, err := b.Transform([]string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 0, 1}, v)
	assert.Equal(t, []string{"a", "c"}, b.Inverse(v))

	_, err = b.Transform([]string{"z"})
	assert.Error(t, err)

	assert.Equal(t, []string{"Hernia", "Effusion"}, SplitFindings("Hernia| Effusion"))
	assert.Empty(t, SplitFindings(""))
}
