package training

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/cxr-probe/tensor"
)

func TestParseMetricType(t *testing.T) {
	mt, err := ParseMetricType("Segmentation")
	require.NoError(t, err)
	assert.Equal(t, SegmentationMetrics, mt)
	mt, err = ParseMetricType("multilabel_auroc")
	require.NoError(t, err)
	assert.Equal(t, MultilabelAUROC, mt)
	_, err = ParseMetricType("accuracy")
	assert.Error(t, err)
}

func TestNewMetricValidation(t *testing.T) {
	_, err := NewMetric(SegmentationMetrics, 0, nil)
	assert.Error(t, err)
	_, err = NewMetric(SegmentationMetrics, 3, []string{"a"})
	assert.Error(t, err)
	_, err = NewMetric(MetricType("x"), 3, nil)
	assert.Error(t, err)
}

func TestConfusionMatrix(t *testing.T) {
	cm := NewConfusionMatrix(3)
	require.NoError(t, cm.Add([]int32{0, 1, 1, 2, 0}, []int32{0, 1, 2, 2, 255}))
	assert.Equal(t, int64(4), cm.TotalSamples)
	assert.InDelta(t, 0.75, cm.GetAccuracy(), 1e-12)

	iou, ok := cm.IoU(1)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, iou, 1e-12)
	dice, ok := cm.Dice(2)
	assert.True(t, ok)
	assert.InDelta(t, 2.0/3, dice, 1e-12)

	assert.Error(t, cm.Add([]int32{5}, []int32{0}))
	assert.Error(t, cm.Add([]int32{0, 1}, []int32{0}))

	cm.Reset()
	assert.Equal(t, int64(0), cm.TotalSamples)
	assert.Equal(t, int64(0), cm.Matrix[0][0])
	_, ok = cm.IoU(0)
	assert.False(t, ok)
}

func TestSegmentationMetric(t *testing.T) {
	m, err := NewMetric(SegmentationMetrics, 3, []string{"background", "left_lung", "right_lung"})
	require.NoError(t, err)

	preds, _ := tensor.FromInt32([]int{1, 2, 2}, []int32{0, 1, 1, 0})
	targets, _ := tensor.FromInt32([]int{1, 2, 2}, []int32{0, 1, 0, 0})
	require.NoError(t, m.Update(preds, targets))

	snap, err := m.Compute()
	require.NoError(t, err)

	primary, ok := snap.Primary()
	require.True(t, ok)
	assert.Equal(t, "mIoU", primary.Name)
	// background: tp 2, fn 1 -> 2/3; left_lung: tp 1, fp 1 -> 1/2; right_lung absent
	assert.InDelta(t, (2.0/3+0.5)/2, primary.Value, 1e-12)

	acc, _ := snap.Get("pixel_accuracy")
	assert.InDelta(t, 0.75, acc, 1e-12)
	right, ok := snap.Get("IoU.right_lung")
	assert.True(t, ok)
	assert.Equal(t, 0.0, right)

	names := make([]string, len(snap))
	for i, v := range snap {
		names[i] = v.Name
	}
	assert.Equal(t, []string{"mIoU", "mDice", "pixel_accuracy", "IoU.background", "IoU.left_lung", "IoU.right_lung"}, names)

	clone := m.Clone()
	_, err = clone.Compute()
	assert.Error(t, err, "clone starts empty")

	m.Reset()
	_, err = m.Compute()
	assert.Error(t, err)

	wrong, _ := tensor.FromInt32([]int{1, 4}, make([]int32, 4))
	assert.Error(t, m.Update(wrong, targets))
}

func TestCalculateAUCROC(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float32
		labels   []int32
		expected float64
		ok       bool
	}{
		{"perfect", []float32{0.9, 0.8, 0.3, 0.1}, []int32{1, 1, 0, 0}, 1.0, true},
		{"inverted", []float32{0.9, 0.8, 0.3, 0.1}, []int32{0, 0, 1, 1}, 0.0, true},
		{"all_tied", []float32{0.5, 0.5, 0.5, 0.5}, []int32{1, 0, 1, 0}, 0.5, true},
		{"partial", []float32{0.9, 0.7, 0.6, 0.2}, []int32{1, 0, 1, 0}, 0.75, true},
		{"single_class", []float32{0.9, 0.1}, []int32{1, 1}, 0, false},
		{"empty", nil, nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auc, ok := CalculateAUCROC(tt.scores, tt.labels)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.expected, auc, 1e-12)
		})
	}
}

func TestMultilabelAUROCMetric(t *testing.T) {
	m, err := NewMetric(MultilabelAUROC, 2, []string{"Effusion", "Hernia"})
	require.NoError(t, err)

	scores, _ := tensor.FromFloat32([]int{4, 2}, []float32{
		0.9, 0.1,
		0.8, 0.2,
		0.3, 0.3,
		0.1, 0.4,
	})
	labels, _ := tensor.FromInt32([]int{4, 2}, []int32{
		1, 0,
		1, 0,
		0, 0,
		0, 0,
	})
	require.NoError(t, m.Update(scores, labels))

	snap, err := m.Compute()
	require.NoError(t, err)
	primary, _ := snap.Primary()
	assert.Equal(t, "AUROC", primary.Name)
	// Hernia has no positives and is left out of the macro average
	assert.InDelta(t, 1.0, primary.Value, 1e-12)
	hernia, ok := snap.Get("AUROC.Hernia")
	assert.True(t, ok)
	assert.Equal(t, 0.0, hernia)

	bad, _ := tensor.FromFloat32([]int{4, 3}, make([]float32, 12))
	assert.Error(t, m.Update(bad, labels))

	empty := m.Clone()
	_, err = empty.Compute()
	assert.Error(t, err)
}

func TestSnapshotJSONKeepsOrder(t *testing.T) {
	snap := Snapshot{{"mIoU", 0.5}, {"mDice", 0.25}, {"IoU.background", 1}}
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Equal(t, `{"mIoU":0.5,"mDice":0.25,"IoU.background":1}`, string(b))

	var back Snapshot
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, snap, back)
	assert.Equal(t, "mIoU=0.5000 mDice=0.2500 IoU.background=1.0000", snap.String())

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &back))
}
