package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/tsawler/cxr-probe/tensor"
)

// MetricType selects a metric collection.
type MetricType string

const (
	// SegmentationMetrics reports mIoU, mDice, pixel accuracy and per-class IoU.
	SegmentationMetrics MetricType = "segmentation"
	// MultilabelAUROC reports macro AUROC and per-class AUROC.
	MultilabelAUROC MetricType = "multilabel_auroc"
)

// ParseMetricType validates a metric collection name.
func ParseMetricType(s string) (MetricType, error) {
	switch mt := MetricType(strings.ToLower(s)); mt {
	case SegmentationMetrics, MultilabelAUROC:
		return mt, nil
	default:
		return "", fmt.Errorf("unknown metric type %q", s)
	}
}

// Metric accumulates predictions and computes an ordered snapshot. The first
// entry of the snapshot is the primary metric used for model selection.
type Metric interface {
	Update(preds, targets *tensor.Tensor) error
	Compute() (Snapshot, error)
	Reset()
	// Clone returns an empty metric with the same configuration.
	Clone() Metric
}

// NewMetric builds the collection mt for numClasses classes. classNames may
// be nil, in which case classes are reported by index.
func NewMetric(mt MetricType, numClasses int, classNames []string) (Metric, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("metric needs at least one class, got %d", numClasses)
	}
	if classNames != nil && len(classNames) != numClasses {
		return nil, fmt.Errorf("%d class names for %d classes", len(classNames), numClasses)
	}
	switch mt {
	case SegmentationMetrics:
		return NewSegmentationMetric(numClasses, classNames), nil
	case MultilabelAUROC:
		return NewMultilabelAUROCMetric(numClasses, classNames), nil
	default:
		return nil, fmt.Errorf("unknown metric type %q", mt)
	}
}

func className(names []string, i int) string {
	if names != nil {
		return names[i]
	}
	return fmt.Sprintf("class_%d", i)
}

// MetricValue is one named entry of a Snapshot.
type MetricValue struct {
	Name  string
	Value float64
}

// Snapshot is an ordered list of metric values. It marshals to a JSON
// object whose keys keep that order.
type Snapshot []MetricValue

// Primary returns the first entry.
func (s Snapshot) Primary() (MetricValue, bool) {
	if len(s) == 0 {
		return MetricValue{}, false
	}
	return s[0], true
}

// Get looks a value up by name.
func (s Snapshot) Get(name string) (float64, bool) {
	for _, v := range s {
		if v.Name == name {
			return v.Value, true
		}
	}
	return 0, false
}

func (s Snapshot) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = fmt.Sprintf("%s=%.4f", v.Name, v.Value)
	}
	return strings.Join(parts, " ")
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(v.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v.Value)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %v", v.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metric snapshot must be a JSON object")
	}
	out := Snapshot{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in metric snapshot", tok)
		}
		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("metric %s: %v", name, err)
		}
		out = append(out, MetricValue{Name: name, Value: v})
	}
	*s = out
	return nil
}

// ConfusionMatrix counts [true_class][predicted_class] pairs.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int64
	TotalSamples int64
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int64, numClasses)
	for i := range matrix {
		matrix[i] = make([]int64, numClasses)
	}
	return &ConfusionMatrix{NumClasses: numClasses, Matrix: matrix}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Add counts aligned predicted and true labels. Pairs whose true label is
// outside [0, NumClasses) are skipped; an out-of-range prediction is an
// error.
func (cm *ConfusionMatrix) Add(predictions, trueLabels []int32) error {
	if len(predictions) != len(trueLabels) {
		return fmt.Errorf("%d predictions for %d labels", len(predictions), len(trueLabels))
	}
	for i, t := range trueLabels {
		if t < 0 || int(t) >= cm.NumClasses {
			continue
		}
		p := predictions[i]
		if p < 0 || int(p) >= cm.NumClasses {
			return fmt.Errorf("predicted class %d out of range [0, %d)", p, cm.NumClasses)
		}
		cm.Matrix[t][p]++
		cm.TotalSamples++
	}
	return nil
}

// GetAccuracy returns the fraction of counted samples on the diagonal.
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	var correct int64
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// classCounts returns true positives, false positives and false negatives
// for class c.
func (cm *ConfusionMatrix) classCounts(c int) (tp, fp, fn int64) {
	tp = cm.Matrix[c][c]
	for k := 0; k < cm.NumClasses; k++ {
		if k == c {
			continue
		}
		fp += cm.Matrix[k][c]
		fn += cm.Matrix[c][k]
	}
	return tp, fp, fn
}

// IoU returns the intersection over union of class c and whether the class
// occurred at all (in targets or predictions).
func (cm *ConfusionMatrix) IoU(c int) (float64, bool) {
	tp, fp, fn := cm.classCounts(c)
	union := tp + fp + fn
	if union == 0 {
		return 0, false
	}
	return float64(tp) / float64(union), true
}

// Dice returns 2TP / (2TP + FP + FN) for class c and whether it occurred.
func (cm *ConfusionMatrix) Dice(c int) (float64, bool) {
	tp, fp, fn := cm.classCounts(c)
	denom := 2*tp + fp + fn
	if denom == 0 {
		return 0, false
	}
	return 2 * float64(tp) / float64(denom), true
}

// SegmentationMetric accumulates a pixel confusion matrix. Predictions and
// targets are [B, H, W] int32 class maps; target pixels outside the class
// range are ignored.
type SegmentationMetric struct {
	cm         *ConfusionMatrix
	classNames []string
}

func NewSegmentationMetric(numClasses int, classNames []string) *SegmentationMetric {
	return &SegmentationMetric{cm: NewConfusionMatrix(numClasses), classNames: classNames}
}

func (m *SegmentationMetric) Update(preds, targets *tensor.Tensor) error {
	if preds == nil || targets == nil || preds.DType != tensor.Int32 || targets.DType != tensor.Int32 {
		return fmt.Errorf("segmentation metric expects int32 predictions and targets")
	}
	if !tensor.SameShape(preds, targets) {
		return fmt.Errorf("prediction shape %v does not match target shape %v", preds.Shape, targets.Shape)
	}
	return m.cm.Add(preds.Int32(), targets.Int32())
}

// Compute returns mIoU, mDice, pixel_accuracy and one IoU per class. Means
// are taken over classes that occurred; a class that never occurred
// reports 0.
func (m *SegmentationMetric) Compute() (Snapshot, error) {
	if m.cm.TotalSamples == 0 {
		return nil, fmt.Errorf("segmentation metric has no samples")
	}
	var ious, dices stats.Float64Data
	perClass := make(Snapshot, m.cm.NumClasses)
	for c := 0; c < m.cm.NumClasses; c++ {
		iou, ok := m.cm.IoU(c)
		if ok {
			ious = append(ious, iou)
		}
		if dice, ok := m.cm.Dice(c); ok {
			dices = append(dices, dice)
		}
		perClass[c] = MetricValue{Name: "IoU." + className(m.classNames, c), Value: iou}
	}
	mIoU, err := stats.Mean(ious)
	if err != nil {
		return nil, err
	}
	mDice, err := stats.Mean(dices)
	if err != nil {
		return nil, err
	}
	out := Snapshot{
		{Name: "mIoU", Value: mIoU},
		{Name: "mDice", Value: mDice},
		{Name: "pixel_accuracy", Value: m.cm.GetAccuracy()},
	}
	return append(out, perClass...), nil
}

func (m *SegmentationMetric) Reset() { m.cm.Reset() }

func (m *SegmentationMetric) Clone() Metric {
	return NewSegmentationMetric(m.cm.NumClasses, m.classNames)
}

// MultilabelAUROCMetric accumulates per-class scores and binary labels.
// Predictions are [B, C] float32 scores; targets are [B, C] int32 0/1.
type MultilabelAUROCMetric struct {
	numClasses int
	classNames []string
	scores     [][]float32
	labels     [][]int32
}

func NewMultilabelAUROCMetric(numClasses int, classNames []string) *MultilabelAUROCMetric {
	m := &MultilabelAUROCMetric{numClasses: numClasses, classNames: classNames}
	m.Reset()
	return m
}

func (m *MultilabelAUROCMetric) Update(preds, targets *tensor.Tensor) error {
	if preds == nil || targets == nil || preds.DType != tensor.Float32 || targets.DType != tensor.Int32 {
		return fmt.Errorf("multilabel AUROC expects float32 scores and int32 targets")
	}
	if len(preds.Shape) != 2 || preds.Shape[1] != m.numClasses || !tensor.SameShape(preds, targets) {
		return fmt.Errorf("expected [B, %d] scores and targets, got %v and %v", m.numClasses, preds.Shape, targets.Shape)
	}
	s, y := preds.Float32(), targets.Int32()
	for i := 0; i < preds.Shape[0]; i++ {
		for c := 0; c < m.numClasses; c++ {
			m.scores[c] = append(m.scores[c], s[i*m.numClasses+c])
			m.labels[c] = append(m.labels[c], y[i*m.numClasses+c])
		}
	}
	return nil
}

// Compute returns the macro AUROC over classes that have both positive and
// negative samples, followed by each class's AUROC (0 when undefined).
func (m *MultilabelAUROCMetric) Compute() (Snapshot, error) {
	var defined stats.Float64Data
	perClass := make(Snapshot, m.numClasses)
	for c := 0; c < m.numClasses; c++ {
		auc, ok := CalculateAUCROC(m.scores[c], m.labels[c])
		if ok {
			defined = append(defined, auc)
		}
		perClass[c] = MetricValue{Name: "AUROC." + className(m.classNames, c), Value: auc}
	}
	macro, err := stats.Mean(defined)
	if err != nil {
		return nil, fmt.Errorf("AUROC is undefined for every class")
	}
	return append(Snapshot{{Name: "AUROC", Value: macro}}, perClass...), nil
}

func (m *MultilabelAUROCMetric) Reset() {
	m.scores = make([][]float32, m.numClasses)
	m.labels = make([][]int32, m.numClasses)
}

func (m *MultilabelAUROCMetric) Clone() Metric {
	return NewMultilabelAUROCMetric(m.numClasses, m.classNames)
}

// CalculateAUCROC computes the area under the ROC curve of binary labels
// (1 positive, anything else negative) ranked by score. Tied scores form a
// single ROC step, which counts each tied positive/negative pair as half.
// ok is false when either class is absent.
func CalculateAUCROC(predictions []float32, trueLabels []int32) (auc float64, ok bool) {
	if len(predictions) != len(trueLabels) || len(predictions) == 0 {
		return 0, false
	}

	type predLabel struct {
		score float32
		label int32
	}
	pairs := make([]predLabel, len(predictions))
	totalPos, totalNeg := 0, 0
	for i := range predictions {
		pairs[i] = predLabel{score: predictions[i], label: trueLabels[i]}
		if trueLabels[i] == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return 0, false
	}

	// Sort by prediction score (descending)
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].score > pairs[j].score
	})

	tp, fp := 0, 0
	prevTPR, prevFPR := 0.0, 0.0
	for i := 0; i < len(pairs); {
		j := i
		for ; j < len(pairs) && pairs[j].score == pairs[i].score; j++ {
			if pairs[j].label == 1 {
				tp++
			} else {
				fp++
			}
		}
		tpr := float64(tp) / float64(totalPos)
		fpr := float64(fp) / float64(totalNeg)
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2.0
		prevTPR, prevFPR = tpr, fpr
		i = j
	}
	return auc, true
}
