package training

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// SmoothedValue tracks a series of values and exposes smoothed views over a
// sliding window as well as the global average.
type SmoothedValue struct {
	window []float64
	size   int
	total  float64
	count  int
}

// NewSmoothedValue keeps the last windowSize values (20 when <= 0).
func NewSmoothedValue(windowSize int) *SmoothedValue {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &SmoothedValue{size: windowSize}
}

func (sv *SmoothedValue) Update(v float64) {
	if len(sv.window) == sv.size {
		sv.window = sv.window[1:]
	}
	sv.window = append(sv.window, v)
	sv.total += v
	sv.count++
}

// Median of the window; 0 when empty.
func (sv *SmoothedValue) Median() float64 {
	m, err := stats.Median(sv.window)
	if err != nil {
		return 0
	}
	return m
}

// Avg is the mean of the window; 0 when empty.
func (sv *SmoothedValue) Avg() float64 {
	m, err := stats.Mean(sv.window)
	if err != nil {
		return 0
	}
	return m
}

func (sv *SmoothedValue) GlobalAvg() float64 {
	if sv.count == 0 {
		return 0
	}
	return sv.total / float64(sv.count)
}

// Value is the most recent value.
func (sv *SmoothedValue) Value() float64 {
	if len(sv.window) == 0 {
		return 0
	}
	return sv.window[len(sv.window)-1]
}

func (sv *SmoothedValue) Count() int { return sv.count }

func (sv *SmoothedValue) String() string {
	return fmt.Sprintf("%.4f (%.4f)", sv.Median(), sv.GlobalAvg())
}

// MetricLogger collects named SmoothedValues during training and writes
// one summary line with throughput and ETA when asked.
type MetricLogger struct {
	logger    *zap.Logger
	meters    map[string]*SmoothedValue
	order     []string
	start     time.Time
	startIter int
	now       func() time.Time
}

// NewMetricLogger creates a logger whose ETA is measured from startIter.
func NewMetricLogger(logger *zap.Logger, startIter int) *MetricLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricLogger{
		logger:    logger,
		meters:    make(map[string]*SmoothedValue),
		start:     time.Now(),
		startIter: startIter,
		now:       time.Now,
	}
}

// Update records value under name, creating the meter on first use.
func (ml *MetricLogger) Update(name string, value float64) {
	m, ok := ml.meters[name]
	if !ok {
		m = NewSmoothedValue(20)
		ml.meters[name] = m
		ml.order = append(ml.order, name)
	}
	m.Update(value)
}

// Meter returns the meter for name.
func (ml *MetricLogger) Meter(name string) (*SmoothedValue, bool) {
	m, ok := ml.meters[name]
	return m, ok
}

func (ml *MetricLogger) String() string {
	parts := make([]string, 0, len(ml.order))
	for _, name := range ml.order {
		parts = append(parts, fmt.Sprintf("%s: %s", name, ml.meters[name]))
	}
	return strings.Join(parts, "  ")
}

// ETA estimates the time left to reach maxIter from the rate so far.
func (ml *MetricLogger) ETA(iteration, maxIter int) time.Duration {
	done := iteration - ml.startIter + 1
	if done <= 0 || iteration >= maxIter {
		return 0
	}
	perIter := ml.now().Sub(ml.start) / time.Duration(done)
	return perIter * time.Duration(maxIter-iteration)
}

// Log writes "<header> [i/max] eta: ... <meters>" at info level.
func (ml *MetricLogger) Log(header string, iteration, maxIter int) {
	eta := ml.ETA(iteration, maxIter)
	ml.logger.Info(fmt.Sprintf("%s [%s/%s] eta: %s  %s",
		header,
		humanize.Comma(int64(iteration)),
		humanize.Comma(int64(maxIter)),
		formatDuration(eta),
		ml.String(),
	))
}

// formatDuration formats duration as H:MM:SS
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}
