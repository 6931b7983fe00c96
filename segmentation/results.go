package segmentation

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"

	"github.com/tsawler/cxr-probe/training"
)

// ResultsFile is the metrics log written into a run's output directory.
const ResultsFile = "results_eval_linear.json"

// BestSegmentor names the selected decoder and its metrics.
type BestSegmentor struct {
	Name    string           `json:"name"`
	Results training.Snapshot `json:"results"`
}

// Record is one line of the metrics log.
type Record struct {
	Iteration     int           `json:"iteration"`
	RunID         string        `json:"run_id,omitempty"`
	BestSegmentor BestSegmentor `json:"best_segmentor"`
}

// ResultsLog appends records as JSON lines. Only the main process writes;
// on other processes Append is a no-op.
type ResultsLog struct {
	mu     sync.Mutex
	path   string
	enable bool
}

func NewResultsLog(path string, isMainProcess bool) *ResultsLog {
	return &ResultsLog{path: path, enable: isMainProcess}
}

func (rl *ResultsLog) Path() string { return rl.path }

// Append writes rec as a single line at the end of the log.
func (rl *ResultsLog) Append(rec Record) error {
	if rl == nil || !rl.enable {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to encode metrics record")
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(rl.path), 0755); err != nil {
		return errors.Wrap(err, "failed to create metrics directory")
	}
	f, err := os.OpenFile(rl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open metrics log")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to append metrics record")
	}
	return errors.Wrap(f.Close(), "failed to close metrics log")
}

// ReadRecords parses every record of a metrics log, in file order.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open metrics log")
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, line)
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(scanner.Err(), "failed to read metrics log")
}
