// Package progress appends one timestamped row per training iteration to a CSV log.
package progress

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// TimeColumn is always the first column
const TimeColumn = "Time stamp"

const timeLayout = "2006-01-02 15:04:05.000000"

// Field is one named cell of a progress row
type Field struct {
	Name  string
	Value string
}

// Float formats v for the log
func Float(name string, v float64) Field {
	return Field{Name: name, Value: utils.FormatFloat(v)}
}

// Int formats v for the log
func Int(name string, v int) Field {
	return Field{Name: name, Value: strconv.Itoa(v)}
}

// String stores v unchanged
func String(name, v string) Field {
	return Field{Name: name, Value: v}
}

// Recorder writes the progress log. Columns not seen before are appended to the
// header and earlier rows get empty cells for them.
type Recorder struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a recorder for path
func New(path string) *Recorder {
	return &Recorder{path: path, now: time.Now}
}

// WithClock overrides the timestamp source
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Path returns the log location
func (r *Recorder) Path() string {
	return r.path
}

// Record appends a row stamped with the current time
func (r *Recorder) Record(fields ...Field) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header, rows, err := r.read()
	if err != nil {
		return err
	}
	if len(header) == 0 {
		header = []string{TimeColumn}
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	for _, f := range fields {
		if f.Name == TimeColumn {
			return fmt.Errorf("field name %q is reserved", TimeColumn)
		}
		if _, ok := index[f.Name]; !ok {
			index[f.Name] = len(header)
			header = append(header, f.Name)
		}
	}

	row := make([]string, len(header))
	row[0] = r.now().Format(timeLayout)
	for _, f := range fields {
		row[index[f.Name]] = f.Value
	}
	rows = append(rows, row)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, existing := range rows {
		padded := make([]string, len(header))
		copy(padded, existing)
		if err := w.Write(padded); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode progress log: %w", err)
	}
	return utils.WriteFileAtomic(r.path, buf.Bytes(), 0o644)
}

// Len returns the number of recorded rows. A missing log has none.
func (r *Recorder) Len() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, rows, err := r.read()
	return len(rows), err
}

// Load returns the header and all rows, each padded to the header width
func (r *Recorder) Load() ([]string, [][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	header, rows, err := r.read()
	if err != nil {
		return nil, nil, err
	}
	for i, row := range rows {
		padded := make([]string, len(header))
		copy(padded, row)
		rows[i] = padded
	}
	return header, rows, nil
}

func (r *Recorder) read() ([]string, [][]string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read progress log %s: %w", r.path, err)
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	recs, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse progress log %s: %w", r.path, err)
	}
	if len(recs) == 0 {
		return nil, nil, nil
	}
	if recs[0][0] != TimeColumn {
		return nil, nil, fmt.Errorf("progress log %s does not start with %q", r.path, TimeColumn)
	}
	return recs[0], recs[1:], nil
}
