// Package scoretable persists one row per evaluated config: its values and mean reward.
package scoretable

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// RewardColumn is the last header cell
const RewardColumn = "average reward"

// Table is a CSV file with header <keys...>,average reward. Rows are only ever appended.
type Table struct {
	path string
	keys []string
	mu   sync.Mutex
}

// New binds a table to path with the given column keys
func New(path string, keys []string) *Table {
	return &Table{path: path, keys: append([]string(nil), keys...)}
}

// Path returns the file location
func (t *Table) Path() string {
	return t.path
}

func (t *Table) header() []string {
	return append(append([]string(nil), t.keys...), RewardColumn)
}

// Load reads every record in file order. A missing file yields no records.
func (t *Table) Load() ([]models.ScoreRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load()
}

func (t *Table) load() ([]models.ScoreRecord, error) {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read score table %s: %w", t.path, err)
	}
	recs, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse score table %s: %w", t.path, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	if got, want := strings.Join(recs[0], ","), strings.Join(t.header(), ","); got != want {
		return nil, fmt.Errorf("score table %s has header %q, expected %q", t.path, got, want)
	}

	out := make([]models.ScoreRecord, 0, len(recs)-1)
	for line, rec := range recs[1:] {
		cfg := make(models.ConfigVector, len(t.keys))
		for i := range t.keys {
			v, err := utils.ParseFloat(rec[i])
			if err != nil {
				return nil, fmt.Errorf("score table %s row %d: %s: %w", t.path, line+1, t.keys[i], err)
			}
			cfg[i] = v
		}
		reward, err := utils.ParseFloat(rec[len(t.keys)])
		if err != nil {
			return nil, fmt.Errorf("score table %s row %d: %w", t.path, line+1, err)
		}
		out = append(out, models.ScoreRecord{Config: cfg, MeanReward: reward})
	}
	return out, nil
}

// Len returns the number of stored records
func (t *Table) Len() (int, error) {
	recs, err := t.Load()
	return len(recs), err
}

// Append adds records, creating the file with its header on first use.
// The whole file is rewritten through a staged temp file.
func (t *Table) Append(records []models.ScoreRecord) error {
	if len(records) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, err := os.ReadFile(t.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read score table %s: %w", t.path, err)
	}
	if len(existing) > 0 {
		// Refuse to append to a table with a different schema
		if _, err := t.load(); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	buf.Write(existing)
	w := csv.NewWriter(&buf)
	if len(existing) == 0 {
		if err := w.Write(t.header()); err != nil {
			return err
		}
	}
	for _, rec := range records {
		if len(rec.Config) != len(t.keys) {
			return fmt.Errorf("score record has %d values, table has %d keys", len(rec.Config), len(t.keys))
		}
		row := make([]string, 0, len(t.keys)+1)
		for _, v := range rec.Config {
			row = append(row, utils.FormatFloat(v))
		}
		row = append(row, utils.FormatFloat(rec.MeanReward))
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode score records: %w", err)
	}
	return utils.WriteFileAtomic(t.path, buf.Bytes(), 0o644)
}
