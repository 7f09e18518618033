package experience

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// CSVStore appends rows to a CSV file with a fixed header
type CSVStore struct {
	path string
	keys []string

	mu sync.Mutex
}

// NewCSVStore creates a CSV sink at path
func NewCSVStore(path string, keys []string) *CSVStore {
	return &CSVStore{path: path, keys: append([]string(nil), keys...)}
}

func (s *CSVStore) header() []string {
	h := []string{"iteration", "episode_id", "timestamp", "segment", "agent"}
	h = append(h, s.keys...)
	return append(h, "reward")
}

// Init checks that an existing file carries the expected header
func (s *CSVStore) Init(_ context.Context) error {
	if s.path == "" {
		return errors.New("csv path is required")
	}
	existing, err := s.readHeader()
	if err != nil || existing == nil {
		return err
	}
	if strings.Join(existing, ",") != strings.Join(s.header(), ",") {
		return fmt.Errorf("experience file %s has header %v, expected %v", s.path, existing, s.header())
	}
	return nil
}

// Append writes rows after the existing contents, creating the file with a header if needed
func (s *CSVStore) Append(_ context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		if err := w.Write(s.header()); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if len(r.Features) != len(s.keys) {
			return fmt.Errorf("row for episode %s has %d features, expected %d", r.EpisodeID, len(r.Features), len(s.keys))
		}
		rec := []string{
			strconv.Itoa(r.Iteration),
			r.EpisodeID,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			string(r.Segment),
			r.AgentLabel,
		}
		for _, f := range r.Features {
			rec = append(rec, utils.FormatFloat(f))
		}
		rec = append(rec, utils.FormatFloat(r.Reward))
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode experience rows: %w", err)
	}
	return utils.AppendFileAtomic(s.path, buf.Bytes(), 0o644)
}

// Count returns the number of data rows
func (s *CSVStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	n := -1
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read %s: %w", s.path, err)
		}
		n++
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Close is a no-op; every Append commits on its own
func (s *CSVStore) Close() error {
	return nil
}

func (s *CSVStore) readHeader() ([]string, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rec, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return nil, nil
	}
	return rec, err
}
