// Package versioner keeps numbered iteration files for one agent pool.
package versioner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoSim-25-26J-441/agent-tuner/internal/space"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
	"github.com/GoSim-25-26J-441/agent-tuner/pkg/utils"
)

// ErrNoVersions is returned when the pool directory holds no iteration files
var ErrNoVersions = errors.New("no iteration files")

var iterationFile = regexp.MustCompile(`^iteration_([1-9][0-9]*)\.yaml$`)

// Versioner manages <dir>/iteration_<n>.yaml. The highest n is the current version.
// It assumes a single writer.
type Versioner struct {
	dir  string
	pool string
	now  func() time.Time
}

// New creates a versioner for the pool stored in dir
func New(dir, pool string) *Versioner {
	return &Versioner{dir: dir, pool: pool, now: time.Now}
}

// WithClock overrides the timestamp source
func (v *Versioner) WithClock(now func() time.Time) *Versioner {
	v.now = now
	return v
}

// Dir returns the pool directory
func (v *Versioner) Dir() string {
	return v.dir
}

// Path returns the file name of version n
func (v *Versioner) Path(n int) string {
	return filepath.Join(v.dir, fmt.Sprintf("iteration_%d.yaml", n))
}

// Versions lists existing version numbers in ascending order.
// Files that do not follow the naming scheme are ignored.
func (v *Versioner) Versions() ([]int, error) {
	entries, err := os.ReadDir(v.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", v.dir, err)
	}
	var out []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := iterationFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Current returns the path and number of the highest version
func (v *Versioner) Current() (string, int, error) {
	versions, err := v.Versions()
	if err != nil {
		return "", 0, err
	}
	if len(versions) == 0 {
		return "", 0, fmt.Errorf("%s: %w", v.dir, ErrNoVersions)
	}
	n := versions[len(versions)-1]
	return v.Path(n), n, nil
}

// Recent returns up to n paths, newest first
func (v *Versioner) Recent(n int) ([]string, error) {
	versions, err := v.Versions()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := len(versions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, v.Path(versions[i]))
	}
	return out, nil
}

// Init writes iteration_1.yaml from sp when the pool has no versions yet.
// It returns the current path and whether a file was created.
func (v *Versioner) Init(sp *space.Space) (string, bool, error) {
	path, _, err := v.Current()
	if err == nil {
		return path, false, nil
	}
	if !errors.Is(err, ErrNoVersions) {
		return "", false, err
	}

	cfg := &models.IterationConfig{
		Pool:       v.pool,
		Version:    1,
		CreatedAt:  v.now().UTC(),
		Parameters: sp.Specs(),
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode iteration config: %w", err)
	}
	path = v.Path(1)
	if err := utils.CreateFileAtomic(path, data, 0o644); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Promote copies the config at currentPath to the next free version number.
// Existing files are never overwritten.
func (v *Versioner) Promote(currentPath string) (string, error) {
	cfg, err := v.Load(currentPath)
	if err != nil {
		return "", err
	}
	versions, err := v.Versions()
	if err != nil {
		return "", err
	}
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}

	cfg.Version = next
	cfg.CreatedAt = v.now().UTC()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode iteration config: %w", err)
	}
	path := v.Path(next)
	if err := utils.CreateFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to promote %s: %w", currentPath, err)
	}
	return path, nil
}

// Load parses an iteration file
func (v *Versioner) Load(path string) (*models.IterationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read iteration file %s: %w", path, err)
	}
	var cfg models.IterationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse iteration file %s: %w", path, err)
	}
	if len(cfg.Parameters) == 0 {
		return nil, fmt.Errorf("iteration file %s has no parameters", path)
	}
	return &cfg, nil
}

// Save replaces the file at path with cfg
func (v *Versioner) Save(path string, cfg *models.IterationConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode iteration config: %w", err)
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// LoadSpace applies the bounds stored at path to base
func (v *Versioner) LoadSpace(path string, base *space.Space) (*space.Space, error) {
	cfg, err := v.Load(path)
	if err != nil {
		return nil, err
	}
	sp, err := base.WithBounds(cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("iteration file %s: %w", path, err)
	}
	return sp, nil
}
