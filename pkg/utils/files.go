package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic stages data in a temporary file next to path and renames it
// into place, so readers never observe a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return writeAtomic(path, perm, false, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CreateFileAtomic is WriteFileAtomic but fails if path already exists.
func CreateFileAtomic(path string, data []byte, perm os.FileMode) error {
	return writeAtomic(path, perm, true, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// AppendFileAtomic rewrites path as its current contents followed by data.
// A missing file is treated as empty.
func AppendFileAtomic(path string, data []byte, perm os.FileMode) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return writeAtomic(path, perm, false, func(w io.Writer) error {
		if _, err := w.Write(existing); err != nil {
			return err
		}
		_, err := w.Write(data)
		return err
	})
}

func writeAtomic(path string, perm os.FileMode, exclusive bool, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if exclusive {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("refusing to overwrite %s: %w", path, os.ErrExist)
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to stage %s: %w", path, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}

	if exclusive {
		// Link fails if the target appeared since the check above.
		if err := os.Link(tmpName, path); err != nil {
			return fmt.Errorf("failed to commit %s: %w", path, err)
		}
	} else if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	committed = !exclusive
	return nil
}
