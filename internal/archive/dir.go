package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirDestination writes archive objects as files in a local directory.
type DirDestination struct {
	dir string
}

// NewDirDestination creates a directory destination. The directory is
// created on first write.
func NewDirDestination(dir string) *DirDestination {
	return &DirDestination{dir: dir}
}

// Write stores data as dir/key, replacing any existing file atomically.
func (d *DirDestination) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, key)); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}
