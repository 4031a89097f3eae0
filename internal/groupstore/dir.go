package groupstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// DirStaging stages members on the local filesystem, one subdirectory per
// group under root. References are the local file paths themselves.
type DirStaging struct {
	root string
}

// Compile-time interface check.
var _ Staging = (*DirStaging)(nil)

// NewDirStaging creates a DirStaging rooted at root.
func NewDirStaging(root string) *DirStaging {
	return &DirStaging{root: root}
}

// GroupDir returns the staging directory of a group.
func (d *DirStaging) GroupDir(groupID string) string {
	return filepath.Join(d.root, safeName(groupID))
}

func (d *DirStaging) Put(_ context.Context, groupID, name string, data []byte) (string, error) {
	dir := d.GroupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(dir, safeName(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write member: %w", err)
	}
	return path, nil
}

func (d *DirStaging) Local(_ context.Context, ref string) (string, error) {
	if _, err := os.Stat(ref); err != nil {
		return "", err
	}
	return ref, nil
}

func (d *DirStaging) Discard(_ context.Context, ref string) error {
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *DirStaging) Remove(_ context.Context, groupID string) error {
	dir := d.GroupDir(groupID)
	existed, err := ClearDir(dir)
	if err != nil {
		return err
	}
	if !existed {
		log.Debug().Str("dir", dir).Msg("Staging dir already gone")
		return nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}

// ClearDir removes every entry under path but keeps path itself. A missing
// path is reported as existed == false, not as an error, so clearing twice
// is a no-op.
func ClearDir(path string) (existed bool, err error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

// safeName keeps a path component inside its parent directory.
func safeName(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" || s == "." {
		return "_"
	}
	return s
}
