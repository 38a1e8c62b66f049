// Package staging manages the durable staging directory holding exported
// records prior to indexing. The tree is keyed by record kind and
// identifier; writes are full-file replace via temp file + rename, so a
// concurrent reader never observes a half-written record and at most one
// staged file exists per identifier.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
)

const (
	collectionsDir = "collections"
	agentsDir      = "agents"

	fileExt = ".xml"

	dirPerm  = 0o750
	filePerm = 0o640
)

// ErrUnwritable indicates the staging root could not be created or written.
// Treated as fatal by the coordinator.
var ErrUnwritable = errors.New("staging directory unwritable")

// File is one staged record on disk.
type File struct {
	Path       string
	Identifier string
	Kind       aspace.RecordKind
	Size       int64
}

// Dir is a staging directory rooted at a single path.
type Dir struct {
	root string
}

// New creates the staging tree under root.
func New(root string) (*Dir, error) {
	for _, sub := range []string{collectionsDir, agentsDir} {
		err := os.MkdirAll(filepath.Join(root, sub), dirPerm)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnwritable, err)
		}
	}

	return &Dir{root: root}, nil
}

// Root returns the staging root path.
func (d *Dir) Root() string { return d.root }

// CollectionPath returns the staging path for a collection, namespaced by
// repository slug.
func (d *Dir) CollectionPath(repoSlug, identifier string) string {
	return filepath.Join(d.root, collectionsDir, repoSlug, identifier+fileExt)
}

// AgentPath returns the staging path for an agent creator document.
func (d *Dir) AgentPath(identifier string) string {
	return filepath.Join(d.root, agentsDir, identifier+fileExt)
}

// Write replaces the file at path with content atomically: the document is
// fully materialized to a temp file in the same directory, then renamed
// into place.
func (d *Dir) Write(path string, content []byte) error {
	dir := filepath.Dir(path)

	mkdirErr := os.MkdirAll(dir, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("%w: %w", ErrUnwritable, mkdirErr)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnwritable, err)
	}

	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(content)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)

		if writeErr != nil {
			return fmt.Errorf("write staged file %s: %w", path, writeErr)
		}

		return fmt.Errorf("close staged file %s: %w", path, closeErr)
	}

	chmodErr := os.Chmod(tmpPath, filePerm)
	if chmodErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("chmod staged file %s: %w", path, chmodErr)
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("replace staged file %s: %w", path, renameErr)
	}

	return nil
}

// Remove deletes a staged file. A missing file is not an error: the record
// was never staged or was already reconciled.
func (d *Dir) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged file %s: %w", path, err)
	}

	return nil
}

// List walks the staging tree for one record kind and returns every staged
// file with its identifier derived from the file name.
func (d *Dir) List(kind aspace.RecordKind) ([]File, error) {
	sub := agentsDir
	if kind == aspace.KindCollection {
		sub = collectionsDir
	}

	var files []File

	walkErr := filepath.WalkDir(filepath.Join(d.root, sub), func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			return nil
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return infoErr
		}

		files = append(files, File{
			Path:       path,
			Identifier: strings.TrimSuffix(entry.Name(), fileExt),
			Kind:       kind,
			Size:       info.Size(),
		})

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("list staged %s: %w", sub, walkErr)
	}

	return files, nil
}

// Purge removes every staged file of one kind. Used by force mode after the
// index has been cleared.
func (d *Dir) Purge(kind aspace.RecordKind) error {
	sub := agentsDir
	if kind == aspace.KindCollection {
		sub = collectionsDir
	}

	path := filepath.Join(d.root, sub)

	err := os.RemoveAll(path)
	if err != nil {
		return fmt.Errorf("purge staged %s: %w", sub, err)
	}

	mkdirErr := os.MkdirAll(path, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("%w: %w", ErrUnwritable, mkdirErr)
	}

	return nil
}
