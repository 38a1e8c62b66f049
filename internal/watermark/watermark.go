// Package watermark persists the incremental sync cursor: the instant up to
// which source changes are known to have been processed. The cursor lives in
// a small YAML state file and only ever moves forward.
package watermark

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrCorrupt indicates the state file exists but cannot be parsed. The
// operator must repair or remove it; silently restarting from zero would
// re-sync the whole archive.
var ErrCorrupt = errors.New("corrupt watermark file")

// ErrBackwards indicates an attempt to move the cursor to an earlier
// instant. Only force mode resets the cursor, and it does so by advancing
// after a full re-sync, never by writing an older value.
var ErrBackwards = errors.New("watermark would move backwards")

const filePerm = 0o640

// state is the on-disk document.
type state struct {
	LastUpdated time.Time `yaml:"last_updated"`
}

// Store reads and advances the sync cursor in a single YAML file.
type Store struct {
	path string
}

// NewStore creates a store over the given file path. The file is created on
// first advance.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load returns the persisted cursor. A missing file yields the zero time,
// meaning every record is considered changed.
func (s *Store) Load() (time.Time, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("read watermark %s: %w", s.path, err)
	}

	var doc state

	unmarshalErr := yaml.Unmarshal(raw, &doc)
	if unmarshalErr != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, s.path, unmarshalErr)
	}

	return doc.LastUpdated.UTC(), nil
}

// Advance moves the cursor to at. The new value must not precede the stored
// one. The replacement is atomic: full write to a temp file in the same
// directory, then rename.
func (s *Store) Advance(at time.Time) error {
	current, err := s.Load()
	if err != nil {
		return err
	}

	at = at.UTC().Truncate(time.Second)

	if at.Before(current) {
		return fmt.Errorf("%w: stored %s, proposed %s",
			ErrBackwards, current.Format(time.RFC3339), at.Format(time.RFC3339))
	}

	raw, marshalErr := yaml.Marshal(state{LastUpdated: at})
	if marshalErr != nil {
		return fmt.Errorf("encode watermark: %w", marshalErr)
	}

	dir := filepath.Dir(s.path)

	mkdirErr := os.MkdirAll(dir, 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("create state dir %s: %w", dir, mkdirErr)
	}

	tmp, tmpErr := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if tmpErr != nil {
		return fmt.Errorf("stage watermark: %w", tmpErr)
	}

	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(raw)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)

		if writeErr != nil {
			return fmt.Errorf("write watermark: %w", writeErr)
		}

		return fmt.Errorf("close watermark: %w", closeErr)
	}

	chmodErr := os.Chmod(tmpPath, filePerm)
	if chmodErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("chmod watermark: %w", chmodErr)
	}

	renameErr := os.Rename(tmpPath, s.path)
	if renameErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("replace watermark %s: %w", s.path, renameErr)
	}

	return nil
}
