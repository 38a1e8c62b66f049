// Package runlog keeps a compressed history of finished runs under the
// state directory. Each run's report is one lz4-compressed JSON file;
// retention prunes by count and age so the history never grows unbounded.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
)

const (
	fileSuffix = ".json.lz4"
	filePrefix = "run-"

	dirPerm  = 0o750
	filePerm = 0o640

	// stampLayout keeps file names lexically sortable by start time.
	stampLayout = "20060102T150405Z"
)

// Entry is one retained run report on disk.
type Entry struct {
	Path       string
	ModifiedAt time.Time
}

// Store persists run reports with retention.
type Store struct {
	dir    string
	keep   int
	maxAge time.Duration
}

// NewStore creates a store writing under dir, keeping at most keep reports
// no older than maxAge. Non-positive values disable the respective bound.
func NewStore(dir string, keep int, maxAge time.Duration) *Store {
	return &Store{dir: dir, keep: keep, maxAge: maxAge}
}

// Save writes one run report and prunes the history.
func (s *Store) Save(startedAt time.Time, runID string, report any) error {
	mkdirErr := os.MkdirAll(s.dir, dirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create run history dir %s: %w", s.dir, mkdirErr)
	}

	name := filePrefix + startedAt.UTC().Format(stampLayout) + "-" + runID + fileSuffix
	path := filepath.Join(s.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("create run report %s: %w", path, err)
	}

	writer := lz4.NewWriter(file)

	encodeErr := json.NewEncoder(writer).Encode(report)
	closeErr := writer.Close()
	fileErr := file.Close()

	if encodeErr != nil {
		return fmt.Errorf("encode run report: %w", encodeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("compress run report: %w", closeErr)
	}

	if fileErr != nil {
		return fmt.Errorf("close run report: %w", fileErr)
	}

	return s.Prune()
}

// Load reads one retained report back into out.
func (s *Store) Load(path string, out any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open run report %s: %w", path, err)
	}
	defer file.Close()

	decodeErr := json.NewDecoder(lz4.NewReader(file)).Decode(out)
	if decodeErr != nil {
		return fmt.Errorf("decode run report %s: %w", path, decodeErr)
	}

	return nil
}

// List returns retained reports, newest first.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("list run history %s: %w", s.dir, err)
	}

	var entries []Entry

	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}

		info, infoErr := dirEntry.Info()
		if infoErr != nil {
			continue
		}

		entries = append(entries, Entry{
			Path:       filepath.Join(s.dir, name),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path > entries[j].Path
	})

	return entries, nil
}

// Prune removes reports beyond the keep count or older than the age bound.
func (s *Store) Prune() error {
	entries, err := s.List()
	if err != nil {
		return err
	}

	cutoff := time.Time{}
	if s.maxAge > 0 {
		cutoff = time.Now().Add(-s.maxAge)
	}

	for i, entry := range entries {
		overCount := s.keep > 0 && i >= s.keep
		overAge := !cutoff.IsZero() && entry.ModifiedAt.Before(cutoff)

		if !overCount && !overAge {
			continue
		}

		removeErr := os.Remove(entry.Path)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("prune run report %s: %w", entry.Path, removeErr)
		}
	}

	return nil
}
