// Package reconcile aligns the staging directory and the search index with
// the source system: staged files and index documents are removed for
// records that no longer exist, are no longer published, or no longer pass
// the agent filter. Deletion is two-phased and never all-or-nothing: the
// staged-file removal and the index delete are both attempted, and each
// failure is reported independently.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
	"github.com/Sumatoshi-tech/arcflow/internal/changeset"
	"github.com/Sumatoshi-tech/arcflow/internal/export"
	"github.com/Sumatoshi-tech/arcflow/internal/solr"
	"github.com/Sumatoshi-tech/arcflow/internal/staging"
)

// DefaultWorkers bounds concurrent delete operations.
const DefaultWorkers = 4

// Result is the outcome of one two-phase delete.
type Result struct {
	Identifier string
	Kind       aspace.RecordKind

	// StageErr reports the staged-file phase; IndexErr the index phase.
	// Either may fail without suppressing the other.
	StageErr error
	IndexErr error
}

// Failed reports whether either phase failed.
func (r Result) Failed() bool {
	return r.StageErr != nil || r.IndexErr != nil
}

// target is one record scheduled for deletion.
type target struct {
	kind       aspace.RecordKind
	identifier string
	path       string

	// indexID is the index document id when already known (from the
	// resource record). Otherwise it is recovered from the staged file.
	indexID string
}

// Reconciler executes two-phase deletions against the staging directory and
// the index.
type Reconciler struct {
	staging *staging.Dir
	index   solr.Deleter
	workers int
	logger  *slog.Logger
}

// New creates a reconciler. workers <= 0 selects DefaultWorkers.
func New(dir *staging.Dir, index solr.Deleter, workers int, logger *slog.Logger) *Reconciler {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Reconciler{staging: dir, index: index, workers: workers, logger: logger}
}

// Reconcile removes every record the change-set marks for deletion. Under
// force the full staged listing is diffed against the current source set,
// so records removed from the source between runs are purged even without a
// modified signal.
func (r *Reconciler) Reconcile(ctx context.Context, set *changeset.Set) ([]Result, error) {
	targets := r.collectTargets(set)

	if set.Force {
		diffed, err := r.diffStaged(set)
		if err != nil {
			return nil, err
		}

		targets = append(targets, diffed...)
	}

	targets = dedupe(targets)

	return r.run(ctx, targets), nil
}

// collectTargets gathers deletions signalled by the change-set itself:
// unpublished or vanished collections, agents failing the filter, and
// records in the delete feed.
func (r *Reconciler) collectTargets(set *changeset.Set) []target {
	slugByRepoID := make(map[string]string, len(set.Repositories))
	for _, repo := range set.Repositories {
		slugByRepoID[aspace.RepoIDFromURI(repo.URI)] = repo.Slug
	}

	var targets []target

	for _, item := range set.Collections {
		if !item.DeleteOnly {
			continue
		}

		t := target{
			kind:       aspace.KindCollection,
			identifier: item.Identifier(),
			path:       r.staging.CollectionPath(item.Repo.Slug, item.Identifier()),
		}
		if item.Resource != nil && item.Resource.EADID != "" {
			t.indexID = export.SanitizeEADID(item.Resource.EADID)
		}

		targets = append(targets, t)
	}

	for _, item := range set.Agents {
		if item.Decision.Include {
			continue
		}

		identifier := export.AgentIdentifier(item.Agent.URI)
		if identifier == "" {
			continue
		}

		targets = append(targets, target{
			kind:       aspace.KindAgent,
			identifier: identifier,
			path:       r.staging.AgentPath(identifier),
			indexID:    identifier,
		})
	}

	for _, uri := range set.DeletedURIs {
		if t, ok := r.feedTarget(uri, slugByRepoID); ok {
			targets = append(targets, t)
		}
	}

	return targets
}

// feedTarget maps a delete-feed URI onto a staged record. Unrecognized URI
// shapes (classifications, digital objects) are ignored.
func (r *Reconciler) feedTarget(uri string, slugByRepoID map[string]string) (target, bool) {
	switch {
	case strings.Contains(uri, "/resources/"):
		repoID := aspace.RepoIDFromURI(uri)

		slug, ok := slugByRepoID[repoID]
		if !ok {
			return target{}, false
		}

		identifier := aspace.IdentifierFromURI(uri)
		if identifier == "" {
			return target{}, false
		}

		return target{
			kind:       aspace.KindCollection,
			identifier: identifier,
			path:       r.staging.CollectionPath(slug, identifier),
		}, true
	case strings.HasPrefix(uri, "/agents/"):
		identifier := export.AgentIdentifier(uri)
		if identifier == "" {
			return target{}, false
		}

		return target{
			kind:       aspace.KindAgent,
			identifier: identifier,
			path:       r.staging.AgentPath(identifier),
			indexID:    identifier,
		}, true
	default:
		return target{}, false
	}
}

// diffStaged lists every staged file and marks for deletion those whose
// identifier is absent from the current source set.
func (r *Reconciler) diffStaged(set *changeset.Set) ([]target, error) {
	keepCollections := make(map[string]bool)

	for _, item := range set.Collections {
		if item.DeleteOnly || item.Err != nil {
			continue
		}

		keepCollections[item.Repo.Slug+"/"+item.Identifier()] = true
	}

	keepAgents := make(map[string]bool)

	for _, item := range set.Agents {
		if !item.Decision.Include {
			continue
		}

		if id := export.AgentIdentifier(item.Agent.URI); id != "" {
			keepAgents[id] = true
		}
	}

	var targets []target

	staged, err := r.staging.List(aspace.KindCollection)
	if err != nil {
		return nil, fmt.Errorf("diff staged collections: %w", err)
	}

	for _, file := range staged {
		slug := filepath.Base(filepath.Dir(file.Path))
		if keepCollections[slug+"/"+file.Identifier] {
			continue
		}

		targets = append(targets, target{
			kind:       aspace.KindCollection,
			identifier: file.Identifier,
			path:       file.Path,
		})
	}

	stagedAgents, err := r.staging.List(aspace.KindAgent)
	if err != nil {
		return nil, fmt.Errorf("diff staged agents: %w", err)
	}

	for _, file := range stagedAgents {
		if keepAgents[file.Identifier] {
			continue
		}

		targets = append(targets, target{
			kind:       aspace.KindAgent,
			identifier: file.Identifier,
			path:       file.Path,
			indexID:    file.Identifier,
		})
	}

	return targets, nil
}

func dedupe(targets []target) []target {
	seen := make(map[string]bool, len(targets))

	out := targets[:0]

	for _, t := range targets {
		key := string(t.kind) + ":" + t.path
		if seen[key] {
			continue
		}

		seen[key] = true
		out = append(out, t)
	}

	return out
}

// run executes deletions on a bounded worker pool. Items are independent;
// no ordering is guaranteed.
func (r *Reconciler) run(ctx context.Context, targets []target) []Result {
	if len(targets) == 0 {
		return nil
	}

	jobs := make(chan target)
	results := make(chan Result)

	var wg sync.WaitGroup

	for range r.workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for t := range jobs {
				results <- r.deleteOne(ctx, t)
			}
		}()
	}

	go func() {
		for _, t := range targets {
			jobs <- t
		}

		close(jobs)
		wg.Wait()
		close(results)
	}()

	out := make([]Result, 0, len(targets))
	for res := range results {
		out = append(out, res)
	}

	return out
}

// deleteOne performs both phases for one record. The index id is recovered
// from the staged file before the file is removed; a staged collection
// without a readable ead id fails the index phase only.
func (r *Reconciler) deleteOne(ctx context.Context, t target) Result {
	res := Result{Identifier: t.identifier, Kind: t.kind}

	indexID := t.indexID
	stagedExisted := fileExists(t.path)

	if indexID == "" && t.kind == aspace.KindCollection && stagedExisted {
		eadID, err := export.EADIDFromFile(t.path)
		if err != nil {
			res.IndexErr = fmt.Errorf("recover index id for %s: %w", t.identifier, err)
		} else {
			indexID = export.SanitizeEADID(eadID)
		}
	}

	res.StageErr = r.staging.Remove(t.path)

	// No recoverable index id and nothing ever staged means there is
	// nothing indexed to delete; that is a no-op, not a failure.
	if indexID != "" {
		err := r.index.DeleteByID(ctx, indexID)
		if err != nil {
			res.IndexErr = errors.Join(res.IndexErr, err)
		}
	}

	if res.Failed() {
		r.logger.Warn("reconcile delete failed",
			"kind", t.kind, "identifier", t.identifier,
			"stage_error", res.StageErr, "index_error", res.IndexErr)
	} else {
		r.logger.Info("reconciled", "kind", t.kind, "identifier", t.identifier)
	}

	return res
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
