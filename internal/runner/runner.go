// Package runner coordinates one sync run: change-set resolution, parallel
// export and reconciliation, batch indexing, and watermark advancement.
// Per-item failures accumulate into the run report; only fatal errors abort
// the run, and the watermark never advances past a fatal run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
	"github.com/Sumatoshi-tech/arcflow/internal/changeset"
	"github.com/Sumatoshi-tech/arcflow/internal/export"
	"github.com/Sumatoshi-tech/arcflow/internal/indexer"
	"github.com/Sumatoshi-tech/arcflow/internal/observability"
	"github.com/Sumatoshi-tech/arcflow/internal/reconcile"
	"github.com/Sumatoshi-tech/arcflow/internal/repositories"
	"github.com/Sumatoshi-tech/arcflow/internal/staging"
)

// State is the coordinator's position in the run state machine.
type State string

const (
	StateIdle               State = "idle"
	StateResolvingChangeSet State = "resolving_change_set"
	StateProcessing         State = "processing"
	StateReconciling        State = "reconciling"
	StateIndexing           State = "indexing"
	StateFinalizing         State = "finalizing"
)

// DefaultWorkers bounds the export worker pool.
const DefaultWorkers = 4

// Phase names used in item failures.
const (
	phaseResolve   = "resolve"
	phaseExport    = "export"
	phaseReconcile = "reconcile"
	phaseIndex     = "index"
)

// Resolver produces the run's change-set.
type Resolver interface {
	Resolve(ctx context.Context, since time.Time, opts changeset.Options) (*changeset.Set, error)
}

// Exporter stages records for indexing.
type Exporter interface {
	ExportCollection(ctx context.Context, repo aspace.Repository, id int, resource *aspace.Resource) (*staging.File, error)
	ExportAgent(ctx context.Context, stub *aspace.Agent) (*staging.File, bool, error)
}

// Reconciler removes records scheduled for deletion.
type Reconciler interface {
	Reconcile(ctx context.Context, set *changeset.Set) ([]reconcile.Result, error)
}

// Dispatcher submits staged files to the external indexing process.
type Dispatcher interface {
	Dispatch(ctx context.Context, files []staging.File) []indexer.BatchResult
}

// ErrScopedForce rejects a force resync restricted to one record kind: the
// force wipe clears the whole index, so a scoped force would destroy the
// out-of-scope records without ever re-exporting them.
var ErrScopedForce = errors.New("force resync cannot be combined with a scope restriction")

// IndexCleaner removes index documents: individual stale creators, and the
// whole index under force.
type IndexCleaner interface {
	DeleteByID(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// WatermarkStore persists the sync cursor.
type WatermarkStore interface {
	Load() (time.Time, error)
	Advance(at time.Time) error
}

// DirectoryGenerator rewrites the repository directory export.
type DirectoryGenerator interface {
	Generate(ctx context.Context, repos []aspace.Repository) error
}

// Options select the scope of one run.
type Options struct {
	Force           bool
	CollectionsOnly bool
	AgentsOnly      bool
	SkipIndexing    bool
}

// Runner owns the collaborators for one run.
type Runner struct {
	Resolver   Resolver
	Exporter   Exporter
	Reconciler Reconciler
	Dispatcher Dispatcher
	Cleaner    IndexCleaner
	Watermark  WatermarkStore
	Staging    *staging.Dir
	Directory  DirectoryGenerator

	Metrics *observability.SyncMetrics
	Logger  *slog.Logger

	Workers int

	// now is swapped in tests.
	now func() time.Time

	// mu guards report mutation from export and reconcile workers.
	mu sync.Mutex
}

// Run executes one sync run and returns its report. The returned error is
// non-nil only for fatal failures; the report carries per-item outcomes
// either way.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	now := r.now
	if now == nil {
		now = time.Now
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: now().UTC(),
		Force:     opts.Force,
		Status:    StatusSucceeded,
	}

	r.setState(StateIdle, report)

	if opts.Force && (opts.AgentsOnly || opts.CollectionsOnly) {
		return r.fatal(ctx, report, now, ErrScopedForce)
	}

	since, err := r.Watermark.Load()
	if err != nil {
		return r.fatal(ctx, report, now, fmt.Errorf("load watermark: %w", err))
	}

	report.Watermark = since

	r.setState(StateResolvingChangeSet, report)

	set, err := r.Resolver.Resolve(ctx, since, changeset.Options{
		Force:       opts.Force,
		Collections: !opts.AgentsOnly,
		Agents:      !opts.CollectionsOnly,
	})
	if err != nil {
		return r.fatal(ctx, report, now, err)
	}

	if opts.Force {
		clearErr := r.clearIndex(ctx)
		if clearErr != nil {
			return r.fatal(ctx, report, now, clearErr)
		}
	}

	r.updateDirectory(ctx, set, since, opts.Force, report)

	// Processing and Reconciling run concurrently: exports and deletes
	// touch disjoint identifiers within one consistent change-set.
	r.setState(StateProcessing, report)
	r.setState(StateReconciling, report)

	var (
		staged       []staging.File
		reconcileErr error
	)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		reconcileErr = r.reconcile(ctx, set, report)
	}()

	staged = r.processExports(ctx, set, report)

	wg.Wait()

	if reconcileErr != nil {
		return r.fatal(ctx, report, now, reconcileErr)
	}

	if !opts.SkipIndexing {
		r.setState(StateIndexing, report)
		r.index(ctx, staged, report)
	}

	r.setState(StateFinalizing, report)

	if len(report.Failures) > 0 || report.BatchesFailed > 0 {
		report.Status = StatusFailedPartial
	}

	// The watermark moves to the run's start, not its end: records
	// modified mid-run fall after the new cursor and are picked up next
	// time.
	advanceErr := r.Watermark.Advance(report.StartedAt)
	if advanceErr != nil {
		return r.fatal(ctx, report, now, fmt.Errorf("advance watermark: %w", advanceErr))
	}

	report.WatermarkAdvanced = true
	// The store persists the cursor truncated to whole seconds; report the
	// same value so the rendered line matches the stored state.
	report.Watermark = report.StartedAt.Truncate(time.Second)
	report.FinishedAt = now().UTC()

	r.Metrics.RecordRun(ctx, string(report.Status))
	r.Logger.Info("run finished",
		"run_id", report.RunID,
		"status", report.Status,
		"exported", report.CollectionsExported+report.AgentsExported,
		"deleted", report.Deleted,
		"failures", len(report.Failures))

	return report, nil
}

func (r *Runner) setState(state State, report *Report) {
	r.Logger.Debug("state transition", "run_id", report.RunID, "state", state)
}

// fatal finalizes the report for an aborted run. The watermark is left
// untouched so the next run reprocesses the same window.
func (r *Runner) fatal(ctx context.Context, report *Report, now func() time.Time, err error) (*Report, error) {
	report.Status = StatusFailedFatal
	report.FatalError = err.Error()
	report.FinishedAt = now().UTC()

	r.Metrics.RecordRun(ctx, string(report.Status))
	r.Logger.Error("run aborted", "run_id", report.RunID, "error", err)

	return report, err
}

// clearIndex wipes the index and the staging tree for a full resync.
func (r *Runner) clearIndex(ctx context.Context) error {
	err := r.Cleaner.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("clear index for full resync: %w", err)
	}

	for _, kind := range []aspace.RecordKind{aspace.KindCollection, aspace.KindAgent} {
		purgeErr := r.Staging.Purge(kind)
		if purgeErr != nil {
			return fmt.Errorf("purge staging for full resync: %w", purgeErr)
		}
	}

	r.Logger.Info("cleared index and staging for full resync")

	return nil
}

// updateDirectory regenerates the repository directory export when any
// repository record moved past the watermark. A failure here is recorded,
// not fatal: record sync still proceeds.
func (r *Runner) updateDirectory(ctx context.Context, set *changeset.Set, since time.Time, force bool, report *Report) {
	if r.Directory == nil {
		return
	}

	if !force && !repositories.NeedsUpdate(set.Repositories, since) {
		return
	}

	err := r.Directory.Generate(ctx, set.Repositories)
	if err != nil {
		report.Failures = append(report.Failures, ItemFailure{
			Identifier: "repositories.yml",
			Phase:      phaseResolve,
			Reason:     err.Error(),
		})

		r.Metrics.RecordItemError(ctx, phaseResolve)
	}
}

// exportJob is one unit for the export pool.
type exportJob struct {
	collection *changeset.Collection
	agent      *changeset.AgentItem
}

// processExports runs the export worker pool over every exportable item and
// returns the files staged this run.
func (r *Runner) processExports(ctx context.Context, set *changeset.Set, report *Report) []staging.File {
	var jobs []exportJob

	for i := range set.Collections {
		item := &set.Collections[i]

		if item.Err != nil {
			r.recordFailure(ctx, report, ItemFailure{
				Identifier: item.Identifier(),
				Kind:       string(aspace.KindCollection),
				Phase:      phaseExport,
				Reason:     item.Err.Error(),
			})

			continue
		}

		if item.DeleteOnly {
			continue
		}

		jobs = append(jobs, exportJob{collection: item})
	}

	for i := range set.Agents {
		item := &set.Agents[i]
		if !item.Decision.Include {
			continue
		}

		jobs = append(jobs, exportJob{agent: item})
	}

	if len(jobs) == 0 {
		return nil
	}

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	jobCh := make(chan exportJob)

	var staged []staging.File

	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for job := range jobCh {
				file := r.exportOne(ctx, job, report)
				if file != nil {
					r.mu.Lock()
					staged = append(staged, *file)
					report.StagedBytes += file.Size
					r.mu.Unlock()
				}
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}

	close(jobCh)
	wg.Wait()

	return staged
}

// exportOne exports a single item, updating counters under the run mutex.
func (r *Runner) exportOne(ctx context.Context, job exportJob, report *Report) *staging.File {
	start := time.Now()

	if job.collection != nil {
		item := job.collection

		file, err := r.Exporter.ExportCollection(ctx, item.Repo, item.ID, item.Resource)
		if err != nil {
			r.recordFailure(ctx, report, ItemFailure{
				Identifier: item.Identifier(),
				Kind:       string(aspace.KindCollection),
				Phase:      phaseExport,
				Reason:     err.Error(),
			})

			return nil
		}

		r.Metrics.RecordExport(ctx, string(aspace.KindCollection), time.Since(start))

		r.mu.Lock()
		report.CollectionsExported++
		r.mu.Unlock()

		return file
	}

	item := job.agent

	file, skipped, err := r.Exporter.ExportAgent(ctx, &item.Agent)
	if err != nil {
		r.recordFailure(ctx, report, ItemFailure{
			Identifier: item.Agent.URI,
			Kind:       string(aspace.KindAgent),
			Phase:      phaseExport,
			Reason:     err.Error(),
		})

		return nil
	}

	if skipped {
		r.dropStaleCreator(ctx, item, report)

		r.mu.Lock()
		report.AgentsSkipped++
		r.mu.Unlock()

		return nil
	}

	r.Metrics.RecordExport(ctx, string(aspace.KindAgent), time.Since(start))

	r.mu.Lock()
	report.AgentsExported++
	r.mu.Unlock()

	return file
}

// dropStaleCreator removes the index document of an agent that stayed in
// scope but no longer produces a creator export, so a biography removed at
// the source does not linger in the index. Deleting an id that was never
// indexed is a no-op.
func (r *Runner) dropStaleCreator(ctx context.Context, item *changeset.AgentItem, report *Report) {
	id := export.AgentIdentifier(item.Agent.URI)
	if id == "" {
		return
	}

	err := r.Cleaner.DeleteByID(ctx, id)
	if err != nil {
		r.recordFailure(ctx, report, ItemFailure{
			Identifier: id,
			Kind:       string(aspace.KindAgent),
			Phase:      phaseReconcile,
			Reason:     err.Error(),
		})
	}
}

// reconcile runs deletion reconciliation and folds its results into the
// report. Only a failure to enumerate deletions is fatal; individual delete
// failures are per-item.
func (r *Runner) reconcile(ctx context.Context, set *changeset.Set, report *Report) error {
	results, err := r.Reconciler.Reconcile(ctx, set)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	for _, res := range results {
		if !res.Failed() {
			r.Metrics.RecordDelete(ctx, string(res.Kind))

			r.mu.Lock()
			report.Deleted++
			r.mu.Unlock()

			continue
		}

		if res.StageErr != nil {
			r.recordFailure(ctx, report, ItemFailure{
				Identifier: res.Identifier,
				Kind:       string(res.Kind),
				Phase:      phaseReconcile,
				Reason:     res.StageErr.Error(),
			})
		}

		if res.IndexErr != nil {
			r.recordFailure(ctx, report, ItemFailure{
				Identifier: res.Identifier,
				Kind:       string(res.Kind),
				Phase:      phaseReconcile,
				Reason:     res.IndexErr.Error(),
			})
		}
	}

	return nil
}

// index dispatches staged files and folds batch outcomes into the report.
func (r *Runner) index(ctx context.Context, staged []staging.File, report *Report) {
	results := r.Dispatcher.Dispatch(ctx, staged)

	for _, res := range results {
		r.Metrics.RecordBatch(ctx, res.Err != nil)

		if res.Err == nil {
			report.BatchesSucceeded++

			continue
		}

		report.BatchesFailed++

		r.recordFailure(ctx, report, ItemFailure{
			Identifier: fmt.Sprintf("batch of %d files", len(res.Files)),
			Phase:      phaseIndex,
			Reason:     res.Err.Error(),
		})
	}
}

func (r *Runner) recordFailure(ctx context.Context, report *Report, failure ItemFailure) {
	r.mu.Lock()
	report.Failures = append(report.Failures, failure)
	r.mu.Unlock()

	r.Metrics.RecordItemError(ctx, failure.Phase)
	r.Logger.Warn("item failed",
		"identifier", failure.Identifier, "kind", failure.Kind,
		"phase", failure.Phase, "reason", failure.Reason)
}
