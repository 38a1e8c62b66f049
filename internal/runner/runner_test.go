package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/arcflow/internal/agentfilter"
	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
	"github.com/Sumatoshi-tech/arcflow/internal/changeset"
	"github.com/Sumatoshi-tech/arcflow/internal/indexer"
	"github.com/Sumatoshi-tech/arcflow/internal/reconcile"
	"github.com/Sumatoshi-tech/arcflow/internal/staging"
)

type fakeResolver struct {
	set  *changeset.Set
	err  error
	opts changeset.Options
}

func (f *fakeResolver) Resolve(_ context.Context, _ time.Time, opts changeset.Options) (*changeset.Set, error) {
	f.opts = opts

	return f.set, f.err
}

type fakeExporter struct {
	mu       sync.Mutex
	failIDs  map[int]error
	skipURIs map[string]bool
	exported []string
}

func (f *fakeExporter) ExportCollection(_ context.Context, _ aspace.Repository, id int, _ *aspace.Resource) (*staging.File, error) {
	if err, ok := f.failIDs[id]; ok {
		return nil, err
	}

	f.mu.Lock()
	f.exported = append(f.exported, "collection/"+strconv.Itoa(id))
	f.mu.Unlock()

	return &staging.File{
		Path:       "/staged/collections/" + strconv.Itoa(id) + ".xml",
		Identifier: strconv.Itoa(id),
		Kind:       aspace.KindCollection,
		Size:       100,
	}, nil
}

func (f *fakeExporter) ExportAgent(_ context.Context, stub *aspace.Agent) (*staging.File, bool, error) {
	if f.skipURIs[stub.URI] {
		return nil, true, nil
	}

	f.mu.Lock()
	f.exported = append(f.exported, "agent/"+stub.URI)
	f.mu.Unlock()

	return &staging.File{
		Path:       "/staged/agents/x.xml",
		Identifier: "x",
		Kind:       aspace.KindAgent,
		Size:       10,
	}, false, nil
}

type fakeReconciler struct {
	results []reconcile.Result
	err     error
}

func (f *fakeReconciler) Reconcile(context.Context, *changeset.Set) ([]reconcile.Result, error) {
	return f.results, f.err
}

type fakeDispatcher struct {
	mu      sync.Mutex
	results []indexer.BatchResult
	files   []staging.File
	called  bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, files []staging.File) []indexer.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.called = true
	f.files = files

	return f.results
}

type fakeWatermark struct {
	current  time.Time
	advanced []time.Time
	loadErr  error
}

func (f *fakeWatermark) Load() (time.Time, error) { return f.current, f.loadErr }

func (f *fakeWatermark) Advance(at time.Time) error {
	f.advanced = append(f.advanced, at)

	return nil
}

type fakeCleaner struct {
	mu          sync.Mutex
	called      bool
	err         error
	deleteIDErr error
	deletedIDs  []string
}

func (f *fakeCleaner) DeleteAll(context.Context) error {
	f.called = true

	return f.err
}

func (f *fakeCleaner) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	f.deletedIDs = append(f.deletedIDs, id)
	f.mu.Unlock()

	return f.deleteIDErr
}

func newTestRunner(t *testing.T, resolver *fakeResolver, exporter *fakeExporter, rec *fakeReconciler, disp *fakeDispatcher, wm *fakeWatermark, cleaner *fakeCleaner) *Runner {
	t.Helper()

	dir, err := staging.New(t.TempDir())
	require.NoError(t, err)

	return &Runner{
		Resolver:   resolver,
		Exporter:   exporter,
		Reconciler: rec,
		Dispatcher: disp,
		Cleaner:    cleaner,
		Watermark:  wm,
		Staging:    dir,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Workers:    2,
	}
}

func scenarioSet() *changeset.Set {
	repo := aspace.Repository{URI: "/repositories/2", Slug: "mss"}

	return &changeset.Set{
		Repositories: []aspace.Repository{repo},
		Collections: []changeset.Collection{{
			Repo:     repo,
			ID:       1,
			Resource: &aspace.Resource{URI: "/repositories/2/resources/1", EADID: "mss.0001", Publish: true},
		}},
		Agents: []changeset.AgentItem{
			{
				Agent:    aspace.Agent{URI: "/agents/people/10", LinkedAgentRoles: []string{"creator"}},
				Decision: agentfilter.Decision{Include: true, Reason: agentfilter.ReasonCreatorRole},
			},
			{
				Agent:    aspace.Agent{URI: "/agents/people/11", LinkedAgentRoles: []string{"donor"}},
				Decision: agentfilter.Decision{Include: false, Reason: agentfilter.ReasonDonorOnly},
			},
		},
	}
}

func TestRun_ExportsOnlyIncludedItems(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{set: scenarioSet()}
	exporter := &fakeExporter{}
	disp := &fakeDispatcher{}
	wm := &fakeWatermark{}

	r := newTestRunner(t, resolver, exporter, &fakeReconciler{}, disp, wm, &fakeCleaner{})

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Status)
	assert.Equal(t, 1, report.CollectionsExported)
	assert.Equal(t, 1, report.AgentsExported)

	// The donor-only agent never reaches the exporter.
	assert.NotContains(t, exporter.exported, "agent//agents/people/11")
	assert.Len(t, disp.files, 2)
}

func TestRun_WatermarkAdvancesToStartTime(t *testing.T) {
	t.Parallel()

	wm := &fakeWatermark{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	r := newTestRunner(t, &fakeResolver{set: &changeset.Set{}}, &fakeExporter{}, &fakeReconciler{}, &fakeDispatcher{}, wm, &fakeCleaner{})

	started := time.Date(2026, 3, 1, 12, 0, 0, 450e6, time.UTC)
	finished := started.Add(10 * time.Minute)
	times := []time.Time{started, finished}

	r.now = func() time.Time {
		next := times[0]
		if len(times) > 1 {
			times = times[1:]
		}

		return next
	}

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, wm.advanced, 1)
	assert.Equal(t, started, wm.advanced[0])
	assert.True(t, report.WatermarkAdvanced)

	// The reported cursor matches the stored one's whole-second granularity.
	assert.Equal(t, started.Truncate(time.Second), report.Watermark)
}

func TestRun_FatalResolutionLeavesWatermarkUntouched(t *testing.T) {
	t.Parallel()

	wm := &fakeWatermark{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	resolver := &fakeResolver{err: changeset.ErrResolution}

	r := newTestRunner(t, resolver, &fakeExporter{}, &fakeReconciler{}, &fakeDispatcher{}, wm, &fakeCleaner{})

	report, err := r.Run(context.Background(), Options{})
	require.Error(t, err)

	assert.Equal(t, StatusFailedFatal, report.Status)
	assert.Empty(t, wm.advanced)
	assert.NotEmpty(t, report.FatalError)
}

func TestRun_PerItemExportFailureIsPartial(t *testing.T) {
	t.Parallel()

	set := scenarioSet()
	exporter := &fakeExporter{failIDs: map[int]error{1: errors.New("export failed after retries")}}
	wm := &fakeWatermark{}

	r := newTestRunner(t, &fakeResolver{set: set}, exporter, &fakeReconciler{}, &fakeDispatcher{}, wm, &fakeCleaner{})

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailedPartial, report.Status)
	require.NotEmpty(t, report.Failures)
	assert.Equal(t, "1", report.Failures[0].Identifier)
	assert.Equal(t, "export", report.Failures[0].Phase)

	// Partial failure still advances the watermark.
	assert.Len(t, wm.advanced, 1)

	// Sibling exports proceeded.
	assert.Equal(t, 1, report.AgentsExported)
}

func TestRun_BatchFailureIsPartial(t *testing.T) {
	t.Parallel()

	disp := &fakeDispatcher{results: []indexer.BatchResult{
		{Files: []string{"a"}, Err: nil},
		{Files: []string{"b"}, Err: errors.New("exit status 1")},
	}}

	r := newTestRunner(t, &fakeResolver{set: scenarioSet()}, &fakeExporter{}, &fakeReconciler{}, disp, &fakeWatermark{}, &fakeCleaner{})

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailedPartial, report.Status)
	assert.Equal(t, 1, report.BatchesSucceeded)
	assert.Equal(t, 1, report.BatchesFailed)
}

func TestRun_ForceClearsIndexAndStaging(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{}
	resolver := &fakeResolver{set: &changeset.Set{Force: true}}

	r := newTestRunner(t, resolver, &fakeExporter{}, &fakeReconciler{}, &fakeDispatcher{}, &fakeWatermark{}, cleaner)

	_, err := r.Run(context.Background(), Options{Force: true})
	require.NoError(t, err)

	assert.True(t, cleaner.called)
	assert.True(t, resolver.opts.Force)
}

func TestRun_ScopedForceIsRejected(t *testing.T) {
	t.Parallel()

	for _, opts := range []Options{
		{Force: true, AgentsOnly: true},
		{Force: true, CollectionsOnly: true},
	} {
		cleaner := &fakeCleaner{}
		wm := &fakeWatermark{}

		r := newTestRunner(t, &fakeResolver{set: &changeset.Set{}}, &fakeExporter{}, &fakeReconciler{}, &fakeDispatcher{}, wm, cleaner)

		report, err := r.Run(context.Background(), opts)
		require.ErrorIs(t, err, ErrScopedForce)

		assert.Equal(t, StatusFailedFatal, report.Status)

		// Neither the index wipe nor the watermark advance happened.
		assert.False(t, cleaner.called)
		assert.Empty(t, wm.advanced)
	}
}

func TestRun_ScopeFlagsRestrictResolution(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{set: &changeset.Set{}}

	r := newTestRunner(t, resolver, &fakeExporter{}, &fakeReconciler{}, &fakeDispatcher{}, &fakeWatermark{}, &fakeCleaner{})

	_, err := r.Run(context.Background(), Options{AgentsOnly: true})
	require.NoError(t, err)

	assert.False(t, resolver.opts.Collections)
	assert.True(t, resolver.opts.Agents)

	_, err = r.Run(context.Background(), Options{CollectionsOnly: true})
	require.NoError(t, err)

	assert.True(t, resolver.opts.Collections)
	assert.False(t, resolver.opts.Agents)
}

func TestRun_SkipIndexingStopsAfterStaging(t *testing.T) {
	t.Parallel()

	disp := &fakeDispatcher{}

	r := newTestRunner(t, &fakeResolver{set: scenarioSet()}, &fakeExporter{}, &fakeReconciler{}, disp, &fakeWatermark{}, &fakeCleaner{})

	report, err := r.Run(context.Background(), Options{SkipIndexing: true})
	require.NoError(t, err)

	assert.False(t, disp.called)
	assert.Equal(t, StatusSucceeded, report.Status)
}

func TestRun_ReconcileResultsFoldIntoReport(t *testing.T) {
	t.Parallel()

	rec := &fakeReconciler{results: []reconcile.Result{
		{Identifier: "9", Kind: aspace.KindCollection},
		{Identifier: "agents_people_4", Kind: aspace.KindAgent, IndexErr: errors.New("solr down")},
	}}

	r := newTestRunner(t, &fakeResolver{set: &changeset.Set{}}, &fakeExporter{}, rec, &fakeDispatcher{}, &fakeWatermark{}, &fakeCleaner{})

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, StatusFailedPartial, report.Status)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "reconcile", report.Failures[0].Phase)
}

func TestRun_SkippedAgentIsNotAFailure(t *testing.T) {
	t.Parallel()

	set := &changeset.Set{
		Agents: []changeset.AgentItem{{
			Agent:    aspace.Agent{URI: "/agents/people/7"},
			Decision: agentfilter.Decision{Include: true, Reason: agentfilter.ReasonPublishedLinkage},
		}},
	}

	exporter := &fakeExporter{skipURIs: map[string]bool{"/agents/people/7": true}}
	cleaner := &fakeCleaner{}

	r := newTestRunner(t, &fakeResolver{set: set}, exporter, &fakeReconciler{}, &fakeDispatcher{}, &fakeWatermark{}, cleaner)

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, report.Status)
	assert.Equal(t, 1, report.AgentsSkipped)
	assert.Zero(t, report.AgentsExported)

	// The creator may have been indexed by an earlier run; its document is
	// dropped so a removed biography does not linger.
	assert.Equal(t, []string{"agents_people_7"}, cleaner.deletedIDs)
}

func TestRun_StaleCreatorDeleteFailureIsPartial(t *testing.T) {
	t.Parallel()

	set := &changeset.Set{
		Agents: []changeset.AgentItem{{
			Agent:    aspace.Agent{URI: "/agents/people/7"},
			Decision: agentfilter.Decision{Include: true, Reason: agentfilter.ReasonPublishedLinkage},
		}},
	}

	exporter := &fakeExporter{skipURIs: map[string]bool{"/agents/people/7": true}}
	cleaner := &fakeCleaner{deleteIDErr: errors.New("solr down")}

	r := newTestRunner(t, &fakeResolver{set: set}, exporter, &fakeReconciler{}, &fakeDispatcher{}, &fakeWatermark{}, cleaner)

	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailedPartial, report.Status)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "agents_people_7", report.Failures[0].Identifier)
	assert.Equal(t, "reconcile", report.Failures[0].Phase)
}
