package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyncMetrics_RecordsThroughPrometheus(t *testing.T) {
	t.Parallel()

	meter, handler, err := NewMeter()
	require.NoError(t, err)

	metrics, err := NewSyncMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()

	metrics.RecordExport(ctx, "collection", 120*time.Millisecond)
	metrics.RecordExport(ctx, "agent", 40*time.Millisecond)
	metrics.RecordDelete(ctx, "collection")
	metrics.RecordItemError(ctx, "export")
	metrics.RecordBatch(ctx, false)
	metrics.RecordBatch(ctx, true)
	metrics.RecordRun(ctx, "failed_partial")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)

	body, err := io.ReadAll(recorder.Body)
	require.NoError(t, err)

	scrape := string(body)
	assert.Contains(t, scrape, "arcflow_records_exported_total")
	assert.Contains(t, scrape, "arcflow_records_deleted_total")
	assert.Contains(t, scrape, "arcflow_index_batches_total")
	assert.Contains(t, scrape, `status="failure"`)
	assert.Contains(t, scrape, "arcflow_runs_total")
}

func TestSyncMetrics_NilReceiverIsNoOp(t *testing.T) {
	t.Parallel()

	var metrics *SyncMetrics

	ctx := context.Background()

	metrics.RecordExport(ctx, "collection", time.Second)
	metrics.RecordDelete(ctx, "agent")
	metrics.RecordItemError(ctx, "index")
	metrics.RecordBatch(ctx, true)
	metrics.RecordRun(ctx, "succeeded")
}

func TestNewMeter_IndependentRegistries(t *testing.T) {
	t.Parallel()

	_, _, err := NewMeter()
	require.NoError(t, err)

	_, _, err = NewMeter()
	assert.NoError(t, err)
}
