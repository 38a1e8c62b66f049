// Package indexer dispatches staged files to the external indexing process
// in bounded batches. Each batch is one synchronous process invocation;
// batch failures are isolated so later batches still run.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/Sumatoshi-tech/arcflow/internal/staging"
)

const (
	// DefaultBatchSize bounds files per indexing invocation, keeping each
	// call within safe argument-list and memory limits.
	DefaultBatchSize = 100

	// DefaultWorkers bounds concurrent indexing invocations. Each one is a
	// heavy external process; the pool stays small to avoid overwhelming
	// the index server.
	DefaultWorkers = 2
)

// Invoker runs the external indexing process over one batch of staged file
// paths, returning its combined output.
type Invoker interface {
	Index(ctx context.Context, paths []string) ([]byte, error)
}

// BatchResult is the outcome of one indexing invocation.
type BatchResult struct {
	// Files is the ordered path list submitted together.
	Files  []string
	Output string
	Err    error
}

// Dispatcher partitions staged files into batches and runs them on a
// bounded worker pool. Ordering between batches is not guaranteed; ordering
// of files within a batch is preserved as given.
type Dispatcher struct {
	invoker   Invoker
	batchSize int
	workers   int
	logger    *slog.Logger
}

// New creates a dispatcher. Non-positive sizes select the defaults.
func New(invoker Invoker, batchSize, workers int, logger *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Dispatcher{invoker: invoker, batchSize: batchSize, workers: workers, logger: logger}
}

// Dispatch submits every staged file and returns one result per batch. A
// failed batch never stops the remaining ones.
func (d *Dispatcher) Dispatch(ctx context.Context, files []staging.File) []BatchResult {
	batches := Partition(files, d.batchSize)
	if len(batches) == 0 {
		return nil
	}

	jobs := make(chan []string)
	out := make(chan BatchResult)

	var wg sync.WaitGroup

	for range d.workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for paths := range jobs {
				out <- d.runBatch(ctx, paths)
			}
		}()
	}

	go func() {
		for _, batch := range batches {
			jobs <- batch
		}

		close(jobs)
		wg.Wait()
		close(out)
	}()

	results := make([]BatchResult, 0, len(batches))
	for res := range out {
		results = append(results, res)
	}

	return results
}

func (d *Dispatcher) runBatch(ctx context.Context, paths []string) BatchResult {
	output, err := d.invoker.Index(ctx, paths)

	res := BatchResult{
		Files:  paths,
		Output: string(output),
		Err:    err,
	}

	if err != nil {
		d.logger.Error("index batch failed", "files", len(paths), "error", err)
	} else {
		d.logger.Info("index batch succeeded", "files", len(paths))
	}

	return res
}

// Partition splits files into ⌈N/B⌉ batches of at most size each,
// preserving input order. The batches partition the input exactly.
func Partition(files []staging.File, size int) [][]string {
	if len(files) == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(files)+size-1)/size)

	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))

		batch := make([]string, 0, end-start)
		for _, file := range files[start:end] {
			batch = append(batch, file.Path)
		}

		batches = append(batches, batch)
	}

	return batches
}

// ExecInvoker runs a configured indexing command once per batch, appending
// the batch's file paths to the argument list. The index endpoint is passed
// through the SOLR_URL environment variable, matching the ArcLight indexing
// task's contract.
type ExecInvoker struct {
	Command string
	Args    []string
	SolrURL string
	Dir     string
}

// Index runs the command synchronously and captures combined output. A
// non-zero exit is returned with the output preserved for the run report.
func (e *ExecInvoker) Index(ctx context.Context, paths []string) ([]byte, error) {
	args := make([]string, 0, len(e.Args)+len(paths))
	args = append(args, e.Args...)
	args = append(args, paths...)

	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Dir = e.Dir
	cmd.Env = append(os.Environ(), "SOLR_URL="+e.SolrURL)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("index command %q: %w", e.Command+" "+strings.Join(e.Args, " "), err)
	}

	return output, nil
}
