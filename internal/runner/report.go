package runner

import (
	"time"
)

// Status is a run's terminal state.
type Status string

const (
	// StatusSucceeded means every scheduled item was processed.
	StatusSucceeded Status = "succeeded"

	// StatusFailedPartial means the run finished but some items or batches
	// failed; the watermark still advances.
	StatusFailedPartial Status = "failed_partial"

	// StatusFailedFatal means the run aborted; the watermark is untouched.
	StatusFailedFatal Status = "failed_fatal"
)

// ItemFailure is one failed identifier with its phase and reason.
type ItemFailure struct {
	Identifier string `json:"identifier"`
	Kind       string `json:"kind"`
	Phase      string `json:"phase"`
	Reason     string `json:"reason"`
}

// Report is the itemized outcome of one run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     Status    `json:"status"`
	Force      bool      `json:"force"`

	CollectionsExported int `json:"collections_exported"`
	AgentsExported      int `json:"agents_exported"`
	AgentsSkipped       int `json:"agents_skipped"`
	Deleted             int `json:"deleted"`
	BatchesSucceeded    int `json:"batches_succeeded"`
	BatchesFailed       int `json:"batches_failed"`

	StagedBytes int64 `json:"staged_bytes"`

	WatermarkAdvanced bool      `json:"watermark_advanced"`
	Watermark         time.Time `json:"watermark"`

	Failures []ItemFailure `json:"failures,omitempty"`

	FatalError string `json:"fatal_error,omitempty"`
}

// Elapsed returns the run duration.
func (r *Report) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether the run ended in any failed state.
func (r *Report) Failed() bool {
	return r.Status != StatusSucceeded
}
