// Package changeset resolves the set of records requiring processing in a
// run: collections and agents modified since the watermark, plus deletions
// reported by the source system's delete feed. Resolution failures are
// fatal for the run; acting on a partial change-set risks false deletions.
package changeset

import (
	"strconv"
	"time"

	"github.com/Sumatoshi-tech/arcflow/internal/agentfilter"
	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
)

// Options restrict the scope of one resolution.
type Options struct {
	// Force ignores the watermark and resolves every record in scope.
	Force bool
	// Collections schedules collection work items.
	Collections bool
	// Agents schedules agent work items.
	Agents bool
}

// Collection is one resource scheduled for processing. DeleteOnly marks
// records that must be removed from the index rather than exported:
// unpublished or vanished between listing and fetch.
type Collection struct {
	Repo       aspace.Repository
	ID         int
	Resource   *aspace.Resource
	ModifiedAt time.Time
	DeleteOnly bool

	// Err records a per-item fetch failure after retries. The item is
	// neither exported nor deleted this run; it surfaces in the run
	// report and is picked up again on its next modification or a forced
	// resync.
	Err error
}

// AgentItem is one agent scheduled for processing, carrying the bulk-search
// record and its inclusion decision. Excluded agents stay in the set so the
// reconciler can remove any previously staged document.
type AgentItem struct {
	Agent      aspace.Agent
	ModifiedAt time.Time
	Decision   agentfilter.Decision
}

// Set is the complete resolved change-set for one run.
type Set struct {
	Force bool

	Repositories []aspace.Repository
	Collections  []Collection
	Agents       []AgentItem

	// DeletedURIs are resource URIs the source system reports as deleted
	// since the watermark. Empty under force: the full-diff reconciliation
	// pass covers deletions there.
	DeletedURIs []string
}

// Identifier returns the staging identifier for the collection.
func (c Collection) Identifier() string {
	if c.Resource != nil {
		if id := aspace.IdentifierFromURI(c.Resource.URI); id != "" {
			return id
		}
	}

	return strconv.Itoa(c.ID)
}
