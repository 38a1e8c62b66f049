package changeset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/arcflow/internal/agentfilter"
	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
)

// ErrResolution indicates a bulk source query failed. Always fatal for the
// run: correctness of reconciliation depends on a complete, consistent view.
var ErrResolution = errors.New("change-set resolution failed")

// Resolver queries the source system and builds the run's work-item set.
type Resolver struct {
	client aspace.Client
	retry  aspace.RetryPolicy
	logger *slog.Logger
}

// NewResolver creates a resolver over the source client.
func NewResolver(client aspace.Client, retry aspace.RetryPolicy, logger *slog.Logger) *Resolver {
	return &Resolver{client: client, retry: retry, logger: logger}
}

// Resolve builds the change-set for records modified after since. Under
// force the watermark is ignored and every record in scope is included.
// Any bulk listing failure aborts resolution with ErrResolution.
func (r *Resolver) Resolve(ctx context.Context, since time.Time, opts Options) (*Set, error) {
	if opts.Force {
		since = time.Time{}
	}

	repos, err := r.client.GetRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list repositories: %w", ErrResolution, err)
	}

	set := &Set{Force: opts.Force, Repositories: repos}

	if opts.Collections {
		for _, repo := range repos {
			items, resolveErr := r.resolveCollections(ctx, repo, since)
			if resolveErr != nil {
				return nil, resolveErr
			}

			set.Collections = append(set.Collections, items...)
		}
	}

	if opts.Agents {
		items, agentsErr := r.resolveAgents(ctx, since)
		if agentsErr != nil {
			return nil, agentsErr
		}

		set.Agents = items
	}

	// The feed carries tombstones for every record kind, so it is walked
	// whenever any kind is in scope. Force skips it: the full staged-vs-
	// source diff covers deletions there.
	if !opts.Force {
		deleted, feedErr := r.resolveDeleteFeed(ctx, since)
		if feedErr != nil {
			return nil, feedErr
		}

		set.DeletedURIs = scopeDeleted(deleted, opts)
	}

	r.logger.Info("change-set resolved",
		"force", opts.Force,
		"collections", len(set.Collections),
		"agents", len(set.Agents),
		"deleted", len(set.DeletedURIs))

	return set, nil
}

// resolveCollections lists modified resource ids in one repository and
// fetches each record to populate its published state. The listing failure
// is fatal; a single record's fetch failure after retries is recorded on
// the item and processing continues.
func (r *Resolver) resolveCollections(ctx context.Context, repo aspace.Repository, since time.Time) ([]Collection, error) {
	ids, err := r.client.ListModifiedResources(ctx, repo.URI, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list resources in %s: %w", ErrResolution, repo.URI, err)
	}

	items := make([]Collection, 0, len(ids))

	for _, id := range ids {
		var resource *aspace.Resource

		fetchErr := r.retry.Do(ctx, func(ctx context.Context) error {
			var getErr error
			resource, getErr = r.client.GetResource(ctx, repo.URI, id)

			return getErr
		})

		switch {
		case errors.Is(fetchErr, aspace.ErrNotFound):
			// Deleted between listing and fetch: schedule for removal.
			items = append(items, Collection{Repo: repo, ID: id, DeleteOnly: true})
		case fetchErr != nil:
			items = append(items, Collection{
				Repo: repo,
				ID:   id,
				Err:  fmt.Errorf("fetch resource %d: %w", id, fetchErr),
			})
		default:
			items = append(items, Collection{
				Repo:       repo,
				ID:         id,
				Resource:   resource,
				ModifiedAt: aspace.ModifiedAt(resource.SystemMtime, resource.UserMtime),
				DeleteOnly: !resource.Published(),
			})
		}
	}

	return items, nil
}

// resolveAgents runs one bulk search and classifies every returned agent.
// No per-agent API calls happen here: call volume must stay bounded for
// archives with thousands of agents.
func (r *Resolver) resolveAgents(ctx context.Context, since time.Time) ([]AgentItem, error) {
	agents, err := r.client.SearchAgents(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%w: search agents: %w", ErrResolution, err)
	}

	items := make([]AgentItem, 0, len(agents))

	for _, agent := range agents {
		items = append(items, AgentItem{
			Agent:      agent,
			ModifiedAt: aspace.ModifiedAt(agent.SystemMtime, agent.UserMtime),
			Decision:   agentfilter.Decide(&agent),
		})
	}

	return items, nil
}

// scopeDeleted drops tombstones for record kinds outside the run's scope.
func scopeDeleted(uris []string, opts Options) []string {
	scoped := make([]string, 0, len(uris))

	for _, uri := range uris {
		switch {
		case strings.Contains(uri, "/resources/"):
			if opts.Collections {
				scoped = append(scoped, uri)
			}
		case strings.HasPrefix(uri, "/agents/"):
			if opts.Agents {
				scoped = append(scoped, uri)
			}
		default:
			// Unrecognized shapes pass through; reconciliation ignores
			// what it cannot map onto a staged record.
			scoped = append(scoped, uri)
		}
	}

	return scoped
}

// resolveDeleteFeed walks the paged delete feed to its last page and
// collects deleted record URIs.
func (r *Resolver) resolveDeleteFeed(ctx context.Context, since time.Time) ([]string, error) {
	var deleted []string

	for page := 1; ; page++ {
		feed, err := r.client.DeleteFeed(ctx, page, since)
		if err != nil {
			return nil, fmt.Errorf("%w: delete feed page %d: %w", ErrResolution, page, err)
		}

		deleted = append(deleted, feed.Results...)

		if feed.LastPage <= feed.ThisPage {
			break
		}
	}

	return deleted, nil
}
