package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
	"github.com/Sumatoshi-tech/arcflow/internal/staging"
)

// ErrNoStableIdentifier indicates a record carries no deterministically
// derivable identifier and is excluded from indexing rather than given an
// invented one.
var ErrNoStableIdentifier = errors.New("no stable identifier")

// roleCreator is the linked-agent role whose biographies are woven into
// collection exports.
const roleCreator = "creator"

// Exporter fetches full record representations and stages them for
// indexing. Safe for concurrent use: workers own disjoint identifiers.
type Exporter struct {
	client  aspace.Client
	staging *staging.Dir
	retry   aspace.RetryPolicy
	logger  *slog.Logger
}

// NewExporter creates an exporter over the given collaborators.
func NewExporter(client aspace.Client, dir *staging.Dir, retry aspace.RetryPolicy, logger *slog.Logger) *Exporter {
	return &Exporter{client: client, staging: dir, retry: retry, logger: logger}
}

// ExportCollection exports one resource as a staged EAD with creator
// biographies woven in. The resource record was already fetched during
// change-set resolution; only the EAD serialization and creator agents are
// fetched here. The EAD id is required: without it no index document
// identifier can be derived, so the record is excluded.
func (e *Exporter) ExportCollection(ctx context.Context, repo aspace.Repository, id int, resource *aspace.Resource) (*staging.File, error) {
	if resource.EADID == "" {
		return nil, fmt.Errorf("%w: resource %s has no ead_id", ErrNoStableIdentifier, resource.URI)
	}

	var ead []byte

	exportErr := e.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		ead, err = e.client.ExportEAD(ctx, repo.URI, id)

		return err
	})
	if exportErr != nil {
		return nil, fmt.Errorf("export ead %d: %w", id, exportErr)
	}

	fragments := e.creatorBioghists(ctx, resource)

	ead = InjectBioghists(ead, fragments)

	identifier := strconv.Itoa(id)
	path := e.staging.CollectionPath(repo.Slug, identifier)

	writeErr := e.staging.Write(path, ead)
	if writeErr != nil {
		return nil, writeErr
	}

	e.logger.Info("exported collection",
		"repo", repo.Slug, "id", id, "ead_id", resource.EADID, "bioghists", len(fragments))

	return &staging.File{
		Path:       path,
		Identifier: identifier,
		Kind:       aspace.KindCollection,
		Size:       int64(len(ead)),
	}, nil
}

// creatorBioghists collects biography fragments from the resource's
// creator-linked agents. A failed agent fetch drops that fragment only;
// the collection export still proceeds.
func (e *Exporter) creatorBioghists(ctx context.Context, resource *aspace.Resource) []string {
	var fragments []string

	for _, link := range resource.LinkedAgents {
		if link.Role != roleCreator || link.Ref == "" {
			continue
		}

		var agent *aspace.Agent

		err := e.retry.Do(ctx, func(ctx context.Context) error {
			var fetchErr error
			agent, fetchErr = e.client.GetAgent(ctx, link.Ref)

			return fetchErr
		})
		if err != nil {
			e.logger.Warn("skipping creator bioghist", "agent", link.Ref, "error", err)

			continue
		}

		fragment := BioghistFragment(agent.Title, agent.Bioghist())
		if fragment != "" {
			fragments = append(fragments, fragment)
		}
	}

	return fragments
}

// ExportAgent exports one agent as a standalone creator document. The stub
// carries the bulk-search attributes (linked roles, published linkage); the
// full record with notes is fetched here. Agents without a biographical
// note produce no output and no error; the skip return distinguishes them
// from staged exports.
func (e *Exporter) ExportAgent(ctx context.Context, stub *aspace.Agent) (*staging.File, bool, error) {
	uri := stub.URI

	identifier := AgentIdentifier(uri)
	if identifier == "" {
		return nil, false, fmt.Errorf("%w: agent with empty uri", ErrNoStableIdentifier)
	}

	var agent *aspace.Agent

	fetchErr := e.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		agent, err = e.client.GetAgent(ctx, uri)

		return err
	})
	if fetchErr != nil {
		return nil, false, fmt.Errorf("fetch agent %s: %w", uri, fetchErr)
	}

	// The plain record fetch does not carry the accumulated linked roles.
	if len(agent.LinkedAgentRoles) == 0 {
		agent.LinkedAgentRoles = stub.LinkedAgentRoles
	}

	document := CreatorDocument(agent)
	if document == nil {
		// A creator staged by an earlier run may have lost its biography
		// since; drop the stale copy so it cannot be re-indexed.
		removeErr := e.staging.Remove(e.staging.AgentPath(identifier))
		if removeErr != nil {
			return nil, false, removeErr
		}

		return nil, true, nil
	}

	path := e.staging.AgentPath(identifier)

	writeErr := e.staging.Write(path, document)
	if writeErr != nil {
		return nil, false, writeErr
	}

	e.logger.Info("exported creator", "agent", uri, "identifier", identifier)

	return &staging.File{
		Path:       path,
		Identifier: identifier,
		Kind:       aspace.KindAgent,
		Size:       int64(len(document)),
	}, false, nil
}
