// Package aspace implements the ArchivesSpace API collaborator: record
// types, a session-authenticated HTTP client, bounded retry, and record
// validation.
package aspace

import (
	"strings"
	"time"
)

// RecordKind distinguishes the two record families the sync engine processes.
type RecordKind string

const (
	// KindCollection is an archival resource (finding aid / EAD source).
	KindCollection RecordKind = "collection"

	// KindAgent is a person, family, or corporate entity record.
	KindAgent RecordKind = "agent"
)

// mtimeLayout matches ArchivesSpace system_mtime/user_mtime values
// ("2024-03-01T12:00:00Z").
const mtimeLayout = time.RFC3339

// Repository is an ArchivesSpace repository record.
type Repository struct {
	URI         string `json:"uri"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	SystemMtime string `json:"system_mtime"`
	UserMtime   string `json:"user_mtime"`

	AgentRepresentation Ref `json:"agent_representation"`
}

// Ref is a reference to another record by URI.
type Ref struct {
	Ref string `json:"ref"`
}

// Resource is an archival resource (collection) record.
type Resource struct {
	URI          string        `json:"uri"`
	EADID        string        `json:"ead_id"`
	Title        string        `json:"title"`
	Publish      bool          `json:"publish"`
	Suppressed   bool          `json:"suppressed"`
	SystemMtime  string        `json:"system_mtime"`
	UserMtime    string        `json:"user_mtime"`
	LinkedAgents []LinkedAgent `json:"linked_agents"`
}

// LinkedAgent is an agent link carried on a resource record.
type LinkedAgent struct {
	Role string `json:"role"`
	Ref  string `json:"ref"`
}

// Agent is an agent record (people, families, corporate entities).
// LinkedAgentRoles and IsLinkedToPublishedRecord are populated by the
// bulk search endpoint, not the plain record fetch.
type Agent struct {
	URI                       string   `json:"uri"`
	Title                     string   `json:"title"`
	Publish                   bool     `json:"publish"`
	IsUser                    bool     `json:"is_user"`
	SystemGenerated           bool     `json:"system_generated"`
	IsRepoAgent               bool     `json:"is_repo_agent"`
	IsLinkedToPublishedRecord bool     `json:"is_linked_to_published_record"`
	SystemMtime               string   `json:"system_mtime"`
	UserMtime                 string   `json:"user_mtime"`
	LinkedAgentRoles          []string `json:"linked_agent_roles"`
	DatesOfExistence          []Date   `json:"dates_of_existence"`
	Notes                     []Note   `json:"notes"`
}

// Date is a structured date record.
type Date struct {
	Label      string `json:"label"`
	Expression string `json:"expression"`
	Begin      string `json:"begin"`
	End        string `json:"end"`
	DateType   string `json:"date_type"`
}

// Note is a resource or agent note. Bioghist notes carry their narrative in
// subnotes.
type Note struct {
	JSONModelType string    `json:"jsonmodel_type"`
	PersistentID  string    `json:"persistent_id"`
	Label         string    `json:"label"`
	Subnotes      []Subnote `json:"subnotes"`
}

// Subnote holds a fragment of note content. Content is EAD markup, not plain
// text, and must not be escaped when woven into an export.
type Subnote struct {
	JSONModelType string `json:"jsonmodel_type"`
	Content       string `json:"content"`
	Publish       bool   `json:"publish"`
}

// noteBioghist is the jsonmodel_type of biographical/historical notes.
const noteBioghist = "note_bioghist"

// Bioghist returns the agent's biographical note, or nil when the agent
// carries none. Agents without a bioghist are skipped by the exporter.
func (a *Agent) Bioghist() *Note {
	for i := range a.Notes {
		if a.Notes[i].JSONModelType == noteBioghist {
			return &a.Notes[i]
		}
	}

	return nil
}

// ModifiedAt returns the later of system and user modification times.
// The zero time is returned when neither parses.
func ModifiedAt(systemMtime, userMtime string) time.Time {
	system := parseMtime(systemMtime)
	user := parseMtime(userMtime)

	if user.After(system) {
		return user
	}

	return system
}

func parseMtime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(mtimeLayout, value)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

// Published reports whether the resource is visible to discovery: published
// and not suppressed.
func (r *Resource) Published() bool {
	return r.Publish && !r.Suppressed
}

// IdentifierFromURI derives the stable record identifier from a
// repository-scoped URI ("/repositories/2/resources/17" -> "17").
// Returns "" when the URI carries no trailing id segment; callers must treat
// that as a terminal per-item condition, never invent an identifier.
func IdentifierFromURI(uri string) string {
	trimmed := strings.TrimSuffix(uri, "/")

	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return ""
	}

	return trimmed[idx+1:]
}

// RepoIDFromURI extracts the repository id from a repository-scoped URI
// ("/repositories/2/resources/17" -> "2"). Returns "" when the URI is not
// repository scoped.
func RepoIDFromURI(uri string) string {
	const prefix = "/repositories/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	rest := uri[len(prefix):]

	idx := strings.Index(rest, "/")
	if idx < 0 {
		return rest
	}

	return rest[:idx]
}
