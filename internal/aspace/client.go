package aspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// sessionHeader carries the ArchivesSpace session token on every request.
const sessionHeader = "X-ArchivesSpace-Session"

// defaultTimeout bounds each API call. Timed-out calls surface to the
// per-item retry policy.
const defaultTimeout = 60 * time.Second

// Sentinel errors for API access.
var (
	// ErrNotFound indicates the record does not exist (terminal, not retried).
	ErrNotFound = errors.New("record not found")
	// ErrUnauthorized indicates authentication was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStatus indicates an unexpected HTTP status.
	ErrStatus = errors.New("unexpected status")
)

// Client is the source-system collaborator consumed by the sync engine.
// Implementations must be safe for concurrent use by export workers.
type Client interface {
	GetRepositories(ctx context.Context) ([]Repository, error)
	GetAgentRepresentation(ctx context.Context, ref string) (*AgentRepresentation, error)
	ListModifiedResources(ctx context.Context, repoURI string, since time.Time) ([]int, error)
	GetResource(ctx context.Context, repoURI string, id int) (*Resource, error)
	ExportEAD(ctx context.Context, repoURI string, id int) ([]byte, error)
	SearchAgents(ctx context.Context, since time.Time) ([]Agent, error)
	GetAgent(ctx context.Context, uri string) (*Agent, error)
	DeleteFeed(ctx context.Context, page int, since time.Time) (*DeleteFeedPage, error)
}

// DeleteFeedPage is one page of the source system's delete feed.
type DeleteFeedPage struct {
	Results  []string `json:"results"`
	ThisPage int      `json:"this_page"`
	LastPage int      `json:"last_page"`
}

// AgentRepresentation is the repository's own agent record, used only for
// the repository directory export (contact and location blocks).
type AgentRepresentation struct {
	AgentContacts []AgentContact `json:"agent_contacts"`
}

// AgentContact holds a repository contact block.
type AgentContact struct {
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Address1   string      `json:"address_1"`
	Address2   string      `json:"address_2"`
	City       string      `json:"city"`
	Region     string      `json:"region"`
	PostCode   string      `json:"post_code"`
	Country    string      `json:"country"`
	Telephones []Telephone `json:"telephones"`
}

// Telephone is one contact number with its type ("business", "fax").
type Telephone struct {
	Number     string `json:"number"`
	NumberType string `json:"number_type"`
}

// searchPageSize is the page size for bulk agent search queries.
const searchPageSize = 250

// HTTPClient talks to the ArchivesSpace backend API over HTTP with session
// authentication.
type HTTPClient struct {
	baseURL  string
	username string
	password string

	session   string
	http      *http.Client
	validator *RecordValidator
}

// NewHTTPClient creates a client for the given backend URL and credentials.
func NewHTTPClient(baseURL, username, password string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		username:  username,
		password:  password,
		http:      &http.Client{Timeout: defaultTimeout},
		validator: NewRecordValidator(),
	}
}

// Login obtains a session token. Must be called once before any other
// method; a failure here is fatal for the run.
func (c *HTTPClient) Login(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/users/%s/login", c.baseURL, url.PathEscape(c.username))

	form := url.Values{"password": {c.password}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+form.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: login rejected for user %q", ErrUnauthorized, c.username)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: login returned %d", ErrStatus, resp.StatusCode)
	}

	var body struct {
		Session string `json:"session"`
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if decodeErr != nil {
		return fmt.Errorf("decode login response: %w", decodeErr)
	}

	c.session = body.Session

	return nil
}

// GetRepositories lists all repositories.
func (c *HTTPClient) GetRepositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository

	err := c.getJSON(ctx, "/repositories", nil, &repos)
	if err != nil {
		return nil, err
	}

	return repos, nil
}

// GetAgentRepresentation fetches the repository's own agent record by ref.
func (c *HTTPClient) GetAgentRepresentation(ctx context.Context, ref string) (*AgentRepresentation, error) {
	var rep AgentRepresentation

	err := c.getJSON(ctx, ref, nil, &rep)
	if err != nil {
		return nil, err
	}

	return &rep, nil
}

// ListModifiedResources returns the ids of resources in the repository
// modified at or after since. A zero since lists everything.
func (c *HTTPClient) ListModifiedResources(ctx context.Context, repoURI string, since time.Time) ([]int, error) {
	params := url.Values{"all_ids": {"true"}}
	if !since.IsZero() {
		params.Set("modified_since", strconv.FormatInt(since.Unix(), 10))
	}

	var ids []int

	err := c.getJSON(ctx, repoURI+"/resources", params, &ids)
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// GetResource fetches one resource record. The raw payload is validated
// against the resource schema; a schema violation is terminal.
func (c *HTTPClient) GetResource(ctx context.Context, repoURI string, id int) (*Resource, error) {
	path := fmt.Sprintf("%s/resources/%d", repoURI, id)

	raw, err := c.getRaw(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	validateErr := c.validator.ValidateResource(raw)
	if validateErr != nil {
		return nil, Terminal(fmt.Errorf("resource %s: %w", path, validateErr))
	}

	var resource Resource

	decodeErr := json.Unmarshal(raw, &resource)
	if decodeErr != nil {
		return nil, Terminal(fmt.Errorf("decode resource %s: %w", path, decodeErr))
	}

	return &resource, nil
}

// ExportEAD fetches the full EAD serialization of a resource. Unpublished
// content is excluded; digital object and URI data is included.
func (c *HTTPClient) ExportEAD(ctx context.Context, repoURI string, id int) ([]byte, error) {
	path := fmt.Sprintf("%s/resource_descriptions/%d.xml", repoURI, id)

	params := url.Values{
		"include_unpublished": {"false"},
		"include_daos":        {"true"},
		"include_uris":        {"true"},
		"numbered_cs":         {"true"},
		"ead3":                {"false"},
	}

	return c.getRaw(ctx, path, params)
}

// agentSearchEndpoints are the agent families included in bulk search.
// Software agents are deliberately never queried.
var agentSearchTypes = []string{"agent_person", "agent_corporate_entity", "agent_family"}

// SearchAgents runs the bulk agent query against the secondary index and
// returns agents with their accumulated linked roles and published-linkage
// flag. One paged query replaces per-agent API calls so call volume stays
// bounded for large archives.
func (c *HTTPClient) SearchAgents(ctx context.Context, since time.Time) ([]Agent, error) {
	var agents []Agent

	for page := 1; ; page++ {
		params := url.Values{
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(searchPageSize)},
			"q":         {searchQuery(since)},
		}
		for _, t := range agentSearchTypes {
			params.Add("type[]", t)
		}

		var body struct {
			Results  []json.RawMessage `json:"results"`
			ThisPage int               `json:"this_page"`
			LastPage int               `json:"last_page"`
		}

		err := c.getJSON(ctx, "/search", params, &body)
		if err != nil {
			return nil, err
		}

		for _, raw := range body.Results {
			var agent Agent

			decodeErr := json.Unmarshal(raw, &agent)
			if decodeErr != nil {
				return nil, fmt.Errorf("decode agent search result: %w", decodeErr)
			}

			agents = append(agents, agent)
		}

		if body.LastPage <= body.ThisPage {
			break
		}
	}

	return agents, nil
}

func searchQuery(since time.Time) string {
	if since.IsZero() {
		return "*:*"
	}

	return fmt.Sprintf("system_mtime:[%s TO *]", since.UTC().Format(time.RFC3339))
}

// GetAgent fetches one agent record by URI with schema validation.
func (c *HTTPClient) GetAgent(ctx context.Context, uri string) (*Agent, error) {
	raw, err := c.getRaw(ctx, uri, nil)
	if err != nil {
		return nil, err
	}

	validateErr := c.validator.ValidateAgent(raw)
	if validateErr != nil {
		return nil, Terminal(fmt.Errorf("agent %s: %w", uri, validateErr))
	}

	var agent Agent

	decodeErr := json.Unmarshal(raw, &agent)
	if decodeErr != nil {
		return nil, Terminal(fmt.Errorf("decode agent %s: %w", uri, decodeErr))
	}

	return &agent, nil
}

// DeleteFeed fetches one page of the delete feed.
func (c *HTTPClient) DeleteFeed(ctx context.Context, page int, since time.Time) (*DeleteFeedPage, error) {
	params := url.Values{
		"page": {strconv.Itoa(page)},
	}
	if !since.IsZero() {
		params.Set("modified_since", strconv.FormatInt(since.Unix(), 10))
	}

	var feed DeleteFeedPage

	err := c.getJSON(ctx, "/delete-feed", params, &feed)
	if err != nil {
		return nil, err
	}

	return &feed, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	raw, err := c.getRaw(ctx, path, params)
	if err != nil {
		return err
	}

	decodeErr := json.Unmarshal(raw, out)
	if decodeErr != nil {
		return fmt.Errorf("decode %s: %w", path, decodeErr)
	}

	return nil
}

func (c *HTTPClient) getRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}

	req.Header.Set(sessionHeader, c.session)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, Terminal(fmt.Errorf("%w: %s", ErrNotFound, path))
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, path)
	default:
		return nil, fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, path)
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("read %s: %w", path, readErr)
	}

	return body, nil
}
