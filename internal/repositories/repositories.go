// Package repositories regenerates the ArcLight repository directory file
// (repositories.yml) from the source system's repository records. The file
// is only rewritten when a repository record changed past the watermark, or
// under force.
package repositories

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
)

const filePerm = 0o644

// Entry is one repository block in repositories.yml, keyed by slug.
type Entry struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	ContactHTML  string `yaml:"contact_html"`
	LocationHTML string `yaml:"location_html"`
	ThumbnailURL string `yaml:"thumbnail_url"`
}

// Generator builds the directory file from repository records.
type Generator struct {
	client aspace.Client
	output string
	logger *slog.Logger
}

// NewGenerator creates a generator writing to output.
func NewGenerator(client aspace.Client, output string, logger *slog.Logger) *Generator {
	return &Generator{client: client, output: output, logger: logger}
}

// NeedsUpdate reports whether any repository record was modified at or
// after since.
func NeedsUpdate(repos []aspace.Repository, since time.Time) bool {
	for _, repo := range repos {
		modified := aspace.ModifiedAt(repo.SystemMtime, repo.UserMtime)
		if !modified.Before(since) {
			return true
		}
	}

	return false
}

// Generate fetches each repository's contact record and rewrites the
// directory file atomically.
func (g *Generator) Generate(ctx context.Context, repos []aspace.Repository) error {
	entries := make(map[string]Entry, len(repos))

	for _, repo := range repos {
		entry := Entry{
			Name:         repo.Name,
			Description:  repo.Description,
			ThumbnailURL: repo.ImageURL,
		}

		if ref := repo.AgentRepresentation.Ref; ref != "" {
			rep, err := g.client.GetAgentRepresentation(ctx, ref)
			if err != nil {
				return fmt.Errorf("fetch contact record for %s: %w", repo.Slug, err)
			}

			if len(rep.AgentContacts) > 0 {
				contact := rep.AgentContacts[0]
				entry.ContactHTML = contactHTML(contact)
				entry.LocationHTML = locationHTML(contact)
			}
		}

		entries[repo.Slug] = entry
	}

	raw, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode repositories: %w", err)
	}

	writeErr := writeAtomic(g.output, raw)
	if writeErr != nil {
		return writeErr
	}

	g.logger.Info("updated repository directory", "path", g.output, "repositories", len(repos))

	return nil
}

// contactHTML renders the telephone and email block. Values are plain text
// from the source system and are escaped before interpolation.
func contactHTML(contact aspace.AgentContact) string {
	var b strings.Builder

	for _, phone := range contact.Telephones {
		b.WriteString(`<div class="al-repository-contact-`)
		b.WriteString(html.EscapeString(phone.NumberType))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(phone.Number))
		b.WriteString("</div>")
	}

	if contact.Email != "" {
		email := html.EscapeString(contact.Email)

		b.WriteString(`<div class="al-repository-contact-info"><a href="mailto:`)
		b.WriteString(email)
		b.WriteString(`">`)
		b.WriteString(email)
		b.WriteString("</a></div>")
	}

	return b.String()
}

// locationHTML renders the street address block: building, address line,
// then "city, region postcode, country" on one line.
func locationHTML(contact aspace.AgentContact) string {
	var b strings.Builder

	if contact.Address1 != "" {
		b.WriteString(`<div class="al-repository-street-address-building">`)
		b.WriteString(html.EscapeString(contact.Address1))
		b.WriteString("</div>")
	}

	if contact.Address2 != "" {
		b.WriteString(`<div class="al-repository-street-address-address1">`)
		b.WriteString(html.EscapeString(contact.Address2))
		b.WriteString("</div>")
	}

	var parts []string

	if contact.City != "" {
		parts = append(parts, contact.City)
	}

	if contact.Region != "" {
		region := contact.Region
		if contact.PostCode != "" {
			region += " " + contact.PostCode
		}

		parts = append(parts, region)
	}

	if contact.Country != "" {
		parts = append(parts, contact.Country)
	}

	if len(parts) > 0 {
		b.WriteString(`<div class="al-repository-street-address-city_state_zip_country">`)
		b.WriteString(html.EscapeString(strings.Join(parts, ", ")))
		b.WriteString("</div>")
	}

	return b.String()
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}

	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(content)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)

		if writeErr != nil {
			return fmt.Errorf("write %s: %w", path, writeErr)
		}

		return fmt.Errorf("close %s: %w", path, closeErr)
	}

	chmodErr := os.Chmod(tmpPath, filePerm)
	if chmodErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("chmod %s: %w", path, chmodErr)
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("replace %s: %w", path, renameErr)
	}

	return nil
}
