package export

import (
	"strings"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
)

const xmlHeader = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"

// AgentIdentifier derives the stable staging/index identifier for an agent
// from its URI ("/agents/people/123" -> "agents_people_123"). Distinct
// agent families never collide. Returns "" when the URI is empty; such
// records are skipped, never given an invented identifier.
func AgentIdentifier(uri string) string {
	trimmed := strings.Trim(uri, "/")
	if trimmed == "" {
		return ""
	}

	return strings.ReplaceAll(trimmed, "/", "_")
}

// CreatorDocument renders a standalone creator document for an agent:
// identity, existence dates, biographical note, and the roles linking the
// agent to archival records. Returns nil when the agent carries no
// biographical note; such agents produce no output.
func CreatorDocument(agent *aspace.Agent) []byte {
	note := agent.Bioghist()
	if note == nil {
		return nil
	}

	var b strings.Builder

	b.WriteString(xmlHeader)
	b.WriteString(`<creator id="`)
	b.WriteString(EscapeText(AgentIdentifier(agent.URI)))
	b.WriteString("\">\n")

	b.WriteString("<name>")
	b.WriteString(EscapeText(agent.Title))
	b.WriteString("</name>\n")

	b.WriteString("<source>")
	b.WriteString(EscapeText(agent.URI))
	b.WriteString("</source>\n")

	for _, date := range agent.DatesOfExistence {
		expression := dateExpression(date)
		if expression == "" {
			continue
		}

		b.WriteString("<existdates>")
		b.WriteString(EscapeText(expression))
		b.WriteString("</existdates>\n")
	}

	if fragment := BioghistFragment(agent.Title, note); fragment != "" {
		b.WriteString(fragment)
		b.WriteString("\n")
	}

	if len(agent.LinkedAgentRoles) > 0 {
		b.WriteString("<roles>\n")

		for _, role := range agent.LinkedAgentRoles {
			b.WriteString("<role>")
			b.WriteString(EscapeText(role))
			b.WriteString("</role>\n")
		}

		b.WriteString("</roles>\n")
	}

	b.WriteString("</creator>\n")

	return []byte(b.String())
}

func dateExpression(date aspace.Date) string {
	if date.Expression != "" {
		return date.Expression
	}

	switch {
	case date.Begin != "" && date.End != "":
		return date.Begin + " - " + date.End
	case date.Begin != "":
		return date.Begin
	case date.End != "":
		return date.End
	default:
		return ""
	}
}
