// Package export turns source records into staged index-ready documents:
// EAD finding aids with woven creator biographies, and standalone creator
// documents for qualifying agents.
package export

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Sumatoshi-tech/arcflow/internal/aspace"
)

// ErrNoEADID indicates a staged document carries no eadid element, so no
// index identifier can be derived from it.
var ErrNoEADID = errors.New("no eadid element")

// archdescClose marks the injection point for bioghist fragments: the
// fragments belong inside the archival description, directly before its
// closing tag.
const archdescClose = "</archdesc>"

const eadClose = "</ead>"

// escaper handles plain-text values interpolated into document markup.
// Quotes stay literal: values are only ever placed in element content.
var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeText escapes a plain-text value for safe interpolation into
// element content. Structured EAD markup must never pass through here.
func EscapeText(value string) string {
	return escaper.Replace(value)
}

// SanitizeEADID normalizes an EAD identifier for use as an index document
// id: dots become dashes ("mss.0017" -> "mss-0017").
func SanitizeEADID(eadID string) string {
	return strings.ReplaceAll(eadID, ".", "-")
}

// BioghistFragment renders one creator biography as an EAD bioghist
// element. The agent title is plain text and is escaped; subnote content
// is already EAD markup and passes through untouched. Notes without a
// persistent id are skipped: the fragment id must be stable across runs.
func BioghistFragment(agentTitle string, note *aspace.Note) string {
	if note == nil || note.PersistentID == "" {
		return ""
	}

	var b strings.Builder

	b.WriteString(`<bioghist id="`)
	b.WriteString(EscapeText(note.PersistentID))
	b.WriteString("\">\n")
	b.WriteString("<head>")
	b.WriteString(EscapeText(agentTitle))
	b.WriteString("</head>\n")

	for _, subnote := range note.Subnotes {
		for _, line := range strings.Split(subnote.Content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			b.WriteString("<p>")
			b.WriteString(line)
			b.WriteString("</p>\n")
		}
	}

	b.WriteString("</bioghist>")

	return b.String()
}

// InjectBioghists splices bioghist fragments into an exported EAD, inside
// the archival description. Returns the document unchanged when there is
// nothing to inject.
func InjectBioghists(ead []byte, fragments []string) []byte {
	if len(fragments) == 0 {
		return ead
	}

	block := []byte(strings.Join(fragments, "\n") + "\n")

	marker := []byte(archdescClose)

	idx := bytes.LastIndex(ead, marker)
	if idx < 0 {
		marker = []byte(eadClose)

		idx = bytes.LastIndex(ead, marker)
		if idx < 0 {
			return ead
		}
	}

	injected := make([]byte, 0, len(ead)+len(block))
	injected = append(injected, ead[:idx]...)
	injected = append(injected, block...)
	injected = append(injected, ead[idx:]...)

	return injected
}

// EADIDFromReader streams the document until the first eadid element and
// returns its text content.
func EADIDFromReader(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false

	inEADID := false

	var id strings.Builder

	for {
		token, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return "", fmt.Errorf("parse ead: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "eadid" {
				inEADID = true
			}
		case xml.EndElement:
			if t.Name.Local == "eadid" {
				value := strings.TrimSpace(id.String())
				if value == "" {
					return "", ErrNoEADID
				}

				return value, nil
			}
		case xml.CharData:
			if inEADID {
				id.Write(t)
			}
		}
	}

	return "", ErrNoEADID
}

// EADIDFromFile reads the eadid from a staged EAD file. Used by the
// reconciler to recover the index identifier for deletion.
func EADIDFromFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open staged ead: %w", err)
	}
	defer file.Close()

	return EADIDFromReader(file)
}
