package aspace

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidRecord indicates a fetched record failed schema validation.
// Classified as a per-item terminal condition: the record is reported and
// skipped, never indexed.
var ErrInvalidRecord = errors.New("invalid record")

// resourceSchema captures the fields the sync engine depends on. Records
// missing a uri or carrying wrongly-typed publication flags cannot be
// processed deterministically.
const resourceSchema = `{
	"type": "object",
	"required": ["uri"],
	"properties": {
		"uri": {"type": "string", "minLength": 1},
		"ead_id": {"type": "string"},
		"title": {"type": "string"},
		"publish": {"type": "boolean"},
		"suppressed": {"type": "boolean"},
		"system_mtime": {"type": "string"},
		"user_mtime": {"type": "string"},
		"linked_agents": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"role": {"type": "string"},
					"ref": {"type": "string"}
				}
			}
		}
	}
}`

const agentSchema = `{
	"type": "object",
	"required": ["uri"],
	"properties": {
		"uri": {"type": "string", "minLength": 1},
		"title": {"type": "string"},
		"publish": {"type": "boolean"},
		"is_user": {"type": "boolean"},
		"system_generated": {"type": "boolean"},
		"is_repo_agent": {"type": "boolean"},
		"notes": {"type": "array"}
	}
}`

// RecordValidator validates raw API payloads before they enter the
// pipeline.
type RecordValidator struct {
	resource *gojsonschema.Schema
	agent    *gojsonschema.Schema
}

// NewRecordValidator compiles the embedded schemas. The schemas are
// constants; compilation cannot fail at runtime.
func NewRecordValidator() *RecordValidator {
	resource, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(resourceSchema))
	if err != nil {
		panic(fmt.Sprintf("compile resource schema: %v", err))
	}

	agent, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(agentSchema))
	if err != nil {
		panic(fmt.Sprintf("compile agent schema: %v", err))
	}

	return &RecordValidator{resource: resource, agent: agent}
}

// ValidateResource checks a raw resource payload.
func (v *RecordValidator) ValidateResource(raw []byte) error {
	return validate(v.resource, raw)
}

// ValidateAgent checks a raw agent payload.
func (v *RecordValidator) ValidateAgent(raw []byte) error {
	return validate(v.agent, raw)
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]

	return fmt.Errorf("%w: %s", ErrInvalidRecord, first.String())
}
