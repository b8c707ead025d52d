package ai

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const classificationSchema = `{
  "type": "object",
  "required": ["relevance_score", "category", "reason"],
  "properties": {
    "relevance_score": {"type": "number", "minimum": 1, "maximum": 10},
    "category": {"type": "string"},
    "reason": {"type": "string"},
    "key_requirements": {"type": ["array", "null"], "items": {"type": "string"}},
    "extracted_date": {"type": ["string", "null"]},
    "event_format": {"type": ["string", "null"]},
    "event_cost": {"type": ["string", "null"]},
    "city": {"type": ["string", "null"]},
    "sector": {"type": ["string", "null"]}
  }
}`

const linkSelectionSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["url"],
    "properties": {
      "url": {"type": "string"},
      "reason": {"type": ["string", "null"]}
    }
  }
}`

const eventsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "title": {"type": ["string", "null"]},
      "description": {"type": ["string", "null"]},
      "event_date": {"type": ["string", "null"]},
      "location": {"type": ["string", "null"]},
      "url": {"type": ["string", "null"]}
    }
  }
}`

const tenderSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": ["string", "null"]},
    "description": {"type": ["string", "null"]},
    "deadline": {"type": ["string", "null"]},
    "contracting_authority": {"type": ["string", "null"]},
    "estimated_value": {"type": ["number", "string", "null"]},
    "requirements": {"type": ["array", "null"], "items": {"type": "string"}},
    "url": {"type": ["string", "null"]}
  }
}`

const searchHitsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "url": {"type": ["string", "null"]},
      "title": {"type": ["string", "null"]},
      "snippet": {"type": ["string", "null"]},
      "type": {"type": ["string", "null"]}
    }
  }
}`

const searchPageSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string"},
    "title": {"type": ["string", "null"]},
    "description": {"type": ["string", "null"]},
    "deadline": {"type": ["string", "null"]},
    "contracting_authority": {"type": ["string", "null"]},
    "estimated_value": {"type": ["number", "string", "null"]},
    "location": {"type": ["string", "null"]},
    "country": {"type": ["string", "null"]}
  }
}`

const dateSchema = `{
  "type": "object",
  "required": ["confidence"],
  "properties": {
    "date": {"type": ["string", "null"]},
    "confidence": {"type": "string", "enum": ["high", "medium", "low", "none"]},
    "source_text": {"type": ["string", "null"]}
  }
}`

var (
	classificationValidator = mustSchema("classification", classificationSchema)
	linkSelectionValidator  = mustSchema("link_selection", linkSelectionSchema)
	eventsValidator         = mustSchema("events", eventsSchema)
	tenderValidator         = mustSchema("tender", tenderSchema)
	searchHitsValidator     = mustSchema("search_hits", searchHitsSchema)
	searchPageValidator     = mustSchema("search_page", searchPageSchema)
	dateValidator           = mustSchema("date", dateSchema)
)

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists the schema violations of one model response.
type ValidationError struct {
	Schema string
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s response failed validation: %s", e.Schema, strings.Join(msgs, "; "))
}

type schemaValidator struct {
	name   string
	schema *gojsonschema.Schema
}

func mustSchema(name, src string) *schemaValidator {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid %s schema: %v", name, err))
	}
	return &schemaValidator{name: name, schema: s}
}

func (v *schemaValidator) validate(doc []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%s response is not valid JSON: %w", v.name, err)
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Schema: v.name,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
