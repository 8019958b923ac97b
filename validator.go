package json2ubl

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/agentflare-ai/go-xmldom"
	xsdvalidate "github.com/jacoelho/xsd"
)

// ValidationPolicy decides what happens when generated XML does not
// conform to its schema
type ValidationPolicy string

const (
	// ValidationOff skips validation
	ValidationOff ValidationPolicy = "off"
	// ValidationWarn logs problems and attaches them to the result
	ValidationWarn ValidationPolicy = "warn"
	// ValidationStrict fails the document with a ValidationError
	ValidationStrict ValidationPolicy = "strict"
)

// ParseValidationPolicy parses a policy name; empty means warn
func ParseValidationPolicy(s string) (ValidationPolicy, error) {
	switch p := ValidationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ValidationWarn, nil
	case ValidationOff, ValidationWarn, ValidationStrict:
		return p, nil
	default:
		return "", fmt.Errorf("unknown validation policy %q", s)
	}
}

// ValidationResult is the outcome of validating one document
type ValidationResult struct {
	Valid       bool         `json:"valid"`
	Skipped     bool         `json:"skipped,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Messages returns the diagnostics as one-line strings
func (r ValidationResult) Messages() []string {
	if len(r.Diagnostics) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		msgs = append(msgs, d.String())
	}
	return msgs
}

// Validator checks generated XML against the UBL main schemas. Each
// document type's schema is compiled once and shared.
type Validator struct {
	SchemaRoot string
	Policy     ValidationPolicy

	mu      sync.RWMutex
	schemas map[string]*validatorEntry
	logger  *slog.Logger
}

type validatorEntry struct {
	once   sync.Once
	schema *xsdvalidate.Schema
	err    error
}

// NewValidator creates a validator for the schemas under schemaRoot
func NewValidator(schemaRoot string, policy ValidationPolicy, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = ValidationWarn
	}
	return &Validator{
		SchemaRoot: schemaRoot,
		Policy:     policy,
		schemas:    make(map[string]*validatorEntry),
		logger:     logger,
	}
}

// Validate checks xml against the main schema of docType. With the off
// policy it returns a skipped result. A schema that cannot be loaded is
// reported as a SchemaError.
func (v *Validator) Validate(docType, xml string) (ValidationResult, error) {
	if v.Policy == ValidationOff {
		return ValidationResult{Valid: true, Skipped: true}, nil
	}

	schema, err := v.schema(docType)
	if err != nil {
		return ValidationResult{}, err
	}

	if err := schema.Validate(strings.NewReader(xml)); err != nil {
		return ValidationResult{Diagnostics: DiagnosticsFrom(err)}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// Check validates and applies the policy: strict turns problems into a
// ValidationError, warn logs them
func (v *Validator) Check(docType, docID, xml string) (ValidationResult, error) {
	result, err := v.Validate(docType, xml)
	if err != nil {
		return result, err
	}
	if result.Valid {
		return result, nil
	}

	if v.Policy == ValidationStrict {
		return result, NewError(CodeValidation, fmt.Sprintf("document %s does not conform to the %s schema", docID, docType), nil).
			WithDetail("document_id", docID).
			WithDetail("errors", result.Messages())
	}

	for _, d := range result.Diagnostics {
		v.logger.Warn("schema validation failed", "document_id", docID, "document_type", docType, "error", d.String())
	}
	return result, nil
}

func (v *Validator) schema(docType string) (*xsdvalidate.Schema, error) {
	v.mu.RLock()
	entry, exists := v.schemas[docType]
	v.mu.RUnlock()

	if !exists {
		v.mu.Lock()
		entry, exists = v.schemas[docType]
		if !exists {
			entry = &validatorEntry{}
			v.schemas[docType] = entry
		}
		v.mu.Unlock()
	}

	entry.once.Do(func() {
		location := path.Join("maindoc", "UBL-"+docType+"-2.1.xsd")
		entry.schema, entry.err = xsdvalidate.LoadWithOptions(os.DirFS(v.SchemaRoot), location, xsdvalidate.NewLoadOptions())
		if entry.err != nil {
			entry.err = NewError(CodeSchema, fmt.Sprintf("failed to load validation schema for %s", docType), entry.err).
				WithDetail("path", location)
		}
	})

	return entry.schema, entry.err
}

// RootElementName returns the local name of the root element of an XML
// document, which for UBL is the document type
func RootElementName(xml []byte) (string, error) {
	doc, err := xmldom.NewDecoderFromBytes(xml).Decode()
	if err != nil {
		return "", NewError(CodeValidation, "failed to parse XML", err)
	}
	root := doc.DocumentElement()
	if root == nil {
		return "", NewError(CodeValidation, "no root element", nil)
	}
	return string(root.LocalName()), nil
}
