package json2ubl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

// DocumentResult is the outcome for one logical document
type DocumentResult struct {
	ID               string         `json:"id"`
	DocumentType     string         `json:"document_type,omitempty"`
	XML              string         `json:"xml,omitempty"`
	File             string         `json:"file,omitempty"`
	UnmappedFields   []string       `json:"unmapped_fields"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	Error            *ErrorResponse `json:"error,omitempty"`

	rootTag string
}

// Summary aggregates a conversion call
type Summary struct {
	TotalInputs   int            `json:"total_inputs"`
	FilesCreated  int            `json:"files_created"`
	Failed        int            `json:"failed"`
	DocumentTypes map[string]int `json:"document_types"`
	JSONFile      string         `json:"json_file,omitempty"`
	OutputDir     string         `json:"output_dir,omitempty"`
}

// Result is returned by every conversion entry point. ErrorResponse is
// set when the call as a whole failed.
type Result struct {
	Documents     []DocumentResult `json:"documents"`
	Summary       Summary          `json:"summary"`
	ErrorResponse *ErrorResponse   `json:"error_response"`
}

// Converter turns JSON documents into UBL XML
type Converter struct {
	cfg        Config
	registry   *Registry
	mapper     *Mapper
	serializer *Serializer
	validator  *Validator
	output     *OutputWriter
	logger     *slog.Logger
}

// NewConverter wires a converter from cfg
func NewConverter(cfg Config, logger *slog.Logger) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiler := NewCompiler(cfg.SchemaRoot, cfg.MaxSchemaDepth, logger)
	return &Converter{
		cfg:        cfg,
		registry:   NewRegistry(compiler, cfg.CacheDir, cfg.PersistCache, logger),
		mapper:     NewMapper(logger),
		serializer: NewSerializer(logger),
		validator:  NewValidator(cfg.SchemaRoot, cfg.Validation, logger),
		output:     NewOutputWriter(logger),
		logger:     logger,
	}, nil
}

// Registry exposes the schema cache registry
func (c *Converter) Registry() *Registry {
	return c.registry
}

// Validator exposes the schema validator
func (c *Converter) Validator() *Validator {
	return c.validator
}

// ConvertOne converts a single JSON document
func (c *Converter) ConvertOne(ctx context.Context, doc map[string]any) (*Result, error) {
	result := &Result{Summary: Summary{TotalInputs: 1, DocumentTypes: map[string]int{}}}

	if err := ctx.Err(); err != nil {
		result.ErrorResponse = ResponseFor(err)
		return result, err
	}

	dr, err := c.convertDocument(doc)
	if err != nil {
		result.ErrorResponse = ResponseFor(err)
		result.Summary.Failed = 1
		return result, err
	}

	result.Documents = []DocumentResult{dr}
	result.Summary.DocumentTypes = map[string]int{dr.DocumentType: 1}
	return result, nil
}

// ConvertBatchFromFile reads a JSON file holding one document or an
// array of documents, groups pages by id, merges each group and
// converts it. A failing document is reported in its result and does
// not stop the others.
func (c *Converter) ConvertBatchFromFile(ctx context.Context, path string) (*Result, error) {
	result := &Result{Summary: Summary{JSONFile: path, DocumentTypes: map[string]int{}}}

	records, err := ReadRecords(path)
	if err != nil {
		result.ErrorResponse = ResponseFor(err)
		return result, err
	}

	groups, skipped := GroupPages(records)
	for _, i := range skipped {
		c.logger.Warn("record has no id, skipping", "file", path, "index", i)
	}

	docs, err := runOrdered(ctx, c.cfg.Workers, groups, func(_ context.Context, _ int, g PageGroup) (DocumentResult, error) {
		return c.convertGroup(g), nil
	})
	if err != nil {
		result.ErrorResponse = ResponseFor(err)
		return result, err
	}

	result.Documents = docs
	result.Summary = summarize(docs, path)
	return result, nil
}

// ConvertBatchToFiles converts a JSON file and writes one XML file per
// converted document into outputDir. Returned documents carry the file
// path instead of the XML. If any file cannot be written, the files
// already written by this call are removed.
func (c *Converter) ConvertBatchToFiles(ctx context.Context, path, outputDir string) (*Result, error) {
	if err := c.output.EnsureWritable(outputDir); err != nil {
		result := &Result{Summary: Summary{JSONFile: path, OutputDir: outputDir, DocumentTypes: map[string]int{}}}
		result.ErrorResponse = ResponseFor(err)
		return result, err
	}

	result, err := c.ConvertBatchFromFile(ctx, path)
	result.Summary.OutputDir = outputDir
	if err != nil {
		return result, err
	}

	var (
		files []pendingFile
		owner []int
	)
	for i, dr := range result.Documents {
		if dr.Error != nil {
			continue
		}
		files = append(files, pendingFile{
			Name: OutputFileName(path, dr.ID, dr.rootTag),
			Data: []byte(dr.XML),
		})
		owner = append(owner, i)
	}

	written, err := c.output.WriteAll(outputDir, files)
	if err != nil {
		result.ErrorResponse = ResponseFor(err)
		result.Summary.FilesCreated = 0
		for i := range result.Documents {
			result.Documents[i].XML = ""
		}
		return result, err
	}

	for n, i := range owner {
		result.Documents[i].File = written[n]
	}
	for i := range result.Documents {
		result.Documents[i].XML = ""
	}
	result.Summary.FilesCreated = len(written)
	return result, nil
}

// convertGroup merges and converts one page group, capturing failures
func (c *Converter) convertGroup(g PageGroup) DocumentResult {
	dr := DocumentResult{ID: g.ID, UnmappedFields: []string{}}

	doc := g.Pages[0]
	if len(g.Pages) > 1 {
		var schema *SchemaCache
		if docType, err := ResolveDocumentType(firstDocumentType(g.Pages)); err == nil {
			schema, _ = c.registry.Get(docType)
		}
		merged, err := MergePages(g.Pages, schema)
		if err != nil {
			dr.Error = ResponseFor(NewError(CodeMapping, "failed to merge pages", err))
			return dr
		}
		doc = merged
	}

	converted, err := c.convertDocument(doc)
	if err != nil {
		c.logger.Error("document conversion failed", "document_id", g.ID, "error", err)
		dr.Error = ResponseFor(err)
		return dr
	}
	return converted
}

// convertDocument runs resolve, map, serialize and validate for one
// document
func (c *Converter) convertDocument(raw map[string]any) (DocumentResult, error) {
	id := formatScalar(lookupFold(raw, "id"))
	dr := DocumentResult{ID: id, UnmappedFields: []string{}}

	docType, err := ResolveDocumentType(lookupFold(raw, DocumentTypeKey))
	if err != nil {
		return dr, err
	}
	dr.DocumentType = docType

	schema, err := c.registry.Get(docType)
	if err != nil {
		return dr, err
	}

	mapped, dropped, err := c.mapper.MapAs(raw, schema, docType)
	if err != nil {
		return dr, err
	}
	if len(dropped) > 0 {
		c.logger.Warn("dropped unmapped fields", "document_id", id, "document_type", docType, "fields", dropped)
		dr.UnmappedFields = dropped
	}

	xml, err := c.serializer.SerializeToString(mapped, schema)
	if err != nil {
		return dr, err
	}
	dr.XML = xml
	dr.rootTag = schema.RootElementName

	validation, err := c.validator.Check(docType, id, xml)
	switch {
	case err == nil:
		dr.ValidationErrors = validation.Messages()
	case errors.Is(err, ErrValidation):
		return dr, err
	default:
		c.logger.Warn("schema validation unavailable", "document_type", docType, "error", err)
		dr.ValidationErrors = []string{err.Error()}
	}

	return dr, nil
}

func summarize(docs []DocumentResult, jsonFile string) Summary {
	s := Summary{TotalInputs: len(docs), JSONFile: jsonFile, DocumentTypes: map[string]int{}}
	for _, d := range docs {
		if d.Error != nil {
			s.Failed++
			continue
		}
		s.DocumentTypes[d.DocumentType]++
	}
	return s
}

func firstDocumentType(pages []map[string]any) any {
	for _, p := range pages {
		if v := lookupFold(p, DocumentTypeKey); v != nil {
			return v
		}
	}
	return nil
}

// ReadRecords reads a JSON file holding one object or an array of
// objects
func ReadRecords(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, NewError(CodePermission, "cannot read input file", err).WithDetail("path", path)
		}
		return nil, NewError(CodeFile, "cannot read input file", err).WithDetail("path", path)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var record map[string]any
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return nil, NewError(CodeFile, "invalid JSON input", err).WithDetail("path", path)
		}
		return []map[string]any{record}, nil
	}

	var records []map[string]any
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, NewError(CodeFile, "invalid JSON input: expected an object or an array of objects", err).
			WithDetail("path", path)
	}
	return records, nil
}
