package json2ubl

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/mitchellh/copystructure"
)

// DefaultMaxMappingDepth bounds recursion in the mapper and serializer
const DefaultMaxMappingDepth = 50

// DocumentTypeKey is the control field carrying the document type
const DocumentTypeKey = "document_type"

// systemKeys are consumed by the caller and never reported as dropped
var systemKeys = map[string]bool{
	DocumentTypeKey: true,
	"annotations":   true,
	"_metadata":     true,
}

// Document is the mapped form of one input document. Keys are lowercase
// schema element names. Values are nil, scalars, AttributedScalar,
// nested Documents or []any of those.
type Document map[string]any

// DocumentType returns the resolved document type name
func (d Document) DocumentType() string {
	s, _ := d[DocumentTypeKey].(string)
	return s
}

// AttributedScalar is a leaf value with XML attributes, such as an
// amount with its currency. Attributes are keyed by the declared
// attribute name.
type AttributedScalar struct {
	Value      any
	Attributes map[string]string
}

// MarshalJSON renders the value the way it is accepted on input
func (a AttributedScalar) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(a.Attributes)+1)
	for k, v := range a.Attributes {
		m[k] = v
	}
	m["value"] = a.Value
	return json.Marshal(m)
}

// Mapper projects raw JSON onto the shape of a SchemaCache
type Mapper struct {
	MaxDepth int
	logger   *slog.Logger
}

// NewMapper creates a mapper with the default depth ceiling
func NewMapper(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{MaxDepth: DefaultMaxMappingDepth, logger: logger}
}

// Map resolves the document_type of raw and maps it against schema.
// The second result lists the input paths that had no place in the
// schema.
func (m *Mapper) Map(raw map[string]any, schema *SchemaCache) (Document, []string, error) {
	docType, err := ResolveDocumentType(lookupFold(raw, DocumentTypeKey))
	if err != nil {
		return nil, nil, err
	}
	return m.MapAs(raw, schema, docType)
}

// MapAs maps raw against schema for an already resolved document type
func (m *Mapper) MapAs(raw map[string]any, schema *SchemaCache, docType string) (doc Document, dropped []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, dropped = nil, nil
			err = NewError(CodeMapping, "unexpected failure while mapping fields", fmt.Errorf("%v", r)).
				WithDetail("document_type", docType)
		}
	}()

	if schema == nil || schema.Elements.Len() == 0 {
		return nil, nil, NewError(CodeMapping, fmt.Sprintf("no schema elements for %s", docType), nil)
	}

	copied, err := copystructure.Copy(raw)
	if err != nil {
		return nil, nil, NewError(CodeMapping, "failed to copy input document", err)
	}
	input, _ := copied.(map[string]any)

	w := &mapWalk{mapper: m}
	doc = w.mapLevel(input, schema.Elements, "", 0)
	doc[DocumentTypeKey] = docType

	slices.Sort(w.dropped)
	return doc, w.dropped, nil
}

// mapWalk carries the state of one Map call
type mapWalk struct {
	mapper  *Mapper
	dropped []string
}

func (w *mapWalk) drop(path string) {
	w.dropped = append(w.dropped, path)
}

// mapLevel maps one JSON object against one level of the schema.
// Direct key matches are placed first; keys that only match inside a
// single-valued child aggregate are placed there afterwards.
func (w *mapWalk) mapLevel(data map[string]any, level *ElementMap, path string, depth int) Document {
	out := make(Document)
	if depth > w.mapper.MaxDepth {
		w.mapper.logger.Warn("mapping depth limit reached, truncating", "path", path, "depth", depth)
		return out
	}

	keys := sortedKeys(data)
	var pending []string

	for _, key := range keys {
		if systemKeys[strings.ToLower(key)] {
			continue
		}
		schemaKey, spec, ok := resolveElement(level, key)
		if !ok {
			pending = append(pending, key)
			continue
		}
		childPath := joinPath(path, key)
		if _, dup := out[schemaKey]; dup {
			w.drop(childPath)
			continue
		}
		if v, keep := w.mapValue(spec, data[key], childPath, depth); keep {
			out[schemaKey] = v
		}
	}

	for _, key := range pending {
		childPath := joinPath(path, key)
		wrapperKey, wrapper, ok := findWrapper(level, key)
		if !ok {
			w.drop(childPath)
			continue
		}

		inner, isDoc := out[wrapperKey].(Document)
		if _, exists := out[wrapperKey]; exists && !isDoc {
			w.drop(childPath)
			continue
		}
		if inner == nil {
			inner = make(Document)
		}

		schemaKey, spec, _ := resolveElement(wrapper.Nested, key)
		if _, dup := inner[schemaKey]; dup {
			w.drop(childPath)
			continue
		}
		if v, keep := w.mapValue(spec, data[key], childPath, depth+1); keep {
			inner[schemaKey] = v
			out[wrapperKey] = inner
		}
	}

	return out
}

// mapValue applies the cardinality of spec to v. keep is false when the
// field should be omitted.
func (w *mapWalk) mapValue(spec *ElementSpec, v any, path string, depth int) (any, bool) {
	list, isList := v.([]any)

	if spec.IsArray() {
		if !isList {
			if v == nil {
				return nil, true
			}
			list = []any{v}
		}
		items := make([]any, 0, len(list))
		for i, item := range list {
			items = append(items, w.mapItem(spec, item, fmt.Sprintf("%s[%d]", path, i), depth))
		}
		return items, true
	}

	if isList {
		if len(list) == 0 {
			return nil, false
		}
		v = list[0]
	}
	return w.mapItem(spec, v, path, depth), true
}

// mapItem maps a single value for spec
func (w *mapWalk) mapItem(spec *ElementSpec, v any, path string, depth int) any {
	switch v := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if spec.HasNested() {
			return w.mapLevel(v, spec.Nested, path, depth+1)
		}
		return w.attributed(spec, v, path)
	case []any:
		return v
	default:
		if spec.HasNested() {
			if key, _, ok := spec.primaryLeaf(); ok {
				return Document{key: v}
			}
		}
		return v
	}
}

// attributed converts an object supplied for a leaf. Keys other than
// the value and declared attributes are dropped.
func (w *mapWalk) attributed(spec *ElementSpec, obj map[string]any, path string) any {
	as := AttributedScalar{Attributes: make(map[string]string)}
	for _, key := range sortedKeys(obj) {
		lk := strings.ToLower(key)
		if lk == "value" || lk == "_value" {
			as.Value = obj[key]
			continue
		}
		attr, ok := spec.Attribute(key)
		if !ok {
			attr, ok = spec.Attribute(stripSeparators(lk))
		}
		if !ok {
			w.drop(joinPath(path, key))
			continue
		}
		if obj[key] != nil {
			as.Attributes[attr.Name] = formatScalar(obj[key])
		}
	}
	return as
}

// resolveElement matches an input key against one schema level: exact
// (case-insensitive), then without separators, then singular forms.
func resolveElement(level *ElementMap, key string) (string, *ElementSpec, bool) {
	lk := strings.ToLower(key)
	if spec, ok := level.Get(lk); ok {
		return lk, spec, true
	}
	stripped := stripSeparators(lk)
	if spec, ok := level.Get(stripped); ok {
		return stripped, spec, true
	}
	for _, candidate := range singularForms(stripped) {
		if spec, ok := level.Get(candidate); ok {
			return candidate, spec, true
		}
	}
	return "", nil, false
}

// findWrapper finds the single non-repeating aggregate of level that
// declares key. Ambiguous keys are not placed.
func findWrapper(level *ElementMap, key string) (string, *ElementSpec, bool) {
	var (
		found     string
		foundSpec *ElementSpec
		count     int
	)
	for name, spec := range level.All() {
		if spec.IsArray() || !spec.HasNested() {
			continue
		}
		if _, _, ok := resolveElement(spec.Nested, key); ok {
			found, foundSpec = name, spec
			count++
		}
	}
	if count != 1 {
		return "", nil, false
	}
	return found, foundSpec, true
}

func stripSeparators(s string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// singularForms returns candidate singulars of a lowercase plural
func singularForms(s string) []string {
	var forms []string
	switch {
	case strings.HasSuffix(s, "ies") && len(s) > 3:
		forms = append(forms, s[:len(s)-3]+"y")
	case strings.HasSuffix(s, "sses"), strings.HasSuffix(s, "xes"),
		strings.HasSuffix(s, "ches"), strings.HasSuffix(s, "shes"):
		forms = append(forms, s[:len(s)-2])
	}
	if strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss") && len(s) > 1 {
		forms = append(forms, s[:len(s)-1])
	}
	return forms
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// lookupFold returns the value of key in m, matching case-insensitively
func lookupFold(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for _, k := range sortedKeys(m) {
		if strings.EqualFold(k, key) {
			return m[k]
		}
	}
	return nil
}

// formatScalar renders a JSON scalar as XML text
func formatScalar(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case AttributedScalar:
		return formatScalar(v.Value)
	default:
		return fmt.Sprint(v)
	}
}
