package json2ubl

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/beevik/etree"
)

// UBL component namespaces
const (
	CACNamespace = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	CBCNamespace = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	EXTNamespace = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
)

// typePrefixes maps the conventional UBL type prefixes to namespaces
var typePrefixes = map[string]string{
	"cac": CACNamespace,
	"cbc": CBCNamespace,
	"ext": EXTNamespace,
}

// Serializer rebuilds namespaced UBL XML from a mapped Document
type Serializer struct {
	MaxDepth int
	logger   *slog.Logger
}

// NewSerializer creates a serializer with the default depth ceiling
func NewSerializer(logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{MaxDepth: DefaultMaxMappingDepth, logger: logger}
}

// Serialize builds the XML tree for doc. Elements are emitted in schema
// order whatever the key order of doc.
func (s *Serializer) Serialize(doc Document, schema *SchemaCache) (*etree.Document, error) {
	if schema == nil || schema.Elements.Len() == 0 {
		return nil, NewError(CodeSerialization, "schema has no elements", nil)
	}
	if schema.RootElementName == "" {
		return nil, NewError(CodeSerialization, "schema has no root element name", nil)
	}

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := out.CreateElement(schema.RootElementName)
	root.CreateAttr("xmlns", schema.RootNamespace)
	root.CreateAttr("xmlns:cac", CACNamespace)
	root.CreateAttr("xmlns:cbc", CBCNamespace)

	w := &serializeWalk{
		serializer: s,
		root:       root,
		prefixes: map[string]string{
			schema.RootNamespace: "",
			CACNamespace:         "cac",
			CBCNamespace:         "cbc",
		},
	}
	if currency, ok := doc["documentcurrencycode"]; ok && currency != nil {
		w.currency = formatScalar(currency)
	}

	w.writeLevel(root, doc, schema.Elements, schema.RootNamespace, 0)
	return out, nil
}

// SerializeToString serializes doc as an indented XML string with an
// XML declaration
func (s *Serializer) SerializeToString(doc Document, schema *SchemaCache) (string, error) {
	out, err := s.Serialize(doc, schema)
	if err != nil {
		return "", err
	}
	out.Indent(2)
	xml, err := out.WriteToString()
	if err != nil {
		return "", NewError(CodeSerialization, "failed to write XML", err)
	}
	return xml, nil
}

// serializeWalk carries the state of one Serialize call
type serializeWalk struct {
	serializer *Serializer
	root       *etree.Element
	prefixes   map[string]string
	currency   string
	generated  int
}

// writeLevel appends the children of parent described by level
func (w *serializeWalk) writeLevel(parent *etree.Element, data map[string]any, level *ElementMap, parentNS string, depth int) {
	if depth > w.serializer.MaxDepth {
		w.serializer.logger.Warn("serialization depth limit reached, truncating", "element", parent.Tag, "depth", depth)
		return
	}
	if level.Len() == 0 {
		w.serializer.logger.Warn("no schema for nested element, skipping", "element", parent.Tag)
		return
	}

	values := make(map[string]any, len(data))
	for _, key := range sortedKeys(data) {
		lk := strings.ToLower(key)
		if _, seen := values[lk]; !seen {
			values[lk] = data[key]
		}
	}

	for key, spec := range level.All() {
		value, ok := values[key]
		if !ok {
			continue
		}
		w.writeField(parent, spec, value, parentNS, depth)
	}
}

// writeField emits one schema field. A failure is logged and the field
// skipped.
func (w *serializeWalk) writeField(parent *etree.Element, spec *ElementSpec, value any, parentNS string, depth int) {
	defer func() {
		if r := recover(); r != nil {
			w.serializer.logger.Warn("failed to serialize field", "field", spec.Name, "error", fmt.Sprint(r))
		}
	}()

	ns := namespaceFor(spec, parentNS)

	items, isList := value.([]any)
	if !isList {
		items = []any{value}
	}

	for _, item := range items {
		if item == nil {
			if spec.IsRequired() {
				parent.AddChild(w.newElement(spec, ns))
			}
			continue
		}
		el, err := w.buildElement(spec, item, ns, depth)
		if err != nil {
			w.serializer.logger.Warn("failed to serialize field", "field", spec.Name, "error", err)
			continue
		}
		parent.AddChild(el)
	}
}

// buildElement builds a detached element for one value
func (w *serializeWalk) buildElement(spec *ElementSpec, value any, ns string, depth int) (*etree.Element, error) {
	el := w.newElement(spec, ns)

	switch v := value.(type) {
	case AttributedScalar:
		el.SetText(formatScalar(v.Value))
		w.applyAttributes(el, spec, v.Attributes)
	case *AttributedScalar:
		el.SetText(formatScalar(v.Value))
		w.applyAttributes(el, spec, v.Attributes)
	case Document:
		return w.buildObject(el, spec, v, ns, depth)
	case map[string]any:
		return w.buildObject(el, spec, v, ns, depth)
	case []any:
		return nil, fmt.Errorf("nested list for %s", spec.Name)
	default:
		el.SetText(formatScalar(v))
		w.applyAttributes(el, spec, nil)
	}

	return el, nil
}

func (w *serializeWalk) buildObject(el *etree.Element, spec *ElementSpec, obj map[string]any, ns string, depth int) (*etree.Element, error) {
	if spec.HasNested() {
		w.writeLevel(el, obj, spec.Nested, ns, depth+1)
		return el, nil
	}

	// Leaf given an object: value key for text, declared attributes
	attrs := make(map[string]string)
	for _, key := range sortedKeys(obj) {
		lk := strings.ToLower(key)
		if lk == "value" || lk == "_value" {
			el.SetText(formatScalar(obj[key]))
			continue
		}
		if attr, ok := spec.Attribute(key); ok && obj[key] != nil {
			attrs[attr.Name] = formatScalar(obj[key])
		}
	}
	w.applyAttributes(el, spec, attrs)
	return el, nil
}

// applyAttributes writes declared attributes in name order. A declared
// currencyID falls back to the document currency.
func (w *serializeWalk) applyAttributes(el *etree.Element, spec *ElementSpec, values map[string]string) {
	if !spec.HasAttributes() && len(values) == 0 {
		return
	}

	names := make([]string, 0, len(values))
	for name := range values {
		if _, ok := spec.Attribute(name); !ok {
			w.serializer.logger.Warn("undeclared attribute, skipping", "element", spec.Name, "attribute", name)
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		el.CreateAttr(name, values[name])
	}

	if currency, ok := spec.Attribute("currencyid"); ok && w.currency != "" {
		if el.SelectAttr(currency.Name) == nil {
			el.CreateAttr(currency.Name, w.currency)
		}
	}
}

// newElement creates a detached element in ns
func (w *serializeWalk) newElement(spec *ElementSpec, ns string) *etree.Element {
	prefix := w.prefixFor(ns)
	if prefix == "" {
		return etree.NewElement(spec.Name)
	}
	return etree.NewElement(prefix + ":" + spec.Name)
}

// prefixFor returns the prefix bound to ns, declaring a new one on the
// root element when needed
func (w *serializeWalk) prefixFor(ns string) string {
	if prefix, ok := w.prefixes[ns]; ok {
		return prefix
	}
	prefix := ""
	for p, uri := range typePrefixes {
		if uri == ns {
			prefix = p
		}
	}
	if prefix == "" {
		w.generated++
		prefix = fmt.Sprintf("ns%d", w.generated)
	}
	w.root.CreateAttr("xmlns:"+prefix, ns)
	w.prefixes[ns] = prefix
	return prefix
}

// namespaceFor resolves the namespace of an element: the compiled
// namespace, then the prefix of its declared type, then the parent's
func namespaceFor(spec *ElementSpec, parentNS string) string {
	if spec.Namespace != "" {
		return spec.Namespace
	}
	if prefix, _, ok := strings.Cut(spec.Type, ":"); ok {
		if ns, known := typePrefixes[prefix]; known {
			return ns
		}
	}
	return parentNS
}
