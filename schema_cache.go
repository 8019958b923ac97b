package json2ubl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/moby/sys/atomicwriter"
)

// SchemaCache is the compiled, depth-bounded shape of one document type
type SchemaCache struct {
	DocumentTypeMapping map[string]string `json:"_document_type_mapping,omitempty"`
	RootElementName     string            `json:"root_element_name"`
	RootNamespace       string            `json:"root_namespace"`
	Elements            *ElementMap       `json:"elements"`
}

// ElementSpec describes one element of the compiled tree
type ElementSpec struct {
	Name      string                   `json:"name"`
	Type      string                   `json:"type"`
	Namespace string                   `json:"namespace,omitempty"`
	MinOccurs string                   `json:"minOccurs"`
	MaxOccurs string                   `json:"maxOccurs"`
	Nested    *ElementMap              `json:"nested_elements,omitempty"`
	Attrs     map[string]AttributeSpec `json:"_attributes,omitempty"`
}

// AttributeSpec describes an XML attribute carried by a leaf element
type AttributeSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// IsArray reports array semantics: unbounded or an explicit maximum
// above one
func (e *ElementSpec) IsArray() bool {
	if e.MaxOccurs == "unbounded" {
		return true
	}
	n, err := strconv.Atoi(e.MaxOccurs)
	return err == nil && n > 1
}

// IsRequired reports whether minOccurs is at least one
func (e *ElementSpec) IsRequired() bool {
	n, err := strconv.Atoi(e.MinOccurs)
	return err == nil && n >= 1
}

// HasNested reports whether the element is an aggregate
func (e *ElementSpec) HasNested() bool {
	return e.Nested.Len() > 0
}

// HasAttributes reports whether the element declares XML attributes
func (e *ElementSpec) HasAttributes() bool {
	return len(e.Attrs) > 0
}

// Attribute looks up a declared attribute case-insensitively
func (e *ElementSpec) Attribute(name string) (AttributeSpec, bool) {
	attr, ok := e.Attrs[strings.ToLower(name)]
	return attr, ok
}

// primaryLeaf picks the child that receives a scalar supplied for an
// aggregate: the first required leaf, else a Name, ID or Value leaf.
func (e *ElementSpec) primaryLeaf() (string, *ElementSpec, bool) {
	if !e.HasNested() {
		return "", nil, false
	}
	for key, child := range e.Nested.All() {
		if child.IsRequired() && !child.HasNested() {
			return key, child, true
		}
	}
	for _, key := range []string{"name", "id", "value"} {
		if child, ok := e.Nested.Get(key); ok && !child.HasNested() {
			return key, child, true
		}
	}
	return "", nil, false
}

// ElementMap is an insertion-ordered map of lowercase element names to
// specs. Order is schema declaration order and drives serialization.
type ElementMap struct {
	keys  []string
	items map[string]*ElementSpec
}

// NewElementMap creates an empty map
func NewElementMap() *ElementMap {
	return &ElementMap{items: make(map[string]*ElementSpec)}
}

// Set inserts or replaces key. Replacing keeps the original position.
func (m *ElementMap) Set(key string, spec *ElementSpec) {
	key = strings.ToLower(key)
	if _, ok := m.items[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.items[key] = spec
}

// Get looks key up case-insensitively
func (m *ElementMap) Get(key string) (*ElementSpec, bool) {
	if m == nil {
		return nil, false
	}
	spec, ok := m.items[strings.ToLower(key)]
	return spec, ok
}

// Keys returns the keys in declaration order
func (m *ElementMap) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries; a nil map is empty
func (m *ElementMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// All iterates entries in declaration order
func (m *ElementMap) All() iter.Seq2[string, *ElementSpec] {
	return func(yield func(string, *ElementSpec) bool) {
		if m == nil {
			return
		}
		for _, key := range m.keys {
			if !yield(key, m.items[key]) {
				return
			}
		}
	}
}

// MarshalJSON writes the entries as a JSON object in declaration order
func (m *ElementMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.items[key])
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping its key order
func (m *ElementMap) UnmarshalJSON(data []byte) error {
	m.keys = nil
	m.items = make(map[string]*ElementSpec)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("elements: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("elements: expected key, got %v", tok)
		}
		var spec ElementSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("element %s: %w", key, err)
		}
		m.Set(key, &spec)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// Lookup finds a root-level element case-insensitively
func (c *SchemaCache) Lookup(key string) (*ElementSpec, bool) {
	return c.Elements.Get(key)
}

// CacheFilePath returns the cache file for a document type in dir
func CacheFilePath(dir, docType string) string {
	return filepath.Join(dir, docType+"_schema_cache.json")
}

// SaveFile writes the cache atomically
func (c *SchemaCache) SaveFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode schema cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schema cache %s: %w", path, err)
	}
	return nil
}

// LoadSchemaCacheFile reads a persisted cache
func LoadSchemaCacheFile(path string) (*SchemaCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c SchemaCache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode schema cache %s: %w", path, err)
	}
	return &c, nil
}
