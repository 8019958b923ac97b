package json2ubl

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentflare-ai/go-xmldom"
)

// SchemaLoader loads XSD documents and follows their imports and
// includes. Parsed documents are kept across calls so the shared UBL
// component libraries are read once per loader.
type SchemaLoader struct {
	// Base directory for resolving relative paths
	BaseDir string

	// Parsed documents by absolute location
	loaded map[string]*SchemaDocument

	// Resolved import/include locations per document
	deps map[string][]string

	// Documents currently being loaded (for cycle detection)
	loading map[string]bool

	logger *slog.Logger
	mu     sync.Mutex
}

// SchemaSet is the closure of a main schema document over its imports,
// includes and any extra documents requested by the caller. Documents
// holds Main first, then the rest in load order.
type SchemaSet struct {
	Main      *SchemaDocument
	Documents []*SchemaDocument
}

// NewSchemaLoader creates a new schema loader
func NewSchemaLoader(baseDir string, logger *slog.Logger) *SchemaLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaLoader{
		BaseDir: baseDir,
		loaded:  make(map[string]*SchemaDocument),
		deps:    make(map[string][]string),
		loading: make(map[string]bool),
		logger:  logger,
	}
}

// Load loads location and everything it imports or includes. Extra
// locations are loaded as well; a failing extra is logged and skipped.
func (sl *SchemaLoader) Load(location string, extras ...string) (*SchemaSet, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	mainLocation := sl.resolveLocation(location)
	main, err := sl.loadRecursive(mainLocation)
	if err != nil {
		return nil, err
	}

	roots := []string{mainLocation}
	for _, extra := range extras {
		extraLocation := sl.resolveLocation(extra)
		if _, err := sl.loadRecursive(extraLocation); err != nil {
			sl.logger.Warn("failed to load shared schema", "location", extra, "error", err)
			continue
		}
		roots = append(roots, extraLocation)
	}

	set := &SchemaSet{Main: main}
	seen := make(map[string]bool)
	var walk func(loc string)
	walk = func(loc string) {
		if seen[loc] {
			return
		}
		seen[loc] = true
		if doc, ok := sl.loaded[loc]; ok {
			set.Documents = append(set.Documents, doc)
		}
		for _, dep := range sl.deps[loc] {
			walk(dep)
		}
	}
	for _, root := range roots {
		walk(root)
	}

	return set, nil
}

// loadRecursive loads a schema and processes its imports/includes
func (sl *SchemaLoader) loadRecursive(location string) (*SchemaDocument, error) {
	if doc, ok := sl.loaded[location]; ok {
		return doc, nil
	}

	if sl.loading[location] {
		return nil, fmt.Errorf("circular dependency detected: %s", location)
	}

	sl.loading[location] = true
	defer delete(sl.loading, location)

	doc, err := sl.loadDocument(location)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema from %s: %w", location, err)
	}

	schema, err := ParseSchemaDocument(doc, location)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema from %s: %w", location, err)
	}

	sl.loaded[location] = schema

	var deps []string
	for _, imp := range schema.Imports {
		if imp.SchemaLocation == "" {
			continue
		}
		impLocation := sl.resolveRelative(imp.SchemaLocation, location)
		if sl.loading[impLocation] {
			// Mutual imports are legal; the document is already on the stack
			deps = append(deps, impLocation)
			continue
		}
		if _, err := sl.loadRecursive(impLocation); err != nil {
			// Import failures are non-fatal
			sl.logger.Warn("failed to import schema", "location", imp.SchemaLocation, "from", location, "error", err)
			continue
		}
		deps = append(deps, impLocation)
	}

	for _, include := range schema.Includes {
		incLocation := sl.resolveRelative(include, location)
		if sl.loading[incLocation] {
			deps = append(deps, incLocation)
			continue
		}
		if _, err := sl.loadRecursive(incLocation); err != nil {
			delete(sl.loaded, location)
			return nil, fmt.Errorf("failed to include %s: %w", include, err)
		}
		deps = append(deps, incLocation)
	}

	sl.deps[location] = deps
	return schema, nil
}

// resolveLocation resolves a location to an absolute path
func (sl *SchemaLoader) resolveLocation(location string) string {
	if filepath.IsAbs(location) {
		return filepath.Clean(location)
	}
	if sl.BaseDir != "" {
		location = filepath.Join(sl.BaseDir, location)
	}
	if abs, err := filepath.Abs(location); err == nil {
		return abs
	}
	return filepath.Clean(location)
}

// resolveRelative resolves a relative location based on a base location
func (sl *SchemaLoader) resolveRelative(relative, base string) string {
	if filepath.IsAbs(relative) {
		return filepath.Clean(relative)
	}
	return filepath.Join(filepath.Dir(base), filepath.FromSlash(relative))
}

// loadDocument loads an XML document from a file
func (sl *SchemaLoader) loadDocument(location string) (xmldom.Document, error) {
	file, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", location, err)
	}
	defer file.Close()

	doc, err := xmldom.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	return doc, nil
}

// documentsFor returns the documents whose target namespace is ns, main
// document first
func (s *SchemaSet) documentsFor(ns string) []*SchemaDocument {
	var docs []*SchemaDocument
	for _, doc := range s.Documents {
		if doc.TargetNamespace == ns {
			docs = append(docs, doc)
		}
	}
	return docs
}

// lookup searches the documents declaring q's namespace, then falls back
// to a local-name search across every document in the set
func lookup[T any](s *SchemaSet, q QName, table func(*SchemaDocument) map[string]T) (T, bool) {
	for _, doc := range s.documentsFor(q.Namespace) {
		if v, ok := table(doc)[q.Local]; ok {
			return v, true
		}
	}
	for _, doc := range s.Documents {
		if v, ok := table(doc)[q.Local]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// LookupElement finds a global element declaration
func (s *SchemaSet) LookupElement(q QName) (*ElementDecl, bool) {
	return lookup(s, q, func(d *SchemaDocument) map[string]*ElementDecl { return d.Elements })
}

// LookupComplexType finds a named complex type
func (s *SchemaSet) LookupComplexType(q QName) (*ComplexType, bool) {
	if q.Namespace == XSDNamespace {
		return nil, false
	}
	return lookup(s, q, func(d *SchemaDocument) map[string]*ComplexType { return d.ComplexTypes })
}

// LookupGroup finds a named model group
func (s *SchemaSet) LookupGroup(q QName) (*ModelGroup, bool) {
	return lookup(s, q, func(d *SchemaDocument) map[string]*ModelGroup { return d.Groups })
}

// LookupAttributeGroup finds a named attribute group
func (s *SchemaSet) LookupAttributeGroup(q QName) (*AttributeGroup, bool) {
	return lookup(s, q, func(d *SchemaDocument) map[string]*AttributeGroup { return d.AttributeGroups })
}

// ResolveComplexType resolves a type reference to a complex type. UBL
// names elements and their types alike apart from a "Type" suffix, so a
// failed lookup is retried with the suffix appended.
func (s *SchemaSet) ResolveComplexType(q QName) (*ComplexType, bool) {
	if q.IsZero() || q.Namespace == XSDNamespace {
		return nil, false
	}
	if ct, ok := s.LookupComplexType(q); ok {
		return ct, true
	}
	if !strings.HasSuffix(q.Local, "Type") {
		return s.LookupComplexType(QName{Namespace: q.Namespace, Local: q.Local + "Type"})
	}
	return nil, false
}

// ResolveParticle resolves an element particle to the declaration that
// carries its name and type. Referenced elements resolve to their global
// declaration; an unresolvable reference yields a synthetic declaration
// named after the reference.
func (s *SchemaSet) ResolveParticle(decl *ElementDecl) *ElementDecl {
	if decl.Ref.IsZero() {
		return decl
	}
	if global, ok := s.LookupElement(decl.Ref); ok {
		return global
	}
	return &ElementDecl{
		Name:      decl.Ref.Local,
		Type:      decl.Ref,
		TypeRaw:   decl.RefRaw,
		MinOcc:    decl.MinOcc,
		MaxOcc:    decl.MaxOcc,
		Namespace: decl.Ref.Namespace,
	}
}
