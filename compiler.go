package json2ubl

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultMaxSchemaDepth bounds both the element expansion and the
// attribute base-type walk.
const DefaultMaxSchemaDepth = 7

// Compiler turns UBL XSD files into SchemaCache values. The schema root
// is laid out as UBL ships it: maindoc/UBL-<Type>-2.1.xsd next to
// common/*.xsd.
type Compiler struct {
	SchemaRoot string
	MaxDepth   int

	loader *SchemaLoader
	logger *slog.Logger
}

// NewCompiler creates a compiler for schemaRoot
func NewCompiler(schemaRoot string, maxDepth int, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxSchemaDepth
	}
	// Locations handed to the loader already carry the schema root
	return &Compiler{
		SchemaRoot: schemaRoot,
		MaxDepth:   maxDepth,
		loader:     NewSchemaLoader("", logger),
		logger:     logger,
	}
}

// MainSchemaPath returns the main XSD file for docType
func (c *Compiler) MainSchemaPath(docType string) string {
	return filepath.Join(c.SchemaRoot, "maindoc", "UBL-"+docType+"-2.1.xsd")
}

// DocumentTypes lists the document types with a main XSD under the
// schema root, sorted by name
func (c *Compiler) DocumentTypes() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.SchemaRoot, "maindoc", "UBL-*-2.1.xsd"))
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "UBL-"), "-2.1.xsd")
		if name != "" {
			types = append(types, name)
		}
	}
	sort.Strings(types)
	return types, nil
}

// Compile builds the SchemaCache for docType
func (c *Compiler) Compile(docType string) (*SchemaCache, error) {
	mainPath := c.MainSchemaPath(docType)
	if _, err := os.Stat(mainPath); err != nil {
		return nil, NewError(CodeSchema, fmt.Sprintf("no schema for document type %s", docType), err).
			WithDetail("path", mainPath)
	}

	shared, _ := filepath.Glob(filepath.Join(c.SchemaRoot, "common", "*.xsd"))
	set, err := c.loader.Load(mainPath, shared...)
	if err != nil {
		return nil, NewError(CodeSchema, fmt.Sprintf("failed to load schema for %s", docType), err).
			WithDetail("path", mainPath)
	}

	root, ok := set.Main.Elements[docType]
	if !ok {
		return nil, NewError(CodeSchema, fmt.Sprintf("schema has no root element %s", docType), nil).
			WithDetail("path", mainPath)
	}

	cache := &SchemaCache{
		DocumentTypeMapping: maps.Clone(documentTypeCodes),
		RootElementName:     root.Name,
		RootNamespace:       set.Main.TargetNamespace,
		Elements:            NewElementMap(),
	}

	ct := root.Inline
	if ct == nil {
		ct, _ = set.ResolveComplexType(root.Type)
	}
	if ct == nil {
		return nil, NewError(CodeSchema, fmt.Sprintf("cannot resolve type %s of root element %s", root.TypeRaw, docType), nil)
	}

	c.expandType(set, ct, map[string]bool{typeKey(ct): true}, 0, cache.Elements)

	c.logger.Debug("compiled schema", "document_type", docType, "root", cache.RootElementName, "elements", cache.Elements.Len())
	return cache, nil
}

// CompileAll compiles every document type under the schema root. Types
// that fail are logged and left out of the result.
func (c *Compiler) CompileAll() (map[string]*SchemaCache, error) {
	types, err := c.DocumentTypes()
	if err != nil {
		return nil, err
	}
	caches := make(map[string]*SchemaCache, len(types))
	for _, docType := range types {
		cache, err := c.Compile(docType)
		if err != nil {
			c.logger.Warn("failed to compile schema", "document_type", docType, "error", err)
			continue
		}
		caches[docType] = cache
	}
	return caches, nil
}

// occurrence is a flattened element particle with its effective bounds
type occurrence struct {
	decl   *ElementDecl
	minOcc int
	maxOcc int
}

// expandType fills out with the element children of ct. path holds the
// types on the current recursion path; each branch gets its own copy so
// exhaustion on one branch does not hide a type from its siblings.
func (c *Compiler) expandType(set *SchemaSet, ct *ComplexType, path map[string]bool, depth int, out *ElementMap) {
	var occs []occurrence
	for _, p := range c.contentParticles(set, ct, make(map[*ComplexType]bool)) {
		c.flatten(set, p, false, false, make(map[QName]bool), &occs)
	}

	for _, occ := range occs {
		spec := c.elementSpec(set, occ, path, depth)
		key := strings.ToLower(spec.Name)
		if _, dup := out.Get(key); dup {
			continue
		}
		out.Set(key, spec)
	}
}

func (c *Compiler) elementSpec(set *SchemaSet, occ occurrence, path map[string]bool, depth int) *ElementSpec {
	decl := set.ResolveParticle(occ.decl)

	spec := &ElementSpec{
		Name:      decl.Name,
		Type:      occ.decl.RefRaw,
		Namespace: decl.Namespace,
		MinOccurs: occursString(occ.minOcc),
		MaxOccurs: occursString(occ.maxOcc),
	}
	if spec.Type == "" {
		spec.Type = decl.TypeRaw
	}

	ct := decl.Inline
	if ct == nil {
		ct, _ = set.ResolveComplexType(decl.Type)
	}
	if ct == nil {
		// Simple or unresolvable type: opaque leaf
		return spec
	}

	if !c.hasElementContent(set, ct) {
		spec.Attrs = c.collectAttributes(set, ct)
		return spec
	}

	key := typeKey(ct)
	if path[key] {
		c.logger.Debug("schema cycle, treating as leaf", "element", spec.Name, "type", key)
		return spec
	}
	if depth+1 > c.MaxDepth {
		c.logger.Debug("schema depth limit reached", "element", spec.Name, "depth", depth+1)
		return spec
	}

	branch := maps.Clone(path)
	branch[key] = true
	nested := NewElementMap()
	c.expandType(set, ct, branch, depth+1, nested)
	if nested.Len() > 0 {
		spec.Nested = nested
	}
	return spec
}

// contentParticles returns the model groups that make up ct's element
// content. For complexContent extension the base content comes first.
func (c *Compiler) contentParticles(set *SchemaSet, ct *ComplexType, seen map[*ComplexType]bool) []Particle {
	if ct == nil || seen[ct] {
		return nil
	}
	seen[ct] = true

	if ct.Content != nil {
		return []Particle{ct.Content}
	}
	d := ct.ComplexContent
	if d == nil {
		return nil
	}

	var particles []Particle
	if d.Kind == ExtensionDerivation {
		if base, ok := set.ResolveComplexType(d.Base); ok {
			particles = append(particles, c.contentParticles(set, base, seen)...)
		}
	}
	if d.Content != nil {
		particles = append(particles, d.Content)
	}
	return particles
}

func (c *Compiler) hasElementContent(set *SchemaSet, ct *ComplexType) bool {
	if ct.SimpleContent != nil {
		return false
	}
	return len(c.contentParticles(set, ct, make(map[*ComplexType]bool))) > 0
}

// flatten walks nested model groups in document order. Members of a
// choice or an optional group become optional; members of a repeating
// group become unbounded.
func (c *Compiler) flatten(set *SchemaSet, p Particle, optional, repeated bool, groups map[QName]bool, out *[]occurrence) {
	switch p := p.(type) {
	case *ElementDecl:
		occ := occurrence{decl: p, minOcc: p.MinOcc, maxOcc: p.MaxOcc}
		if optional {
			occ.minOcc = 0
		}
		if repeated {
			occ.maxOcc = -1
		}
		*out = append(*out, occ)
	case *ModelGroup:
		opt := optional || p.Kind == ChoiceGroup || p.MinOcc == 0
		rep := repeated || p.MaxOcc != 1
		for _, child := range p.Particles {
			c.flatten(set, child, opt, rep, groups, out)
		}
	case *GroupRef:
		if groups[p.Ref] {
			return
		}
		mg, ok := set.LookupGroup(p.Ref)
		if !ok {
			c.logger.Warn("unresolved group reference", "group", p.Ref.String())
			return
		}
		groups[p.Ref] = true
		defer delete(groups, p.Ref)
		opt := optional || p.MinOcc == 0
		rep := repeated || p.MaxOcc != 1
		c.flatten(set, mg, opt, rep, groups, out)
	case *AnyElement:
		// Wildcards carry no named children
	}
}

// collectAttributes gathers the attributes of a simple-content type,
// walking the base chain through wrapper types until it reaches a
// built-in type. Attributes declared closer to ct win.
func (c *Compiler) collectAttributes(set *SchemaSet, ct *ComplexType) map[string]AttributeSpec {
	attrs := make(map[string]AttributeSpec)
	blocked := make(map[string]bool)
	visited := make(map[*ComplexType]bool)

	add := func(decls []*AttributeDecl) {
		for _, a := range decls {
			key := strings.ToLower(a.Name)
			if blocked[key] {
				continue
			}
			if a.Use == ProhibitedUse {
				blocked[key] = true
				continue
			}
			if _, ok := attrs[key]; ok {
				continue
			}
			attrs[key] = AttributeSpec{Name: a.Name, Type: a.TypeRaw}
		}
	}

	current := ct
	for step := 0; current != nil && step <= c.MaxDepth; step++ {
		if visited[current] {
			break
		}
		visited[current] = true

		add(current.Attributes)
		add(c.groupAttributes(set, current.AttributeGroups, make(map[QName]bool)))

		d := current.SimpleContent
		if d == nil {
			d = current.ComplexContent
		}
		if d == nil {
			break
		}
		add(d.Attributes)
		add(c.groupAttributes(set, d.AttributeGroups, make(map[QName]bool)))

		if d.Base.Namespace == XSDNamespace {
			break
		}
		current, _ = set.ResolveComplexType(d.Base)
	}

	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func (c *Compiler) groupAttributes(set *SchemaSet, refs []QName, seen map[QName]bool) []*AttributeDecl {
	var out []*AttributeDecl
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		ag, ok := set.LookupAttributeGroup(ref)
		if !ok {
			continue
		}
		out = append(out, ag.Attributes...)
		out = append(out, c.groupAttributes(set, ag.AttributeGroups, seen)...)
	}
	return out
}

func typeKey(ct *ComplexType) string {
	if ct.Name.IsZero() {
		return fmt.Sprintf("anonymous:%p", ct)
	}
	return ct.Name.String()
}

func occursString(n int) string {
	if n < 0 {
		return "unbounded"
	}
	return strconv.Itoa(n)
}
