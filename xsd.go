package json2ubl

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agentflare-ai/go-xmldom"
)

// XSDNamespace is the XML Schema namespace
const XSDNamespace = "http://www.w3.org/2001/XMLSchema"

// XMLNSNamespace is the namespace reserved for namespace declarations
const XMLNSNamespace = "http://www.w3.org/2000/xmlns/"

// QName represents a qualified name
type QName struct {
	Namespace string
	Local     string
}

func (q QName) String() string {
	if q.Namespace == "" {
		return q.Local
	}
	return "{" + q.Namespace + "}" + q.Local
}

// IsZero reports whether the name is unset
func (q QName) IsZero() bool {
	return q.Local == ""
}

// SchemaDocument is the parsed form of a single XSD file. Components are
// keyed by local name; every component of a document lives in its
// target namespace.
type SchemaDocument struct {
	Location        string
	TargetNamespace string

	// Prefixes maps namespace prefixes declared on xs:schema to URIs.
	// The default namespace is stored under "".
	Prefixes map[string]string

	Elements        map[string]*ElementDecl
	ComplexTypes    map[string]*ComplexType
	SimpleTypes     map[string]*SimpleType
	Groups          map[string]*ModelGroup
	AttributeGroups map[string]*AttributeGroup

	Imports  []Import
	Includes []string
}

// Import represents an xs:import
type Import struct {
	Namespace      string
	SchemaLocation string
}

// Particle is a member of a content model
type Particle interface {
	isParticle()
}

// ElementDecl is a global element or a local element particle. Local
// particles either carry a Name or a Ref to a global element.
type ElementDecl struct {
	Name    string
	Ref     QName
	RefRaw  string
	Type    QName
	TypeRaw string
	MinOcc  int
	MaxOcc  int // -1 for unbounded
	Inline  *ComplexType

	// Namespace of the declaring document
	Namespace string
}

// ModelGroupKind represents the kind of model group
type ModelGroupKind string

const (
	SequenceGroup ModelGroupKind = "sequence"
	ChoiceGroup   ModelGroupKind = "choice"
	AllGroup      ModelGroupKind = "all"
)

// ModelGroup is an xs:sequence, xs:choice or xs:all
type ModelGroup struct {
	Kind      ModelGroupKind
	MinOcc    int
	MaxOcc    int
	Particles []Particle
}

// GroupRef references a named model group
type GroupRef struct {
	Ref    QName
	MinOcc int
	MaxOcc int
}

// AnyElement is an xs:any wildcard
type AnyElement struct {
	Namespace       string
	ProcessContents string
	MinOcc          int
	MaxOcc          int
}

func (*ElementDecl) isParticle() {}
func (*ModelGroup) isParticle()  {}
func (*GroupRef) isParticle()    {}
func (*AnyElement) isParticle()  {}

// DerivationKind is extension or restriction
type DerivationKind string

const (
	ExtensionDerivation   DerivationKind = "extension"
	RestrictionDerivation DerivationKind = "restriction"
)

// Derivation is the extension or restriction inside simpleContent or
// complexContent
type Derivation struct {
	Kind            DerivationKind
	Base            QName
	BaseRaw         string
	Content         Particle
	Attributes      []*AttributeDecl
	AttributeGroups []QName
}

// ComplexType represents an xs:complexType
type ComplexType struct {
	Name            QName
	Content         Particle
	SimpleContent   *Derivation
	ComplexContent  *Derivation
	Attributes      []*AttributeDecl
	AttributeGroups []QName
}

// SimpleType only records the name and base; facets are left to the
// validator.
type SimpleType struct {
	Name QName
	Base QName
}

// AttributeUse represents attribute usage
type AttributeUse string

const (
	OptionalUse   AttributeUse = "optional"
	RequiredUse   AttributeUse = "required"
	ProhibitedUse AttributeUse = "prohibited"
)

// AttributeDecl represents an attribute declaration
type AttributeDecl struct {
	Name    string
	Ref     QName
	Type    QName
	TypeRaw string
	Use     AttributeUse
}

// AttributeGroup represents a named attribute group
type AttributeGroup struct {
	Name            QName
	Attributes      []*AttributeDecl
	AttributeGroups []QName
}

// ParseSchemaFile reads and parses one XSD file
func ParseSchemaFile(filename string) (*SchemaDocument, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	doc, err := xmldom.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse XML file: %w", err)
	}

	return ParseSchemaDocument(doc, filename)
}

// ParseSchemaDocument parses an XSD schema from an XML document
func ParseSchemaDocument(doc xmldom.Document, location string) (*SchemaDocument, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}

	root := doc.DocumentElement()
	if root == nil {
		return nil, fmt.Errorf("no root element")
	}

	if string(root.NamespaceURI()) != XSDNamespace || string(root.LocalName()) != "schema" {
		return nil, fmt.Errorf("not an XSD schema document")
	}

	s := &SchemaDocument{
		Location:        location,
		TargetNamespace: string(root.GetAttribute("targetNamespace")),
		Prefixes:        make(map[string]string),
		Elements:        make(map[string]*ElementDecl),
		ComplexTypes:    make(map[string]*ComplexType),
		SimpleTypes:     make(map[string]*SimpleType),
		Groups:          make(map[string]*ModelGroup),
		AttributeGroups: make(map[string]*AttributeGroup),
	}

	attrs := root.Attributes()
	for i := uint(0); i < attrs.Length(); i++ {
		attr := attrs.Item(i)
		if attr == nil {
			continue
		}
		if prefix, ok := namespaceDeclaration(attr); ok {
			s.Prefixes[prefix] = string(attr.NodeValue())
		}
	}

	children := root.Children()
	for i := uint(0); i < children.Length(); i++ {
		child := children.Item(i)
		if child == nil || string(child.NamespaceURI()) != XSDNamespace {
			continue
		}

		switch string(child.LocalName()) {
		case "element":
			if decl := s.parseElement(child); decl != nil && decl.Name != "" {
				s.Elements[decl.Name] = decl
			}
		case "complexType":
			if ct := s.parseComplexType(child); ct != nil && ct.Name.Local != "" {
				s.ComplexTypes[ct.Name.Local] = ct
			}
		case "simpleType":
			if name := string(child.GetAttribute("name")); name != "" {
				s.SimpleTypes[name] = s.parseSimpleType(child, name)
			}
		case "group":
			s.parseGroup(child)
		case "attributeGroup":
			s.parseAttributeGroup(child)
		case "import":
			s.Imports = append(s.Imports, Import{
				Namespace:      string(child.GetAttribute("namespace")),
				SchemaLocation: string(child.GetAttribute("schemaLocation")),
			})
		case "include":
			if loc := string(child.GetAttribute("schemaLocation")); loc != "" {
				s.Includes = append(s.Includes, loc)
			}
		}
	}

	return s, nil
}

func (s *SchemaDocument) parseElement(elem xmldom.Element) *ElementDecl {
	decl := &ElementDecl{
		Name:      string(elem.GetAttribute("name")),
		MinOcc:    parseOccurs(elem, "minOccurs", 1),
		MaxOcc:    parseOccurs(elem, "maxOccurs", 1),
		Namespace: s.TargetNamespace,
	}

	if ref := string(elem.GetAttribute("ref")); ref != "" {
		decl.RefRaw = ref
		decl.Ref = s.parseQName(ref)
	}
	if typeName := string(elem.GetAttribute("type")); typeName != "" {
		decl.TypeRaw = typeName
		decl.Type = s.parseQName(typeName)
	}

	if decl.Name == "" && decl.Ref.IsZero() {
		return nil
	}

	children := elem.Children()
	for i := uint(0); i < children.Length(); i++ {
		child := children.Item(i)
		if child == nil || string(child.NamespaceURI()) != XSDNamespace {
			continue
		}
		if string(child.LocalName()) == "complexType" {
			decl.Inline = s.parseComplexType(child)
		}
	}

	return decl
}

func (s *SchemaDocument) parseComplexType(elem xmldom.Element) *ComplexType {
	ct := &ComplexType{}
	if name := string(elem.GetAttribute("name")); name != "" {
		ct.Name = QName{Namespace: s.TargetNamespace, Local: name}
	}

	children := elem.Children()
	for i := uint(0); i < children.Length(); i++ {
		child := children.Item(i)
		if child == nil || string(child.NamespaceURI()) != XSDNamespace {
			continue
		}

		switch string(child.LocalName()) {
		case "simpleContent":
			ct.SimpleContent = s.parseDerivation(child)
		case "complexContent":
			ct.ComplexContent = s.parseDerivation(child)
		case "sequence", "choice", "all":
			ct.Content = s.parseModelGroup(child)
		case "group":
			if ref := string(child.GetAttribute("ref")); ref != "" {
				ct.Content = &GroupRef{
					Ref:    s.parseQName(ref),
					MinOcc: parseOccurs(child, "minOccurs", 1),
					MaxOcc: parseOccurs(child, "maxOccurs", 1),
				}
			}
		case "attribute":
			if attr := s.parseAttribute(child); attr != nil {
				ct.Attributes = append(ct.Attributes, attr)
			}
		case "attributeGroup":
			if ref := string(child.GetAttribute("ref")); ref != "" {
				ct.AttributeGroups = append(ct.AttributeGroups, s.parseQName(ref))
			}
		}
	}

	return ct
}

// parseDerivation reads the extension or restriction child of a
// simpleContent or complexContent element
func (s *SchemaDocument) parseDerivation(elem xmldom.Element) *Derivation {
	children := elem.Children()
	for i := uint(0); i < children.Length(); i++ {
		child := children.Item(i)
		if child == nil || string(child.NamespaceURI()) != XSDNamespace {
			continue
		}

		kind := DerivationKind(child.LocalName())
		if kind != ExtensionDerivation && kind != RestrictionDerivation {
			continue
		}

		d := &Derivation{
			Kind:    kind,
			BaseRaw: string(child.GetAttribute("base")),
		}
		d.Base = s.parseQName(d.BaseRaw)

		grandchildren := child.Children()
		for j := uint(0); j < grandchildren.Length(); j++ {
			gc := grandchildren.Item(j)
			if gc == nil || string(gc.NamespaceURI()) != XSDNamespace {
				continue
			}

			switch string(gc.LocalName()) {
			case "attribute":
				if attr := s.parseAttribute(gc); attr != nil {
					d.Attributes = append(d.Attributes, attr)
				}
			case "attributeGroup":
				if ref := string(gc.GetAttribute("ref")); ref != "" {
					d.AttributeGroups = append(d.AttributeGroups, s.parseQName(ref))
				}
			case "sequence", "choice", "all":
				d.Content = s.parseModelGroup(gc)
			case "group":
				if ref := string(gc.GetAttribute("ref")); ref != "" {
					d.Content = &GroupRef{
						Ref:    s.parseQName(ref),
						MinOcc: parseOccurs(gc, "minOccurs", 1),
						MaxOcc: parseOccurs(gc, "maxOccurs", 1),
					}
				}
			}
		}
		return d
	}
	return nil
}

func (s *SchemaDocument) parseModelGroup(elem xmldom.Element) *ModelGroup {
	mg := &ModelGroup{
		Kind:   ModelGroupKind(elem.LocalName()),
		MinOcc: parseOccurs(elem, "minOccurs", 1),
		MaxOcc: parseOccurs(elem, "maxOccurs", 1),
	}

	children := elem.Children()
	for i := uint(0); i < children.Length(); i++ {
		child := children.Item(i)
		if child == nil || string(child.NamespaceURI()) != XSDNamespace {
			continue
		}

		switch string(child.LocalName()) {
		case "element":
			if decl := s.parseElement(child); decl != nil {
				mg.Particles = append(mg.Particles, decl)
			}
		case "group":
			if ref := string(child.GetAttribute("ref")); ref != "" {
				mg.Particles = append(mg.Particles, &GroupRef{
					Ref:    s.parseQName(ref),
					MinOcc: parseOccurs(child, "minOccurs", 1),
					MaxOcc: parseOccurs(child, "maxOccurs", 1),
				})
			}
		case "sequence", "choice", "all":
			mg.Particles = append(mg.Particles, s.parseModelGroup(child))
		case "any":
			mg.Particles = append(mg.Particles, &AnyElement{
				Namespace:       string(child.GetAttribute("namespace")),
				ProcessContents: string(child.GetAttribute("processContents")),
				MinOcc:          parseOccurs(child, "minOccurs", 1),
				MaxOcc:          parseOccurs(child, "maxOccurs", 1),
			})
		}
	}

	return mg
}

func (s *SchemaDocument) parseSimpleType(elem xmldom.Element, name string) *SimpleType {
	st := &SimpleType{Name: QName{Namespace: s.TargetNamespace, Local: name}}

	children := elem.Children()
	for i := uint(0); i < children.Length(); i++ {
		child := children.Item(i)
		if child == nil || string(child.NamespaceURI()) != XSDNamespace {
			continue
		}
		if string(child.LocalName()) == "restriction" {
			st.Base = s.parseQName(string(child.GetAttribute("base")))
		}
	}

	return st
}

func (s *SchemaDocument) parseAttribute(elem xmldom.Element) *AttributeDecl {
	attr := &AttributeDecl{
		Name: string(elem.GetAttribute("name")),
		Use:  OptionalUse,
	}

	if ref := string(elem.GetAttribute("ref")); ref != "" {
		attr.Ref = s.parseQName(ref)
		if attr.Name == "" {
			attr.Name = attr.Ref.Local
		}
	}
	if attr.Name == "" {
		return nil
	}

	if use := string(elem.GetAttribute("use")); use != "" {
		attr.Use = AttributeUse(use)
	}

	if typeName := string(elem.GetAttribute("type")); typeName != "" {
		attr.TypeRaw = typeName
		attr.Type = s.parseQName(typeName)
	}

	return attr
}

func (s *SchemaDocument) parseAttributeGroup(elem xmldom.Element) {
	name := string(elem.GetAttribute("name"))
	if name == "" {
		return
	}

	ag := &AttributeGroup{Name: QName{Namespace: s.TargetNamespace, Local: name}}

	children := elem.Children()
	for i := uint(0); i < children.Length(); i++ {
		child := children.Item(i)
		if child == nil || string(child.NamespaceURI()) != XSDNamespace {
			continue
		}

		switch string(child.LocalName()) {
		case "attribute":
			if attr := s.parseAttribute(child); attr != nil {
				ag.Attributes = append(ag.Attributes, attr)
			}
		case "attributeGroup":
			if ref := string(child.GetAttribute("ref")); ref != "" {
				ag.AttributeGroups = append(ag.AttributeGroups, s.parseQName(ref))
			}
		}
	}

	s.AttributeGroups[name] = ag
}

func (s *SchemaDocument) parseGroup(elem xmldom.Element) {
	name := string(elem.GetAttribute("name"))
	if name == "" {
		return
	}

	children := elem.Children()
	for i := uint(0); i < children.Length(); i++ {
		child := children.Item(i)
		if child == nil || string(child.NamespaceURI()) != XSDNamespace {
			continue
		}

		switch string(child.LocalName()) {
		case "sequence", "choice", "all":
			s.Groups[name] = s.parseModelGroup(child)
			return
		}
	}
}

// parseQName resolves a prefixed name against the namespace
// declarations of the document
func (s *SchemaDocument) parseQName(name string) QName {
	if name == "" {
		return QName{}
	}

	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		if ns, declared := s.Prefixes[""]; declared {
			return QName{Namespace: ns, Local: name}
		}
		return QName{Namespace: s.TargetNamespace, Local: name}
	}

	if ns, declared := s.Prefixes[prefix]; declared {
		return QName{Namespace: ns, Local: local}
	}

	if prefix == "xs" || prefix == "xsd" {
		return QName{Namespace: XSDNamespace, Local: local}
	}

	// Undeclared prefix: assume the target namespace
	return QName{Namespace: s.TargetNamespace, Local: local}
}

// namespaceDeclaration reports whether attr declares a namespace and the
// prefix it binds ("" for the default namespace). The decoder reports
// xmlns:p either in the xmlns namespace with local name p or under its
// raw qualified name.
func namespaceDeclaration(attr xmldom.Node) (string, bool) {
	name := string(attr.NodeName())
	if name == "xmlns" {
		return "", true
	}
	if strings.HasPrefix(name, "xmlns:") {
		return strings.TrimPrefix(name, "xmlns:"), true
	}
	ns := string(attr.NamespaceURI())
	if ns == "xmlns" || ns == XMLNSNamespace || string(attr.Prefix()) == "xmlns" {
		if local := string(attr.LocalName()); local != "" {
			return local, true
		}
		return name, name != ""
	}
	return "", false
}

// parseOccurs parses minOccurs/maxOccurs attributes
func parseOccurs(elem xmldom.Element, attr string, defaultValue int) int {
	value := string(elem.GetAttribute(xmldom.DOMString(attr)))
	if value == "" {
		return defaultValue
	}
	if value == "unbounded" {
		return -1
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return defaultValue
}
