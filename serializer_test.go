package json2ubl

import (
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serializeFixture(t *testing.T, doc Document) *etree.Element {
	t.Helper()
	schema := compileFixture(t, "Invoice")
	xml, err := NewSerializer(quietLogger()).SerializeToString(doc, schema)
	require.NoError(t, err)

	parsed := etree.NewDocument()
	require.NoError(t, parsed.ReadFromString(xml))
	require.NotNil(t, parsed.Root())
	return parsed.Root()
}

func childTags(el *etree.Element) []string {
	var tags []string
	for _, child := range el.ChildElements() {
		tags = append(tags, child.FullTag())
	}
	return tags
}

func TestSerializeNamespacesAndOrder(t *testing.T) {
	root := serializeFixture(t, Document{
		DocumentTypeKey: "Invoice",
		"invoiceline": []any{Document{"id": "1"}},
		"issuedate":   "2024-01-01",
		"accountingsupplierparty": Document{
			"party": Document{"partyname": []any{Document{"name": "Acme"}}},
		},
		"id": "INV-1",
	})

	assert.Equal(t, "Invoice", root.Tag)
	assert.Equal(t, "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2", root.SelectAttrValue("xmlns", ""))
	assert.Equal(t, CACNamespace, root.SelectAttrValue("xmlns:cac", ""))
	assert.Equal(t, CBCNamespace, root.SelectAttrValue("xmlns:cbc", ""))
	assert.Nil(t, root.SelectAttr("xmlns:ext"), "ext is declared only when used")

	assert.Equal(t, []string{"cbc:ID", "cbc:IssueDate", "cac:AccountingSupplierParty", "cac:InvoiceLine"}, childTags(root),
		"children follow schema order")

	name := root.FindElement("./cac:AccountingSupplierParty/cac:Party/cac:PartyName/cbc:Name")
	require.NotNil(t, name)
	assert.Equal(t, "Acme", name.Text())
	assert.Equal(t, CBCNamespace, name.NamespaceURI())
}

func TestSerializeDeclaration(t *testing.T) {
	schema := compileFixture(t, "Invoice")
	xml, err := NewSerializer(quietLogger()).SerializeToString(Document{"id": "1"}, schema)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(xml, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, xml, "\n  <cbc:ID>1</cbc:ID>", "output is indented by two spaces")
}

func TestSerializeNulls(t *testing.T) {
	root := serializeFixture(t, Document{
		"id":      nil,
		"duedate": nil,
		"note":    []any{"kept", nil},
		"legalmonetarytotal": Document{
			"payableamount":      nil,
			"taxexclusiveamount": nil,
		},
	})

	id := root.SelectElement("ID")
	require.NotNil(t, id, "a required null is emitted empty")
	assert.Equal(t, "", id.Text())
	assert.Nil(t, root.SelectElement("DueDate"), "an optional null is omitted")
	assert.Len(t, root.SelectElements("Note"), 1)

	total := root.SelectElement("LegalMonetaryTotal")
	require.NotNil(t, total)
	assert.Equal(t, []string{"cbc:PayableAmount"}, childTags(total))
}

func TestSerializeScalarsAndAttributes(t *testing.T) {
	root := serializeFixture(t, Document{
		"documentcurrencycode": "EUR",
		"note":                 []any{true, 12.5, float64(100)},
		"legalmonetarytotal": Document{
			"payableamount":      float64(100),
			"taxinclusiveamount": AttributedScalar{Value: 120.5, Attributes: map[string]string{"currencyID": "USD"}},
			"taxexclusiveamount": map[string]any{"value": "90", "currencyID": "GBP", "bogus": "x"},
		},
		"invoiceline": []any{Document{
			"id":               "1",
			"invoicedquantity": AttributedScalar{Value: 3, Attributes: map[string]string{"unitCode": "EA"}},
		}},
	})

	var notes []string
	for _, n := range root.SelectElements("Note") {
		notes = append(notes, n.Text())
	}
	assert.Equal(t, []string{"true", "12.5", "100"}, notes)

	total := root.SelectElement("LegalMonetaryTotal")
	require.NotNil(t, total)

	payable := total.SelectElement("PayableAmount")
	assert.Equal(t, "100", payable.Text())
	assert.Equal(t, "EUR", payable.SelectAttrValue("currencyID", ""), "currencyID falls back to the document currency")

	inclusive := total.SelectElement("TaxInclusiveAmount")
	assert.Equal(t, "120.5", inclusive.Text())
	assert.Equal(t, "USD", inclusive.SelectAttrValue("currencyID", ""), "an explicit currency wins")

	exclusive := total.SelectElement("TaxExclusiveAmount")
	assert.Equal(t, "90", exclusive.Text())
	assert.Equal(t, "GBP", exclusive.SelectAttrValue("currencyID", ""))
	assert.Nil(t, exclusive.SelectAttr("bogus"), "undeclared attributes are not written")

	quantity := root.FindElement("./cac:InvoiceLine/cbc:InvoicedQuantity")
	require.NotNil(t, quantity)
	assert.Equal(t, "3", quantity.Text())
	assert.Equal(t, "EA", quantity.SelectAttrValue("unitCode", ""))
	assert.Nil(t, quantity.SelectAttr("currencyID"), "no currency on a quantity")
}

func TestSerializeExtensionNamespace(t *testing.T) {
	root := serializeFixture(t, Document{
		"ublextensions": Document{
			"ublextension": []any{Document{"id": "ext-1"}},
		},
		"id": "1",
	})

	assert.Equal(t, EXTNamespace, root.SelectAttrValue("xmlns:ext", ""))
	assert.Equal(t, []string{"ext:UBLExtensions", "cbc:ID"}, childTags(root))

	id := root.FindElement("./ext:UBLExtensions/ext:UBLExtension/cbc:ID")
	require.NotNil(t, id)
	assert.Equal(t, "ext-1", id.Text())
}

func TestSerializeSkipsBadFields(t *testing.T) {
	root := serializeFixture(t, Document{
		"id":   "1",
		"note": []any{[]any{"nested"}, "ok"},
	})

	var notes []string
	for _, n := range root.SelectElements("Note") {
		notes = append(notes, n.Text())
	}
	assert.Equal(t, []string{"ok"}, notes, "a nested list is skipped without failing the document")
}

func TestSerializeDepthLimit(t *testing.T) {
	schema := compileFixture(t, "Invoice")
	s := NewSerializer(quietLogger())
	s.MaxDepth = 0

	out, err := s.Serialize(Document{
		"id":                      "1",
		"accountingsupplierparty": Document{"party": Document{"websiteuri": "x"}},
	}, schema)
	require.NoError(t, err)

	supplier := out.Root().SelectElement("AccountingSupplierParty")
	require.NotNil(t, supplier)
	assert.Empty(t, supplier.ChildElements(), "levels past the limit are left empty")
}

func TestSerializeErrors(t *testing.T) {
	s := NewSerializer(quietLogger())

	_, err := s.Serialize(Document{"id": "1"}, nil)
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = s.Serialize(Document{"id": "1"}, &SchemaCache{Elements: NewElementMap()})
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestNamespaceFor(t *testing.T) {
	assert.Equal(t, "urn:explicit", namespaceFor(&ElementSpec{Namespace: "urn:explicit", Type: "cbc:ID"}, "urn:parent"))
	assert.Equal(t, CBCNamespace, namespaceFor(&ElementSpec{Type: "cbc:IDType"}, "urn:parent"))
	assert.Equal(t, "urn:parent", namespaceFor(&ElementSpec{Type: "xsd:string"}, "urn:parent"))
}
