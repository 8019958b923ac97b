package json2ubl

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invoicePage = `{
	"document_type": "380",
	"id": "INV-1",
	"issueDate": "2024-01-15",
	"documentCurrencyCode": "EUR",
	"accountingSupplierParty": {"partyName": "Acme"},
	"accountingCustomerParty": {"party": {"partyName": "Globex"}},
	"legalMonetaryTotal": {"payableAmount": 119},
	"invoiceLines": [{"id": "1", "lineExtensionAmount": 100, "item": {"name": "Widget"}}]
}`

func newTestConverter(t *testing.T, policy ValidationPolicy) *Converter {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SchemaRoot = testSchemaRoot
	cfg.CacheDir = t.TempDir()
	cfg.Validation = policy
	cfg.Workers = 2

	conv, err := NewConverter(cfg, quietLogger())
	require.NoError(t, err)
	return conv
}

func writeJSONFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConvertOne(t *testing.T) {
	conv := newTestConverter(t, ValidationStrict)
	doc := decodeJSON(t, invoicePage)
	doc["unexpected"] = "x"

	result, err := conv.ConvertOne(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Nil(t, result.ErrorResponse)
	assert.Equal(t, map[string]int{"Invoice": 1}, result.Summary.DocumentTypes)

	dr := result.Documents[0]
	assert.Equal(t, "INV-1", dr.ID)
	assert.Equal(t, "Invoice", dr.DocumentType)
	assert.Equal(t, []string{"unexpected"}, dr.UnmappedFields)
	assert.Empty(t, dr.ValidationErrors, "the generated XML conforms to the schema")

	xml := etree.NewDocument()
	require.NoError(t, xml.ReadFromString(dr.XML))
	name := xml.FindElement("//cac:AccountingSupplierParty/cac:Party/cac:PartyName/cbc:Name")
	require.NotNil(t, name)
	assert.Equal(t, "Acme", name.Text())

	amount := xml.FindElement("//cac:InvoiceLine/cbc:LineExtensionAmount")
	require.NotNil(t, amount)
	assert.Equal(t, "100", amount.Text())
	assert.Equal(t, "EUR", amount.SelectAttrValue("currencyID", ""))
}

func TestConvertOneFailures(t *testing.T) {
	conv := newTestConverter(t, ValidationOff)

	result, err := conv.ConvertOne(context.Background(), map[string]any{"id": "1", "document_type": "999"})
	require.Error(t, err)
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, "DocumentTypeError", result.ErrorResponse.ErrorCode)
	assert.Equal(t, 1, result.Summary.Failed)

	// Order is a known type without a schema in the fixture set
	result, err = conv.ConvertOne(context.Background(), map[string]any{"id": "1", "document_type": "220"})
	require.Error(t, err)
	assert.Equal(t, "SchemaError", result.ErrorResponse.ErrorCode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = conv.ConvertOne(ctx, decodeJSON(t, invoicePage))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvertStrictValidationFailure(t *testing.T) {
	conv := newTestConverter(t, ValidationStrict)
	doc := decodeJSON(t, invoicePage)
	delete(doc, "issueDate")

	result, err := conv.ConvertOne(context.Background(), doc)
	require.Error(t, err)
	assert.Equal(t, "ValidationError", result.ErrorResponse.ErrorCode)
	assert.Equal(t, "INV-1", result.ErrorResponse.Details["document_id"])
}

func TestConvertWarnValidationAttachesErrors(t *testing.T) {
	conv := newTestConverter(t, ValidationWarn)
	doc := decodeJSON(t, invoicePage)
	delete(doc, "issueDate")

	result, err := conv.ConvertOne(context.Background(), doc)
	require.NoError(t, err)
	dr := result.Documents[0]
	assert.NotEmpty(t, dr.XML)
	assert.NotEmpty(t, dr.ValidationErrors)
}

func TestConvertBatchMergesPages(t *testing.T) {
	conv := newTestConverter(t, ValidationOff)

	var page map[string]any
	require.NoError(t, json.Unmarshal([]byte(invoicePage), &page))
	second := map[string]any{
		"id":           "INV-1",
		"invoiceLines": []any{map[string]any{"id": "2", "lineExtensionAmount": 19, "item": map[string]any{"name": "Bolt"}}},
	}
	other := map[string]any{"id": "CN-1", "document_type": "381", "creditNoteLines": []any{map[string]any{"id": "1"}}}
	noID := map[string]any{"document_type": "380"}
	broken := map[string]any{"id": "BAD", "document_type": "999"}

	data, err := json.Marshal([]any{page, other, second, noID, broken})
	require.NoError(t, err)
	path := writeJSONFile(t, "batch.json", string(data))

	result, err := conv.ConvertBatchFromFile(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, result.Documents, 3)
	assert.Equal(t, "INV-1", result.Documents[0].ID)
	assert.Equal(t, "CN-1", result.Documents[1].ID)
	assert.Equal(t, "BAD", result.Documents[2].ID)

	xml := etree.NewDocument()
	require.NoError(t, xml.ReadFromString(result.Documents[0].XML))
	assert.Len(t, xml.FindElements("//cac:InvoiceLine"), 2, "lines of both pages are merged")

	assert.Equal(t, "CreditNote", result.Documents[1].DocumentType)
	assert.True(t, strings.Contains(result.Documents[1].XML, "<cac:CreditNoteLine>"))

	require.NotNil(t, result.Documents[2].Error)
	assert.Equal(t, "DocumentTypeError", result.Documents[2].Error.ErrorCode)

	assert.Equal(t, Summary{
		TotalInputs:   3,
		Failed:        1,
		DocumentTypes: map[string]int{"CreditNote": 1, "Invoice": 1},
		JSONFile:      path,
	}, result.Summary)
}

func TestConvertBatchMergesPagesSpelledDifferently(t *testing.T) {
	conv := newTestConverter(t, ValidationOff)
	path := writeJSONFile(t, "pages.json", `[
		{"document_type": "380", "id": "INV-2", "invoiceLines": [{"id": "1"}]},
		{"id": "INV-2", "InvoiceLine": [{"id": "2"}]}
	]`)

	result, err := conv.ConvertBatchFromFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Empty(t, result.Documents[0].UnmappedFields)

	xml := etree.NewDocument()
	require.NoError(t, xml.ReadFromString(result.Documents[0].XML))
	assert.Len(t, xml.FindElements("//cac:InvoiceLine"), 2)
}

func TestConvertBatchSingleObject(t *testing.T) {
	conv := newTestConverter(t, ValidationOff)
	path := writeJSONFile(t, "single.json", invoicePage)

	result, err := conv.ConvertBatchFromFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, "INV-1", result.Documents[0].ID)
}

func TestConvertBatchFileErrors(t *testing.T) {
	conv := newTestConverter(t, ValidationOff)

	result, err := conv.ConvertBatchFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFile)
	assert.Equal(t, "FileError", result.ErrorResponse.ErrorCode)

	path := writeJSONFile(t, "bad.json", `[1, 2`)
	_, err = conv.ConvertBatchFromFile(context.Background(), path)
	assert.ErrorIs(t, err, ErrFile)
}

func TestConvertBatchToFiles(t *testing.T) {
	conv := newTestConverter(t, ValidationOff)
	path := writeJSONFile(t, "invoices.json", "["+invoicePage+`, {"id": "BAD", "document_type": "999"}]`)
	outDir := filepath.Join(t.TempDir(), "xml")

	result, err := conv.ConvertBatchToFiles(context.Background(), path, outDir)
	require.NoError(t, err)

	require.Len(t, result.Documents, 2)
	want := filepath.Join(outDir, "invoices_INV-1_Invoice.xml")
	assert.Equal(t, want, result.Documents[0].File)
	assert.Empty(t, result.Documents[0].XML, "file results carry the path instead of the XML")
	assert.Empty(t, result.Documents[1].File)
	assert.Equal(t, 1, result.Summary.FilesCreated)
	assert.Equal(t, outDir, result.Summary.OutputDir)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<cbc:ID>INV-1</cbc:ID>")
}

func TestConvertBatchToFilesDistinctIDsSameName(t *testing.T) {
	conv := newTestConverter(t, ValidationOff)
	path := writeJSONFile(t, "in.json", `[
		{"document_type": "380", "id": "A/1", "invoiceLines": [{"id": "1"}]},
		{"document_type": "380", "id": "A 1", "invoiceLines": [{"id": "1"}]}
	]`)
	outDir := t.TempDir()

	result, err := conv.ConvertBatchToFiles(context.Background(), path, outDir)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Summary.FilesCreated)
	assert.Equal(t, filepath.Join(outDir, "in_A_1_Invoice.xml"), result.Documents[0].File)
	assert.Equal(t, filepath.Join(outDir, "in_A_1_Invoice_2.xml"), result.Documents[1].File)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestConvertBatchToFilesUnwritable(t *testing.T) {
	conv := newTestConverter(t, ValidationOff)
	path := writeJSONFile(t, "invoices.json", invoicePage)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	result, err := conv.ConvertBatchToFiles(context.Background(), path, filepath.Join(blocker, "out"))
	require.Error(t, err)
	assert.Equal(t, "FileError", result.ErrorResponse.ErrorCode)
	assert.Empty(t, result.Documents)
}

func TestNewConverterRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "chatty"
	_, err := NewConverter(cfg, nil)
	assert.ErrorIs(t, err, ErrConfig)
}
