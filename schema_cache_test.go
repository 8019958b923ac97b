package json2ubl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementSpecCardinality(t *testing.T) {
	tests := []struct {
		min, max string
		array    bool
		required bool
	}{
		{"0", "1", false, false},
		{"1", "1", false, true},
		{"0", "unbounded", true, false},
		{"1", "3", true, true},
		{"2", "2", true, true},
	}
	for _, tt := range tests {
		spec := &ElementSpec{MinOccurs: tt.min, MaxOccurs: tt.max}
		assert.Equal(t, tt.array, spec.IsArray(), "%s..%s array", tt.min, tt.max)
		assert.Equal(t, tt.required, spec.IsRequired(), "%s..%s required", tt.min, tt.max)
	}
}

func TestElementMapKeepsInsertionOrder(t *testing.T) {
	m := NewElementMap()
	m.Set("Zeta", &ElementSpec{Name: "Zeta"})
	m.Set("alpha", &ElementSpec{Name: "alpha"})
	m.Set("Mid", &ElementSpec{Name: "Mid"})
	m.Set("zeta", &ElementSpec{Name: "Zeta", MinOccurs: "1"})

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, m.Keys())
	spec, ok := m.Get("ZETA")
	require.True(t, ok)
	assert.Equal(t, "1", spec.MinOccurs, "replacing keeps the position but updates the value")

	var nilMap *ElementMap
	assert.Equal(t, 0, nilMap.Len())
	_, ok = nilMap.Get("x")
	assert.False(t, ok)
}

func TestElementMapJSONOrder(t *testing.T) {
	m := NewElementMap()
	for _, name := range []string{"UBLVersionID", "ID", "IssueDate", "AccountingSupplierParty"} {
		m.Set(name, &ElementSpec{Name: name, MinOccurs: "1", MaxOccurs: "1"})
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	s := string(data)
	assert.Less(t, strings.Index(s, `"ublversionid"`), strings.Index(s, `"id"`))
	assert.Less(t, strings.Index(s, `"id"`), strings.Index(s, `"issuedate"`))
	assert.Less(t, strings.Index(s, `"issuedate"`), strings.Index(s, `"accountingsupplierparty"`))

	var decoded ElementMap
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m.Keys(), decoded.Keys())
}

func TestSchemaCacheFileRoundTrip(t *testing.T) {
	cache := compileFixture(t, "Invoice")
	path := CacheFilePath(filepath.Join(t.TempDir(), "nested", "cache"), "Invoice")
	assert.Equal(t, "Invoice_schema_cache.json", filepath.Base(path))

	require.NoError(t, cache.SaveFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"_document_type_mapping"`)
	assert.Contains(t, string(raw), `"nested_elements"`)
	assert.Contains(t, string(raw), `"_attributes"`)

	loaded, err := LoadSchemaCacheFile(path)
	require.NoError(t, err)

	assert.Equal(t, cache.RootElementName, loaded.RootElementName)
	assert.Equal(t, cache.RootNamespace, loaded.RootNamespace)
	assert.Equal(t, cache.Elements.Keys(), loaded.Elements.Keys())

	opts := cmp.AllowUnexported(ElementMap{})
	if diff := cmp.Diff(cache.Elements, loaded.Elements, opts); diff != "" {
		t.Errorf("elements differ after reload (-want +got):\n%s", diff)
	}
}

func TestLoadSchemaCacheFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSchemaCacheFile(filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"elements": [`), 0o644))
	_, err = LoadSchemaCacheFile(corrupt)
	assert.Error(t, err)
}

func TestPrimaryLeaf(t *testing.T) {
	cache := compileFixture(t, "Invoice")

	partyName := nestedSpec(t, cache.Elements, "accountingsupplierparty", "party", "partyname")
	key, leaf, ok := partyName.primaryLeaf()
	require.True(t, ok)
	assert.Equal(t, "name", key)
	assert.Equal(t, "Name", leaf.Name)

	party := nestedSpec(t, cache.Elements, "accountingsupplierparty", "party")
	_, _, ok = party.primaryLeaf()
	assert.False(t, ok, "Party has neither a required leaf nor a Name, ID or Value child")

	taxScheme := nestedSpec(t, cache.Elements, "accountingsupplierparty", "party", "partytaxscheme", "taxscheme")
	key, _, ok = taxScheme.primaryLeaf()
	require.True(t, ok)
	assert.Equal(t, "name", key)

	id := nestedSpec(t, cache.Elements, "id")
	_, _, ok = id.primaryLeaf()
	assert.False(t, ok, "leaves have no primary child")
}
