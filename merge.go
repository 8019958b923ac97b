package json2ubl

import (
	"fmt"
	"strings"

	"github.com/mitchellh/copystructure"
)

// PageGroup is the set of input records sharing one document id
type PageGroup struct {
	ID    string
	Pages []map[string]any
}

// GroupPages groups records by their id field, keeping groups and the
// pages inside them in first-seen order. Indexes of records without an
// id are returned separately.
func GroupPages(records []map[string]any) ([]PageGroup, []int) {
	var (
		groups  []PageGroup
		index   = make(map[string]int)
		skipped []int
	)
	for i, rec := range records {
		idValue := lookupFold(rec, "id")
		id := formatScalar(idValue)
		if idValue == nil || id == "" {
			skipped = append(skipped, i)
			continue
		}
		if g, ok := index[id]; ok {
			groups[g].Pages = append(groups[g].Pages, rec)
			continue
		}
		index[id] = len(groups)
		groups = append(groups, PageGroup{ID: id, Pages: []map[string]any{rec}})
	}
	return groups, skipped
}

// MergePages combines the pages of one logical document. Fields the
// schema declares repeating are concatenated across pages; other fields
// take the last non-null value. Keys that resolve to the same schema
// element (or, without one, match case-insensitively) are merged and keep
// the spelling of their first appearance. Without a schema a field is
// repeating when any page holds a list for it.
func MergePages(pages []map[string]any, schema *SchemaCache) (map[string]any, error) {
	if len(pages) == 0 {
		return map[string]any{}, nil
	}

	copied, err := copystructure.Copy(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to copy pages: %w", err)
	}
	pages = copied.([]map[string]any)

	keyOf := mergeKey(schema)
	isArray := arrayFields(pages, schema, keyOf)

	merged := make(map[string]any)
	spelling := make(map[string]string)
	for i, page := range pages {
		for _, key := range sortedKeys(page) {
			value := page[key]
			mk := keyOf(key)
			existing, exists := spelling[mk]

			if !exists && i == 0 {
				spelling[mk] = key
				merged[key] = value
				continue
			}

			if isArray(mk) {
				items := asList(value)
				if len(items) == 0 {
					continue
				}
				if !exists {
					spelling[mk] = key
					merged[key] = items
					continue
				}
				merged[existing] = append(asList(merged[existing]), items...)
				continue
			}

			if value == nil {
				continue
			}
			if !exists {
				spelling[mk] = key
				merged[key] = value
				continue
			}
			merged[existing] = value
		}
	}

	return merged, nil
}

// mergeKey returns the function identifying a page key across spellings:
// the resolved root element when the schema declares it, else the
// lowercase key
func mergeKey(schema *SchemaCache) func(string) string {
	if schema == nil || schema.Elements.Len() == 0 {
		return strings.ToLower
	}
	return func(key string) string {
		if schemaKey, _, ok := resolveElement(schema.Elements, key); ok {
			return schemaKey
		}
		return strings.ToLower(key)
	}
}

// arrayFields builds the repeating-field predicate for a merge, keyed by
// merge key
func arrayFields(pages []map[string]any, schema *SchemaCache, keyOf func(string) string) func(string) bool {
	listSeen := make(map[string]bool)
	for _, page := range pages {
		for key, value := range page {
			if _, ok := value.([]any); ok {
				listSeen[keyOf(key)] = true
			}
		}
	}

	if schema == nil || schema.Elements.Len() == 0 {
		return func(mk string) bool { return listSeen[mk] }
	}

	return func(mk string) bool {
		if spec, ok := schema.Elements.Get(mk); ok {
			return spec.IsArray()
		}
		return listSeen[mk]
	}
}

// asList returns v as a list: nil is empty and a scalar is a singleton
func asList(v any) []any {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}
