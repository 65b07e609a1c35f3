package normalize

import (
	"sort"
	"strings"

	"landrecords-backend/lib/coerce"
)

// Raw payloads arrive as decoded JSON (or row maps built from HTML tables):
// maps, lists, scalars, nested to arbitrary depth. The helpers in this file
// resolve which of the three input shapes a tax payload takes (flat record
// set, year-keyed mapping, or dual-source bundle nested inside either) and
// give the extraction passes type-tolerant access. A wrong type anywhere
// degrades to an empty result, never an error.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asList coerces list-ish payloads: a plain list passes through, a map is
// flattened to its values in key order (some sites return result sets as
// index-keyed objects), anything else is empty.
func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(t))
		for _, k := range keys {
			out = append(out, t[k])
		}
		return out
	}
	return nil
}

// records filters a list-ish payload down to its map entries.
func records(v any) []map[string]any {
	var out []map[string]any
	for _, item := range asList(v) {
		if m := asMap(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// field returns the first non-empty value among the named keys, stringified.
func field(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			s := strings.TrimSpace(coerce.Stringify(v))
			if s != "" {
				return s
			}
		}
	}
	return ""
}

const currentYearKey = "current"

func isYearKey(key string) bool {
	if key == currentYearKey {
		return true
	}
	_, ok := coerce.ParseYear(key)
	return ok
}

// yearGroup is one year's slice of a year-keyed tax payload. Year is ""
// for the literal "current" marker when no 4-digit year could be inferred
// from the group's own data.
type yearGroup struct {
	Year string
	Data map[string]any
}

// yearGroups detects the year-keyed shape: when any top-level key is a
// 4-digit year or the "current" marker, the payload is partitioned into one
// group per such key (sorted for deterministic output). An empty result
// means the payload is flat.
func yearGroups(taxData map[string]any) []yearGroup {
	var keys []string
	for key := range taxData {
		if isYearKey(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var groups []yearGroup
	for _, key := range keys {
		data := asMap(taxData[key])
		year := key
		if key == currentYearKey {
			year = ""
			if data != nil {
				year = coerce.YearFrom(data)
			}
		}
		groups = append(groups, yearGroup{Year: year, Data: data})
	}
	return groups
}

// mergedRecords concatenates the named list from a container and from its
// page_extracted / api_extracted sub-bundles, in that order. This is how
// dual-source extraction results fold back into one stream.
func mergedRecords(container map[string]any, listKey string) []map[string]any {
	if container == nil {
		return nil
	}
	out := records(container[listKey])
	for _, source := range []string{"page_extracted", "api_extracted"} {
		if sub := asMap(container[source]); sub != nil {
			out = append(out, records(sub[listKey])...)
		}
	}
	return out
}

// taxTables pulls the raw HTML-table matrices out of page-extracted data.
func taxTables(taxData map[string]any) []any {
	page := asMap(taxData["page_extracted"])
	if page == nil {
		return nil
	}
	return asList(page["tax_tables"])
}
