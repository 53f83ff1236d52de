package catalog

import (
	"fmt"
	"strings"
	"time"
)

var upperWords = map[string]bool{
	"doi":  true,
	"id":   true,
	"isbn": true,
	"issn": true,
	"uri":  true,
	"yop":  true,
}

// ColumnHeader renders a field name the way COUNTER 5 files spell it:
// publisher_id becomes Publisher_ID, print_issn becomes Print_ISSN.
func ColumnHeader(field string) string {
	parts := strings.Split(field, "_")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if upperWords[part] {
			parts[i] = strings.ToUpper(part)
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, "_")
}

// FieldName normalizes a file column header to a catalog field name.
func FieldName(header string) string {
	name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
	return strings.Join(strings.Fields(name), "_")
}

// MonthColumn is the report column header for a month, e.g. Jan-2020.
func MonthColumn(year int, month time.Month) string {
	return fmt.Sprintf("%s-%04d", month.String()[:3], year)
}
