package deparse

import "strings"

// SetSearchPathCommand returns "" for an empty path.
func SetSearchPathCommand(searchPath []string) string {
	var schemas []string
	for _, s := range searchPath {
		if s == "" {
			continue
		}
		schemas = append(schemas, QuoteIdentifier(s))
	}
	if len(schemas) == 0 {
		return ""
	}
	return "SET search_path TO " + strings.Join(schemas, ",") + ";"
}
