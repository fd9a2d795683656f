package deparse

import (
	"strings"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

// VacuumPrefix renders everything up to the relation name, including the
// trailing space.
func VacuumPrefix(opts stmt.VacuumOption) string {
	if !opts.Has(stmt.VacOptVacuum) {
		if opts.Has(stmt.VacOptVerbose) {
			return "ANALYZE VERBOSE "
		}
		return "ANALYZE "
	}

	var flags []string
	if opts.Has(stmt.VacOptAnalyze) {
		flags = append(flags, "ANALYZE")
	}
	if opts.Has(stmt.VacOptDisablePageSkipping) {
		flags = append(flags, "DISABLE_PAGE_SKIPPING")
	}
	if opts.Has(stmt.VacOptFreeze) {
		flags = append(flags, "FREEZE")
	}
	if opts.Has(stmt.VacOptFull) {
		flags = append(flags, "FULL")
	}
	if opts.Has(stmt.VacOptVerbose) {
		flags = append(flags, "VERBOSE")
	}
	if len(flags) == 0 {
		return "VACUUM "
	}
	return "VACUUM (" + strings.Join(flags, ",") + ") "
}

// VacuumColumnNames renders " (a,b)" or nothing.
func VacuumColumnNames(columns []string) string {
	if len(columns) == 0 {
		return ""
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	return " (" + strings.Join(quoted, ",") + ")"
}

func VacuumShardCommand(opts stmt.VacuumOption, schema, name string, shardID catalog.ShardID, columns []string) string {
	return VacuumPrefix(opts) + QualifiedShardName(schema, name, shardID) + VacuumColumnNames(columns)
}
