package job

import (
	"context"
	"fmt"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

var serialTypes = map[string]struct{}{
	"smallserial": {},
	"serial":      {},
	"bigserial":   {},
	"serial2":     {},
	"serial4":     {},
	"serial8":     {},
}

func isSerialType(typeName string) bool {
	_, ok := serialTypes[typeName]
	return ok
}

func columnIndex(columns []string, column string) int {
	for i, c := range columns {
		if c == column {
			return i
		}
	}
	return -1
}

// includesDistributionColumn reports whether columns cover rel's
// distribution column; with equality set, the operator on it must be
// equality as well.
func includesDistributionColumn(rel *catalog.Relation, columns []string, equality []bool) bool {
	i := columnIndex(columns, rel.DistributionColumn)
	if i < 0 {
		return false
	}
	if equality == nil {
		return true
	}
	return i < len(equality) && equality[i]
}

func errConstraintWithoutDistributionColumn(rel *catalog.Relation) error {
	return coorderror.Newf(coorderror.COORD_FEATURE_NOT_SUPPORTED, "cannot create constraint on \"%s\"", rel.Name).
		WithDetail("Distributed relations cannot have UNIQUE, EXCLUDE, or PRIMARY KEY constraints that do not include the partition column (with an equality operator if EXCLUDE).")
}

// checkUniqueness enforces that a uniqueness guarantee on rel can be kept
// per shard. Append tables only get a warning.
func (pc *PlanContext) checkUniqueness(rel *catalog.Relation, columns []string, equality []bool) error {
	switch {
	case rel.IsReferenceTable():
		return nil
	case rel.Method == catalog.DistributeByAppend:
		pc.Notify(Notice{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("table \"%s\" has a UNIQUE or EXCLUDE constraint", rel.Name),
			Detail:   "UNIQUE constraints, EXCLUDE constraints, and PRIMARY KEYs on append-partitioned tables cannot be enforced.",
			Hint:     "Consider using hash partitioning.",
		})
		return nil
	case rel.IsHashOrRange():
		if !includesDistributionColumn(rel, columns, equality) {
			return errConstraintWithoutDistributionColumn(rel)
		}
	}
	return nil
}

// checkConstraint applies the uniqueness rules to one table constraint.
// column is the column being added, used when the constraint has no keys.
func (pc *PlanContext) checkConstraint(rel *catalog.Relation, c *stmt.Constraint, column string) error {
	keys := c.Keys
	if len(keys) == 0 && column != "" {
		keys = []string{column}
	}

	switch c.Type {
	case stmt.ConstrPrimary, stmt.ConstrUnique:
		return pc.checkUniqueness(rel, keys, nil)
	case stmt.ConstrExclusion:
		equality := c.ExclusionEquality
		if equality == nil {
			equality = []bool{}
		}
		return pc.checkUniqueness(rel, keys, equality)
	}
	return nil
}

// checkExistingIndexes re-checks every unique or exclusion index of rel.
func (pc *PlanContext) checkExistingIndexes(rel *catalog.Relation) error {
	for _, idx := range rel.Indexes {
		switch {
		case idx.Exclusion:
			equality := idx.ExclusionEquality
			if equality == nil {
				equality = []bool{}
			}
			if err := pc.checkUniqueness(rel, idx.Columns, equality); err != nil {
				return err
			}
		case idx.Unique:
			if err := pc.checkUniqueness(rel, idx.Columns, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func errForeignKey(detail string) error {
	return coorderror.New(coorderror.COORD_FEATURE_NOT_SUPPORTED, "cannot create foreign key constraint").
		WithDetail(detail)
}

// checkForeignKey validates a foreign key from the distributed relation rel
// and returns the referenced relation; nil means the referenced name does
// not resolve and the local engine will complain about it.
func (pc *PlanContext) checkForeignKey(ctx context.Context, rel *catalog.Relation, c *stmt.Constraint, column string) (*catalog.Relation, error) {
	referenced, err := pc.lookup(ctx, c.PKTable)
	if err != nil || referenced == nil {
		return nil, err
	}

	keys := c.Keys
	if len(keys) == 0 && column != "" {
		keys = []string{column}
	}

	switch {
	case !referenced.Distributed:
		return nil, errForeignKey("Referenced table must be a distributed table or a reference table.")

	case rel.IsReferenceTable() && !referenced.IsReferenceTable():
		return nil, coorderror.New(coorderror.COORD_FEATURE_NOT_SUPPORTED,
			"cannot create foreign key constraint since foreign keys from reference tables to distributed tables are not supported").
			WithDetail("A reference table can only have reference keys to other reference tables")

	case !rel.IsReferenceTable() && !referenced.IsReferenceTable():
		if !catalog.TablesColocated(rel, referenced) {
			return nil, coorderror.New(coorderror.COORD_FEATURE_NOT_SUPPORTED,
				"cannot create foreign key constraint since relations are not colocated or not referencing a reference table").
				WithDetail("A distributed table can only have foreign keys if it is referencing another colocated hash distributed table or a reference table")
		}
		// without an explicit column list the referenced primary key is used
		i := columnIndex(keys, rel.DistributionColumn)
		if i < 0 || (len(c.PKAttrs) > 0 && (i >= len(c.PKAttrs) || c.PKAttrs[i] != referenced.DistributionColumn)) {
			return nil, errForeignKey("Foreign keys are supported in two cases, either in between two colocated tables including partition column in the same ordinal in the both tables or from distributed to reference tables")
		}
	}

	if rel.DistributionColumn != "" && columnIndex(keys, rel.DistributionColumn) >= 0 {
		switch c.OnDelete {
		case stmt.FKActionSetNull, stmt.FKActionSetDefault:
			return nil, errForeignKey("SET NULL or SET DEFAULT is not supported in ON DELETE operation when distribution key is included in the foreign key constraint")
		}
		switch c.OnUpdate {
		case stmt.FKActionSetNull, stmt.FKActionSetDefault, stmt.FKActionCascade:
			return nil, errForeignKey("SET NULL, SET DEFAULT or CASCADE is not supported in ON UPDATE operation when distribution key included in the foreign constraint.")
		}
	}
	return referenced, nil
}

// EnsurePartitionNotReplicated rejects modifications through a partition
// whose shards have more than one placement.
func EnsurePartitionNotReplicated(ctx context.Context, dir catalog.Directory, id catalog.RelationID) error {
	rel, err := dir.Relation(ctx, id)
	if err != nil {
		return err
	}
	if !rel.IsPartition() || rel.ReplicationFactor <= 1 {
		return nil
	}
	parent, err := dir.Relation(ctx, rel.PartitionParent)
	if err != nil {
		return err
	}
	return coorderror.New(coorderror.COORD_FEATURE_NOT_SUPPORTED,
		"modifications on partitions when replication factor is greater than 1 is not supported").
		WithHint(fmt.Sprintf("Run the query on the parent table \"%s\" instead.", parent.Name))
}
