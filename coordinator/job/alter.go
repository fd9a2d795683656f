package job

import (
	"context"
	"fmt"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

const splitConstraintHint = "You can issue each command separately such as " +
	"ALTER TABLE %s ADD COLUMN %s data_type; ALTER TABLE %s ADD CONSTRAINT constraint_name CHECK (check_expression);"

func unsupported(msg string) *coorderror.CoordError {
	return coorderror.New(coorderror.COORD_FEATURE_NOT_SUPPORTED, msg)
}

type alterTablePlanner struct {
	replicatedModel
}

func (alterTablePlanner) target(ctx context.Context, pc *PlanContext, s *stmt.AlterTableStmt) (*catalog.Relation, error) {
	if s.ObjType == stmt.ObjectIndex {
		return pc.lookupIndex(ctx, &s.Relation)
	}
	return pc.lookup(ctx, &s.Relation)
}

func (p alterTablePlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, command string) ([]*DDLJob, error) {
	s := node.(*stmt.AlterTableStmt)

	rel, err := p.target(ctx, pc, s)
	if err != nil || rel == nil || !rel.Distributed {
		return nil, err
	}

	// shards validate foreign keys themselves
	for _, cmd := range s.Cmds {
		if cmd.Subtype == stmt.AlterAddConstraint && cmd.Constraint != nil && cmd.Constraint.Type == stmt.ConstrForeign {
			cmd.Constraint.SkipValidation = true
		}
	}

	if !pc.EnableDDLPropagation {
		for _, cmd := range s.Cmds {
			if cmd.Subtype == stmt.AlterDropColumn && rel.DistributionColumn != "" && cmd.Name == rel.DistributionColumn {
				return nil, unsupported("cannot execute ALTER TABLE command dropping partition column")
			}
		}
		return nil, nil
	}

	if s.ObjType == stmt.ObjectIndex {
		if err := checkAlterIndex(s); err != nil {
			return nil, err
		}
	} else if err := p.checkAlterTable(ctx, pc, rel, s); err != nil {
		return nil, err
	}

	right, skip, err := p.rightRelation(ctx, pc, rel, s)
	if err != nil || skip {
		return nil, err
	}

	sequential := false
	for _, cmd := range s.Cmds {
		seq, err := pc.Policy.ForAlterTableCmd(ctx, rel, cmd, pc.SearchPath, pc.Tx.ExecutionMode(), pc.Tx.InTransactionBlock())
		if err != nil {
			return nil, err
		}
		sequential = sequential || seq
	}

	j := &DDLJob{
		TargetRelation:      rel.ID,
		Command:             command,
		ExecuteSequentially: sequential,
	}
	switch {
	case right == nil:
		j.Tasks, err = pc.Builder.DDLTaskList(ctx, rel, command)
	case right.Distributed:
		j.Tasks, err = pc.Builder.InterShardDDLTaskList(ctx, rel, right, command)
	}
	if err != nil {
		return nil, err
	}

	coordlog.Zero.Debug().
		Str("relation", rel.Name).
		Int("subcommands", len(s.Cmds)).
		Bool("sequential", sequential).
		Int("tasks", len(j.Tasks)).
		Msg("planned alter table")
	return []*DDLJob{j}, nil
}

// rightRelation finds the second relation an inter-shard command touches.
// skip is set when the statement turns out to need no remote work.
func (alterTablePlanner) rightRelation(ctx context.Context, pc *PlanContext, rel *catalog.Relation, s *stmt.AlterTableStmt) (right *catalog.Relation, skip bool, err error) {
	if s.ObjType == stmt.ObjectIndex {
		return nil, false, nil
	}

	for _, cmd := range s.Cmds {
		switch cmd.Subtype {
		case stmt.AlterAddConstraint:
			c := cmd.Constraint
			if c == nil || c.Type != stmt.ConstrForeign {
				continue
			}
			right, err = pc.checkForeignKey(ctx, rel, c, "")
			return right, right == nil, err

		case stmt.AlterAddColumn:
			if cmd.Def == nil {
				continue
			}
			for _, c := range cmd.Def.Constraints {
				if c.Type != stmt.ConstrForeign {
					continue
				}
				right, err = pc.checkForeignKey(ctx, rel, c, cmd.Def.Name)
				return right, right == nil, err
			}

		case stmt.AlterAttachPartition:
			part, err := pc.lookup(ctx, cmd.Partition)
			if err != nil {
				return nil, false, err
			}
			// a local partition is distributed after the local attach
			return part, part == nil || !part.Distributed, nil

		case stmt.AlterDetachPartition:
			part, err := pc.lookup(ctx, cmd.Partition)
			if err != nil {
				return nil, false, err
			}
			return part, part == nil, nil
		}
	}
	return nil, false, nil
}

func checkAlterIndex(s *stmt.AlterTableStmt) error {
	for _, cmd := range s.Cmds {
		switch cmd.Subtype {
		case stmt.AlterSetRelOptions, stmt.AlterResetRelOptions, stmt.AlterReplaceRelOptions:
		default:
			return unsupported("alter index ... set tablespace ... is currently unsupported").
				WithDetail("Only RENAME TO, SET (), and RESET () are supported.")
		}
	}
	return nil
}

func (alterTablePlanner) checkAlterTable(ctx context.Context, pc *PlanContext, rel *catalog.Relation, s *stmt.AlterTableStmt) error {
	tableName := stmtRangeVarString(s.Relation)

	for _, cmd := range s.Cmds {
		switch cmd.Subtype {
		case stmt.AlterAddColumn:
			if cmd.Def == nil {
				continue
			}
			if isSerialType(cmd.Def.TypeName) {
				return unsupported("cannot execute ADD COLUMN commands involving serial pseudotypes")
			}
			for _, c := range cmd.Def.Constraints {
				switch c.Type {
				case stmt.ConstrPrimary, stmt.ConstrUnique, stmt.ConstrForeign, stmt.ConstrCheck:
				default:
					continue
				}
				if c.Name == "" {
					return unsupported("cannot execute ADD COLUMN command with PRIMARY KEY, UNIQUE, FOREIGN and CHECK constraints").
						WithDetail("Adding a column with a constraint in one command is not supported because all constraints in Citus must have explicit names").
						WithHint(fmt.Sprintf(splitConstraintHint, tableName, cmd.Def.Name, tableName))
				}
				if err := pc.checkConstraint(rel, c, cmd.Def.Name); err != nil {
					return err
				}
			}

		case stmt.AlterDropColumn, stmt.AlterColumnDefault, stmt.AlterColumnType, stmt.AlterDropNotNull:
			if rel.DistributionColumn != "" && cmd.Name == rel.DistributionColumn {
				return unsupported("cannot execute ALTER TABLE command involving partition column")
			}

		case stmt.AlterAddConstraint:
			if len(s.Cmds) > 1 {
				return unsupported("cannot execute ADD CONSTRAINT command with other subcommands").
					WithHint("You can issue each subcommand separately")
			}
			if cmd.Constraint == nil {
				continue
			}
			if cmd.Constraint.Name == "" {
				return unsupported("cannot create constraint without a name on a distributed table")
			}
			if err := pc.checkConstraint(rel, cmd.Constraint, ""); err != nil {
				return err
			}

		case stmt.AlterAttachPartition, stmt.AlterDetachPartition:
			if len(s.Cmds) > 1 {
				return unsupported("cannot execute ATTACH/DETACH PARTITION command with other subcommands").
					WithHint("You can issue each subcommand separately.")
			}
			if cmd.Subtype == stmt.AlterDetachPartition {
				continue
			}
			part, err := pc.lookup(ctx, cmd.Partition)
			if err != nil {
				return err
			}
			if part != nil && part.Distributed && !catalog.TablesColocated(rel, part) {
				return unsupported("distributed tables cannot have non-colocated distributed tables as a partition ")
			}

		case stmt.AlterDropConstraint:
			fk, err := pc.Graph.ConstraintIsAForeignKey(ctx, cmd.Name, rel.ID)
			if err != nil {
				return err
			}
			if fk {
				pc.Tx.MarkInvalidateForeignKeyGraph()
			}

		case stmt.AlterSetNotNull,
			stmt.AlterEnableTrigAll, stmt.AlterDisableTrigAll,
			stmt.AlterReplicaIdentity,
			stmt.AlterSetRelOptions, stmt.AlterResetRelOptions, stmt.AlterReplaceRelOptions:

		default:
			return unsupported("alter table command is currently unsupported").
				WithDetail("Only ADD|DROP COLUMN, SET|DROP NOT NULL, SET|DROP DEFAULT, ADD|DROP CONSTRAINT, " +
					"SET (), RESET (), ATTACH|DETACH PARTITION and TYPE subcommands are supported.")
		}
	}
	return nil
}

// PostLocal distributes freshly attached partitions and re-checks the
// constraints the local engine just created.
func (alterTablePlanner) PostLocal(ctx context.Context, pc *PlanContext, node stmt.Node, _ []*DDLJob) error {
	s := node.(*stmt.AlterTableStmt)
	if s.ObjType == stmt.ObjectIndex {
		return nil
	}
	rel, err := pc.lookup(ctx, &s.Relation)
	if err != nil || rel == nil {
		return err
	}

	for _, cmd := range s.Cmds {
		switch cmd.Subtype {
		case stmt.AlterAttachPartition:
			part, err := pc.lookup(ctx, cmd.Partition)
			if err != nil {
				return err
			}
			if part == nil {
				continue
			}
			if err := distributePartition(ctx, pc, rel, part); err != nil {
				return err
			}

		case stmt.AlterAddConstraint, stmt.AlterAddColumn:
			if !rel.Distributed {
				continue
			}
			if addsForeignKey(cmd) {
				pc.Tx.MarkInvalidateForeignKeyGraph()
			}
			if err := pc.checkExistingIndexes(rel); err != nil {
				return err
			}
		}
	}
	return nil
}

func addsForeignKey(cmd *stmt.AlterTableCmd) bool {
	if cmd.Constraint != nil && cmd.Constraint.Type == stmt.ConstrForeign {
		return true
	}
	if cmd.Def != nil {
		for _, c := range cmd.Def.Constraints {
			if c.Type == stmt.ConstrForeign {
				return true
			}
		}
	}
	return false
}

// distributePartition makes part follow the distribution of parent.
func distributePartition(ctx context.Context, pc *PlanContext, parent, part *catalog.Relation) error {
	switch {
	case !parent.Distributed && part.Distributed:
		return unsupported("non-distributed tables cannot have distributed partitions").
			WithHint(fmt.Sprintf("Distribute the partitioned table \"%s\" instead", parent.Name))

	case parent.Distributed && !part.Distributed:
		coordlog.Zero.Debug().
			Str("parent", parent.Name).
			Str("partition", part.Name).
			Msg("distributing partition")
		return pc.Distributor.CreateDistributedTable(ctx, part.ID, parent.DistributionColumn, parent.Method, parent.ID)
	}
	return nil
}

func stmtRangeVarString(rv stmt.RangeVar) string {
	if rv.Schema == "" {
		return rv.Name
	}
	return rv.Schema + "." + rv.Name
}
