package job

import (
	"context"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

type renamePlanner struct {
	replicatedModel
}

func (renamePlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, command string) ([]*DDLJob, error) {
	s := node.(*stmt.RenameStmt)
	if !pc.EnableDDLPropagation || s.Relation == nil {
		return nil, nil
	}

	var (
		rel *catalog.Relation
		err error
	)
	switch s.RenameType {
	case stmt.ObjectTable, stmt.ObjectForeignTable, stmt.ObjectTabConstraint, stmt.ObjectPolicy:
		rel, err = pc.lookup(ctx, s.Relation)
	case stmt.ObjectColumn:
		if s.RelationType != stmt.ObjectTable && s.RelationType != stmt.ObjectForeignTable {
			return nil, nil
		}
		rel, err = pc.lookup(ctx, s.Relation)
	case stmt.ObjectIndex:
		rel, err = pc.lookupIndex(ctx, s.Relation)
	default:
		return nil, nil
	}
	if err != nil || rel == nil || !rel.Distributed {
		return nil, err
	}

	if s.RenameType == stmt.ObjectTabConstraint {
		return nil, unsupported("renaming constraints belonging to distributed tables is currently unsupported")
	}

	j, err := pc.ddlJob(ctx, rel, command)
	if err != nil {
		return nil, err
	}
	return []*DDLJob{j}, nil
}

type setSchemaPlanner struct{}

func (setSchemaPlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, _ string) ([]*DDLJob, error) {
	s := node.(*stmt.AlterObjectSchemaStmt)
	if !pc.EnableDDLPropagation || s.Relation == nil {
		return nil, nil
	}
	switch s.ObjType {
	case stmt.ObjectTable, stmt.ObjectForeignTable, stmt.ObjectSequence, stmt.ObjectView:
	default:
		return nil, nil
	}

	rel, err := pc.lookupDistributed(ctx, s.Relation)
	if err != nil || rel == nil {
		return nil, err
	}
	pc.Warning("not propagating ALTER ... SET SCHEMA commands to worker nodes",
		"Connect to worker nodes directly to manually change schemas of affected objects.")
	return nil, nil
}

type moveAllPlanner struct{}

func (moveAllPlanner) Plan(_ context.Context, pc *PlanContext, _ stmt.Node, _ string) ([]*DDLJob, error) {
	if pc.EnableDDLPropagation {
		pc.Warning("not propagating ALTER TABLE ALL IN TABLESPACE commands to worker nodes",
			"Connect to worker nodes directly to manually move all tables.")
	}
	return nil, nil
}

type indexPlanner struct {
	replicatedModel
}

func (indexPlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, command string) ([]*DDLJob, error) {
	s := node.(*stmt.IndexStmt)
	if !pc.EnableDDLPropagation {
		return nil, nil
	}

	rel, err := pc.lookupDistributed(ctx, &s.Relation)
	if err != nil || rel == nil {
		return nil, err
	}

	if s.TableSpace != "" {
		return nil, unsupported("specifying tablespaces with CREATE INDEX statements is currently unsupported")
	}
	if s.Name == "" {
		return nil, unsupported("creating index without a name on a distributed table is currently unsupported")
	}
	if s.IfNotExists {
		for _, idx := range rel.Indexes {
			if idx.Name == s.Name {
				return nil, nil
			}
		}
	}
	if (s.Unique || s.Primary) && !rel.IsReferenceTable() {
		switch {
		case rel.Method == catalog.DistributeByAppend:
			return nil, unsupported("creating unique indexes on append-partitioned tables is currently unsupported")
		case columnIndex(s.Columns, rel.DistributionColumn) < 0:
			return nil, unsupported("creating unique indexes on non-partition columns is currently unsupported")
		}
	}

	j, err := pc.ddlJob(ctx, rel, command)
	if err != nil {
		return nil, err
	}
	j.ConcurrentIndex = s.Concurrent
	return []*DDLJob{j}, nil
}

type policyPlanner struct {
	replicatedModel
}

func (policyPlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, command string) ([]*DDLJob, error) {
	if !pc.EnableDDLPropagation {
		return nil, nil
	}

	var table stmt.RangeVar
	switch s := node.(type) {
	case *stmt.CreatePolicyStmt:
		table = s.Table
	case *stmt.AlterPolicyStmt:
		table = s.Table
	default:
		return nil, nil
	}

	rel, err := pc.lookupDistributed(ctx, &table)
	if err != nil || rel == nil {
		return nil, err
	}
	j, err := pc.ddlJob(ctx, rel, command)
	if err != nil {
		return nil, err
	}
	return []*DDLJob{j}, nil
}

// createTablePlanner only acts on CREATE TABLE ... PARTITION OF, after the
// partition exists locally.
type createTablePlanner struct{}

func (createTablePlanner) Plan(context.Context, *PlanContext, stmt.Node, string) ([]*DDLJob, error) {
	return nil, nil
}

func (createTablePlanner) PostLocal(ctx context.Context, pc *PlanContext, node stmt.Node, _ []*DDLJob) error {
	s := node.(*stmt.CreateStmt)
	if s.PartitionOf == nil {
		return nil
	}

	parent, err := pc.lookup(ctx, s.PartitionOf)
	if err != nil || parent == nil {
		return err
	}
	part, err := pc.lookup(ctx, &s.Relation)
	if err != nil || part == nil {
		return err
	}
	return distributePartition(ctx, pc, parent, part)
}

type clusterPlanner struct{}

func (clusterPlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, _ string) ([]*DDLJob, error) {
	s := node.(*stmt.ClusterStmt)
	if !pc.EnableDDLPropagation {
		return nil, nil
	}

	warn := s.Relation == nil
	if !warn {
		rel, err := pc.lookupDistributed(ctx, s.Relation)
		if err != nil {
			return nil, err
		}
		warn = rel != nil
	}
	if warn {
		pc.Warning("not propagating CLUSTER command to worker nodes", "")
	}
	return nil, nil
}

type createRolePlanner struct{}

func (createRolePlanner) Plan(_ context.Context, pc *PlanContext, _ stmt.Node, _ string) ([]*DDLJob, error) {
	if pc.EnableDDLPropagation {
		pc.Notice("not propagating CREATE ROLE/USER commands to worker nodes",
			"Connect to worker nodes directly to manually create all necessary users and roles.")
	}
	return nil, nil
}

type createDatabasePlanner struct{}

func (createDatabasePlanner) Plan(_ context.Context, pc *PlanContext, _ stmt.Node, _ string) ([]*DDLJob, error) {
	pc.Notify(Notice{
		Severity: SeverityNotice,
		Message:  "Citus partially supports CREATE DATABASE for distributed databases",
		Detail:   "Citus does not propagate CREATE DATABASE command to workers",
		Hint:     "You can manually create a database and its extensions on workers.",
	})
	return nil, nil
}
