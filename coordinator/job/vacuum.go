package job

import (
	"context"
	"fmt"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

type vacuumPlanner struct{}

func (vacuumPlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, command string) ([]*DDLJob, error) {
	s := node.(*stmt.VacuumStmt)

	name := "ANALYZE"
	if s.IsVacuum() {
		name = "VACUUM"
	}

	if len(s.Relations) == 0 {
		if pc.EnableDDLPropagation {
			pc.Warning(fmt.Sprintf("not propagating %s command to worker nodes", name),
				fmt.Sprintf("Provide a specific table in order to %s distributed tables.", name))
		}
		return nil, nil
	}

	type target struct {
		rel     *catalog.Relation
		columns []string
	}
	var targets []target
	for i := range s.Relations {
		vr := &s.Relations[i]
		rel, err := pc.lookupDistributed(ctx, &vr.Relation)
		if err != nil {
			return nil, err
		}
		if rel != nil {
			targets = append(targets, target{rel: rel, columns: vr.Columns})
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}

	if !pc.EnableDDLPropagation {
		pc.Warning(fmt.Sprintf("not propagating %s command to worker nodes", name),
			fmt.Sprintf("Set citus.enable_ddl_propagation to true in order to send targeted %s commands to worker nodes.", name))
		return nil, nil
	}

	jobs := make([]*DDLJob, 0, len(targets))
	for _, t := range targets {
		tasks, err := pc.Builder.VacuumTaskList(ctx, t.rel, s.Options, t.columns)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, &DDLJob{
			TargetRelation:   t.rel.ID,
			Command:          command,
			Bare:             s.IsVacuum(),
			SkipMetadataSync: true,
			Tasks:            tasks,
		})
	}
	return jobs, nil
}
