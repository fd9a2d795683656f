package job

import (
	"context"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/deparse"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

type dropPlanner struct {
	replicatedModel
}

func (p dropPlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, command string) ([]*DDLJob, error) {
	s := node.(*stmt.DropStmt)

	switch s.RemoveType {
	case stmt.ObjectIndex:
		return p.dropIndex(ctx, pc, s, command)
	case stmt.ObjectTable:
		return nil, p.dropTable(ctx, pc, s)
	case stmt.ObjectSchema:
		return nil, p.dropSchema(ctx, pc, s)
	case stmt.ObjectPolicy:
		return p.dropPolicy(ctx, pc, s, command)
	}
	return nil, nil
}

func (dropPlanner) dropIndex(ctx context.Context, pc *PlanContext, s *stmt.DropStmt, command string) ([]*DDLJob, error) {
	var target *catalog.Relation
	for i := range s.Objects {
		rel, err := pc.lookupIndex(ctx, &s.Objects[i])
		if err != nil {
			return nil, err
		}
		if rel == nil || !rel.Distributed {
			continue
		}
		if target != nil {
			return nil, unsupported("cannot drop multiple distributed objects in a single command").
				WithHint("Try dropping each object in a separate DROP command.")
		}
		target = rel
	}
	if target == nil || !pc.EnableDDLPropagation {
		return nil, nil
	}

	j, err := pc.ddlJob(ctx, target, command)
	if err != nil {
		return nil, err
	}
	j.ConcurrentIndex = s.Concurrent
	return []*DDLJob{j}, nil
}

// participatesInForeignKey reports whether rel references or is referenced
// by another relation.
func participatesInForeignKey(ctx context.Context, pc *PlanContext, rel *catalog.Relation) (bool, error) {
	referenced, err := pc.Graph.TableReferenced(ctx, rel.ID)
	if err != nil || referenced {
		return referenced, err
	}
	return pc.Graph.TableReferencing(ctx, rel.ID)
}

// dropTable leaves shard removal to the catalog's drop trigger. Workers with
// metadata detach the partitions of a dropped partitioned table first.
func (dropPlanner) dropTable(ctx context.Context, pc *PlanContext, s *stmt.DropStmt) error {
	for i := range s.Objects {
		rel, err := pc.lookupDistributed(ctx, &s.Objects[i])
		if err != nil {
			return err
		}
		if rel == nil {
			continue
		}

		fk, err := participatesInForeignKey(ctx, pc, rel)
		if err != nil {
			return err
		}
		if fk {
			pc.Tx.MarkInvalidateForeignKeyGraph()
		}

		if !rel.IsPartitioned() || !pc.Sync.ShouldSync(rel) {
			continue
		}
		if err := pc.EnsureCoordinator(ctx); err != nil {
			return err
		}

		parts, err := pc.Dir.Partitions(ctx, rel.ID)
		if err != nil {
			return err
		}
		cmds := make([]string, 0, len(parts))
		for _, id := range parts {
			part, err := pc.Dir.Relation(ctx, id)
			if err != nil {
				return err
			}
			cmds = append(cmds, deparse.DetachPartitionCommand(rel.Schema, rel.Name, part.Schema, part.Name))
		}
		if len(cmds) == 0 {
			continue
		}

		coordlog.Zero.Debug().
			Str("relation", rel.Name).
			Int("partitions", len(cmds)).
			Msg("detaching partitions on metadata workers")
		if err := pc.Sync.SendToMetadataWorkers(ctx, pc.Tx, cmds); err != nil {
			return err
		}
	}
	return nil
}

func (dropPlanner) dropSchema(ctx context.Context, pc *PlanContext, s *stmt.DropStmt) error {
	if !s.Cascade {
		return nil
	}
	for _, obj := range s.Objects {
		ids, err := pc.Dir.RelationsInSchema(ctx, obj.Name)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rel, err := pc.relation(ctx, id, nil)
			if err != nil {
				return err
			}
			if rel == nil || !rel.Distributed {
				continue
			}
			fk, err := participatesInForeignKey(ctx, pc, rel)
			if err != nil {
				return err
			}
			if fk {
				pc.Tx.MarkInvalidateForeignKeyGraph()
				return nil
			}
		}
	}
	return nil
}

func (dropPlanner) dropPolicy(ctx context.Context, pc *PlanContext, s *stmt.DropStmt, command string) ([]*DDLJob, error) {
	if !pc.EnableDDLPropagation {
		return nil, nil
	}

	var jobs []*DDLJob
	for i := range s.Objects {
		rel, err := pc.lookupDistributed(ctx, &s.Objects[i])
		if err != nil {
			return nil, err
		}
		if rel == nil {
			continue
		}
		j, err := pc.ddlJob(ctx, rel, command)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
