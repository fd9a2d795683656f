package job

import (
	"context"
	"sort"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/deparse"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

const truncateLockMode = "ACCESS EXCLUSIVE"

type truncatePlanner struct {
	replicatedModel
}

func (p truncatePlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, command string) ([]*DDLJob, error) {
	s := node.(*stmt.TruncateStmt)

	var rels []*catalog.Relation
	for i := range s.Relations {
		rel, err := pc.lookupDistributed(ctx, &s.Relations[i])
		if err != nil {
			return nil, err
		}
		if rel != nil {
			rels = append(rels, rel)
		}
	}
	if len(rels) == 0 || !pc.EnableDDLPropagation {
		return nil, nil
	}

	for _, rel := range rels {
		if rel.Kind == catalog.RelKindForeign {
			return nil, unsupported("truncating distributed foreign tables is currently unsupported").
				WithHint("Use master_drop_all_shards to remove foreign table's shards.")
		}
		if err := EnsurePartitionNotReplicated(ctx, pc.Dir, rel.ID); err != nil {
			return nil, err
		}
	}

	sequential, err := pc.Policy.ForTruncate(ctx, rels, pc.Tx.ExecutionMode())
	if err != nil {
		return nil, err
	}
	if err := p.lockMetadata(ctx, pc, rels); err != nil {
		return nil, err
	}

	jobs := make([]*DDLJob, 0, len(rels))
	for _, rel := range rels {
		tasks, err := pc.Builder.TruncateTaskList(ctx, rel, s.Cascade)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, &DDLJob{
			TargetRelation:      rel.ID,
			Command:             command,
			ExecuteSequentially: sequential,
			SkipMetadataSync:    true,
			Tasks:               tasks,
		})
	}
	return jobs, nil
}

// lockMetadata takes the truncated relations and everything referencing
// them on workers with metadata, relation by relation in id order so that
// concurrent truncates queue up instead of deadlocking.
func (truncatePlanner) lockMetadata(ctx context.Context, pc *PlanContext, rels []*catalog.Relation) error {
	ok, err := pc.Sync.HasMetadataWorkers(ctx)
	if err != nil || !ok {
		return err
	}

	seen := map[catalog.RelationID]bool{}
	var ids []catalog.RelationID
	for _, rel := range rels {
		if seen[rel.ID] {
			continue
		}
		seen[rel.ID] = true
		ids = append(ids, rel.ID)

		referencing, err := pc.Graph.ReferencingRelations(ctx, rel.ID)
		if err != nil {
			return err
		}
		for _, id := range referencing {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nodes, err := pc.Dir.ActivePrimaryNodes(ctx)
	if err != nil {
		return err
	}
	localGroup, err := pc.Dir.LocalGroupID(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		rel, err := pc.Dir.Relation(ctx, id)
		if err != nil {
			return err
		}
		if !rel.ShouldSyncMetadata() {
			continue
		}
		coordlog.Zero.Debug().
			Str("relation", rel.Name).
			Msg("locking truncated relation on workers")
		lock := deparse.LockRelationIfExistsCommand(rel.Schema, rel.Name, truncateLockMode)
		if err := pc.Tx.AcquireDistributedLocks(ctx, nodes, localGroup, []string{lock}); err != nil {
			return err
		}
	}
	return nil
}
