package job

import (
	"context"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/deparse"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

// Builder turns relation level commands into per-shard task lists.
type Builder struct {
	dir catalog.Directory
}

func NewBuilder(dir catalog.Directory) *Builder {
	return &Builder{dir: dir}
}

func (b *Builder) placements(ctx context.Context, shard catalog.ShardID) ([]catalog.ShardPlacement, error) {
	return b.dir.ActiveShardPlacements(ctx, shard)
}

// DDLTaskList emits one task per shard of rel, in shard id order.
func (b *Builder) DDLTaskList(ctx context.Context, rel *catalog.Relation, command string) ([]*Task, error) {
	shards, err := b.dir.ShardIntervals(ctx, rel.ID)
	if err != nil {
		return nil, err
	}

	jobID := NextJobID()
	tasks := make([]*Task, 0, len(shards))
	for i, sh := range shards {
		placements, err := b.placements(ctx, sh.ShardID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, &Task{
			JobID:         jobID,
			TaskID:        i + 1,
			Kind:          TaskDDL,
			Query:         deparse.ApplyShardDDLCommand(sh.ShardID, rel.Schema, command),
			AnchorShardID: sh.ShardID,
			Placements:    placements,
		})
	}

	coordlog.Zero.Debug().
		Uint64("job", jobID).
		Str("relation", rel.Name).
		Int("tasks", len(tasks)).
		Msg("built ddl task list")
	return tasks, nil
}

// InterShardDDLTaskList pairs the shards of left with the shards of right.
// Colocated relations are zipped index by index; a reference table's single
// shard is paired with every shard of left.
func (b *Builder) InterShardDDLTaskList(ctx context.Context, left, right *catalog.Relation, command string) ([]*Task, error) {
	leftShards, err := b.dir.ShardIntervals(ctx, left.ID)
	if err != nil {
		return nil, err
	}
	rightShards, err := b.dir.ShardIntervals(ctx, right.ID)
	if err != nil {
		return nil, err
	}

	if right.IsReferenceTable() {
		if len(rightShards) != 1 {
			return nil, coorderror.Newf(coorderror.COORD_METADATA_CORRUPTION,
				"reference table \"%s\" has %d shards", right.Name, len(rightShards))
		}
		broadcast := make([]catalog.ShardInterval, len(leftShards))
		for i := range broadcast {
			broadcast[i] = rightShards[0]
		}
		rightShards = broadcast
	} else if len(leftShards) != len(rightShards) {
		return nil, coorderror.Newf(coorderror.COORD_FEATURE_NOT_SUPPORTED,
			"cannot run inter-shard command between \"%s\" (%d shards) and \"%s\" (%d shards)",
			left.Name, len(leftShards), right.Name, len(rightShards)).
			WithDetail("Inter-shard commands require colocated relations or a reference table.")
	}

	jobID := NextJobID()
	tasks := make([]*Task, 0, len(leftShards))
	for i, lsh := range leftShards {
		rsh := rightShards[i]
		placements, err := b.placements(ctx, lsh.ShardID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, &Task{
			JobID:         jobID,
			TaskID:        i + 1,
			Kind:          TaskInterShardDDL,
			Query:         deparse.ApplyInterShardDDLCommand(lsh.ShardID, left.Schema, rsh.ShardID, right.Schema, command),
			AnchorShardID: lsh.ShardID,
			Placements:    placements,
			RelationShards: []RelationShard{
				{RelationID: left.ID, ShardID: lsh.ShardID},
				{RelationID: right.ID, ShardID: rsh.ShardID},
			},
		})
	}

	coordlog.Zero.Debug().
		Uint64("job", jobID).
		Str("left", left.Name).
		Str("right", right.Name).
		Bool("broadcast", right.IsReferenceTable()).
		Int("tasks", len(tasks)).
		Msg("built inter-shard ddl task list")
	return tasks, nil
}

func (b *Builder) VacuumTaskList(ctx context.Context, rel *catalog.Relation, opts stmt.VacuumOption, columns []string) ([]*Task, error) {
	shards, err := b.dir.ShardIntervals(ctx, rel.ID)
	if err != nil {
		return nil, err
	}

	jobID := NextJobID()
	tasks := make([]*Task, 0, len(shards))
	for i, sh := range shards {
		placements, err := b.placements(ctx, sh.ShardID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, &Task{
			JobID:         jobID,
			TaskID:        i + 1,
			Kind:          TaskVacuumAnalyze,
			Query:         deparse.VacuumShardCommand(opts, rel.Schema, rel.Name, sh.ShardID, columns),
			AnchorShardID: sh.ShardID,
			Placements:    placements,
		})
	}
	return tasks, nil
}

func (b *Builder) TruncateTaskList(ctx context.Context, rel *catalog.Relation, cascade bool) ([]*Task, error) {
	shards, err := b.dir.ShardIntervals(ctx, rel.ID)
	if err != nil {
		return nil, err
	}

	jobID := NextJobID()
	tasks := make([]*Task, 0, len(shards))
	for i, sh := range shards {
		placements, err := b.placements(ctx, sh.ShardID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, &Task{
			JobID:         jobID,
			TaskID:        i + 1,
			Kind:          TaskOther,
			Query:         deparse.TruncateShardCommand(rel.Schema, rel.Name, sh.ShardID, cascade),
			AnchorShardID: sh.ShardID,
			Placements:    placements,
		})
	}
	return tasks, nil
}
