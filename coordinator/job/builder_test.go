package job_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pg-sharding/ddlcoord/coordinator/job"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

func TestDDLTaskListOneTaskPerShard(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	rel := e.hashTable("events", 1, 4)

	tasks, err := job.NewBuilder(e.dir).DDLTaskList(context.Background(), rel, "ALTER TABLE events ADD COLUMN b int")
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	shards := e.shards(rel)
	for i, task := range tasks {
		assert.Equal(i+1, task.TaskID)
		assert.Equal(tasks[0].JobID, task.JobID)
		assert.Equal(job.TaskDDL, task.Kind)
		assert.Equal(shards[i].ShardID, task.AnchorShardID)
		assert.Len(task.Placements, 1)
		assert.Empty(task.DependedTasks)
	}
	assert.Equal("SELECT worker_apply_shard_ddl_command (102008, 'public', 'ALTER TABLE events ADD COLUMN b int')", tasks[0].Query)
	assert.Equal("w2:5432", tasks[1].Placements[0].NodeKey())
}

func TestDDLTaskListEscapesCommand(t *testing.T) {
	e := newEnv(t)
	rel := e.hashTable("events", 1, 1)

	tasks, err := job.NewBuilder(e.dir).DDLTaskList(context.Background(), rel, "ALTER TABLE events ALTER COLUMN b SET DEFAULT 'x'")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "SELECT worker_apply_shard_ddl_command (102008, 'public', 'ALTER TABLE events ALTER COLUMN b SET DEFAULT ''x''')", tasks[0].Query)
}

func TestDDLTaskListNewJobPerCall(t *testing.T) {
	e := newEnv(t)
	rel := e.hashTable("events", 1, 2)
	b := job.NewBuilder(e.dir)

	first, err := b.DDLTaskList(context.Background(), rel, "ALTER TABLE events ADD COLUMN b int")
	require.NoError(t, err)
	second, err := b.DDLTaskList(context.Background(), rel, "ALTER TABLE events ADD COLUMN c int")
	require.NoError(t, err)

	assert.NotEqual(t, first[0].JobID, second[0].JobID)
}

func TestInterShardDDLTaskListBroadcastsReferenceShard(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	events := e.hashTable("events", 1, 4)
	ref := e.referenceTable("countries")
	refShard := e.shards(ref)[0].ShardID

	tasks, err := job.NewBuilder(e.dir).InterShardDDLTaskList(context.Background(), events, ref,
		"ALTER TABLE events ADD CONSTRAINT fk FOREIGN KEY (country) REFERENCES countries (id)")
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	for i, task := range tasks {
		assert.Equal(job.TaskInterShardDDL, task.Kind)
		assert.Equal(e.shards(events)[i].ShardID, task.AnchorShardID)
		require.Len(t, task.RelationShards, 2)
		assert.Equal(job.RelationShard{RelationID: ref.ID, ShardID: refShard}, task.RelationShards[1])
	}
	assert.Contains(tasks[0].Query, "SELECT worker_apply_inter_shard_ddl_command (102008, 'public', 102012, 'public', ")
}

func TestInterShardDDLTaskListZipsColocatedShards(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	left := e.hashTable("orders", 7, 2)
	right := e.hashTable("customers", 7, 2)

	tasks, err := job.NewBuilder(e.dir).InterShardDDLTaskList(context.Background(), left, right, "ALTER TABLE orders DETACH PARTITION customers")
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	for i, task := range tasks {
		assert.Equal(e.shards(left)[i].ShardID, task.RelationShards[0].ShardID)
		assert.Equal(e.shards(right)[i].ShardID, task.RelationShards[1].ShardID)
	}
}

func TestInterShardDDLTaskListShardCountMismatch(t *testing.T) {
	e := newEnv(t)
	left := e.hashTable("orders", 7, 4)
	right := e.hashTable("customers", 7, 2)

	tasks, err := job.NewBuilder(e.dir).InterShardDDLTaskList(context.Background(), left, right, "ALTER TABLE orders ADD CONSTRAINT fk FOREIGN KEY (a) REFERENCES customers (a)")
	assert.Nil(t, tasks)
	assert.True(t, coorderror.HasCode(err, coorderror.COORD_FEATURE_NOT_SUPPORTED))
}

func TestInterShardDDLTaskListReferenceTableWithManyShards(t *testing.T) {
	e := newEnv(t)
	left := e.hashTable("orders", 7, 2)
	ref := e.referenceTable("countries")
	e.dir.AddShard(ref.ID, wn1)

	_, err := job.NewBuilder(e.dir).InterShardDDLTaskList(context.Background(), left, ref, "ALTER TABLE orders ADD CONSTRAINT fk FOREIGN KEY (c) REFERENCES countries (id)")
	assert.True(t, coorderror.HasCode(err, coorderror.COORD_METADATA_CORRUPTION))
}

func TestVacuumTaskList(t *testing.T) {
	assert := assert.New(t)
	e := newEnv(t)
	rel := e.hashTable("events", 1, 2)

	tasks, err := job.NewBuilder(e.dir).VacuumTaskList(context.Background(), rel, stmt.VacOptVacuum|stmt.VacOptAnalyze, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(job.TaskVacuumAnalyze, tasks[0].Kind)
	assert.Equal("VACUUM (ANALYZE) public.events_102008 (a,b)", tasks[0].Query)
	assert.Equal("VACUUM (ANALYZE) public.events_102009 (a,b)", tasks[1].Query)
}

func TestTruncateTaskList(t *testing.T) {
	e := newEnv(t)
	rel := e.hashTable("events", 1, 1)

	tasks, err := job.NewBuilder(e.dir).TruncateTaskList(context.Background(), rel, true)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "TRUNCATE TABLE public.events_102008 CASCADE", tasks[0].Query)
}

func TestTaskListSkipsInactivePlacements(t *testing.T) {
	e := newEnv(t)
	rel := e.hashTable("events", 1, 1)
	shard := e.shards(rel)[0].ShardID
	e.dir.SetPlacementState(shard, wn1.NodeKey(), catalog.PlacementInactive)

	tasks, err := job.NewBuilder(e.dir).DDLTaskList(context.Background(), rel, "ALTER TABLE events ADD COLUMN b int")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].Placements)
}
