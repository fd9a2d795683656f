package xact_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pg-sharding/ddlcoord/coordinator/execmode"
	"github.com/pg-sharding/ddlcoord/coordinator/job"
	"github.com/pg-sharding/ddlcoord/coordinator/xact"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/conn/conntest"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	mockqdb "github.com/pg-sharding/ddlcoord/pkg/mock/qdb"
	"github.com/pg-sharding/ddlcoord/qdb"
)

var (
	w1 = conn.Target{GroupID: 1, Host: "w1", Port: 5432}
	w2 = conn.Target{GroupID: 2, Host: "w2", Port: 5432}
)

type fixture struct {
	cluster *conntest.Cluster
	log     *qdb.MemQDB
	dir     *catalog.MemDirectory
	mgr     *xact.Manager
}

func newFixture(t *testing.T, s xact.Settings) *fixture {
	t.Helper()

	cluster := conntest.NewCluster()
	cluster.AddNode(w1)
	cluster.AddNode(w2)

	log, err := qdb.NewMemQDB("")
	require.NoError(t, err)
	dir := catalog.NewMemDirectory()

	return &fixture{
		cluster: cluster,
		log:     log,
		dir:     dir,
		mgr:     xact.NewManager(cluster, log, s, xact.WithCommitMarkers(dir)),
	}
}

// commitLocally stands in for the local engine, whose commit makes the
// marker visible.
func (f *fixture) commitLocally(_ context.Context, decision string) error {
	if decision != "" {
		f.dir.MarkTransactionCommitted(decision)
	}
	return nil
}

func (f *fixture) node(target conn.Target) *conntest.Node {
	return f.cluster.Node(target.NodeKey())
}

var nextPlacement uint64

func placement(shard catalog.ShardID, target conn.Target) catalog.ShardPlacement {
	nextPlacement++
	return catalog.ShardPlacement{
		PlacementID: nextPlacement,
		ShardID:     shard,
		GroupID:     target.GroupID,
		NodeHost:    target.Host,
		NodePort:    target.Port,
		State:       catalog.PlacementFinalized,
	}
}

// shardTasks builds one task per shard, alternating between w1 and w2.
func shardTasks(format string, shards ...catalog.ShardID) []*job.Task {
	jobID := job.NextJobID()
	tasks := make([]*job.Task, 0, len(shards))
	for i, sh := range shards {
		target := w1
		if i%2 == 1 {
			target = w2
		}
		tasks = append(tasks, &job.Task{
			JobID:         jobID,
			TaskID:        i + 1,
			Kind:          job.TaskDDL,
			Query:         fmt.Sprintf(format, sh),
			AnchorShardID: sh,
			Placements:    []catalog.ShardPlacement{placement(sh, target)},
		})
	}
	return tasks
}

func contains(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestParallelTwoPhaseCommit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	tasks := shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 102008, 102009, 102010, 102011)
	require.NoError(t, tx.ExecuteTasks(ctx, tasks, false))
	assert.True(tx.ExecutionMode().ParallelExecuted())

	owned, err := f.log.IsTxOwned(ctx, tx.ID())
	assert.NoError(err)
	assert.True(owned)

	localCommitted := false
	err = tx.Commit(ctx, func(ctx context.Context, decision string) error {
		// records are durable before the local commit
		records, err := f.log.ListRecoveryRecords(ctx)
		assert.NoError(err)
		assert.Len(records, 2)
		assert.Equal(tx.ID(), decision)
		localCommitted = true
		return f.commitLocally(ctx, decision)
	})
	require.NoError(t, err)
	assert.True(localCommitted)
	assert.True(tx.Finished())

	assert.ElementsMatch([]string{
		"ALTER TABLE t_102008 ADD COLUMN b int",
		"ALTER TABLE t_102010 ADD COLUMN b int",
	}, f.node(w1).Applied())
	assert.ElementsMatch([]string{
		"ALTER TABLE t_102009 ADD COLUMN b int",
		"ALTER TABLE t_102011 ADD COLUMN b int",
	}, f.node(w2).Applied())
	assert.Empty(f.node(w1).PreparedGIDs())
	assert.Empty(f.node(w2).PreparedGIDs())

	records, err := f.log.ListRecoveryRecords(ctx)
	assert.NoError(err)
	assert.Empty(records)
	decided, err := f.log.HasCommitDecision(ctx, tx.ID())
	assert.NoError(err)
	assert.False(decided)
	marked, err := f.dir.TransactionCommitted(ctx, tx.ID())
	assert.NoError(err)
	assert.False(marked)
	owned, err = f.log.IsTxOwned(ctx, tx.ID())
	assert.NoError(err)
	assert.False(owned)
}

func TestParallelUsesOneConnectionPerNode(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2, 3, 4), false))
	assert.Equal(2, f.cluster.Connections())
	assert.Len(tx.ParticipantNodes(), 2)
	assert.True(tx.ExecutionMode().ParallelExecuted())

	tx.Abort(ctx)
	assert.Empty(f.node(w1).Applied())
	assert.Empty(f.node(w2).Applied())
}

func TestParallelOnSingleNodeCommitsInOnePhase(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})

	tasks := shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2, 3, 4)
	for _, task := range tasks {
		task.Placements = []catalog.ShardPlacement{placement(task.AnchorShardID, w1)}
	}

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(ctx, tasks, false))
	assert.True(tx.ExecutionMode().ParallelExecuted())
	assert.Equal(1, f.cluster.Connections())
	assert.Len(tx.ParticipantNodes(), 1)

	require.NoError(t, tx.Commit(ctx, f.commitLocally))

	assert.False(contains(f.node(w1).Executed(), "PREPARE TRANSACTION"))
	assert.Len(f.node(w1).Applied(), 4)
	records, err := f.log.ListRecoveryRecords(ctx)
	assert.NoError(err)
	assert.Empty(records)
}

func TestSequentialUsesOneConnectionPerNode(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2, 3, 4), true))
	assert.Equal(2, f.cluster.Connections())
	assert.False(tx.ExecutionMode().ParallelExecuted())

	var ddl []string
	for _, line := range f.cluster.Log() {
		if strings.Contains(line, "ALTER TABLE") {
			ddl = append(ddl, line)
		}
	}
	assert.Equal([]string{
		"w1:5432 ALTER TABLE t_1 ADD COLUMN b int",
		"w2:5432 ALTER TABLE t_2 ADD COLUMN b int",
		"w1:5432 ALTER TABLE t_3 ADD COLUMN b int",
		"w2:5432 ALTER TABLE t_4 ADD COLUMN b int",
	}, ddl)

	require.NoError(t, tx.Commit(ctx, nil))
	assert.Len(f.node(w1).Applied(), 2)
	assert.Len(f.node(w2).Applied(), 2)
}

func TestSequentialStopsAtFirstFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})
	f.node(w2).FailOn("t_2 ")

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	err = tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2, 3, 4), true)
	assert.True(coorderror.HasCode(err, coorderror.COORD_REMOTE_EXECUTION))
	assert.Contains(err.Error(), "error on node w2:5432")
	assert.True(tx.Failed())

	assert.False(contains(f.node(w1).Executed(), "t_3"))
	assert.False(contains(f.node(w2).Executed(), "t_4"))
	assert.Empty(f.node(w1).Applied())
}

func TestParallelFailureIsAllOrNothing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})
	f.node(w2).FailOn("t_4 ")

	tx, err := f.mgr.Begin(true)
	require.NoError(t, err)

	err = tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2, 3, 4), false)
	require.Error(t, err)
	assert.True(coorderror.HasCode(err, coorderror.COORD_REMOTE_EXECUTION))
	assert.Contains(err.Error(), "w2:5432")
	assert.True(tx.Failed())

	assert.Empty(f.node(w1).Applied())
	assert.Empty(f.node(w2).Applied())
	assert.Empty(f.node(w1).PreparedGIDs())

	// the session is stuck until the block ends
	err = tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d DROP COLUMN b", 1), false)
	assert.True(coorderror.HasCode(err, coorderror.COORD_TX_ABORTED))

	err = tx.Commit(ctx, func(context.Context, string) error {
		t.Fatal("local commit must not run for an aborted transaction")
		return nil
	})
	assert.True(coorderror.HasCode(err, coorderror.COORD_TX_ABORTED))
	assert.True(tx.Finished())
}

func TestSingleParticipantCommitsInOnePhase(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 7), false))
	assert.False(tx.ExecutionMode().ParallelExecuted())

	require.NoError(t, tx.Commit(ctx, nil))

	assert.False(contains(f.node(w1).Executed(), "PREPARE TRANSACTION"))
	assert.Contains(f.node(w1).Executed(), "COMMIT")
	assert.Equal([]string{"ALTER TABLE t_7 ADD COLUMN b int"}, f.node(w1).Applied())
}

func TestOnePhaseProtocol(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{CommitProtocol: config.CommitProtocol1PC})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2), false))
	require.NoError(t, tx.Commit(ctx, nil))

	assert.False(contains(f.node(w1).Executed(), "PREPARE TRANSACTION"))
	assert.False(contains(f.node(w2).Executed(), "PREPARE TRANSACTION"))
	assert.Len(f.node(w1).Applied(), 1)
	assert.Len(f.node(w2).Applied(), 1)
}

func TestRequireTwoPhaseOverridesProtocol(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{CommitProtocol: config.CommitProtocol1PC})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)
	tx.RequireTwoPhase()
	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2), false))
	require.NoError(t, tx.Commit(ctx, nil))

	assert.True(contains(f.node(w1).Executed(), "PREPARE TRANSACTION"))
	assert.True(contains(f.node(w2).Executed(), "COMMIT PREPARED"))
}

func TestForceTwoPhaseWithSingleParticipant(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{ForceTwoPhase: true, GIDPrefix: "ddl"})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1), false))
	require.NoError(t, tx.Commit(ctx, nil))

	var gid string
	for _, q := range f.node(w1).Executed() {
		if after, ok := strings.CutPrefix(q, "PREPARE TRANSACTION '"); ok {
			gid = strings.TrimSuffix(after, "'")
		}
	}
	require.NotEmpty(t, gid)
	txID, group, ok := xact.ParseGID("ddl", gid)
	assert.True(ok)
	assert.Equal(tx.ID(), txID)
	assert.Equal(int32(1), group)
	assert.Len(f.node(w1).Applied(), 1)
}

func TestPrepareFailureRollsBackEverywhere(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})
	f.node(w2).FailPrepare(true)

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2), false))

	err = tx.Commit(ctx, func(context.Context, string) error {
		t.Fatal("local commit must not run when prepare fails")
		return nil
	})
	assert.True(coorderror.HasCode(err, coorderror.COORD_PREPARE_FAILED))
	assert.Contains(err.Error(), "w2:5432")

	assert.Empty(f.node(w1).Applied())
	assert.Empty(f.node(w2).Applied())
	assert.Empty(f.node(w1).PreparedGIDs())
	assert.Empty(f.node(w2).PreparedGIDs())

	records, err := f.log.ListRecoveryRecords(ctx)
	assert.NoError(err)
	assert.Empty(records)
}

func TestLocalCommitFailureRollsBackPrepared(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2), false))

	boom := errors.New("could not serialize access")
	err = tx.Commit(ctx, func(context.Context, string) error { return boom })
	assert.ErrorIs(err, boom)

	assert.True(contains(f.node(w1).Executed(), "ROLLBACK PREPARED"))
	assert.True(contains(f.node(w2).Executed(), "ROLLBACK PREPARED"))
	assert.Empty(f.node(w1).PreparedGIDs())
	assert.Empty(f.node(w2).PreparedGIDs())
	assert.Empty(f.node(w1).Applied())

	records, err := f.log.ListRecoveryRecords(ctx)
	assert.NoError(err)
	assert.Empty(records)
	decided, err := f.log.HasCommitDecision(ctx, tx.ID())
	assert.NoError(err)
	assert.False(decided)
	marked, err := f.dir.TransactionCommitted(ctx, tx.ID())
	assert.NoError(err)
	assert.False(marked)
}

func TestCommitPreparedFailureLeavesRecord(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})
	f.node(w2).FailOn("COMMIT PREPARED")

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2), false))

	// the outcome is already decided, so the failure is not reported
	require.NoError(t, tx.Commit(ctx, nil))

	assert.Len(f.node(w1).Applied(), 1)
	assert.Empty(f.node(w2).Applied())
	require.Len(t, f.node(w2).PreparedGIDs(), 1)

	records, err := f.log.ListRecoveryRecords(ctx)
	assert.NoError(err)
	require.Len(t, records, 1)
	assert.Equal(int32(2), records[0].GroupID)
	assert.Equal(f.node(w2).PreparedGIDs()[0], records[0].GID)
	assert.Equal(tx.ID(), records[0].TxID)

	decided, err := f.log.HasCommitDecision(ctx, tx.ID())
	assert.NoError(err)
	assert.True(decided)
}

func TestCancelBlockedStatement(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, xact.Settings{CancelTimeout: time.Second})
	f.node(w1).BlockOn("ALTER TABLE")

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1), true)
	require.Error(t, err)
	assert.ErrorIs(err, context.DeadlineExceeded)
	assert.Equal(1, f.node(w1).Cancels())
	assert.True(tx.Failed())
	assert.Empty(f.node(w1).Applied())
}

func TestCancelFailureKillsConnection(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, xact.Settings{CancelTimeout: time.Second})
	f.node(w1).BlockOn("ALTER TABLE")
	f.node(w1).CancelFails(true)

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err = tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1), true)
	assert.ErrorIs(err, context.Canceled)
	assert.Equal(1, f.node(w1).Cancels())
	// the socket is dropped under the running statement, then closed
	assert.Equal(1, f.node(w1).Terminations())
	assert.Equal(1, f.node(w1).Closes())
	assert.False(contains(f.node(w1).Executed(), "ROLLBACK"))
}

func TestBareExecutionKeepsEarlierWork(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})
	f.node(w1).FailOn("t_3 ")

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	err = tx.ExecuteTasksBare(ctx, shardTasks("CREATE INDEX CONCURRENTLY i_%d ON t_%[1]d (a)", 1, 2, 3, 4))
	assert.True(coorderror.HasCode(err, coorderror.COORD_REMOTE_EXECUTION))

	assert.Equal([]string{"CREATE INDEX CONCURRENTLY i_1 ON t_1 (a)"}, f.node(w1).Applied())
	assert.Equal([]string{"CREATE INDEX CONCURRENTLY i_2 ON t_2 (a)"}, f.node(w2).Applied())
	assert.False(contains(f.node(w1).Executed(), "BEGIN"))
	assert.Equal(1, f.node(w1).Closes())
	assert.Equal(1, f.node(w2).Closes())

	// bare work does not poison the coordinated transaction
	assert.False(tx.Failed())
	assert.Empty(tx.ParticipantNodes())
}

func TestSendBareCommandsToNodes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	cmds := []string{"SET citus.enable_ddl_propagation TO 'off'", "DROP TABLE IF EXISTS t"}
	require.NoError(t, tx.SendBareCommandsToNodes(ctx, []conn.Target{w1, w2}, cmds))
	assert.Equal(cmds, f.node(w1).Applied())
	assert.Equal(cmds, f.node(w2).Applied())
}

func TestAcquireDistributedLocksOrder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})
	w3 := conn.Target{GroupID: 3, Host: "w0", Port: 5433}
	f.cluster.AddNode(w3)

	tx, err := f.mgr.Begin(true)
	require.NoError(t, err)

	nodes := []catalog.WorkerNode{
		{GroupID: 3, Host: "w0", Port: 5433, IsActive: true},
		{GroupID: 0, Host: "coord", Port: 5432, IsActive: true},
		{GroupID: 2, Host: "w2", Port: 5432, IsActive: true},
		{GroupID: 1, Host: "w1", Port: 5432, IsActive: true},
	}
	lock := "LOCK pg_dist_node IN EXCLUSIVE MODE"
	require.NoError(t, tx.AcquireDistributedLocks(ctx, nodes, 0, []string{lock}))

	var locks []string
	for _, line := range f.cluster.Log() {
		if strings.HasSuffix(line, lock) {
			locks = append(locks, strings.Fields(line)[0])
		}
	}
	assert.Equal([]string{"w1:5432", "w2:5432", "w0:5433"}, locks)
	assert.Len(tx.ParticipantNodes(), 3)

	tx.Abort(ctx)
}

func TestCommitWithoutRemoteWork(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, xact.Settings{})

	tx, err := f.mgr.Begin(false)
	require.NoError(t, err)

	called := false
	require.NoError(t, tx.Commit(ctx, func(_ context.Context, decision string) error {
		assert.Empty(decision)
		called = true
		return nil
	}))
	assert.True(called)
	assert.Zero(f.cluster.Connections())

	err = tx.Commit(ctx, nil)
	assert.True(coorderror.HasCode(err, coorderror.COORD_UNEXPECTED))
}

func TestOwnershipHeldElsewhere(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	log := mockqdb.NewMockRecoveryLog(ctrl)
	log.EXPECT().AcquireTxOwnership(gomock.Any(), gomock.Any()).Return(false, nil)

	cluster := conntest.NewCluster()
	cluster.AddNode(w1)
	mgr := xact.NewManager(cluster, log, xact.Settings{})

	tx, err := mgr.Begin(false)
	require.NoError(t, err)

	err = tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1), false)
	assert.Error(err)
	assert.Zero(cluster.Connections())
}

func TestRecoveryLogInsertFailureAborts(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	log := mockqdb.NewMockRecoveryLog(ctrl)
	log.EXPECT().AcquireTxOwnership(gomock.Any(), gomock.Any()).Return(true, nil)
	log.EXPECT().InsertRecoveryRecords(gomock.Any(), gomock.Len(2)).Return(errors.New("etcdserver: request timed out"))
	log.EXPECT().ReleaseTxOwnership(gomock.Any(), gomock.Any()).Return(nil)

	cluster := conntest.NewCluster()
	n1 := cluster.AddNode(w1)
	n2 := cluster.AddNode(w2)
	mgr := xact.NewManager(cluster, log, xact.Settings{})

	tx, err := mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(ctx, shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2), false))

	err = tx.Commit(ctx, func(context.Context, string) error {
		t.Fatal("local commit must not run without recovery records")
		return nil
	})
	assert.Error(err)
	assert.Empty(n1.PreparedGIDs())
	assert.Empty(n2.PreparedGIDs())
	assert.Empty(n1.Applied())
}

func twoNodeTx(t *testing.T, log qdb.RecoveryLog, opts ...xact.ManagerOption) (*xact.TxContext, *conntest.Node, *conntest.Node) {
	t.Helper()

	cluster := conntest.NewCluster()
	n1 := cluster.AddNode(w1)
	n2 := cluster.AddNode(w2)
	mgr := xact.NewManager(cluster, log, xact.Settings{}, opts...)

	tx, err := mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteTasks(context.Background(), shardTasks("ALTER TABLE t_%d ADD COLUMN b int", 1, 2), false))
	return tx, n1, n2
}

func TestDecisionWriteFailureWithoutLocalTransactionAborts(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	log := mockqdb.NewMockRecoveryLog(ctrl)
	log.EXPECT().AcquireTxOwnership(gomock.Any(), gomock.Any()).Return(true, nil)
	log.EXPECT().InsertRecoveryRecords(gomock.Any(), gomock.Len(2)).Return(nil)
	log.EXPECT().RecordCommitDecision(gomock.Any(), gomock.Any()).Return(errors.New("etcdserver: leader changed"))
	log.EXPECT().DeleteCommitDecision(gomock.Any(), gomock.Any()).Return(nil)
	log.EXPECT().DeleteRecoveryRecord(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	log.EXPECT().ReleaseTxOwnership(gomock.Any(), gomock.Any()).Return(nil)

	tx, n1, n2 := twoNodeTx(t, log)

	err := tx.Commit(ctx, nil)
	assert.ErrorContains(err, "leader changed")
	assert.True(contains(n1.Executed(), "ROLLBACK PREPARED"))
	assert.Empty(n1.PreparedGIDs())
	assert.Empty(n2.PreparedGIDs())
	assert.Empty(n1.Applied())
}

func TestUnknownDecisionLeavesPreparedToRecovery(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	log := mockqdb.NewMockRecoveryLog(ctrl)
	log.EXPECT().AcquireTxOwnership(gomock.Any(), gomock.Any()).Return(true, nil)
	log.EXPECT().InsertRecoveryRecords(gomock.Any(), gomock.Len(2)).Return(nil)
	log.EXPECT().RecordCommitDecision(gomock.Any(), gomock.Any()).Return(errors.New("context deadline exceeded"))
	log.EXPECT().DeleteCommitDecision(gomock.Any(), gomock.Any()).Return(errors.New("etcdserver: no leader"))
	log.EXPECT().ReleaseTxOwnership(gomock.Any(), gomock.Any()).Return(nil)

	tx, n1, n2 := twoNodeTx(t, log)

	err := tx.Commit(ctx, nil)
	assert.True(coorderror.HasCode(err, coorderror.COORD_UNEXPECTED))
	assert.ErrorContains(err, "commit outcome is unknown")
	assert.Len(n1.PreparedGIDs(), 1)
	assert.Len(n2.PreparedGIDs(), 1)
	assert.False(contains(n1.Executed(), "ROLLBACK PREPARED"))
	assert.False(contains(n1.Executed(), "COMMIT PREPARED"))
}

func TestLocalCommitIsTheCommitPoint(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	dir := catalog.NewMemDirectory()

	log := mockqdb.NewMockRecoveryLog(ctrl)
	log.EXPECT().AcquireTxOwnership(gomock.Any(), gomock.Any()).Return(true, nil)
	log.EXPECT().InsertRecoveryRecords(gomock.Any(), gomock.Len(2)).Return(nil)
	// the copy is lost, the marker still decides
	log.EXPECT().RecordCommitDecision(gomock.Any(), gomock.Any()).Return(errors.New("etcdserver: request timed out"))
	log.EXPECT().DeleteRecoveryRecord(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	log.EXPECT().ReleaseTxOwnership(gomock.Any(), gomock.Any()).Return(nil)

	tx, n1, n2 := twoNodeTx(t, log, xact.WithCommitMarkers(dir))

	var decision string
	require.NoError(t, tx.Commit(ctx, func(_ context.Context, d string) error {
		decision = d
		dir.MarkTransactionCommitted(d)
		return nil
	}))
	assert.Equal(tx.ID(), decision)
	assert.Len(n1.Applied(), 1)
	assert.Len(n2.Applied(), 1)
	assert.Empty(n1.PreparedGIDs())

	marked, err := dir.TransactionCommitted(ctx, tx.ID())
	assert.NoError(err)
	assert.False(marked)
}

func TestGIDRoundTrip(t *testing.T) {
	assert := assert.New(t)

	gid := xact.FormatGID("citus", "0190f1a2-7b3c-7def-8123-456789abcdef", 14, 3)
	assert.Equal("citus_0190f1a2-7b3c-7def-8123-456789abcdef_14_3", gid)

	txID, group, ok := xact.ParseGID("citus", gid)
	assert.True(ok)
	assert.Equal("0190f1a2-7b3c-7def-8123-456789abcdef", txID)
	assert.Equal(int32(14), group)

	for _, bad := range []string{
		"other_0190f1a2_14_3",
		"citus_0190f1a2_14",
		"citus__14_3",
		"citus_0190f1a2_x_3",
		"citus_0190f1a2_14_y",
	} {
		_, _, ok := xact.ParseGID("citus", bad)
		assert.False(ok, bad)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := config.DefaultCoordinator()
	cfg.MultiShardModifyMode = "sequential"
	s, err := xact.SettingsFromConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(execmode.Sequential, s.DefaultMode)
	assert.Equal(config.CommitProtocol2PC, s.CommitProtocol)

	cfg.MultiShardModifyMode = "whatever"
	_, err = xact.SettingsFromConfig(&cfg)
	assert.Error(err)
}
