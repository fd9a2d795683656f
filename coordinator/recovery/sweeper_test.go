package recovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	retry "github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pg-sharding/ddlcoord/coordinator/recovery"
	"github.com/pg-sharding/ddlcoord/coordinator/xact"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/conn/conntest"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/qdb"
)

const prefix = "citus"

var (
	w1 = conn.Target{GroupID: 1, Host: "w1", Port: 5432}
	w2 = conn.Target{GroupID: 2, Host: "w2", Port: 5432}
)

type fixture struct {
	cluster *conntest.Cluster
	log     *qdb.MemQDB
	dir     *catalog.MemDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cluster := conntest.NewCluster()
	dir := catalog.NewMemDirectory()
	for _, target := range []conn.Target{w1, w2} {
		cluster.AddNode(target)
		dir.AddWorkerNode(catalog.WorkerNode{GroupID: target.GroupID, Host: target.Host, Port: target.Port, IsActive: true})
	}

	log, err := qdb.NewMemQDB("")
	require.NoError(t, err)

	return &fixture{cluster: cluster, log: log, dir: dir}
}

func (f *fixture) node(target conn.Target) *conntest.Node {
	return f.cluster.Node(target.NodeKey())
}

func (f *fixture) sweeper(opts ...recovery.Option) *recovery.Sweeper {
	opts = append([]recovery.Option{
		recovery.WithBackoff(func() retry.Backoff {
			return retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
		}),
	}, opts...)
	return recovery.NewSweeper(f.cluster, f.log, prefix, opts...)
}

func newTxID(t *testing.T) string {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id.String()
}

// leavePrepared simulates a coordinator that crashed after writing its
// recovery records: every target holds a prepared transaction.
func (f *fixture) leavePrepared(t *testing.T, txID string, command string, targets ...conn.Target) {
	t.Helper()

	records := make([]*qdb.RecoveryRecord, 0, len(targets))
	for _, target := range targets {
		gid := xact.FormatGID(prefix, txID, target.GroupID, 0)
		f.node(target).AddPrepared(gid, command)
		records = append(records, &qdb.RecoveryRecord{
			GroupID:  target.GroupID,
			GID:      gid,
			TxID:     txID,
			NodeHost: target.Host,
			NodePort: target.Port,
		})
	}
	require.NoError(t, f.log.InsertRecoveryRecords(context.Background(), records))
}

func (f *fixture) records(t *testing.T) []*qdb.RecoveryRecord {
	t.Helper()
	records, err := f.log.ListRecoveryRecords(context.Background())
	require.NoError(t, err)
	return records
}

func TestRecoverCommitsDecidedTransaction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	txID := newTxID(t)
	f.leavePrepared(t, txID, "ALTER TABLE events_102008 ADD COLUMN b int", w1, w2)
	require.NoError(t, f.log.RecordCommitDecision(ctx, txID))

	report, err := f.sweeper().Recover(ctx)
	require.NoError(t, err)

	assert.Equal(2, report.Committed)
	assert.Equal(0, report.Aborted)
	for _, target := range []conn.Target{w1, w2} {
		assert.Equal([]string{"ALTER TABLE events_102008 ADD COLUMN b int"}, f.node(target).Applied())
		assert.Empty(f.node(target).PreparedGIDs())
	}
	assert.Empty(f.records(t))

	decided, err := f.log.HasCommitDecision(ctx, txID)
	require.NoError(t, err)
	assert.False(decided)

	owned, err := f.log.IsTxOwned(ctx, txID)
	require.NoError(t, err)
	assert.False(owned)
}

func TestRecoverRollsBackUndecidedTransaction(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	f.leavePrepared(t, newTxID(t), "ALTER TABLE events_102008 ADD COLUMN b int", w1, w2)

	report, err := f.sweeper().Recover(context.Background())
	require.NoError(t, err)

	assert.Equal(2, report.Aborted)
	assert.Equal(0, report.Committed)
	for _, target := range []conn.Target{w1, w2} {
		assert.Empty(f.node(target).Applied())
		assert.Empty(f.node(target).PreparedGIDs())
	}
	assert.Empty(f.records(t))
}

func TestRecoverSkipsOwnedTransaction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	txID := newTxID(t)
	f.leavePrepared(t, txID, "ALTER TABLE events_102008 ADD COLUMN b int", w1)
	ok, err := f.log.AcquireTxOwnership(ctx, txID)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := f.sweeper().Recover(ctx)
	require.NoError(t, err)

	assert.Equal(1, report.Skipped)
	assert.Zero(report.Resolved())
	assert.Len(f.node(w1).PreparedGIDs(), 1)
	assert.Len(f.records(t), 1)

	// still owned by the live session
	owned, err := f.log.IsTxOwned(ctx, txID)
	require.NoError(t, err)
	assert.True(owned)
}

func TestRecoverForgetsFinishedRecords(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	txID := newTxID(t)
	require.NoError(t, f.log.InsertRecoveryRecords(ctx, []*qdb.RecoveryRecord{{
		GroupID:  w1.GroupID,
		GID:      xact.FormatGID(prefix, txID, w1.GroupID, 0),
		TxID:     txID,
		NodeHost: w1.Host,
		NodePort: w1.Port,
	}}))
	require.NoError(t, f.log.RecordCommitDecision(ctx, txID))

	report, err := f.sweeper().Recover(ctx)
	require.NoError(t, err)

	assert.Equal(1, report.Forgotten)
	assert.Zero(report.Resolved())
	assert.Empty(f.records(t))

	decided, err := f.log.HasCommitDecision(ctx, txID)
	require.NoError(t, err)
	assert.False(decided)
}

func TestRecoverRollsBackOrphanedPrepare(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	orphan := xact.FormatGID(prefix, newTxID(t), w2.GroupID, 3)
	f.node(w2).AddPrepared(orphan, "ALTER TABLE events_102009 ADD COLUMN b int")
	f.node(w2).AddPrepared("external_tx_1", "UPDATE accounts SET x = 1")

	// without the directory nothing points at w2
	report, err := f.sweeper().Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(report.Resolved())
	assert.Len(f.node(w2).PreparedGIDs(), 2)

	report, err = f.sweeper(recovery.WithDirectory(f.dir)).Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(1, report.Aborted)
	assert.Equal([]string{"external_tx_1"}, f.node(w2).PreparedGIDs())
	assert.Empty(f.node(w2).Applied())
}

func TestRecoverKeepsOrphanOfLiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	txID := newTxID(t)
	f.node(w1).AddPrepared(xact.FormatGID(prefix, txID, w1.GroupID, 0), "ALTER TABLE events_102008 ADD COLUMN b int")
	ok, err := f.log.AcquireTxOwnership(ctx, txID)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := f.sweeper(recovery.WithDirectory(f.dir)).Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Resolved())
	assert.Len(t, f.node(w1).PreparedGIDs(), 1)
}

func TestRecoverUnreachableGroup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	txID := newTxID(t)
	f.leavePrepared(t, txID, "ALTER TABLE events_102008 ADD COLUMN b int", w1, w2)
	require.NoError(t, f.log.RecordCommitDecision(ctx, txID))
	f.node(w2).RefuseConnections(true)

	report, err := f.sweeper().Recover(ctx)
	require.Error(t, err)
	assert.True(coorderror.HasCode(err, coorderror.COORD_CONNECTION_ERROR))
	assert.Equal(1, report.Committed)
	assert.Equal([]int32{w2.GroupID}, report.FailedGroups)

	// the decision stays until every record is resolved
	decided, err := f.log.HasCommitDecision(ctx, txID)
	require.NoError(t, err)
	assert.True(decided)
	assert.Len(f.records(t), 1)

	f.node(w2).RefuseConnections(false)
	report, err = f.sweeper().Recover(ctx)
	require.NoError(t, err)
	assert.Equal(1, report.Committed)
	assert.Equal([]string{"ALTER TABLE events_102008 ADD COLUMN b int"}, f.node(w2).Applied())
	assert.Empty(f.records(t))

	decided, err = f.log.HasCommitDecision(ctx, txID)
	require.NoError(t, err)
	assert.False(decided)
}

func TestRecoverIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.leavePrepared(t, newTxID(t), "ALTER TABLE events_102008 ADD COLUMN b int", w1, w2)
	s := f.sweeper(recovery.WithDirectory(f.dir))

	first, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Aborted)

	second, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, recovery.Report{}, second)
}

func TestRecoverAfterFailedCommitPrepared(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.node(w2).FailOn("COMMIT PREPARED")

	mgr := xact.NewManager(f.cluster, f.log, xact.Settings{GIDPrefix: prefix})
	tx, err := mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.SendCommandsToNodes(ctx, []conn.Target{w1, w2}, []string{"ALTER TABLE events ADD COLUMN b int"}))

	// the commit succeeds, w2 is left to recovery
	require.NoError(t, tx.Commit(ctx, nil))
	assert.Equal([]string{"ALTER TABLE events ADD COLUMN b int"}, f.node(w1).Applied())
	assert.Empty(f.node(w2).Applied())
	require.Len(t, f.records(t), 1)

	f.node(w2).ClearFailures()
	report, err := f.sweeper().Recover(ctx)
	require.NoError(t, err)
	assert.Equal(1, report.Committed)
	assert.Equal([]string{"ALTER TABLE events ADD COLUMN b int"}, f.node(w2).Applied())
	assert.Empty(f.records(t))
}

// lostDecisionLog drops commit decisions, as if the coordinator died right
// after its local commit.
type lostDecisionLog struct {
	*qdb.MemQDB
}

func (lostDecisionLog) RecordCommitDecision(context.Context, string) error {
	return errors.New("etcdserver: request timed out")
}

func TestRecoverCommitsByLocalMarker(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.node(w2).FailOn("COMMIT PREPARED")

	log := lostDecisionLog{f.log}
	mgr := xact.NewManager(f.cluster, log, xact.Settings{GIDPrefix: prefix}, xact.WithCommitMarkers(f.dir))
	tx, err := mgr.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx.SendCommandsToNodes(ctx, []conn.Target{w1, w2}, []string{"ALTER TABLE events ADD COLUMN b int"}))

	require.NoError(t, tx.Commit(ctx, func(_ context.Context, decision string) error {
		f.dir.MarkTransactionCommitted(decision)
		return nil
	}))
	assert.Equal([]string{"ALTER TABLE events ADD COLUMN b int"}, f.node(w1).Applied())
	require.Len(t, f.records(t), 1)
	decided, err := f.log.HasCommitDecision(ctx, tx.ID())
	require.NoError(t, err)
	assert.False(decided)

	f.node(w2).ClearFailures()
	report, err := f.sweeper(recovery.WithCommitMarkers(f.dir)).Recover(ctx)
	require.NoError(t, err)
	assert.Equal(1, report.Committed)
	assert.Zero(report.Aborted)
	assert.Equal([]string{"ALTER TABLE events ADD COLUMN b int"}, f.node(w2).Applied())
	assert.Empty(f.records(t))

	marked, err := f.dir.TransactionCommitted(ctx, tx.ID())
	require.NoError(t, err)
	assert.False(marked)
}

func TestRecoverCrashAfterLocalCommit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	committed := newTxID(t)
	f.leavePrepared(t, committed, "ALTER TABLE events_102008 ADD COLUMN b int", w1, w2)
	f.dir.MarkTransactionCommitted(committed)
	aborted := newTxID(t)
	f.leavePrepared(t, aborted, "ALTER TABLE events_102009 ADD COLUMN c int", w1)

	report, err := f.sweeper(recovery.WithCommitMarkers(f.dir)).Recover(ctx)
	require.NoError(t, err)
	assert.Equal(2, report.Committed)
	assert.Equal(1, report.Aborted)
	assert.Equal([]string{"ALTER TABLE events_102008 ADD COLUMN b int"}, f.node(w1).Applied())
	assert.Equal([]string{"ALTER TABLE events_102008 ADD COLUMN b int"}, f.node(w2).Applied())

	marked, err := f.dir.TransactionCommitted(ctx, committed)
	require.NoError(t, err)
	assert.False(marked)
}

func TestRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	f.leavePrepared(t, newTxID(t), "ALTER TABLE events_102008 ADD COLUMN b int", w1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.sweeper().Run(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.records(t))
	assert.Empty(t, f.node(w1).PreparedGIDs())
}
