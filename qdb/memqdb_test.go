package qdb_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pg-sharding/ddlcoord/qdb"
	"github.com/stretchr/testify/assert"
)

func mockRecords() []*qdb.RecoveryRecord {
	return []*qdb.RecoveryRecord{
		{GroupID: 2, GID: "citus_tx1_2_1", TxID: "tx1", NodeHost: "w2", NodePort: 5432},
		{GroupID: 1, GID: "citus_tx1_1_1", TxID: "tx1", NodeHost: "w1", NodePort: 5432},
	}
}

func TestMemqdbRecordsSorted(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	memqdb, err := qdb.NewMemQDB("")
	assert.NoError(err)

	assert.NoError(memqdb.InsertRecoveryRecords(ctx, mockRecords()))

	recs, err := memqdb.ListRecoveryRecords(ctx)
	assert.NoError(err)
	assert.Len(recs, 2)
	assert.Equal(int32(1), recs[0].GroupID)
	assert.Equal(int32(2), recs[1].GroupID)

	assert.NoError(memqdb.DeleteRecoveryRecord(ctx, 1, "citus_tx1_1_1"))
	recs, err = memqdb.ListRecoveryRecords(ctx)
	assert.NoError(err)
	assert.Len(recs, 1)
	assert.Equal("citus_tx1_2_1", recs[0].GID)
}

func TestMemqdbInsertIsAtomic(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	memqdb, err := qdb.NewMemQDB("")
	assert.NoError(err)

	assert.NoError(memqdb.InsertRecoveryRecords(ctx, mockRecords()[:1]))

	batch := []*qdb.RecoveryRecord{
		{GroupID: 3, GID: "citus_tx2_3_1", TxID: "tx2"},
		mockRecords()[0],
	}
	assert.Error(memqdb.InsertRecoveryRecords(ctx, batch))

	recs, err := memqdb.ListRecoveryRecords(ctx)
	assert.NoError(err)
	assert.Len(recs, 1)
}

func TestMemqdbCommitDecision(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	memqdb, err := qdb.NewMemQDB("")
	assert.NoError(err)

	ok, err := memqdb.HasCommitDecision(ctx, "tx1")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(memqdb.RecordCommitDecision(ctx, "tx1"))
	ok, err = memqdb.HasCommitDecision(ctx, "tx1")
	assert.NoError(err)
	assert.True(ok)

	assert.NoError(memqdb.DeleteCommitDecision(ctx, "tx1"))
	ok, err = memqdb.HasCommitDecision(ctx, "tx1")
	assert.NoError(err)
	assert.False(ok)
}

func TestMemqdbOwnership(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()

	memqdb, err := qdb.NewMemQDB("")
	assert.NoError(err)

	ok, err := memqdb.AcquireTxOwnership(ctx, "tx1")
	assert.NoError(err)
	assert.True(ok)

	ok, err = memqdb.AcquireTxOwnership(ctx, "tx1")
	assert.NoError(err)
	assert.False(ok)

	owned, err := memqdb.IsTxOwned(ctx, "tx1")
	assert.NoError(err)
	assert.True(owned)

	assert.NoError(memqdb.ReleaseTxOwnership(ctx, "tx1"))
	owned, err = memqdb.IsTxOwned(ctx, "tx1")
	assert.NoError(err)
	assert.False(owned)
}

func TestMemqdbRestore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	backup := filepath.Join(t.TempDir(), "memqdb.json")

	memqdb, err := qdb.RestoreQDB(backup)
	assert.NoError(err)
	assert.NoError(memqdb.InsertRecoveryRecords(ctx, mockRecords()))
	assert.NoError(memqdb.RecordCommitDecision(ctx, "tx1"))
	_, err = memqdb.AcquireTxOwnership(ctx, "tx1")
	assert.NoError(err)

	restored, err := qdb.RestoreQDB(backup)
	assert.NoError(err)

	recs, err := restored.ListRecoveryRecords(ctx)
	assert.NoError(err)
	assert.Equal(mockRecords()[1], recs[0])
	assert.Equal(mockRecords()[0], recs[1])

	ok, err := restored.HasCommitDecision(ctx, "tx1")
	assert.NoError(err)
	assert.True(ok)

	owned, err := restored.IsTxOwned(ctx, "tx1")
	assert.NoError(err)
	assert.False(owned)
}

// must run with -race
func TestMemqdbRacing(t *testing.T) {
	memqdb, err := qdb.NewMemQDB("")
	assert.NoError(t, err)

	var wg sync.WaitGroup
	ctx := context.TODO()

	methods := []func(){
		func() { _ = memqdb.InsertRecoveryRecords(ctx, mockRecords()) },
		func() { _, _ = memqdb.ListRecoveryRecords(ctx) },
		func() { _ = memqdb.DeleteRecoveryRecord(ctx, 1, "citus_tx1_1_1") },
		func() { _ = memqdb.RecordCommitDecision(ctx, "tx1") },
		func() { _, _ = memqdb.HasCommitDecision(ctx, "tx1") },
		func() { _, _ = memqdb.AcquireTxOwnership(ctx, "tx1") },
		func() { _ = memqdb.ReleaseTxOwnership(ctx, "tx1") },
	}
	for i := 0; i < 10; i++ {
		for _, m := range methods {
			wg.Add(1)
			go func(m func()) {
				m()
				wg.Done()
			}(m)
		}
	}
	wg.Wait()
}
