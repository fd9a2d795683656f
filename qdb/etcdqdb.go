package qdb

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pg-sharding/ddlcoord/coordinator/statistics"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/clientv3util"
	"go.etcd.io/etcd/client/v3/concurrency"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	retry "github.com/sethvargo/go-retry"
)

type EtcdQDB struct {
	cli *clientv3.Client

	mu   sync.Mutex
	sess *concurrency.Session
}

var _ RecoveryLog = &EtcdQDB{}

func NewEtcdQDB(addr string) (*EtcdQDB, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{addr},
		DialTimeout: 5 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		return nil, coorderror.Wrap(coorderror.COORD_CONNECTION_ERROR, err)
	}

	coordlog.Zero.Debug().
		Str("address", addr).
		Msg("etcdqdb: NewEtcdQDB")

	return &EtcdQDB{
		cli: cli,
	}, nil
}

const (
	recoveryRecordsNamespace = "/recovery_records/"
	txDecisionsNamespace     = "/tx_decisions/"
	txOwnersNamespace        = "/tx_owners/"

	CoordKeepAliveTtl = 3
)

func recoveryRecordNodePath(groupID int32, gid string) string {
	return path.Join(recoveryRecordsNamespace, strconv.Itoa(int(groupID)), gid)
}

func txDecisionNodePath(txID string) string {
	return path.Join(txDecisionsNamespace, txID)
}

func txOwnerNodePath(txID string) string {
	return path.Join(txOwnersNamespace, txID)
}

func (q *EtcdQDB) Client() *clientv3.Client {
	return q.cli
}

func (q *EtcdQDB) Close() error {
	q.mu.Lock()
	if q.sess != nil {
		closeSession(q.sess)
		q.sess = nil
	}
	q.mu.Unlock()
	return q.cli.Close()
}

// session returns the lease session that scopes ownership keys to this
// process lifetime.
func (q *EtcdQDB) session() (*concurrency.Session, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sess != nil {
		select {
		case <-q.sess.Done():
			q.sess = nil
		default:
			return q.sess, nil
		}
	}
	sess, err := concurrency.NewSession(q.cli, concurrency.WithTTL(CoordKeepAliveTtl))
	if err != nil {
		return nil, err
	}
	q.sess = sess
	return sess, nil
}

// ==============================================================================
//                               RECOVERY RECORDS
// ==============================================================================

func (q *EtcdQDB) InsertRecoveryRecords(ctx context.Context, records []*RecoveryRecord) error {
	coordlog.Zero.Debug().
		Int("count", len(records)).
		Msg("etcdqdb: insert recovery records")

	t := time.Now()
	defer func() { statistics.RecordQDBOperation("InsertRecoveryRecords", time.Since(t)) }()

	if len(records) == 0 {
		return nil
	}

	cmps := make([]clientv3.Cmp, 0, len(records))
	ops := make([]clientv3.Op, 0, len(records))
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		key := recoveryRecordNodePath(r.GroupID, r.GID)
		cmps = append(cmps, clientv3util.KeyMissing(key))
		ops = append(ops, clientv3.OpPut(key, string(raw)))
	}

	resp, err := q.cli.Txn(ctx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return coorderror.New(coorderror.COORD_METADATA_CORRUPTION, "recovery record already exists")
	}

	coordlog.Zero.Debug().
		Int64("revision", resp.Header.Revision).
		Msg("etcdqdb: recovery records stored")
	return nil
}

func (q *EtcdQDB) ListRecoveryRecords(ctx context.Context) ([]*RecoveryRecord, error) {
	coordlog.Zero.Debug().Msg("etcdqdb: list recovery records")

	t := time.Now()
	defer func() { statistics.RecordQDBOperation("ListRecoveryRecords", time.Since(t)) }()

	resp, err := q.cli.Get(ctx, recoveryRecordsNamespace, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	ret := make([]*RecoveryRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		r := &RecoveryRecord{}
		if err := json.Unmarshal(kv.Value, r); err != nil {
			return nil, coorderror.Newf(coorderror.COORD_METADATA_CORRUPTION, "malformed recovery record at %s: %s", kv.Key, err)
		}
		ret = append(ret, r)
	}
	sortRecords(ret)
	return ret, nil
}

func (q *EtcdQDB) DeleteRecoveryRecord(ctx context.Context, groupID int32, gid string) error {
	coordlog.Zero.Debug().
		Int32("group", groupID).
		Str("gid", gid).
		Msg("etcdqdb: delete recovery record")

	t := time.Now()
	defer func() { statistics.RecordQDBOperation("DeleteRecoveryRecord", time.Since(t)) }()

	_, err := q.cli.Delete(ctx, recoveryRecordNodePath(groupID, gid))
	return err
}

// ==============================================================================
//                               COMMIT DECISIONS
// ==============================================================================

// RecordCommitDecision retries: once the local transaction committed, losing
// the decision turns a commit into a rollback on recovery.
func (q *EtcdQDB) RecordCommitDecision(ctx context.Context, txID string) error {
	coordlog.Zero.Debug().
		Str("tx", txID).
		Msg("etcdqdb: record commit decision")

	t := time.Now()
	defer func() { statistics.RecordQDBOperation("RecordCommitDecision", time.Since(t)) }()

	raw, err := json.Marshal(&CommitDecision{TxID: txID})
	if err != nil {
		return err
	}
	return retry.Do(ctx, retry.WithMaxRetries(7, retry.NewFibonacci(500*time.Millisecond)), func(ctx context.Context) error {
		if _, err := q.cli.Put(ctx, txDecisionNodePath(txID), string(raw)); err != nil {
			coordlog.Zero.Warn().Err(err).Str("tx", txID).Msg("etcdqdb: commit decision put failed, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (q *EtcdQDB) HasCommitDecision(ctx context.Context, txID string) (bool, error) {
	coordlog.Zero.Debug().
		Str("tx", txID).
		Msg("etcdqdb: check commit decision")

	t := time.Now()
	defer func() { statistics.RecordQDBOperation("HasCommitDecision", time.Since(t)) }()

	resp, err := q.cli.Get(ctx, txDecisionNodePath(txID), clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	switch resp.Count {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, coorderror.Newf(coorderror.COORD_METADATA_CORRUPTION, "possible data corruption: multiple decisions found for %v", txID)
	}
}

func (q *EtcdQDB) DeleteCommitDecision(ctx context.Context, txID string) error {
	coordlog.Zero.Debug().
		Str("tx", txID).
		Msg("etcdqdb: delete commit decision")

	t := time.Now()
	defer func() { statistics.RecordQDBOperation("DeleteCommitDecision", time.Since(t)) }()

	_, err := q.cli.Delete(ctx, txDecisionNodePath(txID))
	return err
}

// ==============================================================================
//                               TX OWNERSHIP
// ==============================================================================

func (q *EtcdQDB) AcquireTxOwnership(ctx context.Context, txID string) (bool, error) {
	coordlog.Zero.Debug().
		Str("tx", txID).
		Msg("etcdqdb: acquire tx ownership")

	t := time.Now()
	defer func() { statistics.RecordQDBOperation("AcquireTxOwnership", time.Since(t)) }()

	sess, err := q.session()
	if err != nil {
		return false, err
	}

	key := txOwnerNodePath(txID)
	op := clientv3.OpPut(key, strconv.FormatInt(int64(sess.Lease()), 16), clientv3.WithLease(sess.Lease()))
	stat, err := q.cli.Txn(ctx).If(clientv3util.KeyMissing(key)).Then(op).Commit()
	if err != nil {
		coordlog.Zero.Error().Err(err).Msg("etcdqdb: failed to commit tx ownership")
		return false, err
	}
	return stat.Succeeded, nil
}

func (q *EtcdQDB) ReleaseTxOwnership(ctx context.Context, txID string) error {
	coordlog.Zero.Debug().
		Str("tx", txID).
		Msg("etcdqdb: release tx ownership")

	t := time.Now()
	defer func() { statistics.RecordQDBOperation("ReleaseTxOwnership", time.Since(t)) }()

	_, err := q.cli.Delete(ctx, txOwnerNodePath(txID))
	return err
}

func (q *EtcdQDB) IsTxOwned(ctx context.Context, txID string) (bool, error) {
	resp, err := q.cli.Get(ctx, txOwnerNodePath(txID), clientv3.WithCountOnly())
	if err != nil {
		return false, err
	}
	return resp.Count > 0, nil
}
