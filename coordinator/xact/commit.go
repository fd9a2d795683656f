package xact

import (
	"context"
	"fmt"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pg-sharding/ddlcoord/coordinator/statistics"
	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/qdb"
)

// LocalCommit commits the coordinator's own transaction. When it is the
// commit point of a two-phase commit, decision is the distributed
// transaction id and the local transaction must write its commit marker
// (see CommitMarkers) before committing. Otherwise decision is empty.
type LocalCommit func(ctx context.Context, decision string) error

// CommitMarkers reads the commit markers that LocalCommit writes into the
// local engine. A marker exists iff the local transaction committed.
type CommitMarkers interface {
	TransactionCommitted(ctx context.Context, txID string) (bool, error)
	ForgetTransaction(ctx context.Context, txID string) error
}

// useTwoPhase decides by the number of distinct remote nodes written.
func (tx *TxContext) useTwoPhase(participants []*remoteConn) bool {
	if tx.mgr.s.ForceTwoPhase {
		return true
	}
	if distinctNodes(participants) < 2 {
		return false
	}
	return tx.mgr.s.CommitProtocol == config.CommitProtocol2PC || tx.requires2PC
}

func distinctNodes(participants []*remoteConn) int {
	nodes := map[string]struct{}{}
	for _, rc := range participants {
		nodes[rc.target.NodeKey()] = struct{}{}
	}
	return len(nodes)
}

// Commit finishes the coordinated transaction. Remote participants commit
// with one-phase commit when a single remote node was written, otherwise
// with two-phase commit around localCommit. A nil localCommit means there is
// no local transaction.
func (tx *TxContext) Commit(ctx context.Context, localCommit LocalCommit) error {
	if tx.finished {
		return coorderror.Newf(coorderror.COORD_UNEXPECTED, "transaction %s is already finished", tx.id)
	}
	if tx.failed {
		tx.finish(ctx)
		statistics.RecordAbort()
		return coorderror.New(coorderror.COORD_TX_ABORTED,
			"current transaction is aborted, commands ignored until end of transaction block")
	}
	defer tx.finish(ctx)

	span := opentracing.StartSpan("commit")
	defer span.Finish()
	span.SetTag("tx", tx.id)

	participants := tx.participants()
	span.SetTag("participants", len(participants))
	if len(participants) == 0 {
		if localCommit == nil {
			return nil
		}
		return localCommit(ctx, "")
	}

	if tx.useTwoPhase(participants) {
		span.SetTag("protocol", config.CommitProtocol2PC)
		return tx.commitTwoPhase(ctx, participants, localCommit)
	}
	span.SetTag("protocol", config.CommitProtocol1PC)
	return tx.commitOnePhase(ctx, participants, localCommit)
}

func (tx *TxContext) commitOnePhase(ctx context.Context, participants []*remoteConn, localCommit LocalCommit) error {
	var failures []nodeError
	for _, rc := range participants {
		if err := tx.exec(ctx, rc, "COMMIT"); err != nil {
			failures = append(failures, nodeError{node: rc.target.NodeKey(), err: err})
			continue
		}
		rc.inTx = false
	}
	if len(failures) > 0 {
		tx.rollbackParticipants(ctx)
		statistics.RecordAbort()
		return remoteError(failures)
	}

	if localCommit != nil {
		if err := localCommit(ctx, ""); err != nil {
			statistics.RecordAbort()
			return err
		}
	}
	statistics.RecordCommit(config.CommitProtocol1PC)
	return nil
}

// prepareAll sends PREPARE TRANSACTION to every participant in parallel.
func (tx *TxContext) prepareAll(ctx context.Context, participants []*remoteConn) error {
	var mu sync.Mutex
	var failures []nodeError

	g, gctx := errgroup.WithContext(ctx)
	for _, rc := range participants {
		rc.gid = FormatGID(tx.mgr.s.GIDPrefix, tx.id, rc.target.GroupID, rc.seq)
		g.Go(func() error {
			err := tx.exec(gctx, rc, fmt.Sprintf("PREPARE TRANSACTION '%s'", rc.gid))
			if err != nil {
				rc.inTx = false
				if isCancellation(err) {
					// outcome unknown, try to roll it back as prepared
					rc.prepared = true
					return err
				}
				mu.Lock()
				failures = append(failures, nodeError{node: rc.target.NodeKey(), err: err})
				mu.Unlock()
				return err
			}
			rc.inTx, rc.prepared = false, true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if len(failures) == 0 {
			failures = append(failures, nodeError{node: "coordinator", err: err})
		}
		return coorderror.Wrap(coorderror.COORD_PREPARE_FAILED, remoteError(failures))
	}
	return nil
}

var errOutcomeUnknown = errors.New("commit outcome is unknown")

// decide reaches the commit point. With a local transaction and commit
// markers the commit point is the local commit, which carries the marker;
// the logged decision is only a copy for sweepers without access to the
// local engine. Otherwise the logged decision is the commit point itself.
func (tx *TxContext) decide(ctx context.Context, localCommit LocalCommit) (bool, error) {
	log := tx.mgr.log
	dctx := context.WithoutCancel(ctx)

	if localCommit != nil && tx.mgr.markers != nil {
		if err := localCommit(ctx, tx.id); err != nil {
			return false, err
		}
		if err := log.RecordCommitDecision(dctx, tx.id); err != nil {
			coordlog.Zero.Warn().
				Err(err).
				Str("tx", tx.id).
				Msg("failed to copy commit decision to recovery log, recovery relies on the local marker")
			return false, nil
		}
		return true, nil
	}

	if err := log.RecordCommitDecision(dctx, tx.id); err != nil {
		// the write may still have landed
		if derr := log.DeleteCommitDecision(dctx, tx.id); derr != nil {
			coordlog.Zero.Error().
				Err(derr).
				Str("tx", tx.id).
				Msg("could not tell whether commit decision was recorded, leaving prepared transactions to recovery")
			return false, coorderror.Wrap(coorderror.COORD_UNEXPECTED, errors.Wrap(errOutcomeUnknown, err.Error())).
				WithDetail(fmt.Sprintf("Distributed transaction %s is resolved by transaction recovery.", tx.id))
		}
		return false, err
	}
	if localCommit != nil {
		if err := localCommit(ctx, ""); err != nil {
			coordlog.Zero.Error().
				Err(err).
				Str("tx", tx.id).
				Msg("local commit failed after the distributed commit point")
		}
	}
	return true, nil
}

func (tx *TxContext) forgetDecision(ctx context.Context, logged, marked bool) {
	ctx = context.WithoutCancel(ctx)
	if logged {
		if err := tx.mgr.log.DeleteCommitDecision(ctx, tx.id); err != nil {
			coordlog.Zero.Warn().Err(err).Str("tx", tx.id).Msg("failed to delete commit decision")
		}
	}
	if marked && tx.mgr.markers != nil {
		if err := tx.mgr.markers.ForgetTransaction(ctx, tx.id); err != nil {
			coordlog.Zero.Warn().Err(err).Str("tx", tx.id).Msg("failed to delete commit marker")
		}
	}
}

func (tx *TxContext) commitTwoPhase(ctx context.Context, participants []*remoteConn, localCommit LocalCommit) error {
	log := tx.mgr.log

	if err := tx.ensureOwnership(ctx); err != nil {
		tx.rollbackParticipants(ctx)
		return err
	}

	if err := tx.prepareAll(ctx, participants); err != nil {
		coordlog.Zero.Info().Err(err).Str("tx", tx.id).Msg("prepare phase failed, rolling back")
		tx.rollbackParticipants(ctx)
		statistics.RecordAbort()
		return err
	}

	records := make([]*qdb.RecoveryRecord, 0, len(participants))
	for _, rc := range participants {
		records = append(records, &qdb.RecoveryRecord{
			GroupID:  rc.target.GroupID,
			GID:      rc.gid,
			TxID:     tx.id,
			NodeHost: rc.target.Host,
			NodePort: rc.target.Port,
		})
	}

	// records must be durable before the local commit
	if err := log.InsertRecoveryRecords(ctx, records); err != nil {
		tx.rollbackParticipants(ctx)
		statistics.RecordAbort()
		return err
	}

	logged, err := tx.decide(ctx, localCommit)
	if err != nil {
		if errors.Is(err, errOutcomeUnknown) {
			return err
		}
		tx.rollbackParticipants(ctx)
		tx.deleteRecords(ctx, records)
		statistics.RecordAbort()
		return err
	}

	coordlog.Zero.Info().Str("tx", tx.id).Int("participants", len(participants)).Msg("first phase succeeded")

	if tx.commitPrepared(ctx, participants) {
		tx.forgetDecision(ctx, logged, localCommit != nil && tx.mgr.markers != nil)
	}

	statistics.RecordCommit(config.CommitProtocol2PC)
	return nil
}

// commitPrepared sends COMMIT PREPARED everywhere. Failures leave their
// recovery records behind for the sweeper.
func (tx *TxContext) commitPrepared(ctx context.Context, participants []*remoteConn) bool {
	ctx = context.WithoutCancel(ctx)

	var mu sync.Mutex
	complete := true

	var g errgroup.Group
	for _, rc := range participants {
		g.Go(func() error {
			if err := tx.exec(ctx, rc, fmt.Sprintf("COMMIT PREPARED '%s'", rc.gid)); err != nil {
				coordlog.Zero.Warn().
					Err(err).
					Str("tx", tx.id).
					Str("node", rc.target.NodeKey()).
					Str("gid", rc.gid).
					Msg("failed to commit prepared transaction, leaving it to recovery")
				mu.Lock()
				complete = false
				mu.Unlock()
				return nil
			}
			rc.prepared = false

			coordlog.Zero.Debug().
				Str("tx", tx.id).
				Str("node", rc.target.NodeKey()).
				Str("gid", rc.gid).
				Msg("committed on node")

			if err := tx.mgr.log.DeleteRecoveryRecord(ctx, rc.target.GroupID, rc.gid); err != nil {
				coordlog.Zero.Warn().Err(err).Str("gid", rc.gid).Msg("failed to delete recovery record")
				mu.Lock()
				complete = false
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return complete
}

func (tx *TxContext) deleteRecords(ctx context.Context, records []*qdb.RecoveryRecord) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range records {
		if err := tx.mgr.log.DeleteRecoveryRecord(ctx, r.GroupID, r.GID); err != nil {
			coordlog.Zero.Warn().Err(err).Str("gid", r.GID).Msg("failed to delete recovery record")
		}
	}
}
