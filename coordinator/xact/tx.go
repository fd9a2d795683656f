package xact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pg-sharding/ddlcoord/coordinator/execmode"
	"github.com/pg-sharding/ddlcoord/coordinator/statistics"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
)

type remoteConn struct {
	target conn.Target
	c      conn.Conn
	seq    int

	inTx     bool
	prepared bool
	gid      string
	broken   bool
}

func (rc *remoteConn) participant() bool {
	return !rc.broken && (rc.inTx || rc.prepared)
}

// TxContext is the remote state of one top-level coordinator transaction.
// It is used by one session at a time.
type TxContext struct {
	mgr       *Manager
	id        string
	inTxBlock bool
	mode      *execmode.State

	fkDirty     bool
	fkChanged   bool
	requires2PC bool
	owned       bool
	failed      bool
	finished    bool

	conns    map[string][]*remoteConn
	opened   []*remoteConn
	affinity map[uint64]*remoteConn
	nextSeq  int
}

func (tx *TxContext) ID() string {
	return tx.id
}

func (tx *TxContext) InTransactionBlock() bool {
	return tx.inTxBlock
}

func (tx *TxContext) ExecutionMode() *execmode.State {
	return tx.mode
}

// MarkInvalidateForeignKeyGraph asks for the foreign key graph to be
// rebuilt once the local part of the statement is done.
func (tx *TxContext) MarkInvalidateForeignKeyGraph() {
	tx.fkDirty = true
}

// ConsumeInvalidateForeignKeyGraph returns the flag and clears it.
func (tx *TxContext) ConsumeInvalidateForeignKeyGraph() bool {
	dirty := tx.fkDirty
	tx.fkDirty = false
	if dirty {
		tx.fkChanged = true
	}
	return dirty
}

// ForeignKeyGraphChanged reports whether any statement of the transaction
// invalidated the foreign key graph.
func (tx *TxContext) ForeignKeyGraphChanged() bool {
	return tx.fkChanged
}

func (tx *TxContext) RequireTwoPhase() {
	tx.requires2PC = true
}

func (tx *TxContext) Failed() bool {
	return tx.failed
}

func (tx *TxContext) Finished() bool {
	return tx.finished
}

// ParticipantNodes lists nodes with an open remote transaction.
func (tx *TxContext) ParticipantNodes() []string {
	var ret []string
	seen := map[string]bool{}
	for _, rc := range tx.participants() {
		key := rc.target.NodeKey()
		if !seen[key] {
			seen[key] = true
			ret = append(ret, key)
		}
	}
	return ret
}

func (tx *TxContext) participants() []*remoteConn {
	var ret []*remoteConn
	for _, rc := range tx.opened {
		if rc.participant() {
			ret = append(ret, rc)
		}
	}
	return ret
}

func (tx *TxContext) checkUsable() error {
	if tx.finished {
		return coorderror.Newf(coorderror.COORD_UNEXPECTED, "transaction %s is already finished", tx.id)
	}
	if tx.failed {
		return coorderror.New(coorderror.COORD_TX_ABORTED,
			"current transaction is aborted, commands ignored until end of transaction block")
	}
	return nil
}

func (tx *TxContext) newConn(target conn.Target) *remoteConn {
	tx.nextSeq++
	rc := &remoteConn{target: target, seq: tx.nextSeq}
	key := target.NodeKey()
	tx.conns[key] = append(tx.conns[key], rc)
	tx.opened = append(tx.opened, rc)
	return rc
}

// nodeConn returns the first usable connection to target, opening a new one
// when there is none.
func (tx *TxContext) nodeConn(target conn.Target) *remoteConn {
	for _, rc := range tx.conns[target.NodeKey()] {
		if !rc.broken {
			return rc
		}
	}
	return tx.newConn(target)
}

func (tx *TxContext) open(ctx context.Context, rc *remoteConn) error {
	if rc.c != nil {
		return nil
	}
	c, err := tx.mgr.dialer.Connect(ctx, rc.target)
	if err != nil {
		rc.broken = true
		return err
	}
	rc.c = c
	statistics.ConnectionOpened()
	return nil
}

// exec runs sql on rc. When ctx is done first the statement is canceled on
// the server; a connection that cannot be canceled is closed.
func (tx *TxContext) exec(ctx context.Context, rc *remoteConn, sql string) error {
	coordlog.Zero.Debug().
		Str("tx", tx.id).
		Str("node", rc.target.NodeKey()).
		Int("conn", rc.seq).
		Str("query", sql).
		Msg("sending command to worker")

	t := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- rc.c.Exec(context.WithoutCancel(ctx), sql)
	}()

	select {
	case err := <-done:
		statistics.RecordTaskTime(rc.target.NodeKey(), time.Since(t))
		return err
	case <-ctx.Done():
	}

	tx.mgr.cancel(rc, done)
	return ctx.Err()
}

func (m *Manager) cancel(rc *remoteConn, done <-chan error) {
	cctx, cf := context.WithTimeout(context.Background(), m.s.CancelTimeout)
	defer cf()

	if err := rc.c.CancelRequest(cctx); err != nil {
		coordlog.Zero.Warn().
			Err(err).
			Str("node", rc.target.NodeKey()).
			Msg("cancel request failed, closing connection")
		m.kill(rc, done)
		return
	}

	select {
	case <-done:
	case <-cctx.Done():
		coordlog.Zero.Warn().
			Str("node", rc.target.NodeKey()).
			Msg("canceled statement did not finish in time, closing connection")
		m.kill(rc, done)
	}
}

// kill drops rc while its statement may still run. The socket goes first so
// that Exec returns; Close runs only once Exec is done with the connection.
func (m *Manager) kill(rc *remoteConn, done <-chan error) {
	if rc.broken {
		return
	}
	rc.broken = true
	if err := rc.c.Terminate(); err != nil {
		coordlog.Zero.Error().Err(err).Str("node", rc.target.NodeKey()).Msg("failed to terminate connection")
	}

	t := time.NewTimer(m.s.CancelTimeout)
	defer t.Stop()
	select {
	case <-done:
		if err := rc.c.Close(context.Background()); err != nil {
			coordlog.Zero.Debug().Err(err).Str("node", rc.target.NodeKey()).Msg("close after terminate")
		}
	case <-t.C:
		coordlog.Zero.Error().
			Str("node", rc.target.NodeKey()).
			Msg("statement still running on terminated connection, abandoning it")
	}
	statistics.ConnectionClosed()
}

func (tx *TxContext) runTransactional(ctx context.Context, rc *remoteConn, sql string) error {
	if err := tx.open(ctx, rc); err != nil {
		return err
	}
	if !rc.inTx {
		if err := tx.exec(ctx, rc, "BEGIN"); err != nil {
			return err
		}
		rc.inTx = true
	}
	return tx.exec(ctx, rc, sql)
}

func (tx *TxContext) ensureOwnership(ctx context.Context) error {
	if tx.owned {
		return nil
	}
	ok, err := tx.mgr.log.AcquireTxOwnership(ctx, tx.id)
	if err != nil {
		return err
	}
	if !ok {
		return coorderror.Newf(coorderror.COORD_UNEXPECTED, "distributed transaction %s is owned by another process", tx.id)
	}
	tx.owned = true
	return nil
}

type nodeError struct {
	node string
	err  error
}

// remoteError folds per-node failures into one error naming the first
// failing node.
func remoteError(failures []nodeError) error {
	first := failures[0]
	ce := coorderror.Wrap(coorderror.COORD_REMOTE_EXECUTION, errors.Wrapf(first.err, "error on node %s", first.node))
	if len(failures) > 1 {
		others := make([]string, 0, len(failures)-1)
		for _, f := range failures[1:] {
			others = append(others, fmt.Sprintf("%s: %s", f.node, f.err))
		}
		ce.WithDetail("Also failed on " + strings.Join(others, "; "))
	}
	return ce
}

// rollbackParticipants ends every remote transaction of tx without committing.
func (tx *TxContext) rollbackParticipants(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, rc := range tx.opened {
		if rc.broken || rc.c == nil {
			continue
		}
		var q string
		switch {
		case rc.prepared:
			q = fmt.Sprintf("ROLLBACK PREPARED '%s'", rc.gid)
		case rc.inTx:
			q = "ROLLBACK"
		default:
			continue
		}
		if err := tx.exec(ctx, rc, q); err != nil {
			coordlog.Zero.Warn().
				Err(err).
				Str("tx", tx.id).
				Str("node", rc.target.NodeKey()).
				Msg("failed to roll back remote transaction")
			if rc.prepared {
				continue
			}
		}
		rc.inTx, rc.prepared = false, false
	}
}

// fail aborts the remote side after an execution error. The session still
// has to end the transaction.
func (tx *TxContext) fail(ctx context.Context) {
	tx.rollbackParticipants(ctx)
	tx.closeConnections()
	tx.failed = true
}

func (tx *TxContext) closeConnections() {
	for _, rc := range tx.opened {
		if rc.c == nil || rc.broken {
			continue
		}
		if err := rc.c.Close(context.Background()); err != nil {
			coordlog.Zero.Error().Err(err).Str("node", rc.target.NodeKey()).Msg("failed to close connection")
		}
		rc.broken = true
		statistics.ConnectionClosed()
	}
	tx.conns = map[string][]*remoteConn{}
	tx.affinity = map[uint64]*remoteConn{}
	tx.opened = nil
}

func (tx *TxContext) finish(ctx context.Context) {
	tx.closeConnections()
	if tx.owned {
		if err := tx.mgr.log.ReleaseTxOwnership(context.WithoutCancel(ctx), tx.id); err != nil {
			coordlog.Zero.Error().Err(err).Str("tx", tx.id).Msg("failed to release transaction ownership")
		}
		tx.owned = false
	}
	tx.finished = true
}

// Abort rolls back every remote transaction. It is a no-op on a finished
// transaction.
func (tx *TxContext) Abort(ctx context.Context) {
	if tx.finished {
		return
	}
	coordlog.Zero.Debug().Str("tx", tx.id).Msg("abort coordinated transaction")

	tx.rollbackParticipants(ctx)
	tx.finish(ctx)
	statistics.RecordAbort()
}
