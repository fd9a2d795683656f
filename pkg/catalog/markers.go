package catalog

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
)

// InsertCommitMarker is run by the local engine inside the transaction it
// is about to commit. The row becomes visible iff that transaction commits.
const InsertCommitMarker = `INSERT INTO pg_dist_commit_marker (txid) VALUES ($1)`

func (d *PgDirectory) TransactionCommitted(ctx context.Context, txID string) (bool, error) {
	var ok bool
	if err := d.q.QueryRow(ctx, queryCommitMarkerExists, txID).Scan(&ok); err != nil {
		return false, errors.Wrapf(err, "failed to read commit marker of %s", txID)
	}
	return ok, nil
}

func (d *PgDirectory) ForgetTransaction(ctx context.Context, txID string) error {
	coordlog.Zero.Debug().Str("tx", txID).Msg("pgdirectory: forget commit marker")
	_, err := d.q.Exec(ctx, queryDeleteCommitMarker, txID)
	return err
}

// MarkTransactionCommitted stands in for the engine writing
// InsertCommitMarker in a committed local transaction.
func (d *MemDirectory) MarkTransactionCommitted(txID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.committed[txID] = true
}

func (d *MemDirectory) TransactionCommitted(_ context.Context, txID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.committed[txID], nil
}

func (d *MemDirectory) ForgetTransaction(_ context.Context, txID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.committed, txID)
	return nil
}
