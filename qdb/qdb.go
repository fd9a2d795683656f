package qdb

import (
	"context"

	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
)

// RecoveryLog is the durable state shared by the transaction manager and
// the recovery sweeper.
//
//go:generate mockgen -source=qdb/qdb.go -destination=pkg/mock/qdb/mock_qdb.go -package=mock_qdb
type RecoveryLog interface {
	// InsertRecoveryRecords stores all records or none of them.
	InsertRecoveryRecords(ctx context.Context, records []*RecoveryRecord) error
	// ListRecoveryRecords returns records ordered by group and gid.
	ListRecoveryRecords(ctx context.Context) ([]*RecoveryRecord, error)
	DeleteRecoveryRecord(ctx context.Context, groupID int32, gid string) error

	RecordCommitDecision(ctx context.Context, txID string) error
	HasCommitDecision(ctx context.Context, txID string) (bool, error)
	DeleteCommitDecision(ctx context.Context, txID string) error

	// AcquireTxOwnership reports false when txID is already owned by a live
	// coordinator session. Recovery skips owned transactions.
	AcquireTxOwnership(ctx context.Context, txID string) (bool, error)
	ReleaseTxOwnership(ctx context.Context, txID string) error
	IsTxOwned(ctx context.Context, txID string) (bool, error)
}

func NewRecoveryLog(cfg *config.Coordinator) (RecoveryLog, error) {
	switch cfg.QdbType {
	case config.QdbTypeEtcd:
		return NewEtcdQDB(cfg.QdbAddr)
	case config.QdbTypeMemory:
		return RestoreQDB(cfg.QdbBackupPath)
	default:
		return nil, coorderror.Newf(coorderror.COORD_INVALID_CONFIG, "qdb implementation %s is invalid", cfg.QdbType)
	}
}
