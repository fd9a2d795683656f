package qdb

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
)

// MemQDB keeps the recovery log in memory and optionally mirrors it to a
// JSON file. Ownership is tied to the process and is never persisted.
type MemQDB struct {
	mu sync.RWMutex

	Records   map[string]*RecoveryRecord `json:"records"`
	Decisions map[string]*CommitDecision `json:"decisions"`

	owners     map[string]bool
	backupPath string
}

var _ RecoveryLog = &MemQDB{}

func NewMemQDB(backupPath string) (*MemQDB, error) {
	return &MemQDB{
		Records:   map[string]*RecoveryRecord{},
		Decisions: map[string]*CommitDecision{},

		owners:     map[string]bool{},
		backupPath: backupPath,
	}, nil
}

func RestoreQDB(backupPath string) (*MemQDB, error) {
	qdb, err := NewMemQDB(backupPath)
	if err != nil {
		return nil, err
	}
	if backupPath == "" {
		return qdb, nil
	}
	if _, err := os.Stat(backupPath); err != nil {
		coordlog.Zero.Info().Err(err).Msg("memqdb backup file not exists. Creating new one.")
		f, err := os.Create(backupPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return qdb, nil
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return qdb, nil
	}
	if err := json.Unmarshal(data, qdb); err != nil {
		return nil, coorderror.Wrap(coorderror.COORD_METADATA_CORRUPTION, err)
	}
	if qdb.Records == nil {
		qdb.Records = map[string]*RecoveryRecord{}
	}
	if qdb.Decisions == nil {
		qdb.Decisions = map[string]*CommitDecision{}
	}
	return qdb, nil
}

func (q *MemQDB) DumpState() error {
	if q.backupPath == "" {
		return nil
	}
	tmpPath := q.backupPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	state, err := json.MarshalIndent(q, "", "	")
	if err != nil {
		return err
	}

	if _, err := f.Write(state); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	f.Close()

	return os.Rename(tmpPath, q.backupPath)
}

// ==============================================================================
//                               RECOVERY RECORDS
// ==============================================================================

func (q *MemQDB) InsertRecoveryRecords(_ context.Context, records []*RecoveryRecord) error {
	coordlog.Zero.Debug().Int("count", len(records)).Msg("memqdb: insert recovery records")
	q.mu.Lock()
	defer q.mu.Unlock()

	commands := make([]Command, 0, len(records))
	for _, r := range records {
		commands = append(commands, NewInsertCommand(q.Records, r.Key(), r))
	}
	return ExecuteCommands(q.DumpState, commands...)
}

func (q *MemQDB) ListRecoveryRecords(_ context.Context) ([]*RecoveryRecord, error) {
	coordlog.Zero.Debug().Msg("memqdb: list recovery records")
	q.mu.RLock()
	defer q.mu.RUnlock()

	ret := make([]*RecoveryRecord, 0, len(q.Records))
	for _, r := range q.Records {
		cp := *r
		ret = append(ret, &cp)
	}
	sortRecords(ret)
	return ret, nil
}

func (q *MemQDB) DeleteRecoveryRecord(_ context.Context, groupID int32, gid string) error {
	coordlog.Zero.Debug().
		Int32("group", groupID).
		Str("gid", gid).
		Msg("memqdb: delete recovery record")
	q.mu.Lock()
	defer q.mu.Unlock()

	return ExecuteCommands(q.DumpState, NewDeleteCommand(q.Records, recordKey(groupID, gid)))
}

// ==============================================================================
//                               COMMIT DECISIONS
// ==============================================================================

func (q *MemQDB) RecordCommitDecision(_ context.Context, txID string) error {
	coordlog.Zero.Debug().Str("tx", txID).Msg("memqdb: record commit decision")
	q.mu.Lock()
	defer q.mu.Unlock()

	return ExecuteCommands(q.DumpState, NewUpdateCommand(q.Decisions, txID, &CommitDecision{TxID: txID}))
}

func (q *MemQDB) HasCommitDecision(_ context.Context, txID string) (bool, error) {
	coordlog.Zero.Debug().Str("tx", txID).Msg("memqdb: check commit decision")
	q.mu.RLock()
	defer q.mu.RUnlock()

	_, ok := q.Decisions[txID]
	return ok, nil
}

func (q *MemQDB) DeleteCommitDecision(_ context.Context, txID string) error {
	coordlog.Zero.Debug().Str("tx", txID).Msg("memqdb: delete commit decision")
	q.mu.Lock()
	defer q.mu.Unlock()

	return ExecuteCommands(q.DumpState, NewDeleteCommand(q.Decisions, txID))
}

// ==============================================================================
//                               TX OWNERSHIP
// ==============================================================================

func (q *MemQDB) AcquireTxOwnership(_ context.Context, txID string) (bool, error) {
	coordlog.Zero.Debug().Str("tx", txID).Msg("memqdb: acquire tx ownership")
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.owners[txID] {
		return false, nil
	}
	q.owners[txID] = true
	return true, nil
}

func (q *MemQDB) ReleaseTxOwnership(_ context.Context, txID string) error {
	coordlog.Zero.Debug().Str("tx", txID).Msg("memqdb: release tx ownership")
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.owners, txID)
	return nil
}

func (q *MemQDB) IsTxOwned(_ context.Context, txID string) (bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.owners[txID], nil
}
