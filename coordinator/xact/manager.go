// Package xact drives the remote side of a coordinator transaction: it owns
// worker connections, runs task lists over them and commits them with one-
// or two-phase commit.
package xact

import (
	"time"

	"github.com/google/uuid"

	"github.com/pg-sharding/ddlcoord/coordinator/execmode"
	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/qdb"
)

const defaultCancelTimeout = 5 * time.Second

type Settings struct {
	CommitProtocol string
	// ForceTwoPhase prepares every participant even when only one was written.
	ForceTwoPhase bool
	GIDPrefix     string
	CancelTimeout time.Duration
	DefaultMode   execmode.Mode
}

func SettingsFromConfig(cfg *config.Coordinator) (Settings, error) {
	mode, err := execmode.ParseMode(cfg.MultiShardModifyMode)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		CommitProtocol: cfg.CommitProtocol,
		ForceTwoPhase:  cfg.ForceTwoPhaseCommit,
		GIDPrefix:      cfg.GIDPrefix,
		CancelTimeout:  cfg.CancelTimeout,
		DefaultMode:    mode,
	}, nil
}

type Manager struct {
	dialer  conn.Dialer
	log     qdb.RecoveryLog
	markers CommitMarkers
	s       Settings
}

type ManagerOption func(*Manager)

// WithCommitMarkers lets the manager drop the local commit marker of a
// transaction once every participant committed.
func WithCommitMarkers(markers CommitMarkers) ManagerOption {
	return func(m *Manager) {
		m.markers = markers
	}
}

func NewManager(dialer conn.Dialer, log qdb.RecoveryLog, s Settings, opts ...ManagerOption) *Manager {
	if s.CancelTimeout <= 0 {
		s.CancelTimeout = defaultCancelTimeout
	}
	if s.GIDPrefix == "" {
		s.GIDPrefix = config.DefaultGIDPrefix
	}
	if s.CommitProtocol == "" {
		s.CommitProtocol = config.CommitProtocol2PC
	}
	m := &Manager{dialer: dialer, log: log, s: s}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Settings() Settings {
	return m.s
}

// Begin starts the remote side of a top-level coordinator transaction.
// inTxBlock is true for an explicit BEGIN ... COMMIT block.
func (m *Manager) Begin(inTxBlock bool) (*TxContext, error) {
	uid7, err := uuid.NewV7()
	if err != nil {
		return nil, coorderror.Wrap(coorderror.COORD_UNEXPECTED, err)
	}

	tx := &TxContext{
		mgr:       m,
		id:        uid7.String(),
		inTxBlock: inTxBlock,
		mode:      execmode.NewState(m.s.DefaultMode),
		conns:     map[string][]*remoteConn{},
		affinity:  map[uint64]*remoteConn{},
	}

	coordlog.Zero.Debug().
		Str("tx", tx.id).
		Bool("block", inTxBlock).
		Str("mode", m.s.DefaultMode.String()).
		Msg("begin coordinated transaction")
	return tx, nil
}
